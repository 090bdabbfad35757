package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/metromessages/metromsg/internal/config"
	"github.com/metromessages/metromsg/internal/session"
)

func main() {
	addrFlag := flag.String("addr", "", "daemon API address (overrides config)")
	jsonFlag := flag.Bool("json", false, "output raw JSON")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	c := newClient(*addrFlag)

	switch args[0] {
	case "status":
		cmdStatus(c, *jsonFlag)
	case "conversations":
		cmdConversations(c, *jsonFlag)
	case "messages":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: metroctl messages <conversation-id>")
			os.Exit(1)
		}
		cmdMessages(c, args[1], *jsonFlag)
	case "contacts":
		cmdContacts(c, args[1:], *jsonFlag)
	case "send":
		if len(args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: metroctl send <address> <body>")
			os.Exit(1)
		}
		cmdSend(c, args[1], args[2])
	case "search":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: metroctl search <query>")
			os.Exit(1)
		}
		cmdSearch(c, args[1], *jsonFlag)
	case "broadcast":
		if len(args) < 4 {
			fmt.Fprintln(os.Stderr, "usage: metroctl broadcast <action> <address> <body>")
			os.Exit(1)
		}
		cmdBroadcast(c, args[1], args[2], args[3])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: metroctl [--addr <host:port>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status                           Show daemon status")
	fmt.Fprintln(os.Stderr, "  conversations                    List conversations")
	fmt.Fprintln(os.Stderr, "  messages <conversation-id>       List messages in a conversation")
	fmt.Fprintln(os.Stderr, "  contacts [query]                 List or search unified contacts")
	fmt.Fprintln(os.Stderr, "  send <address> <body>            Queue an outbound message")
	fmt.Fprintln(os.Stderr, "  search <query>                   Full-text message search")
	fmt.Fprintln(os.Stderr, "  broadcast <action> <addr> <body> Inject a test broadcast")
}

type client struct {
	base string
	http *http.Client
}

func newClient(addr string) *client {
	if addr == "" {
		if cfg, err := config.Load(session.ConfigPath()); err == nil {
			addr = cfg.Daemon.Listen
		} else {
			addr = config.DefaultListenAddr
		}
	}
	return &client{
		base: "http://" + addr,
		http: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *client) get(path string, into any) {
	resp, err := c.http.Get(c.base + path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot reach daemon at %s: %v\n", c.base, err)
		os.Exit(1)
	}
	c.decode(resp, into)
}

func (c *client) post(path string, body any, into any) {
	buf, err := json.Marshal(body)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	resp, err := c.http.Post(c.base+path, "application/json", bytes.NewReader(buf))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot reach daemon at %s: %v\n", c.base, err)
		os.Exit(1)
	}
	c.decode(resp, into)
}

func (c *client) decode(resp *http.Response, into any) {
	defer func() { _ = resp.Body.Close() }()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if resp.StatusCode >= 400 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(raw, &e)
		if e.Error == "" {
			e.Error = resp.Status
		}
		fmt.Fprintf(os.Stderr, "error: %s\n", e.Error)
		os.Exit(1)
	}
	if into != nil {
		if err := json.Unmarshal(raw, into); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
	}
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func cmdStatus(c *client, jsonOut bool) {
	var resp map[string]any
	c.get("/v1/status", &resp)
	if jsonOut {
		outputJSON(resp)
		return
	}
	fmt.Printf("State:         %v\n", resp["state"])
	fmt.Printf("Default:       %v\n", resp["default"])
	fmt.Printf("Cache:         %v\n", resp["cache_state"])
	fmt.Printf("Conversations: %v\n", resp["conversations"])
	fmt.Printf("Messages:      %v\n", resp["messages"])
	fmt.Printf("Contacts:      %v\n", resp["contacts"])
}

func cmdConversations(c *client, jsonOut bool) {
	var resp struct {
		Conversations []struct {
			ID           string `json:"id"`
			Address      string `json:"address"`
			DisplayName  string `json:"display_name"`
			LastBody     string `json:"last_body"`
			UnreadCount  int    `json:"unread_count"`
			LastActivity int64  `json:"last_activity"`
		} `json:"conversations"`
	}
	c.get("/v1/conversations", &resp)
	if jsonOut {
		outputJSON(resp)
		return
	}
	for _, cv := range resp.Conversations {
		name := cv.DisplayName
		if name == "" {
			name = cv.Address
		}
		marker := " "
		if cv.UnreadCount > 0 {
			marker = "*"
		}
		fmt.Printf("%s %-12s %-20s %s\n", marker, cv.ID, name, cv.LastBody)
	}
}

func cmdMessages(c *client, conversationID string, jsonOut bool) {
	var resp struct {
		Messages []struct {
			Direction string `json:"direction"`
			Body      string `json:"body"`
			Status    string `json:"status"`
			Timestamp int64  `json:"timestamp"`
		} `json:"messages"`
	}
	c.get("/v1/conversations/"+url.PathEscape(conversationID)+"/messages", &resp)
	if jsonOut {
		outputJSON(resp)
		return
	}
	for _, m := range resp.Messages {
		arrow := "<-"
		if m.Direction == "out" {
			arrow = "->"
		}
		ts := time.UnixMilli(m.Timestamp).Format("2006-01-02 15:04")
		fmt.Printf("%s %s [%s] %s\n", ts, arrow, m.Status, m.Body)
	}
}

func cmdContacts(c *client, args []string, jsonOut bool) {
	path := "/v1/contacts"
	if len(args) > 0 {
		path += "?q=" + url.QueryEscape(args[0])
	}
	var resp struct {
		Contacts []struct {
			ID          int64  `json:"id"`
			DisplayName string `json:"display_name"`
			Phone       string `json:"phone"`
			Starred     bool   `json:"starred"`
			HasThread   bool   `json:"has_thread"`
			HasUnread   bool   `json:"has_unread"`
		} `json:"contacts"`
	}
	c.get(path, &resp)
	if jsonOut {
		outputJSON(resp)
		return
	}
	for _, ct := range resp.Contacts {
		star := " "
		if ct.Starred {
			star = "★"
		}
		thread := ""
		if ct.HasThread {
			thread = "thread"
			if ct.HasUnread {
				thread = "unread"
			}
		}
		fmt.Printf("%s %4d %-24s %-14s %s\n", star, ct.ID, ct.DisplayName, ct.Phone, thread)
	}
}

func cmdSend(c *client, address, body string) {
	var resp struct {
		ClientMsgID string `json:"client_msg_id"`
	}
	c.post("/v1/messages", map[string]string{"address": address, "body": body}, &resp)
	fmt.Printf("queued %s\n", resp.ClientMsgID)
}

func cmdSearch(c *client, query string, jsonOut bool) {
	var resp struct {
		Results []struct {
			Message struct {
				ConversationID string `json:"conversation_id"`
				Body           string `json:"body"`
			} `json:"message"`
			Snippet string `json:"snippet"`
		} `json:"results"`
	}
	c.get("/v1/search?q="+url.QueryEscape(query), &resp)
	if jsonOut {
		outputJSON(resp)
		return
	}
	for _, r := range resp.Results {
		fmt.Printf("%-12s %s\n", r.Message.ConversationID, r.Snippet)
	}
}

func cmdBroadcast(c *client, action, address, body string) {
	req := map[string]any{
		"action": action,
		"fragments": []map[string]any{
			{"address": address, "body": body, "timestamp": time.Now().UnixMilli()},
		},
	}
	var resp struct {
		Suppressed bool `json:"suppressed"`
	}
	c.post("/v1/broadcasts", req, &resp)
	fmt.Printf("delivered (suppressed=%v)\n", resp.Suppressed)
}
