package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/metromessages/metromsg/internal/api"
	"github.com/metromessages/metromsg/internal/bus"
	"github.com/metromessages/metromsg/internal/config"
	"github.com/metromessages/metromsg/internal/ingest"
	"github.com/metromessages/metromsg/internal/lock"
	"github.com/metromessages/metromsg/internal/sms"
	"github.com/metromessages/metromsg/internal/status"
	"github.com/metromessages/metromsg/internal/store"
	"github.com/metromessages/metromsg/internal/unified"
	"go.uber.org/zap"
)

// TestDaemonLifecycle assembles the daemon by hand, serves the API on an
// ephemeral port and drives it over real HTTP.
func TestDaemonLifecycle(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "metromsg-test-*")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	sessionDir := filepath.Join(tmpDir, "test")
	if err := os.MkdirAll(sessionDir, 0700); err != nil {
		t.Fatal(err)
	}

	lk, err := lock.Acquire(sessionDir)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = lk.Release() }()

	db, err := store.Open(filepath.Join(sessionDir, "metromsg.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()

	logger := zap.NewNop()
	b := bus.New()
	machine := status.NewMachine(b)
	resolver := sms.NewResolver(db, logger)
	classifier := sms.NewClassifier(machine, sms.PayloadExtractor{}, resolver, b, logger)
	reconciler := ingest.NewReconciler(db, logger)
	engine := ingest.NewEngine(db, b, reconciler, logger)
	cache := unified.NewCache(db, db, b, logger)
	apiSrv := api.NewServer(db, cache, classifier, machine, reconciler, b, logger)

	srv, err := NewServer(Params{SessionName: "test", ListenAddr: "127.0.0.1:0"}, config.Default(), apiSrv, logger)
	if err != nil {
		t.Fatal(err)
	}

	engine.Start(context.Background())
	defer engine.Stop()
	cache.Start(context.Background())
	defer cache.Stop()

	go func() { _ = srv.Start() }()
	defer srv.Stop(context.Background())
	time.Sleep(50 * time.Millisecond)

	base := "http://" + srv.Addr()

	// Status reports BOOTING before any role transition.
	var statusResp struct {
		State   string `json:"state"`
		Default bool   `json:"default"`
	}
	getJSON(t, base+"/v1/status", &statusResp)
	if statusResp.State != "BOOTING" || statusResp.Default {
		t.Errorf("status = %+v, want BOOTING non-default", statusResp)
	}

	// Take the default role, then deliver a broadcast end to end.
	if err := machine.Transition(status.Default); err != nil {
		t.Fatal(err)
	}

	resp, err := http.Post(base+"/v1/broadcasts", "application/json", strings.NewReader(`{
		"action": "sms.deliver",
		"fragments": [{"address": "555-1234", "body": "hello daemon", "timestamp": 1000}]
	}`))
	if err != nil {
		t.Fatal(err)
	}
	var disp struct {
		Suppressed bool `json:"suppressed"`
	}
	decodeBody(t, resp, &disp)
	if !disp.Suppressed {
		t.Error("suppressed = false, want true as default handler")
	}

	// Engine persists asynchronously off the bus.
	time.Sleep(200 * time.Millisecond)

	var convs struct {
		Conversations []struct {
			Address  string `json:"address"`
			LastBody string `json:"last_body"`
		} `json:"conversations"`
	}
	getJSON(t, base+"/v1/conversations", &convs)
	if len(convs.Conversations) != 1 || convs.Conversations[0].LastBody != "hello daemon" {
		t.Errorf("conversations = %+v, want one with 'hello daemon'", convs.Conversations)
	}

	// Queue an outbound message; it lands in the outbox.
	resp, err = http.Post(base+"/v1/messages", "application/json",
		strings.NewReader(`{"address": "555-1234", "body": "reply"}`))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("queue status = %d, want 202", resp.StatusCode)
	}
	_ = resp.Body.Close()
	pending, err := db.PendingOutbox()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 {
		t.Errorf("got %d pending outbox entries, want 1", len(pending))
	}
}

// TestDaemonLockExcludesSecond verifies a second daemon cannot claim a
// locked session.
func TestDaemonLockExcludesSecond(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "metromsg-lock-*")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	lk, err := lock.Acquire(tmpDir)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = lk.Release() }()

	if _, err := lock.Acquire(tmpDir); err == nil {
		t.Fatal("second Acquire succeeded, want held error")
	}
}

func getJSON(t *testing.T, url string, into any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	decodeBody(t, resp, into)
}

func decodeBody(t *testing.T, resp *http.Response, into any) {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
		t.Fatal(fmt.Errorf("decode response: %w", err))
	}
}
