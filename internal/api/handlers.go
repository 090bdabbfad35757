package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/metromessages/metromsg/internal/sms"
	"github.com/metromessages/metromsg/internal/store"
	"github.com/metromessages/metromsg/internal/unified"
)

type broadcastRequest struct {
	Action    string         `json:"action" binding:"required"`
	Fragments []sms.Fragment `json:"fragments"`
}

type broadcastResponse struct {
	Suppressed bool             `json:"suppressed"`
	Messages   []logicalMessage `json:"messages"`
}

type logicalMessage struct {
	Address        string `json:"address"`
	Body           string `json:"body"`
	Timestamp      int64  `json:"timestamp"`
	ThreadID       int64  `json:"thread_id"`
	Classification string `json:"classification"`
}

// handleBroadcast is the delivery entry point. Classifier failures never
// surface as 5xx; the worst outcome is an empty, non-suppressing verdict.
func (s *Server) handleBroadcast(c *gin.Context) {
	var req broadcastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	disp := s.classifier.Handle(c.Request.Context(), sms.Action(req.Action), req.Fragments)

	msgs := make([]logicalMessage, 0, len(disp.Messages))
	for _, m := range disp.Messages {
		msgs = append(msgs, logicalMessage{
			Address:        m.Address,
			Body:           m.Body,
			Timestamp:      m.Timestamp,
			ThreadID:       m.ThreadID,
			Classification: string(m.Classification),
		})
	}
	c.JSON(http.StatusOK, broadcastResponse{Suppressed: disp.Suppress, Messages: msgs})
}

type conversationDTO struct {
	ID           string `json:"id"`
	ThreadID     int64  `json:"thread_id"`
	ContactID    int64  `json:"contact_id,omitempty"`
	Address      string `json:"address"`
	DisplayName  string `json:"display_name,omitempty"`
	LastBody     string `json:"last_body"`
	LastActivity int64  `json:"last_activity"`
	UnreadCount  int    `json:"unread_count"`
	Blocked      bool   `json:"blocked,omitempty"`
	Archived     bool   `json:"archived,omitempty"`
	Muted        bool   `json:"muted,omitempty"`
}

func toConversationDTO(cv *store.Conversation) conversationDTO {
	return conversationDTO{
		ID:           cv.ID,
		ThreadID:     cv.ThreadID,
		ContactID:    cv.ContactID,
		Address:      cv.Address,
		DisplayName:  cv.DisplayName,
		LastBody:     cv.LastBody,
		LastActivity: cv.LastActivity,
		UnreadCount:  cv.UnreadCount,
		Blocked:      cv.Blocked,
		Archived:     cv.Archived,
		Muted:        cv.Muted,
	}
}

func (s *Server) handleListConversations(c *gin.Context) {
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)
	convs, err := s.db.ListConversations(limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	out := make([]conversationDTO, 0, len(convs))
	for i := range convs {
		out = append(out, toConversationDTO(&convs[i]))
	}
	c.JSON(http.StatusOK, gin.H{"conversations": out})
}

func (s *Server) handleGetConversation(c *gin.Context) {
	conv, err := s.db.GetConversation(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if conv == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return
	}
	c.JSON(http.StatusOK, toConversationDTO(conv))
}

type messageDTO struct {
	ID             int64  `json:"id"`
	ConversationID string `json:"conversation_id"`
	ClientMsgID    string `json:"client_msg_id"`
	Address        string `json:"address"`
	Body           string `json:"body"`
	Direction      string `json:"direction"`
	Status         string `json:"status"`
	Timestamp      int64  `json:"timestamp"`
}

func toMessageDTO(m *store.Message) messageDTO {
	return messageDTO{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		ClientMsgID:    m.ClientMsgID,
		Address:        m.Address,
		Body:           m.Body,
		Direction:      m.Direction,
		Status:         m.Status,
		Timestamp:      m.Timestamp,
	}
}

func (s *Server) handleListMessages(c *gin.Context) {
	before := int64Query(c, "before", 0)
	limit := intQuery(c, "limit", 50)
	msgs, err := s.db.ListMessages(c.Param("id"), before, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	out := make([]messageDTO, 0, len(msgs))
	for i := range msgs {
		out = append(out, toMessageDTO(&msgs[i]))
	}
	c.JSON(http.StatusOK, gin.H{"messages": out})
}

func (s *Server) handleMarkRead(c *gin.Context) {
	id := c.Param("id")
	if err := s.db.MarkConversationRead(id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.bus.Emit("conversation.updated", id)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

type flagRequest struct {
	Enabled *bool `json:"enabled"`
}

func (r flagRequest) value() bool {
	if r.Enabled == nil {
		return true
	}
	return *r.Enabled
}

func (s *Server) handleSetArchived(c *gin.Context) {
	s.setConversationFlag(c, s.db.SetConversationArchived)
}

func (s *Server) handleSetBlocked(c *gin.Context) {
	s.setConversationFlag(c, s.db.SetConversationBlocked)
}

func (s *Server) handleSetMuted(c *gin.Context) {
	s.setConversationFlag(c, s.db.SetConversationMuted)
}

func (s *Server) setConversationFlag(c *gin.Context, set func(string, bool) error) {
	var req flagRequest
	// Empty body means enable.
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id := c.Param("id")
	if err := set(id, req.value()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.bus.Emit("conversation.updated", id)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) handleDeleteConversation(c *gin.Context) {
	conv, err := s.db.GetConversation(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if conv == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return
	}
	if err := s.db.DeleteConversationForAddress(conv.Address); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.bus.Emit("conversation.deleted", conv.ID)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

type unifiedContactDTO struct {
	ID           int64            `json:"id"`
	DisplayName  string           `json:"display_name"`
	Phone        string           `json:"phone,omitempty"`
	AltPhones    []string         `json:"alt_phones,omitempty"`
	Emails       string           `json:"emails,omitempty"`
	Starred      bool             `json:"starred"`
	HasThread    bool             `json:"has_thread"`
	HasUnread    bool             `json:"has_unread"`
	LastActivity int64            `json:"last_activity,omitempty"`
	Conversation *conversationDTO `json:"conversation,omitempty"`
}

func toUnifiedDTO(uc *unified.UnifiedContact) unifiedContactDTO {
	dto := unifiedContactDTO{
		ID:           uc.Contact.ID,
		DisplayName:  uc.Contact.DisplayName,
		Phone:        uc.Contact.Phone,
		AltPhones:    uc.Contact.AltPhones,
		Emails:       uc.Contact.Emails,
		Starred:      uc.Contact.Starred,
		HasThread:    uc.HasThread,
		HasUnread:    uc.HasUnread,
		LastActivity: uc.LastActivity,
	}
	if uc.Conversation != nil {
		cv := toConversationDTO(uc.Conversation)
		dto.Conversation = &cv
	}
	return dto
}

// ensureCache populates the cache if needed and writes the 503 for a failed
// load. A failed directory read is not the same as an empty directory.
func (s *Server) ensureCache(c *gin.Context) bool {
	if err := s.cache.Initialize(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "contact cache load failed: " + err.Error()})
		return false
	}
	if state, loadErr := s.cache.State(); state == unified.StateFailed {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "contact cache load failed: " + loadErr.Error()})
		return false
	}
	return true
}

func (s *Server) handleListContacts(c *gin.Context) {
	if !s.ensureCache(c) {
		return
	}

	var entries []unified.UnifiedContact
	switch {
	case c.Query("q") != "":
		entries = s.searchContacts(c.Query("q"))
	case c.Query("filter") == "activity":
		entries = s.cache.WithActivity()
	case c.Query("filter") == "no-thread":
		entries = s.cache.WithoutThread()
	default:
		entries = s.cache.All()
	}

	out := make([]unifiedContactDTO, 0, len(entries))
	for i := range entries {
		out = append(out, toUnifiedDTO(&entries[i]))
	}
	c.JSON(http.StatusOK, gin.H{"contacts": out})
}

// searchContacts merges name and phone matches, name matches first.
func (s *Server) searchContacts(q string) []unified.UnifiedContact {
	byName := s.cache.SearchByName(q)
	seen := make(map[int64]bool, len(byName))
	for i := range byName {
		seen[byName[i].Contact.ID] = true
	}
	for _, uc := range s.cache.SearchByPhone(q) {
		if !seen[uc.Contact.ID] {
			byName = append(byName, uc)
		}
	}
	return byName
}

func (s *Server) handleGetContact(c *gin.Context) {
	if !s.ensureCache(c) {
		return
	}
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid contact id"})
		return
	}
	uc := s.cache.Get(id)
	if uc == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "contact not found"})
		return
	}
	c.JSON(http.StatusOK, toUnifiedDTO(uc))
}

type starRequest struct {
	Starred bool `json:"starred"`
}

func (s *Server) handleStarContact(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid contact id"})
		return
	}
	var req starRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.cache.ToggleStar(id, req.Starred)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) handleRefreshContacts(c *gin.Context) {
	if err := s.cache.Refresh(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "contact cache load failed: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "contacts": len(s.cache.All())})
}

type syncContactRequest struct {
	ID          int64    `json:"id" binding:"required"`
	DisplayName string   `json:"display_name"`
	Phone       string   `json:"phone"`
	AltPhones   []string `json:"alt_phones"`
	Emails      string   `json:"emails"`
	PhotoRef    string   `json:"photo_ref"`
}

// handleSyncContacts replaces directory rows from an external sync and
// invalidates the cache via the directory event.
func (s *Server) handleSyncContacts(c *gin.Context) {
	var req struct {
		Contacts []syncContactRequest `json:"contacts" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	contacts := make([]store.Contact, 0, len(req.Contacts))
	for _, rc := range req.Contacts {
		contacts = append(contacts, store.Contact{
			ID:          rc.ID,
			DisplayName: rc.DisplayName,
			Phone:       rc.Phone,
			AltPhones:   rc.AltPhones,
			Emails:      rc.Emails,
			PhotoRef:    rc.PhotoRef,
		})
	}
	if err := s.db.BulkUpsertContacts(contacts); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	s.bus.Emit("directory.synced", len(contacts))
	s.logger.Info("directory synced", zap.Int("contacts", len(contacts)))
	c.JSON(http.StatusOK, gin.H{"ok": true, "synced": len(contacts)})
}

type queueMessageRequest struct {
	Address string `json:"address" binding:"required"`
	Body    string `json:"body" binding:"required"`
}

func (s *Server) handleQueueMessage(c *gin.Context) {
	var req queueMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	clientMsgID := uuid.NewString()
	if err := s.db.QueueOutbox(clientMsgID, req.Address, req.Body); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"client_msg_id": clientMsgID})
}

type searchResultDTO struct {
	Message messageDTO `json:"message"`
	Snippet string     `json:"snippet"`
}

func (s *Server) handleSearch(c *gin.Context) {
	q := c.Query("q")
	if q == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing query"})
		return
	}
	results, err := s.db.SearchMessages(q, c.Query("conversation_id"), intQuery(c, "limit", 50))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	out := make([]searchResultDTO, 0, len(results))
	for i := range results {
		out = append(out, searchResultDTO{
			Message: toMessageDTO(&results[i].Message),
			Snippet: results[i].Snippet,
		})
	}
	c.JSON(http.StatusOK, gin.H{"results": out})
}

func (s *Server) handleStatus(c *gin.Context) {
	cacheState, cacheErr := s.cache.State()
	conversations, _ := s.db.ConversationCount()
	messages, _ := s.db.MessageCount()
	contacts, _ := s.db.ContactCount()

	ingestedTotal, _ := s.reconciler.GetCheckpoint("ingested_total")
	lastIngestAt, _ := s.reconciler.GetCheckpoint("last_ingest_at")

	resp := gin.H{
		"state":          string(s.machine.Current()),
		"default":        s.machine.IsDefault(),
		"cache_state":    string(cacheState),
		"conversations":  conversations,
		"messages":       messages,
		"contacts":       contacts,
		"ingested_total": ingestedTotal,
		"last_ingest_at": lastIngestAt,
	}
	if cacheErr != nil {
		resp["cache_error"] = cacheErr.Error()
	}
	c.JSON(http.StatusOK, resp)
}

func intQuery(c *gin.Context, key string, def int) int {
	v := c.Query(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func int64Query(c *gin.Context, key string, def int64) int64 {
	v := c.Query(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return def
	}
	return n
}
