package ingest

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/metromessages/metromsg/internal/bus"
	"github.com/metromessages/metromsg/internal/sms"
	"github.com/metromessages/metromsg/internal/store"
	"go.uber.org/zap"
)

// Engine handles idempotent ingestion of logical messages into the store.
// It subscribes to "sms." events on the bus and is the single writer for
// conversation and message rows: one goroutine drains the subscription, so
// each broadcast is processed to completion before the next.
type Engine struct {
	db         *store.DB
	bus        *bus.Bus
	reconciler *Reconciler
	logger     *zap.Logger
	cancel     context.CancelFunc
}

// NewEngine creates a new ingestion engine.
func NewEngine(db *store.DB, b *bus.Bus, r *Reconciler, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		db:         db,
		bus:        b,
		reconciler: r,
		logger:     logger,
	}
}

// Start subscribes to inbound sms events on the bus.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	ch, unsub := e.bus.Subscribe("sms.", 256)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				e.handleEvent(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the engine.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
}

func (e *Engine) handleEvent(evt bus.Event) {
	switch evt.Kind {
	case "sms.message":
		msg, ok := evt.Payload.(sms.LogicalMessage)
		if !ok {
			return
		}
		if err := e.IngestMessage(&msg); err != nil {
			e.logger.Error("failed to ingest message", zap.Error(err), zap.String("address", msg.Address))
		}
	case "sms.batch":
		msgs, ok := evt.Payload.([]sms.LogicalMessage)
		if !ok {
			return
		}
		if err := e.IngestBatch(msgs); err != nil {
			e.logger.Error("failed to ingest batch", zap.Error(err), zap.Int("count", len(msgs)))
		} else {
			e.logger.Info("batch ingested", zap.Int("messages", len(msgs)))
		}
	}
}

// IngestMessage persists a single logical message (idempotent). The store
// decides the canonical conversation: an address that already has one under
// a different thread ID keeps it, so messages never split across rows.
func (e *Engine) IngestMessage(msg *sms.LogicalMessage) error {
	convID, err := e.db.TouchConversation(msg.ThreadID, msg.Address, truncate(msg.Body, 100), msg.Timestamp, true)
	if err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}

	if err := e.db.UpsertMessage(&store.Message{
		ConversationID: convID,
		ClientMsgID:    inboundMsgID(msg),
		Address:        msg.Address,
		Body:           msg.Body,
		Direction:      "in",
		Status:         "received",
		Timestamp:      msg.Timestamp,
	}); err != nil {
		return fmt.Errorf("upsert message: %w", err)
	}

	if e.reconciler != nil {
		e.reconciler.RecordIngest(1)
	}

	e.bus.Emit("message.upserted", map[string]string{"conversation_id": convID})
	e.bus.Emit("conversation.updated", convID)
	return nil
}

// IngestBatch persists a batch of logical messages in one transaction.
func (e *Engine) IngestBatch(msgs []sms.LogicalMessage) error {
	tx, err := e.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	convIDs := make([]string, 0, len(msgs))

	for i := range msgs {
		m := &msgs[i]
		convID, err := store.TouchConversationTx(tx, m.ThreadID, m.Address, truncate(m.Body, 100), m.Timestamp, true)
		if err != nil {
			return fmt.Errorf("upsert conversation in batch: %w", err)
		}
		convIDs = append(convIDs, convID)

		if _, err := tx.Exec(`
			INSERT INTO messages (conversation_id, client_msg_id, address, body, direction, status, timestamp, created_at)
			VALUES (?, ?, ?, ?, 'in', 'received', ?, ?)
			ON CONFLICT(conversation_id, client_msg_id) DO UPDATE SET
				body = excluded.body,
				status = excluded.status`,
			convID, inboundMsgID(m), m.Address, m.Body, m.Timestamp, now); err != nil {
			return fmt.Errorf("upsert message in batch: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}

	if e.reconciler != nil {
		e.reconciler.RecordIngest(len(msgs))
	}

	e.bus.Emit("ingest.batch", map[string]int{"messages_count": len(msgs)})
	for _, id := range convIDs {
		e.bus.Emit("conversation.updated", id)
	}
	return nil
}

// inboundMsgID derives a deterministic client message ID so redelivered
// broadcasts upsert instead of duplicating.
func inboundMsgID(m *sms.LogicalMessage) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(m.Body))
	return fmt.Sprintf("in-%d-%d-%x", m.ThreadID, m.Timestamp, h.Sum64())
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
