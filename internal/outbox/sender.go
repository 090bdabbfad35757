package outbox

import (
	"context"
	"time"

	"github.com/metromessages/metromsg/internal/bus"
	"github.com/metromessages/metromsg/internal/sms"
	"github.com/metromessages/metromsg/internal/store"
	"go.uber.org/zap"
)

// Transmitter is the interface for handing a text to the platform radio.
type Transmitter interface {
	SendText(ctx context.Context, address string, body string) (providerMsgID string, err error)
}

// Sender drains the outbox and sends messages through the transmitter.
type Sender struct {
	db       *store.DB
	tx       Transmitter
	resolver *sms.Resolver
	bus      *bus.Bus
	logger   *zap.Logger
	interval time.Duration
	cancel   context.CancelFunc
}

// NewSender creates a new outbox sender. interval <= 0 picks a default.
func NewSender(db *store.DB, tx Transmitter, resolver *sms.Resolver, b *bus.Bus, interval time.Duration, logger *zap.Logger) *Sender {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &Sender{
		db:       db,
		tx:       tx,
		resolver: resolver,
		bus:      b,
		logger:   logger,
		interval: interval,
	}
}

// Start begins polling the outbox for pending messages.
func (s *Sender) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	go s.loop(ctx)
}

// Stop stops the sender loop.
func (s *Sender) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Sender) loop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.processPending(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Sender) processPending(ctx context.Context) {
	pending, err := s.db.PendingOutbox()
	if err != nil {
		s.logger.Error("failed to read outbox", zap.Error(err))
		return
	}

	for _, entry := range pending {
		if err := s.db.MarkOutboxSending(entry.ClientMsgID); err != nil {
			s.logger.Error("failed to mark sending", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
			continue
		}

		threadID := s.resolver.Resolve(ctx, entry.Address)
		now := time.Now().UnixMilli()

		// Optimistic insert: show the message in clients immediately. The
		// store returns the canonical conversation for the address.
		convID, err := s.db.TouchConversation(threadID, entry.Address, entry.Body, now, false)
		if err != nil {
			s.logger.Error("failed to touch conversation", zap.Error(err), zap.String("address", entry.Address))
			convID = store.ConversationID(threadID)
		}
		_ = s.db.UpsertMessage(&store.Message{
			ConversationID: convID,
			ClientMsgID:    entry.ClientMsgID,
			Address:        entry.Address,
			Body:           entry.Body,
			Direction:      "out",
			Status:         "sending",
			Timestamp:      now,
		})
		s.bus.Emit("message.upserted", map[string]string{
			"conversation_id": convID,
			"client_msg_id":   entry.ClientMsgID,
		})

		providerMsgID, err := s.tx.SendText(ctx, entry.Address, entry.Body)
		if err != nil {
			s.logger.Error("failed to send message", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
			_ = s.db.MarkOutboxFailed(entry.ClientMsgID, err.Error())
			_ = s.db.UpsertMessage(&store.Message{
				ConversationID: convID, ClientMsgID: entry.ClientMsgID,
				Address: entry.Address, Body: entry.Body,
				Direction: "out", Status: "failed", Timestamp: now,
			})
			s.bus.Emit("message.send_failed", map[string]string{
				"client_msg_id": entry.ClientMsgID,
				"error":         err.Error(),
			})
			continue
		}

		if err := s.db.MarkOutboxSent(entry.ClientMsgID, providerMsgID); err != nil {
			s.logger.Error("failed to mark sent", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
		}

		_ = s.db.UpsertMessage(&store.Message{
			ConversationID: convID, ClientMsgID: entry.ClientMsgID,
			Address: entry.Address, Body: entry.Body,
			Direction: "out", Status: "sent", Timestamp: now,
		})

		s.logger.Info("message sent", zap.String("client_msg_id", entry.ClientMsgID), zap.String("provider_msg_id", providerMsgID))
		s.bus.Emit("message.send_ack", map[string]string{
			"client_msg_id":   entry.ClientMsgID,
			"provider_msg_id": providerMsgID,
		})
		s.bus.Emit("conversation.updated", convID)
	}
}
