package sms

import (
	"context"
	"errors"

	"github.com/metromessages/metromsg/internal/bus"
	"go.uber.org/zap"
)

// ErrPermissionDenied is the expected extraction failure when a deliver
// broadcast is decoded by an app that is not the default handler.
var ErrPermissionDenied = errors.New("sms: permission denied reading broadcast payload")

// Role reports whether this instance is the platform's designated default
// messaging handler. Consolidated here so the classifier never queries
// platform state ad hoc; the status machine implements it.
type Role interface {
	IsDefault() bool
}

// Extractor decodes an opaque broadcast payload into raw fragments. It may
// fail with ErrPermissionDenied (or panic, on hostile payloads); the
// classifier contains either outcome.
type Extractor interface {
	Extract(payload any) ([]Fragment, error)
}

// Disposition is the classifier's verdict on one broadcast. Suppress is
// only ever true for a deliver broadcast processed while default handler.
type Disposition struct {
	Suppress bool
	Messages []LogicalMessage
}

// Classifier routes inbound platform broadcasts. For each broadcast it
// decides whether to process-and-suppress, observe, or pass through, then
// publishes the grouped messages on the bus for the ingestion engine.
type Classifier struct {
	role     Role
	extract  Extractor
	resolver *Resolver
	bus      *bus.Bus
	logger   *zap.Logger
}

// NewClassifier creates an inbound broadcast classifier.
func NewClassifier(role Role, extract Extractor, resolver *Resolver, b *bus.Bus, logger *zap.Logger) *Classifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Classifier{
		role:     role,
		extract:  extract,
		resolver: resolver,
		bus:      b,
		logger:   logger,
	}
}

// Handle processes one broadcast. It never panics and never reports an
// error: an exception escaping the broadcast entry point would cause the
// platform to permanently stop delivering messages to this app, so every
// failure inside is swallowed and logged. The only output is the
// Disposition.
func (c *Classifier) Handle(ctx context.Context, action Action, payload any) (disp Disposition) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("panic handling broadcast",
				zap.String("action", string(action)),
				zap.Any("panic", r))
			disp = Disposition{}
		}
	}()

	if !action.Known() {
		c.logger.Warn("ignoring unknown broadcast action", zap.String("action", string(action)))
		return Disposition{}
	}

	isDefault := c.role.IsDefault()

	if action.DeliverTarget() {
		// Extraction runs even when we are not the default handler, to
		// satisfy platform payload validation; the expected permission
		// error in that position is swallowed.
		fragments, err := c.extract.Extract(payload)
		if err != nil {
			if errors.Is(err, ErrPermissionDenied) {
				c.logger.Debug("payload extraction denied (not default handler)",
					zap.String("action", string(action)))
			} else {
				c.logger.Warn("payload extraction failed",
					zap.String("action", string(action)), zap.Error(err))
			}
			return Disposition{}
		}
		if !isDefault {
			// Not ours to claim: no persistence, no suppression.
			return Disposition{}
		}
		msgs := c.process(ctx, fragments, DeliveredDefault)
		// Only the default handler that actually processed the broadcast
		// may claim authoritative delivery.
		return Disposition{Suppress: true, Messages: msgs}
	}

	// Observer copy: process regardless of role, never suppress.
	fragments, err := c.extract.Extract(payload)
	if err != nil {
		c.logger.Warn("payload extraction failed",
			zap.String("action", string(action)), zap.Error(err))
		return Disposition{}
	}
	msgs := c.process(ctx, fragments, Observed)
	return Disposition{Suppress: false, Messages: msgs}
}

func (c *Classifier) process(ctx context.Context, fragments []Fragment, class Classification) []LogicalMessage {
	msgs := Group(fragments)
	for i := range msgs {
		msgs[i].Classification = class
		msgs[i].ThreadID = c.resolver.Resolve(ctx, msgs[i].Address)
	}

	switch len(msgs) {
	case 0:
	case 1:
		c.bus.Emit("sms.message", msgs[0])
	default:
		c.bus.Emit("sms.batch", msgs)
	}
	return msgs
}
