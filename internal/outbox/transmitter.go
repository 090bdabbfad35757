package outbox

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LogTransmitter acknowledges sends without a radio behind it. It stands in
// when no platform gateway is wired up, so queued messages still complete
// the outbox lifecycle locally.
type LogTransmitter struct {
	logger *zap.Logger
}

// NewLogTransmitter creates a transmitter that only logs.
func NewLogTransmitter(logger *zap.Logger) *LogTransmitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogTransmitter{logger: logger}
}

// SendText logs the message and returns a locally minted provider ID.
func (t *LogTransmitter) SendText(_ context.Context, address string, body string) (string, error) {
	id := "local-" + uuid.NewString()
	t.logger.Info("transmitting message",
		zap.String("address", address),
		zap.Int("body_len", len(body)),
		zap.String("provider_msg_id", id))
	return id, nil
}
