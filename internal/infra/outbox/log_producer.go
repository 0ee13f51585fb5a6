package outbox

import (
	"context"
	"log/slog"
)

// LogProducer publishes events to the log. Memory mode has no broker, so the
// outbox drains here and the emit path behaves the same in both modes.
type LogProducer struct {
	Logger *slog.Logger
}

func (p LogProducer) Publish(ctx context.Context, topic string, key string, payload []byte, headers map[string]string) error {
	if p.Logger != nil {
		p.Logger.Info("event published",
			"topic", topic,
			"key", key,
			"bytes", len(payload),
		)
	}
	return nil
}

var _ Producer = LogProducer{}
