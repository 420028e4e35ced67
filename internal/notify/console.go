package notify

import (
	"context"
	"log/slog"
)

// Console is a Sink that writes notifications to the log.
type Console struct {
	logger *slog.Logger
}

// NewConsole creates a Console sink. A nil logger uses slog.Default.
func NewConsole(logger *slog.Logger) *Console {
	if logger == nil {
		logger = slog.Default()
	}
	return &Console{logger: logger}
}

// Send implements Sink.
func (c *Console) Send(_ context.Context, text string) Delivery {
	c.logger.Info("notification", "message", text)
	return Delivery{Delivered: true, Channel: ChannelConsole}
}
