// Package notify delivers notification text to the user. Delivery is best
// effort: a Sink never returns an error.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kalambet/grace/internal/capability"
)

// Channel names reported in a Delivery.
const (
	ChannelConsole = "console"
	ChannelSMS     = "sms"
)

// Delivery reports how a notification was delivered.
type Delivery struct {
	Delivered bool   `json:"delivered"`
	Channel   string `json:"channel"`
	Fallback  bool   `json:"fallback,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

// Sink delivers notification text.
type Sink interface {
	Send(ctx context.Context, text string) Delivery
}

// Sender is an outbound channel that can fail, such as SMS.
type Sender interface {
	Channel() string
	Deliver(ctx context.Context, text string) error
}

// DeliveryError reports a failed outbound delivery. It never leaves this
// package: Notifier degrades it to a fallback Delivery.
type DeliveryError struct {
	Channel string
	Err     error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("%s delivery: %v", e.Channel, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Notifier always records the notification on the fallback sink and, when a
// primary sender is configured, also attempts it.
type Notifier struct {
	primary  capability.Optional[Sender]
	fallback Sink
	logger   *slog.Logger
}

// New creates a Notifier. A nil fallback logs to slog.Default.
func New(primary capability.Optional[Sender], fallback Sink) *Notifier {
	if fallback == nil {
		fallback = NewConsole(nil)
	}
	return &Notifier{primary: primary, fallback: fallback, logger: slog.Default()}
}

// Send implements Sink.
func (n *Notifier) Send(ctx context.Context, text string) Delivery {
	base := n.fallback.Send(ctx, text)

	sender, ok := n.primary.Get()
	if !ok {
		return base
	}

	if err := sender.Deliver(ctx, text); err != nil {
		n.logger.Warn("notification delivery failed, kept on console", "channel", sender.Channel(), "error", err)
		return Delivery{
			Delivered: base.Delivered,
			Channel:   base.Channel,
			Fallback:  true,
			Detail:    err.Error(),
		}
	}
	return Delivery{Delivered: true, Channel: sender.Channel()}
}
