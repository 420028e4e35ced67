package pipeline

import (
	"fmt"

	"github.com/kalambet/grace/internal/oracle"
	"github.com/kalambet/grace/internal/source"
)

// Policy specializes a Monitor for one kind of source.
type Policy struct {
	// Kind selects the oracle judgment.
	Kind oracle.Kind
	// Category tags every record the monitor writes.
	Category string
	// KeyPrefix namespaces dedup keys so equal raw ids from different
	// sources never collide.
	KeyPrefix string
	// Icon is prepended to every notification when set.
	Icon string

	Fields         func(source.Event) oracle.Fields
	DefaultMessage func(source.Event) string
	IdleMessage    string
	QuietMessage   func(n int) string
}

// Key returns the dedup key for ev.
func (p Policy) Key(ev source.Event) string {
	return p.KeyPrefix + ev.SourceID
}

func (p Policy) notification(ev source.Event, v oracle.Verdict) string {
	msg := v.Message
	if msg == "" {
		msg = p.DefaultMessage(ev)
	}
	if p.Icon != "" {
		return p.Icon + " " + msg
	}
	return msg
}

func (p Policy) withDefaults() Policy {
	if p.Fields == nil {
		p.Fields = func(ev source.Event) oracle.Fields {
			return oracle.Fields{Title: ev.Title, Sender: ev.Sender, Time: ev.Timestamp, Detail: ev.Detail}
		}
	}
	if p.DefaultMessage == nil {
		p.DefaultMessage = func(ev source.Event) string { return "Heads up: " + ev.Title }
	}
	if p.IdleMessage == "" {
		p.IdleMessage = "Nothing new"
	}
	if p.QuietMessage == nil {
		p.QuietMessage = func(n int) string { return fmt.Sprintf("Checked %d items - nothing needs attention", n) }
	}
	if p.Category == "" {
		p.Category = "general"
	}
	return p
}

// EmailPolicy judges unread mail for urgency.
var EmailPolicy = Policy{
	Kind:      oracle.KindEmailUrgency,
	Category:  "emails",
	KeyPrefix: "email_checked_",
	Icon:      "📧",
	Fields: func(ev source.Event) oracle.Fields {
		return oracle.Fields{Title: ev.Title, Sender: ev.Sender, Time: ev.Timestamp, Detail: ev.Detail}
	},
	DefaultMessage: func(ev source.Event) string {
		return fmt.Sprintf("Urgent email from %s: %s", ev.Sender, ev.Title)
	},
	IdleMessage: "No new emails, babe! 💕",
	QuietMessage: func(n int) string {
		return fmt.Sprintf("Checked %d emails - nothing urgent, you're good babe! 😊", n)
	},
}

// CalendarPolicy decides which upcoming events deserve a reminder.
var CalendarPolicy = Policy{
	Kind:      oracle.KindCalendarReminder,
	Category:  "calendar",
	KeyPrefix: "calendar_reminder_",
	Fields: func(ev source.Event) oracle.Fields {
		return oracle.Fields{Title: ev.Title, Time: source.ClockTime(ev.Timestamp), Detail: ev.Detail}
	},
	DefaultMessage: func(ev source.Event) string {
		return fmt.Sprintf("Hey babe, you have '%s' coming up soon! 📅✨", ev.Title)
	},
	IdleMessage: "No upcoming events in the next 4 hours! 📅",
	QuietMessage: func(n int) string {
		return fmt.Sprintf("Found %d events - no urgent reminders needed! 😊", n)
	},
}

// CameraPolicy decides which camera events need an alert.
var CameraPolicy = Policy{
	Kind:      oracle.KindCameraAlert,
	Category:  "camera",
	KeyPrefix: "camera_event_",
	Icon:      "📹",
	Fields: func(ev source.Event) oracle.Fields {
		return oracle.Fields{Title: ev.Title, Time: ev.Timestamp, Detail: ev.Detail}
	},
	DefaultMessage: func(ev source.Event) string {
		return fmt.Sprintf("Motion detected on %s!", ev.Title)
	},
	IdleMessage: "No new camera events, all quiet at home 🏡",
	QuietMessage: func(n int) string {
		return fmt.Sprintf("Checked %d camera events - nothing worth an alert 😊", n)
	},
}
