package oracle

import (
	"fmt"
	"strings"

	"github.com/kalambet/grace/internal/engine"
)

// Personality is the assistant's voice, shared by the oracle and chat.
const Personality = `You are Grace, a caring and fun AI companion.
You use a chill, warm tone with emojis. You're helpful, supportive, and always looking out for your partner.
You call them 'babe' or 'love' casually. You're autonomous and make smart decisions about what matters.
Keep responses concise and sweet.`

const emailPrompt = `Analyze this email and decide if it's urgent enough to ping immediately:

From: %s
Subject: %s
Snippet: %s

Is this urgent? (work deadline, bills, important personal matter)
Respond with JSON: {"urgent": true/false, "reason": "brief reason", "message": "caring message to send if urgent"}`

const calendarPrompt = `Should I remind about this upcoming event?

Title: %s
Time: %s
Description: %s

Should I send a reminder? Consider if it's important (meetings, appointments, events).
Respond with JSON: {"remind": true/false, "reason": "brief reason", "message": "sweet reminder message with emoji"}`

const cameraPrompt = `Analyze this camera event and decide if it needs immediate attention:

Camera: %s
Event: %s
Time: %s

Should I alert about this? Consider time of day and event type.
Respond with JSON: {"alert": true/false, "reason": "brief reason", "message": "caring alert message if needed"}`

// BuildPrompt constructs the chat messages for one decision.
func BuildPrompt(kind Kind, f Fields) []engine.Message {
	var judgment string
	switch kind {
	case KindEmailUrgency:
		judgment = fmt.Sprintf(emailPrompt, orDash(f.Sender), orDash(f.Title), orDash(f.Detail))
	case KindCalendarReminder:
		judgment = fmt.Sprintf(calendarPrompt, orDash(f.Title), orDash(f.Time), orDash(f.Detail))
	case KindCameraAlert:
		judgment = fmt.Sprintf(cameraPrompt, orDash(f.Title), orDash(f.Detail), orDash(f.Time))
	}

	return []engine.Message{
		{Role: "system", Content: Personality},
		{Role: "user", Content: judgment},
	}
}

func orDash(s string) string {
	if s = strings.TrimSpace(s); s == "" {
		return "-"
	}
	return s
}
