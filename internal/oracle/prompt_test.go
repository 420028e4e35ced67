package oracle

import (
	"strings"
	"testing"
)

func TestBuildPrompt_EmailFields(t *testing.T) {
	messages := BuildPrompt(KindEmailUrgency, Fields{Title: "Rent due", Sender: "landlord@example.com", Detail: "due tomorrow"})

	if len(messages) != 2 {
		t.Fatalf("got %d messages, want 2", len(messages))
	}
	if messages[0].Role != "system" || messages[0].Content != Personality {
		t.Error("first message is not the personality system prompt")
	}
	user := messages[1].Content
	for _, want := range []string{"From: landlord@example.com", "Subject: Rent due", "Snippet: due tomorrow", `"urgent"`} {
		if !strings.Contains(user, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestBuildPrompt_PerKindField(t *testing.T) {
	for _, kind := range []Kind{KindEmailUrgency, KindCalendarReminder, KindCameraAlert} {
		user := BuildPrompt(kind, Fields{Title: "t"})[1].Content
		if !strings.Contains(user, `"`+string(kind)+`"`) {
			t.Errorf("%s prompt does not ask for the %q field", kind, kind)
		}
	}
}

func TestBuildPrompt_EmptyFieldsDashed(t *testing.T) {
	user := BuildPrompt(KindCameraAlert, Fields{Title: "Kitchen"})[1].Content
	if !strings.Contains(user, "Event: -") {
		t.Errorf("empty detail not rendered as dash:\n%s", user)
	}
}
