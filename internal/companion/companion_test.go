package companion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/kalambet/grace/internal/engine"
	"github.com/kalambet/grace/internal/seal"
	"github.com/kalambet/grace/internal/storage"
)

type mockChatter struct {
	reply string
	err   error
	calls int
	got   []engine.Message
}

func (m *mockChatter) Chat(_ context.Context, _ string, messages []engine.Message, _ *engine.Schema) (string, error) {
	m.calls++
	m.got = messages
	return m.reply, m.err
}

func openStore(t *testing.T) *storage.Store {
	t.Helper()
	sealer, err := seal.Generate()
	if err != nil {
		t.Fatal(err)
	}
	s, err := storage.Open(":memory:", sealer)
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestChat_RecordsTurn(t *testing.T) {
	store := openStore(t)
	mock := &mockChatter{reply: " hey love 💕 \n"}
	c := New(mock, "llama3.2", store, 0)

	got, err := c.Chat(context.Background(), "hi grace")
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if got != "hey love 💕" {
		t.Errorf("reply = %q", got)
	}

	turns, err := store.RecentConversations(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(turns) != 1 || turns[0].UserText != "hi grace" || turns[0].ResponseText != "hey love 💕" {
		t.Errorf("unexpected history: %+v", turns)
	}
}

func TestChat_ContextWindow(t *testing.T) {
	store := openStore(t)
	for i := range 8 {
		store.AppendConversation(fmt.Sprintf("q%d", i), fmt.Sprintf("a%d", i))
	}
	mock := &mockChatter{reply: "ok"}
	c := New(mock, "llama3.2", store, 3)

	if _, err := c.Chat(context.Background(), "what did I ask?"); err != nil {
		t.Fatalf("Chat: %v", err)
	}

	if len(mock.got) != 3 {
		t.Fatalf("got %d messages, want 3", len(mock.got))
	}
	ctxMsg := mock.got[1].Content
	if strings.Contains(ctxMsg, "q4") {
		t.Error("context includes a turn outside the window")
	}
	i5, i7 := strings.Index(ctxMsg, "User: q5"), strings.Index(ctxMsg, "User: q7")
	if i5 < 0 || i7 < 0 || i5 > i7 {
		t.Errorf("context not oldest-first:\n%s", ctxMsg)
	}
	if mock.got[2].Role != "user" || mock.got[2].Content != "what did I ask?" {
		t.Errorf("last message = %+v", mock.got[2])
	}
}

func TestChat_EmptyMessage(t *testing.T) {
	mock := &mockChatter{reply: "ok"}
	c := New(mock, "llama3.2", openStore(t), 5)

	if _, err := c.Chat(context.Background(), "   "); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("err = %v, want ErrEmptyMessage", err)
	}
	if mock.calls != 0 {
		t.Error("model called for empty message")
	}
}

func TestChat_ModelErrorNotRecorded(t *testing.T) {
	store := openStore(t)
	c := New(&mockChatter{err: errors.New("connection refused")}, "llama3.2", store, 5)

	if _, err := c.Chat(context.Background(), "hello"); err == nil {
		t.Fatal("expected error")
	}
	turns, _ := store.RecentConversations(5)
	if len(turns) != 0 {
		t.Errorf("failed exchange was recorded: %+v", turns)
	}
}
