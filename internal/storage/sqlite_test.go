package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/kalambet/grace/internal/seal"
)

func newTestSealer(t *testing.T) *seal.Sealer {
	t.Helper()
	s, err := seal.Generate()
	if err != nil {
		t.Fatalf("seal.Generate: %v", err)
	}
	return s
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:", newTestSealer(t))
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestMigrationsIdempotent runs Open twice on the same database and verifies
// the schema_version count stays correct (migration not re-applied).
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()
	sealer := newTestSealer(t)

	s1, err := Open(dir, sealer)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir, sealer)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(v1) == 0 || len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

func TestOpen_RequiresCipher(t *testing.T) {
	if _, err := Open(":memory:", nil); err == nil {
		t.Fatal("expected error when cipher is nil")
	}
}

func TestGet_Absent(t *testing.T) {
	s := openTestStore(t)

	_, err := s.Get("email_checked_m1")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get on missing key: err = %v, want ErrNotFound", err)
	}
}

func TestPutGet_RoundTrip(t *testing.T) {
	s := openTestStore(t)

	in := map[string]any{"subject": "Rent due", "sender": "landlord", "urgent": true}
	if err := s.Put("email_checked_m1", in, "emails"); err != nil {
		t.Fatalf("Put: %v", err)
	}

	var out map[string]any
	if err := s.GetInto("email_checked_m1", &out); err != nil {
		t.Fatalf("GetInto: %v", err)
	}
	if out["subject"] != "Rent due" || out["urgent"] != true {
		t.Errorf("got %v", out)
	}
}

func TestPut_ValueEncryptedAtRest(t *testing.T) {
	s := openTestStore(t)

	if err := s.Put("k", "very secret text", "general"); err != nil {
		t.Fatalf("Put: %v", err)
	}

	var raw []byte
	if err := s.db.QueryRow("SELECT encrypted_value FROM memories WHERE key = 'k'").Scan(&raw); err != nil {
		t.Fatalf("reading raw row: %v", err)
	}
	if json.Valid(raw) {
		t.Errorf("stored value looks like plaintext JSON: %q", raw)
	}
}

func TestPut_UpsertOverwrites(t *testing.T) {
	s := openTestStore(t)

	if err := s.Put("k", map[string]bool{"act": false}, "emails"); err != nil {
		t.Fatal(err)
	}
	var createdBefore string
	s.db.QueryRow("SELECT created_at FROM memories WHERE key = 'k'").Scan(&createdBefore)

	if err := s.Put("k", map[string]bool{"act": true}, "calendar"); err != nil {
		t.Fatal(err)
	}

	n, err := s.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 1 {
		t.Fatalf("Count = %d after upsert, want 1", n)
	}

	var got map[string]bool
	if err := s.GetInto("k", &got); err != nil {
		t.Fatal(err)
	}
	if !got["act"] {
		t.Errorf("value not overwritten: %v", got)
	}

	var category, createdAfter string
	s.db.QueryRow("SELECT category, created_at FROM memories WHERE key = 'k'").Scan(&category, &createdAfter)
	if category != "calendar" {
		t.Errorf("category = %q, want calendar", category)
	}
	if createdAfter != createdBefore {
		t.Errorf("created_at changed on upsert: %q -> %q", createdBefore, createdAfter)
	}
}

func TestGet_DecryptionError(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir, newTestSealer(t))
	if err != nil {
		t.Fatal(err)
	}
	if err := s1.Put("k", "v", "general"); err != nil {
		t.Fatal(err)
	}
	s1.Close()

	// Reopen with a different key, as after the key file was lost.
	s2, err := Open(dir, newTestSealer(t))
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()

	_, err = s2.Get("k")
	var decErr *DecryptionError
	if !errors.As(err, &decErr) {
		t.Fatalf("Get: err = %v, want *DecryptionError", err)
	}
	if decErr.Key != "k" {
		t.Errorf("DecryptionError.Key = %q, want k", decErr.Key)
	}
	if errors.Is(err, ErrNotFound) {
		t.Error("DecryptionError must not look like ErrNotFound")
	}
}

func TestListMemories_SkipsUnreadable(t *testing.T) {
	s := openTestStore(t)

	s.Put("good_1", 1, "emails")
	s.Put("good_2", 2, "calendar")
	s.Put("bad", 3, "emails")
	if _, err := s.db.Exec("UPDATE memories SET encrypted_value = X'DEADBEEF' WHERE key = 'bad'"); err != nil {
		t.Fatal(err)
	}

	all, err := s.ListMemories("")
	if err != nil {
		t.Fatalf("ListMemories: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("got %d memories, want 2 readable", len(all))
	}
	if all[0].Key != "good_1" || all[1].Key != "good_2" {
		t.Errorf("unexpected keys: %q, %q", all[0].Key, all[1].Key)
	}

	n, _ := s.Count()
	if n != 3 {
		t.Errorf("Count = %d, want 3 (unreadable rows still count)", n)
	}
}

func TestGetByCategory(t *testing.T) {
	s := openTestStore(t)

	s.Put("email_checked_a", map[string]string{"subject": "a"}, "emails")
	s.Put("email_checked_b", map[string]string{"subject": "b"}, "emails")
	s.Put("calendar_reminder_c", map[string]string{"title": "c"}, "calendar")

	got, err := s.GetByCategory("emails")
	if err != nil {
		t.Fatalf("GetByCategory: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d entries, want 2", len(got))
	}
	if _, ok := got["calendar_reminder_c"]; ok {
		t.Error("calendar entry leaked into emails category")
	}
}

func TestRecentConversations_OldestFirst(t *testing.T) {
	s := openTestStore(t)

	for i := range 7 {
		if _, err := s.AppendConversation(fmt.Sprintf("q%d", i), fmt.Sprintf("a%d", i)); err != nil {
			t.Fatalf("AppendConversation: %v", err)
		}
	}

	got, err := s.RecentConversations(5)
	if err != nil {
		t.Fatalf("RecentConversations: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("got %d turns, want 5", len(got))
	}
	for i, c := range got {
		want := fmt.Sprintf("q%d", i+2)
		if c.UserText != want {
			t.Errorf("turn %d UserText = %q, want %q", i, c.UserText, want)
		}
	}
}

func TestRecentConversations_ZeroLimit(t *testing.T) {
	s := openTestStore(t)
	s.AppendConversation("hi", "hey")

	got, err := s.RecentConversations(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("got %d turns for limit 0", len(got))
	}
}

func TestPersistenceError_ClosedDB(t *testing.T) {
	s, err := Open(":memory:", newTestSealer(t))
	if err != nil {
		t.Fatal(err)
	}
	s.Close()

	err = s.Put("k", "v", "general")
	var perr *PersistenceError
	if !errors.As(err, &perr) {
		t.Fatalf("Put on closed db: err = %v, want *PersistenceError", err)
	}

	_, err = s.Get("k")
	if !errors.As(err, &perr) {
		t.Fatalf("Get on closed db: err = %v, want *PersistenceError", err)
	}
}
