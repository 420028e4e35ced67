package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/kalambet/grace/internal/notify"
	"github.com/kalambet/grace/internal/oracle"
	"github.com/kalambet/grace/internal/seal"
	"github.com/kalambet/grace/internal/source"
	"github.com/kalambet/grace/internal/storage"
)

// --- fakes ---

type fakeSource struct {
	events []source.Event
	err    error
	calls  int
}

func (f *fakeSource) Name() string { return "email" }
func (f *fakeSource) Fetch(context.Context) ([]source.Event, error) {
	f.calls++
	return f.events, f.err
}

type fakeOracle struct {
	mu       sync.Mutex
	verdicts map[string]oracle.Verdict
	fail     map[string]bool
	calls    []string
	delay    time.Duration
}

func (f *fakeOracle) Decide(ctx context.Context, _ oracle.Kind, fl oracle.Fields) (oracle.Verdict, error) {
	f.mu.Lock()
	f.calls = append(f.calls, fl.Title)
	f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return oracle.Verdict{}, &oracle.OracleError{Err: err}
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return oracle.Verdict{}, &oracle.OracleError{Err: ctx.Err()}
		}
	}
	if f.fail[fl.Title] {
		return oracle.Verdict{}, &oracle.OracleError{Err: errors.New("malformed")}
	}
	return f.verdicts[fl.Title], nil
}

func (f *fakeOracle) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeSink struct {
	mu   sync.Mutex
	sent []string
}

func (f *fakeSink) Send(_ context.Context, text string) notify.Delivery {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	return notify.Delivery{Delivered: true, Channel: notify.ChannelConsole}
}

// failingStore wraps a Store and injects errors for specific keys.
type failingStore struct {
	Store
	getErr map[string]error
	putErr error
	puts   []string
}

func (f *failingStore) Get(key string) (json.RawMessage, error) {
	if err, ok := f.getErr[key]; ok {
		return nil, err
	}
	return f.Store.Get(key)
}

func (f *failingStore) Put(key string, value any, category string) error {
	f.puts = append(f.puts, key)
	if f.putErr != nil {
		return f.putErr
	}
	return f.Store.Put(key, value, category)
}

// testPolicy is EmailPolicy without an icon, so sink text equals the
// oracle's message.
var testPolicy = func() Policy {
	p := EmailPolicy
	p.Icon = ""
	return p
}()

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

var ignoreRunMeta = cmpopts.IgnoreFields(Summary{}, "RunID", "StartedAt", "FinishedAt")

var rentDue = source.Event{SourceID: "m1", Title: "Rent due", Sender: "landlord", Detail: "due tomorrow"}

// --- tests ---

func TestRun_RentDueScenario(t *testing.T) {
	store := openStore(t)
	src := &fakeSource{events: []source.Event{rentDue}}
	judge := &fakeOracle{verdicts: map[string]oracle.Verdict{
		"Rent due": {Act: true, Message: "Rent's due tomorrow, babe 💕"},
	}}
	sink := &fakeSink{}
	m := New(src, store, judge, sink, testPolicy)

	if _, err := store.Get("email_checked_m1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("key present before run: %v", err)
	}

	got, err := m.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := Summary{
		Source:     "email",
		Status:     StatusActed,
		Count:      1,
		ActedCount: 1,
		Acted:      []Digest{{Title: "Rent due", Message: "Rent's due tomorrow, babe 💕"}},
	}
	if diff := cmp.Diff(want, got, ignoreRunMeta); diff != "" {
		t.Errorf("Run() mismatch (-want +got):\n%s", diff)
	}

	if diff := cmp.Diff([]string{"Rent's due tomorrow, babe 💕"}, sink.sent); diff != "" {
		t.Errorf("sink mismatch (-want +got):\n%s", diff)
	}

	var rec Record
	if err := store.GetInto("email_checked_m1", &rec); err != nil {
		t.Fatalf("record missing after run: %v", err)
	}
	if !rec.Act || rec.Title != "Rent due" || rec.Sender != "landlord" || rec.Fallback {
		t.Errorf("record = %+v", rec)
	}
}

func TestRun_Idempotent(t *testing.T) {
	store := openStore(t)
	src := &fakeSource{events: []source.Event{
		rentDue,
		{SourceID: "m2", Title: "Newsletter"},
		{SourceID: "m3", Title: "Deadline moved"},
	}}
	judge := &fakeOracle{verdicts: map[string]oracle.Verdict{
		"Rent due":       {Act: true, Message: "rent"},
		"Deadline moved": {Act: true},
	}}
	sink := &fakeSink{}
	m := New(src, store, judge, sink, testPolicy)

	first, err := m.Run(context.Background())
	if err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if first.ActedCount != 2 || judge.callCount() != 3 {
		t.Fatalf("first run: acted=%d oracle calls=%d", first.ActedCount, judge.callCount())
	}

	second, err := m.Run(context.Background())
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}

	want := Summary{
		Source:  "email",
		Status:  StatusQuiet,
		Count:   3,
		Message: "Checked 3 emails - nothing urgent, you're good babe! 😊",
	}
	if diff := cmp.Diff(want, second, ignoreRunMeta); diff != "" {
		t.Errorf("second Run() mismatch (-want +got):\n%s", diff)
	}
	if judge.callCount() != 3 {
		t.Errorf("oracle calls after second run = %d, want 3", judge.callCount())
	}
	if len(sink.sent) != 2 {
		t.Errorf("sink invoked %d times, want 2", len(sink.sent))
	}
	if first.RunID == second.RunID {
		t.Error("runs share a RunID")
	}
}

func TestRun_DefaultMessageWhenOracleSilent(t *testing.T) {
	sink := &fakeSink{}
	m := New(
		&fakeSource{events: []source.Event{rentDue}},
		openStore(t),
		&fakeOracle{verdicts: map[string]oracle.Verdict{"Rent due": {Act: true}}},
		sink,
		EmailPolicy,
	)

	if _, err := m.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	want := []string{"📧 Urgent email from landlord: Rent due"}
	if diff := cmp.Diff(want, sink.sent); diff != "" {
		t.Errorf("sink mismatch (-want +got):\n%s", diff)
	}
}

func TestRun_OracleFailureIsolated(t *testing.T) {
	store := openStore(t)
	src := &fakeSource{events: []source.Event{
		{SourceID: "bad", Title: "Garbled"},
		rentDue,
	}}
	judge := &fakeOracle{
		verdicts: map[string]oracle.Verdict{"Rent due": {Act: true, Message: "rent"}},
		fail:     map[string]bool{"Garbled": true},
	}
	sink := &fakeSink{}
	m := New(src, store, judge, sink, testPolicy)

	got, err := m.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got.ActedCount != 1 || got.Acted[0].Title != "Rent due" {
		t.Errorf("summary = %+v", got)
	}

	var rec Record
	if err := store.GetInto("email_checked_bad", &rec); err != nil {
		t.Fatalf("failed event not recorded: %v", err)
	}
	if rec.Act || !rec.Fallback {
		t.Errorf("record = %+v, want act=false fallback=true", rec)
	}

	// Not re-judged on the next run.
	if _, err := m.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if judge.callCount() != 2 {
		t.Errorf("oracle calls = %d, want 2", judge.callCount())
	}
}

func TestRun_OracleTimeout(t *testing.T) {
	store := openStore(t)
	judge := &fakeOracle{delay: 5 * time.Second}
	m := New(&fakeSource{events: []source.Event{rentDue}}, store, judge, &fakeSink{}, testPolicy,
		WithDecisionTimeout(50*time.Millisecond))

	start := time.Now()
	got, err := m.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Run took %v, want bounded by the decision timeout", elapsed)
	}
	if got.Status != StatusQuiet {
		t.Errorf("Status = %q, want quiet", got.Status)
	}
	var rec Record
	if err := store.GetInto("email_checked_m1", &rec); err != nil || !rec.Fallback {
		t.Errorf("record = %+v, err = %v; want fallback record", rec, err)
	}
}

func TestRun_IdleVersusQuiet(t *testing.T) {
	idle, err := New(&fakeSource{}, openStore(t), &fakeOracle{}, &fakeSink{}, testPolicy).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	quiet, err := New(&fakeSource{events: []source.Event{rentDue}}, openStore(t), &fakeOracle{}, &fakeSink{}, testPolicy).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if idle.Status != StatusIdle || idle.Count != 0 || idle.Message != "No new emails, babe! 💕" {
		t.Errorf("idle summary = %+v", idle)
	}
	if quiet.Status != StatusQuiet || quiet.Count != 1 || quiet.ActedCount != 0 {
		t.Errorf("quiet summary = %+v", quiet)
	}
	if idle.Message == quiet.Message {
		t.Error("idle and quiet runs are indistinguishable")
	}
}

func TestRun_FetchError(t *testing.T) {
	src := &fakeSource{err: &source.FetchError{Source: "email", Err: errors.New("401 unauthorized")}}
	m := New(src, openStore(t), &fakeOracle{}, &fakeSink{}, testPolicy)

	got, err := m.Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned error for fetch failure: %v", err)
	}
	if got.Status != StatusError || got.Error == "" {
		t.Errorf("summary = %+v, want error status", got)
	}
	if m.Status().LastRun != nil {
		t.Error("LastRun set by a failed fetch")
	}
}

func TestRun_DecryptionErrorReprocesses(t *testing.T) {
	base := openStore(t)
	if err := base.Put("email_checked_m1", Record{Title: "stale"}, "emails"); err != nil {
		t.Fatal(err)
	}
	store := &failingStore{
		Store:  base,
		getErr: map[string]error{"email_checked_m1": &storage.DecryptionError{Key: "email_checked_m1", Err: seal.ErrOpen}},
	}
	judge := &fakeOracle{verdicts: map[string]oracle.Verdict{"Rent due": {Act: true, Message: "rent"}}}
	sink := &fakeSink{}
	m := New(&fakeSource{events: []source.Event{rentDue}}, store, judge, sink, testPolicy)

	got, err := m.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if judge.callCount() != 1 || got.ActedCount != 1 {
		t.Errorf("oracle calls = %d, acted = %d; want 1, 1", judge.callCount(), got.ActedCount)
	}

	var rec Record
	if err := base.GetInto("email_checked_m1", &rec); err != nil {
		t.Fatal(err)
	}
	if rec.Title != "Rent due" || !rec.Act {
		t.Errorf("record not overwritten: %+v", rec)
	}
}

func TestRun_GetPersistenceErrorIsFatal(t *testing.T) {
	store := &failingStore{
		Store:  openStore(t),
		getErr: map[string]error{"email_checked_m1": &storage.PersistenceError{Op: "reading", Err: errors.New("disk I/O error")}},
	}
	judge := &fakeOracle{}
	m := New(&fakeSource{events: []source.Event{rentDue}}, store, judge, &fakeSink{}, testPolicy)

	_, err := m.Run(context.Background())
	var perr *storage.PersistenceError
	if !errors.As(err, &perr) {
		t.Fatalf("err = %v, want *storage.PersistenceError", err)
	}
	if judge.callCount() != 0 {
		t.Error("oracle called after failed dedup check")
	}
}

func TestRun_PutFailureStopsRun(t *testing.T) {
	store := &failingStore{Store: openStore(t), putErr: errors.New("database is locked")}
	judge := &fakeOracle{verdicts: map[string]oracle.Verdict{"Rent due": {Act: true, Message: "rent"}}}
	sink := &fakeSink{}
	src := &fakeSource{events: []source.Event{rentDue, {SourceID: "m2", Title: "Second"}}}
	m := New(src, store, judge, sink, testPolicy)

	got, err := m.Run(context.Background())
	var perr *storage.PersistenceError
	if !errors.As(err, &perr) {
		t.Fatalf("err = %v, want *storage.PersistenceError", err)
	}
	if got.Status != StatusError {
		t.Errorf("Status = %q, want error", got.Status)
	}
	if len(sink.sent) != 0 {
		t.Error("notified for an event whose verdict was not recorded")
	}
	if len(store.puts) != 1 {
		t.Errorf("puts = %v, want the run to stop after the first failure", store.puts)
	}
}

func TestRun_ConcurrentRunsNotifyOnce(t *testing.T) {
	store := openStore(t)
	judge := &fakeOracle{
		verdicts: map[string]oracle.Verdict{"Rent due": {Act: true, Message: "rent"}},
		delay:    20 * time.Millisecond,
	}
	sink := &fakeSink{}
	m := New(&fakeSource{events: []source.Event{rentDue}}, store, judge, sink, testPolicy)

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.Run(context.Background()); err != nil {
				t.Errorf("Run: %v", err)
			}
		}()
	}
	wg.Wait()

	if len(sink.sent) != 1 {
		t.Errorf("sink invoked %d times, want 1", len(sink.sent))
	}
	if judge.callCount() != 1 {
		t.Errorf("oracle calls = %d, want 1", judge.callCount())
	}
}

func TestRun_KeysNamespacedPerSource(t *testing.T) {
	store := openStore(t)
	ev := source.Event{SourceID: "42", Title: "Same id"}
	judge := &fakeOracle{}

	New(&fakeSource{events: []source.Event{ev}}, store, judge, &fakeSink{}, EmailPolicy).Run(context.Background())
	New(&fakeSource{events: []source.Event{ev}}, store, judge, &fakeSink{}, CalendarPolicy).Run(context.Background())

	if judge.callCount() != 2 {
		t.Errorf("oracle calls = %d, want 2 (one per source)", judge.callCount())
	}
	for _, key := range []string{"email_checked_42", "calendar_reminder_42"} {
		if _, err := store.Get(key); err != nil {
			t.Errorf("Get(%s): %v", key, err)
		}
	}
}

func TestMonitor_Status(t *testing.T) {
	m := New(&fakeSource{events: []source.Event{rentDue}}, openStore(t), &fakeOracle{}, &fakeSink{}, testPolicy)

	if st := m.Status(); st.LastRun != nil || st.Running {
		t.Errorf("initial status = %+v", st)
	}
	if _, err := m.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	st := m.Status()
	if st.LastRun == nil || st.LastStatus != StatusQuiet || st.Running || st.Source != "email" {
		t.Errorf("status after run = %+v", st)
	}
}

func TestRun_CancelledRunLeavesEventForNextRun(t *testing.T) {
	store := openStore(t)
	judge := &fakeOracle{verdicts: map[string]oracle.Verdict{"Rent due": {Act: true, Message: "Rent is due tomorrow"}}}
	sink := &fakeSink{}
	m := New(&fakeSource{events: []source.Event{rentDue}}, store, judge, sink, testPolicy)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	got, err := m.Run(ctx)
	if !errors.Is(err, ErrInterrupted) {
		t.Fatalf("err = %v, want ErrInterrupted", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want it to wrap context.Canceled", err)
	}
	if got.Status != StatusError {
		t.Errorf("Status = %q, want error", got.Status)
	}
	if _, err := store.Get("email_checked_m1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Get after cancelled run: err = %v, want ErrNotFound", err)
	}

	got, err = m.Run(context.Background())
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if got.Status != StatusActed || got.ActedCount != 1 {
		t.Errorf("second run = %+v, want one acted event", got)
	}
	if diff := cmp.Diff([]string{"Rent is due tomorrow"}, sink.sent); diff != "" {
		t.Errorf("sent mismatch (-want +got):\n%s", diff)
	}
}

func TestRun_SkipsEventsWithoutID(t *testing.T) {
	store := &failingStore{Store: openStore(t)}
	judge := &fakeOracle{verdicts: map[string]oracle.Verdict{
		"No id":     {Act: true, Message: "no id"},
		"Also none": {Act: true, Message: "also none"},
	}}
	sink := &fakeSink{}
	src := &fakeSource{events: []source.Event{{Title: "No id"}, rentDue, {Title: "Also none"}}}
	m := New(src, store, judge, sink, testPolicy)

	got, err := m.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got.Count != 3 || got.ActedCount != 0 {
		t.Errorf("summary = %+v, want 3 fetched and none acted", got)
	}
	if diff := cmp.Diff([]string{"email_checked_m1"}, store.puts); diff != "" {
		t.Errorf("puts mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"Rent due"}, judge.calls); diff != "" {
		t.Errorf("oracle calls mismatch (-want +got):\n%s", diff)
	}
	if len(sink.sent) != 0 {
		t.Errorf("sent = %v, want none", sink.sent)
	}
}
