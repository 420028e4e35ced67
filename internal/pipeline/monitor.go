// Package pipeline runs the event intake and notification loop for one
// source: fetch, skip already-judged events, ask the oracle about new ones,
// record every verdict, and notify at most once per event.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/kalambet/grace/internal/notify"
	"github.com/kalambet/grace/internal/oracle"
	"github.com/kalambet/grace/internal/source"
	"github.com/kalambet/grace/internal/storage"
)

// DefaultDecisionTimeout bounds one oracle call.
const DefaultDecisionTimeout = 15 * time.Second

// Store is the persistence the pipeline needs. *storage.Store satisfies it.
type Store interface {
	Get(key string) (json.RawMessage, error)
	Put(key string, value any, category string) error
}

// ErrInterrupted is returned by Run when the caller's context ends before
// every event was judged. Unjudged events are picked up by the next run.
var ErrInterrupted = errors.New("run interrupted")

// Status classifies a run.
type Status string

const (
	StatusActed Status = "acted"
	StatusQuiet Status = "quiet"
	StatusIdle  Status = "idle"
	StatusError Status = "error"
)

// Digest describes one event the run acted on.
type Digest struct {
	Title   string `json:"title"`
	Message string `json:"message"`
}

// Summary is the result of one run.
type Summary struct {
	RunID      string    `json:"run_id"`
	Source     string    `json:"source"`
	Status     Status    `json:"status"`
	Count      int       `json:"count"`
	ActedCount int       `json:"acted_count"`
	Acted      []Digest  `json:"acted,omitempty"`
	Message    string    `json:"message,omitempty"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Record is the verdict persisted under an event's dedup key.
type Record struct {
	Title    string    `json:"title"`
	Sender   string    `json:"sender,omitempty"`
	Time     string    `json:"time,omitempty"`
	Act      bool      `json:"act"`
	Reason   string    `json:"reason,omitempty"`
	Fallback bool      `json:"fallback,omitempty"`
	JudgedAt time.Time `json:"judged_at"`
}

// MonitorStatus reports the last run of a monitor.
type MonitorStatus struct {
	Source     string     `json:"source"`
	LastRun    *time.Time `json:"last_run,omitempty"`
	LastStatus Status     `json:"last_status,omitempty"`
	Running    bool       `json:"running"`
}

// Monitor runs the pipeline for one source. Runs of the same Monitor are
// serialized.
type Monitor struct {
	src     source.Source
	store   Store
	judge   oracle.Oracle
	sink    notify.Sink
	policy  Policy
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time

	runMu sync.Mutex

	mu         sync.Mutex
	lastRun    time.Time
	lastStatus Status
	running    bool
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithDecisionTimeout bounds each oracle call.
func WithDecisionTimeout(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) { m.logger = l }
}

// New creates a Monitor.
func New(src source.Source, store Store, judge oracle.Oracle, sink notify.Sink, policy Policy, opts ...Option) *Monitor {
	m := &Monitor{
		src:     src,
		store:   store,
		judge:   judge,
		sink:    sink,
		policy:  policy.withDefaults(),
		timeout: DefaultDecisionTimeout,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	m.logger = m.logger.With("source", src.Name())
	return m
}

// Source returns the monitored source's name.
func (m *Monitor) Source() string { return m.src.Name() }

// Status returns the in-memory record of the last run. It does not survive
// a restart.
func (m *Monitor) Status() MonitorStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := MonitorStatus{Source: m.src.Name(), LastStatus: m.lastStatus, Running: m.running}
	if !m.lastRun.IsZero() {
		t := m.lastRun
		st.LastRun = &t
	}
	return st
}

// Run performs one pass over the source. A fetch failure is reported in the
// summary with a nil error. A *storage.PersistenceError or ErrInterrupted
// stops the run and is returned with the partial summary; the next run
// repeats the work safely.
func (m *Monitor) Run(ctx context.Context) (Summary, error) {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	m.setRunning(true)

	sum := Summary{
		RunID:     ulid.Make().String(),
		Source:    m.src.Name(),
		StartedAt: m.now().UTC(),
	}

	sum, err := m.run(ctx, sum)
	sum.FinishedAt = m.now().UTC()

	m.mu.Lock()
	m.running = false
	m.lastStatus = sum.Status
	if sum.Status != StatusError {
		m.lastRun = sum.FinishedAt
	}
	m.mu.Unlock()

	return sum, err
}

func (m *Monitor) run(ctx context.Context, sum Summary) (Summary, error) {
	events, err := m.src.Fetch(ctx)
	if err != nil {
		m.logger.Warn("fetch failed", "error", err)
		sum.Status = StatusError
		sum.Error = err.Error()
		return sum, nil
	}

	sum.Count = len(events)
	if len(events) == 0 {
		sum.Status = StatusIdle
		sum.Message = m.policy.IdleMessage
		return sum, nil
	}

	for _, ev := range events {
		digest, acted, err := m.process(ctx, ev)
		if err != nil {
			sum.Status = StatusError
			sum.Error = err.Error()
			return sum, err
		}
		if acted {
			sum.Acted = append(sum.Acted, digest)
		}
	}

	sum.ActedCount = len(sum.Acted)
	if sum.ActedCount == 0 {
		sum.Status = StatusQuiet
		sum.Message = m.policy.QuietMessage(sum.Count)
	} else {
		sum.Status = StatusActed
	}
	m.logger.Info("run complete", "run_id", sum.RunID, "count", sum.Count, "acted", sum.ActedCount)
	return sum, nil
}

// process handles one event and reports whether it was acted on.
func (m *Monitor) process(ctx context.Context, ev source.Event) (Digest, bool, error) {
	if ev.SourceID == "" {
		m.logger.Warn("skipping event without id", "title", ev.Title)
		return Digest{}, false, nil
	}
	key := m.policy.Key(ev)

	seen, err := m.seen(key)
	if err != nil {
		return Digest{}, false, err
	}
	if seen {
		return Digest{}, false, nil
	}

	fields := m.policy.Fields(ev)
	verdict, fallback, err := m.decide(ctx, key, fields)
	if err != nil {
		return Digest{}, false, err
	}

	rec := Record{
		Title:    ev.Title,
		Sender:   ev.Sender,
		Time:     fields.Time,
		Act:      verdict.Act,
		Reason:   verdict.Reason,
		Fallback: fallback,
		JudgedAt: m.now().UTC(),
	}
	if err := m.store.Put(key, rec, m.policy.Category); err != nil {
		m.logger.Error("persisting verdict failed", "key", key, "error", err)
		return Digest{}, false, asPersistenceError("recording verdict for "+key, err)
	}

	if !verdict.Act {
		return Digest{}, false, nil
	}

	text := m.policy.notification(ev, verdict)
	d := m.sink.Send(ctx, text)
	if d.Fallback {
		m.logger.Warn("notification used fallback channel", "key", key, "channel", d.Channel, "detail", d.Detail)
	}
	return Digest{Title: ev.Title, Message: text}, true, nil
}

// seen reports whether key already holds a verdict. An unreadable record
// counts as unseen so the event is judged again and the record replaced.
func (m *Monitor) seen(key string) (bool, error) {
	_, err := m.store.Get(key)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	var decErr *storage.DecryptionError
	if errors.As(err, &decErr) {
		m.logger.Warn("unreadable dedup record, reprocessing", "key", key, "error", err)
		return false, nil
	}
	return false, asPersistenceError("checking "+key, err)
}

// decide asks the oracle, substituting a no-action verdict when the call
// fails or exceeds the decision timeout. If the caller's context is done the
// event is left unrecorded and ErrInterrupted is returned.
func (m *Monitor) decide(ctx context.Context, key string, f oracle.Fields) (oracle.Verdict, bool, error) {
	dctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	v, err := m.judge.Decide(dctx, m.policy.Kind, f)
	if err == nil {
		return v, false, nil
	}
	if cerr := ctx.Err(); cerr != nil {
		m.logger.Info("run interrupted, leaving event for the next run", "key", key, "error", cerr)
		return oracle.Verdict{}, false, fmt.Errorf("%w: %w", ErrInterrupted, cerr)
	}
	m.logger.Warn("oracle failed, not acting", "key", key, "error", err)
	return oracle.Verdict{Act: false}, true, nil
}

func (m *Monitor) setRunning(r bool) {
	m.mu.Lock()
	m.running = r
	m.mu.Unlock()
}

func asPersistenceError(op string, err error) error {
	var perr *storage.PersistenceError
	if errors.As(err, &perr) {
		return err
	}
	return &storage.PersistenceError{Op: op, Err: err}
}
