// Package oracle asks a language model whether an observed event deserves
// the user's attention.
package oracle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/grace/internal/engine"
)

// DefaultTimeout bounds a single decision call when none is configured.
const DefaultTimeout = 15 * time.Second

// Kind selects the judgment prompt. Its value is also the name of the
// boolean verdict field the model is asked to return.
type Kind string

const (
	KindEmailUrgency     Kind = "urgent"
	KindCalendarReminder Kind = "remind"
	KindCameraAlert      Kind = "alert"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindEmailUrgency, KindCalendarReminder, KindCameraAlert:
		return true
	}
	return false
}

// Fields are the normalized event attributes shown to the model.
type Fields struct {
	Title  string
	Sender string
	Time   string
	Detail string
}

// Verdict is the model's decision about one event.
type Verdict struct {
	Act     bool   `json:"act"`
	Message string `json:"message,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// Oracle decides whether an event warrants action. Implementations return
// a well-formed Verdict or an error, never a partial result.
type Oracle interface {
	Decide(ctx context.Context, kind Kind, f Fields) (Verdict, error)
}

// Chatter is the chat completion dependency. engine.Engine satisfies it.
type Chatter interface {
	Chat(ctx context.Context, model string, messages []engine.Message, jsonSchema *engine.Schema) (string, error)
}

// OracleError reports a failed decision: transport failure, timeout, or
// output that could not be parsed into a Verdict.
type OracleError struct {
	Kind Kind
	Err  error
}

func (e *OracleError) Error() string {
	return fmt.Sprintf("oracle %s decision: %v", e.Kind, e.Err)
}

func (e *OracleError) Unwrap() error { return e.Err }

// LLM is an Oracle backed by a chat model.
type LLM struct {
	client  Chatter
	model   string
	timeout time.Duration
}

// NewLLM creates an LLM oracle. A non-positive timeout uses DefaultTimeout.
func NewLLM(client Chatter, model string, timeout time.Duration) *LLM {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &LLM{client: client, model: model, timeout: timeout}
}

// Decide asks the model for a verdict on one event.
func (o *LLM) Decide(ctx context.Context, kind Kind, f Fields) (Verdict, error) {
	if !kind.Valid() {
		return Verdict{}, &OracleError{Kind: kind, Err: fmt.Errorf("unknown kind")}
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	raw, err := o.client.Chat(ctx, o.model, BuildPrompt(kind, f), verdictSchema(kind))
	if err != nil {
		return Verdict{}, &OracleError{Kind: kind, Err: err}
	}

	out := Parse(kind, raw)
	if out.Failure != nil {
		slog.Warn("unparseable oracle response", "kind", kind, "error", out.Failure.Reason, "response", out.Failure.Raw)
		return Verdict{}, &OracleError{Kind: kind, Err: out.Failure}
	}
	return *out.Verdict, nil
}

// verdictSchema returns the JSON schema for structured verdict output.
func verdictSchema(kind Kind) *engine.Schema {
	return &engine.Schema{
		Type: "object",
		Properties: map[string]engine.SchemaProperty{
			string(kind): {Type: "boolean", Description: "Whether to notify the user about this event"},
			"message":    {Type: "string", Description: "Short caring message to send when notifying"},
			"reason":     {Type: "string", Description: "Brief reason for the decision"},
		},
		Required: []string{string(kind), "message"},
	}
}
