package oracle

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ParseFailure describes model output that is not a valid verdict.
type ParseFailure struct {
	Raw    string
	Reason string
}

func (p *ParseFailure) Error() string {
	return "malformed verdict: " + p.Reason
}

// Outcome is the result of Parse: exactly one of Verdict or Failure is set.
type Outcome struct {
	Verdict *Verdict
	Failure *ParseFailure
}

// Parse turns raw model output into a Verdict. The decision is read from
// the kind's own field ("urgent", "remind", "alert") or from a generic
// "act" field. Markdown code fences around the JSON are ignored.
func Parse(kind Kind, raw string) Outcome {
	fail := func(format string, args ...any) Outcome {
		return Outcome{Failure: &ParseFailure{Raw: raw, Reason: fmt.Sprintf(format, args...)}}
	}

	body := stripFences(raw)
	if body == "" {
		return fail("empty response")
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(body), &obj); err != nil {
		return fail("not a JSON object: %v", err)
	}

	field := string(kind)
	decision, ok := obj[field]
	if !ok {
		field = "act"
		decision, ok = obj[field]
	}
	if !ok {
		return fail("missing %q field", string(kind))
	}

	var v Verdict
	if err := json.Unmarshal(decision, &v.Act); err != nil {
		return fail("%q is not a boolean", field)
	}
	if err := optionalString(obj, "message", &v.Message); err != nil {
		return fail("%v", err)
	}
	if err := optionalString(obj, "reason", &v.Reason); err != nil {
		return fail("%v", err)
	}
	v.Message = strings.TrimSpace(v.Message)
	return Outcome{Verdict: &v}
}

func optionalString(obj map[string]json.RawMessage, name string, dst *string) error {
	raw, ok := obj[name]
	if !ok || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%q is not a string", name)
	}
	return nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		// Drop the info string, e.g. ```json.
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
