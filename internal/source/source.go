// Package source fetches candidate events from external accounts and
// normalizes them for the event pipeline.
package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const httpTimeout = 15 * time.Second

// Event is one normalized external event. SourceID is stable and unique per
// physical event within its source.
type Event struct {
	SourceID  string `json:"source_id"`
	Title     string `json:"title"`
	Timestamp string `json:"timestamp"`
	Detail    string `json:"detail"`
	Sender    string `json:"sender,omitempty"`
}

// Source produces the current batch of candidate events. Every call performs
// a fresh fetch; events come back in provider order.
type Source interface {
	Name() string
	Fetch(ctx context.Context) ([]Event, error)
}

// FetchError reports that a source could not be reached or refused access.
type FetchError struct {
	Source string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetching %s: %v", e.Source, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// TokenProvider supplies an OAuth access token for a provider API.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenProvider for a pre-issued access token.
type StaticToken string

var errNoToken = errors.New("no access token configured")

// Token implements TokenProvider.
func (s StaticToken) Token(context.Context) (string, error) {
	if s == "" {
		return "", errNoToken
	}
	return string(s), nil
}

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: httpTimeout}
}

// getJSON performs an authenticated GET and decodes the JSON response.
func getJSON(ctx context.Context, client *http.Client, tokens TokenProvider, url string, dst any) error {
	token, err := tokens.Token(ctx)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<10))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, body)
	}

	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
