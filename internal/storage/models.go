package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Memory is one decrypted entry of the memories table.
type Memory struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	Category  string          `json:"category"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Conversation is one chat exchange. Conversations are append-only.
type Conversation struct {
	ID           string    `json:"id"`
	UserText     string    `json:"user"`
	ResponseText string    `json:"bot"`
	CreatedAt    time.Time `json:"timestamp"`
}

// PersistenceError reports that the database could not be read or written.
// State written during the failing operation is unknown to the caller.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// DecryptionError reports a stored value that exists but cannot be decrypted
// or decoded with the active key.
type DecryptionError struct {
	Key string
	Err error
}

func (e *DecryptionError) Error() string {
	return fmt.Sprintf("storage: decrypting %q: %v", e.Key, e.Err)
}

func (e *DecryptionError) Unwrap() error { return e.Err }

func persistErr(op string, err error) error {
	return &PersistenceError{Op: op, Err: err}
}
