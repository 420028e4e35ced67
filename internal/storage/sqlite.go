package storage

import (
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Cipher encrypts values before they are written and decrypts them after
// they are read. Implemented by seal.Sealer.
type Cipher interface {
	Seal(plaintext []byte) ([]byte, error)
	Open(ciphertext []byte) ([]byte, error)
}

// Store wraps a SQLite database holding encrypted memories and the
// conversation log.
type Store struct {
	db     *sql.DB
	cipher Cipher
	logger *slog.Logger
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string, cipher Cipher) (*Store, error) {
	if cipher == nil {
		return nil, errors.New("opening storage: cipher is required")
	}

	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "grace.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db, cipher: cipher, logger: slog.Default()}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Memories ---

// Put stores value under key, replacing any previous value and category.
// created_at is kept on overwrite; updated_at always moves forward.
func (s *Store) Put(key string, value any, category string) error {
	if category == "" {
		category = "general"
	}
	plaintext, err := json.Marshal(value)
	if err != nil {
		return persistErr("encoding value for "+key, err)
	}
	ciphertext, err := s.cipher.Seal(plaintext)
	if err != nil {
		return persistErr("encrypting value for "+key, err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	_, err = s.db.Exec(`
		INSERT INTO memories (key, encrypted_value, category, created_at, updated_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			encrypted_value = excluded.encrypted_value,
			category = excluded.category,
			updated_at = excluded.updated_at`,
		key, ciphertext, category, now, now,
	)
	if err != nil {
		return persistErr("writing "+key, err)
	}
	return nil
}

// Get returns the decrypted JSON value stored under key. It returns
// ErrNotFound when the key is absent and a *DecryptionError when the stored
// ciphertext cannot be opened with the active key.
func (s *Store) Get(key string) (json.RawMessage, error) {
	var ciphertext []byte
	err := s.db.QueryRow("SELECT encrypted_value FROM memories WHERE key = ?", key).Scan(&ciphertext)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, persistErr("reading "+key, err)
	}
	return s.decode(key, ciphertext)
}

// GetInto decodes the value stored under key into dst.
func (s *Store) GetInto(key string, dst any) error {
	raw, err := s.Get(key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return &DecryptionError{Key: key, Err: err}
	}
	return nil
}

// GetByCategory returns every readable value in category keyed by memory key.
// Rows that cannot be decrypted are skipped.
func (s *Store) GetByCategory(category string) (map[string]json.RawMessage, error) {
	memories, err := s.ListMemories(category)
	if err != nil {
		return nil, err
	}
	result := make(map[string]json.RawMessage, len(memories))
	for _, m := range memories {
		result[m.Key] = m.Value
	}
	return result, nil
}

// ListMemories returns all readable memories, optionally filtered by
// category, ordered by key. Rows that cannot be decrypted are logged and
// skipped.
func (s *Store) ListMemories(category string) ([]Memory, error) {
	query := "SELECT key, encrypted_value, category, created_at, updated_at FROM memories"
	var args []any
	if category != "" {
		query += " WHERE category = ?"
		args = append(args, category)
	}
	query += " ORDER BY key ASC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, persistErr("listing memories", err)
	}
	defer rows.Close()

	var results []Memory
	for rows.Next() {
		var (
			m                    Memory
			ciphertext           []byte
			createdAt, updatedAt string
		)
		if err := rows.Scan(&m.Key, &ciphertext, &m.Category, &createdAt, &updatedAt); err != nil {
			return nil, persistErr("scanning memory", err)
		}
		value, err := s.decode(m.Key, ciphertext)
		if err != nil {
			s.logger.Warn("skipping unreadable memory", "key", m.Key, "error", err)
			continue
		}
		m.Value = value
		m.CreatedAt = parseTime(createdAt)
		m.UpdatedAt = parseTime(updatedAt)
		results = append(results, m)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("listing memories", err)
	}
	return results, nil
}

// Count returns the total number of stored memories, readable or not.
func (s *Store) Count() (int, error) {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM memories").Scan(&n); err != nil {
		return 0, persistErr("counting memories", err)
	}
	return n, nil
}

func (s *Store) decode(key string, ciphertext []byte) (json.RawMessage, error) {
	plaintext, err := s.cipher.Open(ciphertext)
	if err != nil {
		return nil, &DecryptionError{Key: key, Err: err}
	}
	if !json.Valid(plaintext) {
		return nil, &DecryptionError{Key: key, Err: errors.New("decrypted value is not valid JSON")}
	}
	return json.RawMessage(plaintext), nil
}

// --- Conversations ---

// AppendConversation records one exchange with a server-assigned ID and timestamp.
func (s *Store) AppendConversation(userText, responseText string) (Conversation, error) {
	c := Conversation{
		ID:           uuid.New().String(),
		UserText:     userText,
		ResponseText: responseText,
		CreatedAt:    time.Now().UTC().Truncate(time.Second),
	}
	userCT, err := s.cipher.Seal([]byte(userText))
	if err != nil {
		return Conversation{}, persistErr("encrypting conversation", err)
	}
	respCT, err := s.cipher.Seal([]byte(responseText))
	if err != nil {
		return Conversation{}, persistErr("encrypting conversation", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO conversations (id, user_text, response_text, created_at) VALUES (?, ?, ?, ?)`,
		c.ID, userCT, respCT, c.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return Conversation{}, persistErr("appending conversation", err)
	}
	return c, nil
}

// RecentConversations returns up to limit of the newest turns, oldest first.
// Turns that cannot be decrypted are skipped.
func (s *Store) RecentConversations(limit int) ([]Conversation, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.Query(`
		SELECT id, user_text, response_text, created_at
		FROM conversations ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, persistErr("reading conversations", err)
	}
	defer rows.Close()

	var newestFirst []Conversation
	for rows.Next() {
		var (
			c              Conversation
			userCT, respCT []byte
			createdAt      string
		)
		if err := rows.Scan(&c.ID, &userCT, &respCT, &createdAt); err != nil {
			return nil, persistErr("scanning conversation", err)
		}
		user, err := s.cipher.Open(userCT)
		if err != nil {
			s.logger.Warn("skipping unreadable conversation", "id", c.ID, "error", err)
			continue
		}
		resp, err := s.cipher.Open(respCT)
		if err != nil {
			s.logger.Warn("skipping unreadable conversation", "id", c.ID, "error", err)
			continue
		}
		c.UserText = string(user)
		c.ResponseText = string(resp)
		c.CreatedAt = parseTime(createdAt)
		newestFirst = append(newestFirst, c)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("reading conversations", err)
	}

	out := make([]Conversation, len(newestFirst))
	for i, c := range newestFirst {
		out[len(newestFirst)-1-i] = c
	}
	return out, nil
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
