// Package seal encrypts values at rest with a process-wide age X25519
// identity. The identity lives in a key file that is generated on first use
// and reused on every later start.
package seal

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"
)

// ErrOpen is wrapped by every failure to decrypt a sealed value.
var ErrOpen = errors.New("seal: cannot open ciphertext")

// Sealer encrypts and decrypts byte slices with a single age identity.
type Sealer struct {
	identity  *age.X25519Identity
	recipient *age.X25519Recipient
}

// LoadOrCreate reads the identity from path, or generates a new one and
// persists it there with mode 0600 when the file does not exist yet.
func LoadOrCreate(path string) (*Sealer, error) {
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		identity, err := age.ParseX25519Identity(strings.TrimSpace(string(data)))
		if err != nil {
			return nil, fmt.Errorf("parsing key file %s: %w", path, err)
		}
		return newSealer(identity), nil
	case errors.Is(err, os.ErrNotExist):
		return create(path)
	default:
		return nil, fmt.Errorf("reading key file %s: %w", path, err)
	}
}

// Generate returns a Sealer with a fresh in-memory identity that is never
// written to disk. Used for in-memory stores.
func Generate() (*Sealer, error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("generating age identity: %w", err)
	}
	return newSealer(identity), nil
}

func create(path string) (*Sealer, error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("generating age identity: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating key directory: %w", err)
	}
	// O_EXCL so two processes racing on first start cannot both win.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if errors.Is(err, os.ErrExist) {
		return LoadOrCreate(path)
	}
	if err != nil {
		return nil, fmt.Errorf("creating key file %s: %w", path, err)
	}
	if _, err := fmt.Fprintln(f, identity.String()); err != nil {
		f.Close()
		return nil, fmt.Errorf("writing key file %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("closing key file %s: %w", path, err)
	}
	return newSealer(identity), nil
}

func newSealer(identity *age.X25519Identity) *Sealer {
	return &Sealer{identity: identity, recipient: identity.Recipient()}
}

// Recipient returns the public half of the identity (age1... form).
func (s *Sealer) Recipient() string {
	return s.recipient.String()
}

// Seal encrypts plaintext to the Sealer's own recipient.
func (s *Sealer) Seal(plaintext []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, s.recipient)
	if err != nil {
		return nil, fmt.Errorf("creating age encryptor: %w", err)
	}
	if _, err := w.Write(plaintext); err != nil {
		return nil, fmt.Errorf("writing plaintext to age encryptor: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finalizing age encryption: %w", err)
	}
	return buf.Bytes(), nil
}

// Open decrypts ciphertext produced by Seal. Any failure, including a key
// mismatch after the key file was replaced, wraps ErrOpen.
func (s *Sealer) Open(ciphertext []byte) ([]byte, error) {
	r, err := age.Decrypt(bytes.NewReader(ciphertext), s.identity)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOpen, err)
	}
	plaintext, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: reading plaintext: %v", ErrOpen, err)
	}
	return plaintext, nil
}
