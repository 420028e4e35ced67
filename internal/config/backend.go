package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// ConfigBackend stores non-secret settings under dotted keys such as
// "schedule.email". Secrets never go through it.
type ConfigBackend interface {
	GetString(key string) (val string, ok bool, err error)
	GetInt(key string) (val int, ok bool, err error)
	SetString(key, val string) error
	SetInt(key string, val int) error
	Delete(key string) error
	// Location names where the settings live, for display.
	Location() string
}

// Location reports where the platform backend keeps settings.
func Location() string {
	return newPlatformBackend().Location()
}

// xdgDir returns $env/grace, falling back to ~/<home>/grace and finally to
// fallback when no home directory is known.
func xdgDir(env, home, fallback string) string {
	if dir := os.Getenv(env); dir != "" {
		return filepath.Join(dir, "grace")
	}
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, home, "grace")
	}
	return fallback
}

// writeFileAtomic replaces path with data so readers see the old or the new
// file, never a partial one.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("creating temp file in %s: %w", dir, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", tmp.Name(), err)
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return fmt.Errorf("setting mode on %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	return nil
}
