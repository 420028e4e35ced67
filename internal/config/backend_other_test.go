//go:build !darwin

package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestFileBackend_RoundTrip(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	b := newPlatformBackend()
	if err := b.SetInt("server.port", 6123); err != nil {
		t.Fatalf("SetInt: %v", err)
	}
	if err := b.SetString("weather.city", "Boise"); err != nil {
		t.Fatalf("SetString: %v", err)
	}

	reloaded := newPlatformBackend()
	if v, ok, err := reloaded.GetInt("server.port"); err != nil || !ok || v != 6123 {
		t.Errorf("GetInt = %d, %v, %v", v, ok, err)
	}
	if v, ok, _ := reloaded.GetString("weather.city"); !ok || v != "Boise" {
		t.Errorf("GetString = %q, %v", v, ok)
	}

	if err := reloaded.Delete("weather.city"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := newPlatformBackend().GetString("weather.city"); ok {
		t.Error("key still present after Delete")
	}
}

func TestFileKeychain(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_DATA_HOME", dir)

	kc := NewKeychain()
	if _, err := kc.Get("grace", "gmail_access_token"); err == nil {
		t.Fatal("expected error before any secret is stored")
	}
	if err := kc.Set("grace", "gmail_access_token", "tok"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := kc.Get("grace", "gmail_access_token")
	if err != nil || got != "tok" {
		t.Fatalf("Get = %q, %v", got, err)
	}

	info, err := os.Stat(filepath.Join(dir, "grace", "secrets.json"))
	if err != nil {
		t.Fatalf("stat secrets file: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("secrets file mode = %o, want 600", perm)
	}
}

func TestFileBackend_WritesSections(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	b := newPlatformBackend()
	if err := b.SetString("schedule.email", "2m"); err != nil {
		t.Fatalf("SetString: %v", err)
	}
	if err := b.SetInt("server.port", 6123); err != nil {
		t.Fatalf("SetInt: %v", err)
	}

	path := filepath.Join(dir, "grace", "config.json")
	if got := b.Location(); got != path {
		t.Errorf("Location() = %q, want %q", got, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading config: %v", err)
	}
	var doc map[string]map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("config is not sectioned JSON: %v\n%s", err, data)
	}
	if doc["schedule"]["email"] != "2m" || doc["server"]["port"] != float64(6123) {
		t.Errorf("config = %s", data)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat config: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("config mode = %o, want 600", perm)
	}
}

func TestFileBackend_ReadsFlatKeys(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	if err := os.MkdirAll(filepath.Join(dir, "grace"), 0o700); err != nil {
		t.Fatal(err)
	}
	flat := `{"weather.city": "Boise", "server": {"port": 7001}}`
	if err := os.WriteFile(filepath.Join(dir, "grace", "config.json"), []byte(flat), 0o600); err != nil {
		t.Fatal(err)
	}

	b := newPlatformBackend()
	if v, ok, _ := b.GetString("weather.city"); !ok || v != "Boise" {
		t.Errorf("weather.city = %q, %v", v, ok)
	}
	if v, ok, err := b.GetInt("server.port"); err != nil || !ok || v != 7001 {
		t.Errorf("server.port = %d, %v, %v", v, ok, err)
	}
}

func TestFileKeychain_MissingSecret(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())

	if err := keychainSet("grace", "weather_api_key", "k"); err != nil {
		t.Fatalf("keychainSet: %v", err)
	}
	if _, err := keychainGet("grace", "lights_api_key"); !errors.Is(err, errSecretNotFound) {
		t.Errorf("err = %v, want errSecretNotFound", err)
	}
}

func TestFileKeychain_KeepsDamagedFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_DATA_HOME", dir)
	path := filepath.Join(dir, "grace", "secrets.json")
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}

	if err := keychainSet("grace", "api_token", "tok"); err == nil {
		t.Fatal("expected error writing over a damaged secrets file")
	}
	data, _ := os.ReadFile(path)
	if string(data) != "{not json" {
		t.Errorf("secrets file rewritten: %q", data)
	}
}
