//go:build !darwin

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

func secretsFilePath() string {
	return filepath.Join(xdgDir("XDG_DATA_HOME", filepath.Join(".local", "share"), "grace"), "secrets.json")
}

var errSecretNotFound = errors.New("secret not found")

// secretsFile is the on-disk secret store used where no OS keychain is
// available: {"<service>": {"<account>": "<value>"}}, mode 0600.
type secretsFile map[string]map[string]string

func readSecrets(path string) (secretsFile, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return secretsFile{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var s secretsFile
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if s == nil {
		s = secretsFile{}
	}
	return s, nil
}

func keychainGet(service, account string) ([]byte, error) {
	s, err := readSecrets(secretsFilePath())
	if err != nil {
		return nil, err
	}
	val, ok := s[service][account]
	if !ok {
		return nil, fmt.Errorf("%s.%s: %w", service, account, errSecretNotFound)
	}
	return []byte(val), nil
}

// keychainSet refuses to overwrite a secrets file it cannot parse, so a
// damaged file never loses the other credentials.
func keychainSet(service, account, value string) error {
	path := secretsFilePath()
	s, err := readSecrets(path)
	if err != nil {
		return err
	}
	if s[service] == nil {
		s[service] = make(map[string]string)
	}
	s[service][account] = value

	out, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding secrets: %w", err)
	}
	return writeFileAtomic(path, append(out, '\n'), 0o600)
}
