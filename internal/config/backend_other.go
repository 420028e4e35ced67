//go:build !darwin

package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

func defaultDataDir() string {
	return xdgDir("XDG_DATA_HOME", filepath.Join(".local", "share"), "grace-data")
}

func secretHint(account string) string {
	return fmt.Sprintf(" or %s (%s.%s)", secretsFilePath(), keychainService, account)
}

func configFilePath() string {
	return filepath.Join(xdgDir("XDG_CONFIG_HOME", ".config", "grace"), "config.json")
}

// fileBackend keeps settings in config.json, grouped by section:
//
//	{"schedule": {"email": "10m"}, "server": {"port": 5000}}
//
// Flat dotted keys ({"schedule.email": "10m"}) are read as well.
type fileBackend struct {
	path string
	vals map[string]any
}

func newPlatformBackend() ConfigBackend {
	b := &fileBackend{path: configFilePath(), vals: make(map[string]any)}
	b.load()
	return b
}

func (b *fileBackend) Location() string { return b.path }

func (b *fileBackend) load() {
	data, err := os.ReadFile(b.path)
	if err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "[WARN] ignoring unreadable config file %s: %v\n", b.path, err)
		}
		return
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		fmt.Fprintf(os.Stderr, "[WARN] ignoring malformed config file %s: %v\n", b.path, err)
		return
	}
	for name, v := range doc {
		section, ok := v.(map[string]any)
		if !ok {
			b.vals[name] = v
			continue
		}
		for field, fv := range section {
			b.vals[name+"."+field] = fv
		}
	}
}

func (b *fileBackend) save() error {
	doc := make(map[string]any)
	keys := make([]string, 0, len(b.vals))
	for k := range b.vals {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		name, field, ok := strings.Cut(k, ".")
		if !ok {
			doc[k] = b.vals[k]
			continue
		}
		section, _ := doc[name].(map[string]any)
		if section == nil {
			section = make(map[string]any)
			doc[name] = section
		}
		section[field] = b.vals[k]
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return writeFileAtomic(b.path, append(data, '\n'), 0o600)
}

func (b *fileBackend) GetString(key string) (string, bool, error) {
	v, ok := b.vals[key]
	if !ok {
		return "", false, nil
	}
	if s, ok := v.(string); ok {
		return s, true, nil
	}
	return fmt.Sprint(v), true, nil
}

func (b *fileBackend) GetInt(key string) (int, bool, error) {
	v, ok := b.vals[key]
	if !ok {
		return 0, false, nil
	}
	switch val := v.(type) {
	case float64:
		if val != math.Trunc(val) || val < math.MinInt || val > math.MaxInt {
			return 0, true, fmt.Errorf("%s: %v is not a whole number", key, val)
		}
		return int(val), true, nil
	case string:
		i, err := strconv.Atoi(val)
		if err != nil {
			return 0, true, fmt.Errorf("%s: %w", key, err)
		}
		return i, true, nil
	default:
		return 0, true, fmt.Errorf("%s: expected a number, got %T", key, v)
	}
}

func (b *fileBackend) SetString(key, val string) error {
	b.vals[key] = val
	return b.save()
}

func (b *fileBackend) SetInt(key string, val int) error {
	b.vals[key] = val
	return b.save()
}

func (b *fileBackend) Delete(key string) error {
	delete(b.vals, key)
	return b.save()
}
