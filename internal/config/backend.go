package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

// ConfigBackend is where non-secret settings persist between runs.
type ConfigBackend interface {
	GetString(key string) (val string, ok bool, err error)
	GetInt(key string) (val int, ok bool, err error)
	GetBool(key string) (val bool, ok bool, err error)
	Set(key string, val any) error
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "groupdesk-data"
		}
		dir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dir, "groupdesk")
}

// FilePath is where the config file lives.
func FilePath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(".", "groupdesk.json")
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "groupdesk", "config.json")
}

// fileBackend keeps dotted keys in one flat JSON object. Values stay raw
// until read so "9000" and 9000 are both accepted for integer keys.
type fileBackend struct {
	path string

	mu   sync.Mutex
	data map[string]json.RawMessage
}

func newFileBackend(path string) *fileBackend {
	b := &fileBackend{path: path, data: make(map[string]json.RawMessage)}
	raw, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		slog.Warn("config file unreadable, using defaults", "path", path, "error", err)
	default:
		if err := json.Unmarshal(raw, &b.data); err != nil {
			slog.Warn("config file is not valid JSON, using defaults", "path", path, "error", err)
			b.data = make(map[string]json.RawMessage)
		}
	}
	return b
}

func (b *fileBackend) lookup(key string) (json.RawMessage, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.data[key]
	return v, ok
}

// text returns a JSON string's value, or the literal for numbers and bools.
func text(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func (b *fileBackend) GetString(key string) (string, bool, error) {
	raw, ok := b.lookup(key)
	if !ok {
		return "", false, nil
	}
	return text(raw), true, nil
}

func (b *fileBackend) GetInt(key string) (int, bool, error) {
	raw, ok := b.lookup(key)
	if !ok {
		return 0, false, nil
	}
	i, err := strconv.Atoi(text(raw))
	if err != nil {
		return 0, true, fmt.Errorf("%s is not an integer: %s", key, raw)
	}
	return i, true, nil
}

func (b *fileBackend) GetBool(key string) (bool, bool, error) {
	raw, ok := b.lookup(key)
	if !ok {
		return false, false, nil
	}
	v, err := strconv.ParseBool(text(raw))
	if err != nil {
		return false, true, fmt.Errorf("%s is not a boolean: %s", key, raw)
	}
	return v, true, nil
}

// Set stores val and rewrites the file through a temp file and rename.
func (b *fileBackend) Set(key string, val any) error {
	encoded, err := json.Marshal(val)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[key] = encoded

	out, err := json.MarshalIndent(b.data, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(b.path), 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(b.path), ".config-*.json")
	if err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(append(out, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("writing config: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("writing config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return os.Rename(tmp.Name(), b.path)
}
