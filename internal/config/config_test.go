package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTempConfig(t *testing.T, content string) *fileBackend {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return newFileBackend(path)
}

// TestDefaults verifies all default values are applied when loading an empty config file.
func TestDefaults(t *testing.T) {
	cfg, err := loadWith(writeTempConfig(t, `{}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Storage.Driver != "sqlite" {
		t.Errorf("Storage.Driver = %q, want sqlite", cfg.Storage.Driver)
	}
	if cfg.Classifier.Backend != "ollama" || cfg.Classifier.TimeoutSeconds != 15 || cfg.Classifier.MaxImages != 4 {
		t.Errorf("Classifier = %+v", cfg.Classifier)
	}
	if cfg.Dedup.Window().Seconds() != 60 {
		t.Errorf("Dedup.Window = %v, want 60s", cfg.Dedup.Window())
	}
	if cfg.Context.TTL().Minutes() != 30 {
		t.Errorf("Context.TTL = %v, want 30m", cfg.Context.TTL())
	}
	if cfg.Order.DefaultHouseID != 918 {
		t.Errorf("Order.DefaultHouseID = %d, want 918", cfg.Order.DefaultHouseID)
	}
	if cfg.Archive.Enabled || cfg.Order.Enabled || cfg.Notify.Enabled {
		t.Error("integrations should default to disabled")
	}
}

func TestFileValues(t *testing.T) {
	b := writeTempConfig(t, `{
		"server.port": 9000,
		"classifier.model": "qwen2.5vl:32b",
		"archive.enabled": "true",
		"archive.gateway_url": "http://gw:9000",
		"archive.allowed_groups": "wr_a, wr_b,,",
		"archive.poll_interval_ms": "5000"
	}`)
	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d", cfg.Server.Port)
	}
	if cfg.Classifier.Model != "qwen2.5vl:32b" {
		t.Errorf("Classifier.Model = %q", cfg.Classifier.Model)
	}
	if !cfg.Archive.Enabled || cfg.Archive.PollInterval().Seconds() != 5 {
		t.Errorf("Archive = %+v", cfg.Archive)
	}
	groups := cfg.Archive.Groups()
	if len(groups) != 2 || groups[0] != "wr_a" || groups[1] != "wr_b" {
		t.Errorf("Groups = %v", groups)
	}
}

// TestEnvOverride verifies that environment variables override config file values.
func TestEnvOverride(t *testing.T) {
	b := writeTempConfig(t, `{"server.port": 9000}`)
	t.Setenv("GROUPDESK_SERVER_PORT", "7070")
	t.Setenv("GROUPDESK_ORDER_ENABLED", "true")
	t.Setenv("GROUPDESK_ORDER_API_TOKEN", "tok")

	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("Server.Port = %d, want 7070", cfg.Server.Port)
	}
	if !cfg.Order.Enabled || cfg.Order.APIToken != "tok" {
		t.Errorf("Order = %+v", cfg.Order)
	}
}

func TestSecretsIgnoredInFile(t *testing.T) {
	b := writeTempConfig(t, `{"classifier.api_key": "from-file", "api.token": "from-file"}`)
	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Classifier.APIKey != "" || cfg.API.Token != "" {
		t.Errorf("secrets read from file: %q %q", cfg.Classifier.APIKey, cfg.API.Token)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"openai without key", map[string]string{"GROUPDESK_CLASSIFIER_BACKEND": "openai"}, "requires an API key"},
		{"unknown backend", map[string]string{"GROUPDESK_CLASSIFIER_BACKEND": "bard"}, "must be openai or ollama"},
		{"postgres without dsn", map[string]string{"GROUPDESK_STORAGE_DRIVER": "postgres"}, "requires a DSN"},
		{"unknown driver", map[string]string{"GROUPDESK_STORAGE_DRIVER": "mysql"}, "must be sqlite or postgres"},
		{"archive without gateway", map[string]string{"GROUPDESK_ARCHIVE_ENABLED": "1"}, "archive.gateway_url"},
		{"notify without webhook", map[string]string{"GROUPDESK_NOTIFY_ENABLED": "true"}, "WEBHOOK_URL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := loadWith(writeTempConfig(t, `{}`))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want it to contain %q", err, tt.want)
			}
		})
	}
}

func TestOpenAIWithKeyIsValid(t *testing.T) {
	t.Setenv("GROUPDESK_CLASSIFIER_BACKEND", "openai")
	t.Setenv("GROUPDESK_CLASSIFIER_API_KEY", "sk-test")
	if _, err := loadWith(writeTempConfig(t, `{}`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSetKey(t *testing.T) {
	b := writeTempConfig(t, `{}`)

	if err := setKeyWith(b, "server.port", "9100"); err != nil {
		t.Fatalf("set int: %v", err)
	}
	if err := setKeyWith(b, "notify.enabled", "yes"); err == nil {
		t.Error("expected error for invalid bool")
	}
	if err := setKeyWith(b, "archive.enabled", "true"); err != nil {
		t.Fatalf("set bool: %v", err)
	}
	if err := setKeyWith(b, "classifier.api_key", "x"); err == nil || !strings.Contains(err.Error(), "GROUPDESK_CLASSIFIER_API_KEY") {
		t.Errorf("secret set error = %v", err)
	}
	if err := setKeyWith(b, "nope", "x"); err == nil {
		t.Error("expected error for unknown key")
	}

	reloaded := newFileBackend(b.path)
	if v, ok, _ := reloaded.GetInt("server.port"); !ok || v != 9100 {
		t.Errorf("server.port = %d, %v", v, ok)
	}
	if v, ok, _ := reloaded.GetString("archive.enabled"); !ok || v != "true" {
		t.Errorf("archive.enabled = %q, %v", v, ok)
	}
}

func TestShowAllMasksSecrets(t *testing.T) {
	cfg := defaults()
	cfg.Classifier.APIKey = "sk-live"
	for _, k := range ShowAll(cfg) {
		if strings.Contains(k.Value, "sk-live") {
			t.Errorf("%s leaks secret", k.Key)
		}
		if k.Key == "storage.dsn" && k.Value != "(unset)" {
			t.Errorf("storage.dsn = %q, want (unset)", k.Value)
		}
	}
	for _, k := range ValidKeys() {
		if k == "api.token" {
			t.Error("ValidKeys lists a secret")
		}
	}
}

func TestFileBackend_TypedReads(t *testing.T) {
	b := writeTempConfig(t, `{"a": true, "b": "false", "c": 12, "d": "x"}`)

	if v, ok, err := b.GetBool("a"); err != nil || !ok || !v {
		t.Errorf("GetBool(a) = %v, %v, %v", v, ok, err)
	}
	if v, ok, err := b.GetBool("b"); err != nil || !ok || v {
		t.Errorf("GetBool(b) = %v, %v, %v", v, ok, err)
	}
	if v, ok, err := b.GetInt("c"); err != nil || !ok || v != 12 {
		t.Errorf("GetInt(c) = %v, %v, %v", v, ok, err)
	}
	if _, ok, err := b.GetInt("d"); !ok || err == nil {
		t.Errorf("GetInt(d) should fail, got ok=%v err=%v", ok, err)
	}
	if _, ok, err := b.GetString("missing"); ok || err != nil {
		t.Errorf("GetString(missing) = %v, %v", ok, err)
	}
}

func TestFileBackend_MalformedFileFallsBackToDefaults(t *testing.T) {
	cfg, err := loadWith(writeTempConfig(t, `{not json`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
}

func TestFileBackend_SetCreatesDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")
	b := newFileBackend(path)
	if err := b.Set("log.level", "debug"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("mode = %v, want 0600", info.Mode().Perm())
	}
	if v, ok, _ := newFileBackend(path).GetString("log.level"); !ok || v != "debug" {
		t.Errorf("log.level = %q, %v", v, ok)
	}
}
