package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Server     ServerConfig
	Log        LogConfig
	Storage    StorageConfig
	Store      StoreConfig
	Dedup      DedupConfig
	Context    ContextConfig
	Classifier ClassifierConfig
	Archive    ArchiveConfig
	Order      OrderConfig
	Notify     NotifyConfig
	API        APIConfig
}

type ServerConfig struct {
	Port int
	Bind string
}

// Addr is the HTTP listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Bind, s.Port)
}

type LogConfig struct {
	Level string
}

type StorageConfig struct {
	Driver  string
	DataDir string
	DSN     string
}

// Target is what storage.Open expects for the configured driver.
func (s StorageConfig) Target() string {
	if s.Driver == "postgres" {
		return s.DSN
	}
	return s.DataDir
}

type StoreConfig struct {
	KeyPrefix string
}

type DedupConfig struct {
	WindowSeconds int
}

func (d DedupConfig) Window() time.Duration { return time.Duration(d.WindowSeconds) * time.Second }

type ContextConfig struct {
	TTLMinutes int
}

func (c ContextConfig) TTL() time.Duration { return time.Duration(c.TTLMinutes) * time.Minute }

type ClassifierConfig struct {
	Backend        string
	BaseURL        string
	Model          string
	APIKey         string
	TimeoutSeconds int
	MaxImages      int
}

func (c ClassifierConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

type ArchiveConfig struct {
	Enabled         bool
	GatewayURL      string
	PollIntervalMs  int
	BatchLimit      int
	LeaseTTLSeconds int
	InitialCursor   int
	AllowedGroups   string
	MediaBaseURL    string
	SkipBeforeMs    int
}

func (a ArchiveConfig) PollInterval() time.Duration {
	return time.Duration(a.PollIntervalMs) * time.Millisecond
}

func (a ArchiveConfig) LeaseTTL() time.Duration {
	return time.Duration(a.LeaseTTLSeconds) * time.Second
}

// Groups splits the comma-separated allow list.
func (a ArchiveConfig) Groups() []string {
	var out []string
	for _, g := range strings.Split(a.AllowedGroups, ",") {
		if g = strings.TrimSpace(g); g != "" {
			out = append(out, g)
		}
	}
	return out
}

type OrderConfig struct {
	Enabled        bool
	APIURL         string
	APIToken       string
	DefaultHouseID int
}

type NotifyConfig struct {
	Enabled       bool
	WebhookURL    string
	AppName       string
	RatePerMinute int
}

type APIConfig struct {
	// Token, when set, is required as a bearer token on management routes.
	Token string
}

func defaults() Config {
	return Config{
		Server:  ServerConfig{Port: 8080, Bind: "0.0.0.0"},
		Log:     LogConfig{Level: "info"},
		Storage: StorageConfig{Driver: "sqlite", DataDir: defaultDataDir()},
		Store:   StoreConfig{KeyPrefix: "groupdesk"},
		Dedup:   DedupConfig{WindowSeconds: 60},
		Context: ContextConfig{TTLMinutes: 30},
		Classifier: ClassifierConfig{
			Backend:        "ollama",
			BaseURL:        "http://localhost:11434",
			Model:          "qwen2.5vl:7b",
			TimeoutSeconds: 15,
			MaxImages:      4,
		},
		Archive: ArchiveConfig{
			PollIntervalMs:  30000,
			BatchLimit:      50,
			LeaseTTLSeconds: 50,
		},
		Order: OrderConfig{
			APIURL:         "http://localhost:8080/api/orders",
			DefaultHouseID: 918,
		},
		Notify: NotifyConfig{AppName: "AI助手", RatePerMinute: 20},
	}
}

// Load reads configuration from the JSON file at FilePath, then applies
// GROUPDESK_* environment overrides. Secrets are read from the environment
// only.
func Load() (Config, error) {
	return loadWith(newFileBackend(FilePath()))
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()
	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	switch c.Classifier.Backend {
	case "ollama":
	case "openai":
		if c.Classifier.APIKey == "" {
			errs = append(errs, errors.New("classifier.backend openai requires an API key; set GROUPDESK_CLASSIFIER_API_KEY"))
		}
	default:
		errs = append(errs, fmt.Errorf("classifier.backend must be openai or ollama, got %q", c.Classifier.Backend))
	}
	switch c.Storage.Driver {
	case "sqlite":
	case "postgres":
		if c.Storage.DSN == "" {
			errs = append(errs, errors.New("storage.driver postgres requires a DSN; set GROUPDESK_STORAGE_DSN"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver must be sqlite or postgres, got %q", c.Storage.Driver))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Classifier.TimeoutSeconds <= 0 {
		errs = append(errs, errors.New("classifier.timeout_seconds must be positive"))
	}
	if c.Archive.Enabled && c.Archive.GatewayURL == "" {
		errs = append(errs, errors.New("archive.enabled requires archive.gateway_url"))
	}
	if c.Order.Enabled && c.Order.APIURL == "" {
		errs = append(errs, errors.New("order.enabled requires order.api_url"))
	}
	if c.Notify.Enabled && c.Notify.WebhookURL == "" {
		errs = append(errs, errors.New("notify.enabled requires GROUPDESK_NOTIFY_WEBHOOK_URL"))
	}
	return errors.Join(errs...)
}
