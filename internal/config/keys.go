package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "GROUPDESK_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.bind", typ: kString, env: "GROUPDESK_SERVER_BIND",
		apply:   func(cfg *Config, v any) { cfg.Server.Bind = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Bind },
	},
	{
		key: "log.level", typ: kString, env: "GROUPDESK_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "storage.driver", typ: kString, env: "GROUPDESK_STORAGE_DRIVER",
		apply:   func(cfg *Config, v any) { cfg.Storage.Driver = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.Driver },
	},
	{
		key: "storage.data_dir", typ: kString, env: "GROUPDESK_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "storage.dsn", typ: kString, env: "GROUPDESK_STORAGE_DSN",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Storage.DSN = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DSN },
	},
	{
		key: "store.key_prefix", typ: kString, env: "GROUPDESK_STORE_KEY_PREFIX",
		apply:   func(cfg *Config, v any) { cfg.Store.KeyPrefix = v.(string) },
		extract: func(cfg Config) any { return cfg.Store.KeyPrefix },
	},
	{
		key: "dedup.window_seconds", typ: kInt, env: "GROUPDESK_DEDUP_WINDOW_SECONDS",
		apply:   func(cfg *Config, v any) { cfg.Dedup.WindowSeconds = v.(int) },
		extract: func(cfg Config) any { return cfg.Dedup.WindowSeconds },
	},
	{
		key: "context.ttl_minutes", typ: kInt, env: "GROUPDESK_CONTEXT_TTL_MINUTES",
		apply:   func(cfg *Config, v any) { cfg.Context.TTLMinutes = v.(int) },
		extract: func(cfg Config) any { return cfg.Context.TTLMinutes },
	},
	{
		key: "classifier.backend", typ: kString, env: "GROUPDESK_CLASSIFIER_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Classifier.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Classifier.Backend },
	},
	{
		key: "classifier.base_url", typ: kString, env: "GROUPDESK_CLASSIFIER_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Classifier.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Classifier.BaseURL },
	},
	{
		key: "classifier.model", typ: kString, env: "GROUPDESK_CLASSIFIER_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Classifier.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Classifier.Model },
	},
	{
		key: "classifier.api_key", typ: kString, env: "GROUPDESK_CLASSIFIER_API_KEY",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Classifier.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Classifier.APIKey },
	},
	{
		key: "classifier.timeout_seconds", typ: kInt, env: "GROUPDESK_CLASSIFIER_TIMEOUT_SECONDS",
		apply:   func(cfg *Config, v any) { cfg.Classifier.TimeoutSeconds = v.(int) },
		extract: func(cfg Config) any { return cfg.Classifier.TimeoutSeconds },
	},
	{
		key: "classifier.max_images", typ: kInt, env: "GROUPDESK_CLASSIFIER_MAX_IMAGES",
		apply:   func(cfg *Config, v any) { cfg.Classifier.MaxImages = v.(int) },
		extract: func(cfg Config) any { return cfg.Classifier.MaxImages },
	},
	{
		key: "archive.enabled", typ: kBool, env: "GROUPDESK_ARCHIVE_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.Archive.Enabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.Archive.Enabled },
	},
	{
		key: "archive.gateway_url", typ: kString, env: "GROUPDESK_ARCHIVE_GATEWAY_URL",
		apply:   func(cfg *Config, v any) { cfg.Archive.GatewayURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Archive.GatewayURL },
	},
	{
		key: "archive.poll_interval_ms", typ: kInt, env: "GROUPDESK_ARCHIVE_POLL_INTERVAL_MS",
		apply:   func(cfg *Config, v any) { cfg.Archive.PollIntervalMs = v.(int) },
		extract: func(cfg Config) any { return cfg.Archive.PollIntervalMs },
	},
	{
		key: "archive.batch_limit", typ: kInt, env: "GROUPDESK_ARCHIVE_BATCH_LIMIT",
		apply:   func(cfg *Config, v any) { cfg.Archive.BatchLimit = v.(int) },
		extract: func(cfg Config) any { return cfg.Archive.BatchLimit },
	},
	{
		key: "archive.lease_ttl_seconds", typ: kInt, env: "GROUPDESK_ARCHIVE_LEASE_TTL_SECONDS",
		apply:   func(cfg *Config, v any) { cfg.Archive.LeaseTTLSeconds = v.(int) },
		extract: func(cfg Config) any { return cfg.Archive.LeaseTTLSeconds },
	},
	{
		key: "archive.initial_cursor", typ: kInt, env: "GROUPDESK_ARCHIVE_INITIAL_CURSOR",
		apply:   func(cfg *Config, v any) { cfg.Archive.InitialCursor = v.(int) },
		extract: func(cfg Config) any { return cfg.Archive.InitialCursor },
	},
	{
		key: "archive.allowed_groups", typ: kString, env: "GROUPDESK_ARCHIVE_ALLOWED_GROUPS",
		apply:   func(cfg *Config, v any) { cfg.Archive.AllowedGroups = v.(string) },
		extract: func(cfg Config) any { return cfg.Archive.AllowedGroups },
	},
	{
		key: "archive.media_base_url", typ: kString, env: "GROUPDESK_ARCHIVE_MEDIA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Archive.MediaBaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Archive.MediaBaseURL },
	},
	{
		key: "archive.skip_before_ms", typ: kInt, env: "GROUPDESK_ARCHIVE_SKIP_BEFORE_MS",
		apply:   func(cfg *Config, v any) { cfg.Archive.SkipBeforeMs = v.(int) },
		extract: func(cfg Config) any { return cfg.Archive.SkipBeforeMs },
	},
	{
		key: "order.enabled", typ: kBool, env: "GROUPDESK_ORDER_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.Order.Enabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.Order.Enabled },
	},
	{
		key: "order.api_url", typ: kString, env: "GROUPDESK_ORDER_API_URL",
		apply:   func(cfg *Config, v any) { cfg.Order.APIURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Order.APIURL },
	},
	{
		key: "order.api_token", typ: kString, env: "GROUPDESK_ORDER_API_TOKEN",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Order.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Order.APIToken },
	},
	{
		key: "order.default_house_id", typ: kInt, env: "GROUPDESK_ORDER_DEFAULT_HOUSE_ID",
		apply:   func(cfg *Config, v any) { cfg.Order.DefaultHouseID = v.(int) },
		extract: func(cfg Config) any { return cfg.Order.DefaultHouseID },
	},
	{
		key: "notify.enabled", typ: kBool, env: "GROUPDESK_NOTIFY_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.Notify.Enabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.Notify.Enabled },
	},
	{
		key: "notify.webhook_url", typ: kString, env: "GROUPDESK_NOTIFY_WEBHOOK_URL",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Notify.WebhookURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Notify.WebhookURL },
	},
	{
		key: "notify.app_name", typ: kString, env: "GROUPDESK_NOTIFY_APP_NAME",
		apply:   func(cfg *Config, v any) { cfg.Notify.AppName = v.(string) },
		extract: func(cfg Config) any { return cfg.Notify.AppName },
	},
	{
		key: "notify.rate_per_minute", typ: kInt, env: "GROUPDESK_NOTIFY_RATE_PER_MINUTE",
		apply:   func(cfg *Config, v any) { cfg.Notify.RatePerMinute = v.(int) },
		extract: func(cfg Config) any { return cfg.Notify.RatePerMinute },
	},
	{
		key: "api.token", typ: kString, env: "GROUPDESK_API_TOKEN",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.API.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.API.Token },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		var (
			v   any
			ok  bool
			err error
		)
		switch s.typ {
		case kString:
			v, ok, err = b.GetString(s.key)
		case kInt:
			v, ok, err = b.GetInt(s.key)
		case kBool:
			v, ok, err = b.GetBool(s.key)
		}
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if ok {
			s.apply(cfg, v)
		}
	}
	return nil
}

// applyEnvOverrides skips unparseable values with a warning.
func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				slog.Warn("ignoring non-integer env override", "env", s.env, "value", raw)
			}
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				slog.Warn("ignoring non-boolean env override", "env", s.env, "value", raw)
			}
		}
	}
}
