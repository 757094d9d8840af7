package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/kalambet/groupdesk/internal/archive"
	"github.com/kalambet/groupdesk/internal/classifier"
	"github.com/kalambet/groupdesk/internal/config"
	"github.com/kalambet/groupdesk/internal/dedup"
	"github.com/kalambet/groupdesk/internal/kv"
	"github.com/kalambet/groupdesk/internal/notify"
	"github.com/kalambet/groupdesk/internal/ollama"
	"github.com/kalambet/groupdesk/internal/order"
	"github.com/kalambet/groupdesk/internal/owner"
	"github.com/kalambet/groupdesk/internal/pipeline"
	"github.com/kalambet/groupdesk/internal/router"
	"github.com/kalambet/groupdesk/internal/session"
	"github.com/kalambet/groupdesk/internal/storage"
)

// app is the wired pipeline shared by serve, mcp and poll-once. poller is
// nil when archive polling is disabled.
type app struct {
	store     *storage.Store
	sessions  *session.Aggregator
	owners    *owner.Directory
	processor *pipeline.Processor
	poller    *archive.Poller
}

func setupLogging(level string, w *os.File) {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: l})))
}

func openStore(cfg config.Config) (*storage.Store, error) {
	store, err := storage.Open(cfg.Storage.Driver, cfg.Storage.Target())
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	return store, nil
}

func newBackend(cfg config.ClassifierConfig) classifier.Chatter {
	if cfg.Backend == "openai" {
		return classifier.NewOpenAIBackend(cfg.BaseURL, cfg.APIKey, cfg.Model)
	}
	return classifier.NewOllamaBackend(ollama.New(cfg.BaseURL), cfg.Model, &http.Client{Timeout: 10 * time.Second})
}

// ensureClassifier verifies the local model is available; cloud backends are
// checked lazily on the first call.
func ensureClassifier(ctx context.Context, cfg config.ClassifierConfig) error {
	if cfg.Backend != "ollama" {
		return nil
	}
	return ollama.EnsureModel(ctx, ollama.New(cfg.BaseURL), cfg.Model, os.Stderr)
}

func buildApp(cfg config.Config, store *storage.Store) *app {
	keys := kv.NewKeyspace(cfg.Store.KeyPrefix)
	sessions := session.NewAggregator(store, keys, cfg.Context.TTL())
	owners := owner.NewDirectory(store)

	r := router.New(router.Deps{
		Dedup:    dedup.NewFilter(store, keys, cfg.Dedup.Window()),
		Sessions: sessions,
		Owners:   owners,
		Classifier: classifier.New(newBackend(cfg.Classifier), classifier.Options{
			Timeout:   cfg.Classifier.Timeout(),
			MaxImages: cfg.Classifier.MaxImages,
		}),
	})

	deps := pipeline.Deps{
		Router:         r,
		Drafts:         store,
		Owners:         owners,
		DefaultHouseID: int64(cfg.Order.DefaultHouseID),
	}
	if cfg.Order.Enabled {
		deps.Orders = order.NewClient(cfg.Order.APIURL, cfg.Order.APIToken)
	}
	if cfg.Notify.Enabled {
		deps.Notifier = notify.NewRobot(cfg.Notify.WebhookURL, cfg.Notify.AppName, cfg.Notify.RatePerMinute)
	}
	a := &app{
		store:     store,
		sessions:  sessions,
		owners:    owners,
		processor: pipeline.New(deps),
	}

	if cfg.Archive.Enabled {
		a.poller = archive.NewPoller(store, keys, archive.NewGateway(cfg.Archive.GatewayURL), a.processor, archive.Config{
			Interval:         cfg.Archive.PollInterval(),
			BatchLimit:       cfg.Archive.BatchLimit,
			LeaseTTL:         cfg.Archive.LeaseTTL(),
			InitialCursor:    int64(cfg.Archive.InitialCursor),
			AllowedGroups:    cfg.Archive.Groups(),
			SkipBeforeMillis: int64(cfg.Archive.SkipBeforeMs),
			MediaBaseURL:     cfg.Archive.MediaBaseURL,
		})
	}
	return a
}
