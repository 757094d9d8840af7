package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/groupdesk/internal/api"
	"github.com/kalambet/groupdesk/internal/config"
)

const (
	shutdownTimeout = 5 * time.Second
	janitorInterval = 5 * time.Minute
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook server and archive poller (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the pipeline as MCP tools over stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMCP()
	},
}

var pollOnceCmd = &cobra.Command{
	Use:   "poll-once",
	Short: "Fetch and process one chat archive batch, then exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPollOnce()
	},
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	setupLogging(cfg.Log.Level, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := ensureClassifier(ctx, cfg.Classifier); err != nil {
		return fmt.Errorf("preparing classifier: %w", err)
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	a := buildApp(cfg, store)

	deps := api.Deps{
		Processor: a.processor,
		Drafts:    store,
		Owners:    a.owners,
		Health:    store,
		Token:     cfg.API.Token,
	}
	if a.poller != nil {
		deps.Archive = a.poller
	}
	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           api.NewHandler(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("groupdesk listening", "addr", srv.Addr, "storage", store.Driver(), "classifier", cfg.Classifier.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		slog.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	if a.poller != nil {
		g.Go(func() error {
			slog.Info("archive poller started", "gateway", cfg.Archive.GatewayURL, "interval", cfg.Archive.PollInterval())
			a.poller.Run(gctx)
			return nil
		})
	}
	g.Go(func() error {
		runJanitor(gctx, store, janitorInterval)
		return nil
	})
	return g.Wait()
}

// expirer is the slice of the store the janitor needs.
type expirer interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// runJanitor drops expired KV rows until ctx is cancelled.
func runJanitor(ctx context.Context, s expirer, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.PurgeExpired(ctx)
			if err != nil {
				if ctx.Err() == nil {
					slog.Warn("purging expired keys failed", "error", err)
				}
				continue
			}
			if n > 0 {
				slog.Debug("purged expired keys", "count", n)
			}
		}
	}
}

func runMCP() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	// stdout carries the MCP protocol.
	setupLogging(cfg.Log.Level, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	a := buildApp(cfg, store)
	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Processor: a.processor,
		Sessions:  a.sessions,
		Drafts:    store,
	})
	return server.NewStdioServer(mcpSrv).Listen(ctx, os.Stdin, os.Stdout)
}

func runPollOnce() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	setupLogging(cfg.Log.Level, os.Stderr)
	if cfg.Archive.GatewayURL == "" {
		return errors.New("archive.gateway_url is not set")
	}
	cfg.Archive.Enabled = true

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	stats, err := buildApp(cfg, store).poller.RunOnce(ctx)
	if err != nil {
		return err
	}
	if !stats.Leased {
		printWarning("another poller holds the archive lease")
		return nil
	}
	return printJSON(stats)
}
