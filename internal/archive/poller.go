package archive

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/groupdesk/internal/kv"
	"github.com/kalambet/groupdesk/internal/pipeline"
	"github.com/kalambet/groupdesk/internal/router"
)

// Source returns archive pages.
type Source interface {
	Fetch(ctx context.Context, seq int64, limit int) (Batch, error)
}

// Processor handles one parsed message.
type Processor interface {
	Process(ctx context.Context, msg router.Message) (pipeline.Result, error)
}

// Config tunes the Poller. Zero values take the defaults below.
type Config struct {
	Interval      time.Duration
	BatchLimit    int
	LeaseTTL      time.Duration
	InitialCursor int64
	// AllowedGroups restricts processing to these room ids when non-empty.
	AllowedGroups    []string
	SkipBeforeMillis int64
	MediaBaseURL     string
}

const (
	DefaultInterval   = 30 * time.Second
	DefaultBatchLimit = 50
	DefaultLeaseTTL   = 50 * time.Second
)

// Stats summarizes one poll.
type Stats struct {
	Leased    bool  `json:"leased"`
	Cursor    int64 `json:"cursor"`
	NextSeq   int64 `json:"nextSeq"`
	Fetched   int   `json:"fetched"`
	Processed int   `json:"processed"`
	Skipped   int   `json:"skipped"`
	Failed    int   `json:"failed"`
}

// Poller pulls archive batches under a store-wide lease so only one replica
// consumes the archive at a time.
type Poller struct {
	store     kv.Store
	keys      kv.Keyspace
	source    Source
	processor Processor
	parser    Parser
	cfg       Config
	allowed   map[string]bool
	logger    *slog.Logger
}

// NewPoller creates a Poller.
func NewPoller(store kv.Store, keys kv.Keyspace, source Source, processor Processor, cfg Config) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = DefaultBatchLimit
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = DefaultLeaseTTL
	}
	var allowed map[string]bool
	for _, g := range cfg.AllowedGroups {
		if g = strings.TrimSpace(g); g != "" {
			if allowed == nil {
				allowed = make(map[string]bool)
			}
			allowed[g] = true
		}
	}
	return &Poller{
		store:     store,
		keys:      keys,
		source:    source,
		processor: processor,
		parser:    Parser{MediaBaseURL: cfg.MediaBaseURL},
		cfg:       cfg,
		allowed:   allowed,
		logger:    slog.Default(),
	}
}

// Run polls every interval until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()
	for {
		if _, err := p.RunOnce(ctx); err != nil && ctx.Err() == nil {
			p.logger.Error("archive poll failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce fetches and processes one batch. It returns with Leased false when
// another poller holds the lease.
func (p *Poller) RunOnce(ctx context.Context) (Stats, error) {
	token := uuid.NewString()
	ok, err := p.store.SetNX(ctx, p.keys.ArchiveLease(), token, p.cfg.LeaseTTL)
	if err != nil {
		return Stats{}, fmt.Errorf("acquiring archive lease: %w", err)
	}
	if !ok {
		p.logger.Debug("archive lease held elsewhere, skipping poll")
		return Stats{}, nil
	}
	defer p.release(token)

	stats := Stats{Leased: true}
	rawCursor, cursor := p.cursor(ctx)
	stats.Cursor = cursor

	batch, err := p.source.Fetch(ctx, cursor, p.cfg.BatchLimit)
	if err != nil {
		return stats, err
	}
	stats.NextSeq = batch.NextSeq
	stats.Fetched = len(batch.Items)

	for _, item := range batch.Items {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		msg, ok := p.parser.Parse(item.Decrypted)
		if !ok || !p.accept(msg) {
			stats.Skipped++
			continue
		}
		res, err := p.processor.Process(ctx, msg)
		if err != nil {
			stats.Failed++
			p.logger.Warn("archived message failed", "seq", item.Seq, "msg_id", item.MsgID, "error", err)
			continue
		}
		stats.Processed++
		p.logger.Debug("archived message processed", "seq", item.Seq, "status", res.Status, "trace_id", res.TraceID)
	}

	if batch.NextSeq > cursor {
		swapped, err := p.store.CompareAndSwap(ctx, p.keys.ArchiveCursor(), rawCursor,
			strconv.FormatInt(batch.NextSeq, 10), 0)
		if err != nil {
			return stats, fmt.Errorf("advancing archive cursor: %w", err)
		}
		if !swapped {
			p.logger.Warn("archive cursor moved during poll, not advancing", "cursor", cursor, "next_seq", batch.NextSeq)
		}
	}

	p.logger.Info("archive poll complete", "cursor", cursor, "next_seq", batch.NextSeq,
		"processed", stats.Processed, "skipped", stats.Skipped, "failed", stats.Failed)
	return stats, nil
}

// cursor returns the stored raw value and the parsed sequence, falling back
// to the configured initial cursor when the store is unreachable or the
// value is absent or unparseable.
func (p *Poller) cursor(ctx context.Context) (string, int64) {
	raw, ok, err := p.store.Get(ctx, p.keys.ArchiveCursor())
	if err != nil {
		p.logger.Warn("archive cursor unreadable, using initial value", "error", err)
		return "", p.cfg.InitialCursor
	}
	if !ok {
		return "", p.cfg.InitialCursor
	}
	seq, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		p.logger.Warn("invalid archive cursor, using initial value", "value", raw)
		return raw, p.cfg.InitialCursor
	}
	return raw, seq
}

func (p *Poller) accept(msg router.Message) bool {
	if p.allowed != nil && !p.allowed[msg.GroupID] {
		return false
	}
	if p.cfg.SkipBeforeMillis > 0 && msg.TimestampMillis < p.cfg.SkipBeforeMillis {
		return false
	}
	return true
}

// release drops the lease if this poller still holds it.
func (p *Poller) release(token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	held, ok, err := p.store.Get(ctx, p.keys.ArchiveLease())
	if err != nil || !ok || held != token {
		return
	}
	if err := p.store.Delete(ctx, p.keys.ArchiveLease()); err != nil {
		p.logger.Warn("releasing archive lease failed", "error", err)
	}
}
