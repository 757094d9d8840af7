package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/kalambet/groupdesk/internal/fault"
)

const (
	DefaultTimeout   = 15 * time.Second
	DefaultMaxImages = 4
)

var numericOnly = regexp.MustCompile(`^\d{1,10}$`)

// ChatRequest is one classification call to an LLM backend.
type ChatRequest struct {
	System string
	User   string
	Images []string
	Schema json.RawMessage
}

// Chatter is an LLM backend returning the raw assistant text.
type Chatter interface {
	Chat(ctx context.Context, req ChatRequest) (string, error)
}

// Input is what the router hands over for one message.
type Input struct {
	Prompt      string
	UserContent string
	Images      []string
	// RawContent and CurrentImage describe the current message alone.
	RawContent   string
	CurrentImage string
}

// Options tunes a Classifier.
type Options struct {
	Timeout   time.Duration
	MaxImages int
}

// Classifier invokes a backend once per message and parses its draft.
type Classifier struct {
	backend   Chatter
	timeout   time.Duration
	maxImages int
	logger    *slog.Logger
}

// New creates a Classifier. Zero options fall back to the defaults.
func New(backend Chatter, opts Options) *Classifier {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxImages <= 0 {
		opts.MaxImages = DefaultMaxImages
	}
	return &Classifier{
		backend:   backend,
		timeout:   opts.Timeout,
		maxImages: opts.MaxImages,
		logger:    slog.Default(),
	}
}

// Classify returns the draft for in. Digits-only messages without an image
// are answered locally as noise. Every backend or parse failure is a
// classifier fault; nothing is retried.
func (c *Classifier) Classify(ctx context.Context, in Input) (TicketDraft, error) {
	if in.CurrentImage == "" && numericOnly.MatchString(strings.TrimSpace(in.RawContent)) {
		c.logger.Debug("numeric-only message, skipping classifier")
		return NumericNoise(), nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	raw, err := c.backend.Chat(ctx, ChatRequest{
		System: in.Prompt,
		User:   in.UserContent,
		Images: c.attachable(in.Images),
		Schema: Schema(),
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return TicketDraft{}, fault.Wrap(fault.Classifier, "classify", fmt.Errorf("timed out after %s: %w", c.timeout, err))
		}
		return TicketDraft{}, fault.Wrap(fault.Classifier, "classify", err)
	}
	c.logger.Debug("classifier responded", "elapsed", time.Since(start), "bytes", len(raw))

	draft, err := ParseDraft(raw)
	if err != nil {
		c.logger.Warn("unparseable classifier output", "error", err, "response", raw)
		return TicketDraft{}, fault.Wrap(fault.Classifier, "parse draft", err)
	}
	if draft.Confidence < 0 || draft.Confidence > 1 {
		c.logger.Warn("clamping out-of-range confidence", "confidence", draft.Confidence)
		draft.Confidence = min(max(draft.Confidence, 0), 1)
	}
	return draft, nil
}

// attachable keeps http(s) URLs, capped at maxImages.
func (c *Classifier) attachable(urls []string) []string {
	var out []string
	for _, u := range urls {
		if len(out) == c.maxImages {
			break
		}
		if strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://") {
			out = append(out, u)
		}
	}
	return out
}

// ParseDraft decodes a draft from raw model output, tolerating a Markdown
// code fence around the JSON. An absent intent stays empty and routes like
// any non-noise intent; an unknown intent value is an error.
func ParseDraft(raw string) (TicketDraft, error) {
	text := stripFence(raw)
	if text == "" {
		return TicketDraft{}, errors.New("empty classifier response")
	}

	var d TicketDraft
	if err := json.Unmarshal([]byte(text), &d); err != nil {
		return TicketDraft{}, err
	}
	if d.MissingInfo == nil {
		d.MissingInfo = StringList{}
	}
	return d, nil
}

func stripFence(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
