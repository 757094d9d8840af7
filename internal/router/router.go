// Package router decides, for each inbound message, which terminal outcome
// it reaches and what happens to the sender's pending context.
package router

import (
	"context"
	"log/slog"
	"time"

	"github.com/kalambet/groupdesk/internal/classifier"
	"github.com/kalambet/groupdesk/internal/prompt"
	"github.com/kalambet/groupdesk/internal/session"
)

// Outcome is the terminal state of one message.
type Outcome string

const (
	Filtered       Outcome = "FILTERED"
	NoiseDiscarded Outcome = "NOISE_DISCARDED"
	NeedsInfo      Outcome = "NEEDS_INFO"
	Saved          Outcome = "SAVED"
)

// Effect is what routing did to the sender's context.
type Effect string

const (
	EffectNone    Effect = "none"
	EffectCleared Effect = "cleared"
	EffectMerged  Effect = "merged"
	EffectReset   Effect = "reset"
)

// Decision is the result of routing one message.
type Decision struct {
	Outcome Outcome
	Effect  Effect
	// Draft is nil only for Filtered.
	Draft *classifier.TicketDraft
	// History is the merged conversation the classifier saw, current
	// message included.
	History string
	Images  []string
}

// Deduper marks message fingerprints.
type Deduper interface {
	CheckAndMark(ctx context.Context, senderID, content string) bool
}

// Sessions stores per-sender context windows.
type Sessions interface {
	Merge(ctx context.Context, senderID, content string, timestampMillis int64, imageURL string) error
	Read(ctx context.Context, senderID string) (*session.Window, error)
	Clear(ctx context.Context, senderID string) error
}

// Owners resolves a sender to an identity summary; "" when unknown.
type Owners interface {
	Summary(ctx context.Context, senderID string) string
}

// Classifier produces a draft for an assembled request.
type Classifier interface {
	Classify(ctx context.Context, in classifier.Input) (classifier.TicketDraft, error)
}

// Deps are the Router's collaborators.
type Deps struct {
	Dedup      Deduper
	Sessions   Sessions
	Owners     Owners
	Prompts    *prompt.Assembler
	Classifier Classifier
	Now        func() time.Time
}

// Router drives a message through dedup, context and classification.
type Router struct {
	dedup      Deduper
	sessions   Sessions
	owners     Owners
	prompts    *prompt.Assembler
	classifier Classifier
	now        func() time.Time
	logger     *slog.Logger
}

// New creates a Router.
func New(deps Deps) *Router {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Prompts == nil {
		deps.Prompts = prompt.NewAssembler()
	}
	return &Router{
		dedup:      deps.Dedup,
		sessions:   deps.Sessions,
		owners:     deps.Owners,
		prompts:    deps.Prompts,
		classifier: deps.Classifier,
		now:        deps.Now,
		logger:     slog.Default(),
	}
}

// Route validates msg and returns exactly one outcome, or an error for
// validation and classifier failures. Context store failures are logged and
// never change the outcome. Nothing in the context changes when
// classification fails.
func (r *Router) Route(ctx context.Context, msg Message) (Decision, error) {
	if err := msg.Validate(); err != nil {
		return Decision{}, err
	}
	log := r.logger.With("sender_id", msg.SenderID, "group_id", msg.GroupID)

	if r.dedup.CheckAndMark(ctx, msg.SenderID, msg.Content) {
		log.Debug("duplicate message filtered")
		return Decision{Outcome: Filtered, Effect: EffectNone}, nil
	}

	// A correction is classified against a window holding only itself. The
	// stored window is replaced once classification succeeds.
	corrected := session.IsCorrection(msg.Content)
	var window *session.Window
	if corrected {
		log.Info("correction received, resetting context")
		window = &session.Window{Items: []session.Item{{
			Content:         msg.Content,
			TimestampMillis: msg.TimestampMillis,
			ImageURL:        msg.ImageURL,
		}}}
	} else {
		w, err := r.sessions.Read(ctx, msg.SenderID)
		if err != nil {
			log.Warn("context read failed, continuing without history", "error", err)
		}
		window = w
	}
	history := window.MergedText()

	userContent := prompt.CombineUserContent(history, msg.Content)
	images := window.Images(msg.ImageURL)
	system := r.prompts.Build(prompt.Input{
		Owner:   r.owners.Summary(ctx, msg.SenderID),
		History: history,
		Schema:  classifier.FormatInstructions(),
		Time:    prompt.CurrentTime(msg.TimestampMillis, r.now()),
	})

	draft, err := r.classifier.Classify(ctx, classifier.Input{
		Prompt:       system,
		UserContent:  userContent,
		Images:       images,
		RawContent:   msg.Content,
		CurrentImage: msg.ImageURL,
	})
	if err != nil {
		return Decision{}, err
	}

	d := Decision{Draft: &draft, History: userContent, Images: images, Effect: EffectNone}
	if corrected {
		d.Effect = EffectReset
	}

	switch {
	case draft.Actionable:
		if err := r.sessions.Clear(ctx, msg.SenderID); err != nil {
			log.Warn("context clear failed after actionable draft", "error", err)
		}
		d.Outcome, d.Effect = Saved, EffectCleared
	case draft.Intent == classifier.IntentNoise:
		if corrected {
			r.reset(ctx, log, msg)
		}
		d.Outcome = NoiseDiscarded
	default:
		if corrected {
			r.reset(ctx, log, msg)
		} else {
			r.merge(ctx, log, msg)
			d.Effect = EffectMerged
		}
		d.Outcome = NeedsInfo
	}

	log.Info("message routed", "outcome", d.Outcome, "effect", d.Effect,
		"intent", draft.Intent, "confidence", draft.Confidence)
	return d, nil
}

// reset replaces the sender's window with msg alone.
func (r *Router) reset(ctx context.Context, log *slog.Logger, msg Message) {
	if err := r.sessions.Clear(ctx, msg.SenderID); err != nil {
		log.Warn("context reset failed", "error", err)
	}
	r.merge(ctx, log, msg)
}

func (r *Router) merge(ctx context.Context, log *slog.Logger, msg Message) {
	if err := r.sessions.Merge(ctx, msg.SenderID, msg.Content, msg.TimestampMillis, msg.ImageURL); err != nil {
		log.Warn("context merge failed", "error", err)
	}
}
