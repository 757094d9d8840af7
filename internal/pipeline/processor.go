// Package pipeline runs a routed message through its side effects: draft
// persistence and order submission for actionable reports, staff alerts for
// incomplete ones.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/kalambet/groupdesk/internal/classifier"
	"github.com/kalambet/groupdesk/internal/fault"
	"github.com/kalambet/groupdesk/internal/notify"
	"github.com/kalambet/groupdesk/internal/order"
	"github.com/kalambet/groupdesk/internal/router"
	"github.com/kalambet/groupdesk/internal/storage"
)

// StatusError is reported when processing fails.
const StatusError = "ERROR"

// Result is the externally visible outcome of one message.
type Result struct {
	Status       string                  `json:"status"`
	TraceID      string                  `json:"traceId"`
	Message      string                  `json:"message,omitempty"`
	ErrorType    string                  `json:"errorType,omitempty"`
	Draft        *classifier.TicketDraft `json:"draft,omitempty"`
	DraftID      string                  `json:"draftId,omitempty"`
	OrderID      string                  `json:"orderId,omitempty"`
	OrderMessage string                  `json:"orderMessage,omitempty"`
	Missing      []string                `json:"missing,omitempty"`
	Reply        string                  `json:"reply,omitempty"`
}

// ErrorResult describes a failed run.
func ErrorResult(traceID string, err error) Result {
	return Result{
		Status:    StatusError,
		TraceID:   traceID,
		Message:   err.Error(),
		ErrorType: fault.KindOf(err).String(),
	}
}

// Router decides the outcome of a message.
type Router interface {
	Route(ctx context.Context, msg router.Message) (router.Decision, error)
}

// Drafts persists ticket drafts.
type Drafts interface {
	SaveDraft(ctx context.Context, d storage.Draft) error
	MarkDraftSubmitted(ctx context.Context, id, orderID string) error
}

// Owners looks up a sender's household.
type Owners interface {
	Lookup(ctx context.Context, senderID string) (storage.Owner, bool, error)
}

// Orders submits work orders.
type Orders interface {
	Create(ctx context.Context, req order.Request) (order.Result, error)
}

// Notifier alerts staff about incomplete reports.
type Notifier interface {
	NotifyMissingInfo(ctx context.Context, m notify.MissingInfo) error
}

// Deps are the Processor's collaborators. Orders and Notifier may be nil
// when those integrations are disabled.
type Deps struct {
	Router         Router
	Drafts         Drafts
	Owners         Owners
	Orders         Orders
	Notifier       Notifier
	DefaultHouseID int64
}

// Processor applies the effects of each routing decision.
type Processor struct {
	deps   Deps
	logger *slog.Logger
}

// New creates a Processor.
func New(deps Deps) *Processor {
	return &Processor{deps: deps, logger: slog.Default()}
}

// Process routes msg under a fresh trace id and applies its effects.
func (p *Processor) Process(ctx context.Context, msg router.Message) (Result, error) {
	return p.ProcessTraced(ctx, uuid.NewString(), msg)
}

// ProcessTraced is Process with a caller-chosen trace id. Routing and draft
// persistence failures are returned; order and notification failures are
// logged and reported inside the Result.
func (p *Processor) ProcessTraced(ctx context.Context, traceID string, msg router.Message) (Result, error) {
	log := p.logger.With("trace_id", traceID, "sender_id", msg.SenderID, "group_id", msg.GroupID)

	d, err := p.deps.Router.Route(ctx, msg)
	if err != nil {
		log.Warn("message processing failed", "error", err, "kind", fault.KindOf(err))
		return Result{}, err
	}

	res := Result{Status: string(d.Outcome), TraceID: traceID, Draft: d.Draft}
	switch d.Outcome {
	case router.Saved:
		if err := p.save(ctx, log, traceID, msg, d, &res); err != nil {
			return Result{}, err
		}
	case router.NeedsInfo:
		res.Missing = []string(d.Draft.MissingInfo)
		res.Reply = d.Draft.SuggestedReply
		p.alert(ctx, log, traceID, msg, d.Draft)
	}
	return res, nil
}

func (p *Processor) save(ctx context.Context, log *slog.Logger, traceID string, msg router.Message, d router.Decision, res *Result) error {
	analysis, err := json.Marshal(d.Draft)
	if err != nil {
		return fault.Wrap(fault.Persistence, "encode draft", err)
	}
	draft := storage.Draft{
		ID:       uuid.NewString(),
		GroupID:  msg.GroupID,
		SenderID: msg.SenderID,
		Content:  d.History,
		Analysis: string(analysis),
		Status:   storage.DraftPending,
		TraceID:  traceID,
	}
	if err := p.deps.Drafts.SaveDraft(ctx, draft); err != nil {
		log.Error("draft save failed", "error", err)
		return err
	}
	res.DraftID = draft.ID
	log.Info("draft saved", "draft_id", draft.ID, "intent", d.Draft.Intent)

	if p.deps.Orders == nil {
		return nil
	}
	houseID := p.houseID(ctx, log, msg.SenderID)
	created, err := p.deps.Orders.Create(ctx, order.NewRequest(*d.Draft, msg.SenderID, houseID, d.Images))
	if err != nil {
		log.Warn("order creation failed", "draft_id", draft.ID, "error", err)
		res.OrderMessage = fmt.Sprintf("order not created: %v", err)
		return nil
	}
	res.OrderID = created.OrderID
	res.OrderMessage = created.Message
	if err := p.deps.Drafts.MarkDraftSubmitted(ctx, draft.ID, created.OrderID); err != nil {
		log.Warn("marking draft submitted failed", "draft_id", draft.ID, "error", err)
	}
	log.Info("order created", "draft_id", draft.ID, "order_id", created.OrderID)
	return nil
}

func (p *Processor) houseID(ctx context.Context, log *slog.Logger, senderID string) int64 {
	if p.deps.Owners != nil {
		o, ok, err := p.deps.Owners.Lookup(ctx, senderID)
		if err != nil {
			log.Warn("owner lookup failed", "error", err)
		}
		if ok && o.HouseID > 0 {
			return o.HouseID
		}
	}
	return p.deps.DefaultHouseID
}

func (p *Processor) alert(ctx context.Context, log *slog.Logger, traceID string, msg router.Message, draft *classifier.TicketDraft) {
	if p.deps.Notifier == nil {
		return
	}
	err := p.deps.Notifier.NotifyMissingInfo(ctx, notify.MissingInfo{
		TraceID:        traceID,
		GroupID:        msg.GroupID,
		SenderID:       msg.SenderID,
		Missing:        draft.MissingInfo,
		SuggestedReply: draft.SuggestedReply,
	})
	if err != nil {
		log.Warn("missing-info alert failed", "error", err)
	}
}
