// Package api exposes the message pipeline over HTTP and MCP.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kalambet/groupdesk/internal/archive"
	"github.com/kalambet/groupdesk/internal/fault"
	"github.com/kalambet/groupdesk/internal/pipeline"
	"github.com/kalambet/groupdesk/internal/router"
	"github.com/kalambet/groupdesk/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

const defaultDraftLimit = 50

// MessageProcessor runs one message through the pipeline.
type MessageProcessor interface {
	ProcessTraced(ctx context.Context, traceID string, msg router.Message) (pipeline.Result, error)
}

// DraftLister lists drafts awaiting review.
type DraftLister interface {
	ListPendingDrafts(ctx context.Context, groupID string, limit int) ([]storage.Draft, error)
}

// OwnerDirectory reads and binds sender identities.
type OwnerDirectory interface {
	Lookup(ctx context.Context, senderID string) (storage.Owner, bool, error)
	Bind(ctx context.Context, o storage.Owner) error
}

// ArchiveTrigger runs one archive poll on demand.
type ArchiveTrigger interface {
	RunOnce(ctx context.Context) (archive.Stats, error)
}

// Pinger checks backing storage.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps holds the HTTP handler's collaborators. Archive and Health may be nil.
type Deps struct {
	Processor MessageProcessor
	Drafts    DraftLister
	Owners    OwnerDirectory
	Archive   ArchiveTrigger
	Health    Pinger
	Token     string
}

// NewHandler returns the service's HTTP routes. Everything under /api
// requires the bearer token when one is configured.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Get("/health", handleHealth(deps.Health))

	r.Route("/api", func(r chi.Router) {
		r.Use(RequireToken(deps.Token))
		r.Post("/wechat/webhook", handleWebhook(deps.Processor))
		r.Get("/wechat/drafts", handleListDrafts(deps.Drafts))
		r.Post("/wechat/archive/fetch", handleArchiveFetch(deps.Archive))
		r.Get("/owners/{senderId}", handleGetOwner(deps.Owners))
		r.Put("/owners/{senderId}", handlePutOwner(deps.Owners))
	})
	return r
}

func handleHealth(p Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if p != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := p.Ping(ctx); err != nil {
				httpError(w, http.StatusServiceUnavailable, "store_error", "storage unavailable: %v", err)
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	}
}

func handleWebhook(p MessageProcessor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		traceID := r.Header.Get("X-Trace-Id")
		if traceID == "" {
			traceID = uuid.NewString()
		}

		var msg router.Message
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			err = fault.Wrap(fault.Validation, "decode message", err)
			writeJSON(w, http.StatusBadRequest, pipeline.ErrorResult(traceID, err))
			return
		}

		res, err := p.ProcessTraced(r.Context(), traceID, msg)
		if err != nil {
			writeJSON(w, statusFor(err), pipeline.ErrorResult(traceID, err))
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// statusFor maps a pipeline error to an HTTP status.
func statusFor(err error) int {
	switch fault.KindOf(err) {
	case fault.Validation:
		return http.StatusBadRequest
	case fault.Classifier, fault.Downstream:
		return http.StatusBadGateway
	case fault.Store:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

type draftView struct {
	ID        string          `json:"id"`
	GroupID   string          `json:"groupId"`
	SenderID  string          `json:"senderId"`
	Content   string          `json:"content"`
	Analysis  json.RawMessage `json:"analysis,omitempty"`
	Status    int             `json:"status"`
	OrderID   string          `json:"orderId,omitempty"`
	TraceID   string          `json:"traceId,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

func newDraftView(d storage.Draft) draftView {
	v := draftView{
		ID: d.ID, GroupID: d.GroupID, SenderID: d.SenderID, Content: d.Content,
		Status: d.Status, OrderID: d.OrderID, TraceID: d.TraceID, CreatedAt: d.CreatedAt,
	}
	if json.Valid([]byte(d.Analysis)) {
		v.Analysis = json.RawMessage(d.Analysis)
	}
	return v
}

func handleListDrafts(drafts DraftLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		groupID := strings.TrimSpace(r.URL.Query().Get("groupId"))
		if groupID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "groupId is required")
			return
		}
		limit := defaultDraftLimit
		if s := r.URL.Query().Get("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n <= 0 {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid limit %q", s)
				return
			}
			limit = min(n, 500)
		}

		list, err := drafts.ListPendingDrafts(r.Context(), groupID, limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "persistence_error", "listing drafts: %v", err)
			return
		}
		views := make([]draftView, len(list))
		for i, d := range list {
			views[i] = newDraftView(d)
		}
		writeJSON(w, http.StatusOK, views)
	}
}

func handleArchiveFetch(a ArchiveTrigger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if a == nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "archive polling is not enabled")
			return
		}
		stats, err := a.RunOnce(r.Context())
		if err != nil {
			slog.Warn("manual archive fetch failed", "error", err)
			httpError(w, http.StatusBadGateway, "api_error", "archive fetch failed: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

type ownerView struct {
	SenderID   string    `json:"senderId"`
	RoomNumber string    `json:"roomNumber"`
	Name       string    `json:"name"`
	Phone      string    `json:"phone,omitempty"`
	HouseID    int64     `json:"houseId,omitempty"`
	UpdatedAt  time.Time `json:"updatedAt,omitzero"`
}

func handleGetOwner(owners OwnerDirectory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		senderID := chi.URLParam(r, "senderId")
		o, ok, err := owners.Lookup(r.Context(), senderID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "persistence_error", "looking up owner: %v", err)
			return
		}
		if !ok {
			httpError(w, http.StatusNotFound, "not_found", "no owner bound to %s", senderID)
			return
		}
		writeJSON(w, http.StatusOK, ownerView{
			SenderID: o.SenderID, RoomNumber: o.RoomNumber, Name: o.Name,
			Phone: o.Phone, HouseID: o.HouseID, UpdatedAt: o.UpdatedAt,
		})
	}
}

func handlePutOwner(owners OwnerDirectory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var v ownerView
		if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		v.SenderID = chi.URLParam(r, "senderId")
		if strings.TrimSpace(v.RoomNumber) == "" && strings.TrimSpace(v.Name) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "roomNumber or name is required")
			return
		}

		err := owners.Bind(r.Context(), storage.Owner{
			SenderID: v.SenderID, RoomNumber: v.RoomNumber, Name: v.Name,
			Phone: v.Phone, HouseID: v.HouseID,
		})
		if err != nil {
			httpError(w, http.StatusInternalServerError, "persistence_error", "binding owner: %v", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
