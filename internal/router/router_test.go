package router

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/groupdesk/internal/classifier"
	"github.com/kalambet/groupdesk/internal/dedup"
	"github.com/kalambet/groupdesk/internal/fault"
	"github.com/kalambet/groupdesk/internal/kv"
	"github.com/kalambet/groupdesk/internal/kv/kvtest"
	"github.com/kalambet/groupdesk/internal/session"
)

// scriptedBackend returns queued responses in order and records requests.
type scriptedBackend struct {
	responses []string
	err       error
	requests  []classifier.ChatRequest
}

func (s *scriptedBackend) Chat(_ context.Context, req classifier.ChatRequest) (string, error) {
	s.requests = append(s.requests, req)
	if s.err != nil {
		return "", s.err
	}
	if len(s.responses) == 0 {
		return "", errors.New("no scripted response")
	}
	resp := s.responses[0]
	s.responses = s.responses[1:]
	return resp, nil
}

type staticOwners map[string]string

func (o staticOwners) Summary(_ context.Context, senderID string) string { return o[senderID] }

type fixture struct {
	router   *Router
	store    *kvtest.Store
	sessions *session.Aggregator
	backend  *scriptedBackend
}

func newFixture(responses ...string) *fixture {
	store := kvtest.New()
	keys := kv.NewKeyspace("test")
	sessions := session.NewAggregator(store, keys, 0).WithClock(store.Now)
	backend := &scriptedBackend{responses: responses}
	r := New(Deps{
		Dedup:      dedup.NewFilter(store, keys, 0),
		Sessions:   sessions,
		Owners:     staticOwners{"u1": "3-201室, 张三"},
		Classifier: classifier.New(backend, classifier.Options{}),
		Now:        store.Now,
	})
	return &fixture{router: r, store: store, sessions: sessions, backend: backend}
}

func (f *fixture) history(t *testing.T, sender string) string {
	t.Helper()
	w, err := f.sessions.Read(context.Background(), sender)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	return w.MergedText()
}

const (
	needsLocation = `{"actionable":false,"intent":"REPAIR","missingInfo":["location"],"suggestedReply":"请问具体位置?","confidence":0.7}`
	actionable    = `{"actionable":true,"intent":"REPAIR","location":"3-201","description":"灯坏了","missingInfo":[],"confidence":0.9}`
	noise         = `{"actionable":false,"intent":"NOISE","missingInfo":[],"confidence":0.95}`

	// Models often leave intent out when asking for more detail.
	noIntentNeedsLocation = `{"actionable":false,"missingInfo":["location"],"suggestedReply":"请问具体位置?"}`
)

func TestRoute_ScenarioAThenB(t *testing.T) {
	f := newFixture(noIntentNeedsLocation, actionable)
	ctx := context.Background()

	d, err := f.router.Route(ctx, Message{SenderID: "u1", GroupID: "g1", Content: "灯坏了"})
	if err != nil {
		t.Fatalf("Route A: %v", err)
	}
	if d.Outcome != NeedsInfo || d.Effect != EffectMerged {
		t.Fatalf("A = %s/%s, want NEEDS_INFO/merged", d.Outcome, d.Effect)
	}
	if d.Draft.SuggestedReply != "请问具体位置?" || len(d.Draft.MissingInfo) != 1 {
		t.Errorf("A draft = %+v", d.Draft)
	}
	if got := f.history(t, "u1"); got != "灯坏了" {
		t.Fatalf("context after A = %q, want one item", got)
	}

	d, err = f.router.Route(ctx, Message{SenderID: "u1", GroupID: "g1", Content: "3-201"})
	if err != nil {
		t.Fatalf("Route B: %v", err)
	}
	if d.Outcome != Saved || d.Effect != EffectCleared {
		t.Fatalf("B = %s/%s, want SAVED/cleared", d.Outcome, d.Effect)
	}
	if got := f.backend.requests[1].User; got != "灯坏了；3-201" {
		t.Errorf("B user content = %q, want %q", got, "灯坏了；3-201")
	}
	if !strings.Contains(f.backend.requests[1].System, "灯坏了") {
		t.Error("B prompt does not carry merged history")
	}
	if d.History != "灯坏了；3-201" {
		t.Errorf("B history = %q", d.History)
	}
	if got := f.history(t, "u1"); got != "" {
		t.Errorf("context after SAVED = %q, want empty", got)
	}
}

func TestRoute_ScenarioCDuplicateFiltered(t *testing.T) {
	f := newFixture(needsLocation)
	ctx := context.Background()
	msg := Message{SenderID: "u1", GroupID: "g1", Content: "灯坏了"}

	if _, err := f.router.Route(ctx, msg); err != nil {
		t.Fatalf("first Route: %v", err)
	}
	d, err := f.router.Route(ctx, msg)
	if err != nil {
		t.Fatalf("second Route: %v", err)
	}
	if d.Outcome != Filtered || d.Draft != nil {
		t.Errorf("second = %+v, want FILTERED without draft", d)
	}
	if len(f.backend.requests) != 1 {
		t.Errorf("classifier called %d times, want 1", len(f.backend.requests))
	}

	f.store.Advance(dedup.DefaultWindow)
	f.backend.responses = []string{needsLocation}
	d, _ = f.router.Route(ctx, msg)
	if d.Outcome == Filtered {
		t.Error("message still filtered after the dedup window")
	}
}

func TestRoute_NumericShortCircuit(t *testing.T) {
	f := newFixture()

	d, err := f.router.Route(context.Background(), Message{SenderID: "u1", GroupID: "g1", Content: "123456"})
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if d.Outcome != NoiseDiscarded || d.Draft.Confidence != 0.2 {
		t.Errorf("decision = %s conf %v, want NOISE_DISCARDED 0.2", d.Outcome, d.Draft.Confidence)
	}
	if len(f.backend.requests) != 0 {
		t.Error("classifier backend invoked for numeric content")
	}
}

func TestRoute_NoiseLeavesContext(t *testing.T) {
	f := newFixture(needsLocation, noise)
	ctx := context.Background()

	f.router.Route(ctx, Message{SenderID: "u1", GroupID: "g1", Content: "灯坏了"})
	d, err := f.router.Route(ctx, Message{SenderID: "u1", GroupID: "g1", Content: "今天天气真好"})
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if d.Outcome != NoiseDiscarded || d.Effect != EffectNone {
		t.Errorf("decision = %s/%s, want NOISE_DISCARDED/none", d.Outcome, d.Effect)
	}
	if got := f.history(t, "u1"); got != "灯坏了" {
		t.Errorf("context = %q, want unchanged", got)
	}
}

func TestRoute_CorrectionResetsContext(t *testing.T) {
	f := newFixture(needsLocation, needsLocation)
	ctx := context.Background()

	f.router.Route(ctx, Message{SenderID: "u1", GroupID: "g1", Content: "灯坏了"})
	d, err := f.router.Route(ctx, Message{SenderID: "u1", GroupID: "g1", Content: "不对，应该是301"})
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if d.Effect != EffectReset {
		t.Errorf("effect = %s, want reset", d.Effect)
	}
	if got := f.backend.requests[1].User; got != "不对，应该是301" {
		t.Errorf("classifier saw %q, want only the correction", got)
	}
	if got := f.history(t, "u1"); got != "不对，应该是301" {
		t.Errorf("context = %q, want the correction as sole entry", got)
	}
}

func TestRoute_ClassifierErrorLeavesContext(t *testing.T) {
	f := newFixture(needsLocation)
	ctx := context.Background()
	f.router.Route(ctx, Message{SenderID: "u1", GroupID: "g1", Content: "灯坏了"})

	f.backend.err = errors.New("upstream 503")
	_, err := f.router.Route(ctx, Message{SenderID: "u1", GroupID: "g1", Content: "在3栋"})
	if !fault.Is(err, fault.Classifier) {
		t.Fatalf("err = %v, want classifier fault", err)
	}
	if got := f.history(t, "u1"); got != "灯坏了" {
		t.Errorf("context = %q, want unchanged after classifier error", got)
	}
}

func TestRoute_Validation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	for _, msg := range []Message{
		{GroupID: "g1", Content: "灯坏了"},
		{SenderID: "u1", Content: "灯坏了"},
		{SenderID: "u1", GroupID: "g1"},
	} {
		_, err := f.router.Route(ctx, msg)
		if !fault.Is(err, fault.Validation) {
			t.Errorf("Route(%+v) err = %v, want validation", msg, err)
		}
	}
	if len(f.store.Keys()) != 0 {
		t.Errorf("validation failure touched state: %v", f.store.Keys())
	}
}

func TestRoute_ImageOnlyMessage(t *testing.T) {
	f := newFixture(needsLocation)

	d, err := f.router.Route(context.Background(), Message{SenderID: "u1", GroupID: "g1", ImageURL: "http://img/1.jpg"})
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if d.Outcome != NeedsInfo {
		t.Errorf("outcome = %s, want NEEDS_INFO", d.Outcome)
	}
	if imgs := f.backend.requests[0].Images; len(imgs) != 1 || imgs[0] != "http://img/1.jpg" {
		t.Errorf("images = %v", imgs)
	}
	w, _ := f.sessions.Read(context.Background(), "u1")
	if w.Len() != 1 {
		t.Errorf("image-only message not kept in context: %+v", w)
	}
}

func TestRoute_StoreDownStillClassifies(t *testing.T) {
	f := newFixture(actionable)
	f.store.SetFailing(true)

	d, err := f.router.Route(context.Background(), Message{SenderID: "u1", GroupID: "g1", Content: "3-201灯坏了"})
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if d.Outcome != Saved {
		t.Errorf("outcome = %s, want SAVED despite store outage", d.Outcome)
	}
}

func TestRoute_PromptCarriesOwnerAndTime(t *testing.T) {
	f := newFixture(needsLocation)
	ts := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC).UnixMilli()

	f.router.Route(context.Background(), Message{SenderID: "u1", GroupID: "g1", Content: "灯坏了", TimestampMillis: ts})
	sys := f.backend.requests[0].System
	for _, want := range []string{"3-201室, 张三", "2025-03-01 17:00:00", "无历史记录"} {
		if !strings.Contains(sys, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestRoute_AbsentIntentNeedsInfo(t *testing.T) {
	f := newFixture(noIntentNeedsLocation)

	d, err := f.router.Route(context.Background(), Message{SenderID: "u1", GroupID: "g1", Content: "灯坏了"})
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if d.Outcome != NeedsInfo || d.Effect != EffectMerged {
		t.Errorf("decision = %s/%s, want NEEDS_INFO/merged", d.Outcome, d.Effect)
	}
	if got := f.history(t, "u1"); got != "灯坏了" {
		t.Errorf("context = %q, want one item", got)
	}
}

func TestRoute_CorrectionLifecycle(t *testing.T) {
	const correction = "不对，应该是301"
	contextKey := kv.NewKeyspace("test").Context("u1")

	tests := []struct {
		name        string
		responses   []string
		setup       func(f *fixture)
		wantOutcome Outcome
		wantErr     fault.Kind
		wantHistory string
		wantUser    string
	}{
		{
			name:        "actionable draft clears the reset window",
			responses:   []string{needsLocation, actionable},
			wantOutcome: Saved,
			wantHistory: "",
			wantUser:    correction,
		},
		{
			name:      "classifier error leaves the context untouched",
			responses: []string{needsLocation},
			setup: func(f *fixture) {
				f.backend.err = errors.New("upstream 503")
			},
			wantErr:     fault.Classifier,
			wantHistory: "灯坏了",
		},
		{
			name:      "unreachable context store still classifies the correction",
			responses: []string{needsLocation, needsLocation},
			setup: func(f *fixture) {
				f.store.FailKey(contextKey)
			},
			wantOutcome: NeedsInfo,
			wantUser:    correction,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(tt.responses...)
			ctx := context.Background()
			if _, err := f.router.Route(ctx, Message{SenderID: "u1", GroupID: "g1", Content: "灯坏了"}); err != nil {
				t.Fatalf("first Route: %v", err)
			}
			if tt.setup != nil {
				tt.setup(f)
			}

			d, err := f.router.Route(ctx, Message{SenderID: "u1", GroupID: "g1", Content: correction})
			if tt.wantErr != fault.Unknown {
				if !fault.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %s", err, tt.wantErr)
				}
			} else {
				if err != nil {
					t.Fatalf("Route: %v", err)
				}
				if d.Outcome != tt.wantOutcome {
					t.Errorf("outcome = %s, want %s", d.Outcome, tt.wantOutcome)
				}
			}

			if tt.wantUser != "" {
				req := f.backend.requests[len(f.backend.requests)-1]
				if req.User != tt.wantUser {
					t.Errorf("classifier saw %q, want %q", req.User, tt.wantUser)
				}
				if !strings.Contains(req.System, correction) {
					t.Error("prompt history does not carry the correction")
				}
			}

			if tt.setup == nil || tt.wantErr != fault.Unknown {
				if got := f.history(t, "u1"); got != tt.wantHistory {
					t.Errorf("context = %q, want %q", got, tt.wantHistory)
				}
			}
		})
	}
}
