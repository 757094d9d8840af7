package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kalambet/groupdesk/internal/archive"
	"github.com/kalambet/groupdesk/internal/fault"
	"github.com/kalambet/groupdesk/internal/owner"
	"github.com/kalambet/groupdesk/internal/pipeline"
	"github.com/kalambet/groupdesk/internal/router"
	"github.com/kalambet/groupdesk/internal/storage"
)

type mockProcessor struct {
	got    []router.Message
	traces []string
	result pipeline.Result
	err    error
}

func (m *mockProcessor) ProcessTraced(_ context.Context, traceID string, msg router.Message) (pipeline.Result, error) {
	m.got = append(m.got, msg)
	m.traces = append(m.traces, traceID)
	if m.err != nil {
		return pipeline.Result{}, m.err
	}
	res := m.result
	res.TraceID = traceID
	return res, nil
}

type mockArchive struct {
	stats archive.Stats
	err   error
}

func (m mockArchive) RunOnce(context.Context) (archive.Stats, error) { return m.stats, m.err }

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("db gone") }

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestHandler(t *testing.T, proc *mockProcessor, token string) (http.Handler, *storage.Store) {
	t.Helper()
	store := newTestStore(t)
	return NewHandler(Deps{
		Processor: proc,
		Drafts:    store,
		Owners:    owner.NewDirectory(store),
		Health:    store,
		Token:     token,
	}), store
}

func do(h http.Handler, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	h, _ := newTestHandler(t, &mockProcessor{}, "")
	rec := do(h, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("health = %d %s", rec.Code, rec.Body)
	}

	down := NewHandler(Deps{Health: failingPinger{}})
	if rec := do(down, http.MethodGet, "/health", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("health with failing store = %d", rec.Code)
	}
}

func TestWebhook_Success(t *testing.T) {
	proc := &mockProcessor{result: pipeline.Result{Status: "NEEDS_INFO", Missing: []string{"location"}}}
	h, _ := newTestHandler(t, proc, "")

	rec := do(h, http.MethodPost, "/api/wechat/webhook",
		`{"senderId":"u1","groupId":"g1","content":"灯坏了","timestampMillis":1740790800000}`,
		"X-Trace-Id", "trace-abc")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var res pipeline.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if res.Status != "NEEDS_INFO" || res.TraceID != "trace-abc" {
		t.Errorf("unexpected result %+v", res)
	}
	if proc.got[0].TimestampMillis != 1740790800000 || proc.got[0].Content != "灯坏了" {
		t.Errorf("processor saw %+v", proc.got[0])
	}
}

func TestWebhook_ErrorStatuses(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantType string
	}{
		{"validation", fault.New(fault.Validation, "validate message", "senderId is required"), 400, "validation_error"},
		{"classifier", fault.New(fault.Classifier, "classify", "timeout"), 502, "classifier_error"},
		{"persistence", fault.New(fault.Persistence, "save draft", "disk full"), 500, "persistence_error"},
		{"untyped", errors.New("boom"), 500, "unknown_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _ := newTestHandler(t, &mockProcessor{err: tt.err}, "")
			rec := do(h, http.MethodPost, "/api/wechat/webhook", `{"senderId":"u1","groupId":"g1","content":"x"}`)
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			var res pipeline.Result
			json.Unmarshal(rec.Body.Bytes(), &res)
			if res.Status != pipeline.StatusError || res.ErrorType != tt.wantType || res.TraceID == "" {
				t.Errorf("unexpected body %+v", res)
			}
		})
	}
}

func TestWebhook_MalformedBody(t *testing.T) {
	proc := &mockProcessor{}
	h, _ := newTestHandler(t, proc, "")
	rec := do(h, http.MethodPost, "/api/wechat/webhook", `{"senderId":`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(proc.got) != 0 {
		t.Error("processor called for malformed body")
	}
}

func TestAuth(t *testing.T) {
	h, _ := newTestHandler(t, &mockProcessor{result: pipeline.Result{Status: "FILTERED"}}, "s3cret")
	body := `{"senderId":"u1","groupId":"g1","content":"x"}`

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong token", "Bearer wrong", http.StatusUnauthorized},
		{"token prefix", "Bearer s3cre", http.StatusUnauthorized},
		{"other scheme", "Basic s3cret", http.StatusUnauthorized},
		{"empty credential", "Bearer ", http.StatusUnauthorized},
		{"valid", "Bearer s3cret", http.StatusOK},
		{"lowercase scheme", "bearer s3cret", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var rec *httptest.ResponseRecorder
			if tt.header == "" {
				rec = do(h, http.MethodPost, "/api/wechat/webhook", body)
			} else {
				rec = do(h, http.MethodPost, "/api/wechat/webhook", body, "Authorization", tt.header)
			}
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
			if tt.want != http.StatusUnauthorized {
				return
			}
			if got := rec.Header().Get("WWW-Authenticate"); !strings.HasPrefix(got, "Bearer") {
				t.Errorf("WWW-Authenticate = %q", got)
			}
			var env struct {
				Error struct {
					Type string `json:"type"`
				} `json:"error"`
			}
			if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil || env.Error.Type != "authentication_error" {
				t.Errorf("body = %s", rec.Body)
			}
		})
	}

	if rec := do(h, http.MethodGet, "/health", ""); rec.Code != http.StatusOK {
		t.Errorf("health should not need a token: %d", rec.Code)
	}
}

func TestRequireToken_EmptyDisables(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTeapot) })
	rec := httptest.NewRecorder()
	RequireToken("")(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/x", nil))
	if rec.Code != http.StatusTeapot {
		t.Errorf("status = %d, want pass-through", rec.Code)
	}
}

func TestListDrafts(t *testing.T) {
	h, store := newTestHandler(t, &mockProcessor{}, "")
	ctx := context.Background()
	if err := store.SaveDraft(ctx, storage.Draft{
		ID: "d1", GroupID: "g1", SenderID: "u1", Content: "灯坏了；3-201",
		Analysis: `{"actionable":true,"intent":"REPAIR"}`, TraceID: "t1",
	}); err != nil {
		t.Fatalf("SaveDraft: %v", err)
	}

	if rec := do(h, http.MethodGet, "/api/wechat/drafts", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("missing groupId: %d", rec.Code)
	}
	if rec := do(h, http.MethodGet, "/api/wechat/drafts?groupId=g1&limit=x", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit: %d", rec.Code)
	}

	rec := do(h, http.MethodGet, "/api/wechat/drafts?groupId=g1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d %s", rec.Code, rec.Body)
	}
	var views []struct {
		ID       string          `json:"id"`
		Analysis json.RawMessage `json:"analysis"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &views); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if len(views) != 1 || views[0].ID != "d1" || !bytes.Contains(views[0].Analysis, []byte(`"REPAIR"`)) {
		t.Errorf("unexpected drafts %s", rec.Body)
	}
}

func TestOwners_PutThenGet(t *testing.T) {
	h, _ := newTestHandler(t, &mockProcessor{}, "")

	if rec := do(h, http.MethodGet, "/api/owners/u1", ""); rec.Code != http.StatusNotFound {
		t.Errorf("unknown owner: %d", rec.Code)
	}
	if rec := do(h, http.MethodPut, "/api/owners/u1", `{}`); rec.Code != http.StatusBadRequest {
		t.Errorf("empty owner: %d", rec.Code)
	}
	rec := do(h, http.MethodPut, "/api/owners/u1", `{"roomNumber":"3-201","name":"张三","houseId":4401}`)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("put = %d %s", rec.Code, rec.Body)
	}

	rec = do(h, http.MethodGet, "/api/owners/u1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get = %d", rec.Code)
	}
	var got ownerView
	json.Unmarshal(rec.Body.Bytes(), &got)
	if got.SenderID != "u1" || got.RoomNumber != "3-201" || got.HouseID != 4401 {
		t.Errorf("unexpected owner %+v", got)
	}
}

func TestArchiveFetch(t *testing.T) {
	disabled, _ := newTestHandler(t, &mockProcessor{}, "")
	if rec := do(disabled, http.MethodPost, "/api/wechat/archive/fetch", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("disabled archive: %d", rec.Code)
	}

	h := NewHandler(Deps{Archive: mockArchive{stats: archive.Stats{Leased: true, Processed: 3}}})
	rec := do(h, http.MethodPost, "/api/wechat/archive/fetch", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"processed":3`) {
		t.Errorf("fetch = %d %s", rec.Code, rec.Body)
	}

	failing := NewHandler(Deps{Archive: mockArchive{err: errors.New("gateway down")}})
	if rec := do(failing, http.MethodPost, "/api/wechat/archive/fetch", ""); rec.Code != http.StatusBadGateway {
		t.Errorf("failing fetch: %d", rec.Code)
	}
}
