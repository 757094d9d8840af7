// Package notify posts staff alerts to a WeCom group robot webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/kalambet/groupdesk/internal/fault"
)

// DefaultAppName heads every alert when none is configured.
const DefaultAppName = "AI助手"

// ErrRateLimited is returned when an alert is dropped by the send limiter.
var ErrRateLimited = errors.New("notify: rate limit exceeded")

// MissingInfo describes a report that needs more detail from the owner.
type MissingInfo struct {
	TraceID        string
	GroupID        string
	SenderID       string
	Missing        []string
	SuggestedReply string
}

// Text renders the alert body.
func (m MissingInfo) Text(appName string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "【%s】报修信息不完整\n", appName)
	fmt.Fprintf(&b, "群ID: %s\n", m.GroupID)
	fmt.Fprintf(&b, "发送者ID: %s\n", m.SenderID)
	if len(m.Missing) > 0 {
		fmt.Fprintf(&b, "缺失信息: %s\n", strings.Join(m.Missing, ", "))
	}
	if m.SuggestedReply != "" {
		fmt.Fprintf(&b, "建议回复: %s\n", m.SuggestedReply)
	}
	if m.TraceID != "" {
		fmt.Fprintf(&b, "traceId: %s", m.TraceID)
	}
	return strings.TrimRight(b.String(), "\n")
}

type textMessage struct {
	MsgType string `json:"msgtype"`
	Text    struct {
		Content string `json:"content"`
	} `json:"text"`
}

type robotResponse struct {
	ErrCode int    `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
}

// Robot sends text messages to one webhook.
type Robot struct {
	webhookURL string
	appName    string
	limiter    *rate.Limiter
	httpClient *http.Client
}

// NewRobot creates a Robot. perMinute <= 0 disables rate limiting.
func NewRobot(webhookURL, appName string, perMinute int) *Robot {
	if appName == "" {
		appName = DefaultAppName
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if perMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute)
	}
	return &Robot{
		webhookURL: webhookURL,
		appName:    appName,
		limiter:    limiter,
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

// NotifyMissingInfo posts the missing-info alert for m.
func (r *Robot) NotifyMissingInfo(ctx context.Context, m MissingInfo) error {
	return r.Send(ctx, m.Text(r.appName))
}

// Send posts content as a text message. The robot answers 200 with a
// non-zero errcode on rejection, which is reported as an error.
func (r *Robot) Send(ctx context.Context, content string) error {
	const op = "notify.send"

	if !r.limiter.Allow() {
		return fault.Wrap(fault.Downstream, op, ErrRateLimited)
	}

	var msg textMessage
	msg.MsgType = "text"
	msg.Text.Content = content
	body, err := json.Marshal(msg)
	if err != nil {
		return fault.Wrap(fault.Downstream, op, fmt.Errorf("marshaling message: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fault.Wrap(fault.Downstream, op, fmt.Errorf("creating request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fault.Wrap(fault.Downstream, op, fmt.Errorf("posting webhook: %w", err))
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode != http.StatusOK {
		return fault.New(fault.Downstream, op, "webhook returned %d: %s", resp.StatusCode, raw)
	}
	var rr robotResponse
	if err := json.Unmarshal(raw, &rr); err == nil && rr.ErrCode != 0 {
		return fault.New(fault.Downstream, op, "webhook errcode %d: %s", rr.ErrCode, rr.ErrMsg)
	}
	return nil
}
