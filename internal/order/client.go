// Package order submits actionable ticket drafts to the property
// management order API.
package order

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kalambet/groupdesk/internal/classifier"
	"github.com/kalambet/groupdesk/internal/fault"
)

// DefaultHouseID is used when the owner has no house bound.
const DefaultHouseID int64 = 918

const (
	typeRepair      = 1
	categoryDefault = 5
)

// Request is the payload the order API expects.
type Request struct {
	Type             int      `json:"type"`
	Category         int      `json:"category"`
	Description      string   `json:"description"`
	Location         string   `json:"location"`
	AppointmentStart string   `json:"appointmentStartTime,omitempty"`
	AppointmentEnd   string   `json:"appointmentEndTime,omitempty"`
	FileList         []string `json:"fileList"`
	HouseID          int64    `json:"houseId"`
	UserID           string   `json:"userId"`
}

// NewRequest builds the order payload for draft. houseID <= 0 falls back to
// DefaultHouseID.
func NewRequest(draft classifier.TicketDraft, senderID string, houseID int64, images []string) Request {
	if houseID <= 0 {
		houseID = DefaultHouseID
	}
	files := images
	if files == nil {
		files = []string{}
	}
	return Request{
		Type:             typeRepair,
		Category:         categoryDefault,
		Description:      describe(draft.Location, draft.Description),
		Location:         draft.Location,
		AppointmentStart: draft.ScheduledTime,
		AppointmentEnd:   draft.ScheduledTime,
		FileList:         files,
		HouseID:          houseID,
		UserID:           senderID,
	}
}

// describe prefixes the location unless the description already names it.
func describe(location, description string) string {
	location = strings.TrimSpace(location)
	description = strings.TrimSpace(description)
	switch {
	case location == "":
		return description
	case description == "":
		return "位置：" + location
	case strings.Contains(description, location):
		return description
	default:
		return "位置：" + location + "；" + description
	}
}

// Result is a successful order submission.
type Result struct {
	OrderID string
	Message string
}

type response struct {
	Success      *bool  `json:"success"`
	OrderID      string `json:"orderId"`
	Message      string `json:"message"`
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`

	// Some deployments answer with only code and msg.
	Code *int   `json:"code"`
	Msg  string `json:"msg"`
}

// Client posts orders with an optional bearer token.
type Client struct {
	url        string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a Client for the order endpoint url.
func NewClient(url, token string) *Client {
	return &Client{
		url:        url,
		token:      token,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     slog.Default(),
	}
}

// Create submits req. Every failure, including a well-formed rejection, is
// returned as a fault.Downstream error.
func (c *Client) Create(ctx context.Context, req Request) (Result, error) {
	const op = "order.create"

	body, err := json.Marshal(req)
	if err != nil {
		return Result{}, fault.Wrap(fault.Downstream, op, fmt.Errorf("marshaling request: %w", err))
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return Result{}, fault.Wrap(fault.Downstream, op, fmt.Errorf("creating request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Result{}, fault.Wrap(fault.Downstream, op, fmt.Errorf("calling order API: %w", err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Result{}, fault.Wrap(fault.Downstream, op, fmt.Errorf("reading response: %w", err))
	}
	c.logger.Info("order API responded", "status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(), "user_id", req.UserID)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, fault.New(fault.Downstream, op,
			"order API returned %d: %s", resp.StatusCode, truncate(string(raw), 200))
	}
	return parseResponse(raw)
}

func parseResponse(raw []byte) (Result, error) {
	const op = "order.create"

	var r response
	if err := json.Unmarshal(raw, &r); err != nil {
		return Result{}, fault.Wrap(fault.Downstream, op, fmt.Errorf("decoding response: %w", err))
	}
	switch {
	case r.Success != nil && *r.Success:
		return Result{OrderID: r.OrderID, Message: r.Message}, nil
	case r.Success == nil && r.Code != nil && *r.Code == 200:
		msg := r.Msg
		if msg == "" {
			msg = "下单成功"
		}
		return Result{Message: msg}, nil
	}

	msg := firstNonEmpty(r.ErrorMessage, r.Message, r.Msg, "外部系统响应解析失败或为空")
	if r.ErrorCode != "" {
		msg = r.ErrorCode + ": " + msg
	}
	return Result{}, fault.New(fault.Downstream, op, "%s", msg)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
