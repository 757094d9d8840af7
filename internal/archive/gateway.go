// Package archive pulls group messages from the chat-archive gateway and
// feeds them through the pipeline, one batch per lease.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kalambet/groupdesk/internal/fault"
)

// Item is one archived record with its decrypted message body.
type Item struct {
	Seq       int64  `json:"seq"`
	MsgID     string `json:"msgid"`
	Decrypted string `json:"decrypt_chat_msg"`
}

// Batch is one page of the archive.
type Batch struct {
	ErrCode int    `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
	NextSeq int64  `json:"next_seq"`
	Items   []Item `json:"chatdata"`
}

// Gateway fetches archive pages over HTTP. The gateway owns the vendor SDK
// and message decryption.
type Gateway struct {
	baseURL    string
	httpClient *http.Client
}

// NewGateway creates a Gateway for baseURL.
func NewGateway(baseURL string) *Gateway {
	return &Gateway{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 20 * time.Second},
	}
}

// Fetch returns up to limit records after seq.
func (g *Gateway) Fetch(ctx context.Context, seq int64, limit int) (Batch, error) {
	const op = "archive.fetch"

	q := url.Values{}
	q.Set("seq", strconv.FormatInt(seq, 10))
	q.Set("limit", strconv.Itoa(limit))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/chatdata?"+q.Encode(), nil)
	if err != nil {
		return Batch{}, fault.Wrap(fault.Downstream, op, fmt.Errorf("creating request: %w", err))
	}
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return Batch{}, fault.Wrap(fault.Downstream, op, fmt.Errorf("requesting chat data: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return Batch{}, fault.New(fault.Downstream, op, "gateway returned %d: %s", resp.StatusCode, body)
	}

	var b Batch
	if err := json.NewDecoder(resp.Body).Decode(&b); err != nil {
		return Batch{}, fault.Wrap(fault.Downstream, op, fmt.Errorf("decoding chat data: %w", err))
	}
	if b.ErrCode != 0 {
		return Batch{}, fault.New(fault.Downstream, op, "gateway errcode %d: %s", b.ErrCode, b.ErrMsg)
	}
	return b, nil
}
