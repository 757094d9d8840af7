package archive

import (
	"encoding/json"
	"strings"

	"github.com/kalambet/groupdesk/internal/router"
)

type chatMessage struct {
	MsgType string `json:"msgtype"`
	From    string `json:"from"`
	RoomID  string `json:"roomid"`
	MsgTime int64  `json:"msgtime"`
	Text    *struct {
		Content string `json:"content"`
	} `json:"text"`
	Image *struct {
		SDKFileID string `json:"sdkfileid"`
	} `json:"image"`
}

// Parser turns decrypted archive JSON into pipeline messages.
type Parser struct {
	// MediaBaseURL prefixes image sdkfileids; empty leaves the raw id.
	MediaBaseURL string
}

// Parse returns the message and true for group text and image messages.
// Anything else, including private chats and malformed JSON, is skipped.
func (p Parser) Parse(decrypted string) (router.Message, bool) {
	if strings.TrimSpace(decrypted) == "" {
		return router.Message{}, false
	}
	var m chatMessage
	if err := json.Unmarshal([]byte(decrypted), &m); err != nil {
		return router.Message{}, false
	}
	if strings.TrimSpace(m.From) == "" || strings.TrimSpace(m.RoomID) == "" {
		return router.Message{}, false
	}

	msg := router.Message{
		SenderID: m.From,
		GroupID:  m.RoomID,
		// msgtime is already milliseconds in some gateway builds
		TimestampMillis: normalizeMillis(m.MsgTime),
	}
	switch {
	case m.MsgType == "text" && m.Text != nil:
		msg.Content = m.Text.Content
	case m.MsgType == "image" && m.Image != nil:
		msg.ImageURL = p.mediaURL(m.Image.SDKFileID)
	default:
		return router.Message{}, false
	}
	return msg, true
}

func (p Parser) mediaURL(sdkFileID string) string {
	base := strings.TrimRight(strings.TrimSpace(p.MediaBaseURL), "/")
	if sdkFileID == "" || base == "" {
		return sdkFileID
	}
	return base + "/" + sdkFileID
}

func normalizeMillis(t int64) int64 {
	if t > 0 && t < 1e12 {
		return t * 1000
	}
	return t
}
