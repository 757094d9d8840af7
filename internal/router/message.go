package router

import (
	"strings"

	"github.com/kalambet/groupdesk/internal/fault"
)

// Message is one inbound chat message.
type Message struct {
	SenderID        string `json:"senderId"`
	GroupID         string `json:"groupId"`
	Content         string `json:"content"`
	ImageURL        string `json:"imageUrl,omitempty"`
	TimestampMillis int64  `json:"timestampMillis,omitempty"`
}

// Validate rejects messages without a sender, a group, or any payload.
func (m Message) Validate() error {
	switch {
	case strings.TrimSpace(m.SenderID) == "":
		return fault.New(fault.Validation, "validate message", "senderId is required")
	case strings.TrimSpace(m.GroupID) == "":
		return fault.New(fault.Validation, "validate message", "groupId is required")
	case strings.TrimSpace(m.Content) == "" && strings.TrimSpace(m.ImageURL) == "":
		return fault.New(fault.Validation, "validate message", "content or imageUrl is required")
	}
	return nil
}
