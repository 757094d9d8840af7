// Package session keeps each sender's rolling context of pending messages
// in the shared store until they add up to an actionable ticket.
package session

import (
	"strings"
)

// Separator joins messages in merged history.
const Separator = "；"

// Item is one message kept in a sender's window.
type Item struct {
	Content         string `json:"content"`
	TimestampMillis int64  `json:"timestampMillis"`
	ImageURL        string `json:"imageUrl,omitempty"`
}

// Window is the ordered context of a sender's pending messages.
type Window struct {
	Items            []Item `json:"items"`
	LastUpdateMillis int64  `json:"lastUpdateMillis"`
}

// MergedText joins the non-empty item contents in arrival order.
func (w *Window) MergedText() string {
	if w == nil {
		return ""
	}
	parts := make([]string, 0, len(w.Items))
	for _, it := range w.Items {
		if c := strings.TrimSpace(it.Content); c != "" {
			parts = append(parts, c)
		}
	}
	return strings.Join(parts, Separator)
}

// Images returns every item image in order, followed by current when it is
// set and not already present.
func (w *Window) Images(current string) []string {
	var out []string
	seen := make(map[string]bool)
	if w != nil {
		for _, it := range w.Items {
			if it.ImageURL != "" {
				out = append(out, it.ImageURL)
				seen[it.ImageURL] = true
			}
		}
	}
	if current != "" && !seen[current] {
		out = append(out, current)
	}
	return out
}

// Len returns the number of items; zero for a nil window.
func (w *Window) Len() int {
	if w == nil {
		return 0
	}
	return len(w.Items)
}
