// Package classifier turns an assembled prompt and a sender's merged
// messages into a TicketDraft using an LLM backend.
package classifier

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Intent is what the sender wants from property management.
type Intent string

const (
	IntentRepair    Intent = "REPAIR"
	IntentComplaint Intent = "COMPLAINT"
	IntentInquiry   Intent = "INQUIRY"
	IntentNoise     Intent = "NOISE"
)

func (i *Intent) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("intent: %w", err)
	}
	switch v := Intent(strings.ToUpper(strings.TrimSpace(s))); v {
	case IntentRepair, IntentComplaint, IntentInquiry, IntentNoise:
		*i = v
		return nil
	default:
		return fmt.Errorf("unknown intent %q", s)
	}
}

// Urgency ranks how soon a ticket needs attention.
type Urgency string

const (
	UrgencyHigh   Urgency = "HIGH"
	UrgencyMedium Urgency = "MEDIUM"
	UrgencyLow    Urgency = "LOW"
)

// UnmarshalJSON accepts any case; unrecognised values decode as empty
// since urgency is advisory.
func (u *Urgency) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("urgency: %w", err)
	}
	switch v := Urgency(strings.ToUpper(strings.TrimSpace(s))); v {
	case UrgencyHigh, UrgencyMedium, UrgencyLow:
		*u = v
	default:
		*u = ""
	}
	return nil
}

// StringList decodes from either a JSON string or an array of strings. A
// non-empty string becomes a one-element list; an empty one, an empty list.
type StringList []string

func (l *StringList) UnmarshalJSON(b []byte) error {
	trimmed := strings.TrimSpace(string(b))
	switch {
	case trimmed == "null":
		*l = StringList{}
		return nil
	case strings.HasPrefix(trimmed, `"`):
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s = strings.TrimSpace(s); s == "" {
			*l = StringList{}
		} else {
			*l = StringList{s}
		}
		return nil
	default:
		var items []string
		if err := json.Unmarshal(b, &items); err != nil {
			return fmt.Errorf("missingInfo: %w", err)
		}
		*l = StringList(items)
		return nil
	}
}

func (l StringList) MarshalJSON() ([]byte, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]string(l))
}

// TicketDraft is the structured classifier output. Actionable drafts are
// persisted whatever MissingInfo says.
type TicketDraft struct {
	Actionable          bool       `json:"actionable" jsonschema_description:"信息足以创建工单时为 true"`
	Intent              Intent     `json:"intent" jsonschema:"enum=REPAIR,enum=COMPLAINT,enum=INQUIRY,enum=NOISE"`
	Category            string     `json:"category,omitempty" jsonschema_description:"报修类别，例如 水电 门窗 电梯 公共设施"`
	Location            string     `json:"location,omitempty" jsonschema_description:"报修位置，例如 3-201"`
	Description         string     `json:"description,omitempty" jsonschema_description:"问题描述"`
	Urgency             Urgency    `json:"urgency,omitempty" jsonschema:"enum=HIGH,enum=MEDIUM,enum=LOW"`
	MissingInfo         StringList `json:"missingInfo" jsonschema_description:"缺失的信息项"`
	SuggestedReply      string     `json:"suggestedReply,omitempty" jsonschema_description:"信息不全时向业主追问的话"`
	ScheduledTime       string     `json:"scheduledTime,omitempty" jsonschema_description:"期望上门时间 yyyy-MM-dd HH:mm:ss"`
	Confidence          float64    `json:"confidence" jsonschema:"minimum=0,maximum=1"`
	ImageTextConsistent *bool      `json:"imageTextConsistent,omitempty" jsonschema_description:"图片内容与文字描述是否一致"`
}

// NumericNoise is the draft synthesized for digits-only chatter.
func NumericNoise() TicketDraft {
	return TicketDraft{
		Actionable:  false,
		Intent:      IntentNoise,
		Confidence:  0.2,
		MissingInfo: StringList{},
	}
}
