// Package prompt renders the classifier instruction for a sender's
// pending conversation.
package prompt

import (
	"strings"
	"time"
)

// Sentinels used when a value cannot be resolved.
const (
	UnknownOwner = "未知身份业主"
	NoHistory    = "无历史记录"
	UnknownTime  = "未知时间"
)

// TimeLayout is the layout of the current-time value.
const TimeLayout = "2006-01-02 15:04:05"

// Beijing is the fixed UTC+8 zone message times are rendered in.
var Beijing = time.FixedZone("UTC+8", 8*60*60)

const intro = "你是物业报修群的工单助手，负责把业主在群里的聊天整理成结构化的报修工单草稿。\n\n"

const rules = `处理规则：
1. 只有报修位置和问题描述都明确时 actionable 才为 true；信息不全时 actionable 为 false，并在 missingInfo 中列出缺失项，例如“具体位置”“问题描述”“上门时间”。
2. intent 取值：REPAIR 报修，COMPLAINT 投诉，INQUIRY 咨询，NOISE 闲聊、寒暄或与物业服务无关的内容。
3. 业主身份中带有房号时可直接作为 location；业主明确给出其他位置时以业主所说为准。
4. urgency：漏水、停电、燃气、电梯困人等安全问题为 HIGH，影响日常生活为 MEDIUM，其余为 LOW。
5. 业主提到期望上门时间时，按当前时间换算成 yyyy-MM-dd HH:mm:ss 写入 scheduledTime。
6. 附带图片时判断图片与文字描述是否一致，写入 imageTextConsistent。
7. actionable 为 false 且 intent 不是 NOISE 时，suggestedReply 给出一句礼貌简短的追问。
8. confidence 为 0 到 1 之间的小数，表示对本次判断的把握。
`

// Input holds the four values substituted into the instruction.
type Input struct {
	Owner   string
	History string
	Schema  string
	Time    string
}

// Assembler renders instructions in a fixed layout.
type Assembler struct{}

// NewAssembler returns an Assembler.
func NewAssembler() *Assembler {
	return &Assembler{}
}

// Build renders the instruction, substituting sentinels for empty values.
func (a *Assembler) Build(in Input) string {
	if strings.TrimSpace(in.Owner) == "" {
		in.Owner = UnknownOwner
	}
	if strings.TrimSpace(in.History) == "" {
		in.History = NoHistory
	}
	if strings.TrimSpace(in.Time) == "" {
		in.Time = UnknownTime
	}

	var sb strings.Builder
	sb.WriteString(intro)
	sb.WriteString("【业主身份】" + in.Owner + "\n")
	sb.WriteString("【当前时间】" + in.Time + "\n")
	sb.WriteString("【该业主近期未完成的对话】" + in.History + "\n\n")
	sb.WriteString(rules)
	if in.Schema != "" {
		sb.WriteString("\n")
		sb.WriteString(in.Schema)
	}
	return sb.String()
}

// CurrentTime renders the message time in UTC+8, falling back to now when
// the message carries no timestamp.
func CurrentTime(timestampMillis int64, now time.Time) string {
	t := now
	if timestampMillis > 0 {
		t = time.UnixMilli(timestampMillis)
	}
	if t.IsZero() {
		return UnknownTime
	}
	return t.In(Beijing).Format(TimeLayout)
}

// CombineUserContent builds the user turn from the merged history and the
// current message without repeating content the history already holds.
func CombineUserContent(history, content string) string {
	history = strings.TrimSpace(history)
	content = strings.TrimSpace(content)
	switch {
	case history == "":
		return content
	case content == "":
		return history
	case strings.Contains(history, content):
		return history
	default:
		return history + "；" + content
	}
}
