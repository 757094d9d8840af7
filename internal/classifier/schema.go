package classifier

import (
	"encoding/json"
	"sync"

	"github.com/invopop/jsonschema"
)

var (
	schemaOnce sync.Once
	schemaJSON json.RawMessage
)

// Schema returns the JSON schema of TicketDraft.
func Schema() json.RawMessage {
	schemaOnce.Do(func() {
		r := &jsonschema.Reflector{DoNotReference: true, ExpandedStruct: true}
		s := r.Reflect(&TicketDraft{})
		b, err := json.Marshal(s)
		if err != nil {
			panic("classifier: marshalling draft schema: " + err.Error())
		}
		schemaJSON = b
	})
	return schemaJSON
}

// FormatInstructions is the output-format hint placed into the prompt.
func FormatInstructions() string {
	return "你的回答必须是一个 JSON 对象，不要附带解释或 Markdown 代码块。\n" +
		"该 JSON 必须符合以下 JSON Schema：\n```\n" + string(Schema()) + "\n```"
}
