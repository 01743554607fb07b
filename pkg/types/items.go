package types

import "encoding/json"

// Item represents one streamed unit of content inside a turn: a text run,
// a thinking run, or a tool invocation.
type Item interface {
	ItemType() string
	ItemID() string
}

// ToolStatus tracks the lifecycle of a tool invocation.
type ToolStatus string

const (
	ToolStarted ToolStatus = "started"
	ToolRunning ToolStatus = "running"
	ToolSuccess ToolStatus = "success"
	ToolFailed  ToolStatus = "failed"
)

// ToolKind is a coarse classification of what a tool does, used by
// renderers to pick an icon or summary style.
type ToolKind string

const (
	ToolKindRead    ToolKind = "read"
	ToolKindEdit    ToolKind = "edit"
	ToolKindExecute ToolKind = "execute"
	ToolKindFetch   ToolKind = "fetch"
	ToolKindOther   ToolKind = "other"
)

// TextItem is a streamed run of assistant text.
type TextItem struct {
	ID   string `json:"id"`
	Type string `json:"type"` // always "text"
	Text string `json:"text"`
	Last bool   `json:"last,omitempty"`
}

func (i *TextItem) ItemType() string { return "text" }
func (i *TextItem) ItemID() string   { return i.ID }

// ThinkingItem is a streamed run of extended-thinking text.
type ThinkingItem struct {
	ID   string `json:"id"`
	Type string `json:"type"` // always "thinking"
	Text string `json:"text"`
}

func (i *ThinkingItem) ItemType() string { return "thinking" }
func (i *ThinkingItem) ItemID() string   { return i.ID }

// ToolItem is a tool invocation streamed by the backend. Input arrives as
// fragments and is parsed into Input once complete; RawOutput accumulates
// whatever the backend streams for the call while it runs.
type ToolItem struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"` // always "tool"
	Name      string         `json:"name"`
	Kind      ToolKind       `json:"kind,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
	RawOutput string         `json:"rawOutput,omitempty"`
	Status    ToolStatus     `json:"status"`
	Result    *string        `json:"result,omitempty"`
}

func (i *ToolItem) ItemType() string { return "tool" }
func (i *ToolItem) ItemID() string   { return i.ID }

// UnmarshalItem unmarshals a JSON content item into the appropriate type.
func UnmarshalItem(data []byte) (Item, error) {
	var raw struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	switch raw.Type {
	case "thinking":
		var i ThinkingItem
		if err := json.Unmarshal(data, &i); err != nil {
			return nil, err
		}
		return &i, nil
	case "tool":
		var i ToolItem
		if err := json.Unmarshal(data, &i); err != nil {
			return nil, err
		}
		return &i, nil
	default:
		// Text, and anything unknown degrades to text
		var i TextItem
		if err := json.Unmarshal(data, &i); err != nil {
			return nil, err
		}
		return &i, nil
	}
}
