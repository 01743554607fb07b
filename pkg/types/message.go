package types

import "encoding/json"

// Message is one transcript entry: a user message or a completed assistant
// turn flattened into content blocks. Message ids are unique within a
// transcript; an id seen twice is merged, never duplicated.
type Message struct {
	ID          string        `json:"id"`
	SessionID   string        `json:"sessionID"`
	Role        string        `json:"role"` // "user" | "assistant" | "system"
	Blocks      []Item        `json:"-"`
	Time        MessageTime   `json:"time"`
	IsStreaming bool          `json:"isStreaming,omitempty"`
	Usage       *TokenUsage   `json:"usage,omitempty"`
	Error       *MessageError `json:"error,omitempty"`
}

// MarshalJSON emits Blocks through the tagged-item encoding.
func (m Message) MarshalJSON() ([]byte, error) {
	type Alias Message
	aux := struct {
		Alias
		Blocks []Item `json:"blocks"`
	}{
		Alias:  Alias(m),
		Blocks: m.Blocks,
	}
	return json.Marshal(aux)
}

// UnmarshalJSON decodes Blocks via UnmarshalItem so each block regains its
// concrete type.
func (m *Message) UnmarshalJSON(data []byte) error {
	type Alias Message
	aux := struct {
		*Alias
		Blocks []json.RawMessage `json:"blocks"`
	}{
		Alias: (*Alias)(m),
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	m.Blocks = make([]Item, 0, len(aux.Blocks))
	for _, raw := range aux.Blocks {
		item, err := UnmarshalItem(raw)
		if err != nil {
			return err
		}
		m.Blocks = append(m.Blocks, item)
	}
	return nil
}

// ToolCallIDs returns the set of tool item ids present in the message.
func (m *Message) ToolCallIDs() map[string]bool {
	ids := make(map[string]bool)
	for _, block := range m.Blocks {
		if tool, ok := block.(*ToolItem); ok {
			ids[tool.ID] = true
		}
	}
	return ids
}

// TextLength returns the total accumulated text length across text and
// thinking blocks. Used by the transcript merge heuristic.
func (m *Message) TextLength() int {
	n := 0
	for _, block := range m.Blocks {
		switch b := block.(type) {
		case *TextItem:
			n += len(b.Text)
		case *ThinkingItem:
			n += len(b.Text)
		}
	}
	return n
}

// MessageTime contains timestamps for a message (unix millis).
type MessageTime struct {
	Created int64  `json:"created"`
	Updated *int64 `json:"updated,omitempty"`
}

// TokenUsage contains token statistics attached to a completed message.
type TokenUsage struct {
	Input     int `json:"input"`
	Output    int `json:"output"`
	Reasoning int `json:"reasoning"`
	CacheRead int `json:"cacheRead"`
}

// MessageError records a terminal backend error attached to a message.
type MessageError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// DisplayItem is the UI-facing projection of one message content block.
// Display items stay 1:1 positionally mapped to their message's blocks, and
// their ids are stable across rebuilds so renderers can avoid flicker.
type DisplayItem struct {
	ID         string     `json:"id"`
	MessageID  string     `json:"messageID"`
	BlockIndex int        `json:"blockIndex"`
	Kind       string     `json:"kind"` // "text" | "thinking" | "tool"
	Text       string     `json:"text,omitempty"`
	ToolName   string     `json:"toolName,omitempty"`
	ToolStatus ToolStatus `json:"toolStatus,omitempty"`
	Streaming  bool       `json:"streaming,omitempty"`
}
