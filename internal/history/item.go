// Package history holds the in-memory conversation transcript: the
// ordered list of ResponseItems exchanged with the model, the same
// shape code-rs/protocol/src/models.rs's ResponseItem enum threads
// through conversation_history.rs and codex/compact.rs.
//
// Go has no sum types, so ResponseItem is a tagged struct: Kind selects
// which of the other fields are meaningful, mirroring how
// _examples/ehrlich-b-wingthing/internal/llm/types.go represents a
// provider-agnostic chunk union as one struct with a discriminant.
package history

// Kind discriminates a ResponseItem's variant.
type Kind int

const (
	KindMessage Kind = iota
	KindFunctionCall
	KindFunctionCallOutput
	KindCustomToolCall
	KindCustomToolCallOutput
	KindReasoning
	KindOther
)

// ContentKind discriminates a Message's content parts.
type ContentKind int

const (
	ContentInputText ContentKind = iota
	ContentOutputText
	ContentInputImage
)

// Content is one part of a Message's content list.
type Content struct {
	Kind     ContentKind
	Text     string // InputText, OutputText
	ImageURL string // InputImage
}

// FunctionCallOutput is the payload of a FunctionCallOutput item.
type FunctionCallOutput struct {
	Content string
	Success *bool
}

// Item is a single entry in a conversation's response history.
type Item struct {
	Kind Kind

	// KindMessage
	ID      string
	Role    string
	Content []Content

	// KindFunctionCall
	Name      string
	Arguments string
	CallID    string

	// KindFunctionCallOutput
	Output FunctionCallOutput

	// KindCustomToolCall / KindCustomToolCallOutput
	Status string
	Input  string

	// KindReasoning
	Summary           []string
	ReasoningContent  []string
	EncryptedContent  *string
}

// Message constructs a KindMessage item.
func Message(id, role string, content []Content) Item {
	return Item{Kind: KindMessage, ID: id, Role: role, Content: content}
}

// TextContent extracts the concatenated text of a message's
// InputText/OutputText parts, matching content_items_to_text, or
// reports ok=false if the message has no text content.
func (it Item) TextContent() (string, bool) {
	if it.Kind != KindMessage {
		return "", false
	}
	var parts []string
	for _, c := range it.Content {
		if c.Kind == ContentInputText || c.Kind == ContentOutputText {
			parts = append(parts, c.Text)
		}
	}
	if len(parts) == 0 {
		return "", false
	}
	joined := parts[0]
	for _, p := range parts[1:] {
		joined += "\n" + p
	}
	return joined, true
}
