package convo

import (
	"context"

	"github.com/ehrlich-b/coded/internal/history"
)

// Prompt is what gets handed to a ModelFactory: the tool surface, an
// environment-context string, and the history to condition on — the
// "tools+env+history" triple from spec.md §4.G step 1.
type Prompt struct {
	Tools              []string
	EnvironmentContext string
	History            []history.Item
	BaseInstructions   string // overridden during compaction, spec.md §4.F step 3
}

// StreamEventKind discriminates one chunk of a ModelStream.
type StreamEventKind int

const (
	StreamTextDelta StreamEventKind = iota
	StreamItemDone
	StreamCompleted
)

// StreamEvent is one unit yielded by a ModelStream, generalized from the
// teacher's agent.Chunk (plain text deltas) into the tagged shape this
// package's turn loop needs: text deltas, completed history items, and a
// terminal Completed marker.
type StreamEvent struct {
	Kind StreamEventKind
	Text string       // StreamTextDelta
	Item history.Item // StreamItemDone
}

// ModelStream is the model-stream contract the turn loop consumes,
// generalized from the teacher's agent.Stream (Next()/Text()/Err(),
// SetTokens/Tokens) into an interface so any model backend can implement
// it.
type ModelStream interface {
	// Next blocks for the next event; ok is false once the stream is
	// exhausted (mirroring agent.Stream.Next's channel-receive shape).
	Next() (StreamEvent, bool)
	// Err returns the terminal stream error, if any, once Next has
	// returned ok=false.
	Err() error
	// Tokens reports input/output token usage once known.
	Tokens() (input, output int)
}

// ModelFactory opens a new ModelStream for one prompt, the model-stream
// analogue of agent.Run/agent.newStream.
type ModelFactory func(ctx context.Context, prompt Prompt) (ModelStream, error)

// ToolHandler executes one FunctionCall/CustomToolCall item and returns its
// output item. A handler that needs out-of-band approval blocks on an
// approval.Broker channel internally (see internal/approval) before
// returning; spec.md's "suspend that tool call" is realized as this
// blocking call rather than a separate suspended-turn state.
type ToolHandler interface {
	Execute(ctx context.Context, call history.Item) (history.Item, error)
}
