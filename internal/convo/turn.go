package convo

import (
	"context"
	"encoding/json"

	"github.com/ehrlich-b/coded/internal/history"
	"github.com/ehrlich-b/coded/internal/rollout"
)

// DefaultContextWindow is used when a caller doesn't supply one to
// BuildPrompt.
const DefaultContextWindow = 200000

// BuildPrompt assembles a Prompt from the current history within
// contextWindow, generalizing internal/orchestrator/build.go's
// budget-subtraction bookkeeping (`budget -= len(x); if budget < 0 {
// budget = 0 }`) from a single-prompt-string budget into a byte budget
// over history items: items are kept newest-first until the byte budget
// runs out.
func BuildPrompt(items []history.Item, environmentContext string, tools []string, contextWindow int) Prompt {
	if contextWindow <= 0 {
		contextWindow = DefaultContextWindow
	}
	budget := contextWindow - len(environmentContext)
	if budget < 0 {
		budget = 0
	}

	kept := make([]history.Item, 0, len(items))
	for i := len(items) - 1; i >= 0 && budget > 0; i-- {
		it := items[i]
		size := itemApproxBytes(it)
		budget -= size
		if budget < 0 {
			budget = 0
		}
		kept = append(kept, it)
	}
	// restore original order
	for l, r := 0, len(kept)-1; l < r; l, r = l+1, r-1 {
		kept[l], kept[r] = kept[r], kept[l]
	}

	return Prompt{Tools: tools, EnvironmentContext: environmentContext, History: kept}
}

func itemApproxBytes(it history.Item) int {
	n := len(it.Arguments) + len(it.Output.Content)
	for _, c := range it.Content {
		n += len(c.Text) + len(c.ImageURL)
	}
	for _, s := range it.Summary {
		n += len(s)
	}
	for _, s := range it.ReasoningContent {
		n += len(s)
	}
	return n
}

func historyItemJSON(it history.Item) (json.RawMessage, error) {
	data, err := json.Marshal(it)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}

// runTurn drives one turn: emit TaskStarted, open a model stream, drain
// its events (appending completed items to history, dispatching tool
// calls), and emit TaskComplete/TurnAborted/Error, matching spec.md §4.G's
// turn algorithm.
func (c *Conversation) runTurn(ctx context.Context, requestOrdinal uint64) {
	defer c.endTurn()

	ctx = withConversation(ctx, c)
	c.emit(Event{Kind: EventTaskStarted, Order: c.nextOrder(requestOrdinal, 0)})

	var outputIndex uint64
	lastAssistantMessage := ""

	for {
		prompt := BuildPrompt(c.hist.Contents(), "", toolNames(c.tools), DefaultContextWindow)
		stream, err := c.factory(ctx, prompt)
		if err != nil {
			c.emit(Event{Kind: EventError, Err: err.Error(), Order: c.nextOrder(requestOrdinal, outputIndex)})
			return
		}

		sawToolCall := false

	drain:
		for {
			select {
			case <-ctx.Done():
				c.emit(Event{Kind: EventTurnAborted, AbortReason: AbortInterrupted, Order: c.nextOrder(requestOrdinal, outputIndex)})
				return
			default:
			}

			ev, ok := stream.Next()
			if !ok {
				if err := stream.Err(); err != nil {
					c.emit(Event{Kind: EventError, Err: err.Error(), Order: c.nextOrder(requestOrdinal, outputIndex)})
					return
				}
				break drain
			}

			switch ev.Kind {
			case StreamTextDelta:
				c.emit(Event{Kind: EventAgentMessageDelta, Text: ev.Text, Order: c.nextOrder(requestOrdinal, outputIndex)})
			case StreamItemDone:
				outputIndex++
				c.hist.Record(ev.Item)
				c.recordRollout(ev.Item)

				switch ev.Item.Kind {
				case history.KindMessage:
					if text, ok := ev.Item.TextContent(); ok {
						lastAssistantMessage = text
						c.emit(Event{Kind: EventAgentMessage, Text: text, Order: c.nextOrder(requestOrdinal, outputIndex)})
					}
				case history.KindFunctionCall, history.KindCustomToolCall:
					sawToolCall = true
					c.emit(Event{Kind: EventCustomToolCallBegin, ToolName: ev.Item.Name, CallID: ev.Item.CallID, Order: c.nextOrder(requestOrdinal, outputIndex)})
					output := c.runTool(ctx, ev.Item)
					outputIndex++
					c.hist.Record(output)
					c.recordRollout(output)
					c.emit(Event{Kind: EventCustomToolCallEnd, ToolName: ev.Item.Name, CallID: ev.Item.CallID, Order: c.nextOrder(requestOrdinal, outputIndex)})
				}
			case StreamCompleted:
				// End of this model round; whether the turn ends is
				// decided below.
			}
		}

		if !sawToolCall {
			c.emit(Event{Kind: EventTaskComplete, LastAgentMessage: lastAssistantMessage, Order: c.nextOrder(requestOrdinal, outputIndex)})
			return
		}
		// A tool call was handled; loop back into the model with the
		// updated history, matching step 2's "re-enter the model loop if
		// needed".
	}
}

func (c *Conversation) runTool(ctx context.Context, call history.Item) history.Item {
	handler, ok := c.tools[call.Name]
	if !ok {
		success := false
		return history.Item{
			Kind:   history.KindFunctionCallOutput,
			CallID: call.CallID,
			Output: history.FunctionCallOutput{
				Content: "no handler registered for tool " + call.Name,
				Success: &success,
			},
		}
	}

	output, err := handler.Execute(ctx, call)
	if err != nil {
		success := false
		return history.Item{
			Kind:   history.KindFunctionCallOutput,
			CallID: call.CallID,
			Output: history.FunctionCallOutput{
				Content: err.Error(),
				Success: &success,
			},
		}
	}
	return output
}

func (c *Conversation) recordRollout(it history.Item) {
	if c.recorder == nil {
		return
	}
	payload, err := historyItemJSON(it)
	if err != nil {
		return
	}
	_ = c.recorder.Append(rollout.Record{Type: rollout.RecordResponseItem, Payload: payload})
}

func toolNames(tools map[string]ToolHandler) []string {
	names := make([]string, 0, len(tools))
	for name := range tools {
		names = append(names, name)
	}
	return names
}
