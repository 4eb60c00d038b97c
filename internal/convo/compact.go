package convo

import (
	"context"
	"fmt"

	"github.com/ehrlich-b/coded/internal/compact"
	"github.com/ehrlich-b/coded/internal/history"
)

// summarizationInstructions is the embedded template compaction swaps in
// for base_instructions_override, matching spec.md §4.F step 3.
const summarizationInstructions = "Summarize the conversation so far for continuation in a fresh context."

// isSessionPrefixText reports whether a user message is a synthetic
// "user instructions"/"environment context" entry rather than a real user
// turn, matching CollectUserMessages' exclusion and spec.md §3 History's
// "identifiable via a syntactic prefix" invariant.
func isSessionPrefixText(text string) bool {
	return len(text) > 0 && (hasPrefix(text, "<user_instructions>") || hasPrefix(text, "<environment_context>"))
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// Compact runs the history-compaction algorithm (spec.md §4.F): snapshot,
// sanitize, summarize via one extra model turn, then replace history with
// initial_context ‖ bridge-message and append a Compacted rollout record.
// initialContext is the prefix of history to keep verbatim (e.g. the
// original system/user-instructions items); summaryFactory opens a model
// stream for the summarization prompt.
func (c *Conversation) Compact(ctx context.Context, initialContext []history.Item, summaryFactory ModelFactory) error {
	c.mu.Lock()
	if c.turnInFlight {
		c.mu.Unlock()
		return ErrTurnInFlight
	}
	c.turnInFlight = true
	c.mu.Unlock()
	defer c.endTurn()

	snapshot := c.hist.Contents()
	sanitized := compact.SanitizeForCompact(snapshot)

	prompt := Prompt{
		Tools:              nil,
		EnvironmentContext: "",
		History:            sanitized,
		BaseInstructions:   summarizationInstructions,
	}
	stream, err := summaryFactory(ctx, prompt)
	if err != nil {
		return fmt.Errorf("convo: open summarization stream: %w", err)
	}

	var lastMessage history.Item
	haveMessage := false
	for {
		ev, ok := stream.Next()
		if !ok {
			if err := stream.Err(); err != nil {
				return fmt.Errorf("convo: summarization stream: %w", err)
			}
			break
		}
		if ev.Kind == StreamItemDone && ev.Item.Kind == history.KindMessage {
			lastMessage = ev.Item
			haveMessage = true
		}
	}

	summaryText := ""
	if haveMessage {
		if text, ok := lastMessage.TextContent(); ok {
			summaryText = text
		}
	}

	userMessages := compact.CollectUserMessages(snapshot, isSessionPrefixText)
	bridged := compact.BuildCompactedHistory(initialContext, userMessages, summaryText)

	c.hist.Replace(bridged)
	if c.recorder != nil {
		if err := c.recorder.AppendCompacted(compact.DisplayMessage(summaryText)); err != nil {
			return err
		}
	}
	return nil
}
