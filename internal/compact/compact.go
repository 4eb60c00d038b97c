// Package compact sanitizes and re-bridges conversation history when a
// turn summarization ("compaction") completes, shrinking tool
// args/output/text content and folding prior user turns plus the
// summary into a single bridge message.
//
// Grounded on code-rs/core/src/codex/compact.rs: the byte budgets
// (COMPACT_TEXT_CONTENT_MAX_BYTES etc.), sanitize_items_for_compact's
// per-variant truncation, and build_compacted_history's
// "(none)"/"(no summary available)" bridge assembly.
package compact

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/ehrlich-b/coded/internal/history"
)

const (
	textContentMaxBytes    = 8 * 1024
	toolArgsMaxBytes       = 4 * 1024
	toolOutputMaxBytes     = 4 * 1024
	imageURLMaxBytes       = 512
	userMessageMaxTokens   = 20_000
	userMessageMaxBytes    = userMessageMaxTokens * 4
)

// SanitizeForCompact shrinks every oversized text/tool-args/tool-output
// field to its byte budget and collapses inline image data URLs or
// over-budget URLs into a text placeholder, matching
// sanitize_items_for_compact. Messages left with no content after
// sanitizing are dropped, exactly as the original drops them via
// filter_map.
func SanitizeForCompact(items []history.Item) []history.Item {
	out := make([]history.Item, 0, len(items))
	for _, it := range items {
		switch it.Kind {
		case history.KindMessage:
			filtered := make([]history.Content, 0, len(it.Content))
			for _, c := range it.Content {
				switch c.Kind {
				case history.ContentInputText, history.ContentOutputText:
					filtered = append(filtered, history.Content{
						Kind: c.Kind,
						Text: truncateForCompact(c.Text, textContentMaxBytes),
					})
				case history.ContentInputImage:
					if strings.HasPrefix(c.ImageURL, "data:") || len(c.ImageURL) > imageURLMaxBytes {
						filtered = append(filtered, history.Content{
							Kind: history.ContentInputText,
							Text: fmt.Sprintf("(image omitted for compaction; %d bytes)", len(c.ImageURL)),
						})
					} else {
						filtered = append(filtered, c)
					}
				}
			}
			if len(filtered) == 0 {
				continue
			}
			next := it
			next.Content = filtered
			out = append(out, next)

		case history.KindFunctionCall:
			next := it
			next.Arguments = truncateForCompact(it.Arguments, toolArgsMaxBytes)
			out = append(out, next)

		case history.KindFunctionCallOutput:
			next := it
			next.Output.Content = truncateForCompact(it.Output.Content, toolOutputMaxBytes)
			out = append(out, next)

		case history.KindCustomToolCall:
			next := it
			next.Input = truncateForCompact(it.Input, toolArgsMaxBytes)
			out = append(out, next)

		case history.KindCustomToolCallOutput:
			next := it
			next.Output.Content = truncateForCompact(it.Output.Content, toolOutputMaxBytes)
			out = append(out, next)

		case history.KindReasoning:
			out = append(out, history.Item{
				Kind:    history.KindReasoning,
				ID:      it.ID,
				Summary: it.Summary,
			})

		default:
			out = append(out, it)
		}
	}
	return out
}

func truncateForCompact(text string, maxBytes int) string {
	if len(text) <= maxBytes {
		return text
	}
	return truncateMiddle(text, maxBytes)
}

// truncateMiddle keeps a head and tail of s, preferring to cut at
// newline boundaries and always on a UTF-8 rune boundary, replacing the
// omitted middle with a byte-count marker. Budget allocation and
// newline preference mirror the boundary-safe slicing discipline in
// execsession.TruncatingCollector, applied here to a single string
// rather than a streamed collector.
func truncateMiddle(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	marker := fmt.Sprintf("\n…[%d bytes omitted]…\n", len(s)-maxBytes)
	if len(marker) >= maxBytes {
		return onBoundary(s, maxBytes)
	}
	budget := maxBytes - len(marker)
	headBudget := budget / 2
	tailBudget := budget - headBudget

	head := s[:headBudget]
	if idx := strings.LastIndexByte(head, '\n'); idx >= 0 {
		head = s[:idx+1]
	} else {
		head = onBoundary(s, headBudget)
	}

	tailStart := len(s) - tailBudget
	tail := s[tailStart:]
	if idx := strings.IndexByte(tail, '\n'); idx >= 0 {
		tail = s[tailStart+idx+1:]
	} else {
		for tailStart < len(s) && !utf8.RuneStart(s[tailStart]) {
			tailStart++
		}
		tail = s[tailStart:]
	}

	var b strings.Builder
	b.WriteString(head)
	b.WriteString(marker)
	b.WriteString(tail)
	return b.String()
}

func onBoundary(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	end := maxLen
	for end > 0 && !utf8.RuneStart(s[end]) {
		end--
	}
	return s[:end]
}

// CollectUserMessages extracts the text of every role=="user" message,
// skipping session-prefix bookkeeping messages (user instructions,
// environment context), matching collect_user_messages /
// is_session_prefix_message.
func CollectUserMessages(items []history.Item, isSessionPrefix func(string) bool) []string {
	var out []string
	for _, it := range items {
		if it.Kind != history.KindMessage || it.Role != "user" {
			continue
		}
		text, ok := it.TextContent()
		if !ok {
			continue
		}
		if isSessionPrefix != nil && isSessionPrefix(text) {
			continue
		}
		out = append(out, text)
	}
	return out
}

// BuildCompactedHistory assembles the post-compaction transcript:
// initialContext (environment/instructions items carried forward)
// followed by one synthetic user message bridging the prior
// conversation's user turns and the summarization result, matching
// build_compacted_history / the history_bridge.md template.
func BuildCompactedHistory(initialContext []history.Item, userMessages []string, summaryText string) []history.Item {
	out := append([]history.Item(nil), initialContext...)

	userMessagesText := "(none)"
	if len(userMessages) > 0 {
		userMessagesText = strings.Join(userMessages, "\n\n")
	}
	if len(userMessagesText) > userMessageMaxBytes {
		userMessagesText = truncateMiddle(userMessagesText, userMessageMaxBytes)
	}

	summary := summaryText
	if strings.TrimSpace(summary) == "" {
		summary = "(no summary available)"
	}

	bridge := renderHistoryBridge(userMessagesText, summary)
	out = append(out, history.Message("", "user", []history.Content{
		{Kind: history.ContentInputText, Text: bridge},
	}))
	return out
}

// renderHistoryBridge matches the compact/history_bridge.md template:
// a short preamble, the prior user turns, and the summary, clearly
// demarcated so the model treats this as recovered context rather than
// a live user message.
func renderHistoryBridge(userMessagesText, summaryText string) string {
	var b strings.Builder
	b.WriteString("Here is a summary of the conversation so far, condensed to continue the task:\n\n")
	b.WriteString("## Prior user messages\n")
	b.WriteString(userMessagesText)
	b.WriteString("\n\n## Summary\n")
	b.WriteString(summaryText)
	b.WriteString("\n")
	return b.String()
}

// DisplayMessage renders the user-visible completion message for a
// compaction task, matching perform_compaction's
// "Compact task completed." fallback for an empty summary.
func DisplayMessage(summaryText string) string {
	if strings.TrimSpace(summaryText) == "" {
		return "Compact task completed."
	}
	return summaryText
}
