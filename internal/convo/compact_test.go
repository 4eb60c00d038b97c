package convo

import (
	"context"
	"testing"

	"github.com/ehrlich-b/coded/internal/approval"
	"github.com/ehrlich-b/coded/internal/history"
)

func TestCompactReplacesHistoryWithBridge(t *testing.T) {
	factory := func(ctx context.Context, prompt Prompt) (ModelStream, error) {
		return &scriptedStream{events: []StreamEvent{{Kind: StreamCompleted}}}, nil
	}
	conv := NewConversation("c1", factory, nil, approval.NewBroker(), nil)

	conv.hist.Record(
		history.Message("u1", "user", []history.Content{{Kind: history.ContentInputText, Text: "please fix the bug"}}),
		history.Message("a1", "assistant", []history.Content{{Kind: history.ContentOutputText, Text: "done"}}),
	)

	summaryFactory := func(ctx context.Context, prompt Prompt) (ModelStream, error) {
		return &scriptedStream{events: []StreamEvent{
			{Kind: StreamItemDone, Item: history.Message("s1", "assistant", []history.Content{
				{Kind: history.ContentOutputText, Text: "fixed the off-by-one bug"},
			})},
			{Kind: StreamCompleted},
		}}, nil
	}

	if err := conv.Compact(context.Background(), nil, summaryFactory); err != nil {
		t.Fatal(err)
	}

	hist := conv.History()
	if len(hist) != 1 {
		t.Fatalf("expected a single bridge message, got %d items", len(hist))
	}
	text, ok := hist[0].TextContent()
	if !ok {
		t.Fatalf("expected bridge message to carry text content")
	}
	if !contains(text, "fixed the off-by-one bug") {
		t.Fatalf("expected summary text in bridge message, got %q", text)
	}
	if !contains(text, "please fix the bug") {
		t.Fatalf("expected prior user message in bridge message, got %q", text)
	}
}

func contains(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return len(sub) == 0
}
