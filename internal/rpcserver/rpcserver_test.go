package rpcserver

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/ehrlich-b/coded/internal/approval"
	"github.com/ehrlich-b/coded/internal/convo"
	"github.com/ehrlich-b/coded/internal/history"
)

// fakeTransport records outbound requests/notifications and answers
// requests from a scripted response table, the test double for Transport
// (mirroring scriptedStream's role for ModelStream in internal/convo).
type fakeTransport struct {
	mu            sync.Mutex
	notifications []string
	responses     map[string]json.RawMessage
	requestErr    error
}

func (f *fakeTransport) SendRequest(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if f.requestErr != nil {
		return nil, f.requestErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.responses[method], nil
}

func (f *fakeTransport) SendNotification(ctx context.Context, method string, params any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notifications = append(f.notifications, method)
	return nil
}

type singleConversationFactory struct {
	conv *convo.Conversation
}

func (s singleConversationFactory) NewConversation(ctx context.Context, params NewConversationParams) (string, string, string, string, *convo.Conversation, error) {
	return "conv-1", "gpt-5", "medium", "/home/.code/sessions/2026/07/31/rollout-x.jsonl", s.conv, nil
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if cond() {
			return
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for condition")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestHandleNewConversationRegistersConversation(t *testing.T) {
	broker := approval.NewBroker()
	conv := convo.NewConversation("conv-1", nil, nil, broker, nil)
	srv := NewServer(&fakeTransport{}, singleConversationFactory{conv: conv}, broker)

	result, err := srv.HandleNewConversation(context.Background(), NewConversationParams{Model: "gpt-5"})
	if err != nil {
		t.Fatal(err)
	}
	if result.ConversationID != "conv-1" || result.Model != "gpt-5" {
		t.Fatalf("unexpected result: %+v", result)
	}

	if _, err := srv.lookup("conv-1"); err != nil {
		t.Fatalf("expected conv-1 to be registered: %v", err)
	}
}

func TestHandleSendUserMessageUnknownConversation(t *testing.T) {
	broker := approval.NewBroker()
	srv := NewServer(&fakeTransport{}, singleConversationFactory{}, broker)

	err := srv.HandleSendUserMessage(context.Background(), SendUserMessageParams{ConversationID: "missing"})
	if err == nil {
		t.Fatal("expected an error for an unknown conversation")
	}
	rpcErr, ok := err.(*RPCError)
	if !ok || rpcErr.Code != ErrInvalidRequest {
		t.Fatalf("expected INVALID_REQUEST, got %v", err)
	}
}

func TestAddListenerForwardsEventsAndRoutesApproval(t *testing.T) {
	broker := approval.NewBroker()
	factory := func(ctx context.Context, prompt convo.Prompt) (convo.ModelStream, error) {
		return &scriptedStream{events: []convo.StreamEvent{
			{Kind: convo.StreamItemDone, Item: history.Item{Kind: history.KindFunctionCall, Name: "exec", CallID: "call-1", Arguments: "{}"}},
			{Kind: convo.StreamCompleted},
		}}, nil
	}
	conv := convo.NewConversation("conv-1", factory, map[string]convo.ToolHandler{"exec": approvalWaitingTool{}}, broker, nil)

	transport := &fakeTransport{responses: map[string]json.RawMessage{
		ExecCommandApprovalMethod: json.RawMessage(`{"decision":"approved"}`),
	}}
	srv := NewServer(transport, singleConversationFactory{conv: conv}, broker)
	if _, err := srv.HandleNewConversation(context.Background(), NewConversationParams{}); err != nil {
		t.Fatal(err)
	}

	if _, err := srv.HandleAddConversationListener(context.Background(), AddConversationListenerParams{ConversationID: "conv-1"}); err != nil {
		t.Fatal(err)
	}

	if err := srv.HandleSendUserMessage(context.Background(), SendUserMessageParams{
		ConversationID: "conv-1",
		Items:          []history.Item{history.Message("u1", "user", nil)},
	}); err != nil {
		t.Fatal(err)
	}

	waitUntil(t, func() bool {
		transport.mu.Lock()
		defer transport.mu.Unlock()
		for _, m := range transport.notifications {
			if m == "codex/event/exec_approval_request" {
				return true
			}
		}
		return false
	})
}

// scriptedStream yields a fixed sequence of StreamEvents, matching
// internal/convo's own test double for ModelStream.
type scriptedStream struct {
	events []convo.StreamEvent
	idx    int
}

func (s *scriptedStream) Next() (convo.StreamEvent, bool) {
	if s.idx >= len(s.events) {
		return convo.StreamEvent{}, false
	}
	ev := s.events[s.idx]
	s.idx++
	return ev, true
}
func (s *scriptedStream) Err() error         { return nil }
func (s *scriptedStream) Tokens() (int, int) { return 0, 0 }

// approvalWaitingTool requests approval through the Conversation reached
// via context and blocks until resolved, mirroring how an exec tool
// suspends on approval per spec.md §4.E.
type approvalWaitingTool struct{}

func (a approvalWaitingTool) Execute(ctx context.Context, call history.Item) (history.Item, error) {
	conv, ok := convo.FromContext(ctx)
	if !ok {
		return history.Item{}, context.Canceled
	}
	ch := conv.RequestApproval(&convo.ApprovalRequest{CallID: call.CallID, Command: []string{"echo", "hi"}}, convo.EventExecApprovalRequest)
	decision := <-ch
	success := decision == approval.Approved
	return history.Item{
		Kind:   history.KindFunctionCallOutput,
		CallID: call.CallID,
		Output: history.FunctionCallOutput{Content: decision.String(), Success: &success},
	}, nil
}
