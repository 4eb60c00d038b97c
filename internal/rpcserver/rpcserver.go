// Package rpcserver implements the message-semantics layer spec.md §6
// describes: method dispatch, request/response/notification shapes, and
// outbound approval RPCs. The actual JSON-RPC framing/transport is out of
// scope (spec.md's wire-framing non-goal) and is abstracted behind a small
// Transport interface a real codec would implement.
//
// Grounded on code-rs/app-server/src/code_message_processor.rs's method
// dispatch shape and its APPLY_PATCH_APPROVAL_METHOD/
// EXEC_COMMAND_APPROVAL_METHOD outbound-request handling
// (on_patch_approval_response/on_exec_approval_response correlate by
// call_id, never event id, and resolve Denied on transport failure or a
// malformed response).
package rpcserver

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ehrlich-b/coded/internal/approval"
	"github.com/ehrlich-b/coded/internal/convo"
	"github.com/ehrlich-b/coded/internal/history"
)

// Outbound method names, matching APPLY_PATCH_APPROVAL_METHOD /
// EXEC_COMMAND_APPROVAL_METHOD.
const (
	ApplyPatchApprovalMethod  = "applyPatchApproval"
	ExecCommandApprovalMethod = "execCommandApproval"
)

// Error codes, matching spec.md §6's selected error codes.
const (
	ErrInvalidRequest = "INVALID_REQUEST"
	ErrInternal       = "INTERNAL"
)

// RPCError is a JSON-RPC-semantics error: a code plus message.
type RPCError struct {
	Code    string
	Message string
}

func (e *RPCError) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

func invalidRequest(msg string) error { return &RPCError{Code: ErrInvalidRequest, Message: msg} }

// Transport sends outbound requests and notifications to the client. A
// real JSON-RPC codec implements this over stdio/socket framing; spec.md
// declares that framing out of scope.
type Transport interface {
	// SendRequest sends method with params and returns the raw decoded
	// result, or an error if the round trip failed (disconnect, timeout).
	SendRequest(ctx context.Context, method string, params any) (json.RawMessage, error)
	// SendNotification sends a one-way notification.
	SendNotification(ctx context.Context, method string, params any) error
}

// ConversationFactory creates a new Conversation for newConversation,
// returning its id, rollout path, and resolved model/effort.
type ConversationFactory interface {
	NewConversation(ctx context.Context, params NewConversationParams) (conversationID, model, effort, rolloutPath string, conv *convo.Conversation, err error)
}

// NewConversationParams mirrors newConversation's selected params.
type NewConversationParams struct {
	Model          string `json:"model,omitempty"`
	Profile        string `json:"profile,omitempty"`
	Cwd            string `json:"cwd,omitempty"`
	ApprovalPolicy string `json:"approval_policy,omitempty"`
	Sandbox        string `json:"sandbox,omitempty"`
}

// Server dispatches wire requests against a set of live conversations,
// matching code_message_processor.rs's method-dispatch responsibilities.
type Server struct {
	transport Transport
	factory   ConversationFactory
	broker    *approval.Broker

	mu            sync.Mutex
	conversations map[string]*convo.Conversation
	subscriptions map[string]subscription
	nextSubID     int
}

type subscription struct {
	conversationID string
	listenerID     int
	cancel         chan struct{}
}

// NewServer constructs a Server.
func NewServer(transport Transport, factory ConversationFactory, broker *approval.Broker) *Server {
	return &Server{
		transport:     transport,
		factory:       factory,
		broker:        broker,
		conversations: make(map[string]*convo.Conversation),
		subscriptions: make(map[string]subscription),
	}
}

// NewConversationResult is newConversation's response shape.
type NewConversationResult struct {
	ConversationID  string `json:"conversation_id"`
	Model           string `json:"model"`
	ReasoningEffort string `json:"reasoning_effort,omitempty"`
	RolloutPath     string `json:"rollout_path"`
}

// HandleNewConversation dispatches newConversation.
func (s *Server) HandleNewConversation(ctx context.Context, params NewConversationParams) (NewConversationResult, error) {
	id, model, effort, rolloutPath, conv, err := s.factory.NewConversation(ctx, params)
	if err != nil {
		return NewConversationResult{}, &RPCError{Code: ErrInternal, Message: err.Error()}
	}
	s.mu.Lock()
	s.conversations[id] = conv
	s.mu.Unlock()
	return NewConversationResult{ConversationID: id, Model: model, ReasoningEffort: effort, RolloutPath: rolloutPath}, nil
}

// SendUserMessageParams mirrors sendUserMessage's params.
type SendUserMessageParams struct {
	ConversationID string         `json:"conversation_id"`
	Items          []history.Item `json:"items"`
}

// HandleSendUserMessage dispatches sendUserMessage.
func (s *Server) HandleSendUserMessage(ctx context.Context, params SendUserMessageParams) error {
	conv, err := s.lookup(params.ConversationID)
	if err != nil {
		return err
	}
	return conv.SubmitOp(ctx, convo.UserInput(params.Items...))
}

// HandleSendUserTurn dispatches sendUserTurn: the same shape as
// sendUserMessage plus per-turn hints that are accepted but ignored,
// matching SPEC_FULL.md's recorded Open Question decision.
func (s *Server) HandleSendUserTurn(ctx context.Context, params SendUserMessageParams, _ json.RawMessage) error {
	return s.HandleSendUserMessage(ctx, params)
}

// InterruptConversationParams mirrors interruptConversation's params.
type InterruptConversationParams struct {
	ConversationID string `json:"conversation_id"`
}

// InterruptConversationResult mirrors interruptConversation's response.
type InterruptConversationResult struct {
	AbortReason string `json:"abort_reason"`
}

// HandleInterruptConversation dispatches interruptConversation.
func (s *Server) HandleInterruptConversation(ctx context.Context, params InterruptConversationParams) (InterruptConversationResult, error) {
	conv, err := s.lookup(params.ConversationID)
	if err != nil {
		return InterruptConversationResult{}, err
	}
	if err := conv.SubmitOp(ctx, convo.Interrupt()); err != nil {
		return InterruptConversationResult{}, &RPCError{Code: ErrInternal, Message: err.Error()}
	}
	return InterruptConversationResult{AbortReason: "Interrupted"}, nil
}

// AddConversationListenerParams mirrors addConversationListener's params.
type AddConversationListenerParams struct {
	ConversationID string `json:"conversation_id"`
}

// AddConversationListenerResult mirrors addConversationListener's response.
type AddConversationListenerResult struct {
	SubscriptionID string `json:"subscription_id"`
}

// HandleAddConversationListener dispatches addConversationListener,
// spawning a listener goroutine that forwards events as
// codex/event/<kind> notifications tagged with conversationId, matching
// spec.md §4.G's add_listener.
func (s *Server) HandleAddConversationListener(ctx context.Context, params AddConversationListenerParams) (AddConversationListenerResult, error) {
	conv, err := s.lookup(params.ConversationID)
	if err != nil {
		return AddConversationListenerResult{}, err
	}

	listenerID, events := conv.AddListener()
	s.mu.Lock()
	s.nextSubID++
	subID := fmt.Sprintf("sub-%d", s.nextSubID)
	cancel := make(chan struct{})
	s.subscriptions[subID] = subscription{conversationID: params.ConversationID, listenerID: listenerID, cancel: cancel}
	s.mu.Unlock()

	go s.forward(params.ConversationID, events, cancel)
	return AddConversationListenerResult{SubscriptionID: subID}, nil
}

func (s *Server) forward(conversationID string, events <-chan convo.Event, cancel <-chan struct{}) {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			method := fmt.Sprintf("codex/event/%s", ev.Kind)
			_ = s.transport.SendNotification(context.Background(), method, eventPayload(conversationID, ev))
			if ev.Kind == convo.EventExecApprovalRequest || ev.Kind == convo.EventApplyPatchApprovalRequest {
				s.requestApproval(conversationID, ev)
			}
		case <-cancel:
			return
		}
	}
}

func eventPayload(conversationID string, ev convo.Event) map[string]any {
	return map[string]any{
		"conversationId":   conversationID,
		"text":             ev.Text,
		"toolName":         ev.ToolName,
		"callId":           ev.CallID,
		"lastAgentMessage": ev.LastAgentMessage,
		"err":              ev.Err,
	}
}

// RemoveConversationListenerParams mirrors removeConversationListener's
// params.
type RemoveConversationListenerParams struct {
	SubscriptionID string `json:"subscription_id"`
}

// HandleRemoveConversationListener dispatches removeConversationListener.
func (s *Server) HandleRemoveConversationListener(ctx context.Context, params RemoveConversationListenerParams) error {
	s.mu.Lock()
	sub, ok := s.subscriptions[params.SubscriptionID]
	if ok {
		delete(s.subscriptions, params.SubscriptionID)
	}
	s.mu.Unlock()
	if !ok {
		return invalidRequest("unknown subscription_id")
	}
	close(sub.cancel)

	conv, err := s.lookup(sub.conversationID)
	if err == nil {
		conv.RemoveListener(sub.listenerID)
	}
	return nil
}

func (s *Server) lookup(conversationID string) (*convo.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return nil, invalidRequest("conversation not found")
	}
	return conv, nil
}

// ApplyPatchApprovalParams mirrors the outbound applyPatchApproval
// request's params.
type ApplyPatchApprovalParams struct {
	ConversationID string                      `json:"conversation_id"`
	CallID         string                      `json:"call_id"`
	FileChanges    map[string]convo.FileChange `json:"file_changes"`
	Reason         string                      `json:"reason,omitempty"`
}

// ExecCommandApprovalParams mirrors the outbound execCommandApproval
// request's params.
type ExecCommandApprovalParams struct {
	ConversationID string   `json:"conversation_id"`
	CallID         string   `json:"call_id"`
	Command        []string `json:"command"`
	Cwd            string   `json:"cwd"`
	Reason         string   `json:"reason,omitempty"`
}

type decisionResponse struct {
	Decision string `json:"decision"`
}

// requestApproval sends the outbound approval RPC and resolves the
// broker's pending request for call_id from the result, defaulting to
// Denied on transport failure or a malformed response, matching
// on_patch_approval_response / on_exec_approval_response.
func (s *Server) requestApproval(conversationID string, ev convo.Event) {
	req := ev.ApprovalRequest
	if req == nil {
		return
	}

	var (
		method string
		params any
	)
	if ev.Kind == convo.EventApplyPatchApprovalRequest {
		method = ApplyPatchApprovalMethod
		params = ApplyPatchApprovalParams{ConversationID: conversationID, CallID: req.CallID, FileChanges: req.Changes, Reason: req.Reason}
	} else {
		method = ExecCommandApprovalMethod
		params = ExecCommandApprovalParams{ConversationID: conversationID, CallID: req.CallID, Command: req.Command, Cwd: req.Cwd, Reason: req.Reason}
	}

	go func() {
		ctx := context.Background()
		raw, err := s.transport.SendRequest(ctx, method, params)
		conv, lookupErr := s.lookup(conversationID)
		if lookupErr != nil {
			return
		}
		if err != nil {
			// Transport failure: default-deny, matching
			// on_patch_approval_response's fallback when the receiver
			// errors out.
			_ = conv.SubmitOp(ctx, approvalOp(ev.Kind, req.CallID, approval.Denied))
			return
		}

		var resp decisionResponse
		if jsonErr := json.Unmarshal(raw, &resp); jsonErr != nil {
			_ = conv.SubmitOp(ctx, approvalOp(ev.Kind, req.CallID, approval.Denied))
			return
		}

		_ = conv.SubmitOp(ctx, approvalOp(ev.Kind, req.CallID, decisionFromWire(resp.Decision)))
	}()
}

func approvalOp(kind convo.EventKind, callID string, decision approval.Decision) convo.Op {
	if kind == convo.EventApplyPatchApprovalRequest {
		return convo.PatchApproval(callID, decision)
	}
	return convo.ExecApproval(callID, decision)
}

func decisionFromWire(s string) approval.Decision {
	switch s {
	case "approved":
		return approval.Approved
	case "approved_for_session":
		return approval.ApprovedForSession
	case "abort":
		return approval.Abort
	default:
		return approval.Denied
	}
}
