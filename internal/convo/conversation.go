package convo

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ehrlich-b/coded/internal/approval"
	"github.com/ehrlich-b/coded/internal/history"
	"github.com/ehrlich-b/coded/internal/rollout"
)

// ErrTurnInFlight is returned by SubmitOp(UserInput) when a turn is
// already running, matching spec.md's "at most one turn in flight"
// invariant.
var ErrTurnInFlight = fmt.Errorf("convo: a turn is already in flight")

// Conversation owns one Session's history and single in-flight Turn, and
// is the sole target for Op submissions and source of Events, matching
// spec.md §3 Conversation.
type Conversation struct {
	ID string

	mu           sync.Mutex
	hist         *history.Store
	broker       *approval.Broker
	tools        map[string]ToolHandler
	factory      ModelFactory
	recorder     *rollout.Recorder
	listeners    map[int]chan Event
	nextListener int
	turnCancel   context.CancelFunc
	turnInFlight bool

	requestOrdinal uint64
	sequence       uint64
}

// NewConversation constructs a Conversation. recorder may be nil (no
// rollout persistence, e.g. in tests).
func NewConversation(id string, factory ModelFactory, tools map[string]ToolHandler, broker *approval.Broker, recorder *rollout.Recorder) *Conversation {
	return &Conversation{
		ID:        id,
		hist:      history.NewStore(),
		broker:    broker,
		tools:     tools,
		factory:   factory,
		recorder:  recorder,
		listeners: make(map[int]chan Event),
	}
}

// History returns a snapshot of the current transcript.
func (c *Conversation) History() []history.Item {
	return c.hist.Contents()
}

// ReplaceHistory overwrites the transcript, used by compaction to install
// the bridged history under the session lock, matching spec.md §4.F step
// 7.
func (c *Conversation) ReplaceHistory(items []history.Item) {
	c.hist.Replace(items)
}

// AddListener registers a new subscriber and returns its id and event
// channel, matching spec.md §4.G add_listener. All listeners observe an
// identical event stream.
func (c *Conversation) AddListener() (int, <-chan Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextListener
	c.nextListener++
	ch := make(chan Event, 64)
	c.listeners[id] = ch
	return id, ch
}

// RemoveListener unsubscribes id, closing its channel, matching
// remove_listener.
func (c *Conversation) RemoveListener(id int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ch, ok := c.listeners[id]; ok {
		delete(c.listeners, id)
		close(ch)
	}
}

func (c *Conversation) emit(ev Event) {
	ev.ConversationID = c.ID
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range c.listeners {
		select {
		case ch <- ev:
		default:
			// A slow listener drops an event rather than stalling the
			// turn; resume_picker/rpcserver consumers are expected to
			// keep up.
		}
	}
}

func (c *Conversation) nextOrder(requestOrdinal uint64, outputIndex uint64) *OrderMeta {
	seq := atomic.AddUint64(&c.sequence, 1)
	return &OrderMeta{RequestOrdinal: requestOrdinal, OutputIndex: outputIndex, SequenceNumber: seq}
}

type ctxKey int

const conversationCtxKey ctxKey = 0

// withConversation injects c into ctx so a ToolHandler invoked from
// runTool can reach RequestApproval without the Conversation needing to
// appear in the ToolHandler interface itself.
func withConversation(ctx context.Context, c *Conversation) context.Context {
	return context.WithValue(ctx, conversationCtxKey, c)
}

// FromContext recovers the Conversation a ToolHandler is running under,
// for tools that need to suspend on approval via RequestApproval.
func FromContext(ctx context.Context) (*Conversation, bool) {
	c, ok := ctx.Value(conversationCtxKey).(*Conversation)
	return c, ok
}

// RequestApproval emits an ExecApprovalRequest/ApplyPatchApprovalRequest
// event (so rpcserver can forward it to the client as an outbound RPC)
// and returns the broker channel the eventual OpPatchApproval/
// OpExecApproval submission resolves, matching spec.md §4.E's "the tool
// call blocks until resolved" suspension model. Approval events are
// unordered with respect to a turn's output_index, so they carry only a
// fresh sequence_number.
func (c *Conversation) RequestApproval(req *ApprovalRequest, kind EventKind) <-chan approval.Decision {
	ch := c.broker.Register(req.CallID)
	seq := atomic.AddUint64(&c.sequence, 1)
	c.emit(Event{Kind: kind, CallID: req.CallID, ApprovalRequest: req, Order: &OrderMeta{SequenceNumber: seq}})
	return ch
}

// SubmitOp dispatches one submission, matching spec.md §4.G's Op handling.
func (c *Conversation) SubmitOp(ctx context.Context, op Op) error {
	switch op.Kind {
	case OpUserInput:
		return c.submitUserInput(ctx, op.Items)
	case OpInterrupt:
		c.mu.Lock()
		cancel := c.turnCancel
		c.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		return nil
	case OpPatchApproval:
		c.broker.Resolve(op.CallID, op.Decision)
		return nil
	case OpExecApproval:
		c.broker.Resolve(op.CallID, op.Decision)
		return nil
	default:
		return fmt.Errorf("convo: unknown op kind %d", op.Kind)
	}
}

func (c *Conversation) submitUserInput(ctx context.Context, items []history.Item) error {
	c.mu.Lock()
	if c.turnInFlight {
		c.mu.Unlock()
		return ErrTurnInFlight
	}
	c.turnInFlight = true
	c.requestOrdinal++
	ordinal := c.requestOrdinal
	turnCtx, cancel := context.WithCancel(ctx)
	c.turnCancel = cancel
	c.mu.Unlock()

	c.hist.Record(items...)
	if c.recorder != nil {
		for _, it := range items {
			payload, _ := historyItemJSON(it)
			_ = c.recorder.Append(rollout.Record{Type: rollout.RecordResponseItem, Payload: payload})
		}
	}

	go c.runTurn(turnCtx, ordinal)
	return nil
}

func (c *Conversation) endTurn() {
	c.mu.Lock()
	c.turnInFlight = false
	c.turnCancel = nil
	c.mu.Unlock()
}
