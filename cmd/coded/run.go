package main

import (
	"bufio"
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ehrlich-b/coded/internal/approval"
	"github.com/ehrlich-b/coded/internal/convo"
	"github.com/ehrlich-b/coded/internal/history"
	"github.com/ehrlich-b/coded/internal/rollout"
)

func runCmd() *cobra.Command {
	var prompt string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start a conversation, headless if --prompt is given",
		RunE: func(cmd *cobra.Command, args []string) error {
			codeHome, err := codeHomeFlag(cmd)
			if err != nil {
				return err
			}

			id := uuid.New()
			recorder, err := rollout.NewRecorder(codeHome, id, rollout.SourceInteractive)
			if err != nil {
				return fmt.Errorf("open rollout recorder: %w", err)
			}
			defer recorder.Close()

			conv := convo.NewConversation(id.String(), dummyModelFactory, nil, approval.NewBroker(), recorder)
			_, events := conv.AddListener()

			ctx := context.Background()
			done := make(chan struct{})
			go forwardAgentMessages(events, done)

			if prompt != "" {
				if err := submitAndWait(ctx, conv, done, prompt); err != nil {
					return err
				}
				return nil
			}

			scanner := bufio.NewScanner(os.Stdin)
			fmt.Fprintln(os.Stderr, "rollout:", recorder.Path())
			for scanner.Scan() {
				line := scanner.Text()
				if line == "" {
					continue
				}
				if err := submitAndWait(ctx, conv, done, line); err != nil {
					return err
				}
				// Each turn's forwarding goroutine above exits once it
				// sees a terminal event, so the next turn needs a fresh
				// listener and a fresh done signal.
				done = make(chan struct{})
				_, events = conv.AddListener()
				go forwardAgentMessages(events, done)
			}
			return scanner.Err()
		},
	}
	cmd.Flags().StringVarP(&prompt, "prompt", "p", "", "One-shot prompt (headless mode)")
	return cmd
}

// forwardAgentMessages prints agent replies to stdout as they arrive and
// closes done once the turn reaches a terminal event.
func forwardAgentMessages(events <-chan convo.Event, done chan struct{}) {
	defer close(done)
	for ev := range events {
		switch ev.Kind {
		case convo.EventAgentMessage:
			fmt.Println(ev.Text)
		case convo.EventTaskComplete, convo.EventTurnAborted, convo.EventError:
			return
		}
	}
}

func submitAndWait(ctx context.Context, conv *convo.Conversation, done <-chan struct{}, text string) error {
	msg := history.Message(uuid.New().String(), "user", []history.Content{
		{Kind: history.ContentInputText, Text: text},
	})
	if err := conv.SubmitOp(ctx, convo.UserInput(msg)); err != nil {
		return err
	}
	<-done
	return nil
}

// dummyModelFactory stands in for the real model backend, which is out
// of scope for this runtime (spec.md only covers the interactive
// runtime surrounding the model, not the model client itself) — the
// same role internal/llm.DummyProvider plays when no API key is
// configured.
func dummyModelFactory(ctx context.Context, prompt convo.Prompt) (convo.ModelStream, error) {
	reply := "I don't have a model backend configured, but I heard you."
	return &dummyStream{
		events: []convo.StreamEvent{
			{Kind: convo.StreamItemDone, Item: history.Message(uuid.New().String(), "assistant", []history.Content{
				{Kind: history.ContentOutputText, Text: reply},
			})},
			{Kind: convo.StreamCompleted},
		},
	}, nil
}

type dummyStream struct {
	events []convo.StreamEvent
	idx    int
}

func (d *dummyStream) Next() (convo.StreamEvent, bool) {
	if d.idx >= len(d.events) {
		return convo.StreamEvent{}, false
	}
	ev := d.events[d.idx]
	d.idx++
	return ev, true
}
func (d *dummyStream) Err() error         { return nil }
func (d *dummyStream) Tokens() (int, int) { return 0, 0 }
