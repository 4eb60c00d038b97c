// Package execsession spawns and multiplexes long-lived PTY-backed child
// processes, enforcing output byte caps with middle-truncation, and
// exposing streaming stdin/stdout with deadlines.
//
// Grounded on the PTY lifecycle in
// _examples/ehrlich-b-wingthing/internal/egg/server.go (pty.StartWithSize,
// graceful cmd.Cancel/cmd.WaitDelay, post-exit drain) and on the
// spawn/write_stdin/TruncatingCollector contract in
// _examples/original_source/code-rs/core/src/exec_command/session_manager.rs.
package execsession

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/creack/pty"

	"github.com/ehrlich-b/coded/internal/sandbox"
)

// ID identifies a live exec session, allocated monotonically by Manager.
type ID uint64

// Status is the exit disposition reported in an Output.
type Status struct {
	Ongoing  bool
	ExitCode int // valid iff !Ongoing
}

// Output is the result of Spawn or WriteStdin: collected output plus
// wall time and (if truncated) the original estimated token count.
type Output struct {
	WallTime           time.Duration
	Status             Status
	SessionID          ID
	OriginalTokenCount *uint64
	Text               string
}

// ToTextOutput renders Output the way a tool result is surfaced to the
// model, matching ExecCommandOutput::to_text_output in the original.
func (o Output) ToTextOutput() string {
	var term string
	if o.Status.Ongoing {
		term = fmt.Sprintf("Process running with session ID %d", o.SessionID)
	} else {
		term = fmt.Sprintf("Process exited with code %d", o.Status.ExitCode)
	}
	trunc := ""
	if o.OriginalTokenCount != nil {
		trunc = fmt.Sprintf("\nWarning: truncated output (original token count: %d)", *o.OriginalTokenCount)
	}
	return fmt.Sprintf("Wall time: %.3f seconds\n%s%s\nOutput:\n%s",
		o.WallTime.Seconds(), term, trunc, o.Text)
}

// drainGrace is how long Manager drains buffered output after a child
// exits before finalizing the collector, matching the original's 25ms.
const drainGrace = 25 * time.Millisecond

type liveSession struct {
	id        ID
	ptmx      *os.File
	cmd       *exec.Cmd
	sandbox   sandbox.Sandbox
	broadcast *broadcaster

	mu       sync.Mutex
	exited   bool
	exitCode int
	doneCh   chan struct{}
}

// Manager owns all live exec sessions for a conversation.
type Manager struct {
	nextID   atomic.Uint64
	mu       sync.Mutex
	sessions map[ID]*liveSession
}

// NewManager returns an empty session manager.
func NewManager() *Manager {
	return &Manager{sessions: make(map[ID]*liveSession)}
}

// SpawnParams configures a new PTY-backed command.
type SpawnParams struct {
	Command        []string
	Shell          string // e.g. "/bin/bash"; empty runs Command directly
	Login          bool
	Cwd            string
	Env            []string
	Cols, Rows     int
	YieldDuration  time.Duration
	MaxOutputToken int

	// Sandbox, if non-nil, routes the child through
	// internal/sandbox instead of a bare exec.CommandContext. The
	// caller supplies it; the dry-run guard does not produce one.
	// Nil runs the child unsandboxed.
	Sandbox *sandbox.Config
}

// Spawn creates a PTY-backed child, collects its output for
// params.YieldDuration or until exit (whichever is sooner), and returns
// the collected Output. If the process is still running when the
// deadline expires, Status.Ongoing is true and the session remains live
// for later WriteStdin calls.
func (m *Manager) Spawn(ctx context.Context, params SpawnParams) (Output, error) {
	start := time.Now()

	name, args := commandFor(params)

	var (
		cmd *exec.Cmd
		sb  sandbox.Sandbox
	)
	if params.Sandbox != nil {
		var err error
		sb, err = sandbox.New(*params.Sandbox)
		if err != nil {
			return Output{}, fmt.Errorf("failed to create sandbox: %w", err)
		}
		cmd, err = sb.Exec(ctx, name, args)
		if err != nil {
			_ = sb.Destroy()
			return Output{}, fmt.Errorf("failed to prepare sandboxed command: %w", err)
		}
	} else {
		cmd = exec.CommandContext(ctx, name, args...)
	}
	if params.Cwd != "" {
		cmd.Dir = params.Cwd
	}
	if len(params.Env) > 0 {
		cmd.Env = params.Env
	}
	cmd.Cancel = func() error { return cmd.Process.Signal(os.Interrupt) }
	cmd.WaitDelay = 5 * time.Second

	cols, rows := params.Cols, params.Rows
	if cols == 0 {
		cols = 80
	}
	if rows == 0 {
		rows = 24
	}

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
	if err != nil {
		if sb != nil {
			_ = sb.Destroy()
		}
		return Output{}, fmt.Errorf("failed to create exec command session: %w", err)
	}
	if sb != nil && cmd.Process != nil {
		if err := sb.PostStart(cmd.Process.Pid); err != nil {
			_ = ptmx.Close()
			_ = cmd.Process.Kill()
			_ = sb.Destroy()
			return Output{}, fmt.Errorf("failed to enforce sandbox limits: %w", err)
		}
	}

	id := ID(m.nextID.Add(1))
	sess := &liveSession{
		id:        id,
		ptmx:      ptmx,
		cmd:       cmd,
		sandbox:   sb,
		broadcast: newBroadcaster(),
		doneCh:    make(chan struct{}),
	}
	m.mu.Lock()
	m.sessions[id] = sess
	m.mu.Unlock()

	go sess.pump()
	go sess.wait()

	return m.collect(sess, start, params.YieldDuration, params.MaxOutputToken)
}

// WriteStdinParams configures a write to a live session.
type WriteStdinParams struct {
	SessionID      ID
	Chars          string
	YieldDuration  time.Duration
	MaxOutputToken int
}

// WriteStdin writes params.Chars (if any) to the session's PTY, then
// collects output for params.YieldDuration or until exit.
func (m *Manager) WriteStdin(params WriteStdinParams) (Output, error) {
	m.mu.Lock()
	sess, ok := m.sessions[params.SessionID]
	m.mu.Unlock()
	if !ok {
		return Output{}, fmt.Errorf("unknown exec session: %d", params.SessionID)
	}

	start := time.Now()
	if params.Chars != "" {
		if _, err := sess.ptmx.Write([]byte(params.Chars)); err != nil {
			return Output{}, fmt.Errorf("failed to write to stdin: %w", err)
		}
	}
	return m.collect(sess, start, params.YieldDuration, params.MaxOutputToken)
}

// KillAll terminates every live session best-effort. Used on
// conversation teardown; ownership of each session handle is exclusive,
// so dropping it kills the child.
func (m *Manager) KillAll() {
	m.mu.Lock()
	sessions := make([]*liveSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[ID]*liveSession)
	m.mu.Unlock()

	for _, s := range sessions {
		if s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
		if s.sandbox != nil {
			_ = s.sandbox.Destroy()
		}
	}
}

// collect subscribes to sess's broadcast stream from now, accumulates
// into a TruncatingCollector for up to yieldDur or until exit (whichever
// comes first), drains a final drainGrace window on exit, and finalizes.
func (m *Manager) collect(sess *liveSession, start time.Time, yieldDur time.Duration, maxOutputTokens int) (Output, error) {
	capBytes := maxOutputTokens * 4
	collector := NewTruncatingCollector(capBytes)

	ch, unsubscribe := sess.broadcast.subscribe()
	defer unsubscribe()

	deadline := time.NewTimer(yieldDur)
	defer deadline.Stop()

	exited := false
loop:
	for {
		select {
		case chunk, ok := <-ch:
			if !ok {
				exited = true
				break loop
			}
			collector.Push(chunk)
		case <-sess.doneCh:
			exited = true
			// Drain whatever is still buffered for drainGrace before
			// treating the stream as exhausted.
			drain := time.After(drainGrace)
			for {
				select {
				case chunk, ok := <-ch:
					if !ok {
						break loop
					}
					collector.Push(chunk)
				case <-drain:
					break loop
				}
			}
		case <-deadline.C:
			break loop
		}
	}

	text, tokens := collector.Finalize()
	out := Output{
		WallTime:           time.Since(start),
		SessionID:          sess.id,
		OriginalTokenCount: tokens,
		Text:               text,
	}
	if exited {
		sess.mu.Lock()
		out.Status = Status{Ongoing: false, ExitCode: sess.exitCode}
		sess.mu.Unlock()
		m.mu.Lock()
		delete(m.sessions, sess.id)
		m.mu.Unlock()
	} else {
		out.Status = Status{Ongoing: true}
	}
	return out, nil
}

func (s *liveSession) pump() {
	buf := make([]byte, 32*1024)
	for {
		n, err := s.ptmx.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			s.broadcast.publish(chunk)
		}
		if err != nil {
			return
		}
	}
}

func (s *liveSession) wait() {
	err := s.cmd.Wait()
	code := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		} else {
			code = -1
		}
	}
	s.mu.Lock()
	s.exited = true
	s.exitCode = code
	s.mu.Unlock()
	close(s.doneCh)
	_ = s.ptmx.Close()
	if s.sandbox != nil {
		_ = s.sandbox.Destroy()
	}
	s.broadcast.close()
}

func commandFor(params SpawnParams) (string, []string) {
	if params.Shell != "" {
		flag := "-c"
		if params.Login {
			flag = "-lc"
		}
		script := joinArgs(params.Command)
		return params.Shell, []string{flag, script}
	}
	if len(params.Command) == 0 {
		return "", nil
	}
	return params.Command[0], params.Command[1:]
}

func joinArgs(args []string) string {
	out := ""
	for i, a := range args {
		if i > 0 {
			out += " "
		}
		out += a
	}
	return out
}
