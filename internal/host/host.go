// Package host binds a bridge to an external engine over a JSON-lines
// stream. The engine writes requests, one JSON object per line; the session
// writes results and every component update back the same way.
package host

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/mudbridge/internal/bridge"
	"github.com/roach88/mudbridge/internal/ir"
	"github.com/roach88/mudbridge/internal/world"
)

// Request ops.
const (
	OpIncrement = "increment"
	OpStatus    = "status"
)

// Message types written by the session.
const (
	TypeUpdate = "update"
	TypeResult = "result"
	TypeStatus = "status"
	TypeError  = "error"
)

// Error codes for TypeError messages that are not bridge codes.
const (
	CodeBadRequest   = "BAD_REQUEST"
	CodeUnknownOp    = "UNKNOWN_OP"
	CodeReverted     = "REVERTED"
	CodeActionFailed = "ACTION_FAILED"
)

// maxLine bounds a single request line.
const maxLine = 64 * 1024

// Request is one input line.
type Request struct {
	ID string `json:"id,omitempty"`
	Op string `json:"op"`
}

// Message is one output line.
type Message struct {
	Type    string           `json:"type"`
	ID      string           `json:"id,omitempty"`
	Update  *ir.Update       `json:"update,omitempty"`
	Result  *ir.ActionResult `json:"result,omitempty"`
	State   string           `json:"state,omitempty"`
	Code    string           `json:"code,omitempty"`
	Message string           `json:"message,omitempty"`
}

// Bridge is the part of *bridge.Bridge a session drives.
type Bridge interface {
	SubmitAction(ctx context.Context) (ir.ActionResult, error)
	SetHostHook(h bridge.Hook)
	State() bridge.State
	Flush(ctx context.Context) error
}

// flushTimeout bounds how long Serve waits for queued updates on return.
const flushTimeout = 5 * time.Second

// Session is one engine connection. It is the bridge's host hook while Serve
// runs.
type Session struct {
	b   Bridge
	in  io.Reader
	out io.Writer

	mu  sync.Mutex
	enc *json.Encoder
}

// NewSession creates a session reading requests from in and writing
// messages to out.
func NewSession(b Bridge, in io.Reader, out io.Writer) *Session {
	return &Session{b: b, in: in, out: out, enc: json.NewEncoder(out)}
}

// OnUpdate implements bridge.Hook.
func (s *Session) OnUpdate(_ context.Context, u ir.Update) error {
	return s.write(Message{Type: TypeUpdate, Update: &u})
}

// Serve installs the session as the host hook and handles requests until
// in is exhausted or ctx is cancelled. Requests are handled one at a time,
// in order. On return, updates already queued are written out before the
// hook is reset.
func (s *Session) Serve(ctx context.Context) error {
	s.b.SetHostHook(s)
	defer s.release(ctx)

	lines := make(chan []byte)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(s.in)
		sc.Buffer(make([]byte, 0, 4096), maxLine)
		for sc.Scan() {
			line := append([]byte(nil), sc.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					if err != nil {
						return fmt.Errorf("read requests: %w", err)
					}
				default:
				}
				return nil
			}
			if err := s.handle(ctx, line); err != nil {
				return err
			}
		}
	}
}

func (s *Session) release(ctx context.Context) {
	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flushTimeout)
	defer cancel()
	if err := s.b.Flush(flushCtx); err != nil {
		slog.Warn("pending updates not written to host", "error", err)
	}
	s.b.SetHostHook(nil)
}

// handle processes one request line. Only output failures are returned.
func (s *Session) handle(ctx context.Context, line []byte) error {
	if len(line) == 0 {
		return nil
	}
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		slog.Debug("host request malformed", "error", err)
		return s.write(Message{Type: TypeError, Code: CodeBadRequest, Message: err.Error()})
	}

	switch req.Op {
	case OpIncrement:
		res, err := s.b.SubmitAction(ctx)
		if err != nil {
			return s.write(Message{Type: TypeError, ID: req.ID, Code: ErrorCode(err), Message: err.Error()})
		}
		return s.write(Message{Type: TypeResult, ID: req.ID, Result: &res})
	case OpStatus:
		return s.write(Message{Type: TypeStatus, ID: req.ID, State: s.b.State().String()})
	default:
		slog.Debug("host request unknown op", "op", req.Op)
		return s.write(Message{Type: TypeError, ID: req.ID, Code: CodeUnknownOp, Message: fmt.Sprintf("unknown op %q", req.Op)})
	}
}

func (s *Session) write(m Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(m); err != nil {
		return fmt.Errorf("write %s: %w", m.Type, err)
	}
	return nil
}

// ErrorCode maps a SubmitAction error to the code reported to the engine.
func ErrorCode(err error) string {
	var be *bridge.Error
	switch {
	case errors.As(err, &be):
		return string(be.Code)
	case world.IsReverted(err):
		return CodeReverted
	default:
		return CodeActionFailed
	}
}
