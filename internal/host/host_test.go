package host

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/mudbridge/internal/bridge"
	"github.com/roach88/mudbridge/internal/ir"
	"github.com/roach88/mudbridge/internal/world"
)

type fakeBridge struct {
	mu    sync.Mutex
	hooks []bridge.Hook
	n     int64
	err   error
	state bridge.State

	// calls records hook swaps and flushes in order.
	calls []string
}

func (f *fakeBridge) SubmitAction(context.Context) (ir.ActionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return ir.ActionResult{}, f.err
	}
	f.n++
	return ir.ActionResult{ID: fmt.Sprintf("tx-%d", f.n), Action: "increment", Value: ir.Int(f.n), Block: f.n}, nil
}

func (f *fakeBridge) SetHostHook(h bridge.Hook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hooks = append(f.hooks, h)
	if h == nil {
		f.calls = append(f.calls, "reset")
	} else {
		f.calls = append(f.calls, "install")
	}
}

func (f *fakeBridge) Flush(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "flush")
	return nil
}

func (f *fakeBridge) State() bridge.State {
	return f.state
}

func decodeLines(t *testing.T, out string) []Message {
	t.Helper()
	var msgs []Message
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		var m Message
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m), "line %q", sc.Text())
		msgs = append(msgs, m)
	}
	return msgs
}

func TestServe_Requests(t *testing.T) {
	fb := &fakeBridge{state: bridge.StateReady}
	in := strings.NewReader(`{"op":"increment","id":"a"}

{"op":"increment","id":"b"}
not json
{"op":"teleport","id":"c"}
{"op":"status","id":"d"}
`)
	var out bytes.Buffer
	s := NewSession(fb, in, &out)

	require.NoError(t, s.Serve(context.Background()))

	msgs := decodeLines(t, out.String())
	require.Len(t, msgs, 5)

	assert.Equal(t, TypeResult, msgs[0].Type)
	assert.Equal(t, "a", msgs[0].ID)
	assert.Equal(t, ir.Int(1), msgs[0].Result.Value)

	assert.Equal(t, "b", msgs[1].ID)
	assert.Equal(t, ir.Int(2), msgs[1].Result.Value)

	assert.Equal(t, TypeError, msgs[2].Type)
	assert.Equal(t, CodeBadRequest, msgs[2].Code)

	assert.Equal(t, CodeUnknownOp, msgs[3].Code)
	assert.Equal(t, "c", msgs[3].ID)

	assert.Equal(t, TypeStatus, msgs[4].Type)
	assert.Equal(t, "ready", msgs[4].State)
}

func TestServe_InstallsAndResetsHook(t *testing.T) {
	fb := &fakeBridge{}
	s := NewSession(fb, strings.NewReader(""), io.Discard)

	require.NoError(t, s.Serve(context.Background()))

	require.Len(t, fb.hooks, 2)
	assert.Same(t, s, fb.hooks[0])
	assert.Nil(t, fb.hooks[1])
	assert.Equal(t, []string{"install", "flush", "reset"}, fb.calls)
}

func TestServe_ErrorCodes(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"not initialized", &bridge.Error{Code: bridge.CodeNotInitialized, Op: "submit"}, "NOT_INITIALIZED"},
		{"reverted", &world.TxError{ID: "tx", Err: world.ErrOutOfRange}, CodeReverted},
		{"other", errors.New("rpc down"), CodeActionFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fb := &fakeBridge{err: tt.err}
			var out bytes.Buffer
			s := NewSession(fb, strings.NewReader(`{"op":"increment"}`+"\n"), &out)
			require.NoError(t, s.Serve(context.Background()))

			msgs := decodeLines(t, out.String())
			require.Len(t, msgs, 1)
			assert.Equal(t, TypeError, msgs[0].Type)
			assert.Equal(t, tt.want, msgs[0].Code)
			assert.Equal(t, tt.err.Error(), msgs[0].Message)
		})
	}
}

func TestOnUpdate_WritesLine(t *testing.T) {
	var out bytes.Buffer
	s := NewSession(&fakeBridge{}, strings.NewReader(""), &out)

	u := ir.Update{Component: "Counter", Value: ir.Object{"value": ir.Int(7)}, Version: 7, Seq: 7}
	require.NoError(t, s.OnUpdate(context.Background(), u))

	assert.JSONEq(t,
		`{"type":"update","update":{"id":"","component":"Counter","key":"","value":{"value":7},"version":7,"block":0,"seq":7}}`,
		out.String())
}

// syncBuffer is a bytes.Buffer safe for the concurrent hook and request
// writers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestSession_ConcurrentWritesStayWhole(t *testing.T) {
	out := &syncBuffer{}
	s := NewSession(&fakeBridge{}, strings.NewReader(""), out)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, s.OnUpdate(context.Background(), ir.Update{Component: "Counter", Seq: int64(i)}))
		}(i)
	}
	wg.Wait()

	assert.Len(t, decodeLines(t, out.String()), 20)
}

func TestServe_ContextCancelled(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	s := NewSession(&fakeBridge{}, pr, io.Discard)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}
}
