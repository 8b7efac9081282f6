package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/mudbridge/internal/config"
	"github.com/roach88/mudbridge/internal/host"
	"github.com/roach88/mudbridge/internal/ir"
)

// testRootOptions returns root options with the environment defaults tests
// rely on, without reading the process environment.
func testRootOptions(format string) *RootOptions {
	return &RootOptions{
		Format: format,
		Env: config.Config{
			Component:      "Counter",
			PollInterval:   5 * time.Millisecond,
			ConfirmTimeout: 5 * time.Second,
			LogLevel:       "info",
			ErrorPolicy:    "continue",
		},
	}
}

func newRunCmd(t *testing.T, stdin string, args ...string) (*bytes.Buffer, func(context.Context) error) {
	t.Helper()
	opts := testRootOptions("text")
	cmd := NewRunCommand(opts)
	out := &bytes.Buffer{}
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	return out, cmd.ExecuteContext
}

func readMessages(t *testing.T, out string) []host.Message {
	t.Helper()
	var msgs []host.Message
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		var m host.Message
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m), "line: %s", sc.Text())
		msgs = append(msgs, m)
	}
	return msgs
}

func TestRunMissingDatabase(t *testing.T) {
	cmd := NewRunCommand(&RootOptions{Format: "text"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs(nil)

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "database path is required")
}

func TestRunInvalidPolicy(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	_, exec := newRunCmd(t, "", "--db", dbPath, "--policy", "retry")

	err := exec(context.Background())
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "unknown error policy")
}

func TestRunUnknownComponent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	_, exec := newRunCmd(t, "", "--db", dbPath, "--component", "Inventory")

	err := exec(context.Background())
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "bridge initialization failed")
	assert.Contains(t, err.Error(), "BOOTSTRAP_FAILED")
}

func TestRunMissingWorld(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	_, exec := newRunCmd(t, "", "--db", dbPath, "--world", "/nonexistent/world")

	err := exec(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load world")
}

func TestRunServesHostRequests(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	stdin := `{"id":"1","op":"increment"}` + "\n" +
		`{"id":"2","op":"increment"}` + "\n" +
		`{"id":"3","op":"status"}` + "\n"

	opts := testRootOptions("text")
	opts.Env.DBPath = dbPath
	cmd := NewRunCommand(opts)
	out := &bytes.Buffer{}
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(out)
	cmd.SetArgs(nil)

	require.NoError(t, cmd.ExecuteContext(context.Background()))

	var (
		results []ir.ActionResult
		updates []int64
		states  []string
	)
	for _, m := range readMessages(t, out.String()) {
		switch m.Type {
		case host.TypeResult:
			results = append(results, *m.Result)
		case host.TypeUpdate:
			v, _ := m.Update.Value.Int("value")
			updates = append(updates, v)
		case host.TypeStatus:
			states = append(states, m.State)
		default:
			t.Fatalf("unexpected message %+v", m)
		}
	}

	require.Len(t, results, 2)
	assert.Equal(t, ir.Int(1), results[0].Value)
	assert.Equal(t, ir.Int(2), results[1].Value)
	assert.Equal(t, []int64{1, 2}, updates)
	assert.Equal(t, []string{"ready"}, states)
}

func TestRunDeliversEveryUpdateBeforeExit(t *testing.T) {
	const increments = 20
	stdin := strings.Repeat(`{"op":"increment"}`+"\n", increments)

	for run := 0; run < 10; run++ {
		opts := testRootOptions("text")
		opts.Env.DBPath = filepath.Join(t.TempDir(), "test.db")
		cmd := NewRunCommand(opts)
		out := &bytes.Buffer{}
		cmd.SetIn(strings.NewReader(stdin))
		cmd.SetOut(out)
		cmd.SetArgs(nil)

		require.NoError(t, cmd.ExecuteContext(context.Background()))

		var (
			results []ir.ActionResult
			updates []int64
		)
		for _, m := range readMessages(t, out.String()) {
			switch m.Type {
			case host.TypeResult:
				results = append(results, *m.Result)
			case host.TypeUpdate:
				v, _ := m.Update.Value.Int("value")
				updates = append(updates, v)
			}
		}
		require.Len(t, results, increments, "run %d", run)
		require.Len(t, updates, increments, "run %d: every update reaches the host before exit", run)
		assert.Equal(t, ir.Int(increments), results[increments-1].Value, "run %d", run)
		assert.Equal(t, int64(increments), updates[increments-1], "run %d", run)
	}
}

func TestRunNoStdinPrintsUntilCancelled(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	out, exec := newRunCmd(t, "", "--db", dbPath, "--no-stdin")

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	errc := make(chan error, 1)
	go func() { errc <- exec(ctx) }()

	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("command did not respect context cancellation")
	}
	assert.Empty(t, out.String())
}

func TestRunFlagDefaultsFromEnv(t *testing.T) {
	opts := testRootOptions("text")
	opts.Env.DBPath = "/var/lib/mudbridge.db"
	opts.Env.DevToolsAddr = "127.0.0.1:7070"
	opts.Env.ErrorPolicy = "halt"
	cmd := NewRunCommand(opts)

	assert.Equal(t, "/var/lib/mudbridge.db", cmd.Flags().Lookup("db").DefValue)
	assert.Equal(t, "127.0.0.1:7070", cmd.Flags().Lookup("devtools").DefValue)
	assert.Equal(t, "halt", cmd.Flags().Lookup("policy").DefValue)
	assert.Equal(t, "Counter", cmd.Flags().Lookup("component").DefValue)
}

func TestPrintHook(t *testing.T) {
	buf := &bytes.Buffer{}
	u := ir.Update{
		Component: "Counter",
		Key:       ir.SingletonKey,
		Value:     ir.Object{"value": ir.Int(3)},
		Version:   3,
		Block:     7,
	}
	require.NoError(t, printHook(buf).OnUpdate(context.Background(), u))
	assert.Equal(t, "Counter "+ir.SingletonKey+` v3 block=7 {"value":3}`+"\n", buf.String())
}

func TestRunHelpText(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewRunCommand(testRootOptions("text"))
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--help"})

	require.NoError(t, cmd.Execute())
	output := buf.String()
	assert.Contains(t, output, "JSON lines")
	assert.Contains(t, output, "--db")
	assert.Contains(t, output, "--no-stdin")
}
