package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/mudbridge/internal/ir"
)

func runIncrementCmd(t *testing.T, format string, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewIncrementCommand(testRootOptions(format))
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestIncrementText(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	out, err := runIncrementCmd(t, "text", "--db", dbPath, "--count", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "value=1")
	assert.Contains(t, out, "value=3")
	assert.Contains(t, out, "3 action(s) confirmed, 3 update(s) delivered")
}

func TestIncrementJSON(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	out, err := runIncrementCmd(t, "json", "--db", dbPath, "-n", "2")
	require.NoError(t, err)

	var resp struct {
		Status string          `json:"status"`
		Data   IncrementResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, resp.Data.Results, 2)
	assert.Equal(t, ir.Int(2), resp.Data.Results[1].Value)
	assert.Equal(t, 2, resp.Data.Updates)
}

func TestIncrementResumesExistingDatabase(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	_, err := runIncrementCmd(t, "text", "--db", dbPath, "--count", "2")
	require.NoError(t, err)

	out, err := runIncrementCmd(t, "text", "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, "value=3")
}

func TestIncrementOverflowReverts(t *testing.T) {
	dir := t.TempDir()
	world := `
namespace: "tiny"
tables: Counter: schema: value: "uint8"
actions: increment: {
	system: "IncrementSystem"
	table:  "Counter"
	field:  "value"
	delta:  200
}
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "world.cue"), []byte(world), 0644))
	dbPath := filepath.Join(dir, "test.db")

	out, err := runIncrementCmd(t, "text", "--db", dbPath, "--world", dir, "--count", "2")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "action 2 of 2 failed")
	assert.Contains(t, out, "value=200")
	assert.Contains(t, out, "Error [REVERTED]")
}

func TestIncrementBadCount(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	_, err := runIncrementCmd(t, "text", "--db", dbPath, "--count", "0")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestIncrementInvalidPolicy(t *testing.T) {
	opts := testRootOptions("text")
	opts.Env.ErrorPolicy = "retry"
	cmd := NewIncrementCommand(opts)
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"--db", filepath.Join(t.TempDir(), "test.db")})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "MUDBRIDGE_HOOK_ERROR_POLICY")
}

func TestIncrementPolicyFlag(t *testing.T) {
	opts := testRootOptions("text")
	opts.Env.ErrorPolicy = "halt"
	cmd := NewIncrementCommand(opts)
	assert.Equal(t, "halt", cmd.Flags().Lookup("policy").DefValue)

	dbPath := filepath.Join(t.TempDir(), "test.db")
	out, err := runIncrementCmd(t, "text", "--db", dbPath, "--policy", "halt", "-n", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "2 action(s) confirmed, 2 update(s) delivered")
}
