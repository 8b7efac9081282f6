package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"reflect"

	"github.com/spf13/cobra"

	"github.com/roach88/mudbridge/internal/compiler"
	"github.com/roach88/mudbridge/internal/ir"
	"github.com/roach88/mudbridge/internal/replica"
	"github.com/roach88/mudbridge/internal/store"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database  string
	WorldDir  string
	Component string // optional - list this component's updates only
	After     int64
}

// ComponentReplay holds the replay result for one component.
type ComponentReplay struct {
	Component  string `json:"component"`
	Updates    int    `json:"updates"`
	Records    int    `json:"records"`
	Consistent bool   `json:"consistent"`
}

// Mismatch is a record whose replayed state differs from the stored state.
type Mismatch struct {
	Component string `json:"component"`
	Key       string `json:"key"`
	Reason    string `json:"reason"`
}

// ReplayResult holds the overall replay result.
type ReplayResult struct {
	Components    []ComponentReplay `json:"components"`
	TotalUpdates  int               `json:"total_updates"`
	Writes        map[string]int    `json:"writes"`
	Updates       []ir.Update       `json:"updates,omitempty"`
	Mismatches    []Mismatch        `json:"mismatches,omitempty"`
	AllConsistent bool              `json:"all_consistent"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{
		RootOptions: rootOpts,
		Database:    rootOpts.Env.DBPath,
		WorldDir:    rootOpts.Env.WorldDir,
	}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay the update log and verify stored state",
		Long: `Replay the update log into a fresh replica and compare the result with the
stored records.

Every record the replica rebuilds must match the stored record in value,
version and block. With --component or --after the matching updates are
listed too.

Exit codes:
  0 - Replayed state matches stored state
  1 - Mismatches found
  2 - Command error (database not found, etc.)

Examples:
  mudbridge replay --db ./mudbridge.db
  mudbridge replay --db ./mudbridge.db --component Counter --after 10
  mudbridge replay --db ./mudbridge.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", opts.Database, "path to SQLite database")
	cmd.Flags().StringVar(&opts.WorldDir, "world", opts.WorldDir, "CUE world config directory (default: built-in counter world)")
	cmd.Flags().StringVar(&opts.Component, "component", "", "list updates of this component")
	cmd.Flags().Int64Var(&opts.After, "after", 0, "list updates with seq greater than this")

	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if opts.Database == "" {
		return NewExitError(ExitCommandError, "database path is required (--db or MUDBRIDGE_DB_PATH)")
	}
	// Opening would create an empty database.
	if _, err := os.Stat(opts.Database); err != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("%s: database not found", ErrCodeNotFound), err)
	}

	cfg, err := compiler.Load(opts.WorldDir)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load world", err)
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	result, err := replayLog(ctx, st, cfg.Tables)
	if err != nil {
		return WrapExitError(ExitCommandError, "replay failed", err)
	}

	if opts.Component != "" || opts.After > 0 {
		result.Updates, err = st.ReadUpdates(ctx, opts.Component, opts.After)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read updates", err)
		}
		if result.Updates == nil {
			result.Updates = []ir.Update{}
		}
	}

	if opts.Format == "json" {
		return outputReplayJSON(cmd, result)
	}
	return outputReplayText(cmd, result, opts.Verbose)
}

// replayLog applies the whole update log to a fresh registry and compares
// every declared component against the stored records.
func replayLog(ctx context.Context, st *store.Store, tables []ir.TableSchema) (ReplayResult, error) {
	reg := replica.NewRegistry(tables)
	defer reg.Close()

	updates, err := st.ReadUpdatesAfter(ctx, 0, 0)
	if err != nil {
		return ReplayResult{}, err
	}
	counts := make(map[string]int)
	for _, u := range updates {
		reg.Apply(u)
		counts[u.Component]++
	}

	writes, err := st.ReadWrites(ctx, 0)
	if err != nil {
		return ReplayResult{}, err
	}

	result := ReplayResult{
		Components:    make([]ComponentReplay, 0, len(tables)),
		TotalUpdates:  len(updates),
		Writes:        map[string]int{},
		AllConsistent: true,
	}
	for _, w := range writes {
		result.Writes[w.Status]++
	}

	for _, c := range reg.Components() {
		stored, err := st.ReadRecords(ctx, c.Name())
		if err != nil {
			return ReplayResult{}, err
		}
		mismatches := compareRecords(c, stored)

		result.Components = append(result.Components, ComponentReplay{
			Component:  c.Name(),
			Updates:    counts[c.Name()],
			Records:    len(stored),
			Consistent: len(mismatches) == 0,
		})
		if len(mismatches) > 0 {
			result.Mismatches = append(result.Mismatches, mismatches...)
			result.AllConsistent = false
		}
	}
	return result, nil
}

// compareRecords compares replayed records of c with stored records.
func compareRecords(c *replica.Component, stored []ir.Record) []Mismatch {
	var out []Mismatch
	seen := make(map[string]bool, len(stored))

	for _, want := range stored {
		seen[want.Key] = true
		got, ok := c.Get(want.Key)
		switch {
		case !ok:
			out = append(out, Mismatch{c.Name(), want.Key, "stored record has no updates"})
		case got.Version != want.Version:
			out = append(out, Mismatch{c.Name(), want.Key, fmt.Sprintf("version: replayed %d, stored %d", got.Version, want.Version)})
		case got.Block != want.Block:
			out = append(out, Mismatch{c.Name(), want.Key, fmt.Sprintf("block: replayed %d, stored %d", got.Block, want.Block)})
		case !reflect.DeepEqual(got.Value, want.Value):
			out = append(out, Mismatch{c.Name(), want.Key, "value differs"})
		}
	}
	for _, rec := range c.Records() {
		if !seen[rec.Key] {
			out = append(out, Mismatch{c.Name(), rec.Key, "replayed record missing from store"})
		}
	}
	return out
}

// outputReplayJSON outputs the replay result as JSON.
func outputReplayJSON(cmd *cobra.Command, result ReplayResult) error {
	response := CLIResponse{
		Status: "ok",
		Data:   result,
	}

	if !result.AllConsistent {
		response.Status = "error"
		response.Error = &CLIError{
			Code:    "E_REPLAY",
			Message: "replayed state differs from stored state",
		}
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(response); err != nil {
		return err
	}

	if !result.AllConsistent {
		return NewExitError(ExitFailure, "replay verification failed")
	}
	return nil
}

// outputReplayText outputs the replay result as text.
func outputReplayText(cmd *cobra.Command, result ReplayResult, verbose bool) error {
	w := cmd.OutOrStdout()

	fmt.Fprintf(w, "Replay Summary: %d update(s), %d component(s)\n", result.TotalUpdates, len(result.Components))
	if len(result.Writes) > 0 {
		fmt.Fprintf(w, "Writes: %d confirmed, %d failed, %d pending\n",
			result.Writes[ir.WriteStatusConfirmed],
			result.Writes[ir.WriteStatusFailed],
			result.Writes[ir.WriteStatusPending])
	}
	fmt.Fprintln(w)

	for _, c := range result.Components {
		status := "✓"
		if !c.Consistent {
			status = "✗"
		}
		fmt.Fprintf(w, "%s %s: %d update(s), %d record(s)\n", status, c.Component, c.Updates, c.Records)
	}
	for _, m := range result.Mismatches {
		fmt.Fprintf(w, "  %s %s: %s\n", m.Component, m.Key, m.Reason)
	}

	if result.Updates != nil {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Updates: %d\n", len(result.Updates))
		for _, u := range result.Updates {
			val, err := ir.MarshalCanonical(u.Value)
			if err != nil {
				return err
			}
			if verbose {
				fmt.Fprintf(w, "  #%d %s %s v%d block=%d id=%s %s\n", u.Seq, u.Component, u.Key, u.Version, u.Block, u.ID, val)
			} else {
				fmt.Fprintf(w, "  #%d %s v%d %s\n", u.Seq, u.Component, u.Version, val)
			}
		}
	}
	fmt.Fprintln(w)

	if result.AllConsistent {
		fmt.Fprintln(w, "✓ Replayed state matches stored state")
		return nil
	}

	fmt.Fprintln(w, "✗ Replay verification failed")
	return NewExitError(ExitFailure, "replay verification failed")
}
