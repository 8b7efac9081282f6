package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/mudbridge/internal/bridge"
	"github.com/roach88/mudbridge/internal/config"
	"github.com/roach88/mudbridge/internal/ir"
	"github.com/roach88/mudbridge/internal/setup"
)

// IncrementOptions holds flags for the increment command.
type IncrementOptions struct {
	*RootOptions
	Config config.Config
	Count  int
}

// IncrementResult is the JSON payload of the increment command.
type IncrementResult struct {
	Results []ir.ActionResult `json:"results"`
	Updates int               `json:"updates"`
}

// NewIncrementCommand creates the increment command.
func NewIncrementCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &IncrementOptions{RootOptions: rootOpts, Config: rootOpts.Env}

	cmd := &cobra.Command{
		Use:   "increment",
		Short: "Submit the increment action",
		Long: `Initialize the bridge, submit the increment action and print each
confirmed result.

Exit codes:
  0 - Every action confirmed
  1 - An action failed or was reverted
  2 - Command error (bootstrap failed, etc.)

Examples:
  mudbridge increment --db ./mudbridge.db
  mudbridge increment --db ./mudbridge.db --count 5 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIncrement(opts, cmd)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.Config.DBPath, "db", opts.Config.DBPath, "path to SQLite database")
	f.StringVar(&opts.Config.WorldDir, "world", opts.Config.WorldDir, "CUE world config directory (default: built-in counter world)")
	f.StringVar(&opts.Config.Component, "component", opts.Config.Component, "component whose updates are counted")
	f.StringVar(&opts.Config.ErrorPolicy, "policy", opts.Config.ErrorPolicy, "hook error policy (continue|halt)")
	f.IntVarP(&opts.Count, "count", "n", 1, "number of actions to submit")

	return cmd
}

func runIncrement(opts *IncrementOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	if opts.Config.DBPath == "" {
		return NewExitError(ExitCommandError, "database path is required (--db or MUDBRIDGE_DB_PATH)")
	}
	if opts.Count < 1 {
		return NewExitError(ExitCommandError, fmt.Sprintf("--count must be at least 1, got %d", opts.Count))
	}
	bopts, err := opts.Config.BridgeOptions()
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid options", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	boot := setup.New(setup.Config{
		DBPath:         opts.Config.DBPath,
		WorldDir:       opts.Config.WorldDir,
		PollInterval:   opts.Config.PollInterval,
		ConfirmTimeout: opts.Config.ConfirmTimeout,
	})
	defer func() {
		if err := boot.Close(); err != nil {
			slog.Error("error closing network", "error", err)
		}
	}()

	var updates int
	bopts = append(bopts, bridge.WithHook(bridge.HookFunc(func(_ context.Context, u ir.Update) error {
		updates++
		formatter.VerboseLog("update %s v%d block %d", u.Identity(), u.Version, u.Block)
		return nil
	})))
	b := bridge.New(boot, bopts...)
	defer b.Close()

	if err := b.Initialize(ctx); err != nil {
		return WrapExitError(ExitCommandError, "bridge initialization failed", err)
	}

	result := IncrementResult{}
	for i := 0; i < opts.Count; i++ {
		res, err := b.SubmitAction(ctx)
		if err != nil {
			return formatter.ActionError(fmt.Sprintf("action %d of %d failed", i+1, opts.Count), err)
		}
		result.Results = append(result.Results, res)
		if formatter.Format != "json" {
			fmt.Fprintf(formatter.Writer, "✓ %s tx=%s block=%d value=%v\n", res.Action, res.ID, res.Block, res.Value)
		}
	}

	// The hook runs on the subscription goroutine.
	if err := b.Flush(ctx); err != nil {
		return WrapExitError(ExitFailure, "flush updates", err)
	}
	result.Updates = updates

	if formatter.Format == "json" {
		return formatter.Success(result)
	}
	fmt.Fprintf(formatter.Writer, "%d action(s) confirmed, %d update(s) delivered\n", len(result.Results), result.Updates)
	return nil
}
