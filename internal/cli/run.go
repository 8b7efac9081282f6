package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/mudbridge/internal/bridge"
	"github.com/roach88/mudbridge/internal/config"
	"github.com/roach88/mudbridge/internal/devtools"
	"github.com/roach88/mudbridge/internal/host"
	"github.com/roach88/mudbridge/internal/ir"
	"github.com/roach88/mudbridge/internal/setup"
)

// flushTimeout bounds the final hook flush on shutdown.
const flushTimeout = 5 * time.Second

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Config  config.Config
	NoStdin bool
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts, Config: rootOpts.Env}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the bridge",
		Long: `Bring up the local network, initialize the bridge and serve a host engine.

The engine talks JSON lines on stdin/stdout. Each request is one object:

  {"id":"1","op":"increment"}
  {"id":"2","op":"status"}

Every component update is written to stdout as {"type":"update",...} and
every request is answered with a result, status or error line. The bridge
stops at end of input or on Ctrl-C. With --no-stdin it only prints updates
until interrupted.

Flags default to MUDBRIDGE_* environment variables.

Example:
  mudbridge run --db ./mudbridge.db --devtools 127.0.0.1:7070
  mudbridge run --world ./world --component Position --no-stdin`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBridge(opts, cmd)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.Config.DBPath, "db", opts.Config.DBPath, "path to SQLite database")
	f.StringVar(&opts.Config.WorldDir, "world", opts.Config.WorldDir, "CUE world config directory (default: built-in counter world)")
	f.StringVar(&opts.Config.Component, "component", opts.Config.Component, "component whose updates are forwarded")
	f.StringVar(&opts.Config.DevToolsAddr, "devtools", opts.Config.DevToolsAddr, "dev tools listen address (empty disables)")
	f.StringVar(&opts.Config.ErrorPolicy, "policy", opts.Config.ErrorPolicy, "hook error policy (continue|halt)")
	f.BoolVar(&opts.NoStdin, "no-stdin", false, "do not read requests; print updates until interrupted")

	return cmd
}

func runBridge(opts *RunOptions, cmd *cobra.Command) error {
	if opts.Config.DBPath == "" {
		return NewExitError(ExitCommandError, "database path is required (--db or MUDBRIDGE_DB_PATH)")
	}
	bopts, err := opts.Config.BridgeOptions()
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid options", err)
	}

	boot := setup.New(setup.Config{
		DBPath:         opts.Config.DBPath,
		WorldDir:       opts.Config.WorldDir,
		PollInterval:   opts.Config.PollInterval,
		ConfirmTimeout: opts.Config.ConfirmTimeout,
	})
	defer func() {
		if closeErr := boot.Close(); closeErr != nil {
			slog.Error("error closing network", "error", closeErr)
		}
	}()

	bopts = append(bopts, bridge.WithMounter(devtools.New(opts.Config.DevToolsAddr)))
	b := bridge.New(boot, bopts...)
	defer b.Close()

	// Setup signal handling for graceful shutdown
	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	out := cmd.OutOrStdout()
	var sess *host.Session
	if opts.NoStdin {
		b.SetHostHook(printHook(out))
	} else {
		sess = host.NewSession(b, cmd.InOrStdin(), out)
		// Installed before Initialize so the first updates reach the engine.
		b.SetHostHook(sess)
	}

	if err := b.Initialize(ctx); err != nil {
		return WrapExitError(ExitCommandError, "bridge initialization failed", err)
	}
	go logHookErrors(ctx, b.HookErrors())

	if sess != nil {
		err = sess.Serve(ctx)
	} else {
		<-ctx.Done()
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return WrapExitError(ExitFailure, "host session failed", err)
	}

	// The host session flushes before it releases the hook; printed updates
	// are flushed here.
	if sess == nil {
		flushCtx, flushCancel := context.WithTimeout(context.WithoutCancel(ctx), flushTimeout)
		defer flushCancel()
		if err := b.Flush(flushCtx); err != nil {
			slog.Warn("pending updates not delivered", "error", err)
		}
	}

	slog.Info("bridge stopped", "component", b.Component())
	return nil
}

// printHook writes one text line per update.
func printHook(w io.Writer) bridge.Hook {
	return bridge.HookFunc(func(_ context.Context, u ir.Update) error {
		val, err := ir.MarshalCanonical(u.Value)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, "%s %s v%d block=%d %s\n", u.Component, u.Key, u.Version, u.Block, val)
		return err
	})
}

// logHookErrors logs hook failures until errs closes or ctx is done.
func logHookErrors(ctx context.Context, errs <-chan error) {
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-errs:
			if !ok {
				return
			}
			slog.Error("host hook failed", "error", err)
		}
	}
}
