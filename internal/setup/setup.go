// Package setup bootstraps the local network the bridge runs against: the
// store, the compiled world, the replica and its syncer, and the world that
// executes actions.
package setup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/mudbridge/internal/bridge"
	"github.com/roach88/mudbridge/internal/compiler"
	"github.com/roach88/mudbridge/internal/ir"
	"github.com/roach88/mudbridge/internal/replica"
	"github.com/roach88/mudbridge/internal/store"
	"github.com/roach88/mudbridge/internal/world"
)

// DefaultAction is the action exposed to the bridge.
const DefaultAction = "increment"

// Config describes the network to bring up.
type Config struct {
	// DBPath is the SQLite database file.
	DBPath string
	// WorldDir holds the CUE world config. Empty selects the default world.
	WorldDir string
	// Action is the world action the bridge submits. Defaults to DefaultAction.
	Action string

	PollInterval   time.Duration
	ConfirmTimeout time.Duration

	// Clock and IDs override the world's block clock and transaction ids.
	Clock world.Clock
	IDs   world.IDGenerator
}

// Bootstrapper implements bridge.Bootstrapper over a local SQLite world.
type Bootstrapper struct {
	cfg Config

	mu      sync.Mutex
	store   *store.Store
	network *world.Network
	cancel  context.CancelFunc
	done    chan struct{}
}

var errAlreadySetUp = errors.New("setup already ran")

// New creates a bootstrapper. Nothing is opened until Setup.
func New(cfg Config) *Bootstrapper {
	if cfg.Action == "" {
		cfg.Action = DefaultAction
	}
	return &Bootstrapper{cfg: cfg}
}

// Setup opens the store, compiles the world, hydrates the replica from the
// update log and starts the syncer in the background.
func (b *Bootstrapper) Setup(ctx context.Context) (bridge.Setup, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.store != nil {
		return bridge.Setup{}, errAlreadySetUp
	}
	if b.cfg.DBPath == "" {
		return bridge.Setup{}, errors.New("database path is required")
	}

	cfg, err := compiler.Load(b.cfg.WorldDir)
	if err != nil {
		return bridge.Setup{}, fmt.Errorf("load world: %w", err)
	}
	if _, ok := cfg.Action(b.cfg.Action); !ok {
		return bridge.Setup{}, fmt.Errorf("world declares no action %q: %w", b.cfg.Action, world.ErrUnknownAction)
	}

	st, err := store.Open(b.cfg.DBPath)
	if err != nil {
		return bridge.Setup{}, fmt.Errorf("open store: %w", err)
	}

	reg := replica.NewRegistry(cfg.Tables)
	syncer := replica.NewSyncer(st, reg, replica.WithPollInterval(b.cfg.PollInterval))

	n, err := syncer.Sync(ctx)
	if err != nil {
		reg.Close()
		st.Close()
		return bridge.Setup{}, fmt.Errorf("hydrate replica: %w", err)
	}

	clock := b.cfg.Clock
	if clock == nil {
		latest, err := st.LatestBlock(ctx)
		if err != nil {
			reg.Close()
			st.Close()
			return bridge.Setup{}, err
		}
		clock = world.NewBlockClockAt(latest)
	}
	opts := []world.Option{
		world.WithClock(clock),
		world.WithConfirmTimeout(b.cfg.ConfirmTimeout),
	}
	if b.cfg.IDs != nil {
		opts = append(opts, world.WithIDGenerator(b.cfg.IDs))
	}
	w, err := world.New(cfg, st, syncer, opts...)
	if err != nil {
		reg.Close()
		st.Close()
		return bridge.Setup{}, err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	go func() {
		defer close(done)
		syncer.Run(runCtx)
	}()

	b.store = st
	b.network = &world.Network{World: w, Replica: reg, Syncer: syncer}
	b.cancel = cancel
	b.done = done

	slog.Info("network ready",
		"db", b.cfg.DBPath,
		"world", w.Address(),
		"namespace", cfg.Namespace,
		"tables", len(cfg.Tables),
		"hydrated", n,
		"block", clock.Current(),
	)

	action := b.cfg.Action
	return bridge.Setup{
		Components: reg,
		Action: func(ctx context.Context) (ir.ActionResult, error) {
			return w.Execute(ctx, action)
		},
		Network: b.network,
		Release: b.Close,
	}, nil
}

// Network returns the running network, or nil before Setup.
func (b *Bootstrapper) Network() *world.Network {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.network
}

// Store returns the open store, or nil before Setup.
func (b *Bootstrapper) Store() *store.Store {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.store
}

// Close stops the syncer, closes every stream and the store.
func (b *Bootstrapper) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.store == nil {
		return nil
	}
	b.cancel()
	<-b.done
	b.network.Replica.Close()
	err := b.store.Close()
	b.store = nil
	b.network = nil
	return err
}
