package replica

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/mudbridge/internal/ir"
)

// Defaults for the Syncer.
const (
	DefaultPollInterval = 100 * time.Millisecond
	DefaultBatchSize    = 256
)

// UpdateLog is the ordered update log the Syncer replicates from.
// *store.Store implements it.
type UpdateLog interface {
	ReadUpdatesAfter(ctx context.Context, afterSeq int64, limit int) ([]ir.Update, error)
}

// SyncerOption configures a Syncer.
type SyncerOption func(*Syncer)

// WithPollInterval sets how often Run polls the log.
func WithPollInterval(d time.Duration) SyncerOption {
	return func(s *Syncer) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithBatchSize sets how many updates one read fetches.
func WithBatchSize(n int) SyncerOption {
	return func(s *Syncer) {
		if n > 0 {
			s.batch = n
		}
	}
}

// Syncer tails an UpdateLog in seq order and applies each update to a
// Registry.
type Syncer struct {
	log      UpdateLog
	reg      *Registry
	interval time.Duration
	batch    int
	nudge    chan struct{}

	syncMu sync.Mutex // serializes Sync

	mu       sync.Mutex
	applied  int64
	progress chan struct{} // closed and replaced whenever applied advances
}

// NewSyncer creates a syncer that starts from the beginning of the log.
func NewSyncer(log UpdateLog, reg *Registry, opts ...SyncerOption) *Syncer {
	s := &Syncer{
		log:      log,
		reg:      reg,
		interval: DefaultPollInterval,
		batch:    DefaultBatchSize,
		nudge:    make(chan struct{}, 1),
		progress: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Applied returns the seq of the last applied update.
func (s *Syncer) Applied() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applied
}

// Sync applies every update currently in the log and returns how many were
// applied.
func (s *Syncer) Sync(ctx context.Context) (int, error) {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()

	total := 0
	for {
		after := s.Applied()
		updates, err := s.log.ReadUpdatesAfter(ctx, after, s.batch)
		if err != nil {
			return total, fmt.Errorf("sync after seq %d: %w", after, err)
		}
		for _, u := range updates {
			s.reg.Apply(u)
			s.advance(u.Seq)
		}
		total += len(updates)
		if len(updates) < s.batch {
			return total, nil
		}
	}
}

func (s *Syncer) advance(seq int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if seq <= s.applied {
		return
	}
	s.applied = seq
	close(s.progress)
	s.progress = make(chan struct{})
}

// Nudge asks Run to poll now instead of waiting for the next tick.
func (s *Syncer) Nudge() {
	select {
	case s.nudge <- struct{}{}:
	default:
	}
}

// WaitFor blocks until the update with the given seq has been applied.
func (s *Syncer) WaitFor(ctx context.Context, seq int64) error {
	for {
		s.mu.Lock()
		if s.applied >= seq {
			s.mu.Unlock()
			return nil
		}
		progress := s.progress
		s.mu.Unlock()

		s.Nudge()

		select {
		case <-ctx.Done():
			return fmt.Errorf("wait for seq %d: %w", seq, ctx.Err())
		case <-progress:
		}
	}
}

// Run polls the log until ctx is cancelled. Read errors are logged and
// retried on the next tick.
func (s *Syncer) Run(ctx context.Context) error {
	slog.Info("syncer starting", "poll_interval", s.interval.String(), "from_seq", s.Applied())

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if n, err := s.Sync(ctx); err != nil && ctx.Err() == nil {
			slog.Error("sync failed", "error", err)
		} else if n > 0 {
			slog.Debug("synced updates", "count", n, "applied", s.Applied())
		}

		select {
		case <-ctx.Done():
			slog.Info("syncer stopping", "applied", s.Applied())
			return ctx.Err()
		case <-ticker.C:
		case <-s.nudge:
		}
	}
}

// Record returns the replica's cached copy of one record.
func (s *Syncer) Record(component, key string) (ir.Record, bool) {
	return s.reg.Record(component, key)
}
