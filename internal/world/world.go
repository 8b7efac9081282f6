package world

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/mudbridge/internal/ir"
	"github.com/roach88/mudbridge/internal/store"
)

// DefaultConfirmTimeout bounds how long Execute waits for the replica when
// the caller's context has no deadline.
const DefaultConfirmTimeout = 10 * time.Second

// Ledger is the persistent state a World writes to. *store.Store implements it.
type Ledger interface {
	UpdateRecord(ctx context.Context, component, key string, block int64, fn store.MutateFunc) (ir.Update, error)
	BeginWrite(ctx context.Context, id, action string, block int64) error
	ConfirmWrite(ctx context.Context, id string, result ir.Value, updateSeq int64) error
	FailWrite(ctx context.Context, id string, cause error) error
}

// Replica is the synced view transactions are confirmed against.
type Replica interface {
	WaitFor(ctx context.Context, seq int64) error
	Record(component, key string) (ir.Record, bool)
}

// Option configures a World.
type Option func(*World)

// WithClock sets the block clock. Defaults to a BlockClock starting at 0.
func WithClock(c Clock) Option {
	return func(w *World) {
		w.clock = c
	}
}

// WithIDGenerator sets the transaction id generator. Defaults to UUIDv7.
func WithIDGenerator(g IDGenerator) Option {
	return func(w *World) {
		w.ids = g
	}
}

// WithConfirmTimeout sets the confirmation wait used when the caller's
// context has no deadline.
func WithConfirmTimeout(d time.Duration) Option {
	return func(w *World) {
		if d > 0 {
			w.confirmTimeout = d
		}
	}
}

// World executes declared actions as transactions.
type World struct {
	cfg            *ir.WorldConfig
	address        string
	ledger         Ledger
	replica        Replica
	clock          Clock
	ids            IDGenerator
	confirmTimeout time.Duration

	watchMu  sync.Mutex
	watchers map[int]func(ir.Write)
	nextID   int
}

// New creates a world for cfg.
func New(cfg *ir.WorldConfig, ledger Ledger, replica Replica, opts ...Option) (*World, error) {
	addr, err := ir.WorldAddress(*cfg)
	if err != nil {
		return nil, fmt.Errorf("world address: %w", err)
	}
	w := &World{
		cfg:            cfg,
		address:        addr,
		ledger:         ledger,
		replica:        replica,
		clock:          NewBlockClock(),
		ids:            UUIDv7Generator{},
		confirmTimeout: DefaultConfirmTimeout,
		watchers:       make(map[int]func(ir.Write)),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Config returns the world config.
func (w *World) Config() *ir.WorldConfig {
	return w.cfg
}

// Address returns the world's stable address.
func (w *World) Address() string {
	return w.address
}

// Block returns the latest mined block.
func (w *World) Block() int64 {
	return w.clock.Current()
}

// Increment submits the increment action.
func (w *World) Increment(ctx context.Context) (ir.ActionResult, error) {
	return w.Execute(ctx, "increment")
}

// Execute runs the named action: adds its delta to its field and waits until
// the replica has synced the change. The returned value is the field as the
// replica holds it after the sync.
func (w *World) Execute(ctx context.Context, action string) (ir.ActionResult, error) {
	def, ok := w.cfg.Action(action)
	if !ok {
		return ir.ActionResult{}, fmt.Errorf("%q: %w", action, ErrUnknownAction)
	}
	table, ok := w.cfg.Table(def.Table)
	if !ok {
		return ir.ActionResult{}, fmt.Errorf("action %q table %q: %w", action, def.Table, ErrUnknownTable)
	}
	fieldType, _ := table.FieldType(def.Field)
	lo, hi, _ := ir.FieldRange(fieldType)

	id := w.ids.Generate()
	block := w.clock.Next()
	txErr := func(err error) error {
		return &TxError{ID: id, Action: action, Block: block, Err: err}
	}

	if err := w.ledger.BeginWrite(ctx, id, action, block); err != nil {
		return ir.ActionResult{}, txErr(err)
	}
	w.publish(ir.Write{ID: id, Action: action, Status: ir.WriteStatusPending, Block: block})

	slog.Debug("transaction submitted",
		"tx", id,
		"action", action,
		"system", def.System,
		"block", block,
	)

	var next int64
	upd, err := w.ledger.UpdateRecord(ctx, def.Table, ir.SingletonKey, block, func(cur ir.Object, _ bool) (ir.Object, error) {
		n, _ := cur.Int(def.Field)
		next = n + def.Delta
		if next < lo || next > hi || (def.Delta > 0 && next < n) || (def.Delta < 0 && next > n) {
			return nil, fmt.Errorf("%s.%s %d%+d exceeds %s: %w", def.Table, def.Field, n, def.Delta, fieldType, ErrOutOfRange)
		}
		out := zeroValue(table)
		for k, v := range cur {
			out[k] = v
		}
		out[def.Field] = ir.Int(next)
		return out, nil
	})
	if err != nil {
		w.fail(ctx, id, action, block, err)
		return ir.ActionResult{}, txErr(err)
	}

	if err := w.ledger.ConfirmWrite(ctx, id, ir.Int(next), upd.Seq); err != nil {
		cause := fmt.Errorf("confirm write: %w", err)
		w.markFailed(ctx, id, action, block, cause)
		slog.Error("transaction applied but not confirmed",
			"tx", id,
			"action", action,
			"block", block,
			"seq", upd.Seq,
			"error", err,
		)
		return ir.ActionResult{}, txErr(cause)
	}
	w.publish(ir.Write{ID: id, Action: action, Status: ir.WriteStatusConfirmed, Result: ir.Int(next), Block: block, Seq: upd.Seq})

	waitCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, w.confirmTimeout)
		defer cancel()
	}
	if err := w.replica.WaitFor(waitCtx, upd.Seq); err != nil {
		return ir.ActionResult{}, txErr(fmt.Errorf("await sync: %w", err))
	}

	result := ir.ActionResult{ID: id, Action: action, Value: ir.Int(next), Block: block}
	if rec, ok := w.replica.Record(def.Table, ir.SingletonKey); ok {
		if v, ok := rec.Value[def.Field]; ok {
			result.Value = v
		}
	}

	slog.Debug("transaction confirmed",
		"tx", id,
		"action", action,
		"block", block,
		"seq", upd.Seq,
	)
	return result, nil
}

func (w *World) fail(ctx context.Context, id, action string, block int64, cause error) {
	w.markFailed(ctx, id, action, block, cause)
	slog.Warn("transaction reverted", "tx", id, "action", action, "block", block, "error", cause)
}

// markFailed moves a pending write to failed and publishes it.
func (w *World) markFailed(ctx context.Context, id, action string, block int64, cause error) {
	// The write must be marked failed even if the caller's context is done.
	if err := w.ledger.FailWrite(context.WithoutCancel(ctx), id, cause); err != nil {
		slog.Error("failed to record failed transaction", "tx", id, "error", err)
	}
	w.publish(ir.Write{ID: id, Action: action, Status: ir.WriteStatusFailed, Error: cause.Error(), Block: block})
}

// Set writes a whole record, as an external writer would. value must match
// the table schema; missing fields keep their current value or zero.
func (w *World) Set(ctx context.Context, component, key string, value ir.Object) (ir.Update, error) {
	table, ok := w.cfg.Table(component)
	if !ok {
		return ir.Update{}, fmt.Errorf("%q: %w", component, ErrUnknownTable)
	}
	if table.Singleton() {
		key = ir.SingletonKey
	} else if key == "" {
		return ir.Update{}, fmt.Errorf("table %q requires a key: %w", component, ErrInvalidValue)
	}
	if err := checkValue(table, value); err != nil {
		return ir.Update{}, err
	}

	block := w.clock.Next()
	return w.ledger.UpdateRecord(ctx, component, key, block, func(cur ir.Object, _ bool) (ir.Object, error) {
		out := zeroValue(table)
		for k, v := range cur {
			out[k] = v
		}
		for k, v := range value {
			out[k] = v
		}
		return out, nil
	})
}

// WatchWrites registers fn to be called on every write status change.
// fn runs on the submitting goroutine and must not block.
func (w *World) WatchWrites(fn func(ir.Write)) (cancel func()) {
	w.watchMu.Lock()
	defer w.watchMu.Unlock()

	id := w.nextID
	w.nextID++
	w.watchers[id] = fn
	return func() {
		w.watchMu.Lock()
		defer w.watchMu.Unlock()
		delete(w.watchers, id)
	}
}

func (w *World) publish(wr ir.Write) {
	w.watchMu.Lock()
	fns := make([]func(ir.Write), 0, len(w.watchers))
	for _, fn := range w.watchers {
		fns = append(fns, fn)
	}
	w.watchMu.Unlock()

	for _, fn := range fns {
		fn(wr)
	}
}

// zeroValue returns a record value with every schema field at its zero value.
func zeroValue(table ir.TableSchema) ir.Object {
	out := make(ir.Object, len(table.Schema))
	for _, f := range table.Schema {
		switch f.Type {
		case ir.TypeBool:
			out[f.Name] = ir.Bool(false)
		case ir.TypeString:
			out[f.Name] = ir.String("")
		case ir.TypeAddress:
			out[f.Name] = ir.String("0x0000000000000000000000000000000000000000")
		case ir.TypeBytes32:
			out[f.Name] = ir.String(ir.SingletonKey)
		default:
			out[f.Name] = ir.Int(0)
		}
	}
	return out
}

// checkValue validates value against the table's value fields.
func checkValue(table ir.TableSchema, value ir.Object) error {
	for name, v := range value {
		typ, ok := table.FieldType(name)
		if !ok {
			return fmt.Errorf("table %q has no field %q: %w", table.Name, name, ErrInvalidValue)
		}
		if lo, hi, isInt := ir.FieldRange(typ); isInt {
			n, ok := v.(ir.Int)
			if !ok {
				return fmt.Errorf("field %q wants %s, got %T: %w", name, typ, v, ErrInvalidValue)
			}
			if int64(n) < lo || int64(n) > hi {
				return fmt.Errorf("field %q = %d exceeds %s: %w", name, n, typ, ErrOutOfRange)
			}
			continue
		}
		switch typ {
		case ir.TypeBool:
			if _, ok := v.(ir.Bool); !ok {
				return fmt.Errorf("field %q wants bool, got %T: %w", name, v, ErrInvalidValue)
			}
		default:
			if _, ok := v.(ir.String); !ok {
				return fmt.Errorf("field %q wants %s, got %T: %w", name, typ, v, ErrInvalidValue)
			}
		}
	}
	return nil
}
