package replica

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/roach88/mudbridge/internal/ir"
)

// Component is the replicated state of one table: a record cache plus the
// stream of its updates.
type Component struct {
	schema ir.TableSchema
	stream *Stream

	mu      sync.RWMutex
	records map[string]ir.Record
}

func newComponent(schema ir.TableSchema) *Component {
	return &Component{
		schema:  schema,
		stream:  NewStream(schema.Name),
		records: make(map[string]ir.Record),
	}
}

// Name returns the table name.
func (c *Component) Name() string {
	return c.schema.Name
}

// Schema returns the table schema.
func (c *Component) Schema() ir.TableSchema {
	return c.schema
}

// Updates returns the component's update stream.
func (c *Component) Updates() *Stream {
	return c.stream
}

// Get returns the cached record for key.
func (c *Component) Get(key string) (ir.Record, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.records[ir.NormalizeKey(key)]
	return rec, ok
}

// Records returns a snapshot of every cached record ordered by key.
func (c *Component) Records() []ir.Record {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]ir.Record, 0, len(c.records))
	for _, rec := range c.records {
		out = append(out, rec)
	}
	slices.SortFunc(out, func(a, b ir.Record) int {
		switch {
		case a.Key < b.Key:
			return -1
		case a.Key > b.Key:
			return 1
		}
		return 0
	})
	return out
}

// apply caches u and reports whether it advanced the record. Updates at or
// below the cached version are stale and ignored.
func (c *Component) apply(u ir.Update) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cur, ok := c.records[u.Key]; ok && u.Version <= cur.Version {
		return false
	}
	c.records[u.Key] = ir.Record{
		Component: u.Component,
		Key:       u.Key,
		Value:     u.Value,
		Version:   u.Version,
		Block:     u.Block,
	}
	return true
}

// Registry holds one Component per declared table.
type Registry struct {
	components map[string]*Component
	order      []string
	all        *Stream

	latestBlock atomic.Int64
	latestSeq   atomic.Int64
}

// NewRegistry creates a registry with one component per table.
func NewRegistry(tables []ir.TableSchema) *Registry {
	r := &Registry{
		components: make(map[string]*Component, len(tables)),
		all:        NewStream("*"),
	}
	for _, t := range tables {
		if _, dup := r.components[t.Name]; dup {
			continue
		}
		r.components[t.Name] = newComponent(t)
		r.order = append(r.order, t.Name)
	}
	return r
}

// Component returns the named component.
func (r *Registry) Component(name string) (*Component, bool) {
	c, ok := r.components[name]
	return c, ok
}

// Components returns every component in declaration order.
func (r *Registry) Components() []*Component {
	out := make([]*Component, len(r.order))
	for i, name := range r.order {
		out[i] = r.components[name]
	}
	return out
}

// UpdateStream returns the update stream of the named component.
func (r *Registry) UpdateStream(name string) (Source, error) {
	c, ok := r.components[name]
	if !ok {
		return nil, fmt.Errorf("component %q: %w", name, ErrUnknownComponent)
	}
	return c.stream, nil
}

// Record returns the cached record of one entity.
func (r *Registry) Record(component, key string) (ir.Record, bool) {
	c, ok := r.components[component]
	if !ok {
		return ir.Record{}, false
	}
	return c.Get(key)
}

// All returns the stream of every component's updates.
func (r *Registry) All() *Stream {
	return r.all
}

// LatestBlock returns the highest block applied so far.
func (r *Registry) LatestBlock() int64 {
	return r.latestBlock.Load()
}

// LatestSeq returns the seq of the last applied update.
func (r *Registry) LatestSeq() int64 {
	return r.latestSeq.Load()
}

// Apply caches u on its component and emits it. Updates for tables the
// world does not declare advance LatestSeq but are otherwise ignored.
func (r *Registry) Apply(u ir.Update) {
	if u.Seq > r.latestSeq.Load() {
		r.latestSeq.Store(u.Seq)
	}
	if u.Block > r.latestBlock.Load() {
		r.latestBlock.Store(u.Block)
	}

	c, ok := r.components[u.Component]
	if !ok {
		slog.Debug("update for undeclared component ignored", "component", u.Component, "seq", u.Seq)
		return
	}
	if !c.apply(u) {
		slog.Warn("stale update ignored",
			"component", u.Component,
			"key", u.Key,
			"version", u.Version,
			"seq", u.Seq,
		)
		return
	}

	c.stream.Emit(u)
	r.all.Emit(u)
}

// Close closes every stream, stopping all subscriptions.
func (r *Registry) Close() {
	for _, name := range r.order {
		r.components[name].stream.Close()
	}
	r.all.Close()
}
