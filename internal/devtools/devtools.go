// Package devtools serves a small inspection panel for a running network:
// world status, current records, and a websocket feed of updates and
// transaction writes.
package devtools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roach88/mudbridge/internal/ir"
	"github.com/roach88/mudbridge/internal/replica"
	"github.com/roach88/mudbridge/internal/world"
)

const (
	sessionBuffer = 64
	writeTimeout  = 5 * time.Second
)

// Envelope is one message on the websocket feed.
type Envelope struct {
	Type    string     `json:"type"`
	Session string     `json:"session,omitempty"`
	World   string     `json:"world,omitempty"`
	Block   int64      `json:"block,omitempty"`
	Update  *ir.Update `json:"update,omitempty"`
	Write   *ir.Write  `json:"write,omitempty"`
}

// Envelope types.
const (
	TypeHello  = "hello"
	TypeUpdate = "update"
	TypeWrite  = "write"
)

// Status is the /status response.
type Status struct {
	World      string   `json:"world"`
	Namespace  string   `json:"namespace"`
	Block      int64    `json:"block"`
	AppliedSeq int64    `json:"applied_seq"`
	Components []string `json:"components"`
	IRVersion  string   `json:"ir_version"`
}

// Panel implements bridge.Mounter. An empty address disables it.
type Panel struct {
	addr     string
	upgrader websocket.Upgrader

	mu       sync.Mutex
	listener net.Listener
	ready    chan struct{}
	once     sync.Once
}

// New creates a panel that will listen on addr once mounted.
func New(addr string) *Panel {
	return &Panel{
		addr: addr,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     sameHostOrigin,
		},
		ready: make(chan struct{}),
	}
}

// Ready is closed once the panel is listening.
func (p *Panel) Ready() <-chan struct{} {
	return p.ready
}

// Addr returns the listening address, or "" before the panel is listening.
func (p *Panel) Addr() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.listener == nil {
		return ""
	}
	return p.listener.Addr().String()
}

// Mount serves the panel for network until ctx is cancelled. network must
// be a *world.Network.
func (p *Panel) Mount(ctx context.Context, network any) error {
	if p.addr == "" {
		slog.Debug("dev tools disabled")
		return nil
	}
	n, ok := network.(*world.Network)
	if !ok || n == nil {
		return fmt.Errorf("dev tools: unsupported network %T", network)
	}

	ln, err := net.Listen("tcp", p.addr)
	if err != nil {
		return fmt.Errorf("dev tools listen: %w", err)
	}
	p.mu.Lock()
	p.listener = ln
	p.mu.Unlock()
	p.once.Do(func() { close(p.ready) })

	srv := &http.Server{
		Handler:           p.Handler(n),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errc := make(chan error, 1)
	go func() {
		errc <- srv.Serve(ln)
	}()
	slog.Info("dev tools listening", "addr", ln.Addr().String(), "world", n.World.Address())

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("dev tools shutdown: %w", err)
		}
		return nil
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("dev tools serve: %w", err)
	}
}

// Handler returns the panel's HTTP routes for n.
func (p *Panel) Handler(n *world.Network) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, status(n))
	})
	serveRecords := func(w http.ResponseWriter, r *http.Request) {
		records, err := records(n.Replica, r.PathValue("component"))
		if err != nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, records)
	}
	mux.HandleFunc("GET /records", serveRecords)
	mux.HandleFunc("GET /records/{component}", serveRecords)
	mux.HandleFunc("GET /ws", func(w http.ResponseWriter, r *http.Request) {
		p.serveWS(w, r, n)
	})
	return mux
}

func status(n *world.Network) Status {
	cfg := n.World.Config()
	s := Status{
		World:      n.World.Address(),
		Namespace:  cfg.Namespace,
		Block:      n.World.Block(),
		AppliedSeq: n.Syncer.Applied(),
		IRVersion:  ir.IRVersion,
	}
	for _, c := range n.Replica.Components() {
		s.Components = append(s.Components, c.Name())
	}
	return s
}

func records(reg *replica.Registry, component string) ([]ir.Record, error) {
	if component != "" {
		c, ok := reg.Component(component)
		if !ok {
			return nil, fmt.Errorf("%q: %w", component, replica.ErrUnknownComponent)
		}
		return nonNil(c.Records()), nil
	}
	var out []ir.Record
	for _, c := range reg.Components() {
		out = append(out, c.Records()...)
	}
	return nonNil(out), nil
}

func nonNil(r []ir.Record) []ir.Record {
	if r == nil {
		return []ir.Record{}
	}
	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("dev tools response failed", "error", err)
	}
}

// sameHostOrigin accepts requests without an Origin header and those whose
// origin host matches the request host.
func sameHostOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := parseOrigin(origin)
	if err != nil {
		return false
	}
	return u == r.Host
}
