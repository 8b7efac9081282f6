package devtools

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"

	"github.com/roach88/mudbridge/internal/ir"
	"github.com/roach88/mudbridge/internal/replica"
	"github.com/roach88/mudbridge/internal/world"
)

func parseOrigin(origin string) (string, error) {
	u, err := url.Parse(origin)
	if err != nil {
		return "", err
	}
	return u.Host, nil
}

// session is one websocket client. Only the writer goroutine touches conn
// for writing.
type session struct {
	id   string
	conn *websocket.Conn
	out  chan Envelope
}

func (p *Panel) serveWS(w http.ResponseWriter, r *http.Request, n *world.Network) {
	conn, err := p.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("dev tools upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	s := &session{
		id:   ulid.Make().String(),
		conn: conn,
		out:  make(chan Envelope, sessionBuffer),
	}
	logger := slog.With("session", s.id)
	logger.Info("dev tools client connected", "remote", r.RemoteAddr)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	s.out <- Envelope{Type: TypeHello, Session: s.id, World: n.World.Address(), Block: n.World.Block()}

	sub, err := n.Replica.All().Subscribe(replica.ObserverFunc(func(ctx context.Context, u ir.Update) error {
		select {
		case s.out <- Envelope{Type: TypeUpdate, Update: &u}:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}), replica.WithName("devtools/"+s.id))
	if err != nil {
		logger.Warn("dev tools subscribe failed", "error", err)
		conn.Close()
		return
	}
	defer sub.Unsubscribe()

	unwatch := n.World.WatchWrites(func(wr ir.Write) {
		select {
		case s.out <- Envelope{Type: TypeWrite, Write: &wr}:
		default:
			logger.Warn("dev tools client slow, dropping write", "tx", wr.ID)
		}
	})
	defer unwatch()

	go s.readLoop(cancel)
	s.writeLoop(ctx)

	conn.Close()
	logger.Info("dev tools client disconnected")
}

// readLoop discards client messages and cancels the session when the
// connection drops.
func (s *session) readLoop(cancel context.CancelFunc) {
	defer cancel()
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *session) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			return
		case env := <-s.out:
			s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := s.conn.WriteJSON(env); err != nil {
				slog.Debug("dev tools write failed", "session", s.id, "error", err)
				return
			}
		}
	}
}
