package gateway

import (
	"errors"
	"net/http"
	"strings"
	"sync"

	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/quietbit/arena/internal/game"
	"github.com/quietbit/arena/internal/match"
	"github.com/quietbit/arena/internal/tccat"
	"github.com/quietbit/arena/pkg/wire"
)

const defaultEgressQueue = 64

// Server terminates websockets and adapts them to the matchmaker and
// the session registry. It carries no game state of its own: every
// decoded command is forwarded, every outbound event arrives through
// game.Outbound or match.Notifier.
type Server struct {
	registry  *game.Registry
	mm        *match.Matchmaker
	controls  *tccat.Catalog
	log       *zap.Logger
	queueSize int

	mu    sync.Mutex
	queue map[string]*conn
}

func NewServer(registry *game.Registry, mm *match.Matchmaker, controls *tccat.Catalog, log *zap.Logger) *Server {
	s := &Server{
		registry:  registry,
		mm:        mm,
		controls:  controls,
		log:       log,
		queueSize: defaultEgressQueue,
		queue:     make(map[string]*conn),
	}
	mm.SetNotifier(s)
	return s
}

// Handler exposes the websocket endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/queue", s.handleQueue)
	mux.HandleFunc("/ws/game/", s.handleGame)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

// Notify implements match.Notifier for players holding a queue
// connection. Players who left already are silently skipped; their
// ticket outlives the socket on purpose.
func (s *Server) Notify(playerID string, ev wire.ServerEvent) {
	s.mu.Lock()
	c := s.queue[playerID]
	s.mu.Unlock()
	if c != nil {
		c.send(ev)
	}
}

func identity(r *http.Request) (playerID, name string) {
	q := r.URL.Query()
	playerID = strings.TrimSpace(q.Get("player_id"))
	name = strings.TrimSpace(q.Get("name"))
	if name == "" {
		name = playerID
	}
	return playerID, name
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	playerID, name := identity(r)
	if playerID == "" {
		http.Error(w, "player_id required", http.StatusBadRequest)
		return
	}
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		return
	}
	c := newConn(ws, s.queueSize, s.log)
	s.registerQueue(playerID, c)
	defer s.unregisterQueue(playerID, c)
	defer c.Close()

	ctx := r.Context()
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			return
		}
		cmd, err := wire.DecodeClient(data)
		if err != nil {
			c.send(&wire.Rejected{Code: wire.RejectIllegalForPhase, Detail: err.Error()})
			continue
		}
		switch q := cmd.(type) {
		case wire.JoinQueue:
			tc, err := s.controls.Resolve(q.TimeControl)
			if err != nil {
				c.send(&wire.Rejected{Code: wire.RejectIllegalForPhase, Detail: "bad time control: " + q.TimeControl})
				continue
			}
			err = s.mm.Join(ctx, match.Ticket{
				PlayerID:    playerID,
				Name:        name,
				TimeControl: tc,
				Mode:        q.Mode,
			})
			switch {
			case errors.Is(err, match.ErrAlreadyQueued):
				c.send(&wire.Rejected{Code: wire.RejectIllegalForPhase, Detail: "already queued"})
			case errors.Is(err, match.ErrServerFull):
				c.send(&wire.Rejected{Code: wire.RejectIllegalForPhase, Detail: "server full"})
			case err != nil:
				s.log.Error("queue_join_failed",
					zap.String("player_id", playerID),
					zap.Error(err))
				c.send(&wire.Rejected{Code: wire.RejectIllegalForPhase, Detail: "internal error"})
			}
		case wire.LeaveQueue:
			if _, err := s.mm.Leave(ctx, playerID); err != nil {
				s.log.Error("queue_leave_failed",
					zap.String("player_id", playerID),
					zap.Error(err))
			}
		case wire.Heartbeat:
			// Keepalive only.
		default:
			c.send(&wire.Rejected{Code: wire.RejectIllegalForPhase, Detail: "not a queue command"})
		}
	}
}

func (s *Server) handleGame(w http.ResponseWriter, r *http.Request) {
	gameID := strings.TrimPrefix(r.URL.Path, "/ws/game/")
	if gameID == "" || strings.Contains(gameID, "/") {
		http.Error(w, "bad game id", http.StatusBadRequest)
		return
	}
	playerID, _ := identity(r)
	if playerID == "" {
		http.Error(w, "player_id required", http.StatusBadRequest)
		return
	}
	sess, err := s.registry.Get(gameID)
	if err != nil {
		http.Error(w, "unknown game", http.StatusNotFound)
		return
	}
	if !sess.HasPlayer(playerID) {
		http.Error(w, "not a participant", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		return
	}
	c := newConn(ws, s.queueSize, s.log)
	if err := sess.Attach(playerID, c); err != nil {
		c.Close()
		return
	}
	defer sess.Detach(playerID, c)

	ctx := r.Context()
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			return
		}
		cmd, err := wire.DecodeClient(data)
		if err != nil {
			// Unsequenced on purpose. Game sockets carry the session's
			// sequence numbers; a transport-level rejection must not
			// collide with them.
			c.Deliver(0, &wire.Rejected{Code: wire.RejectIllegalForPhase, Detail: err.Error()})
			continue
		}
		switch cmd.(type) {
		case wire.JoinQueue, wire.LeaveQueue:
			c.Deliver(0, &wire.Rejected{Code: wire.RejectIllegalForPhase, Detail: "not a game command"})
		default:
			sess.Submit(playerID, cmd)
		}
	}
}

func (s *Server) registerQueue(playerID string, c *conn) {
	s.mu.Lock()
	if old := s.queue[playerID]; old != nil {
		old.Close()
	}
	s.queue[playerID] = c
	s.mu.Unlock()
}

func (s *Server) unregisterQueue(playerID string, c *conn) {
	s.mu.Lock()
	if s.queue[playerID] == c {
		delete(s.queue, playerID)
	}
	s.mu.Unlock()
}
