package gateway

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/quietbit/arena/pkg/wire"
)

// conn wraps one accepted websocket with a bounded egress queue. A
// writer goroutine drains the queue; when the queue is full Deliver
// reports false and the owner drops the connection instead of
// blocking.
type conn struct {
	ws     *websocket.Conn
	egress chan []byte
	closed chan struct{}
	once   sync.Once
	log    *zap.Logger
	seq    atomic.Uint64
}

func newConn(ws *websocket.Conn, queueSize int, log *zap.Logger) *conn {
	c := &conn{
		ws:     ws,
		egress: make(chan []byte, queueSize),
		closed: make(chan struct{}),
		log:    log,
	}
	go c.writeLoop()
	return c
}

func (c *conn) writeLoop() {
	for {
		select {
		case <-c.closed:
			return
		case data := <-c.egress:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			err := c.ws.Write(ctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				c.Close()
				return
			}
		}
	}
}

// Deliver implements game.Outbound.
func (c *conn) Deliver(seq uint64, ev wire.ServerEvent) bool {
	data, err := wire.EncodeServer(seq, ev)
	if err != nil {
		c.log.Error("event_encode_failed",
			zap.String("kind", string(ev.Kind())),
			zap.Error(err))
		return true
	}
	select {
	case <-c.closed:
		return false
	case c.egress <- data:
		return true
	default:
		return false
	}
}

// send delivers a self-sequenced event, used on queue connections that
// have no session counter behind them.
func (c *conn) send(ev wire.ServerEvent) bool {
	return c.Deliver(c.seq.Add(1), ev)
}

func (c *conn) Close() {
	c.once.Do(func() {
		close(c.closed)
		_ = c.ws.Close(websocket.StatusNormalClosure, "bye")
	})
}
