// Package realtime runs the websocket side of the items service: one read
// loop per connection feeding the dispatcher and one write loop draining the
// connection's bounded outbound buffer.
package realtime

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"listsync/internal/coordination"
	"listsync/internal/protocol"
	"listsync/internal/room"
	"listsync/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 64 << 10
	defaultBuffer  = 64
)

// Server upgrades requests to websocket connections and registers them.
type Server struct {
	reg      *room.Registry
	disp     *coordination.Dispatcher
	buffer   int
	upgrader websocket.Upgrader
}

// NewServer returns a Server; buffer is each connection's outbound queue
// length (zero means 64).
func NewServer(reg *room.Registry, disp *coordination.Dispatcher, buffer int) *Server {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Server{
		reg:    reg,
		disp:   disp,
		buffer: buffer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Handle is the gin handler for GET /ws. The auth middleware has already
// stored the token subject under "user".
func (s *Server) Handle(c *gin.Context) {
	s.Serve(c.Writer, c.Request, c.GetString("user"))
}

// Serve upgrades the request and blocks until the connection ends.
func (s *Server) Serve(w http.ResponseWriter, r *http.Request, userID string) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Debug(r.Context(), "Websocket upgrade failed", "error", err)
		return
	}
	c := newConn(uuid.NewString(), ws, s.buffer)
	ctx := logger.WithConnID(context.Background(), c.id)

	if err := s.reg.Register(c); err != nil {
		logger.Warn(ctx, "Connection refused", "error", err)
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(writeWait))
		_ = ws.Close()
		return
	}
	logger.Info(ctx, "Connection opened", "user_id", userID)

	go c.writeLoop(ctx)
	c.readLoop(ctx, s.disp, coordination.Session{ConnID: c.id, UserID: userID})

	s.reg.Disconnect(c.id)
	c.Close()
	logger.Info(ctx, "Connection closed")
}

// conn implements room.Conn over a gorilla websocket.
type conn struct {
	id   string
	ws   *websocket.Conn
	send chan protocol.Envelope

	done      chan struct{}
	closeOnce sync.Once
}

func newConn(id string, ws *websocket.Conn, buffer int) *conn {
	return &conn{
		id:   id,
		ws:   ws,
		send: make(chan protocol.Envelope, buffer),
		done: make(chan struct{}),
	}
}

func (c *conn) ID() string { return c.id }

// Deliver never blocks; a full buffer or a closed connection drops env.
func (c *conn) Deliver(env protocol.Envelope) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- env:
		return true
	default:
		return false
	}
}

// Close asks the write loop to send a close frame and tear the socket down.
func (c *conn) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *conn) readLoop(ctx context.Context, disp *coordination.Dispatcher, sess coordination.Session) {
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, frame, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug(ctx, "Websocket read failed", "error", err)
			}
			return
		}
		env, err := protocol.Decode(frame)
		if err != nil {
			c.Deliver(protocol.ErrorEvent("", err.Error()))
			continue
		}
		disp.Dispatch(ctx, sess, env)
	}
}

func (c *conn) writeLoop(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()
	for {
		select {
		case env := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(env); err != nil {
				logger.Debug(ctx, "Websocket write failed", "error", err)
				c.Close()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		}
	}
}
