// Package signal serves the signaling store over a WebSocket as a
// request/response protocol: every frame a client sends is answered by
// exactly one result frame carrying the same id.
package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/VoiceRelay/internal/app"
	"github.com/dkeye/VoiceRelay/internal/core"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

type Options struct {
	ReadLimit  int64
	PingPeriod time.Duration
	// CandidateRate candidate appends are allowed per client within
	// CandidateWindow. Zero disables the limit.
	CandidateRate   int
	CandidateWindow time.Duration
	// Limiter replaces the limiter built from CandidateRate, so that other
	// transports can draw on the same per-client budget.
	Limiter *RateLimiter
	// OpTimeout bounds each store call.
	OpTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.ReadLimit <= 0 {
		o.ReadLimit = 32768
	}
	if o.PingPeriod <= 0 {
		o.PingPeriod = 54 * time.Second
	}
	if o.CandidateWindow <= 0 {
		o.CandidateWindow = 10 * time.Second
	}
	if o.OpTimeout <= 0 {
		o.OpTimeout = 5 * time.Second
	}
	return o
}

type SignalWSController struct {
	store    core.SignalingStore
	registry *app.Registry
	limiter  *RateLimiter
	opts     Options
}

func NewSignalWSController(store core.SignalingStore, registry *app.Registry, opts Options) *SignalWSController {
	opts = opts.withDefaults()
	ctl := &SignalWSController{
		store:    store,
		registry: registry,
		opts:     opts,
	}
	ctl.limiter = opts.Limiter
	if ctl.limiter == nil {
		ctl.limiter = NewCandidateLimiter(opts.CandidateRate, opts.CandidateWindow)
	}
	return ctl
}

type WsSignalConn struct {
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(b []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- b:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	sid := core.SessionID(c.GetString("client_token"))
	log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	conn := &WsSignalConn{
		conn: ws,
		send: make(chan []byte, 32),
	}

	ctx, cancel := context.WithCancel(ctx)
	gen := ctl.registry.BindSignal(sid, cancel)

	go ctl.writePump(ctx, sid, conn)
	go func() {
		ctl.readPump(ctx, sid, conn)
		cancel()
		ctl.registry.Unbind(sid, gen)
	}()
}
