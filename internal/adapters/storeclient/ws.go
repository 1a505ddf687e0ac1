package storeclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/dkeye/VoiceRelay/internal/core"
	"github.com/dkeye/VoiceRelay/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrClosed = errors.New("signal connection closed")

type wsRequest struct {
	ID        uint64               `json:"id"`
	Type      string               `json:"type"`
	Room      string               `json:"room,omitempty"`
	SDP       string               `json:"sdp,omitempty"`
	Candidate *domain.ICECandidate `json:"candidate,omitempty"`
}

type wsResult struct {
	ID      uint64               `json:"id"`
	Type    string               `json:"type"`
	Error   string               `json:"error,omitempty"`
	Session *domain.VoiceSession `json:"session,omitempty"`
}

// WSClient multiplexes store calls over one signaling WebSocket, matching
// results to requests by id.
type WSClient struct {
	conn   *websocket.Conn
	logger zerolog.Logger
	nextID atomic.Uint64

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[uint64]chan wsResult
	closed  chan struct{}
	err     error
}

var _ core.SignalingStore = (*WSClient)(nil)

// DialWS connects to wsURL, e.g. ws://host:8080/api/ws/signal.
func DialWS(ctx context.Context, wsURL string, header http.Header) (*WSClient, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	c := &WSClient{
		conn:    conn,
		logger:  log.With().Str("module", "storeclient.ws").Logger(),
		pending: make(map[uint64]chan wsResult),
		closed:  make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *WSClient) readLoop() {
	var err error
	defer func() { c.shutdown(err) }()
	for {
		var res wsResult
		if err = c.conn.ReadJSON(&res); err != nil {
			return
		}
		c.mu.Lock()
		ch, ok := c.pending[res.ID]
		delete(c.pending, res.ID)
		c.mu.Unlock()
		if !ok {
			c.logger.Warn().Uint64("id", res.ID).Str("error", res.Error).Msg("unmatched result")
			continue
		}
		ch <- res
	}
}

func (c *WSClient) shutdown(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.closed:
		return
	default:
	}
	if err == nil {
		err = ErrClosed
	}
	c.err = err
	close(c.closed)
	_ = c.conn.Close()
	c.logger.Debug().Err(err).Msg("signal connection down")
}

// Close tears the connection down; calls in flight fail with ErrClosed.
func (c *WSClient) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	c.shutdown(ErrClosed)
	return nil
}

func (c *WSClient) call(ctx context.Context, req wsRequest) (wsResult, error) {
	if err := ctx.Err(); err != nil {
		return wsResult{}, err
	}
	req.ID = c.nextID.Add(1)
	ch := make(chan wsResult, 1)

	c.mu.Lock()
	select {
	case <-c.closed:
		c.mu.Unlock()
		return wsResult{}, fmt.Errorf("%s: %w", req.Type, ErrClosed)
	default:
	}
	c.pending[req.ID] = ch
	c.mu.Unlock()

	drop := func() {
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
	}

	// A zero deadline clears whatever an earlier bounded call left behind.
	deadline, _ := ctx.Deadline()
	c.writeMu.Lock()
	_ = c.conn.SetWriteDeadline(deadline)
	err := c.conn.WriteJSON(req)
	c.writeMu.Unlock()
	if err != nil {
		drop()
		// gorilla leaves the connection unusable after a failed write.
		c.shutdown(err)
		return wsResult{}, fmt.Errorf("%s: %v: %w", req.Type, err, ErrClosed)
	}

	select {
	case res := <-ch:
		if res.Error != "" {
			return res, remoteError(req.Type, res.Error)
		}
		return res, nil
	case <-ctx.Done():
		drop()
		return wsResult{}, ctx.Err()
	case <-c.closed:
		drop()
		return wsResult{}, fmt.Errorf("%s: %w", req.Type, ErrClosed)
	}
}

func (c *WSClient) StartVoiceSession(ctx context.Context, room domain.RoomID) error {
	_, err := c.call(ctx, wsRequest{Type: "start", Room: string(room)})
	return err
}

func (c *WSClient) EndVoiceSession(ctx context.Context, room domain.RoomID) error {
	_, err := c.call(ctx, wsRequest{Type: "end", Room: string(room)})
	return err
}

func (c *WSClient) SendSDPOffer(ctx context.Context, room domain.RoomID, offer string) error {
	_, err := c.call(ctx, wsRequest{Type: "offer", Room: string(room), SDP: offer})
	return err
}

func (c *WSClient) SendSDPAnswer(ctx context.Context, room domain.RoomID, answer string) error {
	_, err := c.call(ctx, wsRequest{Type: "answer", Room: string(room), SDP: answer})
	return err
}

func (c *WSClient) AddICECandidate(ctx context.Context, room domain.RoomID, cand domain.ICECandidate) error {
	_, err := c.call(ctx, wsRequest{Type: "candidate", Room: string(room), Candidate: &cand})
	return err
}

func (c *WSClient) GetVoiceSessionState(ctx context.Context, room domain.RoomID) (*domain.VoiceSession, error) {
	res, err := c.call(ctx, wsRequest{Type: "get", Room: string(room)})
	if err != nil {
		return nil, err
	}
	return res.Session, nil
}

// Ping round-trips a ping request.
func (c *WSClient) Ping(ctx context.Context) error {
	_, err := c.call(ctx, wsRequest{Type: "ping"})
	return err
}
