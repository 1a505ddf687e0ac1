package http

import (
	"net/http"

	"github.com/dkeye/VoiceRelay/internal/adapters/signal"
	"github.com/dkeye/VoiceRelay/internal/app"
	"github.com/dkeye/VoiceRelay/internal/core"
	"github.com/dkeye/VoiceRelay/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const roomKey = "room"

type voiceHandlers struct {
	store    Store
	registry *app.Registry
	// limiter is shared with the WebSocket endpoint; nil means unlimited.
	limiter *signal.RateLimiter
}

type sdpBody struct {
	SDP string `json:"sdp"`
}

func roomParam() gin.HandlerFunc {
	return func(c *gin.Context) {
		room, err := domain.ParseRoomID(c.Param("room"))
		if err != nil {
			abortWith(c, err)
			return
		}
		c.Set(roomKey, room)
		c.Next()
	}
}

func roomOf(c *gin.Context) domain.RoomID {
	return c.MustGet(roomKey).(domain.RoomID)
}

func abortWith(c *gin.Context, err error) {
	code := domain.ErrorCode(err)
	if code == "" {
		code = "internal"
	}
	status := StatusOf(err)
	log.Warn().Err(err).
		Str("module", "adapters.http").
		Str("sid", c.GetString(clientTokenKey)).
		Str("path", c.FullPath()).
		Int("status", status).
		Msg("voice request failed")
	c.AbortWithStatusJSON(status, gin.H{"error": code})
}

func (h *voiceHandlers) done(c *gin.Context, err error) {
	if err != nil {
		abortWith(c, err)
		return
	}
	h.registry.Touch(core.SessionID(c.GetString(clientTokenKey)), roomOf(c))
	c.Status(http.StatusNoContent)
}

// rateLimit applies the per-client candidate budget.
func (h *voiceHandlers) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		sid := core.SessionID(c.GetString(clientTokenKey))
		if h.limiter != nil && !h.limiter.Allow(sid) {
			log.Warn().Str("module", "adapters.http").Str("sid", string(sid)).Msg("candidate rate limited")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate_limited"})
			return
		}
		c.Next()
	}
}

func (h *voiceHandlers) start(c *gin.Context) {
	h.done(c, h.store.StartVoiceSession(c.Request.Context(), roomOf(c)))
}

func (h *voiceHandlers) end(c *gin.Context) {
	h.done(c, h.store.EndVoiceSession(c.Request.Context(), roomOf(c)))
}

func (h *voiceHandlers) offer(c *gin.Context) {
	var body sdpBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "bad_payload"})
		return
	}
	h.done(c, h.store.SendSDPOffer(c.Request.Context(), roomOf(c), body.SDP))
}

func (h *voiceHandlers) answer(c *gin.Context) {
	var body sdpBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "bad_payload"})
		return
	}
	h.done(c, h.store.SendSDPAnswer(c.Request.Context(), roomOf(c), body.SDP))
}

func (h *voiceHandlers) candidate(c *gin.Context) {
	var cand domain.ICECandidate
	if err := c.ShouldBindJSON(&cand); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "bad_payload"})
		return
	}
	h.done(c, h.store.AddICECandidate(c.Request.Context(), roomOf(c), cand))
}

func (h *voiceHandlers) get(c *gin.Context) {
	snap, err := h.store.GetVoiceSessionState(c.Request.Context(), roomOf(c))
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *voiceHandlers) list(c *gin.Context) {
	infos, err := h.store.List(c.Request.Context())
	if err != nil {
		abortWith(c, err)
		return
	}
	perRoom := h.registry.RoomClients()
	for i := range infos {
		infos[i].Clients = perRoom[infos[i].Room]
	}
	c.JSON(http.StatusOK, gin.H{
		"sessions": infos,
		"clients":  h.registry.Count(),
	})
}
