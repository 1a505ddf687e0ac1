package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/dkeye/VoiceRelay/internal/adapters/signal"
	"github.com/dkeye/VoiceRelay/internal/app"
	"github.com/dkeye/VoiceRelay/internal/config"
	"github.com/dkeye/VoiceRelay/internal/core"
	"github.com/dkeye/VoiceRelay/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	clientTokenCookie = "ct"
	clientTokenKey    = "client_token"
)

func genClientToken() string {
	return uuid.NewString()
}

// ClientTokenMiddleware identifies the client by a token kept in the signed
// session and mirrored in the ct cookie.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := sessions.Default(c)
		token, _ := sess.Get(clientTokenKey).(string)
		if token == "" {
			token, _ = c.Cookie(clientTokenCookie)
		}
		if _, err := uuid.Parse(token); err != nil {
			token = genClientToken()
		}
		if sess.Get(clientTokenKey) != token {
			sess.Set(clientTokenKey, token)
			if err := sess.Save(); err != nil {
				log.Warn().Err(err).Str("module", "adapters.http").Msg("save session")
			}
		}
		c.SetCookie(clientTokenCookie, token, 3600*24*7, "/", "", false, true)
		c.Set(clientTokenKey, token)
		c.Next()
	}
}

// Store is the signaling store plus its operator listing.
type Store interface {
	core.SignalingStore
	List(ctx context.Context) ([]app.SessionInfo, error)
}

func SetupRouter(ctx context.Context, cfg *config.Config, store Store, reg *app.Registry) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	cookieStore := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("VoiceSessions", cookieStore))
	r.Use(ClientTokenMiddleware())

	limiter := signal.NewCandidateLimiter(cfg.WS.CandidateRate, cfg.WS.CandidateWindow)
	h := &voiceHandlers{store: store, registry: reg, limiter: limiter}
	ws := signal.NewSignalWSController(store, reg, signal.Options{
		ReadLimit:  cfg.ReadLimit,
		PingPeriod: cfg.PingPeriod,
		Limiter:    limiter,
	})

	api := r.Group("/api")

	api.GET("/ws/signal", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("sid", c.GetString(clientTokenKey)).Msg("ws signal endpoint hit")
		ws.HandleSignal(ctx, c)
	})
	api.GET("/voice/sessions", h.list)

	voice := api.Group("/rooms/:room/voice", roomParam())
	voice.POST("/start", h.start)
	voice.DELETE("", h.end)
	voice.PUT("/offer", h.offer)
	voice.PUT("/answer", h.answer)
	voice.POST("/candidates", h.rateLimit(), h.candidate)
	voice.GET("", h.get)

	log.Info().Str("module", "adapters.http").Msg("router setup")
	return r
}

// StatusOf maps a store error to its HTTP status.
func StatusOf(err error) int {
	switch {
	case errors.Is(err, domain.ErrNoSession):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrNoOffer),
		errors.Is(err, domain.ErrOfferExists),
		errors.Is(err, domain.ErrAnswerExists):
		return http.StatusConflict
	case errors.Is(err, domain.ErrEmptySDP),
		errors.Is(err, domain.ErrInvalidCandidate),
		errors.Is(err, domain.ErrRoomIDEmpty),
		errors.Is(err, domain.ErrRoomIDTooLong),
		errors.Is(err, domain.ErrRoomIDInvalid):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrCandidateLimit):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrStoreClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
