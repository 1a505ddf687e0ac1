package signal

import (
	"context"
	"encoding/json"

	"github.com/dkeye/VoiceRelay/internal/core"
	"github.com/dkeye/VoiceRelay/internal/domain"
	"github.com/rs/zerolog/log"
)

const (
	codeBadPayload  = "bad_payload"
	codeUnknownType = "unknown_type"
	codeRateLimited = "rate_limited"
	codeInternal    = "internal"
)

// result is the single response to a request.
type result struct {
	ID      uint64               `json:"id"`
	Type    string               `json:"type"`
	Error   string               `json:"error,omitempty"`
	Session *domain.VoiceSession `json:"session,omitempty"`
}

func failure(id uint64, code string) result {
	return result{ID: id, Type: "result", Error: code}
}

func errorCode(err error) string {
	if code := domain.ErrorCode(err); code != "" {
		return code
	}
	return codeInternal
}

func (ctl *SignalWSController) handleVoice(ctx context.Context, sid core.SessionID, conn *WsSignalConn, req request) {
	room, err := domain.ParseRoomID(req.Room)
	if err != nil {
		ctl.sendJSON(conn, failure(req.ID, errorCode(err)))
		return
	}
	ctl.registry.Touch(sid, room)
	logger := log.With().Str("module", "signal").Str("sid", string(sid)).Str("room", string(room)).Str("type", req.Type).Logger()

	opCtx, cancel := context.WithTimeout(ctx, ctl.opts.OpTimeout)
	defer cancel()

	res := result{ID: req.ID, Type: "result"}
	switch req.Type {
	case "start":
		err = ctl.store.StartVoiceSession(opCtx, room)
	case "end":
		err = ctl.store.EndVoiceSession(opCtx, room)
	case "offer":
		err = ctl.store.SendSDPOffer(opCtx, room, req.SDP)
	case "answer":
		err = ctl.store.SendSDPAnswer(opCtx, room, req.SDP)
	case "candidate":
		if ctl.limiter != nil && !ctl.limiter.Allow(sid) {
			logger.Warn().Msg("candidate rate limited")
			ctl.sendJSON(conn, failure(req.ID, codeRateLimited))
			return
		}
		var cand domain.ICECandidate
		if len(req.Candidate) == 0 || json.Unmarshal(req.Candidate, &cand) != nil {
			ctl.sendJSON(conn, failure(req.ID, codeBadPayload))
			return
		}
		err = ctl.store.AddICECandidate(opCtx, room, cand)
	case "get":
		res.Session, err = ctl.store.GetVoiceSessionState(opCtx, room)
	}

	if err != nil {
		logger.Warn().Err(err).Msg("voice request failed")
		res.Error = errorCode(err)
		res.Session = nil
	} else {
		logger.Debug().Msg("voice request")
	}
	ctl.sendJSON(conn, res)
}
