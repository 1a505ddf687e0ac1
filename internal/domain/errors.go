package domain

import "errors"

// Signaling store contract errors.
var (
	ErrNoSession        = errors.New("no voice session")
	ErrNoOffer          = errors.New("answer without offer")
	ErrOfferExists      = errors.New("offer already set")
	ErrAnswerExists     = errors.New("answer already set")
	ErrEmptySDP         = errors.New("empty session description")
	ErrInvalidCandidate = errors.New("invalid ice candidate")
	ErrCandidateLimit   = errors.New("ice candidate limit reached")
	ErrStoreClosed      = errors.New("signaling store closed")
)

var errorCodes = map[error]string{
	ErrNoSession:        "no_session",
	ErrNoOffer:          "no_offer",
	ErrOfferExists:      "offer_exists",
	ErrAnswerExists:     "answer_exists",
	ErrEmptySDP:         "empty_sdp",
	ErrInvalidCandidate: "invalid_candidate",
	ErrCandidateLimit:   "candidate_limit",
	ErrStoreClosed:      "store_closed",
	ErrRoomIDEmpty:      "room_empty",
	ErrRoomIDTooLong:    "room_too_long",
	ErrRoomIDInvalid:    "room_invalid",
}

// ErrorCode returns the wire code of a known error, or "" otherwise.
func ErrorCode(err error) string {
	for target, code := range errorCodes {
		if errors.Is(err, target) {
			return code
		}
	}
	return ""
}

// ErrorFromCode is the inverse of ErrorCode.
func ErrorFromCode(code string) (error, bool) {
	for target, c := range errorCodes {
		if c == code {
			return target, true
		}
	}
	return nil, false
}
