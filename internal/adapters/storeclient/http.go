// Package storeclient implements the signaling store contract against a
// remote server, over HTTP or over the WebSocket RPC endpoint.
package storeclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/dkeye/VoiceRelay/internal/core"
	"github.com/dkeye/VoiceRelay/internal/domain"
)

var ErrUnexpectedStatus = errors.New("unexpected status")

// remoteError turns a wire error code into the matching sentinel.
func remoteError(op, code string) error {
	if sentinel, ok := domain.ErrorFromCode(code); ok {
		return fmt.Errorf("%s: %w", op, sentinel)
	}
	return fmt.Errorf("%s: remote error %q", op, code)
}

// HTTPClient talks to the REST voice surface.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

var _ core.SignalingStore = (*HTTPClient)(nil)

// NewHTTPClient keeps cookies between requests so the server sees one client.
func NewHTTPClient(baseURL string) (*HTTPClient, error) {
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second, Jar: jar},
	}, nil
}

func (c *HTTPClient) voicePath(room domain.RoomID, suffix string) string {
	return c.baseURL + "/api/rooms/" + url.PathEscape(string(room)) + "/voice" + suffix
}

func (c *HTTPClient) do(ctx context.Context, method, target string, body, out any) error {
	op := method + " " + target
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode: %w", op, err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&e) == nil && e.Error != "" {
			return remoteError(op, e.Error)
		}
		return fmt.Errorf("%s: %w %d", op, ErrUnexpectedStatus, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode: %w", op, err)
	}
	return nil
}

func (c *HTTPClient) StartVoiceSession(ctx context.Context, room domain.RoomID) error {
	return c.do(ctx, http.MethodPost, c.voicePath(room, "/start"), nil, nil)
}

func (c *HTTPClient) EndVoiceSession(ctx context.Context, room domain.RoomID) error {
	return c.do(ctx, http.MethodDelete, c.voicePath(room, ""), nil, nil)
}

func (c *HTTPClient) SendSDPOffer(ctx context.Context, room domain.RoomID, offer string) error {
	return c.do(ctx, http.MethodPut, c.voicePath(room, "/offer"), map[string]string{"sdp": offer}, nil)
}

func (c *HTTPClient) SendSDPAnswer(ctx context.Context, room domain.RoomID, answer string) error {
	return c.do(ctx, http.MethodPut, c.voicePath(room, "/answer"), map[string]string{"sdp": answer}, nil)
}

func (c *HTTPClient) AddICECandidate(ctx context.Context, room domain.RoomID, cand domain.ICECandidate) error {
	return c.do(ctx, http.MethodPost, c.voicePath(room, "/candidates"), cand, nil)
}

// GetVoiceSessionState returns nil when the room has no session.
func (c *HTTPClient) GetVoiceSessionState(ctx context.Context, room domain.RoomID) (*domain.VoiceSession, error) {
	var snap *domain.VoiceSession
	if err := c.do(ctx, http.MethodGet, c.voicePath(room, ""), nil, &snap); err != nil {
		return nil, err
	}
	return snap, nil
}
