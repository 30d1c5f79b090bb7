// Package adspower talks to the AdsPower Local API
// (https://localapi-doc-en.adspower.com) to start and stop browser profiles
// and drive them over DevTools.
package adspower

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"outreach/internal/domain"
	"outreach/internal/observability"
)

type Client struct {
	Endpoint string
	APIKey   string
	HTTP     *http.Client

	// Local API throttling: AdsPower rejects bursts, so calls go through a
	// limiter, and the breaker fails fast when the local agent is down.
	Limiter *rate.Limiter
	Breaker *gobreaker.CircuitBreaker

	// NgrokURL rewrites DevTools websocket endpoints for remote access to
	// an AdsPower agent running on another host.
	NgrokURL string
}

func NewClient(endpoint, apiKey string, rps float64, burst int) *Client {
	return &Client{
		Endpoint: strings.TrimRight(endpoint, "/"),
		APIKey:   apiKey,
		HTTP:     &http.Client{Timeout: 10 * time.Second},
		Limiter:  rate.NewLimiter(rate.Limit(rps), burst),
		Breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "adspower",
			MaxRequests: 2,
			Timeout:     15 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= 5 },
		}),
	}
}

// envelope is the Local API response wrapper. Older agent builds use
// ret_code instead of code; zero means success in both.
type envelope struct {
	Code    *int            `json:"code"`
	RetCode *int            `json:"ret_code"`
	Msg     string          `json:"msg"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (e envelope) ok() bool {
	if e.Code != nil {
		return *e.Code == 0
	}
	if e.RetCode != nil {
		return *e.RetCode == 0
	}
	return false
}

func (e envelope) errMsg() string {
	if e.Msg != "" {
		return e.Msg
	}
	if e.Message != "" {
		return e.Message
	}
	return "adspower api request failed"
}

func (c *Client) do(ctx context.Context, op, path string, query url.Values) (json.RawMessage, error) {
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	call := func() (any, error) {
		u := c.Endpoint + path
		if len(query) > 0 {
			u += "?" + query.Encode()
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		if c.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.APIKey)
		}

		resp, err := c.HTTP.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}

		var env envelope
		if err := json.Unmarshal(b, &env); err != nil {
			return nil, errors.New("failed to parse adspower response")
		}
		if !env.ok() {
			return nil, errors.New(env.errMsg())
		}
		if len(env.Data) == 0 {
			return json.RawMessage(b), nil
		}
		return env.Data, nil
	}

	var (
		out any
		err error
	)
	if c.Breaker != nil {
		out, err = c.Breaker.Execute(call)
	} else {
		out, err = call()
	}
	if err != nil {
		observability.AdsPowerCalls.WithLabelValues(op, "error").Inc()
		return nil, err
	}
	observability.AdsPowerCalls.WithLabelValues(op, "ok").Inc()
	return out.(json.RawMessage), nil
}

// TestConnection verifies the local agent is reachable and the key valid.
func (c *Client) TestConnection(ctx context.Context) error {
	_, err := c.do(ctx, "status", "/api/v1/user/status", nil)
	return err
}

func (c *Client) ListProfiles(ctx context.Context) ([]domain.Profile, error) {
	raw, err := c.do(ctx, "list", "/api/v1/user/list", nil)
	if err != nil {
		return nil, err
	}

	var data struct {
		List []struct {
			UserID string `json:"user_id"`
			Name   string `json:"name"`
		} `json:"list"`
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, err
	}

	out := make([]domain.Profile, 0, len(data.List))
	for _, p := range data.List {
		out = append(out, domain.Profile{ID: p.UserID, Name: p.Name})
	}
	return out, nil
}

// StartProfile launches the profile's browser and returns the DevTools
// websocket endpoint to attach to.
func (c *Client) StartProfile(ctx context.Context, profileID string) (string, error) {
	q := url.Values{"user_id": {profileID}}
	raw, err := c.do(ctx, "start", "/api/v1/browser/start", q)
	if err != nil {
		return "", err
	}

	var data struct {
		WS struct {
			Puppeteer string `json:"puppeteer"`
		} `json:"ws"`
		WSEndpoint string `json:"ws_endpoint"`
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return "", err
	}

	ws := data.WS.Puppeteer
	if ws == "" {
		ws = data.WSEndpoint
	}
	if ws == "" {
		return "", errors.New("browser started but no websocket endpoint returned")
	}
	return c.rewriteWS(ws)
}

func (c *Client) StopProfile(ctx context.Context, profileID string) error {
	q := url.Values{"user_id": {profileID}}
	_, err := c.do(ctx, "stop", "/api/v1/browser/stop", q)
	return err
}

// ProfileStatus reports whether the profile's browser is running.
func (c *Client) ProfileStatus(ctx context.Context, profileID string) (string, error) {
	q := url.Values{"user_id": {profileID}}
	raw, err := c.do(ctx, "browser_status", "/api/v1/browser/status", q)
	if err != nil {
		return "", err
	}
	var data struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return "", err
	}
	if data.Status == "" {
		return "unknown", nil
	}
	return data.Status, nil
}

// rewriteWS swaps the local host for the ngrok tunnel when one is set.
func (c *Client) rewriteWS(ws string) (string, error) {
	if c.NgrokURL == "" {
		return ws, nil
	}
	parsed, err := url.Parse(ws)
	if err != nil {
		return "", err
	}
	base := strings.Replace(c.NgrokURL, "https://", "wss://", 1)
	base = strings.Replace(base, "http://", "ws://", 1)
	return strings.TrimRight(base, "/") + parsed.Path, nil
}
