// Package peerclient implements the typed HTTP client chainsyncd uses to
// talk to peer explorer/sync endpoints (spec.md §4.A, §6). It performs no
// retries — callers decide whether and how to retry a failed call.
package peerclient

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"chainsyncd/internal/syncerrors"
)

// Response is the normalized outcome of a peer HTTP call.
type Response struct {
	OK        bool
	Status    int
	JSON      json.RawMessage
	Raw       []byte
	LatencyMS int64
}

// Client is a thin, timeout-aware, non-retrying HTTP client for peer calls.
// Connection reuse is delegated to http.Transport's idle-connection pool
// (grounded on the teacher's core/connection_pool.go idle-reaper idea,
// applied here at the http.Transport level since net/http already pools
// raw connections for us).
type Client struct {
	hc              *http.Client
	userAgent       string
	syncToken       string
	broadcastSecret string
	logger          *logrus.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithSyncToken sets the shared X-Sync-Token header value.
func WithSyncToken(token string) Option {
	return func(c *Client) { c.syncToken = token }
}

// WithBroadcastSecret enables HMAC signing of POST bodies via
// X-Broadcast-Signature.
func WithBroadcastSecret(secret string) Option {
	return func(c *Client) { c.broadcastSecret = secret }
}

// WithLogger attaches a logger; nil falls back to logrus.StandardLogger(),
// matching the teacher's NewSyncManager nil-logger convention.
func WithLogger(lg *logrus.Logger) Option {
	return func(c *Client) {
		if lg != nil {
			c.logger = lg
		}
	}
}

// New builds a Client with a shared transport tuned for many small peer
// calls (bounded idle connections per host, modest keep-alive).
func New(opts ...Option) *Client {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 8,
		IdleConnTimeout:     30 * time.Second,
	}
	c := &Client{
		hc:        &http.Client{Transport: transport},
		userAgent: "chainsyncd/1.0",
		logger:    logrus.StandardLogger(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) baseHeaders(req *http.Request) {
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Node-Sync", "1")
	if c.syncToken != "" {
		req.Header.Set("X-Sync-Token", c.syncToken)
	}
}

// Get performs a GET request against url with the given timeout.
func (c *Client) Get(ctx context.Context, url string, timeout time.Duration) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, syncerrors.New(syncerrors.KindTransport, "build request", err)
	}
	c.baseHeaders(req)
	return c.do(req)
}

// Post performs a POST request with a JSON body against url, signing the
// body with HMAC-SHA256 when a broadcast secret is configured.
func (c *Client) Post(ctx context.Context, url string, body any, timeout time.Duration) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, syncerrors.New(syncerrors.KindDecode, "encode request body", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, syncerrors.New(syncerrors.KindTransport, "build request", err)
	}
	c.baseHeaders(req)
	req.Header.Set("Content-Type", "application/json")
	if c.broadcastSecret != "" {
		req.Header.Set("X-Broadcast-Signature", "sha256="+c.sign(payload))
	}
	return c.do(req)
}

// sign returns the hex-encoded HMAC-SHA256 of data under the client's
// broadcast secret (spec.md §4.A, §6).
func (c *Client) sign(data []byte) string {
	mac := hmac.New(sha256.New, []byte(c.broadcastSecret))
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *Client) do(req *http.Request) (*Response, error) {
	start := time.Now()
	resp, err := c.hc.Do(req)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		if errors.Is(req.Context().Err(), context.DeadlineExceeded) {
			return nil, syncerrors.New(syncerrors.KindTimeout, req.URL.String(), err)
		}
		return nil, syncerrors.New(syncerrors.KindTransport, req.URL.String(), err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, syncerrors.New(syncerrors.KindTransport, "read body", err)
	}

	r := &Response{
		OK:        resp.StatusCode >= 200 && resp.StatusCode < 300,
		Status:    resp.StatusCode,
		Raw:       raw,
		LatencyMS: latency,
	}
	if !r.OK {
		c.logger.WithFields(logrus.Fields{"url": req.URL.String(), "status": resp.StatusCode}).
			Debug("peer call returned non-2xx status")
		return r, syncerrors.New(syncerrors.KindHTTPStatus, req.URL.String(), nil)
	}
	if len(raw) > 0 && json.Valid(raw) {
		r.JSON = json.RawMessage(raw)
	}
	return r, nil
}
