package matrix

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"
)

// Defaults for the HTTP command channel.
const (
	// DefaultHTTPPort is the device's HTTPS port.
	DefaultHTTPPort = 443

	// defaultRequestTimeout bounds every HTTP round trip.
	defaultRequestTimeout = 5 * time.Second

	// maxResponseBytes caps how much of a reply body is read.
	maxResponseBytes = 1 << 20
)

// ChannelConfig holds HTTP command channel settings.
type ChannelConfig struct {
	Host     string
	Port     int
	Username string
	Password string

	// Timeout bounds each request. Default: 5 seconds.
	Timeout time.Duration
}

// CommandChannel is the request/response transport used by the Controller.
// It allows the HTTPS device to be replaced in tests.
type CommandChannel interface {
	Login(ctx context.Context) error
	Send(ctx context.Context, req Request) (*Response, error)
	IsConnected() bool
	Close() error
}

// Ensure HTTPChannel implements CommandChannel.
var _ CommandChannel = (*HTTPChannel)(nil)

// ChannelStats holds HTTP channel counters.
type ChannelStats struct {
	Requests  uint64
	Failures  uint64
	Connected bool
}

// HTTPChannel posts JSON commands to the device's /cgi-bin/instr endpoint.
//
// Thread Safety:
//   - Requests are not serialised. Concurrent calls interleave freely and
//     their ordering on the device is not guaranteed.
//
// The channel never retries. A timeout, transport error or non-200 status
// marks it disconnected until the next successful Login.
type HTTPChannel struct {
	logHolder

	cfg      ChannelConfig
	endpoint string
	client   *http.Client

	connected atomic.Bool
	requests  atomic.Uint64
	failures  atomic.Uint64
}

// NewHTTPChannel creates a channel with its own cookie jar. No network I/O is
// performed until Login or Send.
//
// Parameters:
//   - cfg: Device address, credentials and request timeout
//
// Returns:
//   - *HTTPChannel: Channel ready for Login
//   - error: If the host is empty
func NewHTTPChannel(cfg ChannelConfig) (*HTTPChannel, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("%w: host is required", ErrInvalidValue)
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultHTTPPort
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultRequestTimeout
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("creating cookie jar: %w", err)
	}

	transport := &http.Transport{
		// The device ships a self-signed certificate.
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: true, //nolint:gosec // device certificate is self-signed
			MinVersion:         tls.VersionTLS12,
		},
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
	}

	endpoint := url.URL{
		Scheme: "https",
		Host:   net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Path:   instrPath,
	}

	return &HTTPChannel{
		cfg:      cfg,
		endpoint: endpoint.String(),
		// Each request is bounded by its context in post, so a timeout
		// surfaces as context.DeadlineExceeded.
		client: &http.Client{
			Jar:       jar,
			Transport: transport,
		},
	}, nil
}

// Login authenticates and stores the session cookie.
//
// The firmware acknowledges a login either with "result": 1 or by echoing
// "comhead": "login" with no result. An explicit result other than 1 is a
// rejection.
func (c *HTTPChannel) Login(ctx context.Context) error {
	req := Request{
		"comhead":  ComheadLogin,
		"user":     c.cfg.Username,
		"password": c.cfg.Password,
	}

	resp, err := c.post(ctx, req)
	if err != nil {
		return err
	}
	if !loginAccepted(resp) {
		c.connected.Store(false)
		return fmt.Errorf("%w: user %q", ErrAuthFailed, c.cfg.Username)
	}

	c.connected.Store(true)
	c.logDebug("http login accepted", "host", c.cfg.Host)
	return nil
}

func loginAccepted(resp *Response) bool {
	if resp.Result != nil {
		return *resp.Result == resultOK
	}
	return resp.Comhead == ComheadLogin
}

// Send posts one command and returns the decoded reply.
//
// A reply with a result other than 1 returns both the response and an error
// wrapping ErrCommandRejected so callers can log what the device said.
func (c *HTTPChannel) Send(ctx context.Context, req Request) (*Response, error) {
	resp, err := c.post(ctx, req)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return resp, fmt.Errorf("%w: %s returned result %d",
			ErrCommandRejected, req.Comhead(), *resp.Result)
	}
	return resp, nil
}

// post performs the round trip. The body is read as text and decoded as JSON
// regardless of the Content-Type the device sends.
func (c *HTTPChannel) post(ctx context.Context, req Request) (*Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%w: encoding %s: %w", ErrInvalidValue, req.Comhead(), err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: building request: %w", ErrConnectionFailed, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	c.requests.Add(1)
	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		c.markFailed()
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectionFailed, req.Comhead(), err)
	}
	defer httpResp.Body.Close()

	text, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		c.markFailed()
		return nil, fmt.Errorf("%w: reading %s reply: %w", ErrConnectionFailed, req.Comhead(), err)
	}

	if httpResp.StatusCode != http.StatusOK {
		c.markFailed()
		return nil, fmt.Errorf("%w: %s: HTTP %d", ErrConnectionFailed, req.Comhead(), httpResp.StatusCode)
	}

	return decodeResponse(bytes.TrimSpace(text))
}

func (c *HTTPChannel) markFailed() {
	c.failures.Add(1)
	if c.connected.Swap(false) {
		c.logWarn("http channel marked disconnected", "host", c.cfg.Host)
	}
}

// IsConnected reports whether the last login succeeded and no request has
// failed since.
func (c *HTTPChannel) IsConnected() bool {
	return c.connected.Load()
}

// Close drops the session. Idle connections are closed; in-flight requests
// are left to finish or time out.
func (c *HTTPChannel) Close() error {
	c.connected.Store(false)
	c.client.CloseIdleConnections()
	return nil
}

// Stats returns current counters.
func (c *HTTPChannel) Stats() ChannelStats {
	return ChannelStats{
		Requests:  c.requests.Load(),
		Failures:  c.failures.Load(),
		Connected: c.IsConnected(),
	}
}
