package matrix

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// TelnetTransport is the persistent text session used by the Controller.
// It allows the Telnet device to be replaced in tests.
type TelnetTransport interface {
	Connect(ctx context.Context) error
	Disconnect() error
	IsConnected() bool
	State() ConnectionState
	SendRaw(ctx context.Context, cmd string) (string, error)
	GetFullStatus(ctx context.Context) (*MatrixStatus, error)
	GetCableStatus(ctx context.Context, port int, isOutput bool) (CableState, error)
	SendCEC(ctx context.Context, cmd CECCommand, port int, isOutput bool) error
	SetOnPush(callback func(string))
	SetOnStateChange(callback func(ConnectionState))
	Firmware() string
	Stats() SessionStats
}

// Ensure TelnetSession implements TelnetTransport.
var _ TelnetTransport = (*TelnetSession)(nil)

// ChannelFactory creates a fresh command channel for each Connect.
type ChannelFactory func(cfg ChannelConfig) (CommandChannel, error)

// SessionFactory creates a fresh Telnet session for each Connect.
type SessionFactory func(cfg SessionConfig) TelnetTransport

// Config holds the settings for one matrix endpoint.
type Config struct {
	// ID identifies the matrix in events, topics and the audit journal.
	ID string

	Host       string
	HTTPPort   int
	TelnetPort int
	Username   string
	Password   string

	// UseTelnet enables the secondary Telnet session.
	UseTelnet bool

	// PreferTelnet sends CEC over Telnet when the session is up.
	PreferTelnet bool

	// RequestTimeout bounds HTTP requests. Default: 5 seconds.
	RequestTimeout time.Duration

	// CommandTimeout bounds Telnet commands. Default: 5 seconds.
	CommandTimeout time.Duration

	// CECCacheTTL is how long CEC enable bits are trusted. Default: 300 seconds.
	CECCacheTTL time.Duration

	// Retry controls ConnectWithRetry.
	Retry RetryPolicy

	// TelnetReconnectDelay and TelnetMaxReconnects bound the session's own
	// reconnect loop.
	TelnetReconnectDelay time.Duration
	TelnetMaxReconnects  int
}

// ControllerOptions holds configuration for creating a controller.
type ControllerOptions struct {
	// Config is the endpoint configuration.
	Config Config

	// Logger is optional structured logger.
	Logger Logger

	// NewChannel overrides the HTTP channel constructor.
	NewChannel ChannelFactory

	// NewSession overrides the Telnet session constructor.
	NewSession SessionFactory

	// QueueSize is the per-subscriber event buffer. Default: 64.
	QueueSize int
}

// ControllerStatus is a point-in-time view of the controller's transports.
type ControllerStatus struct {
	ID             string          `json:"id"`
	Host           string          `json:"host"`
	HTTPConnected  bool            `json:"http_connected"`
	TelnetEnabled  bool            `json:"telnet_enabled"`
	TelnetState    ConnectionState `json:"-"`
	Telnet         SessionStats    `json:"telnet"`
	Firmware       string          `json:"firmware,omitempty"`
	CECCacheFresh  bool            `json:"cec_cache_fresh"`
	EventsEmitted  uint64          `json:"events_emitted"`
	EventsDropped  uint64          `json:"events_dropped"`
	RetryAttempt   int             `json:"retry_attempt"`
	ConnectedSince *time.Time      `json:"connected_since,omitempty"`
}

// Controller is the single operation surface for one HDMI matrix.
//
// It owns the HTTP command channel and the optional Telnet session, both
// re-created on every Connect. Routing, presets and settings use HTTP; CEC
// prefers Telnet when configured; cable detection and the text status dump
// need Telnet.
//
// Thread Safety: All methods are safe for concurrent use. Commands from
// different goroutines are not ordered against each other.
type Controller struct {
	logHolder

	cfg        Config
	newChannel ChannelFactory
	newSession SessionFactory
	notifier   *Notifier
	cache      *CECCache

	mu             sync.RWMutex
	channel        CommandChannel
	session        TelnetTransport
	connectedSince time.Time

	retryAttempt atomic.Int32

	// sleep and jitter are replaced in tests.
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() float64
}

// NewController creates a disconnected controller. Call Connect or
// ConnectWithRetry to reach the device.
func NewController(opts ControllerOptions) (*Controller, error) {
	cfg := opts.Config
	if cfg.Host == "" {
		return nil, fmt.Errorf("%w: host is required", ErrInvalidValue)
	}
	if cfg.ID == "" {
		cfg.ID = cfg.Host
	}
	cfg.Retry = cfg.Retry.withDefaults()

	c := &Controller{
		cfg:        cfg,
		newChannel: opts.NewChannel,
		newSession: opts.NewSession,
		notifier:   NewNotifier(opts.QueueSize),
		cache:      NewCECCache(cfg.CECCacheTTL),
		sleep:      sleepCtx,
		jitter:     jitterSource,
	}
	if c.newChannel == nil {
		c.newChannel = func(cc ChannelConfig) (CommandChannel, error) {
			return NewHTTPChannel(cc)
		}
	}
	if c.newSession == nil {
		c.newSession = func(sc SessionConfig) TelnetTransport {
			return NewTelnetSession(sc)
		}
	}
	if opts.Logger != nil {
		c.SetLogger(opts.Logger)
	}
	return c, nil
}

// SetLogger sets the logger for the controller and its notifier.
func (c *Controller) SetLogger(logger Logger) {
	c.logHolder.SetLogger(logger)
	c.notifier.SetLogger(logger)
}

// ID returns the matrix identifier.
func (c *Controller) ID() string {
	return c.cfg.ID
}

// Subscribe registers an event handler. See Notifier.
func (c *Controller) Subscribe(h Handler) (unsubscribe func()) {
	return c.notifier.Subscribe(h)
}

// Connect logs in over HTTP and, when enabled, opens the Telnet session.
//
// HTTP login failure fails the call. A Telnet failure is logged and the
// controller stays usable over HTTP alone.
//
// Parameters:
//   - ctx: Context for cancellation
//
// Returns:
//   - error: Wrapping ErrConnectionFailed (and ErrAuthFailed on rejected login)
func (c *Controller) Connect(ctx context.Context) error {
	ch, err := c.newChannel(ChannelConfig{
		Host:     c.cfg.Host,
		Port:     c.cfg.HTTPPort,
		Username: c.cfg.Username,
		Password: c.cfg.Password,
		Timeout:  c.cfg.RequestTimeout,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	if l := c.get(); l != nil {
		if ls, ok := ch.(interface{ SetLogger(Logger) }); ok {
			ls.SetLogger(l)
		}
	}

	if err := ch.Login(ctx); err != nil {
		ch.Close()
		c.emitError("connect", err)
		if errors.Is(err, ErrConnectionFailed) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	c.mu.Lock()
	old := c.channel
	c.channel = ch
	c.connectedSince = time.Now().UTC()
	c.mu.Unlock()
	if old != nil {
		old.Close()
	}

	c.cache.Invalidate()
	c.logInfo("matrix connected", "id", c.cfg.ID, "host", c.cfg.Host)
	c.emit(EventConnected, map[string]any{"transport": "http", "host": c.cfg.Host})

	if c.cfg.UseTelnet {
		c.connectTelnet(ctx)
	}
	return nil
}

// connectTelnet replaces the Telnet session. Failure is not returned.
func (c *Controller) connectTelnet(ctx context.Context) {
	c.mu.Lock()
	old := c.session
	c.session = nil
	c.mu.Unlock()
	if old != nil {
		old.SetOnStateChange(nil)
		old.Disconnect()
	}

	sess := c.newSession(SessionConfig{
		Host:                 c.cfg.Host,
		Port:                 c.cfg.TelnetPort,
		CommandTimeout:       c.cfg.CommandTimeout,
		ReconnectDelay:       c.cfg.TelnetReconnectDelay,
		MaxReconnectAttempts: c.cfg.TelnetMaxReconnects,
	})
	if l := c.get(); l != nil {
		if ls, ok := sess.(interface{ SetLogger(Logger) }); ok {
			ls.SetLogger(l)
		}
	}
	sess.SetOnPush(c.handlePush)

	if err := sess.Connect(ctx); err != nil {
		c.logWarn("telnet unavailable, continuing over http", "id", c.cfg.ID, "error", err)
		sess.Disconnect()
		return
	}
	sess.SetOnStateChange(c.handleTelnetState)

	c.mu.Lock()
	c.session = sess
	c.mu.Unlock()

	c.emit(EventConnected, map[string]any{"transport": "telnet", "firmware": sess.Firmware()})
}

func (c *Controller) handleTelnetState(state ConnectionState) {
	data := map[string]any{"transport": "telnet", "state": state.String()}
	switch state {
	case StateConnected:
		c.emit(EventConnected, data)
	case StateDisconnected:
		c.emit(EventDisconnected, data)
	case StateReconnecting:
		c.emit(EventReconnecting, data)
	default:
	}
}

func (c *Controller) handlePush(text string) {
	c.logDebug("telnet push data", "id", c.cfg.ID, "bytes", len(text))
	c.emit(EventUpdate, map[string]any{"source": "telnet_push", "raw": text})
}

// ConnectWithRetry calls Connect up to 1+maxRetries times.
//
// Between attempts it sleeps min(initial·2^attempt, max) scaled by a
// uniform ±jitter factor, and emits a reconnecting event before every
// attempt. A negative maxRetries uses the configured policy.
//
// Parameters:
//   - ctx: Context for cancellation (also interrupts backoff sleeps)
//   - maxRetries: Number of retries after the first attempt
//
// Returns:
//   - error: nil on the first successful attempt, else the last failure
func (c *Controller) ConnectWithRetry(ctx context.Context, maxRetries int) error {
	if maxRetries < 0 {
		maxRetries = c.cfg.Retry.MaxRetries
	}
	total := maxRetries + 1

	var lastErr error
	for attempt := 0; attempt < total; attempt++ {
		c.retryAttempt.Store(int32(attempt)) //nolint:gosec // bounded by config
		c.emit(EventReconnecting, map[string]any{"attempt": attempt + 1, "total": total})

		lastErr = c.Connect(ctx)
		if lastErr == nil {
			c.retryAttempt.Store(0)
			return nil
		}
		if attempt == total-1 {
			break
		}

		delay := c.cfg.Retry.Delay(attempt, c.jitter)
		c.logWarn("matrix connect failed, retrying",
			"id", c.cfg.ID, "attempt", attempt+1, "total", total,
			"delay", delay.String(), "error", lastErr)
		if err := c.sleep(ctx, delay); err != nil {
			return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
		}
	}

	return fmt.Errorf("giving up after %d attempts: %w", total, lastErr)
}

// Disconnect stops the Telnet session, then closes the HTTP channel.
// Safe to call when not connected.
func (c *Controller) Disconnect() error {
	c.mu.Lock()
	ch, sess := c.channel, c.session
	c.channel, c.session = nil, nil
	c.connectedSince = time.Time{}
	c.mu.Unlock()

	if sess != nil {
		sess.SetOnStateChange(nil)
		sess.SetOnPush(nil)
		if err := sess.Disconnect(); err != nil {
			c.logError("telnet disconnect failed", err)
		}
	}
	if ch != nil {
		if err := ch.Close(); err != nil {
			c.logError("http close failed", err)
		}
	}
	c.cache.Invalidate()

	if ch != nil || sess != nil {
		c.logInfo("matrix disconnected", "id", c.cfg.ID)
		c.emit(EventDisconnected, map[string]any{"transport": "all"})
	}
	return nil
}

// Close disconnects and stops event delivery.
func (c *Controller) Close() error {
	err := c.Disconnect()
	c.notifier.Close()
	return err
}

// IsConnected reports whether the HTTP channel is logged in.
func (c *Controller) IsConnected() bool {
	c.mu.RLock()
	ch := c.channel
	c.mu.RUnlock()
	return ch != nil && ch.IsConnected()
}

// TelnetConnected reports whether the Telnet session is up.
func (c *Controller) TelnetConnected() bool {
	return c.telnet() != nil
}

// Status returns the current transport view.
func (c *Controller) Status() ControllerStatus {
	c.mu.RLock()
	ch, sess, since := c.channel, c.session, c.connectedSince
	c.mu.RUnlock()

	st := ControllerStatus{
		ID:            c.cfg.ID,
		Host:          c.cfg.Host,
		HTTPConnected: ch != nil && ch.IsConnected(),
		TelnetEnabled: c.cfg.UseTelnet,
		CECCacheFresh: c.cache.Fresh(),
		EventsEmitted: c.notifier.Emitted(),
		EventsDropped: c.notifier.Dropped(),
		RetryAttempt:  int(c.retryAttempt.Load()),
	}
	if sess != nil {
		st.Telnet = sess.Stats()
		st.TelnetState = sess.State()
		st.Firmware = sess.Firmware()
	}
	if !since.IsZero() {
		st.ConnectedSince = &since
	}
	return st
}

// httpChannel returns the current channel or ErrNotConnected.
func (c *Controller) httpChannel() (CommandChannel, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.channel == nil {
		return nil, ErrNotConnected
	}
	return c.channel, nil
}

// telnet returns the session when it is connected, else nil.
func (c *Controller) telnet() TelnetTransport {
	c.mu.RLock()
	sess := c.session
	c.mu.RUnlock()
	if sess == nil || !sess.IsConnected() {
		return nil
	}
	return sess
}

// send posts one HTTP command.
func (c *Controller) send(ctx context.Context, req Request) (*Response, error) {
	ch, err := c.httpChannel()
	if err != nil {
		return nil, err
	}
	resp, err := ch.Send(ctx, req)
	if err != nil {
		c.logError("matrix command failed", err, "id", c.cfg.ID, "comhead", req.Comhead())
		return resp, err
	}
	return resp, nil
}

// mutate sends a state-changing command and emits an update on success.
func (c *Controller) mutate(ctx context.Context, req Request, update map[string]any) error {
	if _, err := c.send(ctx, req); err != nil {
		c.emitError(req.Comhead(), err)
		return err
	}
	c.emit(EventUpdate, update)
	return nil
}

func (c *Controller) emit(t EventType, data map[string]any) {
	c.notifier.Emit(Event{Type: t, MatrixID: c.cfg.ID, Data: data})
}

func (c *Controller) emitError(op string, err error) {
	c.emit(EventError, map[string]any{"operation": op, "error": err.Error()})
}
