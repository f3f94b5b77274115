package matrix

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ziutek/telnet"
)

// Default timeouts and limits for the Telnet session.
const (
	// DefaultTelnetPort is the device's Telnet port.
	DefaultTelnetPort = 23

	// defaultCommandTimeout bounds one send-then-read cycle.
	defaultCommandTimeout = 5 * time.Second

	// defaultDialTimeout bounds the TCP connect.
	defaultDialTimeout = 5 * time.Second

	// defaultBannerWait is how long the banner is collected after connect.
	defaultBannerWait = 500 * time.Millisecond

	// defaultReconnectDelay is multiplied by the attempt number.
	defaultReconnectDelay = 2 * time.Second

	// defaultMaxReconnectAttempts caps the reconnect loop.
	defaultMaxReconnectAttempts = 5

	// pollInterval is the read deadline used by the reader goroutine so it
	// notices cancellation.
	pollInterval = 200 * time.Millisecond

	// readBufferSize is the size of one socket read.
	readBufferSize = 1024

	// chunkQueueSize is how many unread chunks are held for the next command.
	chunkQueueSize = 64

	// commandTerminator ends every command on the wire.
	commandTerminator = "!\r\n"
)

// ConnectionState is the Telnet session state.
type ConnectionState int32

// Session states.
const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Stream is the byte stream under a Telnet session. *telnet.Conn satisfies it.
type Stream interface {
	io.ReadWriteCloser
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// Dialer opens a Stream to addr.
type Dialer func(ctx context.Context, addr string, timeout time.Duration) (Stream, error)

// DialTelnet dials a Telnet server with option negotiation handled by
// github.com/ziutek/telnet.
func DialTelnet(ctx context.Context, addr string, timeout time.Duration) (Stream, error) {
	if deadline, ok := ctx.Deadline(); ok {
		if until := time.Until(deadline); until < timeout {
			timeout = until
		}
	}
	if timeout <= 0 {
		return nil, context.DeadlineExceeded
	}
	conn, err := telnet.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// SessionConfig holds Telnet session settings.
type SessionConfig struct {
	Host string
	Port int

	// CommandTimeout bounds each command. Default: 5 seconds.
	CommandTimeout time.Duration

	// DialTimeout bounds connection setup. Default: 5 seconds.
	DialTimeout time.Duration

	// BannerWait is how long to collect the login banner. Default: 500ms.
	BannerWait time.Duration

	// ReconnectDelay is scaled by the attempt number. Default: 2 seconds.
	ReconnectDelay time.Duration

	// MaxReconnectAttempts caps automatic reconnects. Default: 5.
	MaxReconnectAttempts int

	// Completion decides when a reply is whole. Default: DefaultCompletion.
	Completion Completion

	// Dial opens the stream. Default: DialTelnet.
	Dial Dialer
}

// SessionStats holds Telnet session counters.
type SessionStats struct {
	CommandsSent    uint64 `json:"commands_sent"`
	CommandTimeouts uint64 `json:"command_timeouts"`
	DeviceErrors    uint64 `json:"device_errors"`
	PushMessages    uint64 `json:"push_messages"`
	ErrorsTotal     uint64 `json:"errors_total"`
	ReconnectsTotal uint64 `json:"reconnects_total"`
	LastActivity    time.Time
	State           ConnectionState
}

// CableState is cable presence on one port.
type CableState int

// Cable states. CableUnknown is reported whenever the device could not be
// asked, which is always the case for inputs without Telnet.
const (
	CableUnknown CableState = iota
	CableConnected
	CableDisconnected
)

func (c CableState) String() string {
	switch c {
	case CableConnected:
		return "connected"
	case CableDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// MarshalText renders the state as its name.
func (c CableState) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

var reBannerVersion = regexp.MustCompile(`(?i)v(?:er(?:sion)?)?\s*[:.]?\s*(\d+(?:\.\d+)+)`)

// TelnetSession is one persistent Telnet connection to the device.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Commands are serialised: replies carry no request identifier, so a
//     second SendRaw waits until the first has finished reading.
//
// A background reader owns the socket. Bytes arriving while no command is
// in flight are queued and handed to the push callback before the next
// send. An I/O error moves the session to StateDisconnected and starts a
// bounded reconnect loop; Disconnect stops both.
//
// State and push callbacks run on session goroutines and must not call
// Connect or Disconnect.
type TelnetSession struct {
	logHolder

	cfg  SessionConfig
	addr string

	cmdMu sync.Mutex

	// stateMu guards the fields below.
	stateMu    sync.RWMutex
	state      ConnectionState
	stream     Stream
	chunks     chan []byte
	connDone   chan struct{}
	firmware   string
	lifeCancel context.CancelFunc

	wg           sync.WaitGroup
	reconnecting atomic.Bool

	callbackMu sync.RWMutex
	onPush     func(string)
	onState    func(ConnectionState)

	commandsSent    atomic.Uint64
	commandTimeouts atomic.Uint64
	deviceErrors    atomic.Uint64
	pushMessages    atomic.Uint64
	errorsTotal     atomic.Uint64
	reconnectsTotal atomic.Uint64
	lastActivity    atomic.Int64
}

// NewTelnetSession creates a disconnected session.
func NewTelnetSession(cfg SessionConfig) *TelnetSession {
	if cfg.Port == 0 {
		cfg.Port = DefaultTelnetPort
	}
	if cfg.CommandTimeout == 0 {
		cfg.CommandTimeout = defaultCommandTimeout
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if cfg.BannerWait == 0 {
		cfg.BannerWait = defaultBannerWait
	}
	if cfg.ReconnectDelay == 0 {
		cfg.ReconnectDelay = defaultReconnectDelay
	}
	if cfg.MaxReconnectAttempts == 0 {
		cfg.MaxReconnectAttempts = defaultMaxReconnectAttempts
	}
	if cfg.Completion == nil {
		cfg.Completion = DefaultCompletion
	}
	if cfg.Dial == nil {
		cfg.Dial = DialTelnet
	}

	return &TelnetSession{
		cfg:  cfg,
		addr: net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
	}
}

// Connect opens the stream, reads the banner and starts the reader.
//
// Calling Connect on a connected session is a no-op. Any previous
// lifecycle, including an exhausted reconnect loop, is torn down first.
//
// Parameters:
//   - ctx: Context bounding the dial and banner read
//
// Returns:
//   - error: Wrapping ErrConnectionFailed if the device is unreachable
func (s *TelnetSession) Connect(ctx context.Context) error {
	if s.State() == StateConnected {
		return nil
	}
	s.stop()

	lifeCtx, cancel := context.WithCancel(context.Background())
	s.stateMu.Lock()
	s.lifeCancel = cancel
	s.stateMu.Unlock()

	s.setState(StateConnecting)
	if err := s.open(ctx, lifeCtx); err != nil {
		s.setState(StateDisconnected)
		return err
	}
	s.setState(StateConnected)

	s.logInfo("telnet session connected", "addr", s.addr, "firmware", s.Firmware())
	return nil
}

// open dials, reads the banner and starts a reader bound to lifeCtx.
func (s *TelnetSession) open(ctx, lifeCtx context.Context) error {
	stream, err := s.cfg.Dial(ctx, s.addr, s.cfg.DialTimeout)
	if err != nil {
		return fmt.Errorf("%w: telnet dial %s: %w", ErrConnectionFailed, s.addr, err)
	}

	banner, err := s.readBanner(ctx, stream)
	if err != nil {
		stream.Close()
		return fmt.Errorf("%w: telnet banner: %w", ErrConnectionFailed, err)
	}

	chunks := make(chan []byte, chunkQueueSize)
	done := make(chan struct{})

	s.stateMu.Lock()
	if lifeCtx.Err() != nil {
		s.stateMu.Unlock()
		stream.Close()
		return fmt.Errorf("%w: %w", ErrConnectionFailed, lifeCtx.Err())
	}
	s.stream = stream
	s.chunks = chunks
	s.connDone = done
	if m := reBannerVersion.FindStringSubmatch(banner); m != nil {
		s.firmware = m[1]
	}
	s.stateMu.Unlock()

	s.touch()
	s.wg.Add(1)
	go s.readLoop(lifeCtx, stream, chunks, done)
	return nil
}

// readBanner collects whatever the device sends during the banner window.
// A quiet device is not an error.
func (s *TelnetSession) readBanner(ctx context.Context, stream Stream) (string, error) {
	deadline := time.Now().Add(s.cfg.BannerWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := stream.SetReadDeadline(deadline); err != nil {
		return "", fmt.Errorf("set read deadline: %w", err)
	}

	var sb strings.Builder
	buf := make([]byte, readBufferSize)
	for {
		n, err := stream.Read(buf)
		sb.Write(buf[:n])
		if err != nil {
			if isTimeout(err) {
				return sb.String(), nil
			}
			return sb.String(), err
		}
		if ctx.Err() != nil {
			return sb.String(), nil
		}
	}
}

// readLoop owns socket reads for one stream. It exits when lifeCtx is
// cancelled or the stream fails; done is closed on exit.
func (s *TelnetSession) readLoop(lifeCtx context.Context, stream Stream, chunks chan<- []byte, done chan struct{}) {
	defer s.wg.Done()
	defer close(done)

	buf := make([]byte, readBufferSize)
	for {
		if lifeCtx.Err() != nil {
			return
		}
		if err := stream.SetReadDeadline(time.Now().Add(pollInterval)); err != nil {
			s.handleIOError(lifeCtx, stream, err)
			return
		}

		n, err := stream.Read(buf)
		if n > 0 {
			s.touch()
			chunk := append([]byte(nil), buf[:n]...)
			select {
			case chunks <- chunk:
			case <-lifeCtx.Done():
				return
			}
		}
		if err != nil {
			if isTimeout(err) {
				continue
			}
			if lifeCtx.Err() != nil {
				return
			}
			s.handleIOError(lifeCtx, stream, err)
			return
		}
	}
}

// handleIOError drops the broken stream and schedules a reconnect.
func (s *TelnetSession) handleIOError(lifeCtx context.Context, stream Stream, err error) {
	s.errorsTotal.Add(1)
	s.logError("telnet connection lost", err, "addr", s.addr)

	s.stateMu.Lock()
	if s.stream == stream {
		s.stream = nil
	}
	s.stateMu.Unlock()
	stream.Close()

	s.setState(StateDisconnected)

	if !s.reconnecting.CompareAndSwap(false, true) {
		return
	}
	s.wg.Add(1)
	go s.reconnectLoop(lifeCtx)
}

// reconnectLoop retries open with a delay of ReconnectDelay × attempt.
// Exhaustion leaves the session disconnected until Connect is called.
func (s *TelnetSession) reconnectLoop(lifeCtx context.Context) {
	defer s.wg.Done()
	defer s.reconnecting.Store(false)

	for attempt := 1; attempt <= s.cfg.MaxReconnectAttempts; attempt++ {
		delay := s.cfg.ReconnectDelay * time.Duration(attempt)
		select {
		case <-lifeCtx.Done():
			return
		case <-time.After(delay):
		}

		s.setState(StateReconnecting)
		s.logInfo("telnet reconnecting", "attempt", attempt,
			"max_attempts", s.cfg.MaxReconnectAttempts, "delay", delay.String())

		ctx, cancel := context.WithTimeout(lifeCtx, s.cfg.DialTimeout+s.cfg.BannerWait)
		err := s.open(ctx, lifeCtx)
		cancel()
		if err == nil {
			s.reconnectsTotal.Add(1)
			s.setState(StateConnected)
			s.logInfo("telnet reconnected", "attempt", attempt)
			return
		}

		s.errorsTotal.Add(1)
		s.logError("telnet reconnect failed", err, "attempt", attempt)
		if lifeCtx.Err() != nil {
			return
		}
		s.setState(StateDisconnected)
	}

	s.logWarn("telnet reconnect attempts exhausted", "attempts", s.cfg.MaxReconnectAttempts)
}

// Disconnect stops the reader and any reconnect loop, then closes the
// stream. It is safe to call in any state.
func (s *TelnetSession) Disconnect() error {
	s.stop()
	s.setState(StateDisconnected)
	s.logInfo("telnet session closed", "addr", s.addr)
	return nil
}

// stop cancels the current lifecycle, closes the stream and waits for the
// session goroutines.
func (s *TelnetSession) stop() {
	s.stateMu.Lock()
	cancel := s.lifeCancel
	s.lifeCancel = nil
	s.stateMu.Unlock()

	if cancel != nil {
		cancel()
	}

	s.stateMu.Lock()
	stream := s.stream
	s.stream = nil
	s.stateMu.Unlock()
	if stream != nil {
		stream.Close()
	}

	s.wg.Wait()
}

// SendRaw writes cmd followed by "!\r\n" and reads until the Completion
// heuristic accepts the reply or the command timeout expires.
//
// A timeout is not an error: the partial reply is returned with a nil error,
// since several set commands produce no output at all. A reply ending in
// E00, E01 or E02 returns a *DeviceError.
//
// Parameters:
//   - ctx: Context for cancellation
//   - cmd: Command text without terminator
//
// Returns:
//   - string: The raw reply text
//   - error: ErrNotConnected, ErrConnectionFailed, *DeviceError or ctx.Err()
func (s *TelnetSession) SendRaw(ctx context.Context, cmd string) (string, error) {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	s.stateMu.RLock()
	stream, chunks, done, state := s.stream, s.chunks, s.connDone, s.state
	s.stateMu.RUnlock()

	if stream == nil || state != StateConnected {
		return "", ErrNotConnected
	}

	s.drainPending(chunks)

	deadline := time.Now().Add(s.cfg.CommandTimeout)
	if err := stream.SetWriteDeadline(deadline); err != nil {
		return "", fmt.Errorf("%w: set write deadline: %w", ErrConnectionFailed, err)
	}
	if _, err := stream.Write([]byte(cmd + commandTerminator)); err != nil {
		s.errorsTotal.Add(1)
		// Closing wakes the reader, which owns reconnection.
		stream.Close()
		return "", fmt.Errorf("%w: telnet write %q: %w", ErrConnectionFailed, cmd, err)
	}
	s.commandsSent.Add(1)
	s.touch()

	timer := time.NewTimer(s.cfg.CommandTimeout)
	defer timer.Stop()

	var sb strings.Builder
	for {
		select {
		case chunk := <-chunks:
			sb.Write(chunk)
			if resp := sb.String(); s.cfg.Completion.Complete(cmd, resp) {
				return s.finish(cmd, resp)
			}
		case <-done:
			drainInto(&sb, chunks)
			if resp := sb.String(); s.cfg.Completion.Complete(cmd, resp) {
				return s.finish(cmd, resp)
			}
			return sb.String(), fmt.Errorf("%w: telnet connection lost during %q", ErrConnectionFailed, cmd)
		case <-timer.C:
			s.commandTimeouts.Add(1)
			s.logDebug("telnet command timed out, returning partial reply",
				"command", cmd, "bytes", sb.Len())
			return s.finish(cmd, sb.String())
		case <-ctx.Done():
			return sb.String(), ctx.Err()
		}
	}
}

func (s *TelnetSession) finish(cmd, resp string) (string, error) {
	if code := deviceErrorCode(resp); code != "" {
		s.deviceErrors.Add(1)
		return resp, &DeviceError{Code: code, Command: cmd, Response: resp}
	}
	return resp, nil
}

// drainPending empties bytes that arrived while no command was in flight
// and hands them to the push callback.
func (s *TelnetSession) drainPending(chunks chan []byte) {
	var sb strings.Builder
	drainInto(&sb, chunks)
	// Line endings left over from the previous reply are not push data.
	if strings.TrimSpace(sb.String()) == "" {
		return
	}
	s.pushMessages.Add(1)

	s.callbackMu.RLock()
	cb := s.onPush
	s.callbackMu.RUnlock()
	if cb == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			s.logError("push callback panic", fmt.Errorf("%v", r))
		}
	}()
	cb(sb.String())
}

func drainInto(sb *strings.Builder, chunks chan []byte) {
	for {
		select {
		case chunk := <-chunks:
			sb.Write(chunk)
		default:
			return
		}
	}
}

// GetFullStatus sends "status" and parses the dump.
func (s *TelnetSession) GetFullStatus(ctx context.Context) (*MatrixStatus, error) {
	resp, err := s.SendRaw(ctx, "status")
	if err != nil {
		return nil, err
	}
	st := ParseStatus(resp)
	if st.Firmware == "" {
		st.Firmware = s.Firmware()
	}
	return st, nil
}

// GetCableStatus asks the device for cable presence on one port.
func (s *TelnetSession) GetCableStatus(ctx context.Context, port int, isOutput bool) (CableState, error) {
	if err := checkPort(port); err != nil {
		return CableUnknown, err
	}
	resp, err := s.SendRaw(ctx, fmt.Sprintf("r link %s %d", direction(isOutput), port))
	if err != nil {
		return CableUnknown, err
	}
	return parseCableReply(resp), nil
}

var reCableWord = regexp.MustCompile(`(?i)\b(disconnect|connect)(?:ed)?\b`)

func parseCableReply(resp string) CableState {
	m := reCableWord.FindStringSubmatch(resp)
	if m == nil {
		return CableUnknown
	}
	if strings.EqualFold(m[1], "disconnect") {
		return CableDisconnected
	}
	return CableConnected
}

// SendCEC sends one CEC command by its Telnet token.
func (s *TelnetSession) SendCEC(ctx context.Context, cmd CECCommand, port int, isOutput bool) error {
	if err := checkPort(port); err != nil {
		return err
	}
	_, err := s.SendRaw(ctx, fmt.Sprintf("s cec hdmi %s %d %s", direction(isOutput), port, cmd.Token))
	return err
}

// SetOnPush sets the callback for unsolicited device output.
func (s *TelnetSession) SetOnPush(callback func(string)) {
	s.callbackMu.Lock()
	s.onPush = callback
	s.callbackMu.Unlock()
}

// SetOnStateChange sets the callback for state transitions.
func (s *TelnetSession) SetOnStateChange(callback func(ConnectionState)) {
	s.callbackMu.Lock()
	s.onState = callback
	s.callbackMu.Unlock()
}

func (s *TelnetSession) setState(next ConnectionState) {
	s.stateMu.Lock()
	prev := s.state
	s.state = next
	s.stateMu.Unlock()

	if prev == next {
		return
	}

	s.callbackMu.RLock()
	cb := s.onState
	s.callbackMu.RUnlock()
	if cb == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			s.logError("state callback panic", fmt.Errorf("%v", r))
		}
	}()
	cb(next)
}

// State returns the current session state.
func (s *TelnetSession) State() ConnectionState {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

// IsConnected returns true if the session is connected.
func (s *TelnetSession) IsConnected() bool {
	return s.State() == StateConnected
}

// Firmware returns the version read from the banner, or "".
func (s *TelnetSession) Firmware() string {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.firmware
}

// Stats returns current operational statistics.
func (s *TelnetSession) Stats() SessionStats {
	return SessionStats{
		CommandsSent:    s.commandsSent.Load(),
		CommandTimeouts: s.commandTimeouts.Load(),
		DeviceErrors:    s.deviceErrors.Load(),
		PushMessages:    s.pushMessages.Load(),
		ErrorsTotal:     s.errorsTotal.Load(),
		ReconnectsTotal: s.reconnectsTotal.Load(),
		LastActivity:    time.Unix(s.lastActivity.Load(), 0),
		State:           s.State(),
	}
}

func (s *TelnetSession) touch() {
	s.lastActivity.Store(time.Now().Unix())
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
