package matrix

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeChannel implements CommandChannel with scripted replies.
type fakeChannel struct {
	mu         sync.Mutex
	loginErrs  []error
	loginCalls int
	sent       []Request
	replies    map[string]string
	sendErrs   map[string]error
	connected  bool
	closed     bool
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		replies:  make(map[string]string),
		sendErrs: make(map[string]error),
	}
}

func (f *fakeChannel) Login(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loginCalls++
	if len(f.loginErrs) > 0 {
		err := f.loginErrs[0]
		if len(f.loginErrs) > 1 {
			f.loginErrs = f.loginErrs[1:]
		}
		if err != nil {
			return err
		}
	}
	f.connected = true
	return nil
}

func (f *fakeChannel) Send(_ context.Context, req Request) (*Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, req)
	if err := f.sendErrs[req.Comhead()]; err != nil {
		return nil, err
	}
	body, ok := f.replies[req.Comhead()]
	if !ok {
		body = `{"comhead":"` + req.Comhead() + `","result":1}`
	}
	return decodeResponse([]byte(body))
}

func (f *fakeChannel) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	f.closed = true
	return nil
}

func (f *fakeChannel) setReply(comhead, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies[comhead] = body
}

func (f *fakeChannel) setSendErr(comhead string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendErrs[comhead] = err
}

func (f *fakeChannel) requests() []Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Request(nil), f.sent...)
}

func (f *fakeChannel) comheads() []string {
	var out []string
	for _, r := range f.requests() {
		out = append(out, r.Comhead())
	}
	return out
}

func (f *fakeChannel) logins() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loginCalls
}

// fakeSession implements TelnetTransport.
type fakeSession struct {
	mu         sync.Mutex
	connectErr error
	connected  bool
	status     *MatrixStatus
	cable      CableState
	cableErr   error
	cecErr     error
	cecSent    []string
	onPush     func(string)
	onState    func(ConnectionState)
}

func (f *fakeSession) Connect(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	return nil
}

func (f *fakeSession) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	return nil
}

func (f *fakeSession) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeSession) State() ConnectionState {
	if f.IsConnected() {
		return StateConnected
	}
	return StateDisconnected
}

func (f *fakeSession) SendRaw(_ context.Context, _ string) (string, error) {
	return "", nil
}

func (f *fakeSession) GetFullStatus(_ context.Context) (*MatrixStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.status == nil {
		return nil, ErrNotConnected
	}
	return f.status, nil
}

func (f *fakeSession) GetCableStatus(_ context.Context, _ int, _ bool) (CableState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cable, f.cableErr
}

func (f *fakeSession) SendCEC(_ context.Context, cmd CECCommand, port int, isOutput bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cecErr != nil {
		return f.cecErr
	}
	f.cecSent = append(f.cecSent, fmt.Sprintf("%s %s %d", cmd.Token, direction(isOutput), port))
	return nil
}

func (f *fakeSession) SetOnPush(cb func(string)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onPush = cb
}

func (f *fakeSession) SetOnStateChange(cb func(ConnectionState)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onState = cb
}

func (f *fakeSession) Firmware() string { return "2.1.0" }

func (f *fakeSession) Stats() SessionStats {
	return SessionStats{State: f.State()}
}

func (f *fakeSession) sentCEC() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.cecSent...)
}

// newTestController builds a controller over fakes. It is not connected.
func newTestController(t *testing.T, cfg Config, ch *fakeChannel, sess *fakeSession) *Controller {
	t.Helper()
	if cfg.Host == "" {
		cfg.Host = "192.168.1.50"
	}
	if cfg.ID == "" {
		cfg.ID = "av-rack"
	}
	opts := ControllerOptions{
		Config: cfg,
		NewChannel: func(ChannelConfig) (CommandChannel, error) {
			return ch, nil
		},
	}
	if sess != nil {
		opts.NewSession = func(SessionConfig) TelnetTransport { return sess }
	}
	c, err := NewController(opts)
	require.NoError(t, err)
	c.sleep = func(context.Context, time.Duration) error { return nil }
	t.Cleanup(func() { c.Close() })
	return c
}

// connectedController returns a controller connected over a fake channel.
func connectedController(t *testing.T, cfg Config, ch *fakeChannel, sess *fakeSession) *Controller {
	t.Helper()
	c := newTestController(t, cfg, ch, sess)
	require.NoError(t, c.Connect(context.Background()))
	return c
}

// eventLog collects events from a subscription.
type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func recordEvents(c *Controller) *eventLog {
	l := &eventLog{}
	c.Subscribe(func(ev Event) {
		l.mu.Lock()
		l.events = append(l.events, ev)
		l.mu.Unlock()
	})
	return l
}

func (l *eventLog) snapshot() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.events...)
}

// waitFor polls until an event of type t satisfying match arrives.
func (l *eventLog) waitFor(t *testing.T, typ EventType, match func(Event) bool) Event {
	t.Helper()
	var found Event
	require.Eventually(t, func() bool {
		for _, ev := range l.snapshot() {
			if ev.Type == typ && (match == nil || match(ev)) {
				found = ev
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond, "no %s event", typ)
	return found
}

// mockMQTT implements MQTTClient.
type mockMQTT struct {
	mu        sync.Mutex
	published []mockPublish
	handlers  map[string]func(topic string, payload []byte)
	connected bool
	subErr    error
	unsubbed  []string
}

type mockPublish struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

func newMockMQTT() *mockMQTT {
	return &mockMQTT{
		handlers:  make(map[string]func(topic string, payload []byte)),
		connected: true,
	}
}

func (m *mockMQTT) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, mockPublish{Topic: topic, Payload: payload, QoS: qos, Retained: retained})
	return nil
}

func (m *mockMQTT) Subscribe(topic string, _ byte, handler func(topic string, payload []byte)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subErr != nil {
		return m.subErr
	}
	m.handlers[topic] = handler
	return nil
}

func (m *mockMQTT) Unsubscribe(topic string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.handlers, topic)
	m.unsubbed = append(m.unsubbed, topic)
	return nil
}

func (m *mockMQTT) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *mockMQTT) setConnected(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = v
}

// deliver invokes the handler registered for filter with a message on topic.
func (m *mockMQTT) deliver(t *testing.T, filter, topic string, v any) {
	t.Helper()
	m.mu.Lock()
	h, ok := m.handlers[filter]
	m.mu.Unlock()
	require.True(t, ok, "no subscription for %s", filter)

	payload, err := json.Marshal(v)
	require.NoError(t, err)
	h(topic, payload)
}

func (m *mockMQTT) onTopic(topic string) []mockPublish {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []mockPublish
	for _, p := range m.published {
		if p.Topic == topic {
			out = append(out, p)
		}
	}
	return out
}

// waitPublish polls until a message arrives on topic and decodes the last.
func (m *mockMQTT) waitPublish(t *testing.T, topic string, v any) mockPublish {
	t.Helper()
	var last mockPublish
	require.Eventually(t, func() bool {
		msgs := m.onTopic(topic)
		if len(msgs) == 0 {
			return false
		}
		last = msgs[len(msgs)-1]
		return true
	}, 2*time.Second, 5*time.Millisecond, "nothing published on %s", topic)
	if v != nil {
		require.NoError(t, json.Unmarshal(last.Payload, v))
	}
	return last
}
