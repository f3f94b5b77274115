package matrix

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Bridge operation constants.
const (
	// bridgeCommandTimeout bounds one MQTT command. CEC commands may need a
	// cache refresh and an enable write before the command itself.
	bridgeCommandTimeout = 20 * time.Second

	// stateRefreshTimeout bounds one full status read for the state topic.
	stateRefreshTimeout = 45 * time.Second
)

// MQTTClient is the interface for MQTT operations.
// This allows mocking in tests and flexibility in implementation.
type MQTTClient interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic pattern.
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error

	// Unsubscribe drops a topic pattern registered with Subscribe.
	Unsubscribe(topic string) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool
}

// BridgeOptions holds configuration for creating a bridge.
type BridgeOptions struct {
	// Controller is the matrix to expose.
	Controller *Controller

	// MQTTClient is the MQTT client implementation.
	MQTTClient MQTTClient

	// Logger is optional structured logger.
	Logger Logger

	// Version is reported in health messages.
	Version string

	// HealthInterval is how often health is published. Default: 30 seconds.
	HealthInterval time.Duration
}

// BridgeMetrics holds bridge counters.
type BridgeMetrics struct {
	CommandsReceived uint64
	CommandsFailed   uint64
	RequestsServed   uint64
	EventsPublished  uint64
	StatesPublished  uint64
}

// Bridge connects a Controller to MQTT. It handles:
//   - Commands from Core on graylogic/command/matrix/{id}, answered with acks
//   - Read requests on graylogic/request/matrix/#, answered with responses
//   - Controller events published on graylogic/event/matrix/{id}/{type}
//   - The merged matrix state, retained on graylogic/state/matrix/{id}
//   - Health reporting
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	logHolder

	ctrl   *Controller
	mqtt   MQTTClient
	health *HealthReporter

	unsubscribe func()
	refresh     chan struct{}

	ctx       context.Context
	ctxCancel context.CancelFunc
	wg        sync.WaitGroup
	stopOnce  sync.Once

	commandsReceived atomic.Uint64
	commandsFailed   atomic.Uint64
	requestsServed   atomic.Uint64
	eventsPublished  atomic.Uint64
	statesPublished  atomic.Uint64
}

// NewBridge creates a new bridge instance.
// Call Start() to begin operation.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.Controller == nil {
		return nil, fmt.Errorf("controller is required")
	}
	if opts.MQTTClient == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}

	ctx, cancel := context.WithCancel(context.Background())

	b := &Bridge{
		ctrl:      opts.Controller,
		mqtt:      opts.MQTTClient,
		refresh:   make(chan struct{}, 1),
		ctx:       ctx,
		ctxCancel: cancel,
	}

	b.health = NewHealthReporter(HealthReporterConfig{
		BridgeID:  opts.Controller.ID(),
		Version:   opts.Version,
		Interval:  opts.HealthInterval,
		Publisher: opts.MQTTClient,
		Source:    opts.Controller,
	})
	if opts.Logger != nil {
		b.SetLogger(opts.Logger)
		b.health.SetLogger(opts.Logger)
	}

	return b, nil
}

// Health returns the bridge's health reporter.
func (b *Bridge) Health() *HealthReporter {
	return b.health
}

// Start subscribes to command and request topics, forwards controller
// events and starts health reporting.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.health.PublishStarting(); err != nil {
		b.logError("failed to publish starting status", err)
	}

	commandTopic := CommandTopic(b.ctrl.ID())
	if err := b.mqtt.Subscribe(commandTopic, 1, b.handleCommand); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logInfo("subscribed to commands", "topic", commandTopic)

	requestTopic := RequestSubscribeTopic()
	if err := b.mqtt.Subscribe(requestTopic, 1, b.handleRequest); err != nil {
		return fmt.Errorf("subscribe to requests: %w", err)
	}
	b.logInfo("subscribed to requests", "topic", requestTopic)

	b.unsubscribe = b.ctrl.Subscribe(b.handleEvent)

	b.wg.Add(1)
	go b.stateLoop()
	b.requestStateRefresh()

	b.health.Start(ctx)

	b.logInfo("bridge started", "matrix_id", b.ctrl.ID())
	return nil
}

// Stop gracefully shuts down the bridge. The controller is left connected;
// its owner closes it.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		// No new commands or requests once shutdown starts.
		for _, topic := range []string{CommandTopic(b.ctrl.ID()), RequestSubscribeTopic()} {
			if err := b.mqtt.Unsubscribe(topic); err != nil {
				b.logWarn("unsubscribe failed", "topic", topic, "error", err)
			}
		}
		b.ctxCancel()
		if b.unsubscribe != nil {
			b.unsubscribe()
		}
		b.health.Stop()
		b.wg.Wait()
		b.logInfo("bridge stopped")
	})
}

// handleEvent publishes a controller event and schedules a state refresh
// after changes.
func (b *Bridge) handleEvent(ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		b.logError("failed to marshal event", err)
		return
	}
	if err := b.mqtt.Publish(EventTopic(ev.MatrixID, ev.Type), payload, 1, false); err != nil {
		b.logError("failed to publish event", err, "type", string(ev.Type))
		return
	}
	b.eventsPublished.Add(1)

	switch ev.Type {
	case EventUpdate, EventConnected:
		b.requestStateRefresh()
	default:
	}
}

// requestStateRefresh coalesces refresh requests into at most one pending.
func (b *Bridge) requestStateRefresh() {
	select {
	case b.refresh <- struct{}{}:
	default:
	}
}

func (b *Bridge) stateLoop() {
	defer b.wg.Done()
	for {
		select {
		case <-b.ctx.Done():
			return
		case <-b.refresh:
			b.publishState()
		}
	}
}

// publishState reads the full status and publishes the merged view.
func (b *Bridge) publishState() {
	if !b.ctrl.IsConnected() {
		return
	}

	ctx, cancel := context.WithTimeout(b.ctx, stateRefreshTimeout)
	defer cancel()

	fs, err := b.ctrl.GetFullStatus(ctx)
	if err != nil {
		b.logError("failed to read matrix state", err)
		return
	}

	msg := StateMessage{
		MatrixID:  b.ctrl.ID(),
		Timestamp: time.Now().UTC(),
		State:     fs.Merged(),
		Errors:    fs.Errors,
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		b.logError("failed to marshal state", err)
		return
	}
	if err := b.mqtt.Publish(StateTopic(b.ctrl.ID()), payload, 1, true); err != nil {
		b.logError("failed to publish state", err)
		return
	}
	b.statesPublished.Add(1)
}

// handleCommand processes a command message from Core.
func (b *Bridge) handleCommand(_ string, payload []byte) {
	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.logError("failed to parse command", err)
		return
	}
	if cmd.MatrixID == "" {
		cmd.MatrixID = b.ctrl.ID()
	}
	b.commandsReceived.Add(1)

	b.logInfo("received command",
		"command_id", cmd.ID,
		"matrix_id", cmd.MatrixID,
		"command", cmd.Command)

	ctx, cancel := context.WithTimeout(b.ctx, bridgeCommandTimeout)
	defer cancel()

	if err := b.ctrl.Execute(ctx, cmd.Command, cmd.Parameters); err != nil {
		b.commandsFailed.Add(1)
		b.publishAck(NewAckError(cmd, ErrorCode(err), err.Error()))
		return
	}
	b.publishAck(NewAckMessage(cmd, AckAccepted))
}

func (b *Bridge) publishAck(ack AckMessage) {
	payload, err := json.Marshal(ack)
	if err != nil {
		b.logError("failed to marshal ack", err)
		return
	}
	if err := b.mqtt.Publish(AckTopic(ack.MatrixID), payload, 1, false); err != nil {
		b.logError("failed to publish ack", err)
	}
	if ack.Error != nil {
		b.logWarn("command failed",
			"command_id", ack.CommandID,
			"code", ack.Error.Code,
			"message", ack.Error.Message)
	}
}

// handleRequest processes a read request from Core. Requests addressed to
// another matrix are ignored.
func (b *Bridge) handleRequest(_ string, payload []byte) {
	var req RequestMessage
	if err := json.Unmarshal(payload, &req); err != nil {
		b.logError("failed to parse request", err)
		return
	}
	if req.MatrixID != "" && req.MatrixID != b.ctrl.ID() {
		return
	}

	b.logInfo("received request",
		"request_id", req.RequestID,
		"action", req.Action)

	ctx, cancel := context.WithTimeout(b.ctx, stateRefreshTimeout)
	defer cancel()

	resp := ResponseMessage{
		RequestID: req.RequestID,
		Timestamp: time.Now().UTC(),
	}
	data, err := b.ctrl.Query(ctx, req.Action, req.Parameters)
	if err != nil {
		resp.Error = &ResponseError{Code: ErrorCode(err), Message: err.Error()}
	} else {
		resp.Success = true
		resp.Data = data
	}
	b.requestsServed.Add(1)

	respPayload, err := json.Marshal(resp)
	if err != nil {
		b.logError("failed to marshal response", err)
		return
	}
	if err := b.mqtt.Publish(ResponseTopic(req.RequestID), respPayload, 1, false); err != nil {
		b.logError("failed to publish response", err)
	}
}

// GetMetrics returns bridge counters.
func (b *Bridge) GetMetrics() BridgeMetrics {
	return BridgeMetrics{
		CommandsReceived: b.commandsReceived.Load(),
		CommandsFailed:   b.commandsFailed.Load(),
		RequestsServed:   b.requestsServed.Load(),
		EventsPublished:  b.eventsPublished.Load(),
		StatesPublished:  b.statesPublished.Load(),
	}
}
