package matrix

import (
	"fmt"
	"time"
)

// MQTT message types exchanged between Gray Logic Core and the matrix bridge.

// CommandMessage is sent from Core to the bridge to operate the matrix.
// Topic: graylogic/command/matrix/{matrix_id}
type CommandMessage struct {
	// ID uniquely identifies this command for correlation with acknowledgments.
	ID string `json:"id"`

	Timestamp time.Time `json:"timestamp"`

	// MatrixID is filled from the topic when absent.
	MatrixID string `json:"matrix_id,omitempty"`

	// Command is the operation name (e.g. "switch", "cec", "set_hdcp").
	Command string `json:"command"`

	// Parameters contains command-specific values.
	// Examples:
	//   {"input": 3, "output": 1} for switch
	//   {"command": "VOLUME_UP", "port": 2, "direction": "output"} for cec
	Parameters map[string]any `json:"parameters,omitempty"`

	// Source indicates where the command originated ("api", "panel", "automation").
	Source string `json:"source,omitempty"`

	UserID string `json:"user_id,omitempty"`
}

// AckStatus represents the acknowledgment status of a command.
type AckStatus string

const (
	// AckAccepted indicates the device accepted the command.
	AckAccepted AckStatus = "accepted"

	// AckFailed indicates the command could not be executed.
	AckFailed AckStatus = "failed"

	// AckTimeout indicates the device did not answer in time.
	AckTimeout AckStatus = "timeout"
)

// AckMessage is sent from the bridge to Core after a command.
// Topic: graylogic/ack/matrix/{matrix_id}
type AckMessage struct {
	CommandID string    `json:"command_id"`
	Timestamp time.Time `json:"timestamp"`
	MatrixID  string    `json:"matrix_id"`
	Command   string    `json:"command"`
	Status    AckStatus `json:"status"`
	Error     *AckError `json:"error,omitempty"`
}

// AckError contains error details for failed commands.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes for command failures.
const (
	ErrCodeDeviceUnreachable = "DEVICE_UNREACHABLE"
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeInvalidParameters = "INVALID_PARAMETERS"
	ErrCodeDeviceRejected    = "DEVICE_REJECTED"
	ErrCodeProtocolError     = "PROTOCOL_ERROR"
	ErrCodeTimeout           = "TIMEOUT"
	ErrCodeNotConnected      = "NOT_CONNECTED"
)

// StateMessage carries the merged matrix state.
// Topic: graylogic/state/matrix/{matrix_id}
// QoS: 1, Retained: Yes
type StateMessage struct {
	MatrixID  string            `json:"matrix_id"`
	Timestamp time.Time         `json:"timestamp"`
	State     *MatrixStatus     `json:"state"`
	Errors    map[string]string `json:"errors,omitempty"`
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	// HealthHealthy indicates both MQTT and the matrix are reachable.
	HealthHealthy HealthStatus = "healthy"

	// HealthDegraded indicates the bridge runs with a missing transport.
	HealthDegraded HealthStatus = "degraded"

	// HealthOffline indicates the bridge is gone (from LWT).
	HealthOffline HealthStatus = "offline"

	// HealthStarting indicates the bridge is starting up.
	HealthStarting HealthStatus = "starting"

	// HealthStopping indicates the bridge is shutting down.
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage reports bridge status.
// Topic: graylogic/health/matrix
// QoS: 1, Retained: Yes
type HealthMessage struct {
	Bridge        string            `json:"bridge"`
	Timestamp     time.Time         `json:"timestamp"`
	Status        HealthStatus      `json:"status"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Matrix        *MatrixConnection `json:"matrix,omitempty"`
	Statistics    *BridgeStatistics `json:"statistics,omitempty"`
	Reason        string            `json:"reason,omitempty"`
}

// MatrixConnection describes the transports of one matrix.
type MatrixConnection struct {
	ID             string     `json:"id"`
	Host           string     `json:"host"`
	HTTP           string     `json:"http"`
	Telnet         string     `json:"telnet"`
	Firmware       string     `json:"firmware,omitempty"`
	ConnectedSince *time.Time `json:"connected_since,omitempty"`
}

// BridgeStatistics contains operational counters.
type BridgeStatistics struct {
	TelnetCommands  uint64 `json:"telnet_commands"`
	TelnetTimeouts  uint64 `json:"telnet_timeouts"`
	TelnetErrors    uint64 `json:"telnet_errors"`
	TelnetReconnect uint64 `json:"telnet_reconnects"`
	EventsEmitted   uint64 `json:"events_emitted"`
	EventsDropped   uint64 `json:"events_dropped"`
}

// RequestMessage is sent from Core for request/response reads.
// Topic: graylogic/request/matrix/{request_id}
type RequestMessage struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`

	// Action is the requested read.
	// Values: "full_status", "telnet_status", "cable_status", "cec_status"
	Action     string         `json:"action"`
	MatrixID   string         `json:"matrix_id,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// ResponseMessage answers a RequestMessage.
// Topic: graylogic/response/matrix/{request_id}
type ResponseMessage struct {
	RequestID string         `json:"request_id"`
	Timestamp time.Time      `json:"timestamp"`
	Success   bool           `json:"success"`
	Data      any            `json:"data,omitempty"`
	Error     *ResponseError `json:"error,omitempty"`
}

// ResponseError contains error details for failed requests.
type ResponseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewAckMessage creates an acknowledgment message for a command.
func NewAckMessage(cmd CommandMessage, status AckStatus) AckMessage {
	return AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		MatrixID:  cmd.MatrixID,
		Command:   cmd.Command,
		Status:    status,
	}
}

// NewAckError creates an acknowledgment with error details.
func NewAckError(cmd CommandMessage, code, message string) AckMessage {
	status := AckFailed
	if code == ErrCodeTimeout {
		status = AckTimeout
	}
	ack := NewAckMessage(cmd, status)
	ack.Error = &AckError{Code: code, Message: message}
	return ack
}

// NewHealthMessage creates a health status message.
func NewHealthMessage(bridgeID, version string, status HealthStatus, ctrl ControllerStatus, startTime time.Time) HealthMessage {
	httpState := "disconnected"
	if ctrl.HTTPConnected {
		httpState = "connected"
	}
	telnetState := "disabled"
	if ctrl.TelnetEnabled {
		telnetState = ctrl.TelnetState.String()
	}

	return HealthMessage{
		Bridge:        bridgeID,
		Timestamp:     time.Now().UTC(),
		Status:        status,
		Version:       version,
		UptimeSeconds: int64(time.Since(startTime).Seconds()),
		Matrix: &MatrixConnection{
			ID:             ctrl.ID,
			Host:           ctrl.Host,
			HTTP:           httpState,
			Telnet:         telnetState,
			Firmware:       ctrl.Firmware,
			ConnectedSince: ctrl.ConnectedSince,
		},
		Statistics: &BridgeStatistics{
			TelnetCommands:  ctrl.Telnet.CommandsSent,
			TelnetTimeouts:  ctrl.Telnet.CommandTimeouts,
			TelnetErrors:    ctrl.Telnet.ErrorsTotal,
			TelnetReconnect: ctrl.Telnet.ReconnectsTotal,
			EventsEmitted:   ctrl.EventsEmitted,
			EventsDropped:   ctrl.EventsDropped,
		},
	}
}

// NewLWTMessage creates a Last Will and Testament message for MQTT.
func NewLWTMessage(bridgeID string) HealthMessage {
	return HealthMessage{
		Bridge:    bridgeID,
		Timestamp: time.Now().UTC(),
		Status:    HealthOffline,
		Reason:    "unexpected_disconnect",
	}
}

// Topic helpers

const (
	// TopicPrefix is the base topic for all Gray Logic messages.
	TopicPrefix = "graylogic"

	// protocolName is the topic segment for this bridge.
	protocolName = "matrix"
)

// CommandTopic returns the command topic for one matrix.
// Example: graylogic/command/matrix/av-rack
func CommandTopic(matrixID string) string {
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefix, protocolName, matrixID)
}

// AckTopic returns the acknowledgment topic for one matrix.
// Example: graylogic/ack/matrix/av-rack
func AckTopic(matrixID string) string {
	return fmt.Sprintf("%s/ack/%s/%s", TopicPrefix, protocolName, matrixID)
}

// StateTopic returns the retained state topic for one matrix.
// Example: graylogic/state/matrix/av-rack
func StateTopic(matrixID string) string {
	return fmt.Sprintf("%s/state/%s/%s", TopicPrefix, protocolName, matrixID)
}

// EventTopic returns the topic for one event type of one matrix.
// Example: graylogic/event/matrix/av-rack/update
func EventTopic(matrixID string, t EventType) string {
	return fmt.Sprintf("%s/event/%s/%s/%s", TopicPrefix, protocolName, matrixID, t)
}

// HealthTopic returns the MQTT topic for health status.
// Example: graylogic/health/matrix
func HealthTopic() string {
	return fmt.Sprintf("%s/health/%s", TopicPrefix, protocolName)
}

// RequestTopic returns the MQTT topic for requests.
// Example: graylogic/request/matrix/req-123
func RequestTopic(requestID string) string {
	return fmt.Sprintf("%s/request/%s/%s", TopicPrefix, protocolName, requestID)
}

// ResponseTopic returns the MQTT topic for responses.
// Example: graylogic/response/matrix/req-123
func ResponseTopic(requestID string) string {
	return fmt.Sprintf("%s/response/%s/%s", TopicPrefix, protocolName, requestID)
}

// RequestSubscribeTopic returns the subscription pattern for all requests.
// Example: graylogic/request/matrix/#
func RequestSubscribeTopic() string {
	return fmt.Sprintf("%s/request/%s/#", TopicPrefix, protocolName)
}
