package matrix

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticStatus struct {
	st ControllerStatus
}

func (s staticStatus) Status() ControllerStatus { return s.st }

func TestHealthReporter_DetermineStatus(t *testing.T) {
	tests := []struct {
		name       string
		mqttUp     bool
		source     StatusSource
		wantStatus HealthStatus
		wantReason string
	}{
		{
			name:       "mqtt down",
			mqttUp:     false,
			source:     staticStatus{ControllerStatus{HTTPConnected: true}},
			wantStatus: HealthDegraded,
			wantReason: "MQTT disconnected",
		},
		{
			name:       "no matrix",
			mqttUp:     true,
			wantStatus: HealthDegraded,
			wantReason: "no matrix configured",
		},
		{
			name:       "http down",
			mqttUp:     true,
			source:     staticStatus{ControllerStatus{}},
			wantStatus: HealthDegraded,
			wantReason: "matrix http disconnected",
		},
		{
			name:   "telnet enabled but reconnecting",
			mqttUp: true,
			source: staticStatus{ControllerStatus{
				HTTPConnected: true, TelnetEnabled: true, TelnetState: StateReconnecting,
			}},
			wantStatus: HealthDegraded,
			wantReason: "matrix telnet reconnecting",
		},
		{
			name:       "http only",
			mqttUp:     true,
			source:     staticStatus{ControllerStatus{HTTPConnected: true}},
			wantStatus: HealthHealthy,
		},
		{
			name:   "both transports",
			mqttUp: true,
			source: staticStatus{ControllerStatus{
				HTTPConnected: true, TelnetEnabled: true, TelnetState: StateConnected,
			}},
			wantStatus: HealthHealthy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newMockMQTT()
			m.setConnected(tt.mqttUp)
			h := NewHealthReporter(HealthReporterConfig{BridgeID: "av-rack", Publisher: m, Source: tt.source})

			status, reason := h.determineStatus()
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantReason, reason)
		})
	}
}

func TestHealthReporter_PublishNow(t *testing.T) {
	m := newMockMQTT()
	since := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	h := NewHealthReporter(HealthReporterConfig{
		BridgeID:  "av-rack",
		Version:   "1.2.3",
		Publisher: m,
		Source: staticStatus{ControllerStatus{
			ID:             "av-rack",
			Host:           "192.168.1.50",
			HTTPConnected:  true,
			Firmware:       "2.1.0",
			ConnectedSince: &since,
			Telnet:         SessionStats{CommandsSent: 7},
			EventsEmitted:  12,
		}},
	})

	require.NoError(t, h.PublishNow())

	var msg HealthMessage
	pub := m.waitPublish(t, HealthTopic(), &msg)
	assert.True(t, pub.Retained)
	assert.Equal(t, byte(1), pub.QoS)

	assert.Equal(t, "av-rack", msg.Bridge)
	assert.Equal(t, HealthHealthy, msg.Status)
	assert.Equal(t, "1.2.3", msg.Version)
	require.NotNil(t, msg.Matrix)
	assert.Equal(t, "connected", msg.Matrix.HTTP)
	assert.Equal(t, "disabled", msg.Matrix.Telnet)
	assert.Equal(t, "2.1.0", msg.Matrix.Firmware)
	require.NotNil(t, msg.Matrix.ConnectedSince)
	assert.True(t, since.Equal(*msg.Matrix.ConnectedSince))
	require.NotNil(t, msg.Statistics)
	assert.Equal(t, uint64(7), msg.Statistics.TelnetCommands)
	assert.Equal(t, uint64(12), msg.Statistics.EventsEmitted)
}

func TestHealthReporter_StartStop(t *testing.T) {
	m := newMockMQTT()
	h := NewHealthReporter(HealthReporterConfig{
		BridgeID:  "av-rack",
		Interval:  20 * time.Millisecond,
		Publisher: m,
		Source:    staticStatus{ControllerStatus{HTTPConnected: true}},
	})

	h.Start(context.Background())
	require.Eventually(t, func() bool {
		return len(m.onTopic(HealthTopic())) >= 3
	}, 2*time.Second, 5*time.Millisecond, "initial plus periodic publishes")

	h.Stop()
	h.Stop()

	msgs := m.onTopic(HealthTopic())
	var last HealthMessage
	require.NoError(t, json.Unmarshal(msgs[len(msgs)-1].Payload, &last))
	assert.Equal(t, HealthStopping, last.Status)

	count := len(msgs)
	time.Sleep(60 * time.Millisecond)
	assert.Len(t, m.onTopic(HealthTopic()), count, "no publishes after stop")
}

func TestHealthReporter_NilPublisher(t *testing.T) {
	h := NewHealthReporter(HealthReporterConfig{BridgeID: "av-rack"})
	assert.NoError(t, h.PublishNow())
	assert.NoError(t, h.PublishStarting())
	assert.Equal(t, defaultHealthInterval, h.interval)
}

func TestHealthReporter_LWT(t *testing.T) {
	h := NewHealthReporter(HealthReporterConfig{BridgeID: "av-rack"})

	payload, err := h.GetLWTPayload()
	require.NoError(t, err)
	assert.Equal(t, "graylogic/health/matrix", h.GetLWTTopic())

	var msg HealthMessage
	require.NoError(t, json.Unmarshal(payload, &msg))
	assert.Equal(t, "av-rack", msg.Bridge)
	assert.Equal(t, HealthOffline, msg.Status)
	assert.Equal(t, "unexpected_disconnect", msg.Reason)
	assert.Nil(t, msg.Matrix)
}

func TestNewHealthMessage_TelnetState(t *testing.T) {
	msg := NewHealthMessage("av-rack", "dev", HealthDegraded, ControllerStatus{
		TelnetEnabled: true,
		TelnetState:   StateDisconnected,
	}, time.Now().Add(-90*time.Second))

	assert.Equal(t, "disconnected", msg.Matrix.HTTP)
	assert.Equal(t, "disconnected", msg.Matrix.Telnet)
	assert.GreaterOrEqual(t, msg.UptimeSeconds, int64(89))
}
