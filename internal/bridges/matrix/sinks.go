package matrix

import (
	"context"
	"time"
)

// auditWriteTimeout bounds one audit insert.
const auditWriteTimeout = 5 * time.Second

// MetricWriter records matrix activity as time-series points.
// *influxdb.Client satisfies it.
type MetricWriter interface {
	WriteRouteMetric(matrixID string, output, input int)
	WriteConnectionMetric(matrixID, transport string, connected bool)
	WriteEventMetric(matrixID, eventType string)
}

// AuditEntry is one journal row derived from an event.
type AuditEntry struct {
	Action   string
	MatrixID string
	Details  map[string]any
	At       time.Time
}

// AuditRecorder persists audit entries.
type AuditRecorder interface {
	RecordMatrixEvent(ctx context.Context, entry AuditEntry) error
}

// AttachMetrics subscribes w to the controller's events.
//
// Every event is counted. Routing updates become route points, one per
// output for switch-all. Connection events become connection points.
func AttachMetrics(c *Controller, w MetricWriter) (detach func()) {
	return c.Subscribe(func(ev Event) {
		w.WriteEventMetric(ev.MatrixID, string(ev.Type))

		switch ev.Type {
		case EventUpdate:
			in, ok := ev.Data["input"].(int)
			if !ok {
				return
			}
			switch out := ev.Data["output"].(type) {
			case int:
				w.WriteRouteMetric(ev.MatrixID, out, in)
			case string:
				for o := MinPort; o <= MaxPort; o++ {
					w.WriteRouteMetric(ev.MatrixID, o, in)
				}
			}
		case EventConnected, EventDisconnected:
			connected := ev.Type == EventConnected
			transport, _ := ev.Data["transport"].(string)
			if transport == "all" {
				w.WriteConnectionMetric(ev.MatrixID, "http", connected)
				w.WriteConnectionMetric(ev.MatrixID, "telnet", connected)
				return
			}
			if transport != "" {
				w.WriteConnectionMetric(ev.MatrixID, transport, connected)
			}
		default:
		}
	})
}

// AttachAudit journals state changes, failures and connection changes.
// Raw Telnet push updates and reconnect attempts are not journaled.
func AttachAudit(c *Controller, r AuditRecorder) (detach func()) {
	return c.Subscribe(func(ev Event) {
		switch ev.Type {
		case EventReconnecting:
			return
		case EventUpdate:
			if src, _ := ev.Data["source"].(string); src == "telnet_push" {
				return
			}
		default:
		}

		ctx, cancel := context.WithTimeout(context.Background(), auditWriteTimeout)
		defer cancel()

		err := r.RecordMatrixEvent(ctx, AuditEntry{
			Action:   string(ev.Type),
			MatrixID: ev.MatrixID,
			Details:  ev.Data,
			At:       ev.Timestamp,
		})
		if err != nil {
			c.logError("audit write failed", err, "id", ev.MatrixID, "type", string(ev.Type))
		}
	})
}
