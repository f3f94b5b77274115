package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurements written by the bridge. Every point carries a matrix_id tag.
const (
	MeasurementRoute      = "matrix_route"
	MeasurementConnection = "matrix_connection"
	MeasurementEvent      = "matrix_event"
)

// WriteRouteMetric records that output now shows input. Each output is its
// own series:
//
//	matrix_route,matrix_id=av-rack,output=1 input=3i
func (c *Client) WriteRouteMetric(matrixID string, output, input int) {
	c.write(MeasurementRoute,
		map[string]string{"matrix_id": matrixID, "output": strconv.Itoa(output)},
		map[string]any{"input": input})
}

// WriteConnectionMetric records the http or telnet transport going up or
// down.
func (c *Client) WriteConnectionMetric(matrixID, transport string, connected bool) {
	c.write(MeasurementConnection,
		map[string]string{"matrix_id": matrixID, "transport": transport},
		map[string]any{"connected": connected})
}

// WriteEventMetric counts one controller event; sum count per type for
// rates.
func (c *Client) WriteEventMetric(matrixID, eventType string) {
	c.write(MeasurementEvent,
		map[string]string{"matrix_id": matrixID, "type": eventType},
		map[string]any{"count": 1})
}

func (c *Client) write(measurement string, tags map[string]string, fields map[string]any) {
	if c.writeAPI == nil || c.closed.Load() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, time.Now()))
}
