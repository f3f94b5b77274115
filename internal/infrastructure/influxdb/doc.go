// Package influxdb provides InfluxDB connectivity for the matrix bridge.
//
// # Purpose
//
// This package records matrix activity as time series:
//   - matrix_route: which input each output shows over time
//   - matrix_connection: HTTP and Telnet transport up/down
//   - matrix_event: controller event counts by type
//
// # Usage
//
//	cfg := config.InfluxDBConfig{
//	    URL:    "http://localhost:8086",
//	    Token:  "your-token",
//	    Org:    "graylogic",
//	    Bucket: "metrics",
//	}
//
//	client, err := influxdb.Connect(cfg, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.WriteRouteMetric("av-rack", 1, 3)
//
// Writes are batched per batch_size and flush_interval and never block.
// A rejected batch is logged through the Logger passed to Connect;
// connection and health check errors are returned.
package influxdb
