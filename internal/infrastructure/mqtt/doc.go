// Package mqtt provides MQTT client connectivity for the matrix bridge.
//
// This package manages:
//   - The broker session, reconnected by paho with backoff
//   - Publishing with bounded waits for the broker's ack
//   - Subscriptions replayed after every reconnect
//   - An optional will carrying the bridge's offline health message
//
// # Architecture
//
// The bridge receives commands and read requests from Gray Logic Core over
// MQTT and publishes acks, responses, events, retained state and health.
//
//	Gray Logic Core ↔ MQTT Broker ↔ Matrix Bridge ↔ HDMI Matrix
//
// # Security Considerations
//
//   - TLS is required for production deployments (cfg.Broker.TLS=true)
//   - Credentials are validated against broker ACL
//   - Anonymous access is only for local development
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, mqtt.WithWill(lwtTopic, lwtPayload))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.Subscribe("graylogic/command/matrix/av-rack", 1,
//	    func(topic string, payload []byte) error {
//	        return handle(payload)
//	    })
package mqtt
