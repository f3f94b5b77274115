// Package matrix implements the HDMI matrix bridge for Gray Logic.
//
// The bridge controls an 8-in/8-out HDMI matrix switch through the two
// transports its firmware exposes:
//
//	┌──────────────┐  JSON over HTTPS (cookie session)  ┌──────────────┐
//	│  Controller  │◄──────────────────────────────────►│              │
//	│ (this pkg)   │                                    │  8×8 matrix  │
//	│              │◄──────────────────────────────────►│              │
//	└──────────────┘  Telnet text session (!\r\n)       └──────────────┘
//
// # Transports
//
// The HTTP command channel posts {"comhead": ...} objects to /cgi-bin/instr
// and decodes the text/plain JSON reply. It is stateless apart from the
// session cookie.
//
// The Telnet session keeps one persistent stream. Replies carry no request
// identifier, so only one command may be in flight; completion of a reply is
// detected by the Completion heuristic, bounded by an absolute timeout.
//
// # Controller
//
// Controller unifies both transports: routing, presets and settings go over
// HTTP; CEC commands prefer Telnet when it is up and fall back to HTTP; the
// full text status dump and cable detection are Telnet-only. CEC commands are
// only delivered to ports whose CEC control is enabled, so the controller keeps
// a time-boxed cache of the device's 16 enable bits and flips single bits
// with read-modify-write.
//
// # Events
//
// Connection changes and successful mutations are emitted as Events to
// subscribers registered on the Notifier. Sinks in this package forward them
// to MQTT, InfluxDB and the audit journal.
//
// # Thread Safety
//
// All exported types are safe for concurrent use from multiple goroutines.
package matrix
