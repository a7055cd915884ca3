// Package transport provides the log stream transport.
//
// The transport layer handles:
//   - Websocket connections to the portal's /ws-logs endpoint
//   - Text frame I/O with serialised writes
//   - Heartbeat watchdog for silently dead connections
//   - Stream URL derivation from the portal origin
//
// # Frames
//
// All frames are text. Two inbound values are reserved for liveness:
//
//	"heartbeat"  sent periodically by the server
//	"pong"       reply to a client "ping"
//
// Every other frame is an opaque, renderable log line.
//
// # Heartbeat
//
// Connection liveness is monitored by the Watchdog:
//   - Ping interval: 5 seconds
//   - Staleness check interval: 5 seconds
//   - Staleness threshold: 30 seconds
//
// Any inbound frame counts as liveness evidence, not only "pong" and
// "heartbeat". Sockets can stay open long after the peer is gone (TCP
// half-open), so a connection that reports itself open but has been silent
// for longer than the threshold is declared stale.
package transport
