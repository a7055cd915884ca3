// Package connection manages the lifecycle of the log stream connection.
//
// A Manager owns exactly one transport connection at a time. It dials
// asynchronously, forwards log lines in arrival order, watches the
// connection with a heartbeat watchdog and recovers lost connections with
// jittered exponential backoff.
//
// # Reconnection Strategy
//
// When the connection closes, errors, fails to dial or goes stale, the
// manager schedules exactly one reconnect:
//
//	delay = floor_ms(min(30s, 1s * 1.5^attempt) * uniform(0.85, 1.15))
//
// The attempt counter resets when a connection opens. After ten scheduled
// attempts without success the manager gives up and stays RECONNECTING
// until Reconnect is called.
//
// # Liveness
//
// Any inbound frame counts as a heartbeat. The reserved frames "heartbeat"
// and "pong" are never delivered as lines. A connection that reports open
// but stays silent for more than 30 seconds is treated as lost.
package connection
