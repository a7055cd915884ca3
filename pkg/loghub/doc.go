// Package loghub serves the /ws-logs stream.
//
// A Hub tails every *.log file in a directory, keeps a bounded history of
// formatted lines and fans new lines out to websocket subscribers. New
// subscribers first receive the history. Each subscriber gets a "heartbeat"
// frame every HeartbeatInterval and a "pong" for every "ping" it sends.
// Subscribers that cannot keep up are disconnected rather than slowing the
// others down.
package loghub
