// Package probe decides whether a URL is reachable from this machine.
//
// A probe session polls {url}/health.ico with a cache-busting query until a
// response arrives or a deadline passes. Any HTTP response counts as
// reachable, whatever its status: only the absence of a response means the
// target is down. Requests carry no cookies or credentials and bypass
// caches.
//
// Each session settles exactly once. When it settles the deadline timer is
// stopped and any request still in flight is cancelled.
package probe
