// Package tunnel tracks the public tunnels that expose local applications.
//
// Named tunnels are configured ahead of time; quick tunnels are created on
// demand by the tunnel manager backend and receive a random public URL. A
// Handle pairs a local target URL with its public tunnel URL and a status:
//
//	pending  the tunnel exists but has not been confirmed reachable
//	active   a probe of the tunnel URL got a response
//	error    the tunnel could not be reached
//
// Status is a freshness signal derived from probes and may go stale between
// checks. It is written only by the Waiter and the Registry's status checks.
package tunnel
