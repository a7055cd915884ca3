// Package log provides structured event tracing for the log stream and the
// tunnel prober.
//
// This package defines the Logger interface and Event types for capturing
// connection-level events at multiple layers (transport, stream, tunnel).
// It is separate from operational logging (slog): the trace is a complete,
// machine-readable record of what happened to a connection, suitable for
// reconstructing a reconnect storm or a tunnel that never came up.
//
// # Basic Usage
//
// Applications configure tracing by providing a Logger implementation:
//
//	// For development: log to console via slog
//	cfg.EventLogger = log.NewSlogAdapter(slog.Default())
//
//	// For production: write to a trace file
//	cfg.EventLogger, _ = log.NewFileLogger("/var/log/portal/stream.plog")
//
//	// Both: use MultiLogger
//	cfg.EventLogger = log.NewMultiLogger(
//	    log.NewSlogAdapter(slog.Default()),
//	    fileLogger,
//	)
//
// # Event Types
//
// Events are captured at multiple layers:
//   - Transport: frames and control frames (FrameEvent, ControlMsgEvent)
//   - Stream: connection state changes and reconnect scheduling
//     (StateChangeEvent, ReconnectEvent)
//   - Tunnel: reachability probes and tunnel status (ProbeEvent, StateChangeEvent)
//
// Errors at any layer have a dedicated event type.
//
// # File Format
//
// Trace files use CBOR encoding with the .plog extension. The portal-trace
// CLI tool provides viewing and statistics.
package log
