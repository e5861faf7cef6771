// Package logging provides structured logging for the capture server.
//
// This package wraps a zap logger with convenience functions used throughout
// the server. Diagnostic output goes here; captured payloads go to the capture
// log (see package capture) and never depend on the log level.
//
// # Log Levels
//
//   - Debug: per-read details, hex dumps, discarded keep-alives
//   - Info: listener and connection lifecycle
//   - Warn: rejected connections, failed capture writes
//   - Error: startup failures
//
// # Configuration
//
// Initialize logging at startup:
//
//	if err := logging.Initialize("debug"); err != nil {
//	    log.Fatal(err)
//	}
//	defer logging.Sync()
//
// An empty level falls back to the MSRCAP_LOG_LEVEL environment variable, and
// logging is silent when neither is set.
//
// # Thread Safety
//
// All logging functions are safe for concurrent use. SetLogger and Initialize
// are meant to be called once before the server starts.
package logging
