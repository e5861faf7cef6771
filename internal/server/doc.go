// Package server implements the passive TCP capture listener.
//
// The server accepts connections on a single port, reads whatever the peer
// sends and records every non-trivial read to the capture log. It never
// replies, apart from a short notice to peers that idle out.
//
// # Components
//
//   - Server: binds the port, runs the accept loop and owns shutdown.
//   - Registry: admission control against MaxConnections. Rejected sockets are
//     closed immediately and no session is created.
//   - Session: one per admitted connection, with its own goroutine.
//
// # Session Lifecycle
//
//	Active --(idle timeout | peer EOF | read error)--> Draining --> Closed
//	Active --(forced shutdown | max lifetime)---------------------> Closed
//
// While Active every read refreshes the idle deadline and updates the byte
// counters. Reads that are empty or all zero are counted but not recorded.
// A session that idled out is sent TimeoutNotice and half-closed; the
// graceful finish is bounded by DrainTimeout. Entering Closed frees the
// registry slot exactly once, however many times a close is triggered.
//
// # Shutdown
//
// ShutdownGraceful stops accepting and waits for sessions to finish on their
// own. ShutdownForced stops accepting and closes every session at once. Run
// maps signals onto these: SIGINT drains, a second SIGINT or a SIGTERM forces.
//
// # Events
//
// Lifecycle events (server_listening, server_closed, connection_admitted,
// connection_rejected, connection_closed, capture_write_failed, plus
// capture_recorded and capture_discarded) are delivered to an EventSink.
// The default LogSink renders them with zap.
//
// # Usage Example
//
//	srv, err := server.New(&server.Config{
//	    Port:           3074,
//	    LogFile:        "etqw-msr-log.txt",
//	    MaxConnections: 10,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Start blocks until shutdown signal or error
//	if err := srv.Start(context.Background()); err != nil {
//	    log.Fatal(err)
//	}
package server
