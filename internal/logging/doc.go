// Package logging provides structured logging for the LIFX LAN library and
// its command line tools.
//
// This package wraps a global zap logger with convenience functions. The
// logger is silent until Initialize is called with a level or the
// LIFXLAN_LOG_LEVEL environment variable is set, so library users see no
// output unless they ask for it.
//
// # Log Levels
//
//   - Debug: packets on the wire with hex dumps, retries, correlation misses
//   - Info: discovery results, bridge start and stop
//   - Warn: undecodable datagrams, lost devices
//   - Error: failed sends and discovery that found nothing
//
// # Structured Fields
//
// The transport uses the same keys everywhere so a request can be traced
// across log lines:
//
//	logging.Debug("Retrying request",
//	    logging.Serial("d073d5000001"),
//	    logging.Source(source),
//	    logging.Sequence(seq),
//	    logging.Attempt(2),
//	)
//
// # Packet Logging
//
//	logging.LogPacket("sent", "192.168.1.20:56700", "SetPower", serial, source, seq, data)
//	logging.LogRawBytes("Undecodable datagram", data)
//
// # Configuration
//
//	if err := logging.InitializeFromEnv(); err != nil {
//	    log.Fatal(err)
//	}
//	defer logging.Sync()
//
// # Thread Safety
//
// All logging functions are safe for concurrent use once the logger is
// initialized. Initialize and SetLogger should be called before any
// goroutines log.
package logging
