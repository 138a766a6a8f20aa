package websocket

import "time"

// SetHeartbeatIntervalForTesting overrides the package-level heartbeat
// cadence and returns a func that restores the previous value. Tests use
// it to drive the missed-heartbeat disconnect path without waiting out
// the real 30-second interval.
func SetHeartbeatIntervalForTesting(d time.Duration) (restore func()) {
	prev := heartbeatInterval
	heartbeatInterval = d
	return func() { heartbeatInterval = prev }
}
