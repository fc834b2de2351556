package app

import (
	"sync/atomic"
	"time"
)

// Metrics tracks service counters for the stats endpoint. Best-effort,
// in-memory only.
type Metrics struct {
	startTime time.Time

	dmsSent         atomic.Int64
	broadcastsSent  atomic.Int64
	stakeAlerts     atomic.Int64
	winAlerts       atomic.Int64
	lossAlerts      atomic.Int64
	cyclesCompleted atomic.Int64
	cyclesSkipped   atomic.Int64
}

func NewMetrics() *Metrics {
	return &Metrics{startTime: time.Now()}
}

func (m *Metrics) Uptime() time.Duration {
	return time.Since(m.startTime)
}
