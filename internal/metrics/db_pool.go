package metrics

import (
	"sync/atomic"

	"go.mongodb.org/mongo-driver/event"
)

// PoolStats mirrors the driver connection pool counters.
type PoolStats struct {
	open  atomic.Int64
	inUse atomic.Int64
}

// InUse returns connections checked out of the pool.
func (s *PoolStats) InUse() int64 { return s.inUse.Load() }

// Open returns connections currently established.
func (s *PoolStats) Open() int64 { return s.open.Load() }

// NewPoolMonitor returns a driver pool monitor that keeps stats and the
// DBConnectionPoolSize gauge current. stats may be nil.
func NewPoolMonitor(stats *PoolStats) *event.PoolMonitor {
	if stats == nil {
		stats = &PoolStats{}
	}
	return &event.PoolMonitor{
		Event: func(evt *event.PoolEvent) {
			switch evt.Type {
			case event.ConnectionReady:
				stats.open.Add(1)
			case event.ConnectionClosed:
				stats.open.Add(-1)
			case event.GetSucceeded:
				stats.inUse.Add(1)
			case event.ConnectionReturned:
				stats.inUse.Add(-1)
			default:
				return
			}
			UpdateDBPoolStats(stats)
		},
	}
}

// UpdateDBPoolStats publishes pool stats to the gauge.
func UpdateDBPoolStats(stats *PoolStats) {
	inUse := stats.InUse()
	DBConnectionPoolSize.WithLabelValues("active").Set(float64(inUse))
	DBConnectionPoolSize.WithLabelValues("idle").Set(float64(stats.Open() - inUse))
}
