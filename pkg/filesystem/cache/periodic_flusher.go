package cache

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/buildbarn/bb-storage/pkg/clock"
	"github.com/buildbarn/bb-storage/pkg/util"
	"github.com/prometheus/client_golang/prometheus"
)

// DefaultFlushInterval is the amount of time between successive
// flushes performed by PeriodicFlusher if no explicit interval is
// configured.
const DefaultFlushInterval = 1500 * time.Millisecond

var (
	periodicFlusherPrometheusMetrics sync.Once

	periodicFlusherFlushDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "buildbarn",
			Subsystem: "sectorfs",
			Name:      "periodic_flusher_flush_duration_seconds",
			Help:      "Amount of time spent writing back dirty sectors, in seconds.",
			Buckets:   util.DecimalExponentialBuckets(-4, 6, 2),
		},
		[]string{"result"})
	periodicFlusherFlushDurationSecondsSuccess = periodicFlusherFlushDurationSeconds.WithLabelValues("Success")
	periodicFlusherFlushDurationSecondsFailure = periodicFlusherFlushDurationSeconds.WithLabelValues("Failure")
)

// PeriodicFlusher writes back dirty sectors contained in a SectorCache
// at a fixed interval. This bounds the amount of data that is lost if
// the process terminates uncleanly.
type PeriodicFlusher struct {
	cache    SectorCache
	clock    clock.Clock
	interval time.Duration
}

// NewPeriodicFlusher creates a PeriodicFlusher for a given SectorCache.
func NewPeriodicFlusher(cache SectorCache, clock clock.Clock, interval time.Duration) *PeriodicFlusher {
	periodicFlusherPrometheusMetrics.Do(func() {
		prometheus.MustRegister(periodicFlusherFlushDurationSeconds)
	})

	return &PeriodicFlusher{
		cache:    cache,
		clock:    clock,
		interval: interval,
	}
}

func (pf *PeriodicFlusher) flush() error {
	timeStart := pf.clock.Now()
	err := pf.cache.Flush()
	duration := pf.clock.Now().Sub(timeStart).Seconds()
	if err != nil {
		periodicFlusherFlushDurationSecondsFailure.Observe(duration)
		return err
	}
	periodicFlusherFlushDurationSecondsSuccess.Observe(duration)
	return nil
}

// Run the flusher until the provided context is cancelled. Failures
// of periodic flushes are logged, as the sectors involved remain dirty
// and are retried during the next iteration. Upon cancellation, a
// final flush is performed, whose error is returned.
func (pf *PeriodicFlusher) Run(ctx context.Context) error {
	for {
		timer, timerChannel := pf.clock.NewTimer(pf.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			if err := pf.flush(); err != nil {
				return util.StatusWrap(err, "Failed to perform final flush")
			}
			return nil
		case <-timerChannel:
			if err := pf.flush(); err != nil {
				log.Print("Failed to perform periodic flush: ", err)
			}
		}
	}
}
