package filesystem

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	sectorAllocatorPrometheusMetrics sync.Once

	sectorAllocatorSectorsAllocated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "buildbarn",
			Subsystem: "sectorfs",
			Name:      "sector_allocator_sectors_allocated_total",
			Help:      "Number of sectors handed out by the sector allocator.",
		})
	sectorAllocatorSectorsFreed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "buildbarn",
			Subsystem: "sectorfs",
			Name:      "sector_allocator_sectors_freed_total",
			Help:      "Number of sectors returned to the sector allocator.",
		})
	sectorAllocatorAllocationFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "buildbarn",
			Subsystem: "sectorfs",
			Name:      "sector_allocator_allocation_failures_total",
			Help:      "Number of times the sector allocator was unable to provide any space.",
		})
)

type metricsSectorAllocator struct {
	base SectorAllocator
}

// NewMetricsSectorAllocator creates a decorator for SectorAllocator
// that exposes Prometheus metrics on the number of sectors allocated
// and freed.
func NewMetricsSectorAllocator(base SectorAllocator) SectorAllocator {
	sectorAllocatorPrometheusMetrics.Do(func() {
		prometheus.MustRegister(sectorAllocatorSectorsAllocated)
		prometheus.MustRegister(sectorAllocatorSectorsFreed)
		prometheus.MustRegister(sectorAllocatorAllocationFailures)
	})

	return &metricsSectorAllocator{
		base: base,
	}
}

func (sa *metricsSectorAllocator) AllocateContiguous(maximum int) (uint32, int, error) {
	first, count, err := sa.base.AllocateContiguous(maximum)
	if err != nil {
		sectorAllocatorAllocationFailures.Inc()
		return 0, 0, err
	}
	sectorAllocatorSectorsAllocated.Add(float64(count))
	return first, count, nil
}

func (sa *metricsSectorAllocator) FreeContiguous(first uint32, count int) {
	sa.base.FreeContiguous(first, count)
	sectorAllocatorSectorsFreed.Add(float64(count))
}

func (sa *metricsSectorAllocator) FreeList(sectors []uint32) {
	sa.base.FreeList(sectors)
	count := 0
	for _, sector := range sectors {
		if sector != 0 {
			count++
		}
	}
	sectorAllocatorSectorsFreed.Add(float64(count))
}
