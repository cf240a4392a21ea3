package cache

import (
	"sync"
	"sync/atomic"

	"github.com/buildbarn/bb-sectorfs/pkg/filesystem"
	"github.com/buildbarn/bb-storage/pkg/util"
	"github.com/prometheus/client_golang/prometheus"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	sectorCachePrometheusMetrics sync.Once

	sectorCacheOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "buildbarn",
			Subsystem: "sectorfs",
			Name:      "sector_cache_operations_total",
			Help:      "Number of sector cache lookups, partitioned by operation and whether the sector was already cached.",
		},
		[]string{"operation", "result"})
	sectorCacheOperationsReadHit   = sectorCacheOperations.WithLabelValues("Read", "Hit")
	sectorCacheOperationsReadMiss  = sectorCacheOperations.WithLabelValues("Read", "Miss")
	sectorCacheOperationsWriteHit  = sectorCacheOperations.WithLabelValues("Write", "Hit")
	sectorCacheOperationsWriteMiss = sectorCacheOperations.WithLabelValues("Write", "Miss")

	sectorCacheEvictions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "buildbarn",
			Subsystem: "sectorfs",
			Name:      "sector_cache_evictions_total",
			Help:      "Number of cache slots reused for another sector, partitioned by whether a slot had to be written back first.",
		},
		[]string{"state"})
	sectorCacheEvictionsClean = sectorCacheEvictions.WithLabelValues("Clean")
	sectorCacheEvictionsDirty = sectorCacheEvictions.WithLabelValues("Dirty")
)

// SectorCache is a write-back cache of sectors stored on a
// SectorDevice. Callers may access any byte range that lies within a
// single sector.
//
// All methods are safe for concurrent use. Concurrent writes to
// overlapping ranges of the same sector do not tear at the granularity
// of a single call, but which of them ends up being stored is
// unspecified.
type SectorCache interface {
	// ReadSector copies len(p) bytes from a sector, starting at
	// offsetWithinSector.
	ReadSector(sector uint32, p []byte, offsetWithinSector int) error
	// WriteSector copies p into a sector, starting at
	// offsetWithinSector. The data is written to the SectorDevice
	// upon eviction or when the cache is flushed.
	WriteSector(sector uint32, p []byte, offsetWithinSector int) error
	// Flush writes all dirty sectors to the SectorDevice.
	Flush() error
}

// DefaultSlotCount is the number of sectors a SectorCache holds if no
// explicit capacity is configured.
const DefaultSlotCount = 64

type cacheSlot struct {
	// Protected by sectorCache.lock. The pin count may only be
	// incremented while holding sectorCache.lock, but may be
	// decremented without it. Slots with a non-zero pin count are
	// never chosen for eviction.
	sector     uint32
	mapped     bool
	referenced bool
	pins       atomic.Int32

	// Protected by payloadLock. Only acquired by goroutines that
	// have pinned the slot, or by the goroutine holding
	// sectorCache.lock when the slot is not pinned.
	payloadLock  sync.RWMutex
	loadedSector uint32
	loaded       bool
	dirty        bool
	data         [filesystem.SectorSizeBytes]byte
}

func (s *cacheSlot) unpin() {
	if s.pins.Add(-1) < 0 {
		panic("Cache slot pin count became negative")
	}
}

type sectorCache struct {
	device   filesystem.SectorDevice
	capacity int

	lock    sync.Mutex
	slots   []*cacheSlot // In order of creation.
	sectors map[uint32]*cacheSlot
}

// NewSectorCache creates a SectorCache that can hold up to a fixed
// number of sectors. When the cache is full, slots are reused by
// scanning them in order of creation, giving each recently accessed
// slot a second chance (the CLOCK algorithm).
func NewSectorCache(device filesystem.SectorDevice, capacity int) SectorCache {
	sectorCachePrometheusMetrics.Do(func() {
		prometheus.MustRegister(sectorCacheOperations)
		prometheus.MustRegister(sectorCacheEvictions)
	})

	return &sectorCache{
		device:   device,
		capacity: capacity,
		slots:    make([]*cacheSlot, 0, capacity),
		sectors:  make(map[uint32]*cacheSlot, capacity),
	}
}

func checkRange(p []byte, offsetWithinSector int) error {
	if offsetWithinSector < 0 || offsetWithinSector+len(p) > filesystem.SectorSizeBytes {
		return status.Errorf(codes.InvalidArgument, "Range [%d, %d) does not lie within a single sector", offsetWithinSector, offsetWithinSector+len(p))
	}
	return nil
}

// selectVictimLocked picks a slot to be reused for another sector. The
// first pass clears the referenced flag of every slot it skips, so the
// second pass is guaranteed to succeed unless every slot is pinned.
func (c *sectorCache) selectVictimLocked() *cacheSlot {
	for pass := 0; pass < 2; pass++ {
		for _, s := range c.slots {
			if s.pins.Load() > 0 {
				continue
			}
			if s.referenced {
				s.referenced = false
				continue
			}
			return s
		}
	}
	panic("All sector cache slots are pinned")
}

// pinSlot returns a pinned slot that is mapped to a given sector. If
// the sector was not present in the cache yet, the slot is returned
// with its payload lock held for writing, and the caller is
// responsible for loading its contents.
func (c *sectorCache) pinSlot(sector uint32, hits, misses prometheus.Counter) (*cacheSlot, bool, error) {
	var writtenBack *cacheSlot
	for {
		c.lock.Lock()
		if s, ok := c.sectors[sector]; ok {
			s.referenced = true
			s.pins.Add(1)
			c.lock.Unlock()
			hits.Inc()
			return s, false, nil
		}

		var s *cacheSlot
		if len(c.slots) < c.capacity {
			s = &cacheSlot{referenced: true}
			c.slots = append(c.slots, s)
			s.payloadLock.Lock()
		} else {
			s = c.selectVictimLocked()
			s.payloadLock.Lock()
			if s.loaded && s.dirty {
				// Write back the victim's contents before
				// reusing it. Keep the slot mapped while
				// doing so, so that the data remains
				// accessible if writing fails. Retry the
				// lookup afterwards, as the cache may have
				// changed in the meantime.
				s.pins.Add(1)
				c.lock.Unlock()
				err := c.device.WriteSector(s.loadedSector, s.data[:])
				if err == nil {
					s.dirty = false
				}
				s.payloadLock.Unlock()
				s.unpin()
				if err != nil {
					return nil, false, util.StatusWrapf(err, "Failed to write back sector %d", s.loadedSector)
				}
				writtenBack = s
				continue
			}
			if s.mapped {
				delete(c.sectors, s.sector)
			}
			if s == writtenBack {
				sectorCacheEvictionsDirty.Inc()
			} else {
				sectorCacheEvictionsClean.Inc()
			}
		}

		s.sector = sector
		s.mapped = true
		s.pins.Add(1)
		c.sectors[sector] = s
		c.lock.Unlock()
		misses.Inc()
		return s, true, nil
	}
}

// loadSlot reads the contents of a freshly mapped slot from the
// device. The caller must hold the slot's payload lock for writing.
// Upon failure, the slot is unmapped, so that successive attempts to
// access the sector retry the load.
func (c *sectorCache) loadSlot(s *cacheSlot, sector uint32) error {
	if err := c.device.ReadSector(sector, s.data[:]); err != nil {
		s.loaded = false
		s.dirty = false
		c.lock.Lock()
		if c.sectors[sector] == s {
			delete(c.sectors, sector)
			s.mapped = false
		}
		c.lock.Unlock()
		return util.StatusWrapf(err, "Failed to load sector %d", sector)
	}
	s.loadedSector = sector
	s.loaded = true
	s.dirty = false
	return nil
}

func (c *sectorCache) ReadSector(sector uint32, p []byte, offsetWithinSector int) error {
	if err := checkRange(p, offsetWithinSector); err != nil {
		return err
	}
	for {
		s, needsLoad, err := c.pinSlot(sector, sectorCacheOperationsReadHit, sectorCacheOperationsReadMiss)
		if err != nil {
			return err
		}
		if needsLoad {
			err := c.loadSlot(s, sector)
			if err == nil {
				copy(p, s.data[offsetWithinSector:])
			}
			s.payloadLock.Unlock()
			s.unpin()
			return err
		}

		s.payloadLock.RLock()
		if s.loaded && s.loadedSector == sector {
			copy(p, s.data[offsetWithinSector:])
			s.payloadLock.RUnlock()
			s.unpin()
			return nil
		}
		// Another goroutine failed to load the sector.
		s.payloadLock.RUnlock()
		s.unpin()
	}
}

func (c *sectorCache) WriteSector(sector uint32, p []byte, offsetWithinSector int) error {
	if err := checkRange(p, offsetWithinSector); err != nil {
		return err
	}
	for {
		s, needsLoad, err := c.pinSlot(sector, sectorCacheOperationsWriteHit, sectorCacheOperationsWriteMiss)
		if err != nil {
			return err
		}
		if needsLoad {
			var err error
			if len(p) == filesystem.SectorSizeBytes {
				// The sector is overwritten entirely, so
				// there is no need to load it.
				s.loadedSector = sector
				s.loaded = true
			} else {
				err = c.loadSlot(s, sector)
			}
			if err == nil {
				copy(s.data[offsetWithinSector:], p)
				s.dirty = true
			}
			s.payloadLock.Unlock()
			s.unpin()
			return err
		}

		s.payloadLock.Lock()
		if s.loaded && s.loadedSector == sector {
			copy(s.data[offsetWithinSector:], p)
			s.dirty = true
			s.payloadLock.Unlock()
			s.unpin()
			return nil
		}
		// Another goroutine failed to load the sector.
		s.payloadLock.Unlock()
		s.unpin()
	}
}

func (c *sectorCache) Flush() error {
	// Slots are never removed, so it is safe to iterate over a
	// snapshot of the list. Pin slots one at a time while writing
	// them back, so that other goroutines can still reuse the
	// remaining slots. Don't hold the lock while performing I/O.
	c.lock.Lock()
	slots := c.slots
	c.lock.Unlock()

	var firstErr error
	for _, s := range slots {
		c.lock.Lock()
		mapped := s.mapped
		if mapped {
			s.pins.Add(1)
		}
		c.lock.Unlock()
		if !mapped {
			continue
		}

		s.payloadLock.Lock()
		if s.loaded && s.dirty {
			if err := c.device.WriteSector(s.loadedSector, s.data[:]); err == nil {
				s.dirty = false
			} else if firstErr == nil {
				firstErr = util.StatusWrapf(err, "Failed to write back sector %d", s.loadedSector)
			}
		}
		s.payloadLock.Unlock()
		s.unpin()
	}
	return firstErr
}
