package filesystem

import (
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type quotaEnforcingSectorAllocator struct {
	base             SectorAllocator
	sectorsRemaining quotaMetric
}

// NewQuotaEnforcingSectorAllocator creates a SectorAllocator that
// limits how many sectors may be allocated from an underlying
// SectorAllocator. This can be used to reserve part of a device, or to
// let inode growth fail early in tests.
func NewQuotaEnforcingSectorAllocator(base SectorAllocator, maximumSectors int64) SectorAllocator {
	sa := &quotaEnforcingSectorAllocator{
		base: base,
	}
	sa.sectorsRemaining.remaining.Store(maximumSectors)
	return sa
}

func (sa *quotaEnforcingSectorAllocator) AllocateContiguous(maximum int) (uint32, int, error) {
	// Shrink the request to what the quota permits, so that
	// callers obtain a partial allocation instead of a failure.
	request := int64(maximum)
	for request > 0 && !sa.sectorsRemaining.allocate(request) {
		request = min(request-1, sa.sectorsRemaining.remaining.Load())
	}
	if request <= 0 {
		return 0, 0, status.Error(codes.ResourceExhausted, "Sector count quota reached")
	}
	first, count, err := sa.base.AllocateContiguous(int(request))
	sa.sectorsRemaining.release(request - int64(count))
	return first, count, err
}

func (sa *quotaEnforcingSectorAllocator) FreeContiguous(first uint32, count int) {
	sa.sectorsRemaining.release(int64(count))
	sa.base.FreeContiguous(first, count)
}

func (sa *quotaEnforcingSectorAllocator) FreeList(sectors []uint32) {
	count := int64(0)
	for _, sector := range sectors {
		if sector != 0 {
			count++
		}
	}
	sa.sectorsRemaining.release(count)
	sa.base.FreeList(sectors)
}
