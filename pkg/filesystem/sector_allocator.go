package filesystem

import (
	"github.com/buildbarn/bb-storage/pkg/util"
)

// SectorAllocator keeps track of which sectors of a SectorDevice are
// in use. It is used to obtain space for inode records, index blocks
// and data sectors.
//
// Implementations are safe for concurrent use.
type SectorAllocator interface {
	// Allocate a contiguous range of sectors.
	//
	// Under high utilization, it may not be possible to allocate
	// all space contiguously. In that case, this function returns
	// fewer sectors than requested. Repeated calls to this function
	// are necessary to request the desired amount of space, albeit
	// fragmented.
	//
	// Sector numbers handed out by this function start at one.
	// Sector zero holds the superblock and is used inside pointer
	// trees to denote the absence of a sector.
	AllocateContiguous(maximum int) (uint32, int, error)
	// Free a contiguous range of sectors. It is invalid to call
	// this function with the first sector number being zero.
	FreeContiguous(first uint32, count int)
	// Free a potentially fragmented list of sectors. Elements with
	// value zero are ignored.
	FreeList(sectors []uint32)
}

// AllocateSectors obtains exactly count sectors from a SectorAllocator,
// which may be fragmented. If the allocator runs out of space, all
// sectors obtained so far are handed back and the allocator's error is
// returned.
func AllocateSectors(sectorAllocator SectorAllocator, count int) ([]uint32, error) {
	sectors := make([]uint32, 0, count)
	for len(sectors) < count {
		first, n, err := sectorAllocator.AllocateContiguous(count - len(sectors))
		if err != nil {
			if len(sectors) > 0 {
				sectorAllocator.FreeList(sectors)
			}
			return nil, util.StatusWrapf(err, "Failed to allocate %d sectors", count)
		}
		for i := 0; i < n; i++ {
			sectors = append(sectors, first+uint32(i))
		}
	}
	return sectors, nil
}

// ReleaseSectors hands a contiguous range of sectors back to a
// SectorAllocator.
func ReleaseSectors(sectorAllocator SectorAllocator, first uint32, count int) {
	if count > 0 {
		sectorAllocator.FreeContiguous(first, count)
	}
}
