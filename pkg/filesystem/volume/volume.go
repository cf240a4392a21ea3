package volume

import (
	"github.com/buildbarn/bb-sectorfs/pkg/filesystem"
	"github.com/buildbarn/bb-sectorfs/pkg/filesystem/cache"
	"github.com/buildbarn/bb-sectorfs/pkg/filesystem/inode"
	"github.com/buildbarn/bb-storage/pkg/util"
	"github.com/google/uuid"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// minimumSectorCount is the size of the smallest device that can be
// formatted. It needs to hold the superblock, the free map inode and
// at least one sector of free map data.
const minimumSectorCount = 3

// Volume is a formatted SectorDevice that has been mounted. It
// provides an inode table whose sectors are tracked by a free map that
// is persisted on the device itself.
type Volume struct {
	id           uuid.UUID
	cache        cache.SectorCache
	freeMap      filesystem.BitmapSectorAllocator
	allocator    filesystem.SectorAllocator
	table        *inode.Table
	freeMapInode *inode.Inode
}

// Format a SectorDevice, so that it may be mounted. Sector zero holds
// the superblock. The free map is stored in an inode of fixed size,
// allocated right after it.
func Format(device filesystem.SectorDevice, id uuid.UUID) error {
	sectorCount := device.SectorCount()
	if sectorCount < minimumSectorCount {
		return status.Errorf(codes.InvalidArgument, "Device has %d sectors, while at least %d sectors are needed", sectorCount, minimumSectorCount)
	}

	sectorCache := cache.NewSectorCache(device, cache.DefaultSlotCount)
	freeMap := filesystem.NewBitmapSectorAllocator(sectorCount - 1)
	table := inode.NewTable(sectorCache, freeMap)
	sectors, err := filesystem.AllocateSectors(freeMap, 1)
	if err != nil {
		return err
	}
	freeMapSector := sectors[0]
	if err := table.Create(freeMapSector, int64(filesystem.GetBitmapSizeBytes(sectorCount-1)), false); err != nil {
		return util.StatusWrap(err, "Failed to create free map")
	}

	// The free map now accounts for its own sectors.
	freeMapInode, err := table.Open(freeMapSector)
	if err != nil {
		return util.StatusWrap(err, "Failed to open free map")
	}
	if _, err := freeMapInode.WriteAt(freeMap.MarshalBitmap(), 0); err != nil {
		table.Close(freeMapInode)
		return util.StatusWrap(err, "Failed to write free map")
	}
	if err := table.Close(freeMapInode); err != nil {
		return util.StatusWrap(err, "Failed to close free map")
	}

	sb := superblock{
		id:            id,
		sectorCount:   sectorCount,
		freeMapSector: freeMapSector,
	}
	b := sb.marshal()
	if err := sectorCache.WriteSector(superblockSector, b[:], 0); err != nil {
		return util.StatusWrap(err, "Failed to write superblock")
	}
	if err := sectorCache.Flush(); err != nil {
		return util.StatusWrap(err, "Failed to flush volume")
	}
	return nil
}

// AllocatorDecorator can be provided to Mount() to wrap the
// SectorAllocator used by the inode table, for example to enforce
// quotas or to collect metrics.
type AllocatorDecorator func(filesystem.SectorAllocator) filesystem.SectorAllocator

// Mount a volume that was previously created using Format(). All
// access to the device goes through the provided SectorCache.
func Mount(sectorCache cache.SectorCache, sectorCount uint32, decorator AllocatorDecorator) (*Volume, error) {
	var b [filesystem.SectorSizeBytes]byte
	if err := sectorCache.ReadSector(superblockSector, b[:], 0); err != nil {
		return nil, util.StatusWrap(err, "Failed to read superblock")
	}
	sb, err := unmarshalSuperblock(&b)
	if err != nil {
		return nil, err
	}
	if sb.sectorCount != sectorCount {
		return nil, status.Errorf(codes.InvalidArgument, "Volume was formatted for %d sectors, while the device has %d sectors", sb.sectorCount, sectorCount)
	}

	// Load the free map using a table that is not permitted to
	// allocate sectors, as the allocator is not available yet.
	bootstrapTable := inode.NewTable(sectorCache, filesystem.NewBitmapSectorAllocator(0))
	freeMapInode, err := bootstrapTable.Open(sb.freeMapSector)
	if err != nil {
		return nil, util.StatusWrap(err, "Failed to open free map")
	}
	bitmap := make([]byte, filesystem.GetBitmapSizeBytes(sectorCount-1))
	if freeMapInode.Length() != int64(len(bitmap)) {
		bootstrapTable.Close(freeMapInode)
		return nil, status.Errorf(codes.DataLoss, "Free map is %d bytes in size, while %d bytes were expected", freeMapInode.Length(), len(bitmap))
	}
	_, err = freeMapInode.ReadAt(bitmap, 0)
	bootstrapTable.Close(freeMapInode)
	if err != nil {
		return nil, util.StatusWrap(err, "Failed to read free map")
	}
	freeMap, err := filesystem.NewBitmapSectorAllocatorFromBitmap(sectorCount-1, bitmap)
	if err != nil {
		return nil, util.StatusWrap(err, "Failed to load free map")
	}

	var allocator filesystem.SectorAllocator = freeMap
	if decorator != nil {
		allocator = decorator(allocator)
	}
	table := inode.NewTable(sectorCache, allocator)
	freeMapInode, err = table.Open(sb.freeMapSector)
	if err != nil {
		return nil, util.StatusWrap(err, "Failed to open free map")
	}
	return &Volume{
		id:           sb.id,
		cache:        sectorCache,
		freeMap:      freeMap,
		allocator:    allocator,
		table:        table,
		freeMapInode: freeMapInode,
	}, nil
}

// ID returns the identifier that was assigned to the volume when it
// was formatted.
func (v *Volume) ID() uuid.UUID {
	return v.id
}

// Table returns the inode table of the volume.
func (v *Volume) Table() *inode.Table {
	return v.table
}

// GetFreeSectorCount returns the number of sectors that are not in
// use by any inode.
func (v *Volume) GetFreeSectorCount() uint32 {
	return v.freeMap.GetFreeSectorCount()
}

// CreateInode allocates a sector for a new inode and creates it. The
// sector number of the inode is returned.
func (v *Volume) CreateInode(length int64, isDirectory bool) (uint32, error) {
	sectors, err := filesystem.AllocateSectors(v.allocator, 1)
	if err != nil {
		return 0, util.StatusWrap(err, "Failed to allocate inode")
	}
	if err := v.table.Create(sectors[0], length, isDirectory); err != nil {
		v.allocator.FreeList(sectors)
		return 0, err
	}
	return sectors[0], nil
}

// Sync writes the free map and all dirty sectors to the device.
func (v *Volume) Sync() error {
	if _, err := v.freeMapInode.WriteAt(v.freeMap.MarshalBitmap(), 0); err != nil {
		return util.StatusWrap(err, "Failed to write free map")
	}
	if err := v.cache.Flush(); err != nil {
		return util.StatusWrap(err, "Failed to flush volume")
	}
	return nil
}

// Close the volume. All inodes other than the free map must have been
// closed.
func (v *Volume) Close() error {
	if openCount := v.table.GetOpenCount(); openCount > 1 {
		return status.Errorf(codes.FailedPrecondition, "%d inodes are still open", openCount-1)
	}
	if _, err := v.freeMapInode.WriteAt(v.freeMap.MarshalBitmap(), 0); err != nil {
		return util.StatusWrap(err, "Failed to write free map")
	}
	if err := v.table.Close(v.freeMapInode); err != nil {
		return util.StatusWrap(err, "Failed to close free map")
	}
	if err := v.cache.Flush(); err != nil {
		return util.StatusWrap(err, "Failed to flush volume")
	}
	return nil
}
