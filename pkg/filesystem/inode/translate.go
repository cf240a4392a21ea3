package inode

import (
	"github.com/buildbarn/bb-sectorfs/pkg/filesystem"
	"github.com/buildbarn/bb-sectorfs/pkg/filesystem/cache"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrOffsetOutOfRange is returned when attempting to translate an
// offset that lies at or beyond the end of an inode.
var ErrOffsetOutOfRange = status.Error(codes.OutOfRange, "Offset lies beyond the end of the inode")

// translate returns the data sector that stores the byte at a given
// offset. Offsets inside the direct region are resolved without
// performing any I/O. Every level of indirection requires one
// additional read against the SectorCache.
func (t *pointerTree) translate(sectorCache cache.SectorCache, length, offset int64) (uint32, error) {
	if offset < 0 || offset >= length {
		return 0, ErrOffsetOutOfRange
	}

	index := int(offset / filesystem.SectorSizeBytes)
	if index < directPointerCount {
		return t.pointers[index], nil
	}

	index -= directPointerCount
	if index < indirectPointerCount*pointersPerIndexBlock {
		return readIndexBlockEntry(
			sectorCache,
			t.pointers[firstIndirectPointer+index/pointersPerIndexBlock],
			index%pointersPerIndexBlock)
	}

	index -= indirectPointerCount * pointersPerIndexBlock
	innerRoot, err := readIndexBlockEntry(
		sectorCache,
		t.pointers[firstDoubleIndirectPointer+index/(pointersPerIndexBlock*pointersPerIndexBlock)],
		index/pointersPerIndexBlock%pointersPerIndexBlock)
	if err != nil {
		return 0, err
	}
	return readIndexBlockEntry(sectorCache, innerRoot, index%pointersPerIndexBlock)
}
