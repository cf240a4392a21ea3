package inode

import (
	"github.com/buildbarn/bb-sectorfs/pkg/filesystem"
)

// Layout of the pointer tree of an inode. The first pointers refer to
// data sectors directly. The pointers that follow refer to index
// blocks containing pointers to data sectors, and the final pointers
// refer to index blocks containing pointers to index blocks.
const (
	directPointerCount         = 5
	indirectPointerCount       = 8
	doubleIndirectPointerCount = 2
	pointerCount               = directPointerCount + indirectPointerCount + doubleIndirectPointerCount

	firstIndirectPointer       = directPointerCount
	firstDoubleIndirectPointer = firstIndirectPointer + indirectPointerCount

	pointersPerIndexBlock = filesystem.SectorSizeBytes / 4

	maximumDataSectorCount = directPointerCount +
		indirectPointerCount*pointersPerIndexBlock +
		doubleIndirectPointerCount*pointersPerIndexBlock*pointersPerIndexBlock
)

// MaximumSizeBytes is the size of the largest inode that can be
// represented by a pointer tree.
const MaximumSizeBytes = maximumDataSectorCount * filesystem.SectorSizeBytes

// frontier records how far the pointer tree has been populated, so
// that growth can continue where it left off without inspecting the
// sectors that were allocated previously.
//
// pointerIndex is the first pointer of the inode that does not refer
// to a fully populated subtree. For single indirect pointers,
// indirectIndex is the number of entries of the index block that have
// been filled. For double indirect pointers, indirectIndex is the
// entry of the outer index block that is being filled, while
// doubleIndirectIndex is the number of entries of the inner index
// block that have been filled. Index blocks only exist if at least one
// of their entries has been filled.
type frontier struct {
	pointerIndex        uint32
	indirectIndex       uint32
	doubleIndirectIndex uint32
}

func (f *frontier) isValid() bool {
	switch {
	case f.pointerIndex < firstIndirectPointer:
		return f.indirectIndex == 0 && f.doubleIndirectIndex == 0
	case f.pointerIndex < firstDoubleIndirectPointer:
		return f.indirectIndex < pointersPerIndexBlock && f.doubleIndirectIndex == 0
	case f.pointerIndex < pointerCount:
		return f.indirectIndex < pointersPerIndexBlock && f.doubleIndirectIndex < pointersPerIndexBlock
	case f.pointerIndex == pointerCount:
		return f.indirectIndex == 0 && f.doubleIndirectIndex == 0
	default:
		return false
	}
}

// pointerTree holds the top-level pointers of an inode. Index blocks
// are not part of it. They are loaded from the SectorCache whenever
// they need to be inspected or modified.
type pointerTree struct {
	frontier
	pointers [pointerCount]uint32
}

// getPointerCapacity returns the number of data sectors that can be
// referenced through a single top-level pointer.
func getPointerCapacity(pointer int) int {
	switch {
	case pointer < firstIndirectPointer:
		return 1
	case pointer < firstDoubleIndirectPointer:
		return pointersPerIndexBlock
	default:
		return pointersPerIndexBlock * pointersPerIndexBlock
	}
}

// getDataSectorsBelow returns the number of data sectors that have
// been allocated underneath a top-level pointer. A pointer is only set
// if this value is non-zero.
func (t *pointerTree) getDataSectorsBelow(pointer int) int {
	switch p := int(t.pointerIndex); {
	case pointer < p:
		return getPointerCapacity(pointer)
	case pointer > p || pointer < firstIndirectPointer:
		return 0
	case pointer < firstDoubleIndirectPointer:
		return int(t.indirectIndex)
	default:
		return int(t.indirectIndex)*pointersPerIndexBlock + int(t.doubleIndirectIndex)
	}
}

// dataSectorCount returns the number of data sectors referenced by the
// pointer tree.
func (t *pointerTree) dataSectorCount() int {
	count := 0
	for pointer := 0; pointer < pointerCount; pointer++ {
		count += t.getDataSectorsBelow(pointer)
	}
	return count
}

// getSectorCount returns the number of data sectors needed to store a
// given number of bytes.
func getSectorCount(sizeBytes int64) int {
	return int((sizeBytes + filesystem.SectorSizeBytes - 1) / filesystem.SectorSizeBytes)
}
