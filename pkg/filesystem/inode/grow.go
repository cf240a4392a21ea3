package inode

import (
	"github.com/buildbarn/bb-sectorfs/pkg/filesystem"
	"github.com/buildbarn/bb-sectorfs/pkg/filesystem/cache"
	"github.com/buildbarn/bb-storage/pkg/util"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var zeroSector [filesystem.SectorSizeBytes]byte

// treeStorage bundles the resources needed to access and modify the
// sectors underneath a pointer tree.
type treeStorage struct {
	cache     cache.SectorCache
	allocator filesystem.SectorAllocator
}

// allocateDataSectors allocates a number of sectors and fills them
// with zeros.
func (ts treeStorage) allocateDataSectors(count int) ([]uint32, error) {
	sectors, err := filesystem.AllocateSectors(ts.allocator, count)
	if err != nil {
		return nil, err
	}
	for _, sector := range sectors {
		if err := ts.cache.WriteSector(sector, zeroSector[:], 0); err != nil {
			ts.allocator.FreeList(sectors)
			return nil, util.StatusWrapf(err, "Failed to zero-fill sector %d", sector)
		}
	}
	return sectors, nil
}

// growthStep keeps track of the index blocks allocated while extending
// a single subtree of the pointer tree. If the step fails, they are
// released, as nothing refers to them.
type growthStep struct {
	storage     treeStorage
	indexBlocks []uint32
}

func (gs *growthStep) allocateIndexBlock() (uint32, error) {
	sectors, err := filesystem.AllocateSectors(gs.storage.allocator, 1)
	if err != nil {
		return 0, err
	}
	gs.indexBlocks = append(gs.indexBlocks, sectors[0])
	return sectors[0], nil
}

func (gs *growthStep) abort(dataSectors []uint32, err error) error {
	if released := append(gs.indexBlocks, dataSectors...); len(released) > 0 {
		gs.storage.allocator.FreeList(released)
	}
	return err
}

// grow extends the pointer tree, so that it is capable of storing a
// given number of bytes. Growth starts at the frontier. After every
// step, the frontier and all index blocks are consistent, meaning that
// a call that fails due to the allocator running out of space may be
// retried later on.
func (t *pointerTree) grow(ts treeStorage, sizeBytes int64) error {
	if sizeBytes > MaximumSizeBytes {
		return status.Errorf(codes.OutOfRange, "Size of %d bytes exceeds the maximum of %d bytes", sizeBytes, MaximumSizeBytes)
	}
	targetSectorCount := getSectorCount(sizeBytes)
	for {
		remaining := targetSectorCount - t.dataSectorCount()
		if remaining <= 0 {
			return nil
		}
		step := growthStep{storage: ts}
		var err error
		switch p := int(t.pointerIndex); {
		case p < firstIndirectPointer:
			err = t.growDirect(&step, remaining)
		case p < firstDoubleIndirectPointer:
			err = t.growIndirect(&step, remaining)
		default:
			err = t.growDoubleIndirect(&step, remaining)
		}
		if err != nil {
			return err
		}
	}
}

func (t *pointerTree) growDirect(step *growthStep, remaining int) error {
	p := int(t.pointerIndex)
	dataSectors, err := step.storage.allocateDataSectors(min(remaining, firstIndirectPointer-p))
	if err != nil {
		return err
	}
	copy(t.pointers[p:], dataSectors)
	t.pointerIndex += uint32(len(dataSectors))
	return nil
}

func (t *pointerTree) growIndirect(step *growthStep, remaining int) error {
	p := t.pointerIndex
	var block indexBlock
	root := t.pointers[p]
	if t.indirectIndex == 0 {
		var err error
		if root, err = step.allocateIndexBlock(); err != nil {
			return err
		}
	} else if err := block.load(step.storage.cache, root); err != nil {
		return err
	}

	dataSectors, err := step.storage.allocateDataSectors(min(remaining, pointersPerIndexBlock-int(t.indirectIndex)))
	if err != nil {
		return step.abort(nil, err)
	}
	copy(block[t.indirectIndex:], dataSectors)
	if err := block.store(step.storage.cache, root); err != nil {
		return step.abort(dataSectors, err)
	}

	t.pointers[p] = root
	t.indirectIndex += uint32(len(dataSectors))
	if t.indirectIndex == pointersPerIndexBlock {
		t.pointerIndex++
		t.indirectIndex = 0
	}
	return nil
}

func (t *pointerTree) growDoubleIndirect(step *growthStep, remaining int) error {
	p := t.pointerIndex
	var outerBlock, innerBlock indexBlock
	outerRoot := t.pointers[p]
	newOuterBlock := t.indirectIndex == 0 && t.doubleIndirectIndex == 0
	if newOuterBlock {
		var err error
		if outerRoot, err = step.allocateIndexBlock(); err != nil {
			return err
		}
	} else if err := outerBlock.load(step.storage.cache, outerRoot); err != nil {
		return err
	}

	innerRoot := outerBlock[t.indirectIndex]
	newInnerBlock := t.doubleIndirectIndex == 0
	if newInnerBlock {
		var err error
		if innerRoot, err = step.allocateIndexBlock(); err != nil {
			return step.abort(nil, err)
		}
	} else if err := innerBlock.load(step.storage.cache, innerRoot); err != nil {
		return err
	}

	dataSectors, err := step.storage.allocateDataSectors(min(remaining, pointersPerIndexBlock-int(t.doubleIndirectIndex)))
	if err != nil {
		return step.abort(nil, err)
	}
	copy(innerBlock[t.doubleIndirectIndex:], dataSectors)
	if err := innerBlock.store(step.storage.cache, innerRoot); err != nil {
		return step.abort(dataSectors, err)
	}
	if newInnerBlock {
		outerBlock[t.indirectIndex] = innerRoot
		if err := outerBlock.store(step.storage.cache, outerRoot); err != nil {
			return step.abort(dataSectors, err)
		}
	}

	t.pointers[p] = outerRoot
	t.doubleIndirectIndex += uint32(len(dataSectors))
	if t.doubleIndirectIndex == pointersPerIndexBlock {
		t.indirectIndex++
		t.doubleIndirectIndex = 0
		if t.indirectIndex == pointersPerIndexBlock {
			t.pointerIndex++
			t.indirectIndex = 0
		}
	}
	return nil
}
