package inode

import (
	"sync"

	"github.com/buildbarn/bb-sectorfs/pkg/filesystem"
	"github.com/buildbarn/bb-sectorfs/pkg/filesystem/cache"
	"github.com/buildbarn/bb-storage/pkg/util"
)

// MaximumCreateSizeBytes is the largest size that may be requested
// when creating an inode. Larger requests are truncated. Inodes may
// still grow beyond this size up to MaximumSizeBytes by writing to
// them.
const MaximumCreateSizeBytes = 1 << 23

// Table is the registry of inodes that are currently open. Opening
// the same inode multiple times yields the same Inode object, so that
// all users observe the same length and the same pointer tree.
type Table struct {
	storage treeStorage

	lock   sync.Mutex
	inodes map[uint32]*Inode
	// Sectors of inodes whose records are being read by Open(), or
	// written back or released by Close(). Other calls to Open()
	// for these sectors wait for the channel to be closed.
	pending map[uint32]chan struct{}
}

// NewTable creates an empty Table that stores inodes, index blocks and
// data in sectors obtained from a SectorAllocator, accessing them
// through a SectorCache.
func NewTable(sectorCache cache.SectorCache, sectorAllocator filesystem.SectorAllocator) *Table {
	return &Table{
		storage: treeStorage{
			cache:     sectorCache,
			allocator: sectorAllocator,
		},
		inodes:  map[uint32]*Inode{},
		pending: map[uint32]chan struct{}{},
	}
}

// Create an inode record in a sector that has already been allocated
// by the caller. Enough data sectors are allocated to hold the
// requested number of bytes, all of which are zero.
func (t *Table) Create(sector uint32, length int64, isDirectory bool) error {
	length = min(max(length, 0), MaximumCreateSizeBytes)
	r := record{
		length:      uint32(length),
		isDirectory: isDirectory,
	}
	if err := r.tree.grow(t.storage, length); err != nil {
		// Nothing refers to the sectors allocated so far.
		r.tree.release(t.storage)
		return util.StatusWrapf(err, "Failed to allocate %d bytes for inode at sector %d", length, sector)
	}
	b := r.marshal()
	if err := t.storage.cache.WriteSector(sector, b[:], 0); err != nil {
		r.tree.release(t.storage)
		return util.StatusWrapf(err, "Failed to write inode at sector %d", sector)
	}
	return nil
}

// Open an inode, given the sector containing its record. If the inode
// is already open, its open count is incremented.
func (t *Table) Open(sector uint32) (*Inode, error) {
	var done chan struct{}
	for {
		t.lock.Lock()
		if in, ok := t.inodes[sector]; ok {
			in.openCount++
			t.lock.Unlock()
			return in, nil
		}
		pending, ok := t.pending[sector]
		if !ok {
			done = make(chan struct{})
			t.pending[sector] = done
			t.lock.Unlock()
			break
		}
		t.lock.Unlock()
		<-pending
	}

	in, err := t.load(sector)

	t.lock.Lock()
	defer t.lock.Unlock()
	delete(t.pending, sector)
	close(done)
	if err != nil {
		return nil, err
	}
	t.inodes[sector] = in
	return in, nil
}

func (t *Table) load(sector uint32) (*Inode, error) {
	var b [filesystem.SectorSizeBytes]byte
	if err := t.storage.cache.ReadSector(sector, b[:], 0); err != nil {
		return nil, util.StatusWrapf(err, "Failed to read inode at sector %d", sector)
	}
	r, err := unmarshalRecord(sector, &b)
	if err != nil {
		return nil, err
	}
	return newInode(t, sector, &r), nil
}

// Close an inode. When the last user closes the inode, its metadata
// is written back. If the inode was removed, its record is cleared and
// all of its sectors are released instead.
func (t *Table) Close(in *Inode) error {
	t.lock.Lock()
	if in.openCount <= 0 {
		t.lock.Unlock()
		panic("Attempted to close an inode that is not open")
	}
	in.openCount--
	if in.openCount > 0 {
		t.lock.Unlock()
		return nil
	}
	// Let concurrent calls to Open() wait until the record has
	// been written back, so that they don't observe a stale copy.
	delete(t.inodes, in.sector)
	done := make(chan struct{})
	t.pending[in.sector] = done
	removed := in.removed
	t.lock.Unlock()

	err := t.writeBackOrRelease(in, removed)

	t.lock.Lock()
	delete(t.pending, in.sector)
	close(done)
	t.lock.Unlock()
	return err
}

func (t *Table) writeBackOrRelease(in *Inode, removed bool) error {
	in.treeLock.Lock()
	defer in.treeLock.Unlock()
	if removed {
		err := in.tree.release(t.storage)
		if clearErr := t.storage.cache.WriteSector(in.sector, zeroSector[:], 0); clearErr != nil && err == nil {
			err = clearErr
		}
		filesystem.ReleaseSectors(t.storage.allocator, in.sector, 1)
		if err != nil {
			return util.StatusWrapf(err, "Failed to release sectors of inode at sector %d", in.sector)
		}
		return nil
	}

	r := record{
		length:      uint32(in.length.Load()),
		tree:        in.tree,
		isDirectory: in.isDirectory,
		parent:      in.parent.Load(),
	}
	b := r.marshal()
	if err := t.storage.cache.WriteSector(in.sector, b[:], 0); err != nil {
		return util.StatusWrapf(err, "Failed to write inode at sector %d", in.sector)
	}
	return nil
}

// GetOpenCount returns the number of inodes that are currently open.
func (t *Table) GetOpenCount() int {
	t.lock.Lock()
	defer t.lock.Unlock()
	return len(t.inodes)
}
