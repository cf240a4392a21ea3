package inode

import (
	"io"
	"sync"
	"sync/atomic"

	"github.com/buildbarn/bb-sectorfs/pkg/filesystem"
	"github.com/buildbarn/bb-storage/pkg/util"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Inode is an open inode, whose contents are stored in sectors
// referenced by a pointer tree. Instances are obtained through
// Table.Open() and must be released through Table.Close().
//
// ReadAt() and WriteAt() may be called concurrently. Concurrent writes
// to overlapping ranges produce unspecified results. Callers that need
// a sequence of operations to be performed atomically can use Lock()
// and Unlock().
type Inode struct {
	table       *Table
	sector      uint32
	isDirectory bool
	parent      atomic.Uint32

	// Protected by Table.lock.
	openCount      int
	removed        bool
	denyWriteCount int

	// Bytes in the range [0, visibleLength) have been written and
	// may be returned by ReadAt(). Bytes in the range
	// [visibleLength, length) are allocated, but may not have been
	// written yet.
	length        atomic.Int64
	visibleLength atomic.Int64

	treeLock sync.RWMutex
	tree     pointerTree

	lock sync.Mutex
}

func newInode(t *Table, sector uint32, r *record) *Inode {
	in := &Inode{
		table:       t,
		sector:      sector,
		isDirectory: r.isDirectory,
		openCount:   1,
		tree:        r.tree,
	}
	in.parent.Store(r.parent)
	in.length.Store(int64(r.length))
	in.visibleLength.Store(int64(r.length))
	return in
}

// Reopen increments the open count of an inode that is already open.
func (in *Inode) Reopen() *Inode {
	t := in.table
	t.lock.Lock()
	defer t.lock.Unlock()
	if in.openCount <= 0 {
		panic("Attempted to reopen an inode that is not open")
	}
	in.openCount++
	return in
}

// Number returns the sector containing the inode's record. It
// uniquely identifies the inode.
func (in *Inode) Number() uint32 {
	return in.sector
}

// Length returns the size of the inode in bytes.
func (in *Inode) Length() int64 {
	return in.length.Load()
}

// OpenCount returns the number of times the inode is currently open.
func (in *Inode) OpenCount() int {
	t := in.table
	t.lock.Lock()
	defer t.lock.Unlock()
	return in.openCount
}

// IsDirectory returns whether the inode was created to hold directory
// entries.
func (in *Inode) IsDirectory() bool {
	return in.isDirectory
}

// Parent returns the inode number of the directory containing this
// inode.
func (in *Inode) Parent() uint32 {
	return in.parent.Load()
}

// SetParent changes the inode number of the directory containing this
// inode. The value is written back when the inode is closed.
func (in *Inode) SetParent(parent uint32) {
	in.parent.Store(parent)
}

// Remove marks the inode for removal. Its sectors are released when
// the inode is closed for the last time.
func (in *Inode) Remove() {
	t := in.table
	t.lock.Lock()
	defer t.lock.Unlock()
	in.removed = true
}

// IsRemoved returns whether Remove() has been called.
func (in *Inode) IsRemoved() bool {
	t := in.table
	t.lock.Lock()
	defer t.lock.Unlock()
	return in.removed
}

// DenyWrite causes successive calls to WriteAt() to fail, until
// AllowWrite() is called. Every user of the inode may deny writes at
// most once.
func (in *Inode) DenyWrite() {
	t := in.table
	t.lock.Lock()
	defer t.lock.Unlock()
	if in.denyWriteCount >= in.openCount {
		panic("Write denial count of inode exceeds its open count")
	}
	in.denyWriteCount++
}

// AllowWrite undoes a previous call to DenyWrite().
func (in *Inode) AllowWrite() {
	t := in.table
	t.lock.Lock()
	defer t.lock.Unlock()
	if in.denyWriteCount <= 0 {
		panic("Attempted to allow writes to an inode that has no write denials")
	}
	in.denyWriteCount--
}

// Lock the inode. This is not needed to call any of the methods of
// Inode, but can be used by callers to prevent their operations from
// interleaving with those of others.
func (in *Inode) Lock() {
	in.lock.Lock()
}

// Unlock the inode.
func (in *Inode) Unlock() {
	in.lock.Unlock()
}

func (in *Inode) translate(offset int64) (uint32, error) {
	in.treeLock.RLock()
	defer in.treeLock.RUnlock()
	return in.tree.translate(in.table.storage.cache, in.length.Load(), offset)
}

// ReadAt reads data from the inode. Reads are truncated at the end of
// the inode, in which case io.EOF is returned.
func (in *Inode) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, status.Errorf(codes.InvalidArgument, "Negative read offset: %d", off)
	}

	visibleLength := in.visibleLength.Load()
	nRead := 0
	for nRead < len(p) && off < visibleLength {
		offsetWithinSector := int(off % filesystem.SectorSizeBytes)
		chunk := int(min(
			int64(len(p)-nRead),
			int64(filesystem.SectorSizeBytes-offsetWithinSector),
			visibleLength-off))
		sector, err := in.translate(off)
		if err != nil {
			return nRead, err
		}
		if err := in.table.storage.cache.ReadSector(sector, p[nRead:nRead+chunk], offsetWithinSector); err != nil {
			return nRead, util.StatusWrapf(err, "Failed to read data of inode at sector %d", in.sector)
		}
		nRead += chunk
		off += int64(chunk)
	}
	if nRead < len(p) {
		return nRead, io.EOF
	}
	return nRead, nil
}

// grow ensures the pointer tree is large enough to hold a given number
// of bytes, and extends the length of the inode accordingly.
func (in *Inode) grow(length int64) error {
	in.treeLock.Lock()
	defer in.treeLock.Unlock()
	if length <= in.length.Load() {
		return nil
	}
	if err := in.tree.grow(in.table.storage, length); err != nil {
		return err
	}
	in.length.Store(length)
	return nil
}

// advanceVisibleLength makes data up to a given offset available to
// readers.
func (in *Inode) advanceVisibleLength(end int64) {
	for {
		current := in.visibleLength.Load()
		if end <= current || in.visibleLength.CompareAndSwap(current, end) {
			return
		}
	}
}

// WriteAt writes data into the inode, growing it if needed. Data only
// becomes visible to ReadAt() after it has been copied into the
// SectorCache.
func (in *Inode) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, status.Errorf(codes.InvalidArgument, "Negative write offset: %d", off)
	}
	if len(p) == 0 {
		return 0, nil
	}

	t := in.table
	t.lock.Lock()
	denied := in.denyWriteCount > 0
	t.lock.Unlock()
	if denied {
		return 0, status.Errorf(codes.PermissionDenied, "Writes to inode at sector %d are denied", in.sector)
	}

	end := off + int64(len(p))
	if err := in.grow(end); err != nil {
		return 0, util.StatusWrapf(err, "Failed to grow inode at sector %d to %d bytes", in.sector, end)
	}

	nWritten := 0
	for nWritten < len(p) {
		offsetWithinSector := int(off % filesystem.SectorSizeBytes)
		chunk := min(len(p)-nWritten, filesystem.SectorSizeBytes-offsetWithinSector)
		sector, err := in.translate(off)
		if err != nil {
			return nWritten, err
		}
		if err := t.storage.cache.WriteSector(sector, p[nWritten:nWritten+chunk], offsetWithinSector); err != nil {
			return nWritten, util.StatusWrapf(err, "Failed to write data of inode at sector %d", in.sector)
		}
		nWritten += chunk
		off += int64(chunk)
		in.advanceVisibleLength(off)
	}
	return nWritten, nil
}
