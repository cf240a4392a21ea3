package inode_test

import (
	"bytes"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/buildbarn/bb-sectorfs/pkg/filesystem"
	"github.com/buildbarn/bb-sectorfs/pkg/filesystem/cache"
	"github.com/buildbarn/bb-sectorfs/pkg/filesystem/inode"
	"github.com/buildbarn/bb-storage/pkg/testutil"
	"github.com/stretchr/testify/require"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// sectorRead describes a call to SectorCache.ReadSector().
type sectorRead struct {
	sector uint32
	size   int
	offset int
}

// recordingSectorCache forwards calls to a SectorCache, keeping track
// of all reads performed.
type recordingSectorCache struct {
	cache.SectorCache
	reads []sectorRead
}

func (c *recordingSectorCache) ReadSector(sector uint32, p []byte, offsetWithinSector int) error {
	c.reads = append(c.reads, sectorRead{sector: sector, size: len(p), offset: offsetWithinSector})
	return c.SectorCache.ReadSector(sector, p, offsetWithinSector)
}

// blockingSectorCache forwards calls to a SectorCache. Writes to a
// single sector block until unblock is closed.
type blockingSectorCache struct {
	cache.SectorCache
	sector  uint32
	writing chan struct{}
	unblock chan struct{}
}

func (c *blockingSectorCache) WriteSector(sector uint32, p []byte, offsetWithinSector int) error {
	if sector == c.sector {
		close(c.writing)
		<-c.unblock
	}
	return c.SectorCache.WriteSector(sector, p, offsetWithinSector)
}

type testEnvironment struct {
	device    filesystem.SectorDevice
	allocator filesystem.BitmapSectorAllocator
	cache     *recordingSectorCache
	table     *inode.Table
}

// newTestEnvironment creates a Table backed by an in-memory device.
// Sector zero of the device is never handed out by the allocator.
func newTestEnvironment(sectorCount uint32) *testEnvironment {
	device := filesystem.NewInMemorySectorDevice(sectorCount)
	allocator := filesystem.NewBitmapSectorAllocator(sectorCount - 1)
	sectorCache := &recordingSectorCache{
		SectorCache: cache.NewSectorCache(device, cache.DefaultSlotCount),
	}
	return &testEnvironment{
		device:    device,
		allocator: allocator,
		cache:     sectorCache,
		table:     inode.NewTable(sectorCache, allocator),
	}
}

func (e *testEnvironment) create(t *testing.T, length int64) uint32 {
	sectors, err := filesystem.AllocateSectors(e.allocator, 1)
	require.NoError(t, err)
	require.NoError(t, e.table.Create(sectors[0], length, false))
	return sectors[0]
}

func (e *testEnvironment) open(t *testing.T, sector uint32) *inode.Inode {
	in, err := e.table.Open(sector)
	require.NoError(t, err)
	return in
}

// getTestData returns a deterministic sequence of bytes that does not
// repeat with a period that is a divisor of the sector size.
func getTestData(offset, length int) []byte {
	data := make([]byte, length)
	for i := range data {
		data[i] = byte((offset + i) % 251)
	}
	return data
}

func TestInodeWriteAndReadBack(t *testing.T) {
	env := newTestEnvironment(256)
	sector := env.create(t, 0)
	in := env.open(t, sector)
	require.Equal(t, int64(0), in.Length())

	data := getTestData(0, 10000)
	n, err := in.WriteAt(data, 0)
	require.NoError(t, err)
	require.Equal(t, 10000, n)
	require.Equal(t, int64(10000), in.Length())

	t.Run("Full", func(t *testing.T) {
		read := make([]byte, 10000)
		n, err := in.ReadAt(read, 0)
		require.NoError(t, err)
		require.Equal(t, 10000, n)
		require.Equal(t, data, read)
	})

	t.Run("Unaligned", func(t *testing.T) {
		read := make([]byte, 1000)
		n, err := in.ReadAt(read, 1234)
		require.NoError(t, err)
		require.Equal(t, 1000, n)
		require.Equal(t, data[1234:2234], read)
	})

	t.Run("PastEndOfFile", func(t *testing.T) {
		// Reads are truncated at the end of the inode.
		read := make([]byte, 100)
		n, err := in.ReadAt(read, 9950)
		require.Equal(t, io.EOF, err)
		require.Equal(t, 50, n)
		require.Equal(t, data[9950:], read[:50])

		n, err = in.ReadAt(read, 20000)
		require.Equal(t, io.EOF, err)
		require.Equal(t, 0, n)
	})

	t.Run("NegativeOffset", func(t *testing.T) {
		_, err := in.ReadAt(make([]byte, 1), -1)
		testutil.RequireEqualStatus(t, status.Error(codes.InvalidArgument, "Negative read offset: -1"), err)
	})

	t.Run("Persistence", func(t *testing.T) {
		// After closing the inode and flushing the cache, a new
		// table using a cold cache should see the same contents.
		require.NoError(t, env.table.Close(in))
		require.Equal(t, 0, env.table.GetOpenCount())
		require.NoError(t, env.cache.Flush())

		table := inode.NewTable(cache.NewSectorCache(env.device, 8), env.allocator)
		in, err := table.Open(sector)
		require.NoError(t, err)
		require.Equal(t, int64(10000), in.Length())

		read := make([]byte, 10000)
		n, err := in.ReadAt(read, 0)
		require.NoError(t, err)
		require.Equal(t, 10000, n)
		require.Equal(t, data, read)
		require.NoError(t, table.Close(in))
	})
}

func TestInodeWriteBeyondDirectRegion(t *testing.T) {
	env := newTestEnvironment(64)
	sector := env.create(t, 0)
	require.Equal(t, uint32(1), sector)
	in := env.open(t, sector)

	// Writing a single byte right after the direct region causes
	// all direct sectors to be allocated, followed by an index
	// block and the data sector it refers to.
	n, err := in.WriteAt([]byte{0x5a}, 5*filesystem.SectorSizeBytes)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, int64(5*filesystem.SectorSizeBytes+1), in.Length())
	require.Equal(t, uint32(63-1-7), env.allocator.GetFreeSectorCount())

	// Reading it back must go through the index block.
	env.cache.reads = nil
	var b [1]byte
	n, err = in.ReadAt(b[:], 5*filesystem.SectorSizeBytes)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, byte(0x5a), b[0])
	require.Equal(t, []sectorRead{
		{sector: 7, size: 4, offset: 0},
		{sector: 8, size: 1, offset: 0},
	}, env.cache.reads)

	// The gap in front of it reads as zeros.
	n, err = in.ReadAt(b[:], 4*filesystem.SectorSizeBytes+10)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, byte(0), b[0])

	require.NoError(t, env.table.Close(in))
}

func TestInodeTranslationCost(t *testing.T) {
	env := newTestEnvironment(2048)
	sector := env.create(t, 600000)
	in := env.open(t, sector)

	for _, tc := range []struct {
		name        string
		offset      int64
		indexReads  []sectorRead
		description string
	}{
		{"Direct", 4*512 + 7, nil, "direct pointers need no index block"},
		{"SingleIndirect", 5*512 + 3, []sectorRead{{offset: 0, size: 4}}, "single indirect pointers need one index block"},
		{"SingleIndirectLast", 1028*512 + 511, []sectorRead{{offset: 508, size: 4}}, "last entry of the last single indirect block"},
		{"DoubleIndirect", 1029 * 512, []sectorRead{{offset: 0, size: 4}, {offset: 0, size: 4}}, "double indirect pointers need two index blocks"},
		{"DoubleIndirectSecondInner", 1159*512 + 100, []sectorRead{{offset: 4, size: 4}, {offset: 8, size: 4}}, "second inner block of the first double indirect pointer"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			env.cache.reads = nil
			var b [1]byte
			n, err := in.ReadAt(b[:], tc.offset)
			require.NoError(t, err)
			require.Equal(t, 1, n)

			// Every level of indirection requires one
			// read of a single pointer, followed by a
			// read of the data itself.
			require.Len(t, env.cache.reads, len(tc.indexReads)+1, tc.description)
			for i, expected := range tc.indexReads {
				require.Equal(t, expected.offset, env.cache.reads[i].offset, tc.description)
				require.Equal(t, expected.size, env.cache.reads[i].size, tc.description)
			}
			dataRead := env.cache.reads[len(tc.indexReads)]
			require.Equal(t, int(tc.offset%512), dataRead.offset)
			require.Equal(t, 1, dataRead.size)
		})
	}

	require.NoError(t, env.table.Close(in))
}

func TestInodeGrowthIsIncremental(t *testing.T) {
	// Growing an inode to a given size in one step should yield the
	// same state on disk as growing it in multiple steps.
	getDeviceContents := func(t *testing.T, lengths []int64) [][]byte {
		env := newTestEnvironment(2048)
		sector := env.create(t, 0)
		in := env.open(t, sector)
		for _, length := range lengths {
			n, err := in.WriteAt([]byte{0}, length-1)
			require.NoError(t, err)
			require.Equal(t, 1, n)
		}
		require.NoError(t, env.table.Close(in))
		require.NoError(t, env.cache.Flush())

		contents := make([][]byte, env.device.SectorCount())
		for i := range contents {
			contents[i] = make([]byte, filesystem.SectorSizeBytes)
			require.NoError(t, env.device.ReadSector(uint32(i), contents[i]))
		}
		return contents
	}

	for _, lengths := range [][]int64{
		{3000, 4000},
		{2560, 2561},
		{100000, 600000},
		{530000, 540000},
		{526848, 526849},
		{1, 600000},
		{66048, 66049},
	} {
		t.Run(fmt.Sprint(lengths), func(t *testing.T) {
			require.Equal(t,
				getDeviceContents(t, lengths[len(lengths)-1:]),
				getDeviceContents(t, lengths))
		})
	}
}

func TestInodeRemove(t *testing.T) {
	env := newTestEnvironment(2048)
	sector := env.create(t, 600000)
	require.Equal(t, uint32(2047-1-1183), env.allocator.GetFreeSectorCount())

	// Opening the same inode twice should yield the same object.
	in1 := env.open(t, sector)
	in2 := env.open(t, sector)
	require.Same(t, in1, in2)
	require.Equal(t, 2, in1.OpenCount())
	require.Equal(t, 1, env.table.GetOpenCount())

	// Removal is deferred until the last user closes the inode.
	in1.Remove()
	require.True(t, in2.IsRemoved())
	require.NoError(t, env.table.Close(in1))
	require.Equal(t, 1, in2.OpenCount())
	require.Equal(t, uint32(2047-1-1183), env.allocator.GetFreeSectorCount())

	var b [3]byte
	n, err := in2.ReadAt(b[:], 599997)
	require.NoError(t, err)
	require.Equal(t, 3, n)

	require.NoError(t, env.table.Close(in2))
	require.Equal(t, uint32(2047), env.allocator.GetFreeSectorCount())
	require.Equal(t, 0, env.table.GetOpenCount())
}

func TestInodeRemovalInBackground(t *testing.T) {
	device := filesystem.NewInMemorySectorDevice(2048)
	allocator := filesystem.NewBitmapSectorAllocator(2047)
	sectorCache := &blockingSectorCache{
		SectorCache: cache.NewSectorCache(device, cache.DefaultSlotCount),
		writing:     make(chan struct{}),
		unblock:     make(chan struct{}),
	}
	table := inode.NewTable(sectorCache, allocator)

	sectors, err := filesystem.AllocateSectors(allocator, 2)
	require.NoError(t, err)
	removedSector, otherSector := sectors[0], sectors[1]
	require.NoError(t, table.Create(removedSector, 600000, false))
	require.NoError(t, table.Create(otherSector, 0, false))

	removed, err := table.Open(removedSector)
	require.NoError(t, err)
	removed.Remove()
	other, err := table.Open(otherSector)
	require.NoError(t, err)

	// Let the removal block while clearing the inode's record.
	sectorCache.sector = removedSector
	closed := make(chan error, 1)
	go func() {
		closed <- table.Close(removed)
	}()
	<-sectorCache.writing

	// Other inodes can still be opened and written.
	n, err := other.WriteAt([]byte("Hello"), 0)
	require.NoError(t, err)
	require.Equal(t, 5, n)
	otherAgain, err := table.Open(otherSector)
	require.NoError(t, err)
	require.Same(t, other, otherAgain)
	require.NoError(t, table.Close(otherAgain))

	// Opening the removed inode waits for the removal to complete,
	// after which its record is no longer valid.
	opened := make(chan error, 1)
	go func() {
		_, err := table.Open(removedSector)
		opened <- err
	}()
	require.Never(t, func() bool { return len(opened) > 0 }, 100*time.Millisecond, 10*time.Millisecond)

	close(sectorCache.unblock)
	require.NoError(t, <-closed)
	testutil.RequireEqualStatus(
		t,
		status.Errorf(codes.DataLoss, "Inode at sector %d has magic 0x0, while 0x494e4f44 was expected", removedSector),
		<-opened)
	require.Equal(t, uint32(2047-2), allocator.GetFreeSectorCount())
	require.Equal(t, 1, table.GetOpenCount())
	require.NoError(t, table.Close(other))
}

func TestInodeAllocatorExhaustion(t *testing.T) {
	env := newTestEnvironment(31)
	sector := env.create(t, 0)
	in := env.open(t, sector)

	// Leave only nine sectors available. This is enough to fill the
	// direct pointers, but not to complete the index block that
	// follows.
	hog, err := filesystem.AllocateSectors(env.allocator, 20)
	require.NoError(t, err)
	require.Equal(t, uint32(9), env.allocator.GetFreeSectorCount())

	data := getTestData(0, 10*filesystem.SectorSizeBytes)
	_, err = in.WriteAt(data, 0)
	testutil.RequireEqualStatus(
		t,
		status.Error(codes.ResourceExhausted, "Failed to grow inode at sector 1 to 5120 bytes: Failed to allocate 5 sectors: No free sectors available"),
		err)
	require.Equal(t, int64(0), in.Length())
	require.Equal(t, uint32(4), env.allocator.GetFreeSectorCount())

	t.Run("Resume", func(t *testing.T) {
		// Once space becomes available, growth continues where
		// it left off.
		env.allocator.FreeList(hog)
		n, err := in.WriteAt(data, 0)
		require.NoError(t, err)
		require.Equal(t, len(data), n)
		require.Equal(t, uint32(24-6), env.allocator.GetFreeSectorCount())

		read := make([]byte, len(data))
		n, err = in.ReadAt(read, 0)
		require.NoError(t, err)
		require.Equal(t, len(data), n)
		require.Equal(t, data, read)
	})

	t.Run("Release", func(t *testing.T) {
		in.Remove()
		require.NoError(t, env.table.Close(in))
		require.Equal(t, uint32(30), env.allocator.GetFreeSectorCount())
	})
}

func TestInodeReleasePartialTree(t *testing.T) {
	env := newTestEnvironment(1200)
	sector := env.create(t, 0)
	in := env.open(t, sector)

	// Leave enough space to fill the direct and single indirect
	// regions and the first inner index block of the double
	// indirect region, but not the second one.
	hog, err := filesystem.AllocateSectors(env.allocator, 10)
	require.NoError(t, err)
	require.Equal(t, uint32(5+8*129+1+1+128+1+20), env.allocator.GetFreeSectorCount())
	_, err = in.WriteAt([]byte("Hello"), 1229*512)
	require.Equal(t, codes.ResourceExhausted, status.Code(err))
	require.Equal(t, uint32(21), env.allocator.GetFreeSectorCount())

	in.Remove()
	require.NoError(t, env.table.Close(in))
	env.allocator.FreeList(hog)
	require.Equal(t, uint32(1199), env.allocator.GetFreeSectorCount())
}

func TestInodeMaximumSize(t *testing.T) {
	env := newTestEnvironment(16)
	sector := env.create(t, 0)
	in := env.open(t, sector)

	_, err := in.WriteAt([]byte{1}, inode.MaximumSizeBytes)
	testutil.RequireEqualStatus(
		t,
		status.Error(codes.OutOfRange, "Failed to grow inode at sector 1 to 17304065 bytes: Size of 17304065 bytes exceeds the maximum of 17304064 bytes"),
		err)
	require.Equal(t, uint32(14), env.allocator.GetFreeSectorCount())
	require.NoError(t, env.table.Close(in))
}

func TestInodeCreateTruncation(t *testing.T) {
	env := newTestEnvironment(17000)
	sector := env.create(t, 1<<30)
	in := env.open(t, sector)
	require.Equal(t, int64(inode.MaximumCreateSizeBytes), in.Length())
	require.Equal(t, uint32(16999-1-16384-8-1-120), env.allocator.GetFreeSectorCount())
	require.NoError(t, env.table.Close(in))
}

func TestInodeCorruptRecord(t *testing.T) {
	env := newTestEnvironment(16)

	_, err := env.table.Open(5)
	testutil.RequireEqualStatus(
		t,
		status.Error(codes.DataLoss, "Inode at sector 5 has magic 0x0, while 0x494e4f44 was expected"),
		err)
	require.Equal(t, 0, env.table.GetOpenCount())
}

func TestInodeDenyWrite(t *testing.T) {
	env := newTestEnvironment(16)
	sector := env.create(t, 0)
	in := env.open(t, sector)

	in.DenyWrite()
	require.PanicsWithValue(t, "Write denial count of inode exceeds its open count", in.DenyWrite)
	_, err := in.WriteAt([]byte("Hello"), 0)
	testutil.RequireEqualStatus(t, status.Error(codes.PermissionDenied, "Writes to inode at sector 1 are denied"), err)
	require.Equal(t, int64(0), in.Length())

	in.AllowWrite()
	require.PanicsWithValue(t, "Attempted to allow writes to an inode that has no write denials", in.AllowWrite)
	n, err := in.WriteAt([]byte("Hello"), 0)
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.NoError(t, env.table.Close(in))
}

func TestInodeDirectoryMetadata(t *testing.T) {
	env := newTestEnvironment(16)
	sectors, err := filesystem.AllocateSectors(env.allocator, 1)
	require.NoError(t, err)
	require.NoError(t, env.table.Create(sectors[0], 1024, true))

	in := env.open(t, sectors[0])
	require.True(t, in.IsDirectory())
	require.Equal(t, uint32(0), in.Parent())
	in.SetParent(9)
	require.NoError(t, env.table.Close(in))

	// The parent is persisted as part of the inode record.
	in = env.open(t, sectors[0])
	require.True(t, in.IsDirectory())
	require.Equal(t, uint32(9), in.Parent())
	require.Equal(t, sectors[0], in.Number())
	require.Same(t, in, in.Reopen())
	require.NoError(t, env.table.Close(in))
	require.NoError(t, env.table.Close(in))
}

func TestInodeConcurrentAppendAndRead(t *testing.T) {
	device := filesystem.NewInMemorySectorDevice(256)
	allocator := filesystem.NewBitmapSectorAllocator(255)
	table := inode.NewTable(cache.NewSectorCache(device, cache.DefaultSlotCount), allocator)
	sectors, err := filesystem.AllocateSectors(allocator, 1)
	require.NoError(t, err)
	require.NoError(t, table.Create(sectors[0], 0, false))
	in, err := table.Open(sectors[0])
	require.NoError(t, err)

	// Readers should never observe data that hasn't been written,
	// even though growth allocates sectors ahead of the data
	// being copied into them.
	var group errgroup.Group
	group.Go(func() error {
		for offset := 0; offset < 60000; offset += 300 {
			if _, err := in.WriteAt(getTestData(offset, 300), int64(offset)); err != nil {
				return err
			}
		}
		return nil
	})
	for reader := 0; reader < 3; reader++ {
		group.Go(func() error {
			read := make([]byte, 60000)
			for i := 0; i < 100; i++ {
				n, err := in.ReadAt(read, 0)
				if err != nil && err != io.EOF {
					return err
				}
				if !bytes.Equal(getTestData(0, n), read[:n]) {
					return fmt.Errorf("read of %d bytes returned data that was not written", n)
				}
			}
			return nil
		})
	}
	require.NoError(t, group.Wait())
	require.Equal(t, int64(60000), in.Length())
	require.NoError(t, table.Close(in))
}
