package filesystem_test

import (
	"testing"

	"github.com/buildbarn/bb-sectorfs/pkg/filesystem"
	"github.com/buildbarn/bb-storage/pkg/testutil"
	"github.com/stretchr/testify/require"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestBitmapSectorAllocatorExample(t *testing.T) {
	sectorAllocator := filesystem.NewBitmapSectorAllocator(1000)
	require.Equal(t, uint32(1000), sectorAllocator.GetFreeSectorCount())

	// Allocate five regions of sectors that span all of storage.
	for i := 0; i < 5; i++ {
		firstSector, sectorCount, err := sectorAllocator.AllocateContiguous(200)
		require.NoError(t, err)
		require.Equal(t, uint32(200*i+1), firstSector)
		require.Equal(t, 200, sectorCount)
	}
	require.Equal(t, uint32(0), sectorAllocator.GetFreeSectorCount())

	// Allocating successive sectors should fail.
	_, _, err := sectorAllocator.AllocateContiguous(123)
	testutil.RequireEqualStatus(t, status.Error(codes.ResourceExhausted, "No free sectors available"), err)

	// Free the five regions, bringing us back to the initial state.
	for i := 0; i < 5; i++ {
		sectorAllocator.FreeContiguous(uint32(200*i+1), 200)
	}

	// Allocating a too large number of sectors should now allocate
	// the entire space in one go.
	firstSector, sectorCount, err := sectorAllocator.AllocateContiguous(123456)
	require.NoError(t, err)
	require.Equal(t, uint32(1), firstSector)
	require.Equal(t, 1000, sectorCount)

	// Free up some small holes here and there.
	sectorAllocator.FreeContiguous(83, 12)
	sectorAllocator.FreeContiguous(241, 91)
	sectorAllocator.FreeList([]uint32{503, 1000, 504, 1})
	require.Equal(t, uint32(107), sectorAllocator.GetFreeSectorCount())

	// Attempt to allocate these holes again. They should be
	// returned in incrementing order.
	for _, a := range []struct {
		firstSector uint32
		sectorCount int
	}{{1, 1}, {83, 12}, {241, 91}, {503, 2}, {1000, 1}} {
		firstSector, sectorCount, err := sectorAllocator.AllocateContiguous(123456)
		require.NoError(t, err)
		require.Equal(t, a.firstSector, firstSector)
		require.Equal(t, a.sectorCount, sectorCount)
	}

	// With all of the holes filled up, successive allocations are
	// no longer possible.
	_, _, err = sectorAllocator.AllocateContiguous(123)
	testutil.RequireEqualStatus(t, status.Error(codes.ResourceExhausted, "No free sectors available"), err)
}

func TestBitmapSectorAllocatorMarshalBitmap(t *testing.T) {
	sectorAllocator := filesystem.NewBitmapSectorAllocator(130)
	_, _, err := sectorAllocator.AllocateContiguous(70)
	require.NoError(t, err)
	sectorAllocator.FreeList([]uint32{3, 5})

	bitmap := sectorAllocator.MarshalBitmap()
	require.Len(t, bitmap, filesystem.GetBitmapSizeBytes(130))
	require.Equal(t, 24, len(bitmap))

	t.Run("Restore", func(t *testing.T) {
		// The restored allocator should hand out the holes
		// first, followed by the remaining free space.
		restored, err := filesystem.NewBitmapSectorAllocatorFromBitmap(130, bitmap)
		require.NoError(t, err)
		require.Equal(t, uint32(62), restored.GetFreeSectorCount())

		firstSector, sectorCount, err := restored.AllocateContiguous(10)
		require.NoError(t, err)
		require.Equal(t, uint32(3), firstSector)
		require.Equal(t, 1, sectorCount)

		firstSector, sectorCount, err = restored.AllocateContiguous(10)
		require.NoError(t, err)
		require.Equal(t, uint32(5), firstSector)
		require.Equal(t, 1, sectorCount)

		firstSector, sectorCount, err = restored.AllocateContiguous(100)
		require.NoError(t, err)
		require.Equal(t, uint32(71), firstSector)
		require.Equal(t, 60, sectorCount)
	})

	t.Run("WrongSize", func(t *testing.T) {
		_, err := filesystem.NewBitmapSectorAllocatorFromBitmap(200, bitmap)
		testutil.RequireEqualStatus(t, status.Error(codes.InvalidArgument, "Bitmap is 24 bytes in size, while 32 bytes were expected for 200 sectors"), err)
	})

	t.Run("TrailingBits", func(t *testing.T) {
		// Bits beyond the end of the device may never be set.
		corrupted := append([]byte(nil), bitmap...)
		corrupted[23] = 0x80
		_, err := filesystem.NewBitmapSectorAllocatorFromBitmap(130, corrupted)
		require.Equal(t, codes.DataLoss, status.Code(err))
	})
}

func TestAllocateSectors(t *testing.T) {
	sectorAllocator := filesystem.NewBitmapSectorAllocator(10)
	_, _, err := sectorAllocator.AllocateContiguous(10)
	require.NoError(t, err)
	sectorAllocator.FreeList([]uint32{2, 4, 5, 9})

	t.Run("Fragmented", func(t *testing.T) {
		sectors, err := filesystem.AllocateSectors(sectorAllocator, 3)
		require.NoError(t, err)
		require.Equal(t, []uint32{2, 4, 5}, sectors)
		filesystem.ReleaseSectors(sectorAllocator, 4, 2)
		sectorAllocator.FreeList(sectors[:1])
	})

	t.Run("Exhausted", func(t *testing.T) {
		// Sectors obtained before running out of space are
		// handed back.
		_, err := filesystem.AllocateSectors(sectorAllocator, 5)
		testutil.RequireEqualStatus(t, status.Error(codes.ResourceExhausted, "Failed to allocate 5 sectors: No free sectors available"), err)
		require.Equal(t, uint32(4), sectorAllocator.GetFreeSectorCount())
	})
}
