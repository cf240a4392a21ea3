package filesystem_test

import (
	"bytes"
	"io"
	"testing"

	"github.com/buildbarn/bb-sectorfs/internal/mock"
	"github.com/buildbarn/bb-sectorfs/pkg/filesystem"
	"github.com/buildbarn/bb-storage/pkg/testutil"
	"github.com/stretchr/testify/require"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"go.uber.org/mock/gomock"
)

func TestBlockDeviceBackedSectorDevice(t *testing.T) {
	ctrl := gomock.NewController(t)

	blockDevice := mock.NewMockBlockDevice(ctrl)
	sectorDevice := filesystem.NewBlockDeviceBackedSectorDevice(blockDevice, 100)
	require.Equal(t, uint32(100), sectorDevice.SectorCount())

	t.Run("ReadSuccess", func(t *testing.T) {
		blockDevice.EXPECT().ReadAt(gomock.Len(filesystem.SectorSizeBytes), int64(7*512)).
			DoAndReturn(func(p []byte, off int64) (int, error) {
				return copy(p, bytes.Repeat([]byte{0x42}, len(p))), nil
			})

		var p [filesystem.SectorSizeBytes]byte
		require.NoError(t, sectorDevice.ReadSector(7, p[:]))
		require.Equal(t, bytes.Repeat([]byte{0x42}, filesystem.SectorSizeBytes), p[:])
	})

	t.Run("ReadShort", func(t *testing.T) {
		blockDevice.EXPECT().ReadAt(gomock.Any(), int64(99*512)).Return(100, io.EOF)

		var p [filesystem.SectorSizeBytes]byte
		testutil.RequireEqualStatus(
			t,
			status.Error(codes.Internal, "Read against block device returned 100 bytes, while 512 bytes were expected"),
			sectorDevice.ReadSector(99, p[:]))
	})

	t.Run("WriteSuccess", func(t *testing.T) {
		p := bytes.Repeat([]byte{0x17}, filesystem.SectorSizeBytes)
		blockDevice.EXPECT().WriteAt(p, int64(3*512)).Return(512, nil)
		require.NoError(t, sectorDevice.WriteSector(3, p))
	})

	t.Run("WriteFailure", func(t *testing.T) {
		p := make([]byte, filesystem.SectorSizeBytes)
		blockDevice.EXPECT().WriteAt(p, int64(4*512)).Return(0, status.Error(codes.Internal, "Disk on fire"))
		testutil.RequireEqualStatus(t, status.Error(codes.Internal, "Disk on fire"), sectorDevice.WriteSector(4, p))
	})

	t.Run("OutOfRange", func(t *testing.T) {
		var p [filesystem.SectorSizeBytes]byte
		testutil.RequireEqualStatus(
			t,
			status.Error(codes.OutOfRange, "Sector 100 lies beyond the end of the device, which has 100 sectors"),
			sectorDevice.ReadSector(100, p[:]))
	})

	t.Run("BadBufferSize", func(t *testing.T) {
		var p [100]byte
		testutil.RequireEqualStatus(
			t,
			status.Error(codes.InvalidArgument, "Buffer is 100 bytes in size, while sectors are 512 bytes in size"),
			sectorDevice.WriteSector(0, p[:]))
	})
}

func TestInMemorySectorDevice(t *testing.T) {
	sectorDevice := filesystem.NewInMemorySectorDevice(4)
	require.Equal(t, uint32(4), sectorDevice.SectorCount())

	// Sectors start out zero-filled.
	var p [filesystem.SectorSizeBytes]byte
	require.NoError(t, sectorDevice.ReadSector(3, p[:]))
	require.Equal(t, make([]byte, filesystem.SectorSizeBytes), p[:])

	// Data written to a sector is returned by successive reads,
	// without affecting adjacent sectors.
	written := bytes.Repeat([]byte("sector"), 100)[:filesystem.SectorSizeBytes]
	require.NoError(t, sectorDevice.WriteSector(2, written))
	require.NoError(t, sectorDevice.ReadSector(2, p[:]))
	require.Equal(t, written, p[:])
	require.NoError(t, sectorDevice.ReadSector(1, p[:]))
	require.Equal(t, make([]byte, filesystem.SectorSizeBytes), p[:])

	testutil.RequireEqualStatus(
		t,
		status.Error(codes.OutOfRange, "Sector 4 lies beyond the end of the device, which has 4 sectors"),
		sectorDevice.WriteSector(4, written))
}
