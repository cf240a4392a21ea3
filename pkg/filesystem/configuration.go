package filesystem

import (
	"math"

	"github.com/buildbarn/bb-storage/pkg/blockdevice"
	"github.com/buildbarn/bb-storage/pkg/util"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// NewSectorDeviceFromFile constructs a SectorDevice that is backed by
// a file or block device. Regular files are created if they don't
// exist, and are grown to be at least minimumSizeBytes in size. If
// zeroInitialize is set, existing contents of the file are discarded.
func NewSectorDeviceFromFile(path string, minimumSizeBytes int64, zeroInitialize bool) (SectorDevice, error) {
	if minimumSizeBytes < 0 || minimumSizeBytes > math.MaxInt {
		return nil, status.Errorf(codes.InvalidArgument, "Invalid minimum size of %d bytes", minimumSizeBytes)
	}
	blockDevice, deviceSectorSizeBytes, deviceSectorCount, err := blockdevice.NewBlockDeviceFromFile(path, int(minimumSizeBytes), zeroInitialize)
	if err != nil {
		return nil, util.StatusWrapf(err, "Failed to open block device %#v", path)
	}
	sectorCount := int64(deviceSectorSizeBytes) * deviceSectorCount / SectorSizeBytes
	if sectorCount > math.MaxUint32 {
		return nil, status.Errorf(codes.InvalidArgument, "Block device has %d sectors, while only %d may be addressed", sectorCount, uint32(math.MaxUint32))
	}
	return NewBlockDeviceBackedSectorDevice(blockDevice, uint32(sectorCount)), nil
}
