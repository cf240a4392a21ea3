package filesystem

import (
	"io"

	"github.com/buildbarn/bb-storage/pkg/blockdevice"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// SectorSizeBytes is the size of a single sector on the device. Both
// the on-disk inode record and index blocks occupy exactly one sector.
const SectorSizeBytes = 512

// SectorDevice provides access to a device at the granularity of
// sectors. The only guarantee provided by implementations is that
// reading or writing a single sector is atomic.
//
// The buffers provided to ReadSector() and WriteSector() must be
// exactly SectorSizeBytes in size.
type SectorDevice interface {
	ReadSector(sector uint32, p []byte) error
	WriteSector(sector uint32, p []byte) error
	SectorCount() uint32
}

type blockDeviceBackedSectorDevice struct {
	blockDevice blockdevice.BlockDevice
	sectorCount uint32
}

// NewBlockDeviceBackedSectorDevice creates a SectorDevice that stores
// sectors on a BlockDevice. Sector n is stored at byte offset
// n*SectorSizeBytes.
func NewBlockDeviceBackedSectorDevice(blockDevice blockdevice.BlockDevice, sectorCount uint32) SectorDevice {
	return &blockDeviceBackedSectorDevice{
		blockDevice: blockDevice,
		sectorCount: sectorCount,
	}
}

func (sd *blockDeviceBackedSectorDevice) checkSector(sector uint32, p []byte) error {
	if len(p) != SectorSizeBytes {
		return status.Errorf(codes.InvalidArgument, "Buffer is %d bytes in size, while sectors are %d bytes in size", len(p), SectorSizeBytes)
	}
	if sector >= sd.sectorCount {
		return status.Errorf(codes.OutOfRange, "Sector %d lies beyond the end of the device, which has %d sectors", sector, sd.sectorCount)
	}
	return nil
}

func (sd *blockDeviceBackedSectorDevice) ReadSector(sector uint32, p []byte) error {
	if err := sd.checkSector(sector, p); err != nil {
		return err
	}
	n, err := sd.blockDevice.ReadAt(p, int64(sector)*SectorSizeBytes)
	if err != nil && err != io.EOF {
		return err
	}
	if n != len(p) {
		return status.Errorf(codes.Internal, "Read against block device returned %d bytes, while %d bytes were expected", n, len(p))
	}
	return nil
}

func (sd *blockDeviceBackedSectorDevice) WriteSector(sector uint32, p []byte) error {
	if err := sd.checkSector(sector, p); err != nil {
		return err
	}
	_, err := sd.blockDevice.WriteAt(p, int64(sector)*SectorSizeBytes)
	return err
}

func (sd *blockDeviceBackedSectorDevice) SectorCount() uint32 {
	return sd.sectorCount
}
