package filesystem

import (
	"sync"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type inMemorySectorDevice struct {
	lock sync.RWMutex
	data []byte
}

// NewInMemorySectorDevice creates a SectorDevice that stores all
// sectors in memory. Its contents start out zero-filled. It is used by
// tests and for creating scratch volumes.
func NewInMemorySectorDevice(sectorCount uint32) SectorDevice {
	return &inMemorySectorDevice{
		data: make([]byte, int(sectorCount)*SectorSizeBytes),
	}
}

func (sd *inMemorySectorDevice) getSector(sector uint32, p []byte) ([]byte, error) {
	if len(p) != SectorSizeBytes {
		return nil, status.Errorf(codes.InvalidArgument, "Buffer is %d bytes in size, while sectors are %d bytes in size", len(p), SectorSizeBytes)
	}
	offset := int(sector) * SectorSizeBytes
	if offset >= len(sd.data) {
		return nil, status.Errorf(codes.OutOfRange, "Sector %d lies beyond the end of the device, which has %d sectors", sector, len(sd.data)/SectorSizeBytes)
	}
	return sd.data[offset : offset+SectorSizeBytes], nil
}

func (sd *inMemorySectorDevice) ReadSector(sector uint32, p []byte) error {
	sd.lock.RLock()
	defer sd.lock.RUnlock()

	s, err := sd.getSector(sector, p)
	if err != nil {
		return err
	}
	copy(p, s)
	return nil
}

func (sd *inMemorySectorDevice) WriteSector(sector uint32, p []byte) error {
	sd.lock.Lock()
	defer sd.lock.Unlock()

	s, err := sd.getSector(sector, p)
	if err != nil {
		return err
	}
	copy(s, p)
	return nil
}

func (sd *inMemorySectorDevice) SectorCount() uint32 {
	return uint32(len(sd.data) / SectorSizeBytes)
}
