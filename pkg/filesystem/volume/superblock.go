package volume

import (
	"encoding/binary"

	"github.com/buildbarn/bb-sectorfs/pkg/filesystem"
	"github.com/google/uuid"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	superblockSector = 0
	superblockMagic  = 0x53465342

	superblockOffsetMagic         = 0
	superblockOffsetSectorCount   = 4
	superblockOffsetFreeMapSector = 8
	superblockOffsetID            = 12
)

// superblock describes the layout of a volume. It is stored in the
// first sector of the device.
type superblock struct {
	id            uuid.UUID
	sectorCount   uint32
	freeMapSector uint32
}

func (sb *superblock) marshal() (b [filesystem.SectorSizeBytes]byte) {
	binary.LittleEndian.PutUint32(b[superblockOffsetMagic:], superblockMagic)
	binary.LittleEndian.PutUint32(b[superblockOffsetSectorCount:], sb.sectorCount)
	binary.LittleEndian.PutUint32(b[superblockOffsetFreeMapSector:], sb.freeMapSector)
	copy(b[superblockOffsetID:], sb.id[:])
	return
}

func unmarshalSuperblock(b *[filesystem.SectorSizeBytes]byte) (superblock, error) {
	if magic := binary.LittleEndian.Uint32(b[superblockOffsetMagic:]); magic != superblockMagic {
		return superblock{}, status.Errorf(codes.DataLoss, "Superblock has magic %#x, while %#x was expected", magic, superblockMagic)
	}
	sb := superblock{
		sectorCount:   binary.LittleEndian.Uint32(b[superblockOffsetSectorCount:]),
		freeMapSector: binary.LittleEndian.Uint32(b[superblockOffsetFreeMapSector:]),
	}
	copy(sb.id[:], b[superblockOffsetID:])
	if sb.freeMapSector == superblockSector || sb.freeMapSector >= sb.sectorCount {
		return superblock{}, status.Errorf(codes.DataLoss, "Free map sector %d lies outside the volume, which has %d sectors", sb.freeMapSector, sb.sectorCount)
	}
	return sb, nil
}
