package inode

import (
	"encoding/binary"

	"github.com/buildbarn/bb-sectorfs/pkg/filesystem"
	"github.com/buildbarn/bb-sectorfs/pkg/filesystem/cache"
	"github.com/buildbarn/bb-storage/pkg/util"
)

// indexBlock is the decoded form of a sector containing pointers to
// other sectors. Unused entries are zero.
type indexBlock [pointersPerIndexBlock]uint32

func (ib *indexBlock) load(sectorCache cache.SectorCache, sector uint32) error {
	var b [filesystem.SectorSizeBytes]byte
	if err := sectorCache.ReadSector(sector, b[:], 0); err != nil {
		return util.StatusWrapf(err, "Failed to load index block at sector %d", sector)
	}
	for i := range ib {
		ib[i] = binary.LittleEndian.Uint32(b[4*i:])
	}
	return nil
}

func (ib *indexBlock) store(sectorCache cache.SectorCache, sector uint32) error {
	var b [filesystem.SectorSizeBytes]byte
	for i, pointer := range ib {
		binary.LittleEndian.PutUint32(b[4*i:], pointer)
	}
	if err := sectorCache.WriteSector(sector, b[:], 0); err != nil {
		return util.StatusWrapf(err, "Failed to store index block at sector %d", sector)
	}
	return nil
}

// readIndexBlockEntry obtains a single pointer from an index block,
// without decoding the index block in its entirety.
func readIndexBlockEntry(sectorCache cache.SectorCache, sector uint32, entry int) (uint32, error) {
	var b [4]byte
	if err := sectorCache.ReadSector(sector, b[:], 4*entry); err != nil {
		return 0, util.StatusWrapf(err, "Failed to read entry %d of index block at sector %d", entry, sector)
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}
