package inode

import (
	"encoding/binary"

	"github.com/buildbarn/bb-sectorfs/pkg/filesystem"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const recordMagic = 0x494e4f44

// Offsets of the fields of an inode record within its sector. All
// fields are stored as little endian 32-bit integers. The remainder of
// the sector is left zero.
const (
	recordOffsetLength              = 0
	recordOffsetMagic               = 4
	recordOffsetPointerIndex        = 8
	recordOffsetIndirectIndex       = 12
	recordOffsetDoubleIndirectIndex = 16
	recordOffsetPointers            = 20
	recordOffsetIsDirectory         = recordOffsetPointers + 4*pointerCount
	recordOffsetParent              = recordOffsetIsDirectory + 4
)

// record is the decoded form of the sector that stores an inode's
// metadata on disk.
type record struct {
	length      uint32
	tree        pointerTree
	isDirectory bool
	parent      uint32
}

func (r *record) marshal() (b [filesystem.SectorSizeBytes]byte) {
	binary.LittleEndian.PutUint32(b[recordOffsetLength:], r.length)
	binary.LittleEndian.PutUint32(b[recordOffsetMagic:], recordMagic)
	binary.LittleEndian.PutUint32(b[recordOffsetPointerIndex:], r.tree.pointerIndex)
	binary.LittleEndian.PutUint32(b[recordOffsetIndirectIndex:], r.tree.indirectIndex)
	binary.LittleEndian.PutUint32(b[recordOffsetDoubleIndirectIndex:], r.tree.doubleIndirectIndex)
	for i, pointer := range r.tree.pointers {
		binary.LittleEndian.PutUint32(b[recordOffsetPointers+4*i:], pointer)
	}
	if r.isDirectory {
		binary.LittleEndian.PutUint32(b[recordOffsetIsDirectory:], 1)
	}
	binary.LittleEndian.PutUint32(b[recordOffsetParent:], r.parent)
	return
}

func unmarshalRecord(sector uint32, b *[filesystem.SectorSizeBytes]byte) (record, error) {
	if magic := binary.LittleEndian.Uint32(b[recordOffsetMagic:]); magic != recordMagic {
		return record{}, status.Errorf(codes.DataLoss, "Inode at sector %d has magic %#x, while %#x was expected", sector, magic, recordMagic)
	}

	r := record{
		length: binary.LittleEndian.Uint32(b[recordOffsetLength:]),
		tree: pointerTree{
			frontier: frontier{
				pointerIndex:        binary.LittleEndian.Uint32(b[recordOffsetPointerIndex:]),
				indirectIndex:       binary.LittleEndian.Uint32(b[recordOffsetIndirectIndex:]),
				doubleIndirectIndex: binary.LittleEndian.Uint32(b[recordOffsetDoubleIndirectIndex:]),
			},
		},
		isDirectory: binary.LittleEndian.Uint32(b[recordOffsetIsDirectory:]) != 0,
		parent:      binary.LittleEndian.Uint32(b[recordOffsetParent:]),
	}
	for i := range r.tree.pointers {
		r.tree.pointers[i] = binary.LittleEndian.Uint32(b[recordOffsetPointers+4*i:])
	}

	if !r.tree.frontier.isValid() {
		return record{}, status.Errorf(codes.DataLoss, "Inode at sector %d has invalid allocation frontier %d/%d/%d", sector, r.tree.pointerIndex, r.tree.indirectIndex, r.tree.doubleIndirectIndex)
	}
	// A growth operation that failed halfway may have left more
	// sectors allocated than needed, but never fewer.
	if allocated := r.tree.dataSectorCount(); getSectorCount(int64(r.length)) > allocated {
		return record{}, status.Errorf(codes.DataLoss, "Inode at sector %d has length %d, while only %d sectors are allocated", sector, r.length, allocated)
	}
	return r, nil
}
