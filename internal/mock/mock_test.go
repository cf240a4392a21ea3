package mock_test

import (
	"github.com/buildbarn/bb-sectorfs/internal/mock"
	"github.com/buildbarn/bb-sectorfs/pkg/filesystem"
	"github.com/buildbarn/bb-sectorfs/pkg/filesystem/cache"
	"github.com/buildbarn/bb-storage/pkg/blockdevice"
	"github.com/buildbarn/bb-storage/pkg/clock"
)

var (
	_ blockdevice.BlockDevice    = (*mock.MockBlockDevice)(nil)
	_ cache.SectorCache          = (*mock.MockSectorCache)(nil)
	_ clock.Clock                = (*mock.MockClock)(nil)
	_ clock.Ticker               = (*mock.MockTicker)(nil)
	_ clock.Timer                = (*mock.MockTimer)(nil)
	_ filesystem.SectorAllocator = (*mock.MockSectorAllocator)(nil)
	_ filesystem.SectorDevice    = (*mock.MockSectorDevice)(nil)
)
