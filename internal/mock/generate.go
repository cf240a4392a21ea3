package mock

//go:generate go run go.uber.org/mock/mockgen -package mock -destination blockdevice.go github.com/buildbarn/bb-storage/pkg/blockdevice BlockDevice
//go:generate go run go.uber.org/mock/mockgen -package mock -destination cache.go github.com/buildbarn/bb-sectorfs/pkg/filesystem/cache SectorCache
//go:generate go run go.uber.org/mock/mockgen -package mock -destination clock.go github.com/buildbarn/bb-storage/pkg/clock Clock,Ticker,Timer
//go:generate go run go.uber.org/mock/mockgen -package mock -destination filesystem.go github.com/buildbarn/bb-sectorfs/pkg/filesystem SectorAllocator,SectorDevice
