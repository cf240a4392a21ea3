package configuration

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/buildbarn/bb-sectorfs/pkg/filesystem"
	"github.com/buildbarn/bb-sectorfs/pkg/filesystem/cache"
	"github.com/buildbarn/bb-sectorfs/pkg/filesystem/volume"
	"github.com/buildbarn/bb-storage/pkg/clock"
	"github.com/buildbarn/bb-storage/pkg/util"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// ApplicationConfiguration holds the parameters of a volume and of the
// process accessing it.
type ApplicationConfiguration struct {
	// Path of the file or block device holding the volume.
	BlockDevicePath string `json:"blockDevicePath"`
	// Size of the volume. Files are grown to this size when
	// formatting. Existing block devices may be larger.
	SizeBytes int64 `json:"sizeBytes"`
	// Number of sectors the cache can hold. Defaults to 64.
	CacheSlots int `json:"cacheSlots"`
	// Interval at which dirty sectors are written back, using
	// Go's duration syntax (e.g., "1.5s").
	FlushInterval string `json:"flushInterval"`
	// If non-zero, the maximum number of sectors that inodes may
	// allocate while the volume is mounted, on top of the sectors
	// that were already in use.
	MaximumSectors int64 `json:"maximumSectors"`
}

// GetConfigurationFromFile evaluates a Jsonnet file and decodes it.
// Environment variables are exposed to the Jsonnet file as external
// variables.
func GetConfigurationFromFile(path string) (*ApplicationConfiguration, error) {
	var message structpb.Struct
	if err := util.UnmarshalConfigurationFromFile(path, &message); err != nil {
		return nil, util.StatusWrapWithCode(err, codes.InvalidArgument, "Failed to load configuration")
	}
	jsonData, err := protojson.Marshal(&message)
	if err != nil {
		return nil, util.StatusWrap(err, "Failed to convert configuration to JSON")
	}

	decoder := json.NewDecoder(bytes.NewReader(jsonData))
	decoder.DisallowUnknownFields()
	var configuration ApplicationConfiguration
	if err := decoder.Decode(&configuration); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "Failed to decode configuration: %s", err)
	}
	if configuration.BlockDevicePath == "" {
		return nil, status.Error(codes.InvalidArgument, "No block device path provided")
	}
	if configuration.SizeBytes < 0 || configuration.CacheSlots < 0 || configuration.MaximumSectors < 0 {
		return nil, status.Error(codes.InvalidArgument, "Sizes and counts cannot be negative")
	}
	return &configuration, nil
}

// GetFlushInterval returns the flush interval, or the default interval
// if none is configured.
func (c *ApplicationConfiguration) GetFlushInterval() (time.Duration, error) {
	if c.FlushInterval == "" {
		return cache.DefaultFlushInterval, nil
	}
	interval, err := time.ParseDuration(c.FlushInterval)
	if err != nil {
		return 0, status.Errorf(codes.InvalidArgument, "Invalid flush interval: %s", err)
	}
	if interval <= 0 {
		return 0, status.Errorf(codes.InvalidArgument, "Flush interval %s is not positive", interval)
	}
	return interval, nil
}

// NewSectorDevice opens the block device holding the volume.
func (c *ApplicationConfiguration) NewSectorDevice(zeroInitialize bool) (filesystem.SectorDevice, error) {
	return filesystem.NewSectorDeviceFromFile(c.BlockDevicePath, c.SizeBytes, zeroInitialize)
}

// NewVolumeFromConfiguration mounts the volume described by the
// configuration. It also returns a PeriodicFlusher that needs to be
// run for as long as the volume is in use.
func NewVolumeFromConfiguration(configuration *ApplicationConfiguration, clock clock.Clock) (*volume.Volume, *cache.PeriodicFlusher, error) {
	flushInterval, err := configuration.GetFlushInterval()
	if err != nil {
		return nil, nil, err
	}
	device, err := configuration.NewSectorDevice(false)
	if err != nil {
		return nil, nil, err
	}

	cacheSlots := configuration.CacheSlots
	if cacheSlots == 0 {
		cacheSlots = cache.DefaultSlotCount
	}
	sectorCache := cache.NewSectorCache(device, cacheSlots)

	maximumSectors := configuration.MaximumSectors
	v, err := volume.Mount(sectorCache, device.SectorCount(), func(allocator filesystem.SectorAllocator) filesystem.SectorAllocator {
		if maximumSectors > 0 {
			allocator = filesystem.NewQuotaEnforcingSectorAllocator(allocator, maximumSectors)
		}
		return filesystem.NewMetricsSectorAllocator(allocator)
	})
	if err != nil {
		return nil, nil, util.StatusWrapf(err, "Failed to mount volume stored in %#v", configuration.BlockDevicePath)
	}
	return v, cache.NewPeriodicFlusher(sectorCache, clock, flushInterval), nil
}
