package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"

	"github.com/buildbarn/bb-sectorfs/pkg/filesystem/configuration"
	"github.com/buildbarn/bb-sectorfs/pkg/filesystem/inode"
	"github.com/buildbarn/bb-sectorfs/pkg/filesystem/volume"
	"github.com/buildbarn/bb-storage/pkg/clock"
	"github.com/buildbarn/bb-storage/pkg/util"
	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const usage = "Usage: bb_sectorfs --config=bb_sectorfs.jsonnet format|create|put|get|stat|rm|df [arguments]"

func parseInodeNumber(s string) (uint32, error) {
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, status.Errorf(codes.InvalidArgument, "Invalid inode number %#v", s)
	}
	return uint32(n), nil
}

// withInode opens an inode, calls a function while holding its lock,
// and closes it afterwards.
func withInode(v *volume.Volume, s string, f func(in *inode.Inode) error) error {
	number, err := parseInodeNumber(s)
	if err != nil {
		return err
	}
	table := v.Table()
	in, err := table.Open(number)
	if err != nil {
		return err
	}
	in.Lock()
	err = f(in)
	in.Unlock()
	if closeErr := table.Close(in); err == nil {
		err = closeErr
	}
	return err
}

func runCommand(v *volume.Volume, args []string) error {
	switch {
	case args[0] == "create" && len(args) == 2:
		length, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return status.Errorf(codes.InvalidArgument, "Invalid length %#v", args[1])
		}
		number, err := v.CreateInode(length, false)
		if err != nil {
			return err
		}
		fmt.Println(number)
		return nil
	case args[0] == "put" && len(args) == 3:
		f, err := os.Open(args[2])
		if err != nil {
			return util.StatusWrapf(err, "Failed to open %#v", args[2])
		}
		defer f.Close()
		return withInode(v, args[1], func(in *inode.Inode) error {
			if _, err := io.Copy(io.NewOffsetWriter(in, 0), f); err != nil {
				return util.StatusWrapf(err, "Failed to copy %#v", args[2])
			}
			return nil
		})
	case args[0] == "get" && len(args) == 2:
		return withInode(v, args[1], func(in *inode.Inode) error {
			_, err := io.Copy(os.Stdout, io.NewSectionReader(in, 0, in.Length()))
			return err
		})
	case args[0] == "stat" && len(args) == 2:
		return withInode(v, args[1], func(in *inode.Inode) error {
			fmt.Printf("Inode:     %d\n", in.Number())
			fmt.Printf("Length:    %d\n", in.Length())
			fmt.Printf("Directory: %t\n", in.IsDirectory())
			fmt.Printf("Parent:    %d\n", in.Parent())
			return nil
		})
	case args[0] == "rm" && len(args) == 2:
		return withInode(v, args[1], func(in *inode.Inode) error {
			in.Remove()
			return nil
		})
	case args[0] == "df" && len(args) == 1:
		fmt.Printf("Volume:       %s\n", v.ID())
		fmt.Printf("Free sectors: %d\n", v.GetFreeSectorCount())
		return nil
	default:
		return status.Error(codes.InvalidArgument, usage)
	}
}

func main() {
	configurationPath := pflag.String("config", "", "Path of the Jsonnet configuration file")
	pflag.SetInterspersed(false)
	pflag.Parse()
	args := pflag.Args()
	if *configurationPath == "" || len(args) == 0 {
		log.Fatal(usage)
	}

	applicationConfiguration, err := configuration.GetConfigurationFromFile(*configurationPath)
	if err != nil {
		log.Fatalf("Failed to read configuration from %s: %s", *configurationPath, err)
	}

	if args[0] == "format" {
		if len(args) != 1 {
			log.Fatal(usage)
		}
		device, err := applicationConfiguration.NewSectorDevice(true)
		if err != nil {
			log.Fatal("Failed to create sector device: ", err)
		}
		id := uuid.New()
		if err := volume.Format(device, id); err != nil {
			log.Fatal("Failed to format volume: ", err)
		}
		log.Printf("Formatted volume %s with %d sectors", id, device.SectorCount())
		return
	}

	v, flusher, err := configuration.NewVolumeFromConfiguration(applicationConfiguration, clock.SystemClock)
	if err != nil {
		log.Fatal("Failed to mount volume: ", err)
	}

	// Keep flushing dirty sectors in the background while the
	// command runs. The flusher performs a final flush once the
	// command completes.
	group, groupCtx := errgroup.WithContext(context.Background())
	commandCtx, cancelCommand := context.WithCancel(groupCtx)
	group.Go(func() error {
		return flusher.Run(commandCtx)
	})
	group.Go(func() error {
		defer cancelCommand()
		return runCommand(v, args)
	})
	commandErr := group.Wait()

	if err := v.Close(); err != nil {
		log.Fatal("Failed to close volume: ", err)
	}
	if commandErr != nil {
		log.Fatal(commandErr)
	}
}
