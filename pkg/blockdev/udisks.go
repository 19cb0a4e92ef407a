package blockdev

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/godbus/dbus/v5"

	"github.com/dvzrv/caterpillar/pkg/errors"
)

const (
	udisksService     = "org.freedesktop.UDisks2"
	udisksManagerPath = "/org/freedesktop/UDisks2/Manager"
	managerInterface  = "org.freedesktop.UDisks2.Manager"

	blockInterface      = "org.freedesktop.UDisks2.Block"
	partitionInterface  = "org.freedesktop.UDisks2.Partition"
	filesystemInterface = "org.freedesktop.UDisks2.Filesystem"

	blockDevicePrefix = "/org/freedesktop/UDisks2/block_devices"
)

// compatiblePartitionTypes lists the GPT type GUIDs and MBR type identifiers
// of partitions that may carry update bundles.
//
// GPT types are found in https://en.wikipedia.org/wiki/GUID_Partition_Table,
// MBR types in https://en.wikipedia.org/wiki/Partition_type.
var compatiblePartitionTypes = map[string]string{
	"ebd0a0a2-b9e5-4433-87c0-68b6b72699c7": "gpt-microsoft-basic-data",
	"0fc63daf-8483-4772-8e79-3d69d8477de4": "gpt-linux-filesystem-data",
	"0x06":                                 "mbr-fat16",
	"0x0e":                                 "mbr-fat16-lba",
	"0x0b":                                 "mbr-fat32",
	"0x0c":                                 "mbr-fat32-lba",
	"0x17":                                 "mbr-ntfs",
	"0x83":                                 "mbr-linux-filesystem",
}

// UDisks implements Client against the UDisks2 daemon on the system bus.
type UDisks struct {
	conn    *dbus.Conn
	pattern *regexp.Regexp
}

// NewUDisks connects to UDisks2 and verifies it is reachable.
func NewUDisks(ctx context.Context, conn *dbus.Conn, pattern *regexp.Regexp) (*UDisks, error) {
	manager := conn.Object(udisksService, udisksManagerPath)
	version, err := manager.GetProperty(managerInterface + ".Version")
	if err != nil {
		return nil, errors.Wrap(err, "udisks2 is not reachable")
	}
	slog.Info("udisks_connected", "version", version.Value())
	return &UDisks{conn: conn, pattern: pattern}, nil
}

// Enumerate lists block device objects matching the configured pattern.
func (u *UDisks) Enumerate(ctx context.Context) ([]string, error) {
	options := map[string]dbus.Variant{
		"auth.no_user_interaction": dbus.MakeVariant(false),
	}

	var paths []dbus.ObjectPath
	manager := u.conn.Object(udisksService, udisksManagerPath)
	if err := manager.CallWithContext(ctx, managerInterface+".GetBlockDevices", 0, options).Store(&paths); err != nil {
		return nil, errors.Wrap(err, "failed to list block devices")
	}

	var ids []string
	for _, path := range paths {
		if u.pattern.MatchString(string(path)) {
			ids = append(ids, string(path))
		}
	}
	slog.Info("block_devices_enumerated", "matching", len(ids), "total", len(paths))
	return ids, nil
}

// Mount mounts the filesystem of a block device.
//
// Devices without a filesystem, base devices without a partition and
// partitions of incompatible type are refused. A filesystem that is already
// mounted elsewhere is borrowed instead of mounted again.
func (u *UDisks) Mount(ctx context.Context, id string) (Mount, error) {
	obj := u.conn.Object(udisksService, dbus.ObjectPath(id))
	device := DevicePath(id)

	idUsage, err := obj.GetProperty(blockInterface + ".IdUsage")
	if err != nil {
		return Mount{}, errors.Wrapf(err, "failed to read usage of %s", device)
	}
	if usage, _ := idUsage.Value().(string); usage != "filesystem" {
		return Mount{}, fmt.Errorf("device %s does not have a filesystem", device)
	}

	number, err := obj.GetProperty(partitionInterface + ".Number")
	if err != nil {
		return Mount{}, errors.Wrapf(err, "failed to read partition number of %s", device)
	}
	if n, _ := number.Value().(uint32); n == 0 {
		return Mount{}, fmt.Errorf("device %s is a base device without a partition", device)
	}

	partitionType, err := obj.GetProperty(partitionInterface + ".Type")
	if err != nil {
		return Mount{}, errors.Wrapf(err, "failed to read partition type of %s", device)
	}
	rawType, _ := partitionType.Value().(string)
	name, ok := compatiblePartitionTypes[strings.ToLower(rawType)]
	if !ok {
		return Mount{}, fmt.Errorf("device %s does not have a compatible filesystem (%s)", device, rawType)
	}
	slog.Info("compatible_partition_found", "device", device, "type", name)

	mountPoints, err := obj.GetProperty(filesystemInterface + ".MountPoints")
	if err != nil {
		return Mount{}, errors.Wrapf(err, "failed to read mountpoints of %s", device)
	}
	if existing, _ := mountPoints.Value().([][]byte); len(existing) > 0 {
		mountpoint := TrimMountPoint(existing[0])
		slog.Info("device_already_mounted", "device", device, "mountpoint", mountpoint)
		return Mount{MountPoint: mountpoint, Borrowed: true}, nil
	}

	options := map[string]dbus.Variant{"options": dbus.MakeVariant("rw")}
	var mountpoint string
	if err := obj.CallWithContext(ctx, filesystemInterface+".Mount", 0, options).Store(&mountpoint); err != nil {
		return Mount{}, errors.Wrapf(err, "failed to mount %s", device)
	}
	slog.Info("device_mounted", "device", device, "mountpoint", mountpoint)
	return Mount{MountPoint: mountpoint}, nil
}

// Unmount unmounts the filesystem of a block device.
func (u *UDisks) Unmount(ctx context.Context, id string) error {
	obj := u.conn.Object(udisksService, dbus.ObjectPath(id))
	options := map[string]dbus.Variant{"force": dbus.MakeVariant(true)}
	if err := obj.CallWithContext(ctx, filesystemInterface+".Unmount", 0, options).Err; err != nil {
		return errors.Wrapf(err, "failed to unmount %s", DevicePath(id))
	}
	slog.Info("device_unmounted", "device", DevicePath(id))
	return nil
}

// DevicePath renders a block device object identifier as its /dev path.
func DevicePath(id string) string {
	return strings.Replace(id, blockDevicePrefix, "/dev", 1)
}

// TrimMountPoint converts a NUL terminated mountpoint byte array as reported
// by UDisks2 into a string.
func TrimMountPoint(raw []byte) string {
	return string(bytes.TrimRight(raw, "\x00"))
}
