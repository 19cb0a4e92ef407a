// Package blockdev talks to the block device enumerator to discover, mount
// and unmount removable filesystems.
package blockdev

import "context"

// Mount is the result of a successful mount request.
type Mount struct {
	// MountPoint is the path the filesystem is reachable at.
	MountPoint string
	// Borrowed is true when the filesystem was already mounted by somebody
	// else. Borrowed mounts are searched but never unmounted by us.
	Borrowed bool
}

// Client enumerates block devices and mounts their filesystems. The client
// keeps no state between calls; the session owns all mount bookkeeping.
type Client interface {
	// Enumerate returns the object identifiers of block devices matching the
	// configured pattern.
	Enumerate(ctx context.Context) ([]string, error)

	// Mount mounts the filesystem of a block device and returns its
	// mountpoint. Incompatible or unmountable devices return an error.
	Mount(ctx context.Context, id string) (Mount, error)

	// Unmount unmounts a previously mounted filesystem.
	Unmount(ctx context.Context, id string) error
}
