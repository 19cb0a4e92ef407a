// Package bundle discovers update bundle candidates on mounted filesystems.
package bundle

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// ErrAmbiguousOverride is returned when more than one bundle is present in
// the override directory of a mountpoint. The mountpoint then yields no
// candidates at all.
var ErrAmbiguousOverride = errors.New("more than one override update bundle")

// Origin describes where on a mounted filesystem a candidate was found.
type Origin string

const (
	// OriginRegular marks a bundle found at the top level of a mountpoint.
	OriginRegular Origin = "regular"
	// OriginOverride marks a bundle found in the override directory.
	OriginOverride Origin = "override"
)

// Candidate is a path-only update bundle candidate. Its version is not known
// until the installer has tested it.
type Candidate struct {
	// Path is the absolute filesystem path of the bundle file.
	Path string
	// Origin classifies the candidate as regular or override.
	Origin Origin
	// Device is the block device object whose filesystem holds the bundle.
	Device string
}

// Scan enumerates update bundle candidates on one mountpoint.
//
// A single bundle inside the override directory takes precedence and
// suppresses all regular candidates of this mountpoint. More than one
// override bundle is ambiguous and the mountpoint yields nothing. Without
// override bundles, all top-level files carrying the bundle extension are
// returned as regular candidates. No recursion, symlinks are not followed.
func Scan(mountpoint, extension, overrideDir, device string) ([]Candidate, error) {
	overridePath := filepath.Join(mountpoint, overrideDir)
	var overrides []string
	if info, err := os.Lstat(overridePath); err == nil && info.IsDir() {
		overrides, err = scanDir(overridePath, extension)
		if err != nil {
			return nil, err
		}
	} else if err == nil {
		slog.Warn("override_location_not_a_directory", "path", overridePath)
	}

	switch len(overrides) {
	case 0:
	case 1:
		slog.Info("override_bundle_found", "path", overrides[0], "device", device)
		return []Candidate{{Path: overrides[0], Origin: OriginOverride, Device: device}}, nil
	default:
		return nil, ErrAmbiguousOverride
	}

	paths, err := scanDir(mountpoint, extension)
	if err != nil {
		return nil, err
	}

	candidates := make([]Candidate, 0, len(paths))
	for _, path := range paths {
		slog.Info("bundle_found", "path", path, "device", device)
		candidates = append(candidates, Candidate{Path: path, Origin: OriginRegular, Device: device})
	}
	return candidates, nil
}

// scanDir returns the sorted paths of regular files in dir whose name ends
// with the bundle extension. A missing directory yields no paths.
func scanDir(dir, extension string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	suffix := "." + extension
	var paths []string
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		if !strings.HasSuffix(entry.Name(), suffix) {
			continue
		}
		paths = append(paths, filepath.Join(dir, entry.Name()))
	}
	return paths, nil
}

// DisableOverride renames an installed override bundle so that it is not
// picked up again on the next session.
func DisableOverride(path string) error {
	return os.Rename(path, path+".installed")
}
