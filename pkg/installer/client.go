// Package installer talks to the A/B slot updater that tests and installs
// update bundles.
package installer

import (
	"context"
	"errors"
)

// ErrInstallFailed is returned when the updater reports a failed
// installation of the chosen bundle.
var ErrInstallFailed = errors.New("update installation failed")

// TestResult is the outcome of testing a bundle for compatibility.
type TestResult struct {
	// Version is the semantic version the bundle declares.
	Version string
	// Compatible reports whether the bundle may be installed on this system.
	Compatible bool
}

// Client is the interface to the update installer.
type Client interface {
	// CurrentVersion returns the version of the currently booted slot. The
	// empty string means the version is unknown.
	CurrentVersion(ctx context.Context) (string, error)

	// Test inspects a bundle file and reports its version and whether it is
	// compatible with this system. Unreadable bundles yield an error.
	Test(ctx context.Context, path string) (TestResult, error)

	// Install installs a bundle file. It blocks until the installer reports
	// success or failure.
	Install(ctx context.Context, path string) error
}
