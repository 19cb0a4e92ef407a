package session_test

import (
	"context"
	"testing"
	"time"

	"github.com/dvzrv/caterpillar/pkg/blockdev"
	"github.com/dvzrv/caterpillar/pkg/installer"
	"github.com/dvzrv/caterpillar/pkg/session"
)

func newAutorunHarness(t *testing.T, devices *fakeDevices, updater *fakeInstaller) (*harness, *session.Autorun) {
	t.Helper()
	h := &harness{
		devices:   devices,
		installer: updater,
		rebooter:  &fakeRebooter{},
		publisher: &recordingPublisher{},
		recorder:  &fakeRecorder{},
	}
	var autorun *session.Autorun
	h.machine = session.New(session.Options{
		Devices:   devices,
		Installer: updater,
		Power:     h.rebooter,
		Publisher: session.Broadcast{h.publisher, publisherFunc(func(state session.State) {
			autorun.StateChanged(state)
		})},
		Journal:         h.recorder,
		BundleExtension: "raucb",
		OverrideDir:     "override",
	})
	autorun = session.NewAutorun(h.machine)
	if err := h.machine.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	return h, autorun
}

// publisherFunc adapts a state callback to the Publisher interface.
type publisherFunc func(session.State)

func (f publisherFunc) StateChanged(state session.State) { f(state) }

func (publisherFunc) MarkedForRebootChanged(bool) {}

func (publisherFunc) UpdatedChanged(bool) {}

func (publisherFunc) UpdateFound(session.Update) {}

func TestAutorunInstallsAndReboots(t *testing.T) {
	mnt := t.TempDir()
	writeBundle(t, mnt, "u.raucb")

	sda := "/org/freedesktop/UDisks2/block_devices/sda1"
	devices := &fakeDevices{
		ids:    []string{sda},
		mounts: map[string]blockdev.Mount{sda: {MountPoint: mnt}},
	}
	updater := &fakeInstaller{
		current: "1.0.0",
		results: map[string]installer.TestResult{"u.raucb": {Version: "2.0.0", Compatible: true}},
	}
	h, autorun := newAutorunHarness(t, devices, updater)

	autorun.Kick()
	waitState(t, h.machine, session.StateDone)

	if !h.machine.Updated() || !h.machine.MarkedForReboot() {
		t.Errorf("autorun session ended with Updated=%v MarkedForReboot=%v, want both true",
			h.machine.Updated(), h.machine.MarkedForReboot())
	}

	deadline := time.Now().Add(2 * time.Second)
	for h.rebooter.rebooted() != 1 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if h.rebooter.rebooted() != 1 {
		t.Errorf("reboot called %d times, want 1", h.rebooter.rebooted())
	}
}

func TestAutorunDisarmsWithoutUpdate(t *testing.T) {
	devices := &fakeDevices{}
	updater := &fakeInstaller{current: "1.0.0"}
	h, autorun := newAutorunHarness(t, devices, updater)

	autorun.Kick()
	waitState(t, h.machine, session.StateIdle)

	// Wait for the first session to settle back in idle.
	deadline := time.Now().Add(2 * time.Second)
	for len(h.recorder.recorded()) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	// The driver does not retry: a second Kick is a no-op once disarmed.
	autorun.Kick()
	time.Sleep(20 * time.Millisecond)

	if records := h.recorder.recorded(); len(records) != 1 {
		t.Errorf("recorded %d sessions, want 1 (autorun must not retry)", len(records))
	}
}
