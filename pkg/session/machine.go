// Package session implements the update session state machine. It drives
// device discovery, mounting, bundle search, compatibility testing,
// installation and cleanup through an explicit transition table, and
// publishes every observable mutation to its subscribers.
package session

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/dvzrv/caterpillar/pkg/blockdev"
	"github.com/dvzrv/caterpillar/pkg/bundle"
	"github.com/dvzrv/caterpillar/pkg/installer"
	"github.com/dvzrv/caterpillar/pkg/metrics"
	"github.com/dvzrv/caterpillar/pkg/power"
	"github.com/dvzrv/caterpillar/pkg/version"
)

// Session outcomes as recorded in the journal and metrics.
const (
	OutcomeNoUpdateFound = "noupdatefound"
	OutcomeSkipped       = "skipped"
	OutcomeUpdated       = "updated"
	OutcomeInstallFailed = "installfailed"
)

// Record summarises one finished update session.
type Record struct {
	StartedAt      time.Time
	FinishedAt     time.Time
	Outcome        string
	BundlePath     string
	BundleVersion  string
	CurrentVersion string
	Override       bool
	Updated        bool
}

// Recorder persists session records. Failures are logged, never fatal.
type Recorder interface {
	RecordSession(ctx context.Context, rec Record) error
}

// Selection is the single bundle chosen for installation in a session.
type Selection struct {
	Candidate      bundle.Candidate
	Version        string
	CurrentVersion string
}

// mountRecord tracks one mount performed during a session. Borrowed mounts
// were found already mounted and are never unmounted by us.
type mountRecord struct {
	device     string
	mountPoint string
	borrowed   bool
}

// sessionContext exists from entering searching until the session returns to
// idle or reaches done.
type sessionContext struct {
	startedAt  time.Time
	mounts     []mountRecord
	candidates []bundle.Candidate
	selected   *Selection
	outcome    string
}

// Options carries the capability set injected into a Machine.
type Options struct {
	Devices   blockdev.Client
	Installer installer.Client
	Power     power.Rebooter

	// Publisher receives observable mutations. Defaults to NopPublisher.
	Publisher Publisher
	// Journal persists session records. Optional.
	Journal Recorder
	// Metrics counts session activity. Defaults to metrics.Noop.
	Metrics metrics.Metrics

	// BundleExtension is the file suffix identifying bundles.
	BundleExtension string
	// OverrideDir is the override directory name inside each mountpoint.
	OverrideDir string
}

// Machine is the update session state machine. At most one session is
// active at any time; the observable tuple (State, MarkedForReboot,
// Updated) is written exclusively by the machine under one mutex.
type Machine struct {
	devices     blockdev.Client
	installer   installer.Client
	power       power.Rebooter
	pub         Publisher
	journal     Recorder
	metrics     metrics.Metrics
	extension   string
	overrideDir string

	mu      sync.Mutex
	state   State
	marked  bool
	updated bool
	sess    *sessionContext

	baseCtx  context.Context
	done     chan struct{}
	doneOnce sync.Once
}

// New creates a Machine in state init.
func New(opts Options) *Machine {
	pub := opts.Publisher
	if pub == nil {
		pub = NopPublisher{}
	}
	met := opts.Metrics
	if met == nil {
		met = metrics.Noop{}
	}
	return &Machine{
		devices:     opts.Devices,
		installer:   opts.Installer,
		power:       opts.Power,
		pub:         pub,
		journal:     opts.Journal,
		metrics:     met,
		extension:   opts.BundleExtension,
		overrideDir: opts.OverrideDir,
		state:       StateInit,
		baseCtx:     context.Background(),
		done:        make(chan struct{}),
	}
}

// Start completes startup and moves the machine from init to idle. The
// context bounds all external calls of subsequent sessions.
func (m *Machine) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateInit {
		return stateViolation("Start", m.state)
	}
	m.baseCtx = ctx
	m.transitionLocked(StateIdle)
	return nil
}

// State returns the current automaton state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// MarkedForReboot reports whether install-with-reboot has been requested.
func (m *Machine) MarkedForReboot() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.marked
}

// Updated reports whether an install has completed successfully since
// startup. A later failed install does not reset it.
func (m *Machine) Updated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updated
}

// Done is closed when the machine reaches its terminal state.
func (m *Machine) Done() <-chan struct{} {
	return m.done
}

// SearchForUpdate begins a new session. It is accepted only in state idle.
func (m *Machine) SearchForUpdate() error {
	m.mu.Lock()
	if m.state != StateIdle {
		state := m.state
		m.mu.Unlock()
		return stateViolation("SearchForUpdate", state)
	}
	m.sess = &sessionContext{startedAt: time.Now(), outcome: OutcomeNoUpdateFound}
	m.transitionLocked(StateSearching)
	m.mu.Unlock()

	m.metrics.IncSessionStarted()
	go m.runSearch()
	return nil
}

// InstallUpdate decides the fate of a found update. It is accepted only in
// state updatefound. With update false the session is skipped and reboot is
// ignored; with update true the chosen bundle is installed and reboot is
// latched as MarkedForReboot.
func (m *Machine) InstallUpdate(update, reboot bool) error {
	m.mu.Lock()
	if m.state != StateUpdateFound {
		state := m.state
		m.mu.Unlock()
		return stateViolation("InstallUpdate", state)
	}

	if !update {
		m.sess.outcome = OutcomeSkipped
		m.transitionLocked(StateSkip)
		m.mu.Unlock()
		go m.runCleanup()
		return nil
	}

	if reboot != m.marked {
		m.marked = reboot
		m.pub.MarkedForRebootChanged(reboot)
	}
	selected := m.sess.selected
	m.transitionLocked(StateUpdating)
	m.mu.Unlock()

	go m.runInstall(selected)
	return nil
}

// runSearch drives a session from searching until updatefound or through
// cleanup back to idle.
func (m *Machine) runSearch() {
	ctx := m.baseCtx

	ids, err := m.devices.Enumerate(ctx)
	if err != nil {
		slog.Error("device_enumeration_failed", "error", err)
		ids = nil
	}
	if len(ids) == 0 {
		slog.Info("no_matching_devices")
		m.to(StateNoUpdateFound)
		m.runCleanup()
		return
	}

	m.to(StateMounting)
	for _, id := range ids {
		mount, err := m.devices.Mount(ctx, id)
		if err != nil {
			slog.Warn("mount_refused", "device", id, "error", err)
			m.metrics.IncMountFailure()
			continue
		}

		m.mu.Lock()
		m.sess.mounts = append(m.sess.mounts, mountRecord{
			device:     id,
			mountPoint: mount.MountPoint,
			borrowed:   mount.Borrowed,
		})
		m.mu.Unlock()

		candidates, err := bundle.Scan(mount.MountPoint, m.extension, m.overrideDir, id)
		if err != nil {
			slog.Warn("bundle_scan_failed", "device", id, "mountpoint", mount.MountPoint, "error", err)
			continue
		}

		m.mu.Lock()
		m.sess.candidates = append(m.sess.candidates, candidates...)
		m.mu.Unlock()
	}

	m.mu.Lock()
	mounted := len(m.sess.mounts)
	found := len(m.sess.candidates)
	m.mu.Unlock()

	if mounted == 0 {
		slog.Info("all_mounts_failed")
		m.to(StateNoUpdateFound)
		m.runCleanup()
		return
	}

	m.to(StateMounted)

	if found == 0 {
		slog.Info("no_candidates_found", "mounted_devices", mounted)
		m.to(StateNoUpdateFound)
		m.runCleanup()
		return
	}

	selection := m.selectCandidate(ctx)
	if selection == nil {
		m.to(StateNoUpdateFound)
		m.runCleanup()
		return
	}

	m.mu.Lock()
	m.sess.selected = selection
	m.transitionLocked(StateUpdateFound)
	m.pub.UpdateFound(Update{
		Path:           selection.Candidate.Path,
		CurrentVersion: wireVersion(selection.CurrentVersion),
		NewVersion:     selection.Version,
		Override:       selection.Candidate.Origin == bundle.OriginOverride,
	})
	m.mu.Unlock()
	// The session now waits in updatefound for InstallUpdate.
}

// selectCandidate tests all discovered candidates and applies the selection
// rules: surviving overrides beat regulars, the highest version wins and
// ties fall to the lexicographically smaller path.
func (m *Machine) selectCandidate(ctx context.Context) *Selection {
	m.mu.Lock()
	candidates := slices.Clone(m.sess.candidates)
	m.mu.Unlock()

	current, err := m.installer.CurrentVersion(ctx)
	if err != nil {
		slog.Error("current_version_unavailable", "error", err)
		current = version.Unknown
	}

	type tested struct {
		candidate bundle.Candidate
		version   string
	}
	var overrides, regulars []tested

	for _, candidate := range candidates {
		result, err := m.installer.Test(ctx, candidate.Path)
		if err != nil {
			slog.Warn("bundle_test_failed", "path", candidate.Path, "error", err)
			continue
		}
		if !result.Compatible {
			slog.Warn("bundle_dropped_incompatible", "path", candidate.Path)
			continue
		}
		override := candidate.Origin == bundle.OriginOverride
		if !version.Eligible(result.Version, current, override) {
			slog.Info("bundle_dropped_ineligible",
				"path", candidate.Path,
				"version", result.Version,
				"current", current,
			)
			continue
		}
		entry := tested{candidate: candidate, version: result.Version}
		if override {
			overrides = append(overrides, entry)
		} else {
			regulars = append(regulars, entry)
		}
	}

	pool := overrides
	if len(pool) == 0 {
		pool = regulars
	}
	if len(pool) == 0 {
		return nil
	}

	best := pool[0]
	for _, entry := range pool[1:] {
		switch {
		case version.Less(best.version, entry.version):
			best = entry
		case !version.Less(entry.version, best.version) && entry.candidate.Path < best.candidate.Path:
			best = entry
		}
	}

	slog.Info("bundle_selected",
		"path", best.candidate.Path,
		"version", best.version,
		"origin", best.candidate.Origin,
	)
	return &Selection{Candidate: best.candidate, Version: best.version, CurrentVersion: current}
}

// runInstall performs the single install call of the session.
func (m *Machine) runInstall(selected *Selection) {
	ctx := m.baseCtx

	if err := m.installer.Install(ctx, selected.Candidate.Path); err != nil {
		slog.Error("install_failed", "path", selected.Candidate.Path, "error", err)
		m.metrics.IncInstall("failed")
		m.mu.Lock()
		m.sess.outcome = OutcomeInstallFailed
		m.mu.Unlock()
		m.runCleanup()
		return
	}

	m.metrics.IncInstall("ok")
	m.mu.Lock()
	m.sess.outcome = OutcomeUpdated
	if !m.updated {
		m.updated = true
		m.pub.UpdatedChanged(true)
	}
	m.transitionLocked(StateUpdated)
	m.mu.Unlock()

	if selected.Candidate.Origin == bundle.OriginOverride {
		slog.Info("disabling_override_bundle", "path", selected.Candidate.Path)
		if err := bundle.DisableOverride(selected.Candidate.Path); err != nil {
			slog.Warn("disable_override_failed", "path", selected.Candidate.Path, "error", err)
		}
	}

	m.runCleanup()
}

// runCleanup unmounts all owned mounts in reverse order of acquisition and
// finishes the session in idle or done.
func (m *Machine) runCleanup() {
	ctx := m.baseCtx
	m.to(StateUnmounting)

	m.mu.Lock()
	mounts := slices.Clone(m.sess.mounts)
	m.mu.Unlock()

	for i := len(mounts) - 1; i >= 0; i-- {
		record := mounts[i]
		if record.borrowed {
			slog.Info("unmount_skipped_borrowed", "device", record.device, "mountpoint", record.mountPoint)
			continue
		}
		if err := m.devices.Unmount(ctx, record.device); err != nil {
			slog.Warn("unmount_failed", "device", record.device, "error", err)
			m.metrics.IncUnmountFailure()
		}
	}

	m.to(StateUnmounted)

	m.mu.Lock()
	record := m.buildRecordLocked()
	reboot := m.marked && m.updated

	if reboot {
		m.sess = nil
		m.transitionLocked(StateDone)
		m.mu.Unlock()
	} else {
		if m.marked {
			m.marked = false
			m.pub.MarkedForRebootChanged(false)
		}
		m.sess = nil
		m.transitionLocked(StateIdle)
		m.mu.Unlock()
	}

	m.metrics.IncSessionFinished(record.Outcome)
	m.recordSession(ctx, record)

	if reboot {
		m.doneOnce.Do(func() { close(m.done) })
		slog.Info("reboot_requested")
		if err := m.power.Reboot(ctx); err != nil {
			slog.Error("reboot_refused", "error", err)
		}
	}
}

// buildRecordLocked summarises the finishing session. Callers hold m.mu.
func (m *Machine) buildRecordLocked() Record {
	record := Record{
		StartedAt:  m.sess.startedAt,
		FinishedAt: time.Now(),
		Outcome:    m.sess.outcome,
		Updated:    m.updated,
	}
	if selected := m.sess.selected; selected != nil {
		record.BundlePath = selected.Candidate.Path
		record.BundleVersion = selected.Version
		record.CurrentVersion = selected.CurrentVersion
		record.Override = selected.Candidate.Origin == bundle.OriginOverride
	}
	return record
}

func (m *Machine) recordSession(ctx context.Context, record Record) {
	if m.journal == nil {
		return
	}
	if err := m.journal.RecordSession(ctx, record); err != nil {
		slog.Warn("session_record_failed", "error", err)
	}
}

// to performs a single transition under the lock.
func (m *Machine) to(state State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitionLocked(state)
}

// transitionLocked moves the automaton along one edge of the transition
// table and publishes the change. Callers hold m.mu. Internal drivers only
// ever request valid edges; a violation here is a programming error and is
// logged without moving.
func (m *Machine) transitionLocked(to State) {
	if !CanTransition(m.state, to) {
		slog.Error("invalid_transition", "from", m.state, "to", to)
		return
	}
	slog.Info("state_transition", "from", m.state, "to", to)
	m.state = to
	m.pub.StateChanged(to)
}

// wireVersion renders an unknown current version as 0.0.0 for the update
// announcement.
func wireVersion(v string) string {
	if v == version.Unknown {
		return "0.0.0"
	}
	return v
}
