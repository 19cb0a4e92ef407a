package session

import (
	"log/slog"
	"sync/atomic"
)

// Autorun drives one full non-interactive session after startup. Kick
// injects SearchForUpdate once the machine is idle. The driver subscribes to
// the machine like any other observer: when the first session finds an
// update it injects InstallUpdate(true, true). If the first session finds
// nothing the driver disarms and all further activity is interactive.
type Autorun struct {
	machine *Machine
	armed   atomic.Bool
}

// NewAutorun creates an armed autorun driver for a machine.
func NewAutorun(machine *Machine) *Autorun {
	a := &Autorun{machine: machine}
	a.armed.Store(true)
	return a
}

// Kick injects the initial search. Call it after the machine reached idle.
func (a *Autorun) Kick() {
	if !a.armed.Load() {
		return
	}
	slog.Info("autorun_search")
	go func() {
		if err := a.machine.SearchForUpdate(); err != nil {
			slog.Error("autorun_search_failed", "error", err)
		}
	}()
}

// StateChanged implements Publisher.
func (a *Autorun) StateChanged(state State) {
	if !a.armed.Load() {
		return
	}
	switch state {
	case StateUpdateFound:
		a.armed.Store(false)
		slog.Info("autorun_install")
		go func() {
			if err := a.machine.InstallUpdate(true, true); err != nil {
				slog.Error("autorun_install_failed", "error", err)
			}
		}()
	case StateNoUpdateFound:
		a.armed.Store(false)
		slog.Info("autorun_no_update_found")
	}
}

// MarkedForRebootChanged implements Publisher.
func (a *Autorun) MarkedForRebootChanged(bool) {}

// UpdatedChanged implements Publisher.
func (a *Autorun) UpdatedChanged(bool) {}

// UpdateFound implements Publisher.
func (a *Autorun) UpdateFound(Update) {}
