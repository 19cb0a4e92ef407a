package installer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/godbus/dbus/v5"

	"github.com/dvzrv/caterpillar/pkg/errors"
)

const (
	raucService   = "de.pengutronix.rauc"
	raucPath      = dbus.ObjectPath("/")
	raucInterface = "de.pengutronix.rauc.Installer"

	completedSignal = raucInterface + ".Completed"
)

// slotStatus is one entry of the RAUC GetSlotStatus reply (a(sa{sv})).
type slotStatus struct {
	Name   string
	Status map[string]dbus.Variant
}

// RAUC implements Client against the RAUC daemon on the system bus.
type RAUC struct {
	conn       *dbus.Conn
	obj        dbus.BusObject
	compatible string
}

// NewRAUC connects to RAUC, verifies it is reachable and caches the
// compatible string of this system.
func NewRAUC(ctx context.Context, conn *dbus.Conn) (*RAUC, error) {
	obj := conn.Object(raucService, raucPath)

	operation, err := obj.GetProperty(raucInterface + ".Operation")
	if err != nil {
		return nil, errors.Wrap(err, "rauc is not reachable")
	}
	compatible, err := obj.GetProperty(raucInterface + ".Compatible")
	if err != nil {
		return nil, errors.Wrap(err, "failed to read rauc compatible")
	}
	bootSlot, err := obj.GetProperty(raucInterface + ".BootSlot")
	if err != nil {
		return nil, errors.Wrap(err, "failed to read rauc boot slot")
	}

	compatibleStr, _ := compatible.Value().(string)
	slog.Info("rauc_connected",
		"operation", operation.Value(),
		"compatible", compatibleStr,
		"boot_slot", bootSlot.Value(),
	)
	return &RAUC{conn: conn, obj: obj, compatible: compatibleStr}, nil
}

// CurrentVersion returns the bundle version of the primary slot, or the
// empty string when no slot reports one.
func (r *RAUC) CurrentVersion(ctx context.Context) (string, error) {
	var primary string
	if err := r.obj.CallWithContext(ctx, raucInterface+".GetPrimary", 0).Store(&primary); err != nil {
		return "", errors.Wrap(err, "failed to get primary slot")
	}

	var slots []slotStatus
	if err := r.obj.CallWithContext(ctx, raucInterface+".GetSlotStatus", 0).Store(&slots); err != nil {
		return "", errors.Wrap(err, "failed to get slot status")
	}

	version := primarySlotVersion(primary, slots)
	if version == "" {
		slog.Warn("primary_slot_version_unknown", "primary", primary)
	} else {
		slog.Info("primary_slot_version", "primary", primary, "version", version)
	}
	return version, nil
}

// Test reads bundle metadata via the Info call. A bundle is compatible when
// its compatible string equals the one of this system.
func (r *RAUC) Test(ctx context.Context, path string) (TestResult, error) {
	var compatible, version string
	if err := r.obj.CallWithContext(ctx, raucInterface+".Info", 0, path).Store(&compatible, &version); err != nil {
		return TestResult{}, errors.Wrapf(err, "failed to read bundle info of %s", path)
	}

	result := TestResult{
		Version:    version,
		Compatible: compatible == r.compatible,
	}
	if !result.Compatible {
		slog.Warn("bundle_incompatible", "path", path, "bundle_compatible", compatible, "system_compatible", r.compatible)
	}
	return result, nil
}

// Install installs a bundle and waits for the Completed signal. A non-zero
// result is resolved to the last error RAUC recorded.
func (r *RAUC) Install(ctx context.Context, path string) error {
	if err := r.conn.AddMatchSignal(
		dbus.WithMatchInterface(raucInterface),
		dbus.WithMatchMember("Completed"),
	); err != nil {
		return errors.Wrap(err, "failed to subscribe to installer signals")
	}
	defer r.conn.RemoveMatchSignal(
		dbus.WithMatchInterface(raucInterface),
		dbus.WithMatchMember("Completed"),
	)

	signals := make(chan *dbus.Signal, 16)
	r.conn.Signal(signals)
	defer r.conn.RemoveSignal(signals)

	slog.Info("install_started", "path", path)
	options := map[string]dbus.Variant{}
	if err := r.obj.CallWithContext(ctx, raucInterface+".InstallBundle", 0, path, options).Err; err != nil {
		return errors.Wrapf(err, "failed to start installation of %s", path)
	}

	for {
		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "installation interrupted")
		case signal, ok := <-signals:
			if !ok {
				return fmt.Errorf("signal stream closed while installing %s", path)
			}
			if signal.Name != completedSignal || len(signal.Body) == 0 {
				continue
			}
			result, _ := signal.Body[0].(int32)
			if result == 0 {
				slog.Info("install_complete", "path", path)
				return nil
			}
			lastError := "unknown"
			if value, err := r.obj.GetProperty(raucInterface + ".LastError"); err == nil {
				lastError, _ = value.Value().(string)
			}
			slog.Error("install_failed", "path", path, "result", result, "last_error", lastError)
			return errors.Wrap(ErrInstallFailed, lastError)
		}
	}
}

// primarySlotVersion extracts the bundle.version entry of the primary slot.
func primarySlotVersion(primary string, slots []slotStatus) string {
	for _, slot := range slots {
		if slot.Name != primary {
			continue
		}
		if raw, ok := slot.Status["bundle.version"]; ok {
			if version, ok := raw.Value().(string); ok {
				return version
			}
		}
	}
	return ""
}
