// Package power requests system reboots from the reboot authority.
package power

import (
	"context"
	"log/slog"

	"github.com/godbus/dbus/v5"

	"github.com/dvzrv/caterpillar/pkg/errors"
)

const (
	loginService   = "org.freedesktop.login1"
	loginPath      = dbus.ObjectPath("/org/freedesktop/login1")
	loginInterface = "org.freedesktop.login1.Manager"
)

// Rebooter requests an orderly system reboot.
type Rebooter interface {
	// Reboot asks for a reboot. A nil return means the request was accepted;
	// the caller must not schedule further work afterwards.
	Reboot(ctx context.Context) error
}

// Logind implements Rebooter against systemd-logind on the system bus.
type Logind struct {
	obj dbus.BusObject
}

// NewLogind connects to logind and verifies it is reachable.
func NewLogind(ctx context.Context, conn *dbus.Conn) (*Logind, error) {
	obj := conn.Object(loginService, loginPath)

	var answer string
	if err := obj.CallWithContext(ctx, loginInterface+".CanReboot", 0).Store(&answer); err != nil {
		return nil, errors.Wrap(err, "logind is not reachable")
	}
	slog.Info("logind_connected", "can_reboot", answer)
	return &Logind{obj: obj}, nil
}

// Reboot requests a non-interactive reboot.
func (l *Logind) Reboot(ctx context.Context) error {
	if err := l.obj.CallWithContext(ctx, loginInterface+".Reboot", 0, false).Err; err != nil {
		return errors.Wrap(err, "reboot request refused")
	}
	return nil
}
