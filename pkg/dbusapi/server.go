// Package dbusapi exposes the update session machine as a D-Bus object and
// provides a client for talking to it.
package dbusapi

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"github.com/godbus/dbus/v5/prop"

	"github.com/dvzrv/caterpillar/pkg/session"
)

const (
	// BusName is the well-known name claimed on the system bus.
	BusName = "de.sleepmap.Caterpillar"
	// Interface is the interface of the served object.
	Interface = "de.sleepmap.Caterpillar"
	// Path is the object path of the served object.
	Path = dbus.ObjectPath("/de/sleepmap/Caterpillar")

	stateViolationError = Interface + ".Error.StateViolation"
	updateFoundSignal   = Interface + ".UpdateFound"
)

// wireUpdate is the UpdateFound signal payload element, type (sssb).
type wireUpdate struct {
	Name       string
	OldVersion string
	NewVersion string
	Force      bool
}

// Server serves the machine on the bus and forwards its observable
// mutations as property changes and signals.
type Server struct {
	conn    *dbus.Conn
	machine *session.Machine
	props   *prop.Properties
}

// Export claims the well-known bus name and exports methods, properties and
// introspection data. The returned Server implements session.Publisher and
// must be subscribed to the machine before the machine starts.
func Export(conn *dbus.Conn, machine *session.Machine) (*Server, error) {
	s := &Server{conn: conn, machine: machine}

	propsSpec := map[string]map[string]*prop.Prop{
		Interface: {
			"State":           {Value: string(session.StateInit), Emit: prop.EmitTrue},
			"MarkedForReboot": {Value: false, Emit: prop.EmitTrue},
			"Updated":         {Value: false, Emit: prop.EmitTrue},
		},
	}
	props, err := prop.Export(conn, Path, propsSpec)
	if err != nil {
		return nil, fmt.Errorf("failed to export properties: %w", err)
	}
	s.props = props

	methods := map[string]interface{}{
		"SearchForUpdate": s.searchForUpdate,
		"InstallUpdate":   s.installUpdate,
	}
	if err := conn.ExportMethodTable(methods, Path, Interface); err != nil {
		return nil, fmt.Errorf("failed to export methods: %w", err)
	}

	if err := conn.Export(introspect.NewIntrospectable(introspectNode()), Path,
		"org.freedesktop.DBus.Introspectable"); err != nil {
		return nil, fmt.Errorf("failed to export introspection data: %w", err)
	}

	reply, err := conn.RequestName(BusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		return nil, fmt.Errorf("failed to request bus name %s: %w", BusName, err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return nil, fmt.Errorf("bus name %s is already taken", BusName)
	}

	slog.Info("dbus_service_exported", "name", BusName, "path", Path)
	return s, nil
}

func (s *Server) searchForUpdate() *dbus.Error {
	if err := s.machine.SearchForUpdate(); err != nil {
		return asDBusError(err)
	}
	return nil
}

func (s *Server) installUpdate(update, reboot bool) *dbus.Error {
	if err := s.machine.InstallUpdate(update, reboot); err != nil {
		return asDBusError(err)
	}
	return nil
}

func asDBusError(err error) *dbus.Error {
	if errors.Is(err, session.ErrStateViolation) {
		return dbus.NewError(stateViolationError, []interface{}{err.Error()})
	}
	return dbus.MakeFailedError(err)
}

// StateChanged implements session.Publisher.
func (s *Server) StateChanged(state session.State) {
	s.props.SetMust(Interface, "State", string(state))
}

// MarkedForRebootChanged implements session.Publisher.
func (s *Server) MarkedForRebootChanged(marked bool) {
	s.props.SetMust(Interface, "MarkedForReboot", marked)
}

// UpdatedChanged implements session.Publisher.
func (s *Server) UpdatedChanged(updated bool) {
	s.props.SetMust(Interface, "Updated", updated)
}

// UpdateFound implements session.Publisher. The update is emitted as an
// array holding a single (sssb) tuple.
func (s *Server) UpdateFound(update session.Update) {
	payload := []wireUpdate{{
		Name:       update.Path,
		OldVersion: update.CurrentVersion,
		NewVersion: update.NewVersion,
		Force:      update.Override,
	}}
	if err := s.conn.Emit(Path, updateFoundSignal, payload); err != nil {
		slog.Error("update_found_emit_failed", "error", err)
	}
}

// introspectNode describes the served object.
func introspectNode() *introspect.Node {
	return &introspect.Node{
		Name: string(Path),
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			prop.IntrospectData,
			{
				Name: Interface,
				Methods: []introspect.Method{
					{Name: "SearchForUpdate"},
					{
						Name: "InstallUpdate",
						Args: []introspect.Arg{
							{Name: "update", Type: "b", Direction: "in"},
							{Name: "reboot", Type: "b", Direction: "in"},
						},
					},
				},
				Signals: []introspect.Signal{
					{
						Name: "UpdateFound",
						Args: []introspect.Arg{{Name: "update", Type: "a(sssb)"}},
					},
				},
				Properties: []introspect.Property{
					{Name: "State", Type: "s", Access: "read"},
					{Name: "MarkedForReboot", Type: "b", Access: "read"},
					{Name: "Updated", Type: "b", Access: "read"},
				},
			},
		},
	}
}
