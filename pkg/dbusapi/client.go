package dbusapi

import (
	"context"

	"github.com/godbus/dbus/v5"

	"github.com/dvzrv/caterpillar/pkg/errors"
)

// Status is a snapshot of the observable properties of the service.
type Status struct {
	State           string
	MarkedForReboot bool
	Updated         bool
}

// Client talks to a running caterpillar service over the bus.
type Client struct {
	obj dbus.BusObject
}

// NewClient returns a client for the well-known service name.
func NewClient(conn *dbus.Conn) *Client {
	return &Client{obj: conn.Object(BusName, Path)}
}

// SearchForUpdate triggers a new update session.
func (c *Client) SearchForUpdate(ctx context.Context) error {
	return errors.Wrap(
		c.obj.CallWithContext(ctx, Interface+".SearchForUpdate", 0).Err,
		"SearchForUpdate failed",
	)
}

// InstallUpdate decides the fate of a found update.
func (c *Client) InstallUpdate(ctx context.Context, update, reboot bool) error {
	return errors.Wrap(
		c.obj.CallWithContext(ctx, Interface+".InstallUpdate", 0, update, reboot).Err,
		"InstallUpdate failed",
	)
}

// Status reads the observable properties of the service.
func (c *Client) Status(ctx context.Context) (Status, error) {
	var status Status

	state, err := c.obj.GetProperty(Interface + ".State")
	if err != nil {
		return status, errors.Wrap(err, "failed to read State")
	}
	status.State, _ = state.Value().(string)

	marked, err := c.obj.GetProperty(Interface + ".MarkedForReboot")
	if err != nil {
		return status, errors.Wrap(err, "failed to read MarkedForReboot")
	}
	status.MarkedForReboot, _ = marked.Value().(bool)

	updated, err := c.obj.GetProperty(Interface + ".Updated")
	if err != nil {
		return status, errors.Wrap(err, "failed to read Updated")
	}
	status.Updated, _ = updated.Value().(bool)

	return status, nil
}
