package commands

import (
	"fmt"

	"github.com/godbus/dbus/v5"
	"github.com/spf13/cobra"

	"github.com/dvzrv/caterpillar/pkg/dbusapi"
	"github.com/dvzrv/caterpillar/pkg/errors"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the state of the running agent",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return errors.Wrap(err, "system bus connection failed")
	}
	defer conn.Close()

	status, err := dbusapi.NewClient(conn).Status(cmd.Context())
	if err != nil {
		return errors.Wrap(err, "status query failed")
	}

	fmt.Printf("State:           %s\n", status.State)
	fmt.Printf("MarkedForReboot: %v\n", status.MarkedForReboot)
	fmt.Printf("Updated:         %v\n", status.Updated)
	return nil
}
