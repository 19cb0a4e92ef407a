package commands

import (
	"github.com/godbus/dbus/v5"
	"github.com/spf13/cobra"

	"github.com/dvzrv/caterpillar/pkg/dbusapi"
	"github.com/dvzrv/caterpillar/pkg/errors"
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Trigger a search for updates on the running agent",
	RunE:  runSearch,
}

func init() {
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return errors.Wrap(err, "system bus connection failed")
	}
	defer conn.Close()

	return dbusapi.NewClient(conn).SearchForUpdate(cmd.Context())
}
