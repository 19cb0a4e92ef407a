package commands

import (
	"github.com/godbus/dbus/v5"
	"github.com/spf13/cobra"

	"github.com/dvzrv/caterpillar/pkg/dbusapi"
	"github.com/dvzrv/caterpillar/pkg/errors"
)

var (
	installSkip   bool
	installReboot bool
)

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Install (or skip) a found update on the running agent",
	RunE:  runInstall,
}

func init() {
	installCmd.Flags().BoolVar(&installSkip, "skip", false, "Skip the found update instead of installing it")
	installCmd.Flags().BoolVar(&installReboot, "reboot", false, "Reboot after a successful installation")
	rootCmd.AddCommand(installCmd)
}

func runInstall(cmd *cobra.Command, args []string) error {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return errors.Wrap(err, "system bus connection failed")
	}
	defer conn.Close()

	return dbusapi.NewClient(conn).InstallUpdate(cmd.Context(), !installSkip, installReboot)
}
