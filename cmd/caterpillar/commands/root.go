package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dvzrv/caterpillar/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "caterpillar",
	Short: "A/B system updates from removable block devices",
	Long: `Caterpillar mounts attached block devices, searches them for update
bundles and installs the best candidate through the A/B slot updater.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().Bool("autorun", true, "Run one non-interactive update session at startup")
	rootCmd.PersistentFlags().String("bundle-extension", "raucb", "File suffix identifying update bundles")
	rootCmd.PersistentFlags().String("device-regex", config.DefaultDeviceRegex, "Pattern matching eligible block device objects")
	rootCmd.PersistentFlags().String("override-dir", "override", "Override directory name inside each mountpoint")
	rootCmd.PersistentFlags().String("history-path", "/var/lib/caterpillar/history.db", "Session history database (empty disables)")
	rootCmd.PersistentFlags().String("metrics-address", "", "Prometheus listen address (empty disables)")

	viper.BindPFlag("autorun", rootCmd.PersistentFlags().Lookup("autorun"))
	viper.BindPFlag("bundle_extension", rootCmd.PersistentFlags().Lookup("bundle-extension"))
	viper.BindPFlag("device_regex", rootCmd.PersistentFlags().Lookup("device-regex"))
	viper.BindPFlag("override_dir", rootCmd.PersistentFlags().Lookup("override-dir"))
	viper.BindPFlag("history_path", rootCmd.PersistentFlags().Lookup("history-path"))
	viper.BindPFlag("metrics_address", rootCmd.PersistentFlags().Lookup("metrics-address"))
}
