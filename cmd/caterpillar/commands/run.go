package commands

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/godbus/dbus/v5"
	"github.com/spf13/cobra"

	"github.com/dvzrv/caterpillar/internal/config"
	"github.com/dvzrv/caterpillar/pkg/blockdev"
	"github.com/dvzrv/caterpillar/pkg/dbusapi"
	"github.com/dvzrv/caterpillar/pkg/errors"
	"github.com/dvzrv/caterpillar/pkg/installer"
	"github.com/dvzrv/caterpillar/pkg/journal"
	"github.com/dvzrv/caterpillar/pkg/metrics"
	"github.com/dvzrv/caterpillar/pkg/power"
	"github.com/dvzrv/caterpillar/pkg/session"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the update agent",
	RunE:  runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "config load failed")
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "config invalid")
	}

	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return errors.Wrap(err, "system bus connection failed")
	}
	defer conn.Close()

	// All three external services must be reachable before a session begins.
	devices, err := blockdev.NewUDisks(ctx, conn, cfg.DevicePattern())
	if err != nil {
		return errors.Wrap(err, "block device enumerator unavailable")
	}
	updater, err := installer.NewRAUC(ctx, conn)
	if err != nil {
		return errors.Wrap(err, "installer unavailable")
	}
	rebooter, err := power.NewLogind(ctx, conn)
	if err != nil {
		return errors.Wrap(err, "reboot authority unavailable")
	}

	var recorder session.Recorder
	if cfg.HistoryPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.HistoryPath), 0755); err != nil {
			return errors.Wrap(err, "history directory creation failed")
		}
		history, err := journal.Open(cfg.HistoryPath)
		if err != nil {
			return errors.Wrap(err, "journal init failed")
		}
		defer history.Close()
		recorder = history
	}

	var counters metrics.Metrics = metrics.Noop{}
	if cfg.MetricsAddress != "" {
		counters = metrics.NewProm("caterpillar")
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			slog.Info("metrics_listening", "address", cfg.MetricsAddress)
			if err := http.ListenAndServe(cfg.MetricsAddress, mux); err != nil {
				slog.Error("metrics_listener_failed", "error", err)
			}
		}()
	}

	publishers := session.Broadcast{}
	machine := session.New(session.Options{
		Devices:         devices,
		Installer:       updater,
		Power:           rebooter,
		Publisher:       &publishers,
		Journal:         recorder,
		Metrics:         counters,
		BundleExtension: cfg.BundleExtension,
		OverrideDir:     cfg.OverrideDir,
	})

	server, err := dbusapi.Export(conn, machine)
	if err != nil {
		return errors.Wrap(err, "dbus export failed")
	}
	publishers = append(publishers, server)

	autorun := session.NewAutorun(machine)
	if cfg.Autorun {
		publishers = append(publishers, autorun)
	}

	if err := machine.Start(ctx); err != nil {
		return errors.Wrap(err, "machine start failed")
	}
	if cfg.Autorun {
		autorun.Kick()
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-machine.Done():
		slog.Info("terminal_state_reached")
	case sig := <-signals:
		slog.Info("shutdown_signal", "signal", sig.String())
	}
	return nil
}
