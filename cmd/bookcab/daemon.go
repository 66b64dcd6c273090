package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Rivega42/bookcab/pkg/daemon"
	"github.com/Rivega42/bookcab/pkg/version"
)

// NewDaemonCommand .
func NewDaemonCommand() *cobra.Command {
	opts := daemon.Options{
		CalibrationPath: "/etc/bookcab/calibration.json",
		InventoryPath:   "/etc/bookcab/inventory.json",
		SerialPort:      "/dev/ttyUSB0",
		Baud:            115200,
	}

	cmd := &cobra.Command{
		Use:     "daemon",
		Hidden:  true,
		Short:   "Run bookcab daemon in the foreground",
		GroupID: gAdvanced,
		RunE: func(_ *cobra.Command, _ []string) error {
			logrus.WithFields(logrus.Fields{
				"version": version.Version,
				"commit":  version.GitCommit,
			}).Info("bookcab daemon starting")

			opts.SocketPath = unixSocketPath
			d, err := daemon.New(opts)
			if err != nil {
				return err
			}
			return d.Run()
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.CalibrationPath, "calibration", opts.CalibrationPath, "calibration document path")
	f.StringVar(&opts.InventoryPath, "inventory", opts.InventoryPath, "cell inventory document path")
	f.StringVar(&opts.SerialPort, "serial", opts.SerialPort, "motion board serial port")
	f.IntVar(&opts.Baud, "baud", opts.Baud, "serial baud rate")
	f.BoolVar(&opts.Mock, "mock", false, "use the in-process board simulator instead of a serial port")
	f.BoolVar(&opts.AllowNonRoot, "allow-non-root", false, "allow non-root users to access the daemon")
	f.StringVar(&opts.InventoryCron, "inventory-cron", "", "cron expression for scheduled inventory sweeps (empty disables)")

	return cmd
}
