package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/deskbound/deskctl/pkg/daemon"
)

// NewDaemonCommand .
func NewDaemonCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "daemon",
		Short:   "Run deskctl daemon in the foreground",
		GroupID: gAdvanced,
		Long: `Run the deskctl daemon in the foreground.

The daemon holds the BLE connection to the desk open and serves move,
calibrate and status requests on a unix socket. Use it when you want
instant moves (no connect delay) or multiple clients; other deskctl
commands will use it when given '--via-daemon'.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			logrus.Info("deskctl daemon starting")
			return daemon.Run(configPath, unixSocketPath)
		},
	}
}
