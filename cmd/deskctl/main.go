package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/deskbound/deskctl/pkg/client"
)

var (
	logLevel       = "info"
	unixSocketPath = "/var/run/deskctl.sock"
	configPath     = "/etc/deskctl.json"
)

var (
	gBasic        = "Basic:"
	gAdvanced     = "Advanced:"
	commandGroups = []string{
		gBasic,
		gAdvanced,
	}
)

// daemonClient builds a client for the configured socket. Constructed
// lazily so --daemon-socket is honored.
func daemonClient() *client.Client {
	return client.NewClient(unixSocketPath)
}

func setupLogger() error {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("failed to parse log level: %v", err)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{})
	if term.IsTerminal(int(os.Stderr.Fd())) {
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.Kitchen,
		})
	}

	return nil
}

func handleCmdError(err error) {
	if errors.Is(err, client.ErrDaemonNotRunning) {
		fmt.Fprintln(os.Stderr, "\nError: deskctl daemon is not running")
		fmt.Fprintln(os.Stderr, "Start it with 'deskctl daemon', or drop '--via-daemon' to talk to the desk directly")
	} else if errors.Is(err, client.ErrPermissionDenied) {
		fmt.Fprintln(os.Stderr, "\nError: Permission Denied")
		fmt.Fprintln(os.Stderr, "  - Try running the command again with 'sudo'")
	} else if errors.Is(err, client.ErrDeskBusy) {
		fmt.Fprintln(os.Stderr, "\nError: the desk is already moving")
		fmt.Fprintln(os.Stderr, "Wait for the current move or calibration to finish and try again")
	}
}

func main() {
	cmd := NewCommand()
	if err := cmd.Execute(); err != nil {
		handleCmdError(err)
		os.Exit(1)
	}
}

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deskctl",
		Short: "deskctl moves a BLE standing desk to millimeter-accurate heights",
		Long: `deskctl is a tool to drive motorized standing desks over Bluetooth LE.

The desk only reports its height and accepts start/stop commands, so
deskctl closes the loop itself: it learns how far your desk coasts after
a stop command and uses that to land on the target height.`,
		SilenceUsage: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return setupLogger()
		},
	}

	globalFlags := cmd.PersistentFlags()
	globalFlags.StringVarP(&logLevel, "log-level", "l", "info", "log level (trace, debug, info, warn, error, fatal, panic)")
	globalFlags.StringVar(&configPath, "config", configPath, "config file path")
	globalFlags.StringVar(&unixSocketPath, "daemon-socket", unixSocketPath, "deskctl daemon unix socket path")

	for _, i := range commandGroups {
		cmd.AddGroup(&cobra.Group{
			ID:    i,
			Title: i,
		})
	}

	cmd.AddCommand(
		NewDaemonCommand(),
		NewScanCommand(),
		NewStatusCommand(),
		NewMoveCommand(),
		NewPresetCommand(),
		NewCalibrateCommand(),
		NewTuningCommand(),
	)

	return cmd
}
