package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/deskbound/deskctl/pkg/config"
)

func NewStatusCommand() *cobra.Command {
	var viaDaemon bool

	cmd := &cobra.Command{
		Use:     "status",
		Short:   "Show the current desk height and configuration",
		GroupID: gBasic,
		RunE: func(cmd *cobra.Command, _ []string) error {
			conf, err := config.NewFile(configPath)
			if err != nil {
				return err
			}

			var heightMM int
			if viaDaemon {
				heightMM, err = daemonClient().GetHeight()
				if err != nil {
					return err
				}
			} else {
				s, err := openSession()
				if err != nil {
					return err
				}
				defer s.Close()

				ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
				defer cancel()
				r, err := s.tracker.WaitForUpdate(ctx, 5*time.Second)
				if err != nil {
					return fmt.Errorf("desk did not report its height: %v", err)
				}
				heightMM = r.Millimeters
			}

			cmd.Println(bold("Desk:"))
			cmd.Printf("  Height: %s\n", bold("%.1f cm", float64(heightMM)/10))
			addr := conf.DeviceAddress()
			if addr == "" {
				addr = "(not configured, run 'deskctl scan --save')"
			}
			cmd.Printf("  Device: %s\n", addr)
			cmd.Printf("  Range: %.1f to %.1f cm\n", conf.MinHeightCM(), conf.MaxHeightCM())

			cmd.Println()
			cmd.Println(bold("Presets:"))
			for name, cm := range conf.Presets() {
				cmd.Printf("  %s: %.1f cm\n", name, cm)
			}

			t := conf.Tuning()
			cmd.Println()
			cmd.Println(bold("Tuning:"))
			cmd.Printf("  Overshoot: %d mm up, %d mm down\n", t.OvershootUpMM, t.OvershootDownMM)
			cmd.Printf("  Tolerance: %d mm\n", t.ToleranceMM)

			return nil
		},
	}

	cmd.Flags().BoolVar(&viaDaemon, "via-daemon", false, "ask a running deskctl daemon instead of connecting directly")

	return cmd
}

func bold(format string, a ...interface{}) string {
	return color.New(color.Bold).Sprintf(format, a...)
}
