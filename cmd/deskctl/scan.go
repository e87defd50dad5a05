package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/deskbound/deskctl/pkg/config"
	"github.com/deskbound/deskctl/pkg/desk"
	"tinygo.org/x/bluetooth"
)

func NewScanCommand() *cobra.Command {
	var (
		scanSeconds int
		save        bool
	)

	cmd := &cobra.Command{
		Use:     "scan",
		Short:   "Find desk controllers nearby",
		GroupID: gBasic,
		Long: `Scan for BLE desk controllers and print what was found.

With --save, the first desk found is written to the config file as the
desk to use. Run this once before anything else.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmd.Printf("Scanning for %ds...\n", scanSeconds)

			var found []desk.FoundDesk
			err := desk.ScanForDesks(bluetooth.DefaultAdapter, time.Duration(scanSeconds)*time.Second, func(d desk.FoundDesk) {
				found = append(found, d)
				name := d.Name
				if name == "" {
					name = "(no name)"
				}
				cmd.Printf("  %s  %s  RSSI %d\n",
					color.New(color.Bold).Sprint(name),
					d.Address,
					d.RSSI,
				)
			})
			if err != nil {
				return fmt.Errorf("scan failed: %v", err)
			}

			if len(found) == 0 {
				cmd.Println("No desks found. Make sure the desk is powered and nothing else is connected to it.")
				return nil
			}

			if save {
				conf, err := config.NewFile(configPath)
				if err != nil {
					return err
				}
				conf.SetDeviceAddress(found[0].Address)
				if err := conf.Save(); err != nil {
					return err
				}
				cmd.Printf("Saved %s as your desk in %s\n", color.New(color.Bold).Sprint(found[0].Address), configPath)
			}

			return nil
		},
	}

	f := cmd.Flags()
	f.IntVar(&scanSeconds, "duration", 10, "how long to scan, in seconds")
	f.BoolVar(&save, "save", false, "save the first desk found to the config file")

	return cmd
}
