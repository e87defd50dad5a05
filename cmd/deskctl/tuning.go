package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/deskbound/deskctl/pkg/motion"
)

func NewTuningCommand() *cobra.Command {
	var viaDaemon bool

	cmd := &cobra.Command{
		Use:     "tuning",
		Short:   "Show or edit motion tuning parameters",
		GroupID: gAdvanced,
		Long: `Show or edit the motion tuning parameters.

Most of these come from calibration ('deskctl calibrate') and should not
need hand-editing. Overshoots are how far the desk coasts after a stop;
tolerance is how close to the target counts as arrived.`,
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the current tuning as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var t motion.Tuning
			if viaDaemon {
				got, err := daemonClient().GetTuning()
				if err != nil {
					return err
				}
				t = *got
			} else {
				conf, err := sessionlessConfig()
				if err != nil {
					return err
				}
				t = conf.Tuning()
			}

			b, err := json.MarshalIndent(t, "", "    ")
			if err != nil {
				return err
			}
			cmd.Println(string(b))
			return nil
		},
	}

	setCmd := &cobra.Command{
		Use:   "set [json]",
		Short: "Replace the tuning with the given JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var t motion.Tuning
			if err := json.Unmarshal([]byte(args[0]), &t); err != nil {
				return fmt.Errorf("invalid tuning JSON: %v", err)
			}
			if err := t.Validate(); err != nil {
				return err
			}

			if viaDaemon {
				return daemonClient().SetTuning(t)
			}

			conf, err := sessionlessConfig()
			if err != nil {
				return err
			}
			conf.SetTuning(t)
			if err := conf.Save(); err != nil {
				return err
			}
			cmd.Printf("Tuning saved to %s\n", configPath)
			return nil
		},
	}

	cmd.PersistentFlags().BoolVar(&viaDaemon, "via-daemon", false, "talk to a running deskctl daemon")
	cmd.AddCommand(showCmd, setCmd)

	return cmd
}
