package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func NewPresetCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "preset",
		Short:   "Manage and move to named heights",
		GroupID: gBasic,
		Long: `Manage named heights like "sit" and "stand".

'deskctl preset sit' moves the desk to the saved sitting height.`,
	}

	var viaDaemon bool

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List saved presets",
		RunE: func(cmd *cobra.Command, _ []string) error {
			conf, err := sessionlessConfig()
			if err != nil {
				return err
			}
			for name, cm := range conf.Presets() {
				cmd.Printf("  %s: %.1f cm\n", name, cm)
			}
			return nil
		},
	}

	setCmd := &cobra.Command{
		Use:   "set [name] [height-cm]",
		Short: "Save a preset",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cm, err := parseHeightArg(args[1:])
			if err != nil {
				return err
			}

			conf, err := sessionlessConfig()
			if err != nil {
				return err
			}
			if cm < conf.MinHeightCM() || cm > conf.MaxHeightCM() {
				return fmt.Errorf("height must be between %.1f and %.1f cm, got %.1f",
					conf.MinHeightCM(), conf.MaxHeightCM(), cm)
			}
			conf.SetPreset(args[0], cm)
			if err := conf.Save(); err != nil {
				return err
			}
			cmd.Printf("Saved preset %s = %.1f cm\n", args[0], cm)
			return nil
		},
	}

	applyCmd := &cobra.Command{
		Use:   "apply [name]",
		Short: "Move the desk to a preset height",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := sessionlessConfig()
			if err != nil {
				return err
			}
			cm, ok := conf.Preset(args[0])
			if !ok {
				return fmt.Errorf("no preset named %q, see 'deskctl preset list'", args[0])
			}

			moveArgs := []string{fmt.Sprintf("%.1f", cm)}
			move := NewMoveCommand()
			if viaDaemon {
				if err := move.Flags().Set("via-daemon", "true"); err != nil {
					return err
				}
			}
			move.SetContext(cmd.Context())
			return move.RunE(move, moveArgs)
		},
	}
	applyCmd.Flags().BoolVar(&viaDaemon, "via-daemon", false, "send the request to a running deskctl daemon")

	cmd.AddCommand(listCmd, setCmd, applyCmd)

	return cmd
}
