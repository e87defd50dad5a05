package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/deskbound/deskctl/pkg/events"
	"github.com/deskbound/deskctl/pkg/motion"
)

func NewMoveCommand() *cobra.Command {
	var (
		viaDaemon bool
		timeout   time.Duration
	)

	cmd := &cobra.Command{
		Use:     "move [height-cm]",
		Short:   "Move the desk to a height",
		GroupID: gBasic,
		Long: `Move the desk to the given height in centimeters, e.g. 'deskctl move 95.5'.

The desk is driven until it rests within tolerance of the target,
compensating for how far it coasts after a stop. By default this
connects to the desk directly; with --via-daemon the request goes to a
running deskctl daemon instead.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cm, err := parseHeightArg(args)
			if err != nil {
				return err
			}
			targetMM := cmToMM(cm)

			if viaDaemon {
				res, err := daemonClient().Move(targetMM)
				if err != nil {
					return err
				}
				printMoveResult(cmd, res.Kind, res.FinalHeightMM, res.Error)
				if !res.Reached() {
					return fmt.Errorf("move ended %s", res.Kind)
				}
				return nil
			}

			s, err := openSession()
			if err != nil {
				return err
			}
			defer s.Close()

			minMM := int(s.conf.MinHeightCM() * 10)
			maxMM := int(s.conf.MaxHeightCM() * 10)
			if targetMM < minMM || targetMM > maxMM {
				return fmt.Errorf("height must be between %.1f and %.1f cm, got %.1f",
					s.conf.MinHeightCM(), s.conf.MaxHeightCM(), cm)
			}

			loop, err := motion.NewLoop(s.ctrl, s.tracker, s.conf.Tuning())
			if err != nil {
				return err
			}

			hub := events.NewHub()
			loop.Events = hub
			stopProgress := startMoveProgress(hub)
			defer stopProgress()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			out := loop.MoveTo(ctx, targetMM)
			stopProgress()
			printMoveResult(cmd, out.Kind.String(), out.FinalHeightMM, out.ErrorString())
			if out.Kind != motion.Reached {
				return fmt.Errorf("move ended %s", out.Kind)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.BoolVar(&viaDaemon, "via-daemon", false, "send the request to a running deskctl daemon")
	f.DurationVar(&timeout, "timeout", 90*time.Second, "give up after this long")

	return cmd
}

// startMoveProgress prints height updates as the desk moves. The
// returned func stops the printer; calling it twice is fine.
func startMoveProgress(hub *events.Hub) func() {
	ch := hub.Subscribe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range ch {
			switch ev.Name {
			case events.MoveHeight:
				p, err := events.DecodeAs[events.MoveHeightEvent](ev)
				if err != nil {
					continue
				}
				fmt.Printf("\r  height: %.1f cm (target %.1f cm)   ", float64(p.HeightMM)/10, float64(p.TargetMM)/10)
			case events.MovePhase:
				p, err := events.DecodeAs[events.MovePhaseEvent](ev)
				if err != nil {
					continue
				}
				logrus.WithFields(logrus.Fields{
					"from": p.From,
					"to":   p.To,
				}).Debug("phase change")
			}
		}
	}()

	var stopped bool
	return func() {
		if stopped {
			return
		}
		stopped = true
		hub.Unsubscribe(ch)
		<-done
		fmt.Print("\r\033[K")
	}
}

func printMoveResult(cmd *cobra.Command, kind string, finalMM int, errStr string) {
	height := fmt.Sprintf("%.1f cm", float64(finalMM)/10)
	switch kind {
	case "reached":
		cmd.Printf("Desk at %s %s\n", color.New(color.Bold).Sprint(height), color.New(color.Bold, color.FgGreen).Sprint("✔"))
	default:
		cmd.Printf("Move ended %s at %s %s\n",
			color.New(color.Bold, color.FgRed).Sprint(kind),
			height,
			color.New(color.Bold, color.FgRed).Sprint("✘"))
		if errStr != "" {
			cmd.Printf("  %s\n", errStr)
		}
	}
}
