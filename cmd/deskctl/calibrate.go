package main

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/deskbound/deskctl/pkg/events"
	"github.com/deskbound/deskctl/pkg/motion"
)

func NewCalibrateCommand() *cobra.Command {
	var (
		viaDaemon bool
		aroundCM  float64
		trials    int
		yes       bool
	)

	cmd := &cobra.Command{
		Use:     "calibrate",
		Short:   "Measure how far the desk coasts after a stop",
		GroupID: gAdvanced,
		Long: `Measure the desk's overshoot and store it in the config file.

The desk keeps moving for a moment after it is told to stop. To land on
a target height, deskctl stops early by exactly that distance, so it
has to be measured once per desk: the desk is driven up and down past a
reference height a few times while the coasting distance is recorded.

The desk will move on its own during calibration. Clear the area first.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			aroundMM := cmToMM(aroundCM)

			conf, err := sessionlessConfig()
			if err != nil {
				return err
			}
			minMM := int(conf.MinHeightCM() * 10)
			maxMM := int(conf.MaxHeightCM() * 10)
			if err := motion.ValidateCalibrationRange(aroundMM, motion.DefaultStartMarginMM, minMM, maxMM); err != nil {
				return err
			}

			var res *motion.CalibrationResult
			if viaDaemon {
				// Run without persisting so the confirmation stays local;
				// the save goes back through the daemon below.
				r, err := daemonClient().Calibrate(aroundMM, trials, false)
				if err != nil {
					return err
				}
				res = r
			} else {
				s, err := openSession()
				if err != nil {
					return err
				}
				defer s.Close()

				cal, err := motion.NewCalibrator(s.ctrl, s.tracker, s.conf.Tuning())
				if err != nil {
					return err
				}

				hub := events.NewHub()
				cal.Events = hub
				stop := startCalibrationProgress(cmd, hub)
				defer stop()

				ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Minute)
				defer cancel()

				r, err := cal.Run(ctx, aroundMM, trials)
				stop()
				if err != nil {
					return fmt.Errorf("calibration failed: %v", err)
				}
				res = r
			}

			cmd.Println()
			cmd.Println(bold("Calibration result:"))
			cmd.Printf("  Average overshoot moving up:   %s\n", bold("%.1f mm", res.AvgOvershootUpMM))
			cmd.Printf("  Average overshoot moving down: %s\n", bold("%.1f mm", res.AvgOvershootDownMM))
			cmd.Printf("  Samples: %d\n", len(res.Samples))

			if !yes && !confirm("Save these values to "+configPath+"?") {
				cmd.Println("Not saved.")
				return nil
			}

			if viaDaemon {
				// Writing the file ourselves would leave the running
				// daemon on the old overshoots until a reload; persist
				// through it so its in-memory tuning updates too.
				if err := daemonClient().PersistCalibration(res); err != nil {
					return err
				}
				logrus.Infof("calibration saved via daemon")
				return nil
			}
			return persistCalibration(res)
		},
	}

	f := cmd.Flags()
	f.BoolVar(&viaDaemon, "via-daemon", false, "run the calibration through a running deskctl daemon")
	f.Float64Var(&aroundCM, "around-cm", 90, "height to calibrate around, in centimeters")
	f.IntVar(&trials, "trials", 3, "number of up/down trial pairs")
	f.BoolVarP(&yes, "yes", "y", false, "save the result without asking")

	return cmd
}

func startCalibrationProgress(cmd *cobra.Command, hub *events.Hub) func() {
	ch := hub.Subscribe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range ch {
			p, err := events.DecodeAs[events.CalibrationTrialEvent](ev)
			if err != nil {
				continue
			}
			switch ev.Name {
			case events.CalibrationTrial:
				cmd.Printf("  trial %d %s: %s\n", p.Trial, p.Direction, p.Message)
			case events.CalibrationSampled:
				cmd.Printf("  trial %d %s: overshoot %d mm\n", p.Trial, p.Direction, p.OvershootMM)
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
	}
}

// persistCalibration backs up the config file, then writes the rounded
// overshoots into it.
func persistCalibration(res *motion.CalibrationResult) error {
	s, err := sessionlessConfig()
	if err != nil {
		return err
	}

	backup, err := s.Backup()
	if err != nil {
		return err
	}
	if backup != "" {
		logrus.Infof("previous config backed up to %s", backup)
	}

	s.SetTuning(res.ApplyTo(s.Tuning()))
	if err := s.Save(); err != nil {
		return err
	}
	logrus.Infof("calibration saved to %s", configPath)
	return nil
}
