package motion

import (
	"context"
	"errors"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/deskbound/deskctl/pkg/desk"
	"github.com/deskbound/deskctl/pkg/events"
)

// ErrCalibrationStalled means the retry budget was spent on trials where
// the desk made no progress. The run fails whole rather than silently
// averaging fewer samples than requested.
var ErrCalibrationStalled = errors.New("calibration stalled: desk made no measurable progress")

// errTrialStalled aborts a single trial; the trial is discarded and
// retried against the retry budget.
var errTrialStalled = errors.New("trial stalled")

// Sample is one measured coasting distance. OvershootMM is always the
// distance past the command point in the direction of travel, so it is
// non-negative for a healthy desk in both directions.
type Sample struct {
	Direction         desk.Direction `json:"direction"`
	CommandedTargetMM int            `json:"commandedTargetMM"`
	ActualStopMM      int            `json:"actualStopMM"`
	OvershootMM       int            `json:"overshootMM"`
}

// CalibrationResult is the averaged coasting behavior over all samples.
type CalibrationResult struct {
	AvgOvershootUpMM   float64  `json:"avgOvershootUpMM"`
	AvgOvershootDownMM float64  `json:"avgOvershootDownMM"`
	Samples            []Sample `json:"samples"`
}

// ApplyTo returns a copy of t with the measured overshoots in place of
// the old ones. Tuning is replaced wholesale by the caller, never
// mutated.
func (r *CalibrationResult) ApplyTo(t Tuning) Tuning {
	t.OvershootUpMM = int(r.AvgOvershootUpMM + 0.5)
	t.OvershootDownMM = int(r.AvgOvershootDownMM + 0.5)
	return t
}

const (
	// DefaultStartMarginMM is how far from the test point each trial
	// starts: enough travel for the desk to reach full speed before the
	// command point.
	DefaultStartMarginMM = 50
	// defaultTrialRetries is the budget of stalled trials across the
	// whole run before calibration gives up.
	defaultTrialRetries = 3
)

// ValidateCalibrationRange checks that calibrating around aroundMM fits
// inside the desk's travel. Every trial starts marginMM away from the
// test point on either side, so both extremes must be reachable; an
// aroundMM outside this band would drive the desk into a mechanical
// limit on the very first positioning move.
func ValidateCalibrationRange(aroundMM, marginMM, minMM, maxMM int) error {
	if aroundMM-marginMM < minMM || aroundMM+marginMM > maxMM {
		return pkgerrors.Errorf("calibration around %d mm needs %d mm of travel on both sides; must be between %d and %d mm",
			aroundMM, marginMM, minMM+marginMM, maxMM-marginMM)
	}
	return nil
}

// Calibrator measures per-direction coasting by driving the desk without
// compensation and recording how far past the command point it lands.
type Calibrator struct {
	driver  Driver
	heights HeightSource
	tuning  Tuning
	clock   Clock

	// StartMarginMM and TrialRetries default to sensible values in
	// NewCalibrator; exposed for tests and unusual desks.
	StartMarginMM int
	TrialRetries  int

	// Events receives per-trial progress when set.
	Events *events.Hub
}

// NewCalibrator validates tuning (the settle and stall parameters are
// used during trials) and returns a ready calibrator.
func NewCalibrator(driver Driver, heights HeightSource, tuning Tuning) (*Calibrator, error) {
	if err := tuning.Validate(); err != nil {
		return nil, err
	}
	return &Calibrator{
		driver:        driver,
		heights:       heights,
		tuning:        tuning,
		clock:         realClock{},
		StartMarginMM: DefaultStartMarginMM,
		TrialRetries:  defaultTrialRetries,
	}, nil
}

// Run performs trialCount trials per direction around aroundMM and
// averages the measured overshoots. Directions alternate up/down within
// each trial so the desk ends near where it started instead of drifting
// into a mechanical limit. A stop command is guaranteed on the way out.
func (c *Calibrator) Run(ctx context.Context, aroundMM, trialCount int) (*CalibrationResult, error) {
	if trialCount <= 0 {
		return nil, pkgerrors.Errorf("trial count must be > 0, got %d", trialCount)
	}

	log := logrus.WithFields(logrus.Fields{
		"operation": "calibration",
		"aroundMM":  aroundMM,
		"trials":    trialCount,
	})

	defer func() {
		if err := c.driver.Stop(); err != nil {
			log.WithError(err).Warn("final stop command failed")
		}
	}()

	if _, err := c.currentHeight(ctx); err != nil {
		return nil, pkgerrors.Wrap(err, "no initial height report")
	}

	result := &CalibrationResult{}
	retries := 0
	var sumUp, sumDown int

	for trial := 0; trial < trialCount; trial++ {
		for _, dir := range []desk.Direction{desk.Up, desk.Down} {
			for {
				if err := ctx.Err(); err != nil {
					return nil, err
				}

				c.Events.Publish(events.CalibrationTrial, events.CalibrationTrialEvent{
					Trial: trial + 1, Direction: dir.String(), Ts: c.clock.Now().Unix(),
				})

				s, err := c.runTrial(ctx, log, dir, aroundMM)
				if errors.Is(err, errTrialStalled) {
					retries++
					log.WithFields(logrus.Fields{
						"trial":   trial + 1,
						"retries": retries,
					}).Warn("trial stalled, discarding")
					if retries > c.TrialRetries {
						return nil, ErrCalibrationStalled
					}
					continue
				}
				if err != nil {
					return nil, err
				}

				result.Samples = append(result.Samples, s)
				if dir == desk.Up {
					sumUp += s.OvershootMM
				} else {
					sumDown += s.OvershootMM
				}

				c.Events.Publish(events.CalibrationSampled, events.CalibrationTrialEvent{
					Trial: trial + 1, Direction: dir.String(),
					OvershootMM: s.OvershootMM, Ts: c.clock.Now().Unix(),
				})
				log.WithFields(logrus.Fields{
					"trial":       trial + 1,
					"direction":   dir.String(),
					"overshootMM": s.OvershootMM,
				}).Info("trial complete")
				break
			}
		}
	}

	result.AvgOvershootUpMM = float64(sumUp) / float64(trialCount)
	result.AvgOvershootDownMM = float64(sumDown) / float64(trialCount)

	log.WithFields(logrus.Fields{
		"avgUpMM":   result.AvgOvershootUpMM,
		"avgDownMM": result.AvgOvershootDownMM,
	}).Info("calibration complete")

	return result, nil
}

// runTrial positions the desk margin millimeters away from the test
// point on the approach side, then drives toward the test point without
// compensation, stopping at the midpoint between start and test point so
// the desk coasts naturally past it.
func (c *Calibrator) runTrial(ctx context.Context, log *logrus.Entry, dir desk.Direction, aroundMM int) (Sample, error) {
	startPos := aroundMM - c.StartMarginMM
	if dir == desk.Down {
		startPos = aroundMM + c.StartMarginMM
	}

	if err := c.moveRaw(ctx, startPos); err != nil {
		return Sample{}, err
	}
	if err := c.clock.Sleep(ctx, c.tuning.Settle()); err != nil {
		return Sample{}, err
	}

	start, err := c.freshReading(ctx)
	if err != nil {
		return Sample{}, err
	}

	// Command point: midpoint between actual start and the test point.
	// We are measuring raw coasting, so landing precisely is explicitly
	// not the goal.
	commanded := (start + aroundMM) / 2

	if err := c.driveUntil(ctx, dir, commanded); err != nil {
		return Sample{}, err
	}
	if err := c.stopTwice(); err != nil {
		return Sample{}, err
	}
	if err := c.clock.Sleep(ctx, c.tuning.Settle()); err != nil {
		return Sample{}, err
	}

	rest, err := c.freshReading(ctx)
	if err != nil {
		return Sample{}, err
	}

	overshoot := rest - commanded
	if dir == desk.Down {
		overshoot = commanded - rest
	}

	return Sample{
		Direction:         dir,
		CommandedTargetMM: commanded,
		ActualStopMM:      rest,
		OvershootMM:       overshoot,
	}, nil
}

// moveRaw drives the desk to targetMM with no overshoot compensation,
// used only for positioning between trials.
func (c *Calibrator) moveRaw(ctx context.Context, targetMM int) error {
	cur, err := c.currentHeight(ctx)
	if err != nil {
		return err
	}
	if cur == targetMM {
		return nil
	}
	dir := desk.Up
	if targetMM < cur {
		dir = desk.Down
	}
	if err := c.driveUntil(ctx, dir, targetMM); err != nil {
		return err
	}
	return c.stopTwice()
}

// driveUntil re-issues the move command until the height crosses stopAt,
// guarding against a desk that is not moving at all.
func (c *Calibrator) driveUntil(ctx context.Context, dir desk.Direction, stopAt int) error {
	lastHeight, err := c.currentHeight(ctx)
	if err != nil {
		return err
	}
	lastProgress := c.clock.Now()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if r, ok := c.heights.Latest(); ok {
			if r.Millimeters != lastHeight {
				lastHeight = r.Millimeters
				lastProgress = c.clock.Now()
			}
			if crossed(dir, r.Millimeters, stopAt) {
				return nil
			}
		}
		if c.clock.Now().Sub(lastProgress) > c.tuning.StallTimeout() {
			return errTrialStalled
		}
		if err := c.driver.Move(dir); err != nil {
			return pkgerrors.Wrap(err, "send move during calibration")
		}
		if err := c.clock.Sleep(ctx, commandInterval); err != nil {
			return err
		}
	}
}

func (c *Calibrator) stopTwice() error {
	if err := c.driver.Stop(); err != nil {
		return pkgerrors.Wrap(err, "send stop during calibration")
	}
	_ = c.driver.Stop()
	return nil
}

func (c *Calibrator) currentHeight(ctx context.Context) (int, error) {
	if r, ok := c.heights.Latest(); ok {
		return r.Millimeters, nil
	}
	return c.freshReading(ctx)
}

func (c *Calibrator) freshReading(ctx context.Context) (int, error) {
	if err := c.driver.RequestHeight(); err != nil {
		return 0, pkgerrors.Wrap(err, "request height")
	}
	r, err := c.heights.WaitForUpdate(ctx, freshReadTimeout)
	if err != nil {
		return 0, err
	}
	return r.Millimeters, nil
}
