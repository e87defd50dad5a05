package motion

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/deskbound/deskctl/pkg/desk"
)

// ErrInvalidTuning is wrapped by every tuning validation failure. Tuning
// is rejected before any motion is attempted, never discovered mid-move.
var ErrInvalidTuning = errors.New("invalid tuning")

// Tuning holds the measured and chosen parameters the control loop runs
// with. It is loaded once per run and treated as immutable; calibration
// replaces it wholesale, never field by field.
type Tuning struct {
	// OvershootUpMM / OvershootDownMM are the coasting distances the desk
	// travels past a stop command, per direction. Measured by calibration.
	OvershootUpMM   int `json:"overshootUpMM"`
	OvershootDownMM int `json:"overshootDownMM"`

	// ToleranceMM is the band around the target that counts as arrived.
	// Termination requires |final - target| strictly below this, so a
	// zero tolerance could never terminate on discrete height steps.
	ToleranceMM int `json:"toleranceMM"`

	// CoarseNudgeMS and FineNudgeMS are the correction pulse lengths.
	// Errors of at most 5 mm get the fine pulse.
	CoarseNudgeMS int `json:"coarseNudgeMS"`
	FineNudgeMS   int `json:"fineNudgeMS"`

	// SettleMS is how long to wait after a stop for coasting to finish
	// before trusting a reading as the resting height.
	SettleMS int `json:"settleMS"`

	// StallTimeoutMS bounds how long the loop tolerates no measurable
	// movement, and caps the total nudge budget.
	StallTimeoutMS int `json:"stallTimeoutMS"`

	// MinSpeedMMPerS is the slowest travel speed the desk is assumed to
	// manage. It anchors the configuration warning below: at this speed a
	// single nudge pulse still has to move less than one tolerance band.
	MinSpeedMMPerS int `json:"minSpeedMMPerS"`
}

// DefaultTuning returns conservative parameters for an uncalibrated desk.
// Overshoots are deliberately small: undershooting is corrected by
// nudges, overshooting costs a direction reversal.
func DefaultTuning() Tuning {
	return Tuning{
		OvershootUpMM:   8,
		OvershootDownMM: 8,
		ToleranceMM:     2,
		CoarseNudgeMS:   100,
		FineNudgeMS:     50,
		SettleMS:        1500,
		StallTimeoutMS:  10000,
		MinSpeedMMPerS:  25,
	}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidTuning, fmt.Sprintf(format, args...))
}

// Validate checks the tuning invariants. It also logs a warning when the
// tolerance is small relative to the displacement one fine nudge produces
// at the assumed minimum speed, since such a configuration can oscillate
// instead of converging.
func (t Tuning) Validate() error {
	if t.OvershootUpMM < 0 || t.OvershootDownMM < 0 {
		return invalid("overshoots must be >= 0, got up=%d down=%d", t.OvershootUpMM, t.OvershootDownMM)
	}
	if t.ToleranceMM < 1 {
		return invalid("toleranceMM must be >= 1, got %d", t.ToleranceMM)
	}
	if t.FineNudgeMS <= 0 || t.CoarseNudgeMS <= 0 {
		return invalid("nudge durations must be > 0, got coarse=%dms fine=%dms", t.CoarseNudgeMS, t.FineNudgeMS)
	}
	if t.FineNudgeMS > t.CoarseNudgeMS {
		return invalid("fine nudge (%dms) must not be longer than coarse nudge (%dms)", t.FineNudgeMS, t.CoarseNudgeMS)
	}
	if t.SettleMS < 0 {
		return invalid("settleMS must be >= 0, got %d", t.SettleMS)
	}
	if t.StallTimeoutMS <= 0 {
		return invalid("stallTimeoutMS must be > 0, got %d", t.StallTimeoutMS)
	}
	if t.MinSpeedMMPerS <= 0 {
		return invalid("minSpeedMMPerS must be > 0, got %d", t.MinSpeedMMPerS)
	}

	// Lower bound on one fine nudge's displacement. If even the slowest
	// desk moves a full tolerance band per pulse, landing inside the band
	// is luck, not control.
	fineTravelMM := t.MinSpeedMMPerS * t.FineNudgeMS / 1000
	if fineTravelMM >= t.ToleranceMM {
		logrus.WithFields(logrus.Fields{
			"toleranceMM":    t.ToleranceMM,
			"fineNudgeMS":    t.FineNudgeMS,
			"minSpeedMMPerS": t.MinSpeedMMPerS,
		}).Warn("tolerance is smaller than one fine nudge's travel; moves may oscillate around the target. Increase toleranceMM or shorten fineNudgeMS")
	}

	return nil
}

// OvershootFor returns the coasting compensation for the given travel
// direction.
func (t Tuning) OvershootFor(d desk.Direction) int {
	if d == desk.Up {
		return t.OvershootUpMM
	}
	return t.OvershootDownMM
}

func (t Tuning) CoarseNudge() time.Duration { return time.Duration(t.CoarseNudgeMS) * time.Millisecond }
func (t Tuning) FineNudge() time.Duration   { return time.Duration(t.FineNudgeMS) * time.Millisecond }
func (t Tuning) Settle() time.Duration      { return time.Duration(t.SettleMS) * time.Millisecond }
func (t Tuning) StallTimeout() time.Duration {
	return time.Duration(t.StallTimeoutMS) * time.Millisecond
}

// NudgeBudget is the maximum number of nudge cycles per move, derived
// from how many coarse-nudge-plus-settle cycles fit into the stall
// timeout. Always at least one.
func (t Tuning) NudgeBudget() int {
	cycle := t.CoarseNudgeMS + t.SettleMS
	if cycle <= 0 {
		return 1
	}
	n := t.StallTimeoutMS / cycle
	if n < 1 {
		n = 1
	}
	return n
}
