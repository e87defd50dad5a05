package motion

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/deskbound/deskctl/pkg/desk"
)

func newTestCalibrator(t *testing.T, sim *simDesk, tuning Tuning) *Calibrator {
	t.Helper()
	c, err := NewCalibrator(sim, sim, tuning)
	if err != nil {
		t.Fatalf("NewCalibrator() failed: %v", err)
	}
	c.clock = sim
	return c
}

// Against a desk with fixed coasting, the measured averages must land on
// the true coast plus at most the crossing-detection quantization (one
// 100 ms sample at 30 mm/s is 3 mm).
func TestCalibratorMeasuresCoast(t *testing.T) {
	sim := newSimDesk(800)
	sim.coastUp = 12
	sim.coastDown = 9

	c := newTestCalibrator(t, sim, DefaultTuning())
	res, err := c.Run(context.Background(), 900, 3)
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	if got := len(res.Samples); got != 6 {
		t.Fatalf("got %d samples, want 6 (3 trials x 2 directions)", got)
	}
	if math.Abs(res.AvgOvershootUpMM-12) > 3 {
		t.Errorf("avg up overshoot = %.1f mm, want within 3 mm of 12", res.AvgOvershootUpMM)
	}
	if math.Abs(res.AvgOvershootDownMM-9) > 3 {
		t.Errorf("avg down overshoot = %.1f mm, want within 3 mm of 9", res.AvgOvershootDownMM)
	}

	for i, s := range res.Samples {
		wantDir := desk.Up
		if i%2 == 1 {
			wantDir = desk.Down
		}
		if s.Direction != wantDir {
			t.Errorf("sample %d direction = %s, want %s (trials alternate to avoid drifting)", i, s.Direction, wantDir)
		}
		if s.OvershootMM < 0 {
			t.Errorf("sample %d overshoot = %d mm, want non-negative distance past the command point", i, s.OvershootMM)
		}
		if got := s.ActualStopMM - s.CommandedTargetMM; s.Direction == desk.Up && got != s.OvershootMM {
			t.Errorf("sample %d overshoot = %d, want actual-commanded = %d", i, s.OvershootMM, got)
		}
	}
}

// More trials must not widen the spread: the deterministic desk yields
// identical per-direction samples, so variance stays at zero and the
// average stays put.
func TestCalibratorConvergence(t *testing.T) {
	run := func(trials int) *CalibrationResult {
		sim := newSimDesk(800)
		sim.coastUp = 10
		sim.coastDown = 10
		c := newTestCalibrator(t, sim, DefaultTuning())
		res, err := c.Run(context.Background(), 900, trials)
		if err != nil {
			t.Fatalf("Run(%d trials) failed: %v", trials, err)
		}
		return res
	}

	small := run(2)
	large := run(5)
	if math.Abs(small.AvgOvershootUpMM-large.AvgOvershootUpMM) > 2 {
		t.Errorf("up average moved from %.1f to %.1f between 2 and 5 trials",
			small.AvgOvershootUpMM, large.AvgOvershootUpMM)
	}
	if math.Abs(small.AvgOvershootDownMM-large.AvgOvershootDownMM) > 2 {
		t.Errorf("down average moved from %.1f to %.1f between 2 and 5 trials",
			small.AvgOvershootDownMM, large.AvgOvershootDownMM)
	}
}

func TestCalibratorStalledDesk(t *testing.T) {
	sim := newSimDesk(800)
	sim.speed = 0

	c := newTestCalibrator(t, sim, DefaultTuning())
	_, err := c.Run(context.Background(), 900, 3)
	if !errors.Is(err, ErrCalibrationStalled) {
		t.Fatalf("Run() error = %v, want ErrCalibrationStalled", err)
	}
	if sim.stopCalls == 0 {
		t.Error("no stop command issued after calibration failure")
	}
}

// A test point whose trials would start outside the desk's travel must
// be rejected up front: positioning toward it would just grind the desk
// into a mechanical limit until the stall budget runs out.
func TestValidateCalibrationRange(t *testing.T) {
	const minMM, maxMM = 620, 1270
	tests := []struct {
		name     string
		aroundMM int
		wantErr  bool
	}{
		{name: "mid travel", aroundMM: 900},
		{name: "zero value", aroundMM: 0, wantErr: true},
		{name: "below travel", aroundMM: 600, wantErr: true},
		{name: "margin clips bottom", aroundMM: 650, wantErr: true},
		{name: "margin clips top", aroundMM: 1250, wantErr: true},
		{name: "exactly at margin floor", aroundMM: minMM + DefaultStartMarginMM},
		{name: "exactly at margin ceiling", aroundMM: maxMM - DefaultStartMarginMM},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCalibrationRange(tt.aroundMM, DefaultStartMarginMM, minMM, maxMM)
			if tt.wantErr && err == nil {
				t.Fatalf("ValidateCalibrationRange(%d) accepted an unreachable test point", tt.aroundMM)
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("ValidateCalibrationRange(%d) failed: %v", tt.aroundMM, err)
			}
		})
	}
}

func TestCalibratorRejectsBadTrialCount(t *testing.T) {
	sim := newSimDesk(800)
	c := newTestCalibrator(t, sim, DefaultTuning())
	if _, err := c.Run(context.Background(), 900, 0); err == nil {
		t.Fatal("Run() accepted a zero trial count")
	}
}

func TestCalibrationResultApplyTo(t *testing.T) {
	res := &CalibrationResult{AvgOvershootUpMM: 11.6, AvgOvershootDownMM: 7.2}
	tuning := DefaultTuning()

	applied := res.ApplyTo(tuning)
	if applied.OvershootUpMM != 12 || applied.OvershootDownMM != 7 {
		t.Errorf("ApplyTo() overshoots = %d/%d, want 12/7", applied.OvershootUpMM, applied.OvershootDownMM)
	}
	// The input tuning is untouched.
	if tuning.OvershootUpMM != DefaultTuning().OvershootUpMM {
		t.Error("ApplyTo() mutated its input")
	}
}
