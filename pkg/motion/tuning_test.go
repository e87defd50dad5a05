package motion

import (
	"errors"
	"testing"
	"time"

	"github.com/deskbound/deskctl/pkg/desk"
)

func TestTuningValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Tuning)
		wantErr bool
	}{
		{name: "defaults are valid", mutate: func(*Tuning) {}},
		{name: "negative overshoot", mutate: func(tu *Tuning) { tu.OvershootDownMM = -1 }, wantErr: true},
		{name: "zero tolerance can never terminate", mutate: func(tu *Tuning) { tu.ToleranceMM = 0 }, wantErr: true},
		{name: "zero coarse nudge", mutate: func(tu *Tuning) { tu.CoarseNudgeMS = 0 }, wantErr: true},
		{name: "fine longer than coarse", mutate: func(tu *Tuning) { tu.FineNudgeMS = tu.CoarseNudgeMS + 1 }, wantErr: true},
		{name: "negative settle", mutate: func(tu *Tuning) { tu.SettleMS = -1 }, wantErr: true},
		{name: "zero stall timeout", mutate: func(tu *Tuning) { tu.StallTimeoutMS = 0 }, wantErr: true},
		{name: "zero min speed", mutate: func(tu *Tuning) { tu.MinSpeedMMPerS = 0 }, wantErr: true},
		{name: "zero overshoots are fine", mutate: func(tu *Tuning) { tu.OvershootUpMM = 0; tu.OvershootDownMM = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tu := DefaultTuning()
			tt.mutate(&tu)
			err := tu.Validate()
			if tt.wantErr && !errors.Is(err, ErrInvalidTuning) {
				t.Fatalf("Validate() error = %v, want ErrInvalidTuning", err)
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("Validate() failed: %v", err)
			}
		})
	}
}

func TestTuningOvershootFor(t *testing.T) {
	tu := DefaultTuning()
	tu.OvershootUpMM = 11
	tu.OvershootDownMM = 7

	if got := tu.OvershootFor(desk.Up); got != 11 {
		t.Errorf("OvershootFor(Up) = %d, want 11", got)
	}
	if got := tu.OvershootFor(desk.Down); got != 7 {
		t.Errorf("OvershootFor(Down) = %d, want 7", got)
	}
}

func TestTuningNudgeBudget(t *testing.T) {
	tu := DefaultTuning()
	tu.StallTimeoutMS = 10000
	tu.CoarseNudgeMS = 100
	tu.SettleMS = 1500

	if got := tu.NudgeBudget(); got != 6 {
		t.Errorf("NudgeBudget() = %d, want 6", got)
	}

	// Even a stingy stall timeout allows one correction attempt.
	tu.StallTimeoutMS = 1
	if got := tu.NudgeBudget(); got != 1 {
		t.Errorf("NudgeBudget() = %d, want at least 1", got)
	}
}

func TestTuningDurations(t *testing.T) {
	tu := DefaultTuning()
	if tu.FineNudge() != 50*time.Millisecond {
		t.Errorf("FineNudge() = %s, want 50ms", tu.FineNudge())
	}
	if tu.Settle() != 1500*time.Millisecond {
		t.Errorf("Settle() = %s, want 1.5s", tu.Settle())
	}
}
