// Package motion holds the decision-making half of the desk controller:
// the closed-loop state machine that lands the desk on a target height,
// and the calibrator that measures what the state machine compensates
// for. It issues commands through a Driver and observes heights through a
// HeightSource; it knows nothing about BLE.
package motion

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/deskbound/deskctl/pkg/desk"
	"github.com/deskbound/deskctl/pkg/events"
)

// Driver issues motion commands. Move only pulses one step on the
// device, so continuous travel means re-issuing it on an interval.
type Driver interface {
	Move(desk.Direction) error
	Stop() error
	RequestHeight() error
}

// HeightSource exposes the latest decoded height report.
type HeightSource interface {
	Latest() (desk.Reading, bool)
	// WaitForUpdate blocks for a reading newer than the call, never a
	// cached one.
	WaitForUpdate(ctx context.Context, timeout time.Duration) (desk.Reading, error)
}

// Phase is a state of the move state machine.
type Phase int

const (
	PhaseApproach Phase = iota
	PhaseSettle
	PhaseNudge
	PhaseDone
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseApproach:
		return "approach"
	case PhaseSettle:
		return "settle"
	case PhaseNudge:
		return "nudge"
	case PhaseDone:
		return "done"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

const (
	// commandInterval is how often the move command is re-issued while
	// driving. Must stay shorter than the device's step pulse duration so
	// motion is continuous.
	commandInterval = 100 * time.Millisecond

	// freshReadTimeout bounds every forced height read.
	freshReadTimeout = 2 * time.Second

	// initialHeightTimeout is how long we wait for the first height report
	// before declaring the desk unreachable.
	initialHeightTimeout = 10 * time.Second

	// fineErrorThresholdMM: errors at or below this get the fine nudge.
	fineErrorThresholdMM = 5

	// minNudgeProgressMM: a nudge that moves the desk less than this
	// counts as no movement for stall purposes.
	minNudgeProgressMM = 1

	// stallNudgeLimit: this many consecutive no-movement nudges means the
	// desk is at a mechanical limit (or ignoring us).
	stallNudgeLimit = 3
)

// Loop drives the desk to a target height: a coarse compensated approach,
// a settle period for coasting to finish, then short correction nudges.
type Loop struct {
	driver  Driver
	heights HeightSource
	tuning  Tuning
	clock   Clock

	// Events receives phase transitions and height updates when set.
	Events *events.Hub
}

// NewLoop validates tuning and returns a ready loop. Invalid tuning is
// rejected here, before any motion can be attempted.
func NewLoop(driver Driver, heights HeightSource, tuning Tuning) (*Loop, error) {
	if err := tuning.Validate(); err != nil {
		return nil, err
	}
	return &Loop{
		driver:  driver,
		heights: heights,
		tuning:  tuning,
		clock:   realClock{},
	}, nil
}

// withinTolerance reports whether errMM counts as arrived. The strict
// comparison is what makes toleranceMM >= 1 the termination floor.
func (l *Loop) withinTolerance(errMM int) bool {
	return abs(errMM) < l.tuning.ToleranceMM
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// crossed reports whether cur is at or past stopAt in the direction of
// travel.
func crossed(dir desk.Direction, cur, stopAt int) bool {
	if dir == desk.Up {
		return cur >= stopAt
	}
	return cur <= stopAt
}

// MoveTo runs the state machine until a terminal phase. A stop command is
// guaranteed to be issued at least once before it returns, whatever the
// outcome; leaving the desk mid-motion on an abnormal exit is not
// acceptable.
func (l *Loop) MoveTo(ctx context.Context, targetMM int) Outcome {
	log := logrus.WithFields(logrus.Fields{
		"operation": "move",
		"targetMM":  targetMM,
	})

	defer func() {
		// Errors here are swallowed: there is nothing left to do with a
		// transport that cannot even deliver a stop.
		if err := l.driver.Stop(); err != nil {
			log.WithError(err).Warn("final stop command failed")
		}
	}()

	start, outcome, ok := l.initialHeight(ctx, log)
	if !ok {
		return outcome
	}

	// Short-travel case: already inside the tolerance band, no movement
	// at all.
	if l.withinTolerance(targetMM - start) {
		l.phase(PhaseApproach, PhaseDone, start, targetMM)
		log.WithField("heightMM", start).Info("already at target")
		return Outcome{Kind: Reached, FinalHeightMM: start}
	}

	last, outcome, ok := l.approach(ctx, log, start, targetMM)
	if !ok {
		return outcome
	}

	rest, outcome, ok := l.settle(ctx, log, last, targetMM)
	if !ok {
		return outcome
	}

	return l.nudge(ctx, log, rest, targetMM)
}

// initialHeight obtains a starting reading, waking the desk if the notify
// stream is quiet.
func (l *Loop) initialHeight(ctx context.Context, log *logrus.Entry) (int, Outcome, bool) {
	if r, ok := l.heights.Latest(); ok {
		return r.Millimeters, Outcome{}, true
	}

	if err := l.driver.RequestHeight(); err != nil {
		return 0, l.failTransport(log, err), false
	}
	r, err := l.heights.WaitForUpdate(ctx, initialHeightTimeout)
	if err != nil {
		log.WithError(err).Error("no initial height report. Is the desk powered on?")
		return 0, Outcome{Kind: TimedOut}, false
	}
	return r.Millimeters, Outcome{}, true
}

// approach drives continuously toward the effective stop point: the
// target pulled back by the predicted coasting distance. Returns the last
// height seen when the stop was issued.
func (l *Loop) approach(ctx context.Context, log *logrus.Entry, start, targetMM int) (int, Outcome, bool) {
	dir := desk.Up
	if targetMM < start {
		dir = desk.Down
	}

	stopAt := targetMM - l.tuning.OvershootFor(dir)
	if dir == desk.Down {
		stopAt = targetMM + l.tuning.OvershootFor(dir)
	}

	log = log.WithFields(logrus.Fields{
		"direction": dir.String(),
		"stopAtMM":  stopAt,
	})
	log.Debug("approach started")

	lastHeight := start
	lastProgress := l.clock.Now()

	for {
		if ctx.Err() != nil {
			log.WithField("heightMM", lastHeight).Warn("move canceled during approach")
			return 0, Outcome{Kind: TimedOut, FinalHeightMM: lastHeight}, false
		}

		if r, ok := l.heights.Latest(); ok {
			if r.Millimeters != lastHeight {
				lastHeight = r.Millimeters
				lastProgress = l.clock.Now()
				l.Events.Publish(events.MoveHeight, events.MoveHeightEvent{
					HeightMM: lastHeight, TargetMM: targetMM, Ts: l.clock.Now().Unix(),
				})
				log.WithField("heightMM", lastHeight).Trace("approaching")
			}
			// Stop on crossing the effective stop point, or inside the
			// tolerance band for short travels where compensation would
			// overshoot the start.
			if crossed(dir, r.Millimeters, stopAt) || l.withinTolerance(targetMM-r.Millimeters) {
				break
			}
		} else {
			// Stream went quiet; ask for a report rather than trusting a
			// stale value across the suspension.
			if err := l.driver.RequestHeight(); err != nil {
				return 0, l.failTransport(log, err), false
			}
		}

		if l.clock.Now().Sub(lastProgress) > l.tuning.StallTimeout() {
			log.WithField("heightMM", lastHeight).Error("no movement during approach")
			return 0, Outcome{Kind: Stalled, FinalHeightMM: lastHeight}, false
		}

		if err := l.driver.Move(dir); err != nil {
			return 0, l.failTransport(log, err), false
		}
		if err := l.clock.Sleep(ctx, commandInterval); err != nil {
			return 0, Outcome{Kind: TimedOut, FinalHeightMM: lastHeight}, false
		}
	}

	// The latency between seeing the crossing and this landing is itself
	// residual overshoot; issue the stop immediately and twice, the frame
	// is cheap and the command idempotent.
	if err := l.driver.Stop(); err != nil {
		return 0, l.failTransport(log, err), false
	}
	_ = l.driver.Stop()

	l.phase(PhaseApproach, PhaseSettle, lastHeight, targetMM)
	log.WithField("heightMM", lastHeight).Debug("approach complete, settling")

	return lastHeight, Outcome{}, true
}

// settle waits out the coasting, then forces a fresh reading to establish
// the true resting height. Readings taken during motion are not trusted
// as final.
func (l *Loop) settle(ctx context.Context, log *logrus.Entry, last, targetMM int) (int, Outcome, bool) {
	if err := l.clock.Sleep(ctx, l.tuning.Settle()); err != nil {
		return 0, Outcome{Kind: TimedOut, FinalHeightMM: last}, false
	}
	rest, outcome, ok := l.freshReading(ctx, log, last)
	if !ok {
		return 0, outcome, false
	}
	l.phase(PhaseSettle, PhaseNudge, rest, targetMM)
	return rest, Outcome{}, true
}

func (l *Loop) freshReading(ctx context.Context, log *logrus.Entry, last int) (int, Outcome, bool) {
	if err := l.driver.RequestHeight(); err != nil {
		return 0, l.failTransport(log, err), false
	}
	r, err := l.heights.WaitForUpdate(ctx, freshReadTimeout)
	if err != nil {
		if errors.Is(err, desk.ErrReadingTimeout) {
			log.Warn("desk stopped reporting heights")
		}
		return 0, Outcome{Kind: TimedOut, FinalHeightMM: last}, false
	}
	return r.Millimeters, Outcome{}, true
}

// nudge closes the residual error with short pulses, re-settling and
// re-reading after each one. Bounded by the nudge budget and the stall
// counter.
func (l *Loop) nudge(ctx context.Context, log *logrus.Entry, rest, targetMM int) Outcome {
	budget := l.tuning.NudgeBudget()
	stalls := 0

	for n := 0; ; n++ {
		errMM := targetMM - rest
		if l.withinTolerance(errMM) {
			l.phase(PhaseNudge, PhaseDone, rest, targetMM)
			log.WithFields(logrus.Fields{
				"heightMM": rest,
				"nudges":   n,
			}).Info("target reached")
			return Outcome{Kind: Reached, FinalHeightMM: rest}
		}
		if n >= budget {
			l.phase(PhaseNudge, PhaseFailed, rest, targetMM)
			log.WithFields(logrus.Fields{
				"heightMM": rest,
				"budget":   budget,
			}).Error("nudge budget exhausted")
			return Outcome{Kind: TimedOut, FinalHeightMM: rest}
		}

		dir := desk.Up
		if errMM < 0 {
			dir = desk.Down
		}
		dur := l.tuning.CoarseNudge()
		if abs(errMM) <= fineErrorThresholdMM {
			dur = l.tuning.FineNudge()
		}

		log.WithFields(logrus.Fields{
			"errorMM":   errMM,
			"direction": dir.String(),
			"pulse":     dur.String(),
			"cycle":     n + 1,
		}).Debug("nudging")

		if err := l.driver.Move(dir); err != nil {
			return l.failTransport(log, err)
		}
		if err := l.clock.Sleep(ctx, dur); err != nil {
			// Canceled mid-pulse: the deferred stop handles the motor.
			return Outcome{Kind: TimedOut, FinalHeightMM: rest}
		}
		if err := l.driver.Stop(); err != nil {
			return l.failTransport(log, err)
		}
		if err := l.clock.Sleep(ctx, l.tuning.Settle()); err != nil {
			return Outcome{Kind: TimedOut, FinalHeightMM: rest}
		}

		after, outcome, ok := l.freshReading(ctx, log, rest)
		if !ok {
			return outcome
		}

		if abs(after-rest) < minNudgeProgressMM {
			stalls++
			if stalls >= stallNudgeLimit {
				l.phase(PhaseNudge, PhaseFailed, after, targetMM)
				log.WithField("heightMM", after).Error("desk not responding to nudges, likely at a mechanical limit")
				return Outcome{Kind: Stalled, FinalHeightMM: after}
			}
		} else {
			stalls = 0
		}
		rest = after

		l.Events.Publish(events.MoveHeight, events.MoveHeightEvent{
			HeightMM: rest, TargetMM: targetMM, Ts: l.clock.Now().Unix(),
		})
	}
}

// failTransport surfaces a send failure after a best-effort stop. The
// stop's own error is swallowed.
func (l *Loop) failTransport(log *logrus.Entry, err error) Outcome {
	log.WithError(err).Error("transport failure, stopping desk")
	_ = l.driver.Stop()
	return Outcome{Kind: TransportError, Err: err}
}

func (l *Loop) phase(from, to Phase, heightMM, targetMM int) {
	l.Events.Publish(events.MovePhase, events.MovePhaseEvent{
		From:     from.String(),
		To:       to.String(),
		HeightMM: heightMM,
		TargetMM: targetMM,
		Ts:       l.clock.Now().Unix(),
	})
}
