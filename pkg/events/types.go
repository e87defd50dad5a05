package events

import "encoding/json"

// Event names.
const (
	MovePhase          = "move.phase"
	MoveHeight         = "move.height"
	CalibrationTrial   = "calibration.trial"
	CalibrationSampled = "calibration.sample"
)

// Event is a generic progress event.
type Event struct {
	Name string          // SSE event name
	Data json.RawMessage // Raw JSON payload
}

// MovePhaseEvent is the typed payload for move.phase.
type MovePhaseEvent struct {
	From     string `json:"from"`
	To       string `json:"to"`
	HeightMM int    `json:"heightMM"`
	TargetMM int    `json:"targetMM"`
	Ts       int64  `json:"ts"`
}

// MoveHeightEvent is the typed payload for move.height.
type MoveHeightEvent struct {
	HeightMM int   `json:"heightMM"`
	TargetMM int   `json:"targetMM"`
	Ts       int64 `json:"ts"`
}

// CalibrationTrialEvent is the typed payload for calibration.trial and
// calibration.sample.
type CalibrationTrialEvent struct {
	Trial       int    `json:"trial"`
	Direction   string `json:"direction"`
	OvershootMM int    `json:"overshootMM,omitempty"`
	Message     string `json:"message,omitempty"`
	Ts          int64  `json:"ts"`
}

// DecodeAs decodes the event payload into the caller-specified type T.
// If Data is empty it returns the zero value of T with a nil error.
func DecodeAs[T any](e Event) (T, error) {
	var zero T
	if len(e.Data) == 0 {
		return zero, nil
	}
	var v T
	if err := json.Unmarshal(e.Data, &v); err != nil {
		return zero, err
	}
	return v, nil
}
