// Package desk talks to the desk controller: it encodes motion commands,
// decodes height reports, and keeps the latest known height. All decision
// making (when to move, when to stop) lives in pkg/motion.
package desk

import (
	"encoding/hex"
	"encoding/json"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Direction is the direction of desk travel.
type Direction int

const (
	Up Direction = iota
	Down
)

func (d Direction) String() string {
	switch d {
	case Up:
		return "up"
	case Down:
		return "down"
	default:
		return "unknown"
	}
}

// Opposite returns the other direction.
func (d Direction) Opposite() Direction {
	if d == Up {
		return Down
	}
	return Up
}

// MarshalJSON encodes the direction as "up"/"down" so API payloads and
// calibration results stay readable.
func (d Direction) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Direction) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	switch s {
	case "up":
		*d = Up
	case "down":
		*d = Down
	default:
		return pkgerrors.Errorf("unknown direction %q", s)
	}
	return nil
}

// Reading is a decoded height report from the desk.
type Reading struct {
	Millimeters int       `json:"millimeters"`
	ObservedAt  time.Time `json:"observedAt"`
}

// Conn is an open transport session to the desk controller. Height
// notifications are delivered out-of-band by the transport (see Dial),
// so the only inbound surface here is command writes.
type Conn interface {
	// WriteCommand sends a raw command frame, write-without-response.
	WriteCommand(cmd []byte) error
	Close() error
}

// RawCommands holds the hex-encoded command frames as they appear in the
// config file.
type RawCommands struct {
	MoveUp      *string `json:"moveUp,omitempty"`
	MoveDown    *string `json:"moveDown,omitempty"`
	Stop        *string `json:"stop,omitempty"`
	FetchHeight *string `json:"fetchHeight,omitempty"`
}

// Commands holds the decoded command frames the controller writes.
type Commands struct {
	MoveUp      []byte
	MoveDown    []byte
	Stop        []byte
	FetchHeight []byte
}

// Frames used by JCP35-style controllers. Requests are framed
// f1 f1 <cmd> <len> <checksum> 7e; the desk answers on the notify
// characteristic with f2 f2 frames (see frame.go).
var defaultCommandHex = map[string]string{
	"moveUp":      "f1f10100017e",
	"moveDown":    "f1f10200027e",
	"stop":        "f1f12b002b7e",
	"fetchHeight": "f1f10700077e",
}

// ParseCommands decodes the hex command set, falling back to the default
// frames for any field left unset.
func ParseCommands(raw RawCommands) (Commands, error) {
	decode := func(name string, override *string) ([]byte, error) {
		s := defaultCommandHex[name]
		if override != nil {
			s = *override
		}
		b, err := hex.DecodeString(s)
		if err != nil {
			return nil, pkgerrors.Wrapf(err, "command %q is not valid hex", name)
		}
		if len(b) == 0 {
			return nil, pkgerrors.Errorf("command %q is empty", name)
		}
		return b, nil
	}

	var (
		cmds Commands
		err  error
	)
	if cmds.MoveUp, err = decode("moveUp", raw.MoveUp); err != nil {
		return Commands{}, err
	}
	if cmds.MoveDown, err = decode("moveDown", raw.MoveDown); err != nil {
		return Commands{}, err
	}
	if cmds.Stop, err = decode("stop", raw.Stop); err != nil {
		return Commands{}, err
	}
	if cmds.FetchHeight, err = decode("fetchHeight", raw.FetchHeight); err != nil {
		return Commands{}, err
	}
	return cmds, nil
}

// Controller issues motion commands over an open Conn. It is stateless:
// it knows nothing about target heights, and every method maps to exactly
// one command frame. Move only pulses one step on the device, so the
// caller must re-issue it on an interval to keep the desk in motion.
type Controller struct {
	conn Conn
	cmds Commands
}

// NewController returns a Controller writing to conn.
func NewController(conn Conn, cmds Commands) *Controller {
	return &Controller{conn: conn, cmds: cmds}
}

// Move starts (or keeps) the desk moving in the given direction.
func (c *Controller) Move(d Direction) error {
	logrus.WithField("direction", d.String()).Trace("sending move command")

	cmd := c.cmds.MoveUp
	if d == Down {
		cmd = c.cmds.MoveDown
	}
	if err := c.conn.WriteCommand(cmd); err != nil {
		return pkgerrors.Wrapf(err, "send move %s", d)
	}
	return nil
}

// Stop halts desk movement. Idempotent: stopping an already stopped desk
// is a no-op on the device side.
func (c *Controller) Stop() error {
	logrus.Trace("sending stop command")

	if err := c.conn.WriteCommand(c.cmds.Stop); err != nil {
		return pkgerrors.Wrap(err, "send stop")
	}
	return nil
}

// RequestHeight asks the desk to emit a height report on the notify
// stream. Used to wake a quiet desk and to force a fresh reading.
func (c *Controller) RequestHeight() error {
	logrus.Trace("sending fetch-height command")

	if err := c.conn.WriteCommand(c.cmds.FetchHeight); err != nil {
		return pkgerrors.Wrap(err, "send fetch height")
	}
	return nil
}
