// Package config loads and saves the desk's connection settings and
// tuning parameters. The motion core never touches storage itself: it
// receives a validated Tuning value and hands calibration results back
// to the caller, which decides through this package whether to persist
// them.
package config

import (
	"github.com/deskbound/deskctl/pkg/desk"
	"github.com/deskbound/deskctl/pkg/motion"
)

type Config interface {
	DeviceAddress() string
	WriteUUID() string
	NotifyUUID() string
	Commands() desk.RawCommands
	MinHeightCM() float64
	MaxHeightCM() float64
	Presets() map[string]float64
	Preset(name string) (float64, bool)
	Tuning() motion.Tuning

	SetDeviceAddress(string)
	SetTuning(motion.Tuning)
	SetPreset(name string, heightCM float64)

	// Load reads the configuration from the source.
	Load() error
	// Save saves the configuration to the source.
	Save() error
	// Backup copies the current stored configuration aside before an
	// overwrite, returning where it was put. Empty when there is
	// nothing to back up.
	Backup() (string, error)
}
