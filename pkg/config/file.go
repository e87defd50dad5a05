package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/deskbound/deskctl/internal/ptr"
	"github.com/deskbound/deskctl/pkg/desk"
	"github.com/deskbound/deskctl/pkg/motion"
)

var defaultFileConfig = &RawFileConfig{
	DeviceAddress: ptr.To(""),
	// JCP35-style controllers put commands on 0xFF01 and status
	// notifications on 0xFF02 under the 0xFF12 service.
	WriteUUID:   ptr.To("0000ff01-0000-1000-8000-00805f9b34fb"),
	NotifyUUID:  ptr.To("0000ff02-0000-1000-8000-00805f9b34fb"),
	MinHeightCM: ptr.To(62.0),
	MaxHeightCM: ptr.To(127.0),
	Presets: map[string]float64{
		"sit":   72.0,
		"stand": 110.0,
	},
}

var _ Config = &File{}

// RawFileConfig is the on-disk JSON shape. Absent fields fall back to
// defaults, so a hand-written config only needs the device address.
type RawFileConfig struct {
	DeviceAddress *string            `json:"deviceAddress,omitempty"`
	WriteUUID     *string            `json:"writeUUID,omitempty"`
	NotifyUUID    *string            `json:"notifyUUID,omitempty"`
	Commands      *desk.RawCommands  `json:"commands,omitempty"`
	MinHeightCM   *float64           `json:"minHeightCM,omitempty"`
	MaxHeightCM   *float64           `json:"maxHeightCM,omitempty"`
	Presets       map[string]float64 `json:"presets,omitempty"`
	Tuning        *motion.Tuning     `json:"tuning,omitempty"`
}

// File is a Config backed by a JSON file.
type File struct {
	c        *RawFileConfig
	mu       *sync.RWMutex
	filepath string
}

// NewFile loads (or defaults) the config at configPath. A missing file
// is not an error: scan and first-time setup run before one exists.
func NewFile(configPath string) (*File, error) {
	f := &File{
		filepath: configPath,
		mu:       &sync.RWMutex{},
	}
	if err := f.Load(); err != nil {
		return nil, err
	}
	return f, nil
}

// NewFileFromConfig wraps an in-memory raw config, mainly for tests.
func NewFileFromConfig(c *RawFileConfig, configPath string) *File {
	if c == nil {
		c = defaultFileConfig
	}
	return &File{
		c:        c,
		mu:       &sync.RWMutex{},
		filepath: configPath,
	}
}

func (f *File) Load() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	b, err := os.ReadFile(f.filepath)
	if err != nil {
		if os.IsNotExist(err) {
			logrus.WithField("path", f.filepath).Debug("no config file, using defaults")
			f.c = &RawFileConfig{}
			return nil
		}
		return pkgerrors.Wrapf(err, "read config %s", f.filepath)
	}

	c := &RawFileConfig{}
	if err := json.Unmarshal(b, c); err != nil {
		return pkgerrors.Wrapf(err, "parse config %s", f.filepath)
	}
	if c.Tuning != nil {
		if err := c.Tuning.Validate(); err != nil {
			return pkgerrors.Wrapf(err, "config %s", f.filepath)
		}
	}
	f.c = c
	return nil
}

func (f *File) Save() error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	b, err := json.MarshalIndent(f.c, "", "    ")
	if err != nil {
		return pkgerrors.Wrap(err, "marshal config")
	}
	if dir := filepath.Dir(f.filepath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return pkgerrors.Wrapf(err, "create config dir %s", dir)
		}
	}
	if err := os.WriteFile(f.filepath, b, 0o644); err != nil {
		return pkgerrors.Wrapf(err, "write config %s", f.filepath)
	}
	return nil
}

// Backup copies the current config file aside before an overwrite (the
// calibrate command does this before persisting new overshoots). Returns
// the backup path. A missing original is not an error.
func (f *File) Backup() (string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	b, err := os.ReadFile(f.filepath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", pkgerrors.Wrapf(err, "read config %s", f.filepath)
	}
	backupPath := fmt.Sprintf("%s.%s.bak", f.filepath, time.Now().Format("2006-01-02_150405"))
	if err := os.WriteFile(backupPath, b, 0o644); err != nil {
		return "", pkgerrors.Wrapf(err, "write backup %s", backupPath)
	}
	return backupPath, nil
}

func (f *File) DeviceAddress() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.c.DeviceAddress != nil {
		return *f.c.DeviceAddress
	}
	return *defaultFileConfig.DeviceAddress
}

func (f *File) WriteUUID() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.c.WriteUUID != nil {
		return *f.c.WriteUUID
	}
	return *defaultFileConfig.WriteUUID
}

func (f *File) NotifyUUID() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.c.NotifyUUID != nil {
		return *f.c.NotifyUUID
	}
	return *defaultFileConfig.NotifyUUID
}

func (f *File) Commands() desk.RawCommands {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.c.Commands != nil {
		return *f.c.Commands
	}
	return desk.RawCommands{}
}

func (f *File) MinHeightCM() float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.c.MinHeightCM != nil {
		return *f.c.MinHeightCM
	}
	return *defaultFileConfig.MinHeightCM
}

func (f *File) MaxHeightCM() float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.c.MaxHeightCM != nil {
		return *f.c.MaxHeightCM
	}
	return *defaultFileConfig.MaxHeightCM
}

func (f *File) Presets() map[string]float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()

	src := f.c.Presets
	if src == nil {
		src = defaultFileConfig.Presets
	}
	out := make(map[string]float64, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

func (f *File) Preset(name string) (float64, bool) {
	cm, ok := f.Presets()[name]
	return cm, ok
}

func (f *File) Tuning() motion.Tuning {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.c.Tuning != nil {
		return *f.c.Tuning
	}
	return motion.DefaultTuning()
}

func (f *File) SetDeviceAddress(addr string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.DeviceAddress = ptr.To(addr)
}

// SetTuning replaces the tuning block wholesale.
func (f *File) SetTuning(t motion.Tuning) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.Tuning = ptr.To(t)
}

func (f *File) SetPreset(name string, heightCM float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.c.Presets == nil {
		// Start from the defaults so setting one preset does not drop
		// the built-in ones.
		f.c.Presets = make(map[string]float64, len(defaultFileConfig.Presets)+1)
		for k, v := range defaultFileConfig.Presets {
			f.c.Presets[k] = v
		}
	}
	f.c.Presets[name] = heightCM
}
