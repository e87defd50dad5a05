package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/deskbound/deskctl/pkg/motion"
)

func TestFileDefaultsWhenMissing(t *testing.T) {
	f, err := NewFile(filepath.Join(t.TempDir(), "config.json"))
	if err != nil {
		t.Fatalf("NewFile() failed for a missing file: %v", err)
	}

	if got := f.DeviceAddress(); got != "" {
		t.Errorf("DeviceAddress() = %q, want empty default", got)
	}
	if got := f.WriteUUID(); !strings.HasPrefix(got, "0000ff01") {
		t.Errorf("WriteUUID() = %q, want the ff01 default", got)
	}
	if f.Tuning() != motion.DefaultTuning() {
		t.Errorf("Tuning() = %+v, want defaults", f.Tuning())
	}
	if _, ok := f.Preset("stand"); !ok {
		t.Error("default presets missing \"stand\"")
	}
}

func TestFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	f, err := NewFile(path)
	if err != nil {
		t.Fatalf("NewFile() failed: %v", err)
	}
	f.SetDeviceAddress("E8:5B:5B:12:34:56")
	tuning := motion.DefaultTuning()
	tuning.OvershootUpMM = 13
	tuning.OvershootDownMM = 9
	f.SetTuning(tuning)
	f.SetPreset("perch", 98.5)

	if err := f.Save(); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	g, err := NewFile(path)
	if err != nil {
		t.Fatalf("NewFile() reload failed: %v", err)
	}
	if got := g.DeviceAddress(); got != "E8:5B:5B:12:34:56" {
		t.Errorf("DeviceAddress() = %q after reload", got)
	}
	if got := g.Tuning(); got.OvershootUpMM != 13 || got.OvershootDownMM != 9 {
		t.Errorf("Tuning() overshoots = %d/%d after reload, want 13/9", got.OvershootUpMM, got.OvershootDownMM)
	}
	if cm, ok := g.Preset("perch"); !ok || cm != 98.5 {
		t.Errorf("Preset(perch) = %v, %v after reload, want 98.5, true", cm, ok)
	}
	// Built-in presets survive adding a custom one.
	if _, ok := g.Preset("sit"); !ok {
		t.Error("built-in preset \"sit\" lost after SetPreset")
	}
}

func TestFileRejectsInvalidTuning(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"tuning":{"toleranceMM":0,"coarseNudgeMS":100,"fineNudgeMS":50,"settleMS":1500,"stallTimeoutMS":10000,"minSpeedMMPerS":25}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFile(path); err == nil {
		t.Fatal("NewFile() accepted a config with invalid tuning")
	}
}

func TestFileRejectsBadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{nope"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFile(path); err == nil {
		t.Fatal("NewFile() accepted malformed JSON")
	}
}

func TestFileBackup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	f, err := NewFile(path)
	if err != nil {
		t.Fatalf("NewFile() failed: %v", err)
	}

	// Nothing on disk yet: backup is a no-op.
	backup, err := f.Backup()
	if err != nil {
		t.Fatalf("Backup() of missing file failed: %v", err)
	}
	if backup != "" {
		t.Errorf("Backup() of missing file = %q, want empty path", backup)
	}

	if err := f.Save(); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	backup, err = f.Backup()
	if err != nil {
		t.Fatalf("Backup() failed: %v", err)
	}
	if _, err := os.Stat(backup); err != nil {
		t.Errorf("backup file %q not readable: %v", backup, err)
	}
}
