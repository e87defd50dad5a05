package desk

import (
	"time"

	pkgerrors "github.com/pkg/errors"
	"tinygo.org/x/bluetooth"
)

// Service UUIDs advertised by known desk controllers. These are the
// fingerprints the vendor app searches for.
var knownServiceUUIDs = []bluetooth.UUID{
	bluetooth.New16BitUUID(0xFF12),
	bluetooth.New16BitUUID(0xFE60),
}

// FoundDesk describes a desk controller seen while scanning.
type FoundDesk struct {
	Name        string
	Address     string
	RSSI        int16
	ServiceUUID string
}

// ScanForDesks scans for the given duration and reports every desk
// controller it sees, deduplicated by address. onFound is called from the
// scan goroutine as desks appear.
func ScanForDesks(adapter *bluetooth.Adapter, duration time.Duration, onFound func(FoundDesk)) error {
	if err := adapter.Enable(); err != nil {
		return pkgerrors.Wrap(err, "enable BLE adapter")
	}

	seen := make(map[string]struct{})
	timer := time.AfterFunc(duration, func() {
		_ = adapter.StopScan()
	})
	defer timer.Stop()

	err := adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
		addr := result.Address.String()
		if _, ok := seen[addr]; ok {
			return
		}
		for _, uuid := range knownServiceUUIDs {
			if !result.HasServiceUUID(uuid) {
				continue
			}
			seen[addr] = struct{}{}
			onFound(FoundDesk{
				Name:        result.LocalName(),
				Address:     addr,
				RSSI:        result.RSSI,
				ServiceUUID: uuid.String(),
			})
			break
		}
	})
	if err != nil {
		return pkgerrors.Wrap(err, "scan for desks")
	}
	return nil
}
