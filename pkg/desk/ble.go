package desk

import (
	"strings"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"tinygo.org/x/bluetooth"
)

// DialOptions configures a BLE session to a desk controller.
type DialOptions struct {
	// Address is the MAC (or platform device identifier) of the desk.
	Address string
	// WriteUUID is the characteristic commands are written to.
	WriteUUID string
	// NotifyUUID is the characteristic the desk reports status on.
	NotifyUUID string
	// ScanTimeout bounds how long we look for the device before giving up.
	ScanTimeout time.Duration
	// OnReading receives every decoded height report, in millimeters.
	// Called from the BLE notification goroutine.
	OnReading func(mm int)
}

// BLEConn is a Conn over a connected BLE device.
type BLEConn struct {
	device bluetooth.Device
	write  bluetooth.DeviceCharacteristic
}

var _ Conn = (*BLEConn)(nil)

// Dial scans for the desk, connects, discovers the command and status
// characteristics, and subscribes to height notifications. The desk only
// talks to one central at a time, so a second Dial against the same desk
// will not find it while a session is open.
func Dial(adapter *bluetooth.Adapter, opts DialOptions) (*BLEConn, error) {
	if opts.Address == "" {
		return nil, pkgerrors.New("no device address configured, run \"deskctl scan\" to find your desk")
	}
	if opts.ScanTimeout <= 0 {
		opts.ScanTimeout = 10 * time.Second
	}

	writeUUID, err := bluetooth.ParseUUID(opts.WriteUUID)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "bad write characteristic UUID %q", opts.WriteUUID)
	}
	notifyUUID, err := bluetooth.ParseUUID(opts.NotifyUUID)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "bad notify characteristic UUID %q", opts.NotifyUUID)
	}

	if err := adapter.Enable(); err != nil {
		return nil, pkgerrors.Wrap(err, "enable BLE adapter")
	}

	logrus.WithField("address", opts.Address).Debug("scanning for desk")

	var (
		found  bluetooth.ScanResult
		hasHit bool
	)
	timer := time.AfterFunc(opts.ScanTimeout, func() {
		_ = adapter.StopScan()
	})
	err = adapter.Scan(func(a *bluetooth.Adapter, result bluetooth.ScanResult) {
		if !strings.EqualFold(result.Address.String(), opts.Address) {
			return
		}
		found = result
		hasHit = true
		_ = a.StopScan()
	})
	timer.Stop()
	if err != nil {
		return nil, pkgerrors.Wrap(err, "scan for desk")
	}
	if !hasHit {
		return nil, pkgerrors.Errorf("desk %s not found after %s. Is it powered on and not connected to another device?", opts.Address, opts.ScanTimeout)
	}

	logrus.WithFields(logrus.Fields{
		"address": found.Address.String(),
		"name":    found.LocalName(),
		"rssi":    found.RSSI,
	}).Debug("desk found, connecting")

	device, err := adapter.Connect(found.Address, bluetooth.ConnectionParams{})
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "connect to %s", opts.Address)
	}

	conn := &BLEConn{device: device}

	services, err := device.DiscoverServices(nil)
	if err != nil {
		_ = device.Disconnect()
		return nil, pkgerrors.Wrap(err, "discover services")
	}

	var (
		haveWrite  bool
		haveNotify bool
	)
	for _, svc := range services {
		chars, err := svc.DiscoverCharacteristics(nil)
		if err != nil {
			_ = device.Disconnect()
			return nil, pkgerrors.Wrapf(err, "discover characteristics of %s", svc.UUID().String())
		}
		for _, chr := range chars {
			switch chr.UUID() {
			case writeUUID:
				conn.write = chr
				haveWrite = true
			case notifyUUID:
				chr := chr
				err := chr.EnableNotifications(func(buf []byte) {
					mm, ok := DecodeHeight(buf)
					if !ok {
						return
					}
					logrus.WithField("millimeters", mm).Trace("height notification")
					if opts.OnReading != nil {
						opts.OnReading(mm)
					}
				})
				if err != nil {
					_ = device.Disconnect()
					return nil, pkgerrors.Wrap(err, "enable height notifications")
				}
				haveNotify = true
			}
		}
	}
	if !haveWrite || !haveNotify {
		_ = device.Disconnect()
		return nil, pkgerrors.Errorf("desk %s does not expose the expected characteristics (write %s, notify %s)",
			opts.Address, opts.WriteUUID, opts.NotifyUUID)
	}

	return conn, nil
}

// WriteCommand writes a command frame without response, the way the
// desk's own remote does.
func (c *BLEConn) WriteCommand(cmd []byte) error {
	_, err := c.write.WriteWithoutResponse(cmd)
	return err
}

// Close disconnects from the desk.
func (c *BLEConn) Close() error {
	return c.device.Disconnect()
}
