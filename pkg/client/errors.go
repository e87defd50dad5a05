package client

import "errors"

var (
	// ErrDaemonNotRunning is returned when the daemon socket does not exist
	ErrDaemonNotRunning = errors.New("daemon not running")

	// ErrPermissionDenied is returned when the daemon socket refuses us
	ErrPermissionDenied = errors.New("permission denied")

	// ErrDeskBusy is returned when the daemon is already running a move or
	// calibration
	ErrDeskBusy = errors.New("desk is busy with another run")
)
