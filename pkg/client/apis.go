package client

import (
	"encoding/json"
	"strconv"

	pkgerrors "github.com/pkg/errors"

	"github.com/deskbound/deskctl/pkg/motion"
)

// MoveResult is the daemon's answer to a move request.
type MoveResult struct {
	Kind          string `json:"kind"`
	FinalHeightMM int    `json:"finalHeightMM"`
	Error         string `json:"error,omitempty"`
}

// Reached reports whether the desk settled within tolerance.
func (r MoveResult) Reached() bool { return r.Kind == "reached" }

func (c *Client) GetHeight() (int, error) {
	ret, err := c.Get("/height")
	if err != nil {
		return 0, pkgerrors.Wrapf(err, "failed to get desk height")
	}

	var resp struct {
		HeightMM int `json:"heightMM"`
	}
	if err := json.Unmarshal([]byte(ret), &resp); err != nil {
		return 0, pkgerrors.Wrapf(err, "failed to unmarshal height")
	}
	return resp.HeightMM, nil
}

func (c *Client) Move(targetMM int) (*MoveResult, error) {
	ret, err := c.Put("/move", strconv.Itoa(targetMM))
	if err != nil {
		return nil, err
	}

	var res MoveResult
	if err := json.Unmarshal([]byte(ret), &res); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal move result")
	}
	return &res, nil
}

type calibrateRequest struct {
	AroundMM int  `json:"aroundMM"`
	Trials   int  `json:"trials"`
	Persist  bool `json:"persist"`
}

func (c *Client) Calibrate(aroundMM, trials int, persist bool) (*motion.CalibrationResult, error) {
	payload, err := json.Marshal(calibrateRequest{AroundMM: aroundMM, Trials: trials, Persist: persist})
	if err != nil {
		return nil, err
	}

	ret, err := c.Post("/calibrate", string(payload))
	if err != nil {
		return nil, err
	}

	var res motion.CalibrationResult
	if err := json.Unmarshal([]byte(ret), &res); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal calibration result")
	}
	return &res, nil
}

// PersistCalibration saves a calibration result through the daemon, so
// the daemon's in-memory tuning and the config file update together.
// Writing the file behind the daemon's back would leave it moving with
// stale overshoots until the next reload.
func (c *Client) PersistCalibration(res *motion.CalibrationResult) error {
	t, err := c.GetTuning()
	if err != nil {
		return err
	}
	return c.SetTuning(res.ApplyTo(*t))
}

func (c *Client) GetTuning() (*motion.Tuning, error) {
	ret, err := c.Get("/tuning")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get tuning")
	}

	var t motion.Tuning
	if err := json.Unmarshal([]byte(ret), &t); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal tuning")
	}
	return &t, nil
}

func (c *Client) SetTuning(t motion.Tuning) error {
	payload, err := json.Marshal(t)
	if err != nil {
		return err
	}
	if _, err := c.Put("/tuning", string(payload)); err != nil {
		return pkgerrors.Wrapf(err, "failed to set tuning")
	}
	return nil
}

func (c *Client) GetPresets() (map[string]float64, error) {
	ret, err := c.Get("/presets")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get presets")
	}

	var presets map[string]float64
	if err := json.Unmarshal([]byte(ret), &presets); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal presets")
	}
	return presets, nil
}
