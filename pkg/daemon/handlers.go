package daemon

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/deskbound/deskctl/pkg/motion"
)

// moveResponse mirrors motion.Outcome with the error flattened to a
// string for the wire.
type moveResponse struct {
	Kind          string `json:"kind"`
	FinalHeightMM int    `json:"finalHeightMM"`
	Error         string `json:"error,omitempty"`
}

func toMoveResponse(out motion.Outcome) moveResponse {
	return moveResponse{
		Kind:          out.Kind.String(),
		FinalHeightMM: out.FinalHeightMM,
		Error:         out.ErrorString(),
	}
}

func (s *Server) getHeight(c *gin.Context) {
	mm, err := s.desk.CurrentHeight(c.Request.Context())
	if err != nil {
		c.IndentedJSON(http.StatusServiceUnavailable, err.Error())
		_ = c.AbortWithError(http.StatusServiceUnavailable, err)
		return
	}
	c.IndentedJSON(http.StatusOK, gin.H{"heightMM": mm})
}

func (s *Server) move(c *gin.Context) {
	var targetMM int
	if err := c.BindJSON(&targetMM); err != nil {
		c.IndentedJSON(http.StatusBadRequest, err.Error())
		_ = c.AbortWithError(http.StatusBadRequest, err)
		return
	}

	minMM := int(s.conf.MinHeightCM() * 10)
	maxMM := int(s.conf.MaxHeightCM() * 10)
	if targetMM < minMM || targetMM > maxMM {
		err := fmt.Errorf("target must be between %d and %d mm, got %d", minMM, maxMM, targetMM)
		c.IndentedJSON(http.StatusBadRequest, err.Error())
		_ = c.AbortWithError(http.StatusBadRequest, err)
		return
	}

	if !s.runMu.TryLock() {
		c.IndentedJSON(http.StatusConflict, "desk is busy with another run")
		return
	}
	defer s.runMu.Unlock()

	ctx, cancel := context.WithTimeout(c.Request.Context(), moveTimeout)
	defer cancel()

	out, err := s.desk.MoveTo(ctx, targetMM)
	if err != nil {
		c.IndentedJSON(http.StatusInternalServerError, err.Error())
		_ = c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	logrus.WithFields(logrus.Fields{
		"targetMM": targetMM,
		"kind":     out.Kind.String(),
		"finalMM":  out.FinalHeightMM,
	}).Info("move finished")

	c.IndentedJSON(http.StatusOK, toMoveResponse(out))
}

type calibrateRequest struct {
	AroundMM int  `json:"aroundMM"`
	Trials   int  `json:"trials"`
	Persist  bool `json:"persist"`
}

func (s *Server) calibrate(c *gin.Context) {
	req := calibrateRequest{Trials: 3}
	if err := c.BindJSON(&req); err != nil {
		c.IndentedJSON(http.StatusBadRequest, err.Error())
		_ = c.AbortWithError(http.StatusBadRequest, err)
		return
	}

	minMM := int(s.conf.MinHeightCM() * 10)
	maxMM := int(s.conf.MaxHeightCM() * 10)
	if err := motion.ValidateCalibrationRange(req.AroundMM, motion.DefaultStartMarginMM, minMM, maxMM); err != nil {
		c.IndentedJSON(http.StatusBadRequest, err.Error())
		_ = c.AbortWithError(http.StatusBadRequest, err)
		return
	}

	if !s.runMu.TryLock() {
		c.IndentedJSON(http.StatusConflict, "desk is busy with another run")
		return
	}
	defer s.runMu.Unlock()

	ctx, cancel := context.WithTimeout(c.Request.Context(), calibrateTimeout)
	defer cancel()

	res, err := s.desk.Calibrate(ctx, req.AroundMM, req.Trials)
	if err != nil {
		c.IndentedJSON(http.StatusInternalServerError, err.Error())
		_ = c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	if req.Persist {
		backup, err := s.conf.Backup()
		if err != nil {
			c.IndentedJSON(http.StatusInternalServerError, err.Error())
			_ = c.AbortWithError(http.StatusInternalServerError, err)
			return
		}
		if backup != "" {
			logrus.Infof("previous config backed up to %s", backup)
		}

		s.conf.SetTuning(res.ApplyTo(s.conf.Tuning()))
		if err := s.conf.Save(); err != nil {
			logrus.Errorf("saveConfig failed: %v", err)
			c.IndentedJSON(http.StatusInternalServerError, err.Error())
			_ = c.AbortWithError(http.StatusInternalServerError, err)
			return
		}
		logrus.WithFields(logrus.Fields{
			"avgUpMM":   res.AvgOvershootUpMM,
			"avgDownMM": res.AvgOvershootDownMM,
		}).Info("calibration persisted")
	}

	c.IndentedJSON(http.StatusOK, res)
}

func (s *Server) getTuning(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, s.conf.Tuning())
}

func (s *Server) setTuning(c *gin.Context) {
	var t motion.Tuning
	if err := c.BindJSON(&t); err != nil {
		c.IndentedJSON(http.StatusBadRequest, err.Error())
		_ = c.AbortWithError(http.StatusBadRequest, err)
		return
	}
	if err := t.Validate(); err != nil {
		c.IndentedJSON(http.StatusBadRequest, err.Error())
		_ = c.AbortWithError(http.StatusBadRequest, err)
		return
	}

	s.conf.SetTuning(t)
	if err := s.conf.Save(); err != nil {
		logrus.Errorf("saveConfig failed: %v", err)
		c.IndentedJSON(http.StatusInternalServerError, err.Error())
		_ = c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	logrus.Info("tuning replaced")
	c.IndentedJSON(http.StatusOK, t)
}

func (s *Server) getPresets(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, s.conf.Presets())
}

// streamEvents relays hub events as SSE until the client goes away.
func (s *Server) streamEvents(c *gin.Context) {
	ch := s.hub.Subscribe()
	defer s.hub.Unsubscribe(ch)

	// Let proxies know not to buffer us.
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")

	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(ev.Name, string(ev.Data))
			return true
		case <-keepalive.C:
			c.SSEvent("keepalive", "{}")
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
