// Package daemon keeps a BLE session to the desk open and exposes it
// over HTTP on a unix socket. The desk only accepts one central, so the
// daemon is also the gatekeeper that serializes motion runs: exactly one
// move or calibration is active at a time.
package daemon

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"tinygo.org/x/bluetooth"

	"github.com/deskbound/deskctl/pkg/config"
	"github.com/deskbound/deskctl/pkg/desk"
	"github.com/deskbound/deskctl/pkg/events"
	"github.com/deskbound/deskctl/pkg/motion"
)

const (
	// moveTimeout wraps a whole move run; on expiry the loop still stops
	// the desk before reporting timed-out.
	moveTimeout = 90 * time.Second
	// calibrateTimeout wraps a whole calibration run, which makes many
	// moves.
	calibrateTimeout = 10 * time.Minute
)

// Desk is the motion surface the HTTP handlers drive.
type Desk interface {
	MoveTo(ctx context.Context, targetMM int) (motion.Outcome, error)
	Calibrate(ctx context.Context, aroundMM, trials int) (*motion.CalibrationResult, error)
	CurrentHeight(ctx context.Context) (int, error)
}

// Server wires config, the desk session, and the event hub into HTTP
// handlers.
type Server struct {
	conf config.Config
	desk Desk
	hub  *events.Hub

	// runMu serializes motion runs. Handlers TryLock and answer 409
	// instead of queueing: a second move request mid-move is almost
	// always a mistake.
	runMu sync.Mutex
}

// NewServer is used by Run and by handler tests.
func NewServer(conf config.Config, d Desk, hub *events.Hub) *Server {
	return &Server{conf: conf, desk: d, hub: hub}
}

// Handler builds the HTTP routes. Exposed so the daemon can be served
// on any listener the caller provides.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

func (s *Server) setupRoutes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(ginLogger(logrus.StandardLogger()))
	router.GET("/height", s.getHeight)
	router.PUT("/move", s.move)
	router.POST("/calibrate", s.calibrate)
	router.GET("/tuning", s.getTuning)
	router.PUT("/tuning", s.setTuning)
	router.GET("/presets", s.getPresets)
	router.GET("/events", s.streamEvents)

	return router
}

// Run connects to the desk and serves until SIGINT/SIGTERM. The desk is
// stopped on the way out no matter how we exit.
func Run(configPath, socketPath string) error {
	conf, err := config.NewFile(configPath)
	if err != nil {
		logrus.Fatalf("failed to parse config during startup: %v", err)
	}

	// Receive SIGHUP to reload config (tuning changes picked up without
	// dropping the BLE session).
	go func() {
		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, syscall.SIGHUP)
		for range sigc {
			if err := conf.Load(); err != nil {
				logrus.Errorf("failed to reload config: %v", err)
				continue
			}
			logrus.Infof("config reloaded")
		}
	}()

	hub := events.NewHub()
	tracker := desk.NewTracker(0)

	conn, err := desk.Dial(bluetooth.DefaultAdapter, desk.DialOptions{
		Address:    conf.DeviceAddress(),
		WriteUUID:  conf.WriteUUID(),
		NotifyUUID: conf.NotifyUUID(),
		OnReading:  tracker.Publish,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := conn.Close(); err != nil {
			logrus.Errorf("failed to disconnect from desk: %v", err)
		}
	}()

	cmds, err := desk.ParseCommands(conf.Commands())
	if err != nil {
		return err
	}
	ctrl := desk.NewController(conn, cmds)

	// Wake the desk and ask for an initial height so /height answers
	// right away.
	_ = ctrl.Stop()
	_ = ctrl.RequestHeight()

	session := &bleDesk{ctrl: ctrl, tracker: tracker, conf: conf, hub: hub}
	srv := &http.Server{Handler: NewServer(conf, session, hub).setupRoutes()}

	l, err := net.Listen("unix", socketPath)
	if err != nil {
		logrus.Fatal(err)
	}

	go func() {
		logrus.Infof("http server listening on %s", l.Addr().String())
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Fatal(err)
		}
	}()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigc
	logrus.Infof("caught signal \"%s\": shutting down.", sig)

	logrus.Info("shutting down http server")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := srv.Shutdown(ctx); err != nil {
		logrus.Errorf("failed to shutdown http server: %v", err)
	}
	cancel()

	// Never leave the desk mid-motion on exit.
	if err := ctrl.Stop(); err != nil {
		logrus.Errorf("failed to stop desk before exiting: %v", err)
	}

	logrus.Info("exiting")
	return nil
}

// bleDesk adapts the live BLE session to the Desk interface. Loop and
// Calibrator are rebuilt per run so tuning edits (PUT /tuning, SIGHUP)
// take effect without reconnecting.
type bleDesk struct {
	ctrl    *desk.Controller
	tracker *desk.Tracker
	conf    config.Config
	hub     *events.Hub
}

func (d *bleDesk) MoveTo(ctx context.Context, targetMM int) (motion.Outcome, error) {
	loop, err := motion.NewLoop(d.ctrl, d.tracker, d.conf.Tuning())
	if err != nil {
		return motion.Outcome{}, err
	}
	loop.Events = d.hub
	return loop.MoveTo(ctx, targetMM), nil
}

func (d *bleDesk) Calibrate(ctx context.Context, aroundMM, trials int) (*motion.CalibrationResult, error) {
	cal, err := motion.NewCalibrator(d.ctrl, d.tracker, d.conf.Tuning())
	if err != nil {
		return nil, err
	}
	cal.Events = d.hub
	return cal.Run(ctx, aroundMM, trials)
}

func (d *bleDesk) CurrentHeight(ctx context.Context) (int, error) {
	if r, ok := d.tracker.Latest(); ok {
		return r.Millimeters, nil
	}
	if err := d.ctrl.RequestHeight(); err != nil {
		return 0, err
	}
	r, err := d.tracker.WaitForUpdate(ctx, 2*time.Second)
	if err != nil {
		return 0, err
	}
	return r.Millimeters, nil
}
