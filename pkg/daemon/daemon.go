// Package daemon runs the cabinet controller: it owns the board link, the
// motion stack, the inventory and the calibration store, and exposes them
// over an HTTP API on a unix socket.
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

	"github.com/Rivega42/bookcab/pkg/board"
	"github.com/Rivega42/bookcab/pkg/calib"
	"github.com/Rivega42/bookcab/pkg/cell"
	"github.com/Rivega42/bookcab/pkg/events"
	"github.com/Rivega42/bookcab/pkg/motion"
	"github.com/Rivega42/bookcab/pkg/wizard"
)

// Options configure a daemon instance.
type Options struct {
	SocketPath      string
	CalibrationPath string
	InventoryPath   string
	SerialPort      string
	Baud            int
	Mock            bool
	AllowNonRoot    bool
	InventoryCron   string
}

// Daemon wires the cabinet components together behind the HTTP surface.
type Daemon struct {
	opts  Options
	board board.Board
	store *calib.Store
	inv   *cell.Inventory
	ctrl  *motion.Controller
	grab  *motion.Grab
	hub   *events.EventHub
	orch  *Orchestrator
	wiz   *wizard.Session
	sched *Scheduler

	sensorMu    sync.Mutex
	lastSensors board.EndstopState
}

// New builds the full component stack. With opts.Mock the board is the
// in-process simulator instead of the serial link.
func New(opts Options) (*Daemon, error) {
	var b board.Board
	if opts.Mock {
		b = board.NewMock(board.DefaultMockConfig())
	} else {
		b = board.NewSerial(opts.SerialPort, opts.Baud)
	}
	if err := b.Open(); err != nil {
		return nil, err
	}

	store, err := calib.NewStore(opts.CalibrationPath)
	if err != nil {
		return nil, err
	}
	inv, err := cell.NewInventory(opts.InventoryPath)
	if err != nil {
		return nil, err
	}

	ctrl := motion.New(b, store)
	grab := motion.NewGrab(ctrl, store)
	hub := events.NewEventHub()
	mech := &mechLock{}
	orch := NewOrchestrator(mech, ctrl, grab, store, inv, hub)
	wiz := wizard.New(mech, ctrl, grab, store, hub)

	d := &Daemon{
		opts:  opts,
		board: b,
		store: store,
		inv:   inv,
		ctrl:  ctrl,
		grab:  grab,
		hub:   hub,
		orch:  orch,
		wiz:   wiz,
	}

	if opts.InventoryCron != "" {
		sched, err := NewScheduler(opts.InventoryCron, orch, hub)
		if err != nil {
			return nil, err
		}
		d.sched = sched
	}
	return d, nil
}

func (d *Daemon) setupRoutes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(ginLogger(logrus.StandardLogger()))

	router.GET("/status", d.getStatus)
	router.GET("/position", d.getPosition)
	router.GET("/sensors", d.getSensors)
	router.GET("/diagnostics", d.getDiagnostics)
	router.GET("/version", d.getVersion)

	router.GET("/calibration", d.getCalibration)
	router.PUT("/calibration", d.putCalibration)
	router.POST("/calibration/reset", d.resetCalibration)
	router.GET("/calibration/export", d.exportCalibration)

	router.GET("/wizard", d.getWizard)
	// "step" and "exit" are reserved pseudo-modes on the same route.
	router.POST("/wizard/:mode", d.postWizard)
	router.POST("/blocked", d.toggleBlocked)

	router.GET("/cells", d.getCells)
	router.GET("/cells/extraction", d.getExtractionList)

	router.POST("/home", d.postHome)
	router.POST("/issue", d.postIssue)
	router.POST("/return", d.postReturn)
	router.POST("/extract", d.postExtract)
	router.POST("/extract-all", d.postExtractAll)
	router.POST("/inventory", d.postInventory)

	router.POST("/test/motor", d.testMotor)
	router.POST("/test/lock", d.testLock)
	router.POST("/test/shutter", d.testShutter)

	router.GET("/events", d.serveEvents)

	return router
}

// Run serves until SIGINT/SIGTERM. SIGHUP reloads the calibration document
// from disk.
func (d *Daemon) Run() error {
	router := d.setupRoutes()

	go func() {
		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, syscall.SIGHUP)
		for range sigc {
			if err := d.store.Load(); err != nil {
				logrus.Errorf("failed to reload calibration: %v", err)
				continue
			}
			logrus.Info("calibration reloaded")
		}
	}()

	srv := &http.Server{Handler: router}

	l, err := net.Listen("unix", d.opts.SocketPath)
	if err != nil {
		return err
	}

	if d.opts.AllowNonRoot {
		logrus.Infof("non-root access is allowed, changing permissions of %s to 0777", d.opts.SocketPath)
		if err := os.Chmod(d.opts.SocketPath, 0777); err != nil {
			return err
		}
	}

	go func() {
		logrus.Infof("http server listening on %s", l.Addr().String())
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Fatal(err)
		}
	}()

	if d.sched != nil {
		d.sched.Start()
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigc
	logrus.Infof("caught signal %q: shutting down", sig)

	if d.sched != nil {
		d.sched.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := srv.Shutdown(ctx); err != nil {
		logrus.Errorf("failed to shutdown http server: %v", err)
	}
	cancel()

	if err := d.ctrl.Halt(); err != nil {
		logrus.Errorf("failed to halt motors: %v", err)
	}
	if err := d.board.Close(); err != nil {
		logrus.Errorf("failed to close board link: %v", err)
	}

	logrus.Info("exiting")
	return nil
}
