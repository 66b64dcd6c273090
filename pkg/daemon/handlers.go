package daemon

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/Rivega42/bookcab/pkg/board"
	"github.com/Rivega42/bookcab/pkg/calib"
	"github.com/Rivega42/bookcab/pkg/cell"
	"github.com/Rivega42/bookcab/pkg/events"
	"github.com/Rivega42/bookcab/pkg/fault"
	"github.com/Rivega42/bookcab/pkg/motion"
	"github.com/Rivega42/bookcab/pkg/version"
	"github.com/Rivega42/bookcab/pkg/wizard"
)

// APIError is the wire shape of every non-2xx response body. The client
// reconstructs the fault kind from it.
type APIError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func httpStatus(err error) int {
	switch fault.KindOf(err) {
	case fault.Validation, fault.OutOfRange:
		return http.StatusBadRequest
	case fault.Busy:
		return http.StatusConflict
	case fault.NotFound:
		return http.StatusNotFound
	case fault.HardwareTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func abortErr(c *gin.Context, err error) {
	status := httpStatus(err)
	c.IndentedJSON(status, APIError{Kind: string(fault.KindOf(err)), Message: err.Error()})
	_ = c.AbortWithError(status, err)
}

func bindJSON(c *gin.Context, v any) bool {
	if err := c.BindJSON(v); err != nil {
		abortErr(c, fault.New(fault.Validation, "bad request body: %v", err))
		return false
	}
	return true
}

// StatusResponse is the GET /status payload.
type StatusResponse struct {
	Version  string        `json:"version"`
	Motion   motion.Status `json:"motion"`
	Busy     bool          `json:"busy"`
	Degraded bool          `json:"degraded"`
	Wizard   wizard.Status `json:"wizard"`
}

func (d *Daemon) getStatus(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, StatusResponse{
		Version:  version.Version,
		Motion:   d.ctrl.Snapshot(),
		Busy:     d.orch.Busy(),
		Degraded: d.orch.Degraded(),
		Wizard:   d.wiz.Status(),
	})
}

func (d *Daemon) getPosition(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, d.ctrl.Position())
}

func (d *Daemon) getSensors(c *gin.Context) {
	es, err := d.ctrl.Sensors()
	if err != nil {
		abortErr(c, err)
		return
	}
	d.publishSensorChange(es)
	c.IndentedJSON(http.StatusOK, es)
}

// DiagnosticsResponse is the GET /diagnostics payload.
type DiagnosticsResponse struct {
	Mock     bool          `json:"mock"`
	Motion   motion.Status `json:"motion"`
	Counters Counters      `json:"counters"`
	NextRun  string        `json:"nextInventory,omitempty"`
}

func (d *Daemon) getDiagnostics(c *gin.Context) {
	resp := DiagnosticsResponse{
		Mock:     d.opts.Mock,
		Motion:   d.ctrl.Snapshot(),
		Counters: d.orch.Counters(),
	}
	if d.sched != nil {
		resp.NextRun = d.sched.NextRun().String()
	}
	c.IndentedJSON(http.StatusOK, resp)
}

func (d *Daemon) getVersion(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, gin.H{
		"version":   version.Version,
		"gitCommit": version.GitCommit,
	})
}

func (d *Daemon) getCalibration(c *gin.Context) {
	p := d.store.Snapshot()
	c.IndentedJSON(http.StatusOK, p)
}

func (d *Daemon) putCalibration(c *gin.Context) {
	var p calib.Profile
	if !bindJSON(c, &p) {
		return
	}
	if err := d.store.Replace(p); err != nil {
		abortErr(c, err)
		return
	}
	logrus.Info("calibration replaced")
	c.IndentedJSON(http.StatusCreated, "ok")
}

func (d *Daemon) resetCalibration(c *gin.Context) {
	if err := d.store.Reset(); err != nil {
		abortErr(c, err)
		return
	}
	logrus.Info("calibration reset to defaults")
	c.IndentedJSON(http.StatusCreated, "ok")
}

func (d *Daemon) exportCalibration(c *gin.Context) {
	b, err := d.store.Export()
	if err != nil {
		abortErr(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json", b)
}

func (d *Daemon) getWizard(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, d.wiz.Status())
}

func (d *Daemon) postWizard(c *gin.Context) {
	switch mode := c.Param("mode"); mode {
	case "step":
		var in wizard.Input
		if !bindJSON(c, &in) {
			return
		}
		if err := d.wiz.Step(c.Request.Context(), in); err != nil {
			abortErr(c, err)
			return
		}
	case "exit":
		if err := d.wiz.Exit(c.Request.Context()); err != nil {
			abortErr(c, err)
			return
		}
	default:
		if err := d.wiz.Start(c.Request.Context(), wizard.Mode(mode)); err != nil {
			abortErr(c, err)
			return
		}
	}
	c.IndentedJSON(http.StatusCreated, d.wiz.Status())
}

func (d *Daemon) toggleBlocked(c *gin.Context) {
	var req struct {
		Side string `json:"side"`
		Col  int    `json:"col"`
		Row  int    `json:"row"`
	}
	if !bindJSON(c, &req) {
		return
	}
	blocked, err := d.store.ToggleBlocked(req.Side, req.Col, req.Row)
	if err != nil {
		abortErr(c, err)
		return
	}
	c.IndentedJSON(http.StatusCreated, gin.H{"blocked": blocked})
}

func (d *Daemon) getCells(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, d.inv.List())
}

func (d *Daemon) getExtractionList(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, d.inv.ExtractionList())
}

func (d *Daemon) postHome(c *gin.Context) {
	if err := d.orch.HomeAll(c.Request.Context()); err != nil {
		abortErr(c, err)
		return
	}
	c.IndentedJSON(http.StatusCreated, d.ctrl.Position())
}

func (d *Daemon) postIssue(c *gin.Context) {
	var req struct {
		Book string `json:"book"`
		User string `json:"user"`
	}
	if !bindJSON(c, &req) {
		return
	}
	addr, err := d.orch.Issue(c.Request.Context(), req.Book, req.User)
	if err != nil {
		abortErr(c, err)
		return
	}
	c.IndentedJSON(http.StatusCreated, gin.H{"cell": addr.String()})
}

func (d *Daemon) postReturn(c *gin.Context) {
	var req struct {
		Book string `json:"book"`
	}
	if !bindJSON(c, &req) {
		return
	}
	addr, err := d.orch.Return(c.Request.Context(), req.Book)
	if err != nil {
		abortErr(c, err)
		return
	}
	c.IndentedJSON(http.StatusCreated, gin.H{"cell": addr.String()})
}

func (d *Daemon) postExtract(c *gin.Context) {
	var req struct {
		Address string `json:"address"`
	}
	if !bindJSON(c, &req) {
		return
	}
	addr, err := cell.ParseAddress(req.Address)
	if err != nil {
		abortErr(c, err)
		return
	}
	if err := d.orch.ExtractCell(c.Request.Context(), addr); err != nil {
		abortErr(c, err)
		return
	}
	c.IndentedJSON(http.StatusCreated, "ok")
}

func (d *Daemon) postExtractAll(c *gin.Context) {
	res, err := d.orch.ExtractAll(c.Request.Context())
	if err != nil {
		abortErr(c, err)
		return
	}
	c.IndentedJSON(http.StatusCreated, res)
}

func (d *Daemon) postInventory(c *gin.Context) {
	res, err := d.orch.RunInventory(c.Request.Context())
	if err != nil {
		abortErr(c, err)
		return
	}
	c.IndentedJSON(http.StatusCreated, res)
}

func (d *Daemon) testMotor(c *gin.Context) {
	var req struct {
		Motor string `json:"motor"`
		Steps int    `json:"steps"`
	}
	if !bindJSON(c, &req) {
		return
	}
	m := board.Motor(req.Motor)
	if m != board.MotorA && m != board.MotorB && m != board.MotorTray {
		abortErr(c, fault.New(fault.Validation, "unknown motor %q", req.Motor))
		return
	}
	if err := d.ctrl.RunMotor(c.Request.Context(), m, req.Steps); err != nil {
		abortErr(c, err)
		return
	}
	c.IndentedJSON(http.StatusCreated, d.ctrl.Position())
}

func (d *Daemon) testLock(c *gin.Context) {
	var req struct {
		Which  int    `json:"which"`
		Target string `json:"target"`
	}
	if !bindJSON(c, &req) {
		return
	}
	if err := d.ctrl.SetLock(req.Which, motion.Target(req.Target)); err != nil {
		abortErr(c, err)
		return
	}
	c.IndentedJSON(http.StatusCreated, "ok")
}

func (d *Daemon) testShutter(c *gin.Context) {
	var req struct {
		Which  int    `json:"which"`
		Target string `json:"target"`
	}
	if !bindJSON(c, &req) {
		return
	}
	if err := d.ctrl.SetShutter(req.Which, motion.Target(req.Target)); err != nil {
		abortErr(c, err)
		return
	}
	c.IndentedJSON(http.StatusCreated, "ok")
}

// publishSensorChange emits a sensors event when the endstop snapshot
// differs from the previously observed one.
func (d *Daemon) publishSensorChange(es board.EndstopState) {
	d.sensorMu.Lock()
	changed := es != d.lastSensors
	d.lastSensors = es
	d.sensorMu.Unlock()
	if changed {
		d.hub.Publish(events.Sensors, events.SensorsEvent{
			XBegin:    es.XBegin,
			YBegin:    es.YBegin,
			TrayBegin: es.TrayBegin,
			TrayEnd:   es.TrayEnd,
		})
	}
}
