package client

import (
	"encoding/json"

	pkgerrors "github.com/pkg/errors"

	"github.com/Rivega42/bookcab/pkg/board"
	"github.com/Rivega42/bookcab/pkg/calib"
	"github.com/Rivega42/bookcab/pkg/cell"
	"github.com/Rivega42/bookcab/pkg/daemon"
	"github.com/Rivega42/bookcab/pkg/motion"
	"github.com/Rivega42/bookcab/pkg/wizard"
)

func (c *Client) GetStatus() (*daemon.StatusResponse, error) {
	var st daemon.StatusResponse
	if err := c.getJSON("/status", &st); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get daemon status")
	}
	return &st, nil
}

func (c *Client) GetPosition() (*motion.Position, error) {
	var pos motion.Position
	if err := c.getJSON("/position", &pos); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get position")
	}
	return &pos, nil
}

func (c *Client) GetSensors() (*board.EndstopState, error) {
	var es board.EndstopState
	if err := c.getJSON("/sensors", &es); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get sensors")
	}
	return &es, nil
}

func (c *Client) GetDiagnostics() (*daemon.DiagnosticsResponse, error) {
	var diag daemon.DiagnosticsResponse
	if err := c.getJSON("/diagnostics", &diag); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get diagnostics")
	}
	return &diag, nil
}

func (c *Client) GetVersion() (string, error) {
	var v struct {
		Version   string `json:"version"`
		GitCommit string `json:"gitCommit"`
	}
	if err := c.getJSON("/version", &v); err != nil {
		return "", pkgerrors.Wrapf(err, "failed to get version")
	}
	if v.GitCommit != "" {
		return v.Version + " (" + v.GitCommit + ")", nil
	}
	return v.Version, nil
}

func (c *Client) GetCalibration() (*calib.Profile, error) {
	var p calib.Profile
	if err := c.getJSON("/calibration", &p); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get calibration")
	}
	return &p, nil
}

func (c *Client) SetCalibration(p calib.Profile) error {
	b, err := json.Marshal(p)
	if err != nil {
		return err
	}
	if _, err := c.put("/calibration", string(b)); err != nil {
		return pkgerrors.Wrapf(err, "failed to replace calibration")
	}
	return nil
}

func (c *Client) ResetCalibration() error {
	if _, err := c.post("/calibration/reset", ""); err != nil {
		return pkgerrors.Wrapf(err, "failed to reset calibration")
	}
	return nil
}

func (c *Client) ExportCalibration() ([]byte, error) {
	body, err := c.get("/calibration/export")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to export calibration")
	}
	return []byte(body), nil
}

func (c *Client) WizardStatus() (*wizard.Status, error) {
	var st wizard.Status
	if err := c.getJSON("/wizard", &st); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get wizard state")
	}
	return &st, nil
}

func (c *Client) WizardStart(mode string) (*wizard.Status, error) {
	var st wizard.Status
	if err := c.postJSON("/wizard/"+mode, nil, &st); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to start wizard mode %s", mode)
	}
	return &st, nil
}

func (c *Client) WizardStep(in wizard.Input) (*wizard.Status, error) {
	var st wizard.Status
	if err := c.postJSON("/wizard/step", in, &st); err != nil {
		return nil, pkgerrors.Wrapf(err, "wizard step failed")
	}
	return &st, nil
}

func (c *Client) WizardExit() (*wizard.Status, error) {
	var st wizard.Status
	if err := c.postJSON("/wizard/exit", nil, &st); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to exit wizard")
	}
	return &st, nil
}

func (c *Client) ToggleBlocked(side string, col, row int) (bool, error) {
	req := map[string]any{"side": side, "col": col, "row": row}
	var resp struct {
		Blocked bool `json:"blocked"`
	}
	if err := c.postJSON("/blocked", req, &resp); err != nil {
		return false, pkgerrors.Wrapf(err, "failed to toggle blocked cell")
	}
	return resp.Blocked, nil
}

func (c *Client) GetCells() ([]cell.State, error) {
	var cells []cell.State
	if err := c.getJSON("/cells", &cells); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to list cells")
	}
	return cells, nil
}

func (c *Client) GetExtractionList() ([]cell.State, error) {
	var cells []cell.State
	if err := c.getJSON("/cells/extraction", &cells); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get extraction list")
	}
	return cells, nil
}

func (c *Client) Home() (*motion.Position, error) {
	var pos motion.Position
	if err := c.postJSON("/home", nil, &pos); err != nil {
		return nil, pkgerrors.Wrapf(err, "homing failed")
	}
	return &pos, nil
}

// Issue stores a book and returns the cell it landed in.
func (c *Client) Issue(book, user string) (string, error) {
	req := map[string]string{"book": book, "user": user}
	var resp struct {
		Cell string `json:"cell"`
	}
	if err := c.postJSON("/issue", req, &resp); err != nil {
		return "", pkgerrors.Wrapf(err, "failed to issue book %s", book)
	}
	return resp.Cell, nil
}

// Return hands a stored book back and returns the cell it came from.
func (c *Client) Return(book string) (string, error) {
	req := map[string]string{"book": book}
	var resp struct {
		Cell string `json:"cell"`
	}
	if err := c.postJSON("/return", req, &resp); err != nil {
		return "", pkgerrors.Wrapf(err, "failed to return book %s", book)
	}
	return resp.Cell, nil
}

func (c *Client) Extract(address string) error {
	req := map[string]string{"address": address}
	if err := c.postJSON("/extract", req, nil); err != nil {
		return pkgerrors.Wrapf(err, "failed to extract cell %s", address)
	}
	return nil
}

func (c *Client) ExtractAll() (*daemon.BatchResult, error) {
	var res daemon.BatchResult
	if err := c.postJSON("/extract-all", nil, &res); err != nil {
		return nil, pkgerrors.Wrapf(err, "extract-all failed")
	}
	return &res, nil
}

func (c *Client) RunInventory() (*daemon.InventoryResult, error) {
	var res daemon.InventoryResult
	if err := c.postJSON("/inventory", nil, &res); err != nil {
		return nil, pkgerrors.Wrapf(err, "inventory run failed")
	}
	return &res, nil
}

func (c *Client) TestMotor(motor string, steps int) (*motion.Position, error) {
	req := map[string]any{"motor": motor, "steps": steps}
	var pos motion.Position
	if err := c.postJSON("/test/motor", req, &pos); err != nil {
		return nil, pkgerrors.Wrapf(err, "motor test failed")
	}
	return &pos, nil
}

func (c *Client) TestLock(which int, target string) error {
	req := map[string]any{"which": which, "target": target}
	if err := c.postJSON("/test/lock", req, nil); err != nil {
		return pkgerrors.Wrapf(err, "lock test failed")
	}
	return nil
}

func (c *Client) TestShutter(which int, target string) error {
	req := map[string]any{"which": which, "target": target}
	if err := c.postJSON("/test/shutter", req, nil); err != nil {
		return pkgerrors.Wrapf(err, "shutter test failed")
	}
	return nil
}
