package motion

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/Rivega42/bookcab/pkg/board"
	"github.com/Rivega42/bookcab/pkg/calib"
	"github.com/Rivega42/bookcab/pkg/fault"
)

func newTestRig(t *testing.T) (*Controller, *board.Mock, *calib.Store) {
	t.Helper()

	store, err := calib.NewStore(filepath.Join(t.TempDir(), "calibration.json"))
	if err != nil {
		t.Fatalf("calibration store: %v", err)
	}

	mock := board.NewMock(board.DefaultMockConfig())
	if err := mock.Open(); err != nil {
		t.Fatalf("open mock board: %v", err)
	}

	return New(mock, store), mock, store
}

func homeXY(t *testing.T, c *Controller) {
	t.Helper()
	ctx := context.Background()
	if err := c.Home(ctx, AxisX); err != nil {
		t.Fatalf("home x: %v", err)
	}
	if err := c.Home(ctx, AxisY); err != nil {
		t.Fatalf("home y: %v", err)
	}
}

func TestHomeZeroesAxes(t *testing.T) {
	c, mock, _ := newTestRig(t)
	homeXY(t, c)

	pos := c.Position()
	if pos.X != 0 || pos.Y != 0 {
		t.Errorf("position after homing = %+v, want origin", pos)
	}
	if !c.Homed(AxisX) || !c.Homed(AxisY) {
		t.Error("axes not marked homed")
	}

	x, y := mock.Carriage()
	if x != 0 || y != 0 {
		t.Errorf("simulated carriage at (%v,%v), want origin", x, y)
	}
}

func TestMoveToTracksCalibratedTarget(t *testing.T) {
	c, mock, store := newTestRig(t)
	homeXY(t, c)

	p := store.Snapshot()
	tx, ty := p.Positions.X[1], p.Positions.Y[10]
	if err := c.MoveTo(context.Background(), tx, ty); err != nil {
		t.Fatalf("MoveTo: %v", err)
	}

	pos := c.Position()
	if pos.X != tx || pos.Y != ty {
		t.Errorf("bookkept position = %+v, want (%d,%d)", pos, tx, ty)
	}

	x, y := mock.Carriage()
	if int(x) != tx || int(y) != ty {
		t.Errorf("simulated carriage at (%v,%v), want (%d,%d)", x, y, tx, ty)
	}
}

func TestMoveToOutOfRange(t *testing.T) {
	c, _, store := newTestRig(t)
	homeXY(t, c)

	p := store.Snapshot()
	before := c.Position()

	tests := []struct{ x, y int }{
		{-1, 0},
		{0, -5},
		{p.Positions.X[calib.Columns-1] + 1, 0},
		{0, p.Positions.Y[calib.Rows-1] + 1},
	}
	for _, tt := range tests {
		err := c.MoveTo(context.Background(), tt.x, tt.y)
		if !fault.IsKind(err, fault.OutOfRange) {
			t.Errorf("MoveTo(%d,%d): expected out_of_range, got %v", tt.x, tt.y, err)
		}
		if got := c.Position(); got != before {
			t.Errorf("MoveTo(%d,%d) mutated position: %+v", tt.x, tt.y, got)
		}
	}
}

func TestMoveToRequiresHoming(t *testing.T) {
	c, _, _ := newTestRig(t)

	err := c.MoveTo(context.Background(), 500, 500)
	if !fault.IsKind(err, fault.Validation) {
		t.Errorf("expected validation error before homing, got %v", err)
	}
}

func TestUnexpectedEndstopFaultsAndHomeRecovers(t *testing.T) {
	c, mock, store := newTestRig(t)
	homeXY(t, c)

	mock.Jam(board.MotorA, 40)

	p := store.Snapshot()
	err := c.MoveTo(context.Background(), p.Positions.X[1], p.Positions.Y[5])
	if !fault.IsKind(err, fault.MechanismFault) {
		t.Fatalf("expected mechanism_fault, got %v", err)
	}
	if c.Snapshot().State != StateFaulted {
		t.Fatalf("state = %s, want faulted", c.Snapshot().State)
	}

	// While faulted, positioning is rejected.
	err = c.MoveTo(context.Background(), p.Positions.X[0], p.Positions.Y[0])
	if !fault.IsKind(err, fault.MechanismFault) {
		t.Errorf("expected mechanism_fault while faulted, got %v", err)
	}

	// Homing both planar axes is the recovery path.
	homeXY(t, c)
	if c.Snapshot().State != StateIdle {
		t.Errorf("state after recovery = %s, want idle", c.Snapshot().State)
	}
	if err := c.MoveTo(context.Background(), p.Positions.X[0], p.Positions.Y[0]); err != nil {
		t.Errorf("MoveTo after recovery: %v", err)
	}
}

func TestHomingTimeoutFaults(t *testing.T) {
	c, mock, _ := newTestRig(t)

	// A jam far beyond the budget means the sensor never arrives.
	_ = mock
	store, err := calib.NewStore(filepath.Join(t.TempDir(), "c.json"))
	if err != nil {
		t.Fatal(err)
	}
	// Shrink the budget by shrinking the outer table entries.
	if err := store.SetPositions([]int{10, 20, 30}, monotonic(21, 5, 5)); err != nil {
		t.Fatal(err)
	}
	far := board.NewMock(board.MockConfig{MaxX: 500000, MaxY: 500000, TrayMax: 2200, StartX: 400000, StartY: 400000})
	if err := far.Open(); err != nil {
		t.Fatal(err)
	}
	c = New(far, store)

	homeErr := c.Home(context.Background(), AxisX)
	if !fault.IsKind(homeErr, fault.HardwareTimeout) {
		t.Fatalf("expected hardware_timeout, got %v", homeErr)
	}
	if c.Snapshot().State != StateFaulted {
		t.Errorf("state = %s, want faulted", c.Snapshot().State)
	}
}

func monotonic(n, start, step int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = start + i*step
	}
	return out
}

func TestRunMotorDropsPlanarHoming(t *testing.T) {
	c, _, _ := newTestRig(t)
	homeXY(t, c)

	if err := c.RunMotor(context.Background(), board.MotorA, 50); err != nil {
		t.Fatalf("RunMotor: %v", err)
	}
	if c.Homed(AxisX) || c.Homed(AxisY) {
		t.Error("planar homed flags should drop after a raw motor run")
	}
}

func TestServoStatesUnknownUntilCommanded(t *testing.T) {
	c, mock, store := newTestRig(t)

	st := c.Snapshot()
	if st.Locks[1] != ServoUnknown || st.Shutters[2] != ServoUnknown {
		t.Fatalf("servos should start unknown: %+v", st)
	}

	if err := c.SetLock(1, TargetOpen); err != nil {
		t.Fatalf("SetLock: %v", err)
	}
	if got := c.Snapshot().Locks[1]; got != ServoOpen {
		t.Errorf("lock1 = %s, want open", got)
	}
	if got := mock.ServoAngle(board.ServoLock1); got != store.Snapshot().Servos.Lock1Open {
		t.Errorf("servo angle = %d, want calibrated open angle", got)
	}

	if err := c.SetLock(3, TargetOpen); !fault.IsKind(err, fault.Validation) {
		t.Errorf("lock 3 accepted: %v", err)
	}
	if err := c.SetShutter(1, Target("ajar")); !fault.IsKind(err, fault.Validation) {
		t.Errorf("bad target accepted: %v", err)
	}
}
