package motion

import (
	"context"
	"testing"

	"github.com/Rivega42/bookcab/pkg/board"
	"github.com/Rivega42/bookcab/pkg/calib"
	"github.com/Rivega42/bookcab/pkg/fault"
)

func TestGrabEngageEndsRetracted(t *testing.T) {
	c, mock, store := newTestRig(t)
	ctx := context.Background()
	if err := c.Home(ctx, AxisTray); err != nil {
		t.Fatalf("home tray: %v", err)
	}

	g := NewGrab(c, store)
	if err := g.Engage(ctx, calib.SideFront); err != nil {
		t.Fatalf("engage: %v", err)
	}

	if got := mock.Tray(); got != 0 {
		t.Errorf("tray at %d after engage, want 0", got)
	}
	if got := c.Position().Tray; got != 0 {
		t.Errorf("bookkept tray at %d after engage, want 0", got)
	}
	if st := c.Snapshot().State; st != StateIdle {
		t.Errorf("state = %q after engage, want idle", st)
	}
}

func TestGrabUnknownSideRejected(t *testing.T) {
	c, _, store := newTestRig(t)
	g := NewGrab(c, store)

	err := g.Engage(context.Background(), "left")
	if !fault.IsKind(err, fault.Validation) {
		t.Fatalf("engage unknown side: got %v, want validation", err)
	}
}

func TestGrabRequiresHomedTray(t *testing.T) {
	c, _, store := newTestRig(t)
	g := NewGrab(c, store)

	err := g.Engage(context.Background(), calib.SideFront)
	if !fault.IsKind(err, fault.Validation) {
		t.Fatalf("engage without homing: got %v, want validation", err)
	}
}

func TestGrabJamRetractsAndSurfacesFault(t *testing.T) {
	c, mock, store := newTestRig(t)
	ctx := context.Background()
	if err := c.Home(ctx, AxisTray); err != nil {
		t.Fatalf("home tray: %v", err)
	}

	g := NewGrab(c, store)
	mock.Jam(board.MotorTray, 40)

	err := g.Engage(ctx, calib.SideFront)
	if !fault.IsKind(err, fault.MechanismFault) {
		t.Fatalf("jammed engage: got %v, want mechanism_fault", err)
	}

	// Recovery pulls the arm back to the begin sensor and re-zeroes the axis.
	if got := mock.Tray(); got != 0 {
		t.Errorf("tray at %d after jam recovery, want 0", got)
	}
	if !c.Homed(AxisTray) {
		t.Error("tray not re-homed by recovery retract")
	}
	if st := c.Snapshot().State; st != StateIdle {
		t.Errorf("state = %q after recovery, want idle", st)
	}
}

func TestGrabTestPhaseLeavesArmExtended(t *testing.T) {
	c, mock, store := newTestRig(t)
	ctx := context.Background()
	if err := c.Home(ctx, AxisTray); err != nil {
		t.Fatalf("home tray: %v", err)
	}

	g := NewGrab(c, store)
	if err := g.TestPhase(ctx, calib.SideBack, calib.GrabExtend1); err != nil {
		t.Fatalf("test phase: %v", err)
	}

	want := store.Snapshot().GrabBack.Extend1
	if got := mock.Tray(); got != want {
		t.Errorf("tray at %d after test phase, want %d", got, want)
	}

	if err := g.Retract(ctx); err != nil {
		t.Fatalf("retract: %v", err)
	}
	if got := mock.Tray(); got != 0 {
		t.Errorf("tray at %d after retract, want 0", got)
	}
}
