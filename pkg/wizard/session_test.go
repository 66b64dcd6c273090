package wizard

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/Rivega42/bookcab/pkg/board"
	"github.com/Rivega42/bookcab/pkg/calib"
	"github.com/Rivega42/bookcab/pkg/events"
	"github.com/Rivega42/bookcab/pkg/fault"
	"github.com/Rivega42/bookcab/pkg/motion"
)

func newWizardRig(t *testing.T) (*Session, *sync.Mutex, *motion.Controller, *board.Mock, *calib.Store) {
	t.Helper()

	store, err := calib.NewStore(filepath.Join(t.TempDir(), "calibration.json"))
	if err != nil {
		t.Fatalf("calibration store: %v", err)
	}
	mock := board.NewMock(board.DefaultMockConfig())
	if err := mock.Open(); err != nil {
		t.Fatalf("open mock board: %v", err)
	}

	ctrl := motion.New(mock, store)
	grab := motion.NewGrab(ctrl, store)
	lock := &sync.Mutex{}
	sess := New(lock, ctrl, grab, store, events.NewEventHub())
	return sess, lock, ctrl, mock, store
}

func homeAll(t *testing.T, ctrl *motion.Controller) {
	t.Helper()
	ctx := context.Background()
	for _, a := range []motion.Axis{motion.AxisX, motion.AxisY, motion.AxisTray} {
		if err := ctrl.Home(ctx, a); err != nil {
			t.Fatalf("home %s: %v", a, err)
		}
	}
}

func step(t *testing.T, s *Session, in Input) {
	t.Helper()
	if err := s.Step(context.Background(), in); err != nil {
		t.Fatalf("step %+v: %v", in, err)
	}
}

func TestKinematicsDiscoveryYieldsAxisPureMotion(t *testing.T) {
	sess, lock, ctrl, mock, store := newWizardRig(t)
	ctx := context.Background()

	if err := sess.Start(ctx, ModeKinematics); err != nil {
		t.Fatalf("start: %v", err)
	}

	// The simulated gantry moves up-right on motor A and down-right on
	// motor B, which the operator reports as "up" and "right".
	step(t, sess, Input{Action: "pulse"})
	step(t, sess, Input{Action: "answer", Answer: "up"})
	step(t, sess, Input{Action: "pulse"})
	step(t, sess, Input{Action: "answer", Answer: "right"})

	if got := sess.Status().Mode; got != ModeMenu {
		t.Fatalf("mode after discovery = %q, want menu", got)
	}
	if !lock.TryLock() {
		t.Fatal("mechanism lock still held after discovery")
	}
	lock.Unlock()

	k := store.Snapshot().Kinematics
	want := calib.Kinematics{XPlusDirA: 1, YPlusDirA: 1, XPlusDirB: 1, YPlusDirB: -1}
	if k != want {
		t.Fatalf("kinematics = %+v, want %+v", k, want)
	}

	// The discovered matrix must move each axis independently.
	homeAll(t, ctrl)
	if err := ctrl.Jog(ctx, 0, 300); err != nil {
		t.Fatalf("jog +y: %v", err)
	}
	if x, y := mock.Carriage(); x != 0 || y != 300 {
		t.Errorf("pure +y request moved carriage to (%v,%v)", x, y)
	}
	if err := ctrl.Jog(ctx, 400, 0); err != nil {
		t.Fatalf("jog +x: %v", err)
	}
	if x, y := mock.Carriage(); x != 400 || y != 300 {
		t.Errorf("pure +x request moved carriage to (%v,%v)", x, y)
	}
}

func TestKinematicsRejectsBadAnswer(t *testing.T) {
	sess, _, _, _, _ := newWizardRig(t)
	ctx := context.Background()

	if err := sess.Start(ctx, ModeKinematics); err != nil {
		t.Fatalf("start: %v", err)
	}
	step(t, sess, Input{Action: "pulse"})

	err := sess.Step(ctx, Input{Action: "answer", Answer: "northwest"})
	if !fault.IsKind(err, fault.Validation) {
		t.Fatalf("bad answer: got %v, want validation", err)
	}
	if err := sess.Step(ctx, Input{Action: "pulse"}); !fault.IsKind(err, fault.Validation) {
		t.Fatalf("pulse at answer step: got %v, want validation", err)
	}
}

// jog issues repeated 100-step jogs; amount must be a multiple of 100.
func jog(t *testing.T, s *Session, direction string, amount int) {
	t.Helper()
	for moved := 0; moved < amount; moved += 100 {
		step(t, s, Input{Action: "jog", Direction: direction, StepSize: 100})
	}
}

func TestPoints10CommitsAndInterpolates(t *testing.T) {
	sess, lock, ctrl, _, store := newWizardRig(t)
	ctx := context.Background()
	homeAll(t, ctrl)

	if err := sess.Start(ctx, ModePoints10); err != nil {
		t.Fatalf("start: %v", err)
	}

	// Three column positions.
	xs := []int{100, 300, 500}
	prev := 0
	for _, x := range xs {
		jog(t, sess, "+x", x-prev)
		step(t, sess, Input{Action: "commit"})
		prev = x
	}

	// Six reference rows.
	refs := map[int]int{0: 100, 1: 200, 5: 600, 10: 1100, 15: 1600, 20: 2100}
	prev = 0
	for _, row := range []int{0, 1, 5, 10, 15, 20} {
		jog(t, sess, "+y", refs[row]-prev)
		step(t, sess, Input{Action: "commit"})
		prev = refs[row]
	}

	if got := sess.Status().Mode; got != ModeMenu {
		t.Fatalf("mode after 10 commits = %q, want menu", got)
	}
	if !lock.TryLock() {
		t.Fatal("mechanism lock still held after completion")
	}
	lock.Unlock()

	p := store.Snapshot()
	for i, want := range xs {
		if p.Positions.X[i] != want {
			t.Errorf("positions.x[%d] = %d, want %d", i, p.Positions.X[i], want)
		}
	}
	if len(p.Positions.Y) != calib.Rows {
		t.Fatalf("positions.y has %d entries, want %d", len(p.Positions.Y), calib.Rows)
	}
	for row, want := range refs {
		if p.Positions.Y[row] != want {
			t.Errorf("positions.y[%d] = %d, want %d", row, p.Positions.Y[row], want)
		}
	}
	// Interpolated rows sit on the line between their references.
	if p.Positions.Y[3] != 400 {
		t.Errorf("positions.y[3] = %d, want 400", p.Positions.Y[3])
	}
	if p.Positions.Y[7] != 800 {
		t.Errorf("positions.y[7] = %d, want 800", p.Positions.Y[7])
	}
	for r := 1; r < calib.Rows; r++ {
		if p.Positions.Y[r] <= p.Positions.Y[r-1] {
			t.Fatalf("positions.y not strictly increasing at row %d", r)
		}
	}
}

func TestPoints10RejectsBadJog(t *testing.T) {
	sess, _, ctrl, _, _ := newWizardRig(t)
	ctx := context.Background()
	homeAll(t, ctrl)

	if err := sess.Start(ctx, ModePoints10); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := sess.Step(ctx, Input{Action: "jog", Direction: "+x", StepSize: 42}); !fault.IsKind(err, fault.Validation) {
		t.Fatalf("odd step size: got %v, want validation", err)
	}
	if err := sess.Step(ctx, Input{Action: "jog", Direction: "north", StepSize: 100}); !fault.IsKind(err, fault.Validation) {
		t.Fatalf("bad direction: got %v, want validation", err)
	}
}

func TestBusyExclusion(t *testing.T) {
	sess, lock, _, _, _ := newWizardRig(t)
	ctx := context.Background()

	lock.Lock() // a cabinet operation is running
	if err := sess.Start(ctx, ModeBlocked); !fault.IsKind(err, fault.Busy) {
		t.Fatalf("start while locked: got %v, want busy", err)
	}
	lock.Unlock()

	if err := sess.Start(ctx, ModeBlocked); err != nil {
		t.Fatalf("start: %v", err)
	}
	if lock.TryLock() {
		t.Fatal("mechanism lock free while wizard mode active")
	}

	step(t, sess, Input{Action: "done"})
	if !lock.TryLock() {
		t.Fatal("mechanism lock still held after done")
	}
	lock.Unlock()
}

func TestBlockedToggle(t *testing.T) {
	sess, _, _, _, store := newWizardRig(t)
	ctx := context.Background()

	if err := sess.Start(ctx, ModeBlocked); err != nil {
		t.Fatalf("start: %v", err)
	}
	step(t, sess, Input{Action: "toggle", Side: calib.SideFront, Col: 2, Row: 13})
	if !store.IsBlocked(calib.SideFront, 2, 13) {
		t.Error("cell not blocked after toggle")
	}
	step(t, sess, Input{Action: "toggle", Side: calib.SideFront, Col: 2, Row: 13})
	if store.IsBlocked(calib.SideFront, 2, 13) {
		t.Error("cell still blocked after second toggle")
	}
	step(t, sess, Input{Action: "done"})
}

func TestGrabModeAdjustAndTest(t *testing.T) {
	sess, _, ctrl, mock, store := newWizardRig(t)
	ctx := context.Background()
	homeAll(t, ctrl)

	if err := sess.Start(ctx, ModeGrab); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := sess.Step(ctx, Input{Action: "adjust", Param: "extend1", Delta: 10}); !fault.IsKind(err, fault.Validation) {
		t.Fatalf("adjust before side: got %v, want validation", err)
	}

	step(t, sess, Input{Action: "side", Side: "front"})
	step(t, sess, Input{Action: "adjust", Param: "extend1", Delta: 100})
	if got := store.Snapshot().GrabFront.Extend1; got != 1000 {
		t.Errorf("extend1 after adjust = %d, want 1000", got)
	}
	if err := sess.Step(ctx, Input{Action: "adjust", Param: "extend1", Delta: 7}); !fault.IsKind(err, fault.Validation) {
		t.Fatalf("odd delta: got %v, want validation", err)
	}

	step(t, sess, Input{Action: "test", Param: "extend1"})
	if got := mock.Tray(); got != 1000 {
		t.Errorf("tray at %d during phase test, want 1000", got)
	}

	step(t, sess, Input{Action: "done"})
	if got := mock.Tray(); got != 0 {
		t.Errorf("tray at %d after done, want 0 (arm retracted)", got)
	}
	if got := sess.Status().Mode; got != ModeMenu {
		t.Errorf("mode = %q, want menu", got)
	}
}

func TestQuicktestPassLeavesStateUntouched(t *testing.T) {
	sess, _, ctrl, mock, store := newWizardRig(t)
	ctx := context.Background()
	homeAll(t, ctrl)
	before, err := store.Export()
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	if err := sess.Start(ctx, ModeQuicktest); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := sess.Step(ctx, Input{Action: "run", Side: "front", Col: 1, Row: 3}); !fault.IsKind(err, fault.Validation) {
		t.Fatalf("non-reference row: got %v, want validation", err)
	}

	step(t, sess, Input{Action: "run", Side: "front", Col: 1, Row: 5})
	if got := sess.Status().Result; got != "pass" {
		t.Fatalf("result = %q, want pass", got)
	}
	if got := mock.Tray(); got != 0 {
		t.Errorf("tray at %d after quicktest, want 0", got)
	}

	step(t, sess, Input{Action: "done"})
	after, err := store.Export()
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if string(before) != string(after) {
		t.Error("quicktest altered the stored calibration")
	}
}

func TestModeSwitchForcesCleanExit(t *testing.T) {
	sess, lock, ctrl, mock, _ := newWizardRig(t)
	ctx := context.Background()
	homeAll(t, ctrl)

	if err := sess.Start(ctx, ModeGrab); err != nil {
		t.Fatalf("start grab: %v", err)
	}
	step(t, sess, Input{Action: "side", Side: "back"})
	step(t, sess, Input{Action: "test", Param: "extend1"})
	if mock.Tray() == 0 {
		t.Fatal("arm should be extended before the switch")
	}

	// Switching modes keeps the lock but retracts the arm first.
	if err := sess.Start(ctx, ModeBlocked); err != nil {
		t.Fatalf("switch to blocked: %v", err)
	}
	if got := mock.Tray(); got != 0 {
		t.Errorf("tray at %d after mode switch, want 0", got)
	}
	if lock.TryLock() {
		t.Fatal("mechanism lock released across mode switch")
	}

	if err := sess.Exit(ctx); err != nil {
		t.Fatalf("exit: %v", err)
	}
	if !lock.TryLock() {
		t.Fatal("mechanism lock still held after exit")
	}
	lock.Unlock()
}
