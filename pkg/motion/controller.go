package motion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Rivega42/bookcab/pkg/board"
	"github.com/Rivega42/bookcab/pkg/calib"
	"github.com/Rivega42/bookcab/pkg/fault"
)

// State of the motion controller.
type State string

const (
	StateIdle       State = "idle"
	StateHoming     State = "homing"
	StateMoving     State = "moving"
	StateTrayMoving State = "tray_moving"
	StateFaulted    State = "faulted"
)

// Axis names the three homable axes.
type Axis string

const (
	AxisX    Axis = "x"
	AxisY    Axis = "y"
	AxisTray Axis = "tray"
)

// Position is the live absolute step position. Valid only for axes that
// have been homed this session.
type Position struct {
	X    int `json:"x"`
	Y    int `json:"y"`
	Tray int `json:"tray"`
}

// ServoState models fire-and-confirm servo outputs: unknown until the first
// successful command of the session.
type ServoState string

const (
	ServoOpen    ServoState = "open"
	ServoClosed  ServoState = "closed"
	ServoUnknown ServoState = "unknown"
)

// Target for a lock or shutter command.
type Target string

const (
	TargetOpen   Target = "open"
	TargetClosed Target = "closed"
)

const (
	homingSpeed = 250 // steps/s, fixed and slow on purpose
	homingChunk = 128 // steps per pulse train while hunting for a sensor
	moveChunk   = 256 // steps per interleaved A/B pulse train

	// Extra travel allowed beyond the calibrated outer position before a
	// missing sensor is declared a hardware timeout.
	homingSlackXY   = 2500
	homingSlackTray = 600

	// Budget for the best-effort retract after a failed grab phase.
	trayRecoverBudget = 30 * time.Second

	// Shutters have no per-cabinet tuning; the linkage geometry is fixed.
	shutterOpenAngle  = 10
	shutterCloseAngle = 100
)

// Controller owns the live motor position and executes homing, bounded
// point-to-point moves and tray motion against the board. One operation runs
// at a time (the orchestrator's mechanism lock serializes callers; the
// controller still rejects overlap with busy). Status reads never block on a
// running operation.
type Controller struct {
	opMu sync.Mutex // held for the whole duration of one physical operation

	board board.Board
	store *calib.Store

	stateMu   sync.RWMutex // guards everything below
	state     State
	pos       Position
	homed     map[Axis]bool
	faulted   map[Axis]bool
	locks     map[int]ServoState
	shutters  map[int]ServoState
	lastFault string
}

// New returns an idle controller. Nothing is homed and all servos are
// unknown until commanded.
func New(b board.Board, store *calib.Store) *Controller {
	return &Controller{
		board:    b,
		store:    store,
		state:    StateIdle,
		homed:    map[Axis]bool{},
		faulted:  map[Axis]bool{},
		locks:    map[int]ServoState{1: ServoUnknown, 2: ServoUnknown},
		shutters: map[int]ServoState{1: ServoUnknown, 2: ServoUnknown},
	}
}

// Status is a consistent snapshot of the controller.
type Status struct {
	State     State              `json:"state"`
	Position  Position           `json:"position"`
	Homed     map[Axis]bool      `json:"homed"`
	Locks     map[int]ServoState `json:"locks"`
	Shutters  map[int]ServoState `json:"shutters"`
	LastFault string             `json:"lastFault,omitempty"`
}

// Snapshot never blocks on a running operation.
func (c *Controller) Snapshot() Status {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()

	st := Status{
		State:     c.state,
		Position:  c.pos,
		Homed:     map[Axis]bool{},
		Locks:     map[int]ServoState{},
		Shutters:  map[int]ServoState{},
		LastFault: c.lastFault,
	}
	for k, v := range c.homed {
		st.Homed[k] = v
	}
	for k, v := range c.locks {
		st.Locks[k] = v
	}
	for k, v := range c.shutters {
		st.Shutters[k] = v
	}
	return st
}

// Position returns the live position snapshot.
func (c *Controller) Position() Position {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.pos
}

// Sensors reads the limit sensors. Safe concurrently with a move.
func (c *Controller) Sensors() (board.EndstopState, error) {
	return c.board.Endstops()
}

// Homed reports whether the given axis has a trusted zero.
func (c *Controller) Homed(axis Axis) bool {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.homed[axis]
}

// Halt stops all drivers immediately (shutdown path).
func (c *Controller) Halt() error {
	return c.board.Halt()
}

func (c *Controller) setState(s State) {
	c.stateMu.Lock()
	c.state = s
	c.stateMu.Unlock()
}

func (c *Controller) isFaulted() bool {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return len(c.faulted) > 0
}

// beginOp acquires the operation slot. Home may start while faulted (it is
// the recovery path); everything else is rejected with mechanism_fault.
func (c *Controller) beginOp(s State, allowFaulted bool) error {
	if !c.opMu.TryLock() {
		return fault.New(fault.Busy, "motion controller busy")
	}
	if !allowFaulted && c.isFaulted() {
		c.opMu.Unlock()
		return fault.New(fault.MechanismFault, "motion controller faulted, home the affected axis first")
	}
	if !c.isFaulted() {
		c.setState(s)
	}
	return nil
}

// endOp releases the operation slot, restoring idle unless faulted.
func (c *Controller) endOp() {
	c.stateMu.Lock()
	if len(c.faulted) > 0 {
		c.state = StateFaulted
	} else {
		c.state = StateIdle
	}
	c.stateMu.Unlock()
	c.opMu.Unlock()
}

/// fail records a fault on the given axes: their zeros are no longer trusted
// and every positioning operation is rejected until they are re-homed.
func (c *Controller) fail(reason string, axes ...Axis) {
	c.stateMu.Lock()
	for _, a := range axes {
		c.faulted[a] = true
		delete(c.homed, a)
	}
	c.lastFault = reason
	c.stateMu.Unlock()

	logrus.WithField("axes", axes).Errorf("motion fault: %s", reason)
}

func (c *Controller) clearFault(axis Axis) {
	c.stateMu.Lock()
	delete(c.faulted, axis)
	if len(c.faulted) == 0 {
		c.lastFault = ""
	}
	c.stateMu.Unlock()
}

func minAbs(v, limit int) int {
	if v < 0 {
		if -v < limit {
			return v
		}
		return -limit
	}
	if v < limit {
		return v
	}
	return limit
}

// xyChunk drives one coordinated (dx, dy) slice through both motors and
// updates the position by what actually moved. estop reports whether a limit
// sensor cut the train short.
func (c *Controller) xyChunk(k calib.Kinematics, dx, dy int) (estop bool, err error) {
	deltaA, deltaB := ToMotorSteps(k, dx, dy)

	movedA, movedB, err := c.board.MoveXY(deltaA, deltaB)

	gotDX, gotDY, invErr := ToXY(k, movedA, movedB)
	if invErr == nil {
		c.stateMu.Lock()
		c.pos.X += int(gotDX)
		c.pos.Y += int(gotDY)
		c.stateMu.Unlock()
	}

	if err != nil {
		if errors.Is(err, board.ErrEndstop) {
			return true, nil
		}
		return false, err
	}
	return false, nil
}

// Home drives the axis toward its begin sensor at the fixed homing speed,
// zeroes the axis on trigger and clears any fault on it. Missing the sensor
// within the travel budget is a hardware timeout and faults the axis.
func (c *Controller) Home(ctx context.Context, axis Axis) error {
	if axis != AxisX && axis != AxisY && axis != AxisTray {
		return fault.New(fault.Validation, "unknown axis %q", axis)
	}
	if err := c.beginOp(StateHoming, true); err != nil {
		return err
	}
	defer c.endOp()
	c.setState(StateHoming)

	if err := c.board.SetSpeed(homingSpeed); err != nil {
		return err
	}

	p := c.store.Snapshot()
	if axis == AxisTray {
		return c.homeTray(ctx)
	}

	budget := p.Positions.X[calib.Columns-1] + homingSlackXY
	if axis == AxisY {
		budget = p.Positions.Y[calib.Rows-1] + homingSlackXY
	}

	traveled := 0
	for traveled <= budget {
		if err := ctx.Err(); err != nil {
			return err
		}

		es, err := c.board.Endstops()
		if err != nil {
			c.fail(fmt.Sprintf("sensor read while homing %s: %v", axis, err), axis)
			return fault.New(fault.MechanismFault, "homing %s: %v", axis, err)
		}
		hit := es.XBegin
		if axis == AxisY {
			hit = es.YBegin
		}
		if hit {
			c.stateMu.Lock()
			if axis == AxisX {
				c.pos.X = 0
			} else {
				c.pos.Y = 0
			}
			c.homed[axis] = true
			c.stateMu.Unlock()
			c.clearFault(axis)
			logrus.WithField("axis", axis).Info("axis homed")
			return nil
		}

		dx, dy := -homingChunk, 0
		if axis == AxisY {
			dx, dy = 0, -homingChunk
		}
		if _, err := c.xyChunk(p.Kinematics, dx, dy); err != nil {
			c.fail(fmt.Sprintf("board error while homing %s: %v", axis, err), axis)
			return fault.New(fault.MechanismFault, "homing %s: %v", axis, err)
		}
		traveled += homingChunk
	}

	c.fail(fmt.Sprintf("begin sensor of %s not reached within %d steps", axis, budget), axis)
	return fault.New(fault.HardwareTimeout, "homing %s: begin sensor not reached within %d steps", axis, budget)
}

func (c *Controller) homeTray(ctx context.Context) error {
	if err := c.board.SetSpeed(homingSpeed); err != nil {
		return err
	}

	p := c.store.Snapshot()
	budget := p.GrabFront.Extend2 + p.GrabBack.Extend2 + homingSlackTray

	traveled := 0
	for traveled <= budget {
		if err := ctx.Err(); err != nil {
			return err
		}

		es, err := c.board.Endstops()
		if err != nil {
			c.fail(fmt.Sprintf("sensor read while homing tray: %v", err), AxisTray)
			return fault.New(fault.MechanismFault, "homing tray: %v", err)
		}
		if es.TrayBegin {
			c.stateMu.Lock()
			c.pos.Tray = 0
			c.homed[AxisTray] = true
			c.stateMu.Unlock()
			c.clearFault(AxisTray)
			logrus.Info("tray homed")
			return nil
		}

		moved, err := c.board.Move(board.MotorTray, -homingChunk)
		if err != nil && !errors.Is(err, board.ErrEndstop) {
			c.fail(fmt.Sprintf("board error while homing tray: %v", err), AxisTray)
			return fault.New(fault.MechanismFault, "homing tray: %v", err)
		}
		traveled += -moved
	}

	c.fail(fmt.Sprintf("tray begin sensor not reached within %d steps", budget), AxisTray)
	return fault.New(fault.HardwareTimeout, "homing tray: begin sensor not reached within %d steps", budget)
}

// MoveTo executes a bounded point-to-point move to absolute (x, y) steps.
func (c *Controller) MoveTo(ctx context.Context, x, y int) error {
	if err := c.beginOp(StateMoving, false); err != nil {
		return err
	}
	defer c.endOp()

	if !c.Homed(AxisX) || !c.Homed(AxisY) {
		return fault.New(fault.Validation, "x and y must be homed before positioning")
	}

	p := c.store.Snapshot()
	maxX := p.Positions.X[calib.Columns-1]
	maxY := p.Positions.Y[calib.Rows-1]
	if x < 0 || x > maxX {
		return fault.New(fault.OutOfRange, "x=%d outside [0,%d]", x, maxX)
	}
	if y < 0 || y > maxY {
		return fault.New(fault.OutOfRange, "y=%d outside [0,%d]", y, maxY)
	}

	if err := c.board.SetSpeed(p.Speeds.XY); err != nil {
		return err
	}
	if err := c.board.SetAccel(p.Speeds.Acceleration); err != nil {
		return err
	}

	return c.moveBy(ctx, p.Kinematics, x-c.Position().X, y-c.Position().Y)
}

// moveBy drives a relative (dx, dy) in interleaved chunks. An endstop firing
// before the final chunk completes is a mechanical fault.
func (c *Controller) moveBy(ctx context.Context, k calib.Kinematics, dx, dy int) error {
	for dx != 0 || dy != 0 {
		if err := ctx.Err(); err != nil {
			return err
		}

		sx := minAbs(dx, moveChunk)
		sy := minAbs(dy, moveChunk)

		before := c.Position()
		estop, err := c.xyChunk(k, sx, sy)
		if err != nil {
			c.fail(fmt.Sprintf("board error during move: %v", err), AxisX, AxisY)
			return fault.New(fault.MechanismFault, "move: %v", err)
		}

		moved := c.Position()
		dx -= moved.X - before.X
		dy -= moved.Y - before.Y

		if estop {
			if dx == 0 && dy == 0 {
				// Sensor at the exact end of travel (target 0) is fine.
				return nil
			}
			c.fail("unexpected limit sensor during move", AxisX, AxisY)
			return fault.New(fault.MechanismFault, "unexpected limit sensor during move")
		}
	}
	return nil
}

// Jog drives a relative (dx, dy) during calibration, when the position
// tables cannot be trusted for bounds. Only the hard floor at zero is
// enforced.
func (c *Controller) Jog(ctx context.Context, dx, dy int) error {
	if err := c.beginOp(StateMoving, false); err != nil {
		return err
	}
	defer c.endOp()

	if !c.Homed(AxisX) || !c.Homed(AxisY) {
		return fault.New(fault.Validation, "x and y must be homed before jogging")
	}

	pos := c.Position()
	if pos.X+dx < 0 || pos.Y+dy < 0 {
		return fault.New(fault.OutOfRange, "jog below zero")
	}

	p := c.store.Snapshot()
	if err := c.board.SetSpeed(p.Speeds.XY); err != nil {
		return err
	}
	return c.moveBy(ctx, p.Kinematics, dx, dy)
}

// MoveTray drives the tray/claw axis to an absolute depth in steps.
func (c *Controller) MoveTray(ctx context.Context, target int) error {
	if err := c.beginOp(StateTrayMoving, false); err != nil {
		return err
	}
	defer c.endOp()
	return c.moveTrayLocked(ctx, target)
}

// moveTrayLocked assumes the op slot is already held (grab sequences reuse
// it between phases).
func (c *Controller) moveTrayLocked(ctx context.Context, target int) error {
	if !c.Homed(AxisTray) {
		return fault.New(fault.Validation, "tray must be homed before extension")
	}
	if target < 0 {
		return fault.New(fault.OutOfRange, "tray target %d below zero", target)
	}

	p := c.store.Snapshot()
	if err := c.board.SetSpeed(p.Speeds.Tray); err != nil {
		return err
	}

	remaining := target - c.Position().Tray
	for remaining != 0 {
		if err := ctx.Err(); err != nil {
			return err
		}

		step := minAbs(remaining, moveChunk)
		moved, err := c.board.Move(board.MotorTray, step)

		c.stateMu.Lock()
		c.pos.Tray += moved
		c.stateMu.Unlock()
		remaining -= moved

		if err != nil {
			if errors.Is(err, board.ErrEndstop) {
				if remaining == 0 {
					return nil
				}
				c.fail("unexpected tray sensor during extension", AxisTray)
				return fault.New(fault.MechanismFault, "unexpected tray sensor during extension")
			}
			c.fail(fmt.Sprintf("board error during tray move: %v", err), AxisTray)
			return fault.New(fault.MechanismFault, "tray move: %v", err)
		}
	}
	return nil
}

// RetractTray pulls the tray fully in until its begin sensor and re-zeroes
// the axis. It doubles as tray homing.
func (c *Controller) RetractTray(ctx context.Context) error {
	return c.Home(ctx, AxisTray)
}

// RunMotor is the raw per-motor test hook used by diagnostics and by the
// kinematics wizard pulses. It deliberately bypasses the position model, so
// the planar homed flags are dropped.
func (c *Controller) RunMotor(ctx context.Context, m board.Motor, steps int) error {
	if err := c.beginOp(StateMoving, false); err != nil {
		return err
	}
	defer c.endOp()

	if err := ctx.Err(); err != nil {
		return err
	}

	if err := c.board.SetSpeed(homingSpeed); err != nil {
		return err
	}

	moved, err := c.board.Move(m, steps)
	if m == board.MotorA || m == board.MotorB {
		c.stateMu.Lock()
		delete(c.homed, AxisX)
		delete(c.homed, AxisY)
		c.stateMu.Unlock()
	} else {
		c.stateMu.Lock()
		c.pos.Tray += moved
		c.stateMu.Unlock()
	}
	if err != nil && !errors.Is(err, board.ErrEndstop) {
		return err
	}
	if errors.Is(err, board.ErrEndstop) {
		return fmt.Errorf("motor %s stopped by limit sensor after %d steps", m, moved)
	}
	return nil
}

func (c *Controller) servoFor(kind string, which int, target Target) (board.ServoID, int, error) {
	p := c.store.Snapshot()

	var id board.ServoID
	var angle int
	switch {
	case kind == "lock" && which == 1:
		id = board.ServoLock1
		angle = p.Servos.Lock1Open
		if target == TargetClosed {
			angle = p.Servos.Lock1Close
		}
	case kind == "lock" && which == 2:
		id = board.ServoLock2
		angle = p.Servos.Lock2Open
		if target == TargetClosed {
			angle = p.Servos.Lock2Close
		}
	case kind == "shutter" && which == 1:
		id = board.ServoShutter1
		angle = shutterOpenAngle
		if target == TargetClosed {
			angle = shutterCloseAngle
		}
	case kind == "shutter" && which == 2:
		id = board.ServoShutter2
		angle = shutterOpenAngle
		if target == TargetClosed {
			angle = shutterCloseAngle
		}
	default:
		return "", 0, fault.New(fault.Validation, "no %s %d", kind, which)
	}
	if target != TargetOpen && target != TargetClosed {
		return "", 0, fault.New(fault.Validation, "target must be open or closed, got %q", target)
	}
	return id, angle, nil
}

// SetLock commands a lock servo to its calibrated angle. Fire-and-confirm:
// there is no sensor feedback, so this cannot fault the controller.
func (c *Controller) SetLock(which int, target Target) error {
	id, angle, err := c.servoFor("lock", which, target)
	if err != nil {
		return err
	}
	if err := c.board.SetServo(id, angle); err != nil {
		return err
	}

	c.stateMu.Lock()
	if target == TargetOpen {
		c.locks[which] = ServoOpen
	} else {
		c.locks[which] = ServoClosed
	}
	c.stateMu.Unlock()
	return nil
}

// SetShutter commands a shutter mechanism.
func (c *Controller) SetShutter(which int, target Target) error {
	id, angle, err := c.servoFor("shutter", which, target)
	if err != nil {
		return err
	}
	if err := c.board.SetServo(id, angle); err != nil {
		return err
	}

	c.stateMu.Lock()
	if target == TargetOpen {
		c.shutters[which] = ServoOpen
	} else {
		c.shutters[which] = ServoClosed
	}
	c.stateMu.Unlock()
	return nil
}
