// Package wizard implements the guided calibration session. One session
// exists per daemon; every mode drives the motion controller through the
// shared mechanism lock so wizard moves and cabinet operations exclude each
// other.
package wizard

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/Rivega42/bookcab/pkg/board"
	"github.com/Rivega42/bookcab/pkg/calib"
	"github.com/Rivega42/bookcab/pkg/cell"
	"github.com/Rivega42/bookcab/pkg/events"
	"github.com/Rivega42/bookcab/pkg/fault"
	"github.com/Rivega42/bookcab/pkg/motion"
)

// Mode of the wizard session.
type Mode string

const (
	ModeMenu       Mode = "menu"
	ModeKinematics Mode = "kinematics"
	ModePoints10   Mode = "points10"
	ModeGrab       Mode = "grab"
	ModeBlocked    Mode = "blocked"
	ModeQuicktest  Mode = "quicktest"
)

// Locker is the mechanism lock shared with cabinet operations. *sync.Mutex
// satisfies it.
type Locker interface {
	TryLock() bool
	Unlock()
}

// Input is one operator step. Which fields matter depends on the mode.
type Input struct {
	Action    string `json:"action"`
	Answer    string `json:"answer,omitempty"`    // kinematics: up/down/left/right
	Direction string `json:"direction,omitempty"` // points10: +x/-x/+y/-y
	StepSize  int    `json:"stepSize,omitempty"`  // points10 jog magnitude
	Side      string `json:"side,omitempty"`
	Param     string `json:"param,omitempty"` // grab: extend1/retract/extend2
	Delta     int    `json:"delta,omitempty"` // grab: +-10 or +-100
	Col       int    `json:"col"`
	Row       int    `json:"row"`
}

// Status is the externally visible session state.
type Status struct {
	Mode   Mode   `json:"mode"`
	Step   int    `json:"step"`
	Side   string `json:"side,omitempty"`
	Result string `json:"result,omitempty"`
}

const kinPulseSteps = 200

// answerSigns maps the operator's report to the motor's (x_plus_dir,
// y_plus_dir) pair. A lone CoreXY motor drives the carriage along a
// diagonal; the prompt names each diagonal by its leading cardinal:
// up-right is reported "up", down-right "right", down-left "down",
// up-left "left".
var answerSigns = map[string][2]int{
	"up":    {+1, +1},
	"right": {+1, -1},
	"down":  {-1, -1},
	"left":  {-1, +1},
}

// refYRows are the six directly calibrated rows; the rest are interpolated.
var refYRows = []int{0, 1, 5, 10, 15, 20}

var jogSizes = map[int]bool{
	1: true, 5: true, 10: true, 50: true, 100: true,
	500: true, 1000: true, 5000: true, 10000: true,
}

type kinState struct {
	step  int // 0 pulse A, 1 answer A, 2 pulse B, 3 answer B
	signs [4]int
}

type pointsState struct {
	index int // next reference point to commit, 0..9
	xs    [calib.Columns]int
	ys    map[int]int
}

type grabState struct {
	side string
}

type quickState struct {
	result string
}

// Session is the single wizard state machine. The mode payloads form a
// tagged union: exactly one of kin/pts/grb/qt is non-nil outside menu
// (blocked needs no scratch state).
type Session struct {
	mu    sync.Mutex
	lock  Locker
	ctrl  *motion.Controller
	grab  *motion.Grab
	store *calib.Store
	hub   *events.EventHub

	mode Mode
	kin  *kinState
	pts  *pointsState
	grb  *grabState
	qt   *quickState
}

// New returns a session in menu. hub may be nil.
func New(lock Locker, ctrl *motion.Controller, grab *motion.Grab, store *calib.Store, hub *events.EventHub) *Session {
	return &Session{
		lock:  lock,
		ctrl:  ctrl,
		grab:  grab,
		store: store,
		hub:   hub,
		mode:  ModeMenu,
	}
}

// Status reports the current mode and progress through it.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{Mode: s.mode}
	switch {
	case s.kin != nil:
		st.Step = s.kin.step
	case s.pts != nil:
		st.Step = s.pts.index
	case s.grb != nil:
		st.Side = s.grb.side
	case s.qt != nil:
		st.Result = s.qt.result
	}
	return st
}

// Start enters a mode. If another mode is active it is cleanly exited first;
// the mechanism lock stays held across the switch. From menu the lock is
// acquired, rejecting with busy while a cabinet operation runs.
func (s *Session) Start(ctx context.Context, mode Mode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch mode {
	case ModeKinematics, ModePoints10, ModeGrab, ModeBlocked, ModeQuicktest:
	default:
		return fault.New(fault.Validation, "unknown wizard mode %q", mode)
	}

	if s.mode == ModeMenu {
		if !s.lock.TryLock() {
			return fault.New(fault.Busy, "cabinet operation in progress")
		}
	} else {
		s.cleanExitLocked(ctx)
	}

	s.mode = mode
	switch mode {
	case ModeKinematics:
		s.kin = &kinState{}
	case ModePoints10:
		s.pts = &pointsState{ys: map[int]int{}}
	case ModeGrab:
		s.grb = &grabState{}
	case ModeQuicktest:
		s.qt = &quickState{}
	}
	logrus.WithField("mode", mode).Info("wizard mode started")
	return nil
}

// Exit leaves the active mode and releases the mechanism lock. Steps run
// synchronously under the session mutex, so exit always lands on a phase
// boundary.
func (s *Session) Exit(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mode == ModeMenu {
		return nil
	}
	s.cleanExitLocked(ctx)
	s.lock.Unlock()
	return nil
}

// cleanExitLocked drops the mode payload and leaves the mechanism safe. The
// lock is NOT released; mode switches keep holding it.
func (s *Session) cleanExitLocked(ctx context.Context) {
	if s.grb != nil || s.qt != nil {
		if err := s.grab.Retract(ctx); err != nil {
			logrus.WithError(err).Warn("wizard exit: arm retract failed")
		}
	}
	s.mode = ModeMenu
	s.kin, s.pts, s.grb, s.qt = nil, nil, nil, nil
}

// Step feeds one operator input to the active mode.
func (s *Session) Step(ctx context.Context, in Input) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.mode {
	case ModeKinematics:
		return s.stepKinematics(ctx, in)
	case ModePoints10:
		return s.stepPoints10(ctx, in)
	case ModeGrab:
		return s.stepGrab(ctx, in)
	case ModeBlocked:
		return s.stepBlocked(in)
	case ModeQuicktest:
		return s.stepQuicktest(ctx, in)
	default:
		return fault.New(fault.Validation, "no wizard mode active")
	}
}

func (s *Session) progress(step, total int, msg string) {
	s.hub.Publish(events.Progress, events.ProgressEvent{Step: step, Total: total, Message: msg})
}

func (s *Session) stepKinematics(ctx context.Context, in Input) error {
	k := s.kin
	pulsing := k.step%2 == 0
	motor := board.MotorA
	if k.step >= 2 {
		motor = board.MotorB
	}

	switch {
	case pulsing && in.Action == "pulse":
		if err := s.ctrl.RunMotor(ctx, motor, kinPulseSteps); err != nil {
			return err
		}
		k.step++
		s.progress(k.step, 4, "observe the carriage direction")
		return nil

	case !pulsing && in.Action == "answer":
		signs, ok := answerSigns[in.Answer]
		if !ok {
			return fault.New(fault.Validation, "answer must be one of up/down/left/right")
		}
		k.signs[k.step-1], k.signs[k.step] = signs[0], signs[1]
		k.step++
		s.progress(k.step, 4, "sign pair recorded")

		if k.step < 4 {
			return nil
		}
		kin := calib.Kinematics{
			XPlusDirA: k.signs[0], YPlusDirA: k.signs[1],
			XPlusDirB: k.signs[2], YPlusDirB: k.signs[3],
		}
		if err := s.store.SetKinematics(kin); err != nil {
			return err
		}
		logrus.WithField("kinematics", kin).Info("sign matrix calibrated")
		s.cleanExitLocked(ctx)
		s.lock.Unlock()
		return nil

	default:
		return fault.New(fault.Validation, "expected %q at kinematics step %d", pulseOrAnswer(pulsing), k.step)
	}
}

func pulseOrAnswer(pulsing bool) string {
	if pulsing {
		return "pulse"
	}
	return "answer"
}

func (s *Session) stepPoints10(ctx context.Context, in Input) error {
	p := s.pts

	switch in.Action {
	case "jog":
		if !jogSizes[in.StepSize] {
			return fault.New(fault.Validation, "step size %d is not an allowed jog magnitude", in.StepSize)
		}
		var dx, dy int
		switch in.Direction {
		case "+x":
			dx = in.StepSize
		case "-x":
			dx = -in.StepSize
		case "+y":
			dy = in.StepSize
		case "-y":
			dy = -in.StepSize
		default:
			return fault.New(fault.Validation, "direction must be one of +x/-x/+y/-y")
		}
		return s.ctrl.Jog(ctx, dx, dy)

	case "commit":
		pos := s.ctrl.Position()
		if p.index < calib.Columns {
			p.xs[p.index] = pos.X
		} else {
			p.ys[refYRows[p.index-calib.Columns]] = pos.Y
		}
		p.index++
		s.progress(p.index, len(refYRows)+calib.Columns, "reference point recorded")

		if p.index < calib.Columns+len(refYRows) {
			return nil
		}
		ys := interpolateRows(p.ys)
		if err := s.store.SetPositions(p.xs[:], ys); err != nil {
			// Keep the session so the operator can re-jog the bad point.
			p.index--
			return err
		}
		logrus.Info("position tables calibrated")
		s.cleanExitLocked(ctx)
		s.lock.Unlock()
		return nil

	default:
		return fault.New(fault.Validation, "points10 accepts jog or commit")
	}
}

// interpolateRows expands the six committed reference rows into the full
// 21-entry table, filling intermediate rows linearly.
func interpolateRows(ref map[int]int) []int {
	ys := make([]int, calib.Rows)
	for i := 0; i+1 < len(refYRows); i++ {
		r0, r1 := refYRows[i], refYRows[i+1]
		v0, v1 := ref[r0], ref[r1]
		for r := r0; r <= r1; r++ {
			ys[r] = v0 + (v1-v0)*(r-r0)/(r1-r0)
		}
	}
	return ys
}

func (s *Session) stepGrab(ctx context.Context, in Input) error {
	g := s.grb

	switch in.Action {
	case "side":
		side, err := cell.ParseSide(in.Side)
		if err != nil {
			return err
		}
		g.side = string(side)
		return nil

	case "adjust":
		if g.side == "" {
			return fault.New(fault.Validation, "pick a side first")
		}
		if in.Delta != 10 && in.Delta != -10 && in.Delta != 100 && in.Delta != -100 {
			return fault.New(fault.Validation, "delta must be +-10 or +-100")
		}
		v, err := s.store.AdjustGrab(g.side, calib.GrabParam(in.Param), in.Delta)
		if err != nil {
			return err
		}
		logrus.WithFields(logrus.Fields{"side": g.side, "param": in.Param, "value": v}).Info("grab parameter adjusted")
		return nil

	case "test":
		if g.side == "" {
			return fault.New(fault.Validation, "pick a side first")
		}
		return s.grab.TestPhase(ctx, g.side, calib.GrabParam(in.Param))

	case "retract":
		return s.grab.Retract(ctx)

	case "done":
		s.cleanExitLocked(ctx)
		s.lock.Unlock()
		return nil

	default:
		return fault.New(fault.Validation, "grab mode accepts side/adjust/test/retract/done")
	}
}

func (s *Session) stepBlocked(in Input) error {
	switch in.Action {
	case "toggle":
		blocked, err := s.store.ToggleBlocked(in.Side, in.Col, in.Row)
		if err != nil {
			return err
		}
		logrus.WithFields(logrus.Fields{
			"side": in.Side, "col": in.Col, "row": in.Row, "blocked": blocked,
		}).Info("blocked cell toggled")
		return nil

	case "done":
		s.mode = ModeMenu
		s.lock.Unlock()
		return nil

	default:
		return fault.New(fault.Validation, "blocked mode accepts toggle or done")
	}
}

func isRefRow(row int) bool {
	for _, r := range refYRows {
		if r == row {
			return true
		}
	}
	return false
}

func (s *Session) stepQuicktest(ctx context.Context, in Input) error {
	q := s.qt

	switch in.Action {
	case "run":
		if !isRefRow(in.Row) {
			return fault.New(fault.Validation, "row %d is not a calibrated reference row", in.Row)
		}
		side, err := cell.ParseSide(in.Side)
		if err != nil {
			return err
		}
		addr := cell.Address{Side: side, Col: in.Col, Row: in.Row}
		profile := s.store.Snapshot()
		x, y, err := cell.Resolve(&profile, addr)
		if err != nil {
			return err
		}

		if err := s.runQuicktest(ctx, string(side), x, y); err != nil {
			q.result = "fail: " + err.Error()
			return err
		}
		q.result = "pass"
		return nil

	case "done":
		s.cleanExitLocked(ctx)
		s.lock.Unlock()
		return nil

	default:
		return fault.New(fault.Validation, "quicktest accepts run or done")
	}
}

func (s *Session) runQuicktest(ctx context.Context, side string, x, y int) error {
	s.progress(1, 3, "moving to test cell")
	if err := s.ctrl.MoveTo(ctx, x, y); err != nil {
		return err
	}
	s.progress(2, 3, "engaging")
	if err := s.grab.Engage(ctx, side); err != nil {
		return err
	}
	s.progress(3, 3, "releasing")
	return s.grab.Release(ctx, side)
}
