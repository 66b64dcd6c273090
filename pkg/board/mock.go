package board

import (
	"fmt"
	"sync"
)

// MockConfig sets the simulated travel limits, in carriage step units.
type MockConfig struct {
	MaxX    int
	MaxY    int
	TrayMax int
	// Power-on carriage pose. Unknown to the controller until homed.
	StartX int
	StartY int
}

// DefaultMockConfig mirrors the rough geometry of the real cabinet.
func DefaultMockConfig() MockConfig {
	return MockConfig{
		MaxX:    6000,
		MaxY:    42000,
		TrayMax: 2200,
		StartX:  300,
		StartY:  500,
	}
}

// Mock simulates the cabinet mechanics: two CoreXY motors moving a carriage
// inside [0,MaxX]x[0,MaxY], a tray axis with begin/end sensors, and four
// servos. The simulated belt arrangement is the standard CoreXY one
// (x = (a+b)/2, y = (a-b)/2), which the calibration wizard has to discover
// just like on real hardware.
type Mock struct {
	mu  sync.Mutex
	cfg MockConfig

	open bool

	// Carriage pose in half-steps so single-motor moves stay integral.
	hx, hy int
	tray   int

	servos map[ServoID]int
	speed  int
	accel  int

	jamMotor Motor
	jamAfter int
	jamArmed bool
}

// NewMock returns a closed mock board.
func NewMock(cfg MockConfig) *Mock {
	return &Mock{
		cfg:    cfg,
		hx:     2 * cfg.StartX,
		hy:     2 * cfg.StartY,
		servos: make(map[ServoID]int),
	}
}

func (m *Mock) Open() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.open = true
	return nil
}

func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.open = false
	return nil
}

// Jam arms a one-shot mechanical jam: the next move of the given motor stops
// after the given number of steps as if a sensor had tripped.
func (m *Mock) Jam(motor Motor, afterSteps int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jamMotor = motor
	m.jamAfter = afterSteps
	m.jamArmed = true
}

func (m *Mock) endstopsLocked() EndstopState {
	return EndstopState{
		XBegin:    m.hx <= 0,
		YBegin:    m.hy <= 0,
		TrayBegin: m.tray <= 0,
		TrayEnd:   m.tray >= m.cfg.TrayMax,
	}
}

func anyNew(before, now EndstopState) bool {
	return (!before.XBegin && now.XBegin) ||
		(!before.YBegin && now.YBegin) ||
		(!before.TrayBegin && now.TrayBegin) ||
		(!before.TrayEnd && now.TrayEnd)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func signOf(v int) int {
	if v < 0 {
		return -1
	}
	return 1
}

// stepLocked advances one motor by one (micro) step. Returns false if a
// limit sensor newly triggered.
func (m *Mock) stepLocked(motor Motor, dir int, before EndstopState) bool {
	switch motor {
	case MotorA:
		m.hx += dir
		m.hy += dir
	case MotorB:
		m.hx += dir
		m.hy -= dir
	case MotorTray:
		m.tray += dir
	}
	return !anyNew(before, m.endstopsLocked())
}

func (m *Mock) Move(motor Motor, steps int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.open {
		return 0, fmt.Errorf("mock board not open")
	}
	if motor != MotorA && motor != MotorB && motor != MotorTray {
		return 0, fmt.Errorf("unknown motor %q", motor)
	}

	dir := signOf(steps)
	n := abs(steps)

	jam := m.jamArmed && m.jamMotor == motor
	if jam {
		m.jamArmed = false
	}

	start := m.endstopsLocked()
	for i := 0; i < n; i++ {
		if jam && i >= m.jamAfter {
			return dir * i, ErrEndstop
		}
		if !m.stepLocked(motor, dir, start) {
			return dir * (i + 1), ErrEndstop
		}
	}
	return steps, nil
}

// MoveXY distributes steps of the two gantry motors evenly over one train so
// the carriage tracks a straight line, stopping both on a fresh endstop.
func (m *Mock) MoveXY(deltaA, deltaB int) (movedA, movedB int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.open {
		return 0, 0, fmt.Errorf("mock board not open")
	}

	dirA, dirB := signOf(deltaA), signOf(deltaB)
	nA, nB := abs(deltaA), abs(deltaB)
	total := nA
	if nB > total {
		total = nB
	}

	jamA := m.jamArmed && m.jamMotor == MotorA
	jamB := m.jamArmed && m.jamMotor == MotorB
	if jamA || jamB {
		m.jamArmed = false
	}

	start := m.endstopsLocked()
	doneA, doneB := 0, 0
	for i := 0; i < total; i++ {
		wantA := (i + 1) * nA / total
		wantB := (i + 1) * nB / total

		if doneA < wantA {
			if jamA && doneA >= m.jamAfter {
				return dirA * doneA, dirB * doneB, ErrEndstop
			}
			doneA++
			if !m.stepLocked(MotorA, dirA, start) {
				return dirA * doneA, dirB * doneB, ErrEndstop
			}
		}
		if doneB < wantB {
			if jamB && doneB >= m.jamAfter {
				return dirA * doneA, dirB * doneB, ErrEndstop
			}
			doneB++
			if !m.stepLocked(MotorB, dirB, start) {
				return dirA * doneA, dirB * doneB, ErrEndstop
			}
		}
	}
	return deltaA, deltaB, nil
}

func (m *Mock) SetSpeed(stepsPerSec int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.speed = stepsPerSec
	return nil
}

func (m *Mock) SetAccel(stepsPerSecSq int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accel = stepsPerSecSq
	return nil
}

func (m *Mock) Endstops() (EndstopState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.open {
		return EndstopState{}, fmt.Errorf("mock board not open")
	}
	return m.endstopsLocked(), nil
}

func (m *Mock) SetServo(id ServoID, angle int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.open {
		return fmt.Errorf("mock board not open")
	}
	m.servos[id] = angle
	return nil
}

func (m *Mock) Halt() error {
	return nil
}

// Carriage returns the simulated carriage pose in carriage step units.
func (m *Mock) Carriage() (x, y float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return float64(m.hx) / 2, float64(m.hy) / 2
}

// Tray returns the simulated tray extension in steps.
func (m *Mock) Tray() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tray
}

// ServoAngle returns the last commanded angle, or -1 if never commanded.
func (m *Mock) ServoAngle(id ServoID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.servos[id]; ok {
		return a
	}
	return -1
}

var _ Board = (*Mock)(nil)
var _ Board = (*Serial)(nil)
