// Package board is the access layer to the cabinet's motor-driver board.
// The real board is a microcontroller on a serial link; a mock board with
// the same interface simulates the mechanics for tests and --mock runs.
package board

import "errors"

// Motor identifies one of the three stepper drivers. Motors A and B jointly
// drive the CoreXY gantry; the tray motor drives the claw in and out.
type Motor string

const (
	MotorA    Motor = "a"
	MotorB    Motor = "b"
	MotorTray Motor = "t"
)

// ServoID identifies one of the four servos.
type ServoID string

const (
	ServoLock1    ServoID = "lock1"
	ServoLock2    ServoID = "lock2"
	ServoShutter1 ServoID = "shutter1"
	ServoShutter2 ServoID = "shutter2"
)

// EndstopState is a snapshot of the four limit sensors.
type EndstopState struct {
	XBegin    bool `json:"xBegin"`
	YBegin    bool `json:"yBegin"`
	TrayBegin bool `json:"trayBegin"`
	TrayEnd   bool `json:"trayEnd"`
}

// ErrEndstop is returned by Move when the pulse train was cut short because
// a limit sensor triggered. The steps actually moved are still reported, so
// homing can treat this as success while positioning treats it as a fault.
var ErrEndstop = errors.New("endstop triggered")

// Board is the hardware interface the motion controller drives.
//
// Move and MoveXY block until the pulse train ends and report signed steps
// actually moved. All implementations must be safe for concurrent
// Endstops/servo queries while a move is in flight; moves themselves are
// never issued concurrently (the mechanism lock above guarantees that).
type Board interface {
	Open() error
	Close() error

	// Move drives one motor a signed number of steps at the currently set
	// speed.
	Move(motor Motor, steps int) (int, error)
	// MoveXY drives gantry motors A and B in one coordinated train, the
	// firmware distributing steps evenly so the carriage tracks a straight
	// line. An endstop stops both motors.
	MoveXY(deltaA, deltaB int) (movedA, movedB int, err error)
	SetSpeed(stepsPerSec int) error
	SetAccel(stepsPerSecSq int) error

	Endstops() (EndstopState, error)
	SetServo(id ServoID, angle int) error

	// Halt stops all drivers immediately.
	Halt() error
}
