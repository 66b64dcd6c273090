package board

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.bug.st/serial"
)

// Serial talks to the cabinet firmware over a serial link using a
// line-oriented single-letter protocol:
//
//	Ma<steps>  move motor a/b/t, reply "ok <moved>" or "estop <moved>"
//	G<da> <db> coordinated gantry move, reply "ok <ma> <mb>" or "estop <ma> <mb>"
//	V<sps>     set step rate, reply "ok"
//	A<sps2>    set acceleration, reply "ok"
//	E?         query endstop bitmask, reply "ok <mask>"
//	S<id> <a>  set servo angle, reply "ok"
//	H          halt all drivers, reply "ok"
type Serial struct {
	mu   sync.Mutex
	path string
	baud int
	port serial.Port
	rd   *bufio.Reader
}

// NewSerial returns an unopened serial board on the given device path.
func NewSerial(path string, baud int) *Serial {
	return &Serial{path: path, baud: baud}
}

func (s *Serial) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	port, err := serial.Open(s.path, &serial.Mode{BaudRate: s.baud})
	if err != nil {
		return fmt.Errorf("open %s: %w", s.path, err)
	}
	s.port = port
	s.rd = bufio.NewReader(port)
	return nil
}

func (s *Serial) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	return err
}

// roundTrip writes one command line and reads one reply line. The read
// deadline is generous because a long pulse train only replies when done.
func (s *Serial) roundTrip(cmd string, deadline time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.port == nil {
		return "", fmt.Errorf("serial board not open")
	}

	logrus.WithField("cmd", cmd).Trace("board write")

	if err := s.port.SetReadTimeout(deadline); err != nil {
		return "", err
	}
	if _, err := s.port.Write([]byte(cmd + "\n")); err != nil {
		return "", fmt.Errorf("write %q: %w", cmd, err)
	}

	line, err := s.rd.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read reply for %q: %w", cmd, err)
	}
	line = strings.TrimSpace(line)

	logrus.WithFields(logrus.Fields{"cmd": cmd, "reply": line}).Trace("board reply")

	return line, nil
}

func (s *Serial) Move(motor Motor, steps int) (int, error) {
	// Worst case at the slow homing rate is a couple of minutes across the
	// whole gantry. The firmware replies as soon as the train ends.
	reply, err := s.roundTrip(fmt.Sprintf("M%s%d", motor, steps), 3*time.Minute)
	if err != nil {
		return 0, err
	}

	fields := strings.Fields(reply)
	if len(fields) != 2 {
		return 0, fmt.Errorf("malformed move reply %q", reply)
	}
	moved, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, fmt.Errorf("malformed move reply %q", reply)
	}

	switch fields[0] {
	case "ok":
		return moved, nil
	case "estop":
		return moved, ErrEndstop
	default:
		return 0, fmt.Errorf("unexpected move reply %q", reply)
	}
}

func (s *Serial) MoveXY(deltaA, deltaB int) (int, int, error) {
	reply, err := s.roundTrip(fmt.Sprintf("G%d %d", deltaA, deltaB), 3*time.Minute)
	if err != nil {
		return 0, 0, err
	}

	fields := strings.Fields(reply)
	if len(fields) != 3 {
		return 0, 0, fmt.Errorf("malformed xy move reply %q", reply)
	}
	movedA, errA := strconv.Atoi(fields[1])
	movedB, errB := strconv.Atoi(fields[2])
	if errA != nil || errB != nil {
		return 0, 0, fmt.Errorf("malformed xy move reply %q", reply)
	}

	switch fields[0] {
	case "ok":
		return movedA, movedB, nil
	case "estop":
		return movedA, movedB, ErrEndstop
	default:
		return 0, 0, fmt.Errorf("unexpected xy move reply %q", reply)
	}
}

func (s *Serial) SetSpeed(stepsPerSec int) error {
	return s.expectOK(fmt.Sprintf("V%d", stepsPerSec))
}

func (s *Serial) SetAccel(stepsPerSecSq int) error {
	return s.expectOK(fmt.Sprintf("A%d", stepsPerSecSq))
}

func (s *Serial) Endstops() (EndstopState, error) {
	reply, err := s.roundTrip("E?", 2*time.Second)
	if err != nil {
		return EndstopState{}, err
	}
	fields := strings.Fields(reply)
	if len(fields) != 2 || fields[0] != "ok" {
		return EndstopState{}, fmt.Errorf("malformed endstop reply %q", reply)
	}
	mask, err := strconv.Atoi(fields[1])
	if err != nil {
		return EndstopState{}, fmt.Errorf("malformed endstop reply %q", reply)
	}
	return EndstopState{
		XBegin:    mask&1 != 0,
		YBegin:    mask&2 != 0,
		TrayBegin: mask&4 != 0,
		TrayEnd:   mask&8 != 0,
	}, nil
}

func (s *Serial) SetServo(id ServoID, angle int) error {
	return s.expectOK(fmt.Sprintf("S%s %d", id, angle))
}

func (s *Serial) Halt() error {
	return s.expectOK("H")
}

func (s *Serial) expectOK(cmd string) error {
	reply, err := s.roundTrip(cmd, 5*time.Second)
	if err != nil {
		return err
	}
	if reply != "ok" && !strings.HasPrefix(reply, "ok ") {
		return fmt.Errorf("board refused %q: %s", cmd, reply)
	}
	return nil
}
