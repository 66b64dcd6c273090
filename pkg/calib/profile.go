// Package calib holds the cabinet's calibration profile: the CoreXY sign
// matrix, the per-column/per-row absolute position tables, motion speeds,
// servo angles, grab travel distances and the blocked-cell set. The profile
// is the daemon's configuration document; it is discovered and tuned through
// the calibration wizard and persisted as JSON.
package calib

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/Rivega42/bookcab/pkg/fault"
)

// Grid dimensions. Each side of the cabinet has Columns x Rows cells.
const (
	Columns = 3
	Rows    = 21
)

// CurrentVersion is bumped when the stored schema changes.
const CurrentVersion = 3

// Sides as they appear in the stored document.
const (
	SideFront = "front"
	SideBack  = "back"
)

// Kinematics is the CoreXY sign matrix. Each coefficient is -1 or +1:
// motor A moves (x_plus_dir_a, y_plus_dir_a) per step, motor B moves
// (x_plus_dir_b, y_plus_dir_b).
type Kinematics struct {
	XPlusDirA int `json:"x_plus_dir_a"`
	YPlusDirA int `json:"y_plus_dir_a"`
	XPlusDirB int `json:"x_plus_dir_b"`
	YPlusDirB int `json:"y_plus_dir_b"`
}

// Positions are the absolute step values of the 3 columns and 21 rows.
// Both tables must stay strictly increasing.
type Positions struct {
	X []int `json:"x"`
	Y []int `json:"y"`
}

// Speeds are the motion profile limits in steps/s (and steps/s^2).
type Speeds struct {
	XY           int `json:"xy"`
	Tray         int `json:"tray"`
	Acceleration int `json:"acceleration"`
}

// Servos are the calibrated lock servo angles in degrees.
type Servos struct {
	Lock1Open  int `json:"lock1_open"`
	Lock1Close int `json:"lock1_close"`
	Lock2Open  int `json:"lock2_open"`
	Lock2Close int `json:"lock2_close"`
}

// Grab holds the three-phase arm travel distances for one side, in steps.
type Grab struct {
	Extend1 int `json:"extend1"`
	Retract int `json:"retract"`
	Extend2 int `json:"extend2"`
}

// GrabParam names one of the three grab phases.
type GrabParam string

const (
	GrabExtend1 GrabParam = "extend1"
	GrabRetract GrabParam = "retract"
	GrabExtend2 GrabParam = "extend2"
)

// BlockedCells maps side -> column index (as a string, JSON object keys) ->
// sorted row numbers excluded from service.
type BlockedCells map[string]map[string][]int

// Profile is the complete persisted calibration document.
type Profile struct {
	Version      int          `json:"version"`
	Kinematics   Kinematics   `json:"kinematics"`
	Positions    Positions    `json:"positions"`
	Speeds       Speeds       `json:"speeds"`
	Servos       Servos       `json:"servos"`
	GrabFront    Grab         `json:"grab_front"`
	GrabBack     Grab         `json:"grab_back"`
	BlockedCells BlockedCells `json:"blocked_cells"`
}

// Default returns the factory profile. Positions are nominal; a real cabinet
// replaces them through the points10 wizard before service.
func Default() Profile {
	xs := make([]int, Columns)
	for i := range xs {
		xs[i] = 400 + 2400*i
	}
	ys := make([]int, Rows)
	for i := range ys {
		ys[i] = 800 + 1900*i
	}
	return Profile{
		Version: CurrentVersion,
		Kinematics: Kinematics{
			XPlusDirA: 1, YPlusDirA: 1,
			XPlusDirB: 1, YPlusDirB: -1,
		},
		Positions: Positions{X: xs, Y: ys},
		Speeds:    Speeds{XY: 1200, Tray: 600, Acceleration: 800},
		Servos: Servos{
			Lock1Open: 10, Lock1Close: 100,
			Lock2Open: 10, Lock2Close: 100,
		},
		GrabFront:    Grab{Extend1: 900, Retract: 150, Extend2: 1400},
		GrabBack:     Grab{Extend1: 900, Retract: 150, Extend2: 1400},
		BlockedCells: BlockedCells{},
	}
}

func validSign(v int) bool { return v == -1 || v == 1 }

func strictlyIncreasing(vals []int) bool {
	for i := 1; i < len(vals); i++ {
		if vals[i] <= vals[i-1] {
			return false
		}
	}
	return true
}

// Validate checks the whole document. A profile that fails validation is
// never persisted and never reaches the motion controller.
func (p *Profile) Validate() error {
	k := p.Kinematics
	if !validSign(k.XPlusDirA) || !validSign(k.YPlusDirA) ||
		!validSign(k.XPlusDirB) || !validSign(k.YPlusDirB) {
		return fault.New(fault.Validation, "kinematics coefficients must be -1 or +1")
	}

	if len(p.Positions.X) != Columns {
		return fault.New(fault.Validation, "positions.x must have %d entries, got %d", Columns, len(p.Positions.X))
	}
	if len(p.Positions.Y) != Rows {
		return fault.New(fault.Validation, "positions.y must have %d entries, got %d", Rows, len(p.Positions.Y))
	}
	if p.Positions.X[0] < 0 || p.Positions.Y[0] < 0 {
		return fault.New(fault.Validation, "positions must be non-negative")
	}
	if !strictlyIncreasing(p.Positions.X) {
		return fault.New(fault.Validation, "positions.x must be strictly increasing")
	}
	if !strictlyIncreasing(p.Positions.Y) {
		return fault.New(fault.Validation, "positions.y must be strictly increasing")
	}

	if p.Speeds.XY <= 0 || p.Speeds.Tray <= 0 || p.Speeds.Acceleration <= 0 {
		return fault.New(fault.Validation, "speeds must be positive")
	}

	for name, a := range map[string]int{
		"lock1_open": p.Servos.Lock1Open, "lock1_close": p.Servos.Lock1Close,
		"lock2_open": p.Servos.Lock2Open, "lock2_close": p.Servos.Lock2Close,
	} {
		if a < 0 || a > 180 {
			return fault.New(fault.Validation, "servo angle %s=%d outside [0,180]", name, a)
		}
	}

	for side, g := range map[string]Grab{"grab_front": p.GrabFront, "grab_back": p.GrabBack} {
		if g.Extend1 <= 0 || g.Retract <= 0 || g.Extend2 <= 0 {
			return fault.New(fault.Validation, "%s distances must be positive", side)
		}
	}

	for side, cols := range p.BlockedCells {
		if side != SideFront && side != SideBack {
			return fault.New(fault.Validation, "blocked_cells: unknown side %q", side)
		}
		for colKey, rows := range cols {
			col, err := strconv.Atoi(colKey)
			if err != nil || col < 0 || col >= Columns {
				return fault.New(fault.Validation, "blocked_cells: bad column key %q", colKey)
			}
			for _, row := range rows {
				if row < 0 || row >= Rows {
					return fault.New(fault.Validation, "blocked_cells: row %d outside [0,%d]", row, Rows-1)
				}
			}
		}
	}

	return nil
}

// Clone returns a deep copy.
func (p Profile) Clone() Profile {
	c := p
	c.Positions.X = append([]int(nil), p.Positions.X...)
	c.Positions.Y = append([]int(nil), p.Positions.Y...)
	c.BlockedCells = make(BlockedCells, len(p.BlockedCells))
	for side, cols := range p.BlockedCells {
		cc := make(map[string][]int, len(cols))
		for col, rows := range cols {
			cc[col] = append([]int(nil), rows...)
		}
		c.BlockedCells[side] = cc
	}
	return c
}

// IsBlocked reports whether the given cell is excluded from service.
func (p *Profile) IsBlocked(side string, col, row int) bool {
	cols, ok := p.BlockedCells[side]
	if !ok {
		return false
	}
	rows, ok := cols[strconv.Itoa(col)]
	if !ok {
		return false
	}
	for _, r := range rows {
		if r == row {
			return true
		}
	}
	return false
}

func (p *Profile) toggleBlocked(side string, col, row int) bool {
	key := strconv.Itoa(col)
	if p.BlockedCells == nil {
		p.BlockedCells = BlockedCells{}
	}
	cols, ok := p.BlockedCells[side]
	if !ok {
		cols = map[string][]int{}
		p.BlockedCells[side] = cols
	}

	rows := cols[key]
	for i, r := range rows {
		if r == row {
			rows = append(rows[:i], rows[i+1:]...)
			if len(rows) == 0 {
				delete(cols, key)
			} else {
				cols[key] = rows
			}
			return false
		}
	}
	rows = append(rows, row)
	sort.Ints(rows)
	cols[key] = rows
	return true
}

func (p *Profile) grab(side string) (*Grab, error) {
	switch side {
	case SideFront:
		return &p.GrabFront, nil
	case SideBack:
		return &p.GrabBack, nil
	default:
		return nil, fault.New(fault.Validation, "unknown side %q", side)
	}
}

func (g *Grab) param(param GrabParam) (*int, error) {
	switch param {
	case GrabExtend1:
		return &g.Extend1, nil
	case GrabRetract:
		return &g.Retract, nil
	case GrabExtend2:
		return &g.Extend2, nil
	default:
		return nil, fault.New(fault.Validation, "unknown grab parameter %q", param)
	}
}

func (p *Profile) String() string {
	return fmt.Sprintf("calibration v%d (x: %v, y: %d rows)", p.Version, p.Positions.X, len(p.Positions.Y))
}
