// Package cell maps logical cell addresses (side, column, row) to the
// calibration entries needed to reach them, and tracks what every cell
// currently holds.
package cell

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Rivega42/bookcab/pkg/calib"
	"github.com/Rivega42/bookcab/pkg/fault"
)

// Side of the cabinet.
type Side string

const (
	Front Side = calib.SideFront
	Back  Side = calib.SideBack
)

// ParseSide accepts the stored side names.
func ParseSide(s string) (Side, error) {
	switch Side(strings.ToLower(s)) {
	case Front:
		return Front, nil
	case Back:
		return Back, nil
	default:
		return "", fault.New(fault.Validation, "unknown side %q", s)
	}
}

// Address identifies one of the 126 cells.
type Address struct {
	Side Side `json:"side"`
	Col  int  `json:"col"`
	Row  int  `json:"row"`
}

// String renders "front:2:13".
func (a Address) String() string {
	return fmt.Sprintf("%s:%d:%d", a.Side, a.Col, a.Row)
}

// Valid checks grid bounds.
func (a Address) Valid() error {
	if a.Side != Front && a.Side != Back {
		return fault.New(fault.Validation, "unknown side %q", a.Side)
	}
	if a.Col < 0 || a.Col >= calib.Columns {
		return fault.New(fault.Validation, "column %d outside [0,%d]", a.Col, calib.Columns-1)
	}
	if a.Row < 0 || a.Row >= calib.Rows {
		return fault.New(fault.Validation, "row %d outside [0,%d]", a.Row, calib.Rows-1)
	}
	return nil
}

// ParseAddress parses "side:col:row".
func ParseAddress(s string) (Address, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return Address{}, fault.New(fault.Validation, "address %q must be side:col:row", s)
	}
	side, err := ParseSide(parts[0])
	if err != nil {
		return Address{}, err
	}
	col, err := strconv.Atoi(parts[1])
	if err != nil {
		return Address{}, fault.New(fault.Validation, "address %q: bad column", s)
	}
	row, err := strconv.Atoi(parts[2])
	if err != nil {
		return Address{}, fault.New(fault.Validation, "address %q: bad row", s)
	}
	a := Address{Side: side, Col: col, Row: row}
	if err := a.Valid(); err != nil {
		return Address{}, err
	}
	return a, nil
}

// All returns every valid address, front side first, column-major.
func All() []Address {
	out := make([]Address, 0, 2*calib.Columns*calib.Rows)
	for _, side := range []Side{Front, Back} {
		for col := 0; col < calib.Columns; col++ {
			for row := 0; row < calib.Rows; row++ {
				out = append(out, Address{Side: side, Col: col, Row: row})
			}
		}
	}
	return out
}

// Resolve returns the absolute gantry target for an address. Both sides
// share the same planar position tables; the side only selects which grab
// profile and which lock/shutter pair the orchestrator uses.
func Resolve(p *calib.Profile, a Address) (x, y int, err error) {
	if err := a.Valid(); err != nil {
		return 0, 0, err
	}
	return p.Positions.X[a.Col], p.Positions.Y[a.Row], nil
}

// Locate is the inverse of Resolve for diagnostics: given an absolute
// position, find the column/row whose table entries match exactly.
func Locate(p *calib.Profile, x, y int) (col, row int, ok bool) {
	col, row = -1, -1
	for i, v := range p.Positions.X {
		if v == x {
			col = i
			break
		}
	}
	for i, v := range p.Positions.Y {
		if v == y {
			row = i
			break
		}
	}
	return col, row, col >= 0 && row >= 0
}
