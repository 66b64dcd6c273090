package calib

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/Rivega42/bookcab/pkg/fault"
)

// Store guards the live Profile behind a validated mutation API. Every
// mutation validates before it lands and persists after it lands; a write
// that fails validation leaves both the in-memory profile and the file
// untouched.
type Store struct {
	mu       sync.RWMutex
	p        Profile
	filepath string
}

// NewStore loads the profile from path, falling back to Default when the
// file does not exist yet.
func NewStore(path string) (*Store, error) {
	s := &Store{filepath: path}
	if err := s.Load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Load reads the profile from disk. Missing file means factory defaults.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := os.ReadFile(s.filepath)
	if err != nil {
		if os.IsNotExist(err) {
			logrus.WithField("path", s.filepath).Info("no calibration file, using factory defaults")
			s.p = Default()
			return nil
		}
		return err
	}

	var p Profile
	if err := json.Unmarshal(b, &p); err != nil {
		return fault.New(fault.Validation, "parse calibration file: %v", err)
	}
	migrate(&p)
	if err := p.Validate(); err != nil {
		return err
	}
	s.p = p
	return nil
}

// migrate fills fields that older document versions did not carry.
func migrate(p *Profile) {
	def := Default()
	if p.Speeds.XY == 0 {
		p.Speeds.XY = def.Speeds.XY
	}
	if p.Speeds.Tray == 0 {
		p.Speeds.Tray = def.Speeds.Tray
	}
	if p.Speeds.Acceleration == 0 {
		p.Speeds.Acceleration = def.Speeds.Acceleration
	}
	if p.BlockedCells == nil {
		p.BlockedCells = BlockedCells{}
	}
	p.Version = CurrentVersion
}

// Save writes the profile atomically (temp file + rename).
func (s *Store) Save() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saveLocked()
}

func (s *Store) saveLocked() error {
	b, err := json.MarshalIndent(&s.p, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.filepath), ".calibration-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), s.filepath)
}

// Snapshot returns a deep copy for concurrent readers.
func (s *Store) Snapshot() Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.p.Clone()
}

// mutate applies fn to a copy, validates, then commits and persists.
func (s *Store) mutate(fn func(*Profile) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.p.Clone()
	if err := fn(&next); err != nil {
		return err
	}
	if err := next.Validate(); err != nil {
		return err
	}
	s.p = next
	return s.saveLocked()
}

// Replace swaps in a whole new document (calibration import).
func (s *Store) Replace(p Profile) error {
	return s.mutate(func(dst *Profile) error {
		p.Version = CurrentVersion
		*dst = p.Clone()
		return nil
	})
}

// Reset restores factory defaults.
func (s *Store) Reset() error {
	return s.mutate(func(dst *Profile) error {
		*dst = Default()
		return nil
	})
}

// SetKinematics replaces the sign matrix.
func (s *Store) SetKinematics(k Kinematics) error {
	return s.mutate(func(p *Profile) error {
		p.Kinematics = k
		return nil
	})
}

// SetPositionX writes one column position. The strict-monotonicity check in
// Validate rejects any value that would corrupt the table.
func (s *Store) SetPositionX(i, v int) error {
	return s.mutate(func(p *Profile) error {
		if i < 0 || i >= len(p.Positions.X) {
			return fault.New(fault.Validation, "column index %d outside [0,%d]", i, len(p.Positions.X)-1)
		}
		p.Positions.X[i] = v
		return nil
	})
}

// SetPositionY writes one row position.
func (s *Store) SetPositionY(i, v int) error {
	return s.mutate(func(p *Profile) error {
		if i < 0 || i >= len(p.Positions.Y) {
			return fault.New(fault.Validation, "row index %d outside [0,%d]", i, len(p.Positions.Y)-1)
		}
		p.Positions.Y[i] = v
		return nil
	})
}

// SetPositions bulk-replaces both tables (points10 completion).
func (s *Store) SetPositions(xs, ys []int) error {
	return s.mutate(func(p *Profile) error {
		p.Positions.X = append([]int(nil), xs...)
		p.Positions.Y = append([]int(nil), ys...)
		return nil
	})
}

// SetSpeeds replaces the motion profile limits.
func (s *Store) SetSpeeds(sp Speeds) error {
	return s.mutate(func(p *Profile) error {
		p.Speeds = sp
		return nil
	})
}

// SetServos replaces the lock servo angles.
func (s *Store) SetServos(sv Servos) error {
	return s.mutate(func(p *Profile) error {
		p.Servos = sv
		return nil
	})
}

// SetGrab writes one grab parameter for one side.
func (s *Store) SetGrab(side string, param GrabParam, value int) error {
	return s.mutate(func(p *Profile) error {
		g, err := p.grab(side)
		if err != nil {
			return err
		}
		f, err := g.param(param)
		if err != nil {
			return err
		}
		*f = value
		return nil
	})
}

// AdjustGrab applies a wizard delta (the UI exposes +-10 and +-100 buttons)
// and returns the new value.
func (s *Store) AdjustGrab(side string, param GrabParam, delta int) (int, error) {
	var out int
	err := s.mutate(func(p *Profile) error {
		g, err := p.grab(side)
		if err != nil {
			return err
		}
		f, err := g.param(param)
		if err != nil {
			return err
		}
		*f += delta
		out = *f
		return nil
	})
	return out, err
}

// ToggleBlocked flips one cell's membership in the blocked set and reports
// whether the cell is now blocked.
func (s *Store) ToggleBlocked(side string, col, row int) (bool, error) {
	if col < 0 || col >= Columns || row < 0 || row >= Rows {
		return false, fault.New(fault.Validation, "cell %s:%d:%d outside grid", side, col, row)
	}
	var blocked bool
	err := s.mutate(func(p *Profile) error {
		if side != SideFront && side != SideBack {
			return fault.New(fault.Validation, "unknown side %q", side)
		}
		blocked = p.toggleBlocked(side, col, row)
		return nil
	})
	return blocked, err
}

// IsBlocked reports whether the cell is excluded from service.
func (s *Store) IsBlocked(side string, col, row int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.p.IsBlocked(side, col, row)
}

// Export returns the raw document bytes as stored on disk.
func (s *Store) Export() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return json.MarshalIndent(&s.p, "", "  ")
}
