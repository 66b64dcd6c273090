package calib

import (
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/Rivega42/bookcab/pkg/fault"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "calibration.json"))
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	return s
}

func TestMonotonicityRejected(t *testing.T) {
	s := newTestStore(t)
	before := s.Snapshot()

	tests := []struct {
		name string
		do   func() error
	}{
		{"x equal to neighbor", func() error { return s.SetPositionX(1, before.Positions.X[0]) }},
		{"x below neighbor", func() error { return s.SetPositionX(2, before.Positions.X[1]-1) }},
		{"y equal to neighbor", func() error { return s.SetPositionY(5, before.Positions.Y[4]) }},
		{"y above next", func() error { return s.SetPositionY(10, before.Positions.Y[11]+1) }},
		{"bulk wrong length", func() error { return s.SetPositions([]int{1, 2}, before.Positions.Y) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.do()
			if !fault.IsKind(err, fault.Validation) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if got := s.Snapshot(); !reflect.DeepEqual(got.Positions, before.Positions) {
				t.Errorf("store changed after rejected write: %v", got.Positions)
			}
		})
	}
}

func TestValidPositionWrites(t *testing.T) {
	s := newTestStore(t)
	p := s.Snapshot()

	if err := s.SetPositionX(1, p.Positions.X[0]+1); err != nil {
		t.Fatalf("SetPositionX: %v", err)
	}
	if got := s.Snapshot().Positions.X[1]; got != p.Positions.X[0]+1 {
		t.Errorf("x[1] = %d, want %d", got, p.Positions.X[0]+1)
	}

	// Reload from disk and make sure the write persisted.
	s2, err := NewStore(s.filepath)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got := s2.Snapshot().Positions.X[1]; got != p.Positions.X[0]+1 {
		t.Errorf("persisted x[1] = %d, want %d", got, p.Positions.X[0]+1)
	}
}

func TestKinematicsValidation(t *testing.T) {
	s := newTestStore(t)

	if err := s.SetKinematics(Kinematics{}); !fault.IsKind(err, fault.Validation) {
		t.Errorf("all-zero kinematics accepted: %v", err)
	}
	if err := s.SetKinematics(Kinematics{XPlusDirA: 2, YPlusDirA: 1, XPlusDirB: 1, YPlusDirB: -1}); !fault.IsKind(err, fault.Validation) {
		t.Errorf("non-unit coefficient accepted: %v", err)
	}
	if err := s.SetKinematics(Kinematics{XPlusDirA: 1, YPlusDirA: 1, XPlusDirB: 1, YPlusDirB: -1}); err != nil {
		t.Errorf("valid kinematics rejected: %v", err)
	}
}

func TestToggleBlocked(t *testing.T) {
	s := newTestStore(t)

	blocked, err := s.ToggleBlocked(SideFront, 1, 7)
	if err != nil || !blocked {
		t.Fatalf("first toggle: blocked=%t err=%v", blocked, err)
	}
	if !s.IsBlocked(SideFront, 1, 7) {
		t.Error("cell should be blocked")
	}
	if s.IsBlocked(SideBack, 1, 7) {
		t.Error("other side should not be blocked")
	}

	blocked, err = s.ToggleBlocked(SideFront, 1, 7)
	if err != nil || blocked {
		t.Fatalf("second toggle: blocked=%t err=%v", blocked, err)
	}
	if s.IsBlocked(SideFront, 1, 7) {
		t.Error("cell should be unblocked again")
	}

	if _, err := s.ToggleBlocked(SideFront, 3, 7); !fault.IsKind(err, fault.Validation) {
		t.Errorf("out-of-grid toggle accepted: %v", err)
	}
}

func TestAdjustGrab(t *testing.T) {
	s := newTestStore(t)
	start := s.Snapshot().GrabBack.Extend2

	v, err := s.AdjustGrab(SideBack, GrabExtend2, +100)
	if err != nil {
		t.Fatalf("AdjustGrab: %v", err)
	}
	if v != start+100 {
		t.Errorf("extend2 = %d, want %d", v, start+100)
	}

	// Driving a distance non-positive must be rejected.
	if _, err := s.AdjustGrab(SideBack, GrabExtend2, -(start + 200)); !fault.IsKind(err, fault.Validation) {
		t.Errorf("non-positive grab distance accepted: %v", err)
	}
}

func TestDocumentKeys(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.ToggleBlocked(SideFront, 0, 3); err != nil {
		t.Fatal(err)
	}

	b, err := s.Export()
	if err != nil {
		t.Fatalf("Export: %v", err)
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(b, &doc); err != nil {
		t.Fatalf("export is not a JSON object: %v", err)
	}
	for _, key := range []string{
		"kinematics", "positions", "speeds", "servos",
		"grab_front", "grab_back", "blocked_cells",
	} {
		if _, ok := doc[key]; !ok {
			t.Errorf("document missing top-level key %q", key)
		}
	}

	var blocked struct {
		Front map[string][]int `json:"front"`
	}
	if err := json.Unmarshal(doc["blocked_cells"], &blocked); err != nil {
		t.Fatalf("blocked_cells shape: %v", err)
	}
	if got := blocked.Front["0"]; len(got) != 1 || got[0] != 3 {
		t.Errorf("blocked_cells.front[\"0\"] = %v, want [3]", got)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nope", "calibration.json")
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	s, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore on missing file: %v", err)
	}
	if got := s.Snapshot(); !reflect.DeepEqual(got, Default()) {
		t.Error("missing file should yield factory defaults")
	}
}
