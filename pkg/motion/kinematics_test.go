package motion

import (
	"testing"

	"github.com/Rivega42/bookcab/pkg/calib"
)

func TestToMotorSteps(t *testing.T) {
	k := calib.Kinematics{XPlusDirA: 1, YPlusDirA: 1, XPlusDirB: 1, YPlusDirB: -1}

	tests := []struct {
		dx, dy         int
		wantA, wantB   int
	}{
		{100, 0, 100, 100},
		{0, 100, 100, -100},
		{100, 100, 200, 0},
		{-50, 25, -25, -75},
		{0, 0, 0, 0},
	}
	for _, tt := range tests {
		a, b := ToMotorSteps(k, tt.dx, tt.dy)
		if a != tt.wantA || b != tt.wantB {
			t.Errorf("ToMotorSteps(%d,%d) = (%d,%d), want (%d,%d)", tt.dx, tt.dy, a, b, tt.wantA, tt.wantB)
		}
	}
}

func TestToXYInverts(t *testing.T) {
	matrices := []calib.Kinematics{
		{XPlusDirA: 1, YPlusDirA: 1, XPlusDirB: 1, YPlusDirB: -1},
		{XPlusDirA: -1, YPlusDirA: 1, XPlusDirB: 1, YPlusDirB: 1},
		{XPlusDirA: 1, YPlusDirA: -1, XPlusDirB: -1, YPlusDirB: -1},
	}
	for _, k := range matrices {
		for _, pt := range [][2]int{{120, -340}, {0, 77}, {-8, 0}} {
			a, b := ToMotorSteps(k, pt[0], pt[1])
			dx, dy, err := ToXY(k, a, b)
			if err != nil {
				t.Fatalf("ToXY(%+v): %v", k, err)
			}
			if int(dx) != pt[0] || int(dy) != pt[1] {
				t.Errorf("k=%+v: round trip (%d,%d) -> (%v,%v)", k, pt[0], pt[1], dx, dy)
			}
		}
	}
}

func TestToXYSingular(t *testing.T) {
	k := calib.Kinematics{XPlusDirA: 1, YPlusDirA: 1, XPlusDirB: 1, YPlusDirB: 1}
	if _, _, err := ToXY(k, 10, 10); err == nil {
		t.Error("singular matrix should be rejected")
	}
}
