// Package motion turns logical motion requests into bounded, sensor-verified
// gantry movement. It owns the live motor position and the CoreXY transform
// between planar motion and the two physical motors.
package motion

import (
	"github.com/Rivega42/bookcab/pkg/calib"
	"github.com/Rivega42/bookcab/pkg/fault"
)

// ToMotorSteps converts a planar (dx, dy) request into per-motor step deltas
// using the calibrated sign matrix:
//
//	deltaA = x_plus_dir_a*dx + y_plus_dir_a*dy
//	deltaB = x_plus_dir_b*dx + y_plus_dir_b*dy
func ToMotorSteps(k calib.Kinematics, dx, dy int) (deltaA, deltaB int) {
	deltaA = k.XPlusDirA*dx + k.YPlusDirA*dy
	deltaB = k.XPlusDirB*dx + k.YPlusDirB*dy
	return deltaA, deltaB
}

// ToXY is the inverse transform, used for diagnostics and for reconstructing
// the carriage position after a move was cut short. For any valid sign
// matrix the determinant is +-2, so results are exact in half-steps.
func ToXY(k calib.Kinematics, deltaA, deltaB int) (dx, dy float64, err error) {
	det := k.XPlusDirA*k.YPlusDirB - k.YPlusDirA*k.XPlusDirB
	if det == 0 {
		return 0, 0, fault.New(fault.Validation, "kinematics matrix is singular")
	}
	dx = float64(k.YPlusDirB*deltaA-k.YPlusDirA*deltaB) / float64(det)
	dy = float64(k.XPlusDirA*deltaB-k.XPlusDirB*deltaA) / float64(det)
	return dx, dy, nil
}
