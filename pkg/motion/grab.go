package motion

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/Rivega42/bookcab/pkg/calib"
	"github.com/Rivega42/bookcab/pkg/fault"
)

// Grab executes the three-phase claw sequence that hooks a book into the
// carriage or releases it into a cell. All three distances are absolute tray
// depths, tuned per side through the wizard:
//
//	extend1  drive out past the first mechanical obstruction
//	retract  pull back to the neutral depth so the second extension
//	         cannot collide
//	extend2  final engagement depth
type Grab struct {
	c     *Controller
	store *calib.Store
}

// NewGrab returns a grab mechanism bound to the motion controller.
func NewGrab(c *Controller, store *calib.Store) *Grab {
	return &Grab{c: c, store: store}
}

func (g *Grab) params(side string) (calib.Grab, error) {
	p := g.store.Snapshot()
	switch side {
	case calib.SideFront:
		return p.GrabFront, nil
	case calib.SideBack:
		return p.GrabBack, nil
	default:
		return calib.Grab{}, fault.New(fault.Validation, "unknown side %q", side)
	}
}

// run executes the phase list, aborting on the first failure and leaving the
// arm retracted (safe state) before surfacing the error.
func (g *Grab) run(ctx context.Context, side string, depths []int) error {
	if err := g.c.beginOp(StateTrayMoving, false); err != nil {
		return err
	}
	defer g.c.endOp()

	for i, depth := range depths {
		if err := ctx.Err(); err != nil {
			g.retractBestEffort(side)
			return err
		}
		if err := g.c.moveTrayLocked(ctx, depth); err != nil {
			logrus.WithFields(logrus.Fields{
				"side":  side,
				"phase": i,
				"depth": depth,
			}).WithError(err).Error("grab phase failed, retracting")
			g.retractBestEffort(side)
			return err
		}
	}
	return nil
}

// retractBestEffort pulls the arm back to zero after a failed phase. The
// original error is what the caller sees; this only tries to leave the
// mechanism safe.
func (g *Grab) retractBestEffort(side string) {
	ctx, cancel := context.WithTimeout(context.Background(), trayRecoverBudget)
	defer cancel()
	if err := g.c.homeTray(ctx); err != nil {
		logrus.WithField("side", side).WithError(err).Error("grab recovery retract failed")
	}
}

// Engage runs the full sequence to hook a book, ending retracted with the
// book in the carriage.
func (g *Grab) Engage(ctx context.Context, side string) error {
	p, err := g.params(side)
	if err != nil {
		return err
	}
	return g.run(ctx, side, []int{p.Extend1, p.Retract, p.Extend2, 0})
}

// Release runs the same sequence in the cell's direction to unhook the book.
// The hook geometry makes engage and release symmetric; only the per-side
// distances differ.
func (g *Grab) Release(ctx context.Context, side string) error {
	return g.Engage(ctx, side)
}

// TestPhase drives the arm to a single phase depth and leaves it there for
// the operator to inspect. Wizard exit retracts the arm.
func (g *Grab) TestPhase(ctx context.Context, side string, param calib.GrabParam) error {
	p, err := g.params(side)
	if err != nil {
		return err
	}

	var depth int
	switch param {
	case calib.GrabExtend1:
		depth = p.Extend1
	case calib.GrabRetract:
		depth = p.Retract
	case calib.GrabExtend2:
		depth = p.Extend2
	default:
		return fault.New(fault.Validation, "unknown grab parameter %q", param)
	}

	return g.run(ctx, side, []int{depth})
}

// Retract drives the arm fully in (wizard exit, recovery).
func (g *Grab) Retract(ctx context.Context) error {
	if err := g.c.beginOp(StateTrayMoving, false); err != nil {
		return err
	}
	defer g.c.endOp()
	return g.c.homeTray(ctx)
}
