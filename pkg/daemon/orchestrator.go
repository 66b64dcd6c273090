package daemon

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Rivega42/bookcab/pkg/calib"
	"github.com/Rivega42/bookcab/pkg/cell"
	"github.com/Rivega42/bookcab/pkg/events"
	"github.com/Rivega42/bookcab/pkg/fault"
	"github.com/Rivega42/bookcab/pkg/motion"
)

// mechLock is the single-flight lock over the gantry, grab arm, locks and
// shutters. Wizard modes and orchestrator operations contend on it; held is
// advisory, for status reporting only.
type mechLock struct {
	mu   sync.Mutex
	held atomic.Bool
}

func (l *mechLock) TryLock() bool {
	if l.mu.TryLock() {
		l.held.Store(true)
		return true
	}
	return false
}

func (l *mechLock) Unlock() {
	l.held.Store(false)
	l.mu.Unlock()
}

func (l *mechLock) Held() bool { return l.held.Load() }

// Consecutive failure-path homing failures before the daemon refuses
// cabinet operations until an operator homes manually.
const degradedThreshold = 3

const recoverBudget = 2 * time.Minute

// Counters accumulate over the daemon's lifetime, for diagnostics.
type Counters struct {
	Issues       int `json:"issues"`
	Returns      int `json:"returns"`
	Extractions  int `json:"extractions"`
	Inventories  int `json:"inventories"`
	Faults       int `json:"faults"`
	HomeFailures int `json:"homeFailures"`
}

// BatchResult aggregates a multi-cell operation.
type BatchResult struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// InventoryResult aggregates a presence sweep.
type InventoryResult struct {
	Checked    int `json:"checked"`
	Verified   int `json:"verified"`
	Mismatched int `json:"mismatched"`
}

// Orchestrator sequences full cabinet operations: servo access, gantry
// positioning, grab cycles and the inventory bookkeeping that commits only
// after the physical sequence succeeded.
type Orchestrator struct {
	mech  *mechLock
	ctrl  *motion.Controller
	grab  *motion.Grab
	store *calib.Store
	inv   *cell.Inventory
	hub   *events.EventHub

	mu           sync.Mutex
	homeFailures int
	degraded     bool
	counters     Counters
}

func NewOrchestrator(mech *mechLock, ctrl *motion.Controller, grab *motion.Grab, store *calib.Store, inv *cell.Inventory, hub *events.EventHub) *Orchestrator {
	return &Orchestrator{
		mech:  mech,
		ctrl:  ctrl,
		grab:  grab,
		store: store,
		inv:   inv,
		hub:   hub,
	}
}

// Busy reports whether the mechanism lock is held.
func (o *Orchestrator) Busy() bool { return o.mech.Held() }

// Degraded reports whether the daemon requires operator intervention.
func (o *Orchestrator) Degraded() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.degraded
}

// Counters returns a copy of the lifetime counters.
func (o *Orchestrator) Counters() Counters {
	o.mu.Lock()
	defer o.mu.Unlock()
	c := o.counters
	c.HomeFailures = o.homeFailures
	return c
}

func (o *Orchestrator) count(f func(*Counters)) {
	o.mu.Lock()
	f(&o.counters)
	o.mu.Unlock()
}

// acquire takes the mechanism lock or rejects with busy, and refuses
// everything but manual homing while degraded.
func (o *Orchestrator) acquire() error {
	o.mu.Lock()
	degraded := o.degraded
	o.mu.Unlock()
	if degraded {
		return fault.New(fault.MechanismFault, "cabinet is degraded, home manually to recover")
	}
	if !o.mech.TryLock() {
		return fault.New(fault.Busy, "another cabinet operation is in progress")
	}
	return nil
}

func (o *Orchestrator) progress(step, total int, msg string) {
	o.hub.Publish(events.Progress, events.ProgressEvent{Step: step, Total: total, Message: msg})
}

func (o *Orchestrator) publishPosition() {
	pos := o.ctrl.Position()
	o.hub.Publish(events.Position, events.PositionEvent{X: pos.X, Y: pos.Y, Tray: pos.Tray})
}

func (o *Orchestrator) publishError(err error) {
	o.hub.Publish(events.Error, events.ErrorEvent{Kind: string(fault.KindOf(err)), Message: err.Error()})
}

// sideServos maps a cabinet side to its lock/shutter pair.
func sideServos(side cell.Side) int {
	if side == cell.Front {
		return 1
	}
	return 2
}

func (o *Orchestrator) openAccess(side cell.Side) error {
	which := sideServos(side)
	if err := o.ctrl.SetShutter(which, motion.TargetOpen); err != nil {
		return err
	}
	return o.ctrl.SetLock(which, motion.TargetOpen)
}

func (o *Orchestrator) closeAccess(side cell.Side) error {
	which := sideServos(side)
	if err := o.ctrl.SetLock(which, motion.TargetClosed); err != nil {
		return err
	}
	return o.ctrl.SetShutter(which, motion.TargetClosed)
}

// visit runs the full physical sequence for one cell: open access, move,
// run the grab cycle, close access. toCell pushes the carriage's book into
// the cell; otherwise the cycle pulls the cell's book out.
func (o *Orchestrator) visit(ctx context.Context, addr cell.Address, toCell bool) error {
	p := o.store.Snapshot()
	x, y, err := cell.Resolve(&p, addr)
	if err != nil {
		return err
	}

	o.progress(1, 4, "opening access for "+string(addr.Side))
	if err := o.openAccess(addr.Side); err != nil {
		return err
	}

	o.progress(2, 4, "moving to "+addr.String())
	if err := o.ctrl.MoveTo(ctx, x, y); err != nil {
		return err
	}
	o.publishPosition()

	o.progress(3, 4, "running grab cycle")
	if toCell {
		err = o.grab.Release(ctx, string(addr.Side))
	} else {
		err = o.grab.Engage(ctx, string(addr.Side))
	}
	if err != nil {
		return err
	}

	o.progress(4, 4, "closing access")
	return o.closeAccess(addr.Side)
}

// recover is the failure path: retract the arm, re-home every axis and park
// at the first cell position. A homing failure here feeds the degraded
// counter; operator homing resets it.
func (o *Orchestrator) recover() {
	ctx, cancel := context.WithTimeout(context.Background(), recoverBudget)
	defer cancel()

	err := o.homeEverything(ctx)
	o.mu.Lock()
	if err != nil {
		o.homeFailures++
		if o.homeFailures >= degradedThreshold {
			o.degraded = true
		}
		failures, degraded := o.homeFailures, o.degraded
		o.mu.Unlock()
		logrus.WithError(err).WithFields(logrus.Fields{
			"consecutiveFailures": failures,
			"degraded":            degraded,
		}).Error("failure-path homing failed")
		return
	}
	o.homeFailures = 0
	o.mu.Unlock()

	p := o.store.Snapshot()
	if err := o.ctrl.MoveTo(ctx, p.Positions.X[0], p.Positions.Y[0]); err != nil {
		logrus.WithError(err).Warn("post-recovery park failed")
	}
	o.publishPosition()
}

func (o *Orchestrator) homeEverything(ctx context.Context) error {
	for _, a := range []motion.Axis{motion.AxisTray, motion.AxisX, motion.AxisY} {
		if err := o.ctrl.Home(ctx, a); err != nil {
			return err
		}
	}
	return nil
}

// fail funnels every aborted operation: publish, recover, count.
func (o *Orchestrator) fail(err error) error {
	o.publishError(err)
	o.count(func(c *Counters) { c.Faults++ })
	o.recover()
	return err
}

// HomeAll homes every axis under the mechanism lock. A successful manual
// homing clears the degraded flag.
func (o *Orchestrator) HomeAll(ctx context.Context) error {
	if !o.mech.TryLock() {
		return fault.New(fault.Busy, "another cabinet operation is in progress")
	}
	defer o.mech.Unlock()

	if err := o.homeEverything(ctx); err != nil {
		o.publishError(err)
		o.mu.Lock()
		o.homeFailures++
		o.mu.Unlock()
		return err
	}

	o.mu.Lock()
	o.homeFailures = 0
	o.degraded = false
	o.mu.Unlock()
	o.publishPosition()
	logrus.Info("all axes homed")
	return nil
}

// Issue stores a book handed to the cabinet: pick the first free non-blocked
// cell, run the physical sequence, then bind the cell. The cell is reserved
// while the mechanism runs so a concurrent status read cannot hand it out.
func (o *Orchestrator) Issue(ctx context.Context, bookID, userID string) (cell.Address, error) {
	if bookID == "" {
		return cell.Address{}, fault.New(fault.Validation, "empty book id")
	}
	if _, found := o.inv.FindBook(bookID); found {
		return cell.Address{}, fault.New(fault.Validation, "book %q is already stored", bookID)
	}

	addr, ok := o.inv.FirstFree(func(a cell.Address) bool {
		return o.store.IsBlocked(string(a.Side), a.Col, a.Row)
	})
	if !ok {
		return cell.Address{}, fault.New(fault.NotFound, "no free cell available")
	}

	if err := o.acquire(); err != nil {
		return cell.Address{}, err
	}
	defer o.mech.Unlock()

	if err := o.inv.Reserve(addr); err != nil {
		return cell.Address{}, err
	}

	if err := o.visit(ctx, addr, true); err != nil {
		if rbErr := o.inv.Release(addr); rbErr != nil {
			logrus.WithError(rbErr).Error("reservation rollback failed")
		}
		return cell.Address{}, o.fail(err)
	}

	if err := o.inv.Bind(addr, bookID); err != nil {
		return cell.Address{}, err
	}
	o.count(func(c *Counters) { c.Issues++ })
	logrus.WithFields(logrus.Fields{"book": bookID, "user": userID, "cell": addr.String()}).Info("book issued to cell")
	return addr, nil
}

// Return hands a stored book back: find its cell, pull the book into the
// carriage and deliver it through the tray. The cell empties only after the
// physical sequence succeeded.
func (o *Orchestrator) Return(ctx context.Context, bookID string) (cell.Address, error) {
	addr, found := o.inv.FindBook(bookID)
	if !found {
		return cell.Address{}, fault.New(fault.NotFound, "book %q is not stored", bookID)
	}

	if err := o.acquire(); err != nil {
		return cell.Address{}, err
	}
	defer o.mech.Unlock()

	if err := o.visit(ctx, addr, false); err != nil {
		return cell.Address{}, o.fail(err)
	}

	if err := o.inv.Release(addr); err != nil {
		return cell.Address{}, err
	}
	o.count(func(c *Counters) { c.Returns++ })
	logrus.WithFields(logrus.Fields{"book": bookID, "cell": addr.String()}).Info("book returned")
	return addr, nil
}

// ExtractCell pulls the book out of one specific cell to the tray.
func (o *Orchestrator) ExtractCell(ctx context.Context, addr cell.Address) error {
	st, err := o.inv.Get(addr)
	if err != nil {
		return err
	}
	if st.Status != cell.StatusOccupied && st.Status != cell.StatusNeedsExtraction {
		return fault.New(fault.Validation, "cell %s is %s, nothing to extract", addr, st.Status)
	}

	if err := o.acquire(); err != nil {
		return err
	}
	defer o.mech.Unlock()

	if err := o.extractLocked(ctx, addr); err != nil {
		return o.fail(err)
	}
	o.count(func(c *Counters) { c.Extractions++ })
	return nil
}

func (o *Orchestrator) extractLocked(ctx context.Context, addr cell.Address) error {
	if err := o.visit(ctx, addr, false); err != nil {
		return err
	}
	return o.inv.Release(addr)
}

// ExtractAll empties every occupied non-blocked cell under one held lock,
// continuing past per-cell failures.
func (o *Orchestrator) ExtractAll(ctx context.Context) (BatchResult, error) {
	if err := o.acquire(); err != nil {
		return BatchResult{}, err
	}
	defer o.mech.Unlock()

	var res BatchResult
	targets := o.targets()
	for i, st := range targets {
		o.progress(i+1, len(targets), "extracting "+st.Address.String())
		if err := o.extractLocked(ctx, st.Address); err != nil {
			logrus.WithError(err).WithField("cell", st.Address.String()).Error("extraction failed, continuing")
			o.publishError(err)
			o.count(func(c *Counters) { c.Faults++ })
			o.recover()
			res.Failed++
			continue
		}
		res.Succeeded++
	}
	o.count(func(c *Counters) { c.Extractions += res.Succeeded })
	return res, nil
}

// targets lists occupied non-blocked cells in stable order.
func (o *Orchestrator) targets() []cell.State {
	out := []cell.State{}
	for _, st := range o.inv.Occupied() {
		if o.store.IsBlocked(string(st.Address.Side), st.Address.Col, st.Address.Row) {
			continue
		}
		out = append(out, st)
	}
	return out
}

// RunInventory probes every occupied non-blocked cell with a single grab
// phase. A cell whose probe fails is flagged needs_extraction; nothing else
// in the inventory changes.
func (o *Orchestrator) RunInventory(ctx context.Context) (InventoryResult, error) {
	if err := o.acquire(); err != nil {
		return InventoryResult{}, err
	}
	defer o.mech.Unlock()

	var res InventoryResult
	targets := o.targets()
	for i, st := range targets {
		o.progress(i+1, len(targets), "probing "+st.Address.String())
		res.Checked++
		if err := o.probe(ctx, st.Address); err != nil {
			logrus.WithError(err).WithField("cell", st.Address.String()).Warn("inventory probe mismatch")
			o.publishError(err)
			if mErr := o.inv.MarkExtraction(st.Address); mErr != nil {
				logrus.WithError(mErr).Error("marking cell for extraction failed")
			}
			o.recover()
			res.Mismatched++
			continue
		}
		res.Verified++
	}
	o.count(func(c *Counters) { c.Inventories++ })
	return res, nil
}

// probe moves to the cell and runs the first grab phase only, then retracts.
// A book that is not where the inventory says it is stalls the claw and
// surfaces as a mechanism fault.
func (o *Orchestrator) probe(ctx context.Context, addr cell.Address) error {
	p := o.store.Snapshot()
	x, y, err := cell.Resolve(&p, addr)
	if err != nil {
		return err
	}
	if err := o.ctrl.MoveTo(ctx, x, y); err != nil {
		return err
	}
	o.publishPosition()
	if err := o.grab.TestPhase(ctx, string(addr.Side), calib.GrabExtend1); err != nil {
		return err
	}
	return o.grab.Retract(ctx)
}
