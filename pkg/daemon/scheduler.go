package daemon

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/Rivega42/bookcab/pkg/events"
)

// inventoryRunner is what the scheduler fires; satisfied by *Orchestrator.
type inventoryRunner interface {
	Busy() bool
	RunInventory(ctx context.Context) (InventoryResult, error)
}

// Scheduler fires the periodic inventory sweep from a cron expression. A
// sweep that would start while the mechanism is busy is skipped, never
// queued.
type Scheduler struct {
	runner inventoryRunner
	hub    *events.EventHub

	schedule cron.Schedule

	mu      sync.Mutex
	nextRun time.Time
	running bool

	stopCh chan struct{}
}

func NewScheduler(cronExpr string, runner inventoryRunner, hub *events.EventHub) (*Scheduler, error) {
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	schedule, err := parser.Parse(cronExpr)
	if err != nil {
		return nil, err
	}
	return &Scheduler{
		runner:   runner,
		hub:      hub,
		schedule: schedule,
		nextRun:  schedule.Next(time.Now()),
		stopCh:   make(chan struct{}),
	}, nil
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	go s.loop()
}

func (s *Scheduler) Stop() {
	select {
	case <-s.stopCh: // already closed
	default:
		close(s.stopCh)
	}
}

// NextRun reports the next scheduled sweep time.
func (s *Scheduler) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextRun
}

func (s *Scheduler) advance() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextRun = s.schedule.Next(time.Now())
	return s.nextRun
}

func (s *Scheduler) loop() {
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		logrus.Debug("inventory scheduler stopped")
	}()

	logrus.WithField("nextRun", s.NextRun().Format(time.DateTime)).Info("inventory scheduler started")

	for {
		wait := time.Until(s.NextRun())
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)

		select {
		case <-timer.C:
			s.fire()
			s.advance()
		case <-s.stopCh:
			timer.Stop()
			return
		}
	}
}

func (s *Scheduler) fire() {
	if s.runner.Busy() {
		logrus.Info("scheduled inventory skipped, mechanism busy")
		s.hub.Publish(events.Progress, events.ProgressEvent{Message: "scheduled inventory skipped, mechanism busy"})
		return
	}

	logrus.Info("running scheduled inventory")
	res, err := s.runner.RunInventory(context.Background())
	if err != nil {
		logrus.WithError(err).Error("scheduled inventory failed")
		return
	}
	logrus.WithFields(logrus.Fields{
		"checked":    res.Checked,
		"verified":   res.Verified,
		"mismatched": res.Mismatched,
	}).Info("scheduled inventory done")
}
