// Package sweep cancels appointments that were never given a doctor before
// their time passed.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"klinika-scheduler/internal/api"
	"klinika-scheduler/internal/logger"
	"klinika-scheduler/internal/metrics"
	"klinika-scheduler/internal/model"
	"klinika-scheduler/internal/session"
)

const DefaultSchedule = "@every 60s"

// ErrRunning is returned by RunOnce while another run is in progress.
var ErrRunning = errors.New("sweep already running")

type Backend interface {
	Appointments(ctx context.Context) ([]model.Appointment, error)
	CancelAppointment(ctx context.Context, id string) error
}

// Ledger remembers cancellations across restarts.
type Ledger interface {
	Cancelled(ctx context.Context, ids []string) (map[string]bool, error)
	RecordCancelled(ctx context.Context, id string, at time.Time) error
	RecordFailure(ctx context.Context, id string, at time.Time, cause error) error
}

type Report struct {
	Scanned   int
	Expired   int
	Cancelled []string
	// Skipped were cancelled before but still come back as pending
	Skipped []string
	Failed  map[string]error
}

type Sweeper struct {
	backend Backend
	ledger  Ledger
	log     *logrus.Entry
	metrics *metrics.Metrics
	now     func() time.Time
	reauth  func(ctx context.Context) error

	running atomic.Bool

	mu   sync.Mutex
	done map[string]bool
	last []model.Appointment

	cron *cron.Cron
	wg   sync.WaitGroup
}

type Option func(*Sweeper)

func WithLedger(l Ledger) Option {
	return func(s *Sweeper) { s.ledger = l }
}

func WithLogger(l *logger.Logger) Option {
	return func(s *Sweeper) { s.log = l.WithComponent("sweep") }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Sweeper) { s.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) { s.now = now }
}

// WithReauth logs the daemon back in when the backend says its session is
// gone. The listing is retried once after.
func WithReauth(login func(ctx context.Context) error) Option {
	return func(s *Sweeper) { s.reauth = login }
}

func New(b Backend, opts ...Option) *Sweeper {
	s := &Sweeper{
		backend: b,
		log:     logger.Discard().WithComponent("sweep"),
		now:     time.Now,
		done:    map[string]bool{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Expired picks the pending appointments whose time has passed.
func Expired(list []model.Appointment, now time.Time) []model.Appointment {
	var out []model.Appointment
	for _, a := range list {
		if a.Pending() && !a.AppointmentDate.IsZero() && a.AppointmentDate.Before(now) {
			out = append(out, a)
		}
	}
	return out
}

// RunOnce fetches the appointments and cancels the expired ones. A failed
// cancellation is left for the next run.
func (s *Sweeper) RunOnce(ctx context.Context) (*Report, error) {
	if !s.running.CompareAndSwap(false, true) {
		s.metrics.SweepRun("skipped")
		return nil, ErrRunning
	}
	defer s.running.Store(false)

	list, err := s.backend.Appointments(ctx)
	if err != nil && s.reauth != nil && loggedOut(err) {
		s.log.WithError(err).Warn("backend session lost, logging in again")
		if lerr := s.reauth(ctx); lerr != nil {
			s.metrics.SweepRun("error")
			return nil, fmt.Errorf("re-login: %w", lerr)
		}
		list, err = s.backend.Appointments(ctx)
	}
	if err != nil {
		s.metrics.SweepRun("error")
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	now := s.now()
	expired := Expired(list, now)
	rep := &Report{Scanned: len(list), Expired: len(expired), Failed: map[string]error{}}

	known, err := s.alreadyCancelled(ctx, expired)
	if err != nil {
		s.log.WithError(err).Warn("ledger lookup failed, using memory only")
	}

	for _, a := range expired {
		if known[a.ID] {
			rep.Skipped = append(rep.Skipped, a.ID)
			continue
		}
		log := s.log.WithField("appointment_id", a.ID)
		if err := s.backend.CancelAppointment(ctx, a.ID); err != nil {
			rep.Failed[a.ID] = err
			s.metrics.Cancellation("failed")
			log.WithError(err).Warn("cancel expired appointment")
			if s.ledger != nil {
				if lerr := s.ledger.RecordFailure(ctx, a.ID, now, err); lerr != nil {
					log.WithError(lerr).Error("record failure")
				}
			}
			continue
		}
		s.metrics.Cancellation("ok")
		rep.Cancelled = append(rep.Cancelled, a.ID)
		log.Info("cancelled expired appointment")

		s.mu.Lock()
		s.done[a.ID] = true
		s.mu.Unlock()
		if s.ledger != nil {
			if lerr := s.ledger.RecordCancelled(ctx, a.ID, now); lerr != nil {
				log.WithError(lerr).Error("record cancellation")
			}
		}
	}

	// optimistic local copy
	cancelled := make(map[string]bool, len(rep.Cancelled))
	for _, id := range rep.Cancelled {
		cancelled[id] = true
	}
	for i := range list {
		if cancelled[list[i].ID] {
			list[i].Status = model.StatusCancelled
		}
	}
	pending := make(map[string]bool, len(list))
	for _, a := range list {
		if a.Pending() {
			pending[a.ID] = true
		}
	}
	s.mu.Lock()
	s.last = list
	// the backend caught up on these
	for id := range s.done {
		if !pending[id] {
			delete(s.done, id)
		}
	}
	s.mu.Unlock()

	outcome := "ok"
	if len(rep.Failed) > 0 {
		outcome = "partial"
	}
	s.metrics.SweepRun(outcome)
	s.log.WithFields(logrus.Fields{
		"scanned":   rep.Scanned,
		"expired":   rep.Expired,
		"cancelled": len(rep.Cancelled),
		"failed":    len(rep.Failed),
	}).Debug("sweep done")
	return rep, nil
}

func loggedOut(err error) bool {
	return errors.Is(err, session.ErrNoToken) || errors.Is(err, api.ErrUnauthorized)
}

func (s *Sweeper) alreadyCancelled(ctx context.Context, expired []model.Appointment) (map[string]bool, error) {
	known := map[string]bool{}
	ids := make([]string, 0, len(expired))
	s.mu.Lock()
	for _, a := range expired {
		if s.done[a.ID] {
			known[a.ID] = true
		} else {
			ids = append(ids, a.ID)
		}
	}
	s.mu.Unlock()

	if s.ledger == nil || len(ids) == 0 {
		return known, nil
	}
	stored, err := s.ledger.Cancelled(ctx, ids)
	if err != nil {
		return known, err
	}
	for id, ok := range stored {
		if ok {
			known[id] = true
		}
	}
	return known, nil
}

// Snapshot is the appointment list of the last run with local cancellations
// applied.
func (s *Sweeper) Snapshot() []model.Appointment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Appointment(nil), s.last...)
}

// Start runs a sweep right away and then on schedule until Stop.
func (s *Sweeper) Start(ctx context.Context, schedule string) error {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(s.log))))
	job := func() {
		if _, err := s.RunOnce(ctx); err != nil && !errors.Is(err, ErrRunning) {
			s.log.WithError(err).Error("sweep failed")
		}
	}
	if _, err := c.AddFunc(schedule, job); err != nil {
		return fmt.Errorf("sweep schedule %q: %w", schedule, err)
	}
	s.cron = c
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		job()
	}()
	c.Start()
	s.log.WithField("schedule", schedule).Info("expiry sweep started")
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.wg.Wait()
}
