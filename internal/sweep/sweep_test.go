package sweep

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"klinika-scheduler/internal/api"
	"klinika-scheduler/internal/metrics"
	"klinika-scheduler/internal/model"
	"klinika-scheduler/internal/session"
)

var now = time.Date(2025, 3, 3, 12, 0, 0, 0, time.UTC)

type fakeBackend struct {
	mu        sync.Mutex
	list      []model.Appointment
	fail      map[string]error
	cancelled []string
	block     chan struct{}
	listErr   error
	lists     int
}

func (f *fakeBackend) Appointments(ctx context.Context) ([]model.Appointment, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists++
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]model.Appointment(nil), f.list...), nil
}

func (f *fakeBackend) setList(list []model.Appointment, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.list, f.listErr = list, err
}

func (f *fakeBackend) CancelAppointment(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[id]; err != nil {
		return err
	}
	f.cancelled = append(f.cancelled, id)
	return nil
}

func (f *fakeBackend) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.cancelled...)
}

type memLedger struct {
	done     map[string]bool
	failures map[string]int
}

func newMemLedger() *memLedger {
	return &memLedger{done: map[string]bool{}, failures: map[string]int{}}
}

func (l *memLedger) Cancelled(ctx context.Context, ids []string) (map[string]bool, error) {
	out := map[string]bool{}
	for _, id := range ids {
		if l.done[id] {
			out[id] = true
		}
	}
	return out, nil
}

func (l *memLedger) RecordCancelled(ctx context.Context, id string, at time.Time) error {
	l.done[id] = true
	return nil
}

func (l *memLedger) RecordFailure(ctx context.Context, id string, at time.Time, cause error) error {
	l.failures[id]++
	return nil
}

func scrape(t *testing.T, m *metrics.Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	b, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(b)
}

func appt(id string, at time.Time, st model.Status) model.Appointment {
	return model.Appointment{ID: id, AppointmentDate: model.At(at), Status: st}
}

func sample() []model.Appointment {
	return []model.Appointment{
		appt("past-pending", now.Add(-time.Hour), model.StatusPendingDoctor),
		appt("past-approved", now.Add(-time.Hour), model.StatusApproved),
		appt("future-pending", now.Add(time.Hour), model.StatusPendingDoctor),
		appt("past-cancelled", now.Add(-2*time.Hour), model.StatusCancelled),
		appt("old-pending", now.AddDate(0, 0, -3), model.StatusPendingDoctor),
	}
}

func TestExpired(t *testing.T) {
	got := Expired(sample(), now)
	require.Len(t, got, 2)
	assert.Equal(t, "past-pending", got[0].ID)
	assert.Equal(t, "old-pending", got[1].ID)

	assert.Empty(t, Expired([]model.Appointment{appt("edge", now, model.StatusPendingDoctor)}, now))
}

func TestRunOnceCancelsExpired(t *testing.T) {
	fb := &fakeBackend{list: sample()}
	m := metrics.New()
	s := New(fb, WithClock(func() time.Time { return now }), WithMetrics(m))

	rep, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, rep.Scanned)
	assert.Equal(t, 2, rep.Expired)
	assert.ElementsMatch(t, []string{"past-pending", "old-pending"}, rep.Cancelled)
	assert.Empty(t, rep.Failed)
	assert.ElementsMatch(t, []string{"past-pending", "old-pending"}, fb.calls())

	for _, a := range s.Snapshot() {
		if a.ID == "past-pending" || a.ID == "old-pending" {
			assert.Equal(t, model.StatusCancelled, a.Status, a.ID)
		}
	}
	assert.Contains(t, scrape(t, m), `klinika_sweep_runs_total{outcome="ok"} 1`)
	assert.Contains(t, scrape(t, m), `klinika_sweep_cancellations_total{result="ok"} 2`)
}

func TestRunOnceNoDoubleCancel(t *testing.T) {
	fb := &fakeBackend{list: sample()}
	s := New(fb, WithClock(func() time.Time { return now }))

	_, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	// the backend still reports them pending
	rep, err := s.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Empty(t, rep.Cancelled)
	assert.ElementsMatch(t, []string{"past-pending", "old-pending"}, rep.Skipped)
	assert.Len(t, fb.calls(), 2)
}

func TestRunOnceForgetsSettledCancellations(t *testing.T) {
	fb := &fakeBackend{list: sample()}
	s := New(fb, WithClock(func() time.Time { return now }))

	_, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Len(t, s.done, 2)

	settled := sample()
	for i := range settled {
		if settled[i].ID == "past-pending" {
			settled[i].Status = model.StatusCancelled
		}
	}
	fb.setList(settled, nil)
	_, err = s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"old-pending": true}, s.done)

	fb.setList(nil, nil)
	_, err = s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, s.done)
}

func TestRunOnceLogsBackIn(t *testing.T) {
	for _, cause := range []error{session.ErrNoToken, api.ErrUnauthorized} {
		t.Run(cause.Error(), func(t *testing.T) {
			fb := &fakeBackend{}
			fb.setList(nil, fmt.Errorf("Appointment: %w", cause))
			logins := 0
			s := New(fb,
				WithClock(func() time.Time { return now }),
				WithReauth(func(ctx context.Context) error {
					logins++
					fb.setList(sample(), nil)
					return nil
				}),
			)

			rep, err := s.RunOnce(context.Background())
			require.NoError(t, err)
			assert.Equal(t, 1, logins)
			assert.Equal(t, 2, fb.lists)
			assert.Len(t, rep.Cancelled, 2)
		})
	}
}

func TestRunOnceReauthFails(t *testing.T) {
	fb := &fakeBackend{listErr: session.ErrNoToken}
	bad := errors.New("wrong password")
	s := New(fb, WithReauth(func(ctx context.Context) error { return bad }))

	_, err := s.RunOnce(context.Background())
	assert.ErrorIs(t, err, bad)
	assert.Equal(t, 1, fb.lists)

	// without a way to log in the error is returned as is
	s = New(fb)
	_, err = s.RunOnce(context.Background())
	assert.ErrorIs(t, err, session.ErrNoToken)
}

func TestRunOnceOtherErrorsDoNotReauth(t *testing.T) {
	fb := &fakeBackend{listErr: &api.Error{StatusCode: 503, Endpoint: "Appointment"}}
	logins := 0
	s := New(fb, WithReauth(func(ctx context.Context) error { logins++; return nil }))

	_, err := s.RunOnce(context.Background())
	assert.Error(t, err)
	assert.Zero(t, logins)
}

func TestRunOnceRetriesFailures(t *testing.T) {
	boom := errors.New("503")
	fb := &fakeBackend{list: sample(), fail: map[string]error{"old-pending": boom}}
	l := newMemLedger()
	s := New(fb, WithClock(func() time.Time { return now }), WithLedger(l))

	rep, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"past-pending"}, rep.Cancelled)
	assert.ErrorIs(t, rep.Failed["old-pending"], boom)
	assert.Equal(t, 1, l.failures["old-pending"])
	assert.True(t, l.done["past-pending"])

	fb.mu.Lock()
	fb.fail = nil
	fb.mu.Unlock()

	rep, err = s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"old-pending"}, rep.Cancelled)
	assert.Equal(t, []string{"past-pending"}, rep.Skipped)
}

func TestRunOnceLedgerSurvivesRestart(t *testing.T) {
	l := newMemLedger()
	l.done["past-pending"] = true
	fb := &fakeBackend{list: sample()}
	s := New(fb, WithClock(func() time.Time { return now }), WithLedger(l))

	rep, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"old-pending"}, rep.Cancelled)
	assert.Equal(t, []string{"past-pending"}, rep.Skipped)
}

func TestRunOnceSkipsWhileRunning(t *testing.T) {
	fb := &fakeBackend{list: sample(), block: make(chan struct{})}
	m := metrics.New()
	s := New(fb, WithClock(func() time.Time { return now }), WithMetrics(m))

	done := make(chan error, 1)
	go func() {
		_, err := s.RunOnce(context.Background())
		done <- err
	}()
	require.Eventually(t, s.running.Load, time.Second, 5*time.Millisecond)

	_, err := s.RunOnce(context.Background())
	assert.ErrorIs(t, err, ErrRunning)

	close(fb.block)
	require.NoError(t, <-done)
	assert.Contains(t, scrape(t, m), `klinika_sweep_runs_total{outcome="skipped"} 1`)
}

func TestStartRunsImmediately(t *testing.T) {
	fb := &fakeBackend{list: sample()}
	s := New(fb, WithClock(func() time.Time { return now }))

	require.NoError(t, s.Start(context.Background(), "@every 1h"))
	defer s.Stop()

	assert.Eventually(t, func() bool { return len(fb.calls()) == 2 }, time.Second, 10*time.Millisecond)
}

func TestStartBadSchedule(t *testing.T) {
	s := New(&fakeBackend{})
	assert.Error(t, s.Start(context.Background(), "every now and then"))
}
