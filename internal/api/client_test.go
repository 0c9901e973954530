package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"klinika-scheduler/internal/auth"
	"klinika-scheduler/internal/metrics"
	"klinika-scheduler/internal/model"
	"klinika-scheduler/internal/session"
)

type recorded struct {
	Method string
	Path   string
	Query  string
	Auth   string
	ReqID  string
	Body   string
}

// backend is a fake clinic API that records requests and answers from routes.
type backend struct {
	mu     sync.Mutex
	calls  []recorded
	routes map[string]func(w http.ResponseWriter, r *http.Request)
}

func (b *backend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	b.mu.Lock()
	b.calls = append(b.calls, recorded{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.RawQuery,
		Auth:   r.Header.Get("Authorization"),
		ReqID:  r.Header.Get("X-Request-ID"),
		Body:   string(body),
	})
	b.mu.Unlock()

	if h, ok := b.routes[r.Method+" "+r.URL.Path]; ok {
		h(w, r)
		return
	}
	http.NotFound(w, r)
}

func (b *backend) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.calls)
}

func (b *backend) last() recorded {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[len(b.calls)-1]
}

func jsonReply(v any) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(v)
	}
}

func statusReply(code int, body string) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(code)
		io.WriteString(w, body)
	}
}

func setup(t *testing.T, routes map[string]func(http.ResponseWriter, *http.Request)) (*Client, *backend, *session.Session) {
	t.Helper()
	b := &backend{routes: routes}
	srv := httptest.NewServer(b)
	t.Cleanup(srv.Close)

	sess := session.New(session.NewMemoryStore())
	c, err := New(sess, Options{BaseURL: srv.URL + "/api", Metrics: metrics.New()})
	require.NoError(t, err)
	return c, b, sess
}

func login(t *testing.T, sess *session.Session, role string) string {
	t.Helper()
	tok, err := auth.MakeToken("user-1", role, "backend", time.Hour)
	require.NoError(t, err)
	_, err = sess.Login(context.Background(), tok)
	require.NoError(t, err)
	return tok
}

func TestNewRejectsBadURL(t *testing.T) {
	_, err := New(session.New(session.NewMemoryStore()), Options{BaseURL: "::nope"})
	assert.Error(t, err)
}

func TestBearerAndRequestID(t *testing.T) {
	c, b, sess := setup(t, map[string]func(http.ResponseWriter, *http.Request){
		"GET /api/Appointment": jsonReply([]map[string]any{
			{"id": "a1", "appointmentDate": "2025-03-03T09:30:00", "status": 0, "doctorId": "d1"},
		}),
	})
	tok := login(t, sess, auth.RoleAdmin)

	list, err := c.Appointments(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "a1", list[0].ID)
	assert.Equal(t, model.StatusPendingDoctor, list[0].Status)
	assert.Equal(t, 9, list[0].AppointmentDate.Hour())

	got := b.last()
	assert.Equal(t, "Bearer "+tok, got.Auth)
	assert.Len(t, got.ReqID, 36)
}

func TestAuthedCallNeedsToken(t *testing.T) {
	c, b, _ := setup(t, nil)
	_, err := c.Appointments(context.Background())
	assert.ErrorIs(t, err, session.ErrNoToken)
	assert.Zero(t, b.count())
}

func TestUnauthorizedClearsSession(t *testing.T) {
	c, _, sess := setup(t, map[string]func(http.ResponseWriter, *http.Request){
		"GET /api/Auth/GetUserData": statusReply(http.StatusUnauthorized, ""),
	})
	login(t, sess, auth.RolePatient)

	events := make(chan session.Event, 1)
	sess.Subscribe(func(ev session.Event, _ *auth.Claims) { events <- ev })

	_, err := c.UserData(context.Background())
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.False(t, sess.LoggedIn())
	assert.Equal(t, session.Invalidated, <-events)
}

func TestErrorMessage(t *testing.T) {
	c, _, sess := setup(t, map[string]func(http.ResponseWriter, *http.Request){
		"PUT /api/Appointment/a1/assign-doctor": statusReply(http.StatusBadRequest, `{"message":"Doctor is busy at that time"}`),
		"DELETE /api/News/n1":                   statusReply(http.StatusInternalServerError, "boom"),
	})
	login(t, sess, auth.RoleAdmin)

	err := c.AssignDoctor(context.Background(), "a1", "d1")
	var apiErr *Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "Doctor is busy at that time", apiErr.Message)
	assert.True(t, IsConflict(err))
	assert.False(t, errors.Is(err, ErrUnauthorized))

	err = c.DeleteNews(context.Background(), "n1")
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "boom", apiErr.Message)

	_, err = c.Appointment(context.Background(), "missing")
	assert.True(t, IsNotFound(err))
}

func TestStatusTransitions(t *testing.T) {
	ok := statusReply(http.StatusNoContent, "")
	c, b, sess := setup(t, map[string]func(http.ResponseWriter, *http.Request){
		"PUT /api/Appointment/a1/assign-doctor": ok,
		"PUT /api/Appointment/a1/approve":       ok,
		"PUT /api/Appointment/a1/complete":      ok,
		"PUT /api/Appointment/a1/cancel":        ok,
	})
	login(t, sess, auth.RoleAdmin)
	ctx := context.Background()

	require.NoError(t, c.AssignDoctor(ctx, "a1", "d1"))
	assert.JSONEq(t, `{"doctorId":"d1"}`, b.last().Body)

	require.NoError(t, c.ApproveAppointment(ctx, "a1"))
	require.NoError(t, c.CompleteAppointment(ctx, "a1", "all good"))
	assert.JSONEq(t, `{"notes":"all good"}`, b.last().Body)

	require.NoError(t, c.CancelAppointment(ctx, "a1"))
	assert.Equal(t, "/api/Appointment/a1/cancel", b.last().Path)

	assert.Error(t, c.CancelAppointment(ctx, ""))
}

func TestCheckAvailability(t *testing.T) {
	var answer atomic.Value
	answer.Store(`true`)
	c, b, _ := setup(t, map[string]func(http.ResponseWriter, *http.Request){
		"GET /api/Appointment/check-availability": func(w http.ResponseWriter, _ *http.Request) {
			io.WriteString(w, answer.Load().(string))
		},
	})
	model.Zone = time.UTC
	slot := time.Date(2025, 3, 3, 8, 30, 0, 0, time.UTC)

	free, err := c.CheckAvailability(context.Background(), slot)
	require.NoError(t, err)
	assert.True(t, free)
	assert.Equal(t, "date=2025-03-03T08%3A30%3A00", b.last().Query)
	assert.Empty(t, b.last().Auth)

	answer.Store(`{"isAvailable": false}`)
	free, err = c.CheckAvailability(context.Background(), slot)
	require.NoError(t, err)
	assert.False(t, free)

	answer.Store(`{"available": true}`)
	free, err = c.CheckAvailability(context.Background(), slot)
	require.NoError(t, err)
	assert.True(t, free)

	answer.Store(`"maybe"`)
	_, err = c.CheckAvailability(context.Background(), slot)
	assert.Error(t, err)
}

func TestLoginStoresToken(t *testing.T) {
	tok, err := auth.MakeToken("doc-3", auth.RoleDoctor, "backend", time.Hour)
	require.NoError(t, err)

	for name, reply := range map[string]any{
		"object": map[string]string{"token": tok},
		"bare":   tok,
	} {
		t.Run(name, func(t *testing.T) {
			c, b, sess := setup(t, map[string]func(http.ResponseWriter, *http.Request){
				"POST /api/Auth/Login": jsonReply(reply),
			})
			claims, err := c.Login(context.Background(), "doc@klinika.ba", "pw")
			require.NoError(t, err)
			assert.Equal(t, "doc-3", claims.UserID)
			assert.True(t, sess.Can(auth.RoleDoctor))
			assert.JSONEq(t, `{"email":"doc@klinika.ba","password":"pw"}`, b.last().Body)
		})
	}
}

func TestLoginBadCredentials(t *testing.T) {
	c, _, sess := setup(t, map[string]func(http.ResponseWriter, *http.Request){
		"POST /api/Auth/Login": statusReply(http.StatusUnauthorized, `{"message":"Invalid credentials"}`),
	})
	_, err := c.Login(context.Background(), "x@y.z", "bad")
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.False(t, sess.LoggedIn())

	_, err = c.Login(context.Background(), "", "")
	assert.Error(t, err)
}

func TestAuthenticateLeavesSession(t *testing.T) {
	patient, err := auth.MakeToken("pat-9", auth.RolePatient, "backend", time.Hour)
	require.NoError(t, err)
	c, b, sess := setup(t, map[string]func(http.ResponseWriter, *http.Request){
		"POST /api/Auth/Login": jsonReply(map[string]string{"token": patient}),
	})
	admin := login(t, sess, auth.RoleAdmin)

	tok, claims, err := c.Authenticate(context.Background(), "pat@klinika.ba", "pw")
	require.NoError(t, err)
	assert.Equal(t, patient, tok)
	assert.Equal(t, "pat-9", claims.UserID)
	assert.Empty(t, b.last().Auth)

	got, err := sess.Token()
	require.NoError(t, err)
	assert.Equal(t, admin, got)
	assert.True(t, sess.Can(auth.RoleAdmin))
}

func TestFailedLoginKeepsSession(t *testing.T) {
	c, _, sess := setup(t, map[string]func(http.ResponseWriter, *http.Request){
		"POST /api/Auth/Login": statusReply(http.StatusUnauthorized, `{"message":"Invalid credentials"}`),
	})
	login(t, sess, auth.RoleAdmin)

	_, _, err := c.Authenticate(context.Background(), "x@y.z", "bad")
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.True(t, sess.LoggedIn())
}

func TestUserDataFor(t *testing.T) {
	caller, err := auth.MakeToken("pat-9", auth.RolePatient, "backend", time.Hour)
	require.NoError(t, err)
	c, b, sess := setup(t, map[string]func(http.ResponseWriter, *http.Request){
		"GET /api/Auth/GetUserData": func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer "+caller {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			jsonReply(map[string]any{"id": "pat-9", "roles": []string{"Patient"}})(w, r)
		},
	})
	login(t, sess, auth.RoleAdmin)

	u, err := c.UserDataFor(context.Background(), caller)
	require.NoError(t, err)
	assert.Equal(t, "pat-9", u.ID)
	assert.True(t, u.Roles.Has(auth.RolePatient))
	assert.Equal(t, "Bearer "+caller, b.last().Auth)

	// a rejected caller token is not the daemon's problem
	_, err = c.UserDataFor(context.Background(), "forged")
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.True(t, sess.LoggedIn())

	_, err = c.UserDataFor(context.Background(), "")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestPublicCatalog(t *testing.T) {
	c, b, _ := setup(t, map[string]func(http.ResponseWriter, *http.Request){
		"GET /api/Service":       jsonReply([]map[string]any{{"id": "s1", "name": "Eye exam", "price": 40}}),
		"GET /api/Roles/doctors": jsonReply([]map[string]any{{"id": "d1", "firstName": "Ana", "lastName": "Kovač", "roles": "Doctor"}}),
		"GET /api/Review":        jsonReply([]map[string]any{{"id": "r1", "rating": 5, "comment": "great"}}),
	})
	ctx := context.Background()

	svcs, err := c.Services(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Eye exam", svcs[0].Name)

	docs, err := c.Doctors(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Ana Kovač", docs[0].FullName())
	assert.Equal(t, "Doctor", docs[0].Roles.Primary())

	revs, err := c.Reviews(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, 5, revs[0].Rating)
	assert.Equal(t, "doctorId=d1", b.last().Query)
}

func TestRateLimitedClient(t *testing.T) {
	b := &backend{routes: map[string]func(http.ResponseWriter, *http.Request){
		"GET /api/News": jsonReply([]any{}),
	}}
	srv := httptest.NewServer(b)
	defer srv.Close()

	c, err := New(session.New(session.NewMemoryStore()), Options{BaseURL: srv.URL + "/api", RPS: 1, Burst: 1})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err = c.News(ctx)
	require.NoError(t, err)
	// the second call would wait a full second
	_, err = c.News(ctx)
	assert.Error(t, err)
	assert.Equal(t, 1, b.count())
}
