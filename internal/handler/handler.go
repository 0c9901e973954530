package handler

import (
	"context"
	"errors"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"klinika-scheduler/internal/api"
	"klinika-scheduler/internal/auth"
	"klinika-scheduler/internal/model"
	"klinika-scheduler/internal/schedule"
	"klinika-scheduler/internal/session"
	"klinika-scheduler/internal/sweep"
)

// Backend is the part of api.Client the service calls.
type Backend interface {
	Authenticate(ctx context.Context, email, password string) (string, *auth.Claims, error)
	DoctorAppointments(ctx context.Context, doctorID string) ([]model.Appointment, error)
}

type Finder interface {
	Hours() schedule.Hours
	AvailableLabels(ctx context.Context, date time.Time) ([]string, error)
}

type Sweeper interface {
	RunOnce(ctx context.Context) (*sweep.Report, error)
}

type Handler struct {
	api     Backend
	finder  Finder
	sweeper Sweeper
	loc     *time.Location
}

type Option func(*Handler)

func WithLocation(loc *time.Location) Option { return func(s *Handler) { s.loc = loc } }

// New builds the service. sw may be nil when the sweep is disabled.
func New(b Backend, f Finder, sw Sweeper, opts ...Option) *Handler {
	h := &Handler{api: b, finder: f, sweeper: sw, loc: model.Zone}
	for _, o := range opts {
		o(h)
	}
	return h
}

// toStatus maps backend and session errors to gRPC codes.
func toStatus(err error) error {
	var apiErr *api.Error
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, "backend timeout")
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "canceled")
	case errors.Is(err, session.ErrNoToken):
		return status.Error(codes.FailedPrecondition, "scheduler is not logged in")
	case errors.Is(err, api.ErrUnauthorized):
		return status.Error(codes.Unauthenticated, "backend rejected the session")
	case api.IsNotFound(err):
		return status.Error(codes.NotFound, "not found")
	case errors.As(err, &apiErr):
		if apiErr.StatusCode == 403 {
			return status.Error(codes.PermissionDenied, apiErr.Message)
		}
		if apiErr.StatusCode >= 500 {
			return status.Error(codes.Unavailable, "backend unavailable")
		}
		return status.Error(codes.InvalidArgument, apiErr.Message)
	}
	return status.Error(codes.Unavailable, "backend unreachable")
}
