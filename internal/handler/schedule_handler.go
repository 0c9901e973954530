package handler

import (
	"context"
	"errors"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"klinika-scheduler/internal/model"
	"klinika-scheduler/internal/schedule"
	"klinika-scheduler/internal/sweep"
)

func (h *Handler) date(req *structpb.Struct) (time.Time, error) {
	s := field(req, "date")
	if s == "" {
		return time.Time{}, status.Error(codes.InvalidArgument, "date required")
	}
	d, err := time.ParseInLocation("2006-01-02", s, h.loc)
	if err != nil {
		return time.Time{}, status.Error(codes.InvalidArgument, "date must be YYYY-MM-DD")
	}
	return d, nil
}

func slotList(date time.Time, slots []string) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"date":    date.Format("2006-01-02"),
		"weekday": date.Weekday().String(),
		"closed":  len(slots) == 0,
		"slots":   anyList(slots),
	})
}

func (h *Handler) Slots(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	d, err := h.date(req)
	if err != nil {
		return nil, err
	}
	return slotList(d, h.finder.Hours().Slots(d))
}

// AvailableSlots asks the backend about every slot of the day and returns
// the free ones.
func (h *Handler) AvailableSlots(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	d, err := h.date(req)
	if err != nil {
		return nil, err
	}
	free, err := h.finder.AvailableLabels(ctx, d)
	if errors.Is(err, schedule.ErrClosed) {
		return slotList(d, nil)
	}
	if err != nil {
		return nil, toStatus(err)
	}
	return slotList(d, free)
}

func (h *Handler) CheckConflict(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	doctorID := field(req, "doctorId")
	if doctorID == "" {
		return nil, status.Error(codes.InvalidArgument, "doctorId required")
	}
	raw := field(req, "time")
	if raw == "" {
		return nil, status.Error(codes.InvalidArgument, "time required")
	}
	start, err := model.ParseTime(raw)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, "bad time")
	}

	existing, err := h.api.DoctorAppointments(ctx, doctorID)
	if err != nil {
		return nil, toStatus(err)
	}
	hits := schedule.Conflicts(existing, start.Time, field(req, "excludeId"))
	ids := make([]string, len(hits))
	for i, a := range hits {
		ids[i] = a.ID
	}
	return structpb.NewStruct(map[string]any{
		"conflict":  len(hits) > 0,
		"conflicts": anyList(ids),
	})
}

// Sweep runs the expiry sweep once, outside its schedule.
func (h *Handler) Sweep(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if h.sweeper == nil {
		return nil, status.Error(codes.FailedPrecondition, "sweep disabled")
	}
	rep, err := h.sweeper.RunOnce(ctx)
	if errors.Is(err, sweep.ErrRunning) {
		return nil, status.Error(codes.Aborted, "sweep already running")
	}
	if err != nil {
		return nil, toStatus(err)
	}

	failed := make(map[string]any, len(rep.Failed))
	for id, ferr := range rep.Failed {
		failed[id] = ferr.Error()
	}
	return structpb.NewStruct(map[string]any{
		"scanned":   rep.Scanned,
		"expired":   rep.Expired,
		"cancelled": anyList(rep.Cancelled),
		"skipped":   anyList(rep.Skipped),
		"failed":    failed,
	})
}

func anyList(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
