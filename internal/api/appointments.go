package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"klinika-scheduler/internal/model"
)

type NewAppointment struct {
	ServiceID       string     `json:"serviceId"`
	AppointmentDate model.Time `json:"appointmentDate"`
	Notes           string     `json:"notes,omitempty"`
}

func (c *Client) Appointments(ctx context.Context) ([]model.Appointment, error) {
	var out []model.Appointment
	err := c.get(ctx, "Appointment", "Appointment", &out)
	return out, err
}

func (c *Client) Appointment(ctx context.Context, id string) (*model.Appointment, error) {
	if id == "" {
		return nil, errEmptyID
	}
	var out model.Appointment
	if err := c.get(ctx, "Appointment/{id}", "Appointment/"+esc(id), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DoctorAppointments(ctx context.Context, doctorID string) ([]model.Appointment, error) {
	if doctorID == "" {
		return nil, errEmptyID
	}
	var out []model.Appointment
	err := c.get(ctx, "Appointment/doctor/{id}", "Appointment/doctor/"+esc(doctorID), &out)
	return out, err
}

func (c *Client) PatientAppointments(ctx context.Context, patientID string) ([]model.Appointment, error) {
	if patientID == "" {
		return nil, errEmptyID
	}
	var out []model.Appointment
	err := c.get(ctx, "Appointment/patient/{id}", "Appointment/patient/"+esc(patientID), &out)
	return out, err
}

func (c *Client) CreateAppointment(ctx context.Context, a NewAppointment) (*model.Appointment, error) {
	var out model.Appointment
	if err := c.send(ctx, http.MethodPost, "Appointment", "Appointment", a, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateAppointment(ctx context.Context, a *model.Appointment) error {
	if a.ID == "" {
		return errEmptyID
	}
	return c.send(ctx, http.MethodPut, "Appointment/{id}", "Appointment/"+esc(a.ID), a, nil)
}

func (c *Client) DeleteAppointment(ctx context.Context, id string) error {
	if id == "" {
		return errEmptyID
	}
	return c.send(ctx, http.MethodDelete, "Appointment/{id}", "Appointment/"+esc(id), nil, nil)
}

// AssignDoctor is the admin step that moves a pending appointment to a doctor.
// The backend may still reject it on a conflict the client did not see.
func (c *Client) AssignDoctor(ctx context.Context, id, doctorID string) error {
	if id == "" || doctorID == "" {
		return errEmptyID
	}
	body := map[string]string{"doctorId": doctorID}
	return c.send(ctx, http.MethodPut, "Appointment/{id}/assign-doctor", "Appointment/"+esc(id)+"/assign-doctor", body, nil)
}

func (c *Client) ApproveAppointment(ctx context.Context, id string) error {
	if id == "" {
		return errEmptyID
	}
	return c.send(ctx, http.MethodPut, "Appointment/{id}/approve", "Appointment/"+esc(id)+"/approve", nil, nil)
}

func (c *Client) CompleteAppointment(ctx context.Context, id, notes string) error {
	if id == "" {
		return errEmptyID
	}
	body := map[string]string{"notes": notes}
	return c.send(ctx, http.MethodPut, "Appointment/{id}/complete", "Appointment/"+esc(id)+"/complete", body, nil)
}

func (c *Client) CancelAppointment(ctx context.Context, id string) error {
	if id == "" {
		return errEmptyID
	}
	return c.send(ctx, http.MethodPut, "Appointment/{id}/cancel", "Appointment/"+esc(id)+"/cancel", nil, nil)
}

// CheckAvailability asks the backend whether a slot starting at t is free.
func (c *Client) CheckAvailability(ctx context.Context, t time.Time) (bool, error) {
	q := url.Values{}
	q.Set("date", t.In(model.Zone).Format("2006-01-02T15:04:05"))

	var raw json.RawMessage
	err := c.do(ctx, call{
		method:   http.MethodGet,
		endpoint: "Appointment/check-availability",
		path:     "Appointment/check-availability",
		query:    q,
		public:   true,
	}, &raw)
	if err != nil {
		return false, err
	}
	return parseAvailability(raw)
}

// the endpoint has answered both a bare bool and an object
func parseAvailability(raw json.RawMessage) (bool, error) {
	raw = bytes.TrimSpace(raw)
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b, nil
	}
	var obj struct {
		IsAvailable *bool `json:"isAvailable"`
		Available   *bool `json:"available"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		if obj.IsAvailable != nil {
			return *obj.IsAvailable, nil
		}
		if obj.Available != nil {
			return *obj.Available, nil
		}
	}
	return false, fmt.Errorf("check-availability: unexpected body %s", raw)
}
