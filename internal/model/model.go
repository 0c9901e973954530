package model

import (
	"encoding/json"
	"strings"
)

type Status int

const (
	StatusPendingDoctor Status = iota
	StatusApproved
	StatusCompleted
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusPendingDoctor:
		return "PendingDoctor"
	case StatusApproved:
		return "Approved"
	case StatusCompleted:
		return "Completed"
	case StatusCancelled:
		return "Cancelled"
	}
	return "Unknown"
}

type Appointment struct {
	ID              string `json:"id"`
	ServiceID       string `json:"serviceId,omitempty"`
	ServiceName     string `json:"serviceName,omitempty"`
	PatientID       string `json:"patientId,omitempty"`
	PatientFullName string `json:"patientFullName,omitempty"`
	DoctorID        string `json:"doctorId,omitempty"`
	DoctorFullName  string `json:"doctorFullName,omitempty"`
	AppointmentDate Time   `json:"appointmentDate"`
	Status          Status `json:"status"`
	Notes           string `json:"notes,omitempty"`
}

// Pending reports whether the appointment still waits for a doctor.
func (a *Appointment) Pending() bool { return a.Status == StatusPendingDoctor }

type User struct {
	ID               string `json:"id"`
	FirstName        string `json:"firstName"`
	LastName         string `json:"lastName"`
	Email            string `json:"email"`
	Roles            Roles  `json:"roles,omitempty"`
	ProfileImagePath string `json:"profileImagePath,omitempty"`
	Biography        string `json:"biography,omitempty"`
}

func (u *User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// Roles accepts both a single role string and a list of roles.
type Roles []string

func (r *Roles) UnmarshalJSON(b []byte) error {
	var one string
	if err := json.Unmarshal(b, &one); err == nil {
		if one == "" {
			*r = nil
		} else {
			*r = Roles{one}
		}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return err
	}
	*r = many
	return nil
}

// Primary is the first role, which is what the app shows and gates on.
func (r Roles) Primary() string {
	if len(r) == 0 {
		return ""
	}
	return r[0]
}

func (r Roles) Has(role string) bool {
	for _, v := range r {
		if strings.EqualFold(v, role) {
			return true
		}
	}
	return false
}

type Service struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Description  string  `json:"description,omitempty"`
	Price        float64 `json:"price"`
	CategoryID   string  `json:"serviceCategoryId,omitempty"`
	CategoryName string  `json:"serviceCategoryName,omitempty"`
}

type ServiceCategory struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type RoleRequest struct {
	ID        string `json:"id,omitempty"`
	UserID    string `json:"userId,omitempty"`
	UserEmail string `json:"userEmail,omitempty"`
	Role      string `json:"requestedRole"`
	Status    string `json:"status,omitempty"`
	Reason    string `json:"reason,omitempty"`
	CreatedAt Time   `json:"createdAt,omitzero"`
}

type News struct {
	ID        string `json:"id,omitempty"`
	Title     string `json:"title"`
	Content   string `json:"content"`
	ImagePath string `json:"imagePath,omitempty"`
	CreatedAt Time   `json:"createdAt,omitzero"`
}

type Review struct {
	ID           string `json:"id,omitempty"`
	UserID       string `json:"userId,omitempty"`
	UserFullName string `json:"userFullName,omitempty"`
	DoctorID     string `json:"doctorId,omitempty"`
	Rating       int    `json:"rating"`
	Comment      string `json:"comment"`
	CreatedAt    Time   `json:"createdAt,omitzero"`
}

type LoginResult struct {
	Token string `json:"token"`
}

type Role struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
