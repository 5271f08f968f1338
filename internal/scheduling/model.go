package scheduling

import (
	"time"

	"github.com/google/uuid"
)

type SlotStatus string

const (
	SlotAvailable SlotStatus = "available"
	SlotPending   SlotStatus = "pending" // soft hold while a payment intent is outstanding
	SlotReserved  SlotStatus = "reserved"
)

type AppointmentStatus string

const (
	StatusReserved    AppointmentStatus = "reserved"
	StatusCancelled   AppointmentStatus = "cancelled"
	StatusRescheduled AppointmentStatus = "rescheduled"
	StatusCompleted   AppointmentStatus = "completed"
	StatusNoShow      AppointmentStatus = "no_show"
)

// Terminal reports whether no further transition is legal from s.
func (s AppointmentStatus) Terminal() bool {
	return s != StatusReserved
}

// Actor is the identity the boundary layer resolved for the current request.
// Role verification happens outside this package; Elevated means the boundary
// confirmed an admin capability, which bypasses ownership checks.
type Actor struct {
	ID       uuid.UUID
	Name     string
	Email    string
	Elevated bool
}

// AvailabilitySlot is a bookable (doctor, date, time-range) unit.
// Doctor and specialty names are denormalized at write time; renaming a
// doctor does not retroactively update existing slots or appointments.
type AvailabilitySlot struct {
	ID            uuid.UUID
	DoctorID      uuid.UUID
	DoctorName    string
	SpecialtyName string
	Date          string // calendar day, YYYY-MM-DD
	StartTime     string // HH:MM
	EndTime       string // HH:MM
	Status        SlotStatus
	PatientID     *uuid.UUID // set iff pending or reserved
	HoldExpiresAt *time.Time // set iff pending
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type PrescriptionItem struct {
	Drug      string `json:"drug"`
	Dose      string `json:"dose"`
	Frequency string `json:"frequency"`
	Duration  string `json:"duration"`
}

// ClinicalRecord is attached to an appointment when the doctor completes it.
type ClinicalRecord struct {
	Diagnosis    string
	Notes        string
	Prescription []PrescriptionItem
	DocumentURL  string
	CompletedAt  time.Time
}

// Appointment binds a patient to a slot. SlotID never changes after creation;
// rescheduling retires the appointment and spawns a new one on a new slot.
// Appointments are never hard-deleted.
type Appointment struct {
	ID              uuid.UUID
	PatientID       uuid.UUID
	PatientName     string
	DoctorID        uuid.UUID
	DoctorName      string
	SpecialtyName   string
	Date            string
	StartTime       string
	EndTime         string
	SlotID          uuid.UUID
	Status          AppointmentStatus
	Reason          string
	PaymentID       string
	PriceCents      int64
	PaymentMethod   string
	PaymentDate     *time.Time
	RescheduledFrom *uuid.UUID
	Clinical        *ClinicalRecord
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	SlotID        *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}
