package scheduling

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrSlotNotFound        = errors.New("slot not found")
	ErrAppointmentNotFound = errors.New("appointment not found")

	// ErrSlotUnavailable is the conflict error: the slot is held, reserved, or
	// was mutated by a concurrent writer between read and commit.
	ErrSlotUnavailable = errors.New("slot is not available")

	// ErrSlotBeingBooked means another request currently holds the per-slot
	// lock; the caller should retry shortly.
	ErrSlotBeingBooked = errors.New("slot is currently being booked, please retry")

	// ErrTxConflict is surfaced when the store exhausted its optimistic-conflict
	// retries without committing.
	ErrTxConflict = errors.New("transaction aborted after conflicting writes")

	ErrNotOwner          = errors.New("actor does not own this entity")
	ErrInvalidTransition = errors.New("operation not allowed in current status")
	ErrValidation        = errors.New("validation failed")
)

// DateRange buckets for the admin search.
type DateRange string

const (
	RangeAll   DateRange = "all"
	RangeToday DateRange = "today"
	RangeWeek  DateRange = "week"
	RangeMonth DateRange = "month"
)

type SearchFilter struct {
	FromDate      string // inclusive, YYYY-MM-DD, empty = unbounded
	ToDate        string // inclusive
	PatientPrefix string
	DoctorPrefix  string
}

// Store is the atomic document store the coordinator runs against.
// Plain methods are single-entity reads and writes for the query side and
// slot management. InTx runs fn inside one atomic multi-entity transaction:
// every read is stable until commit and either all writes land or none do.
// A commit lost to a concurrent writer is retried a bounded number of times
// and then surfaced as ErrTxConflict.
type Store interface {
	GetSlot(ctx context.Context, id uuid.UUID) (*AvailabilitySlot, error)
	ListSlotsByDoctor(ctx context.Context, doctorID uuid.UUID, onlyAvailable bool) ([]AvailabilitySlot, error)
	CreateSlot(ctx context.Context, slot *AvailabilitySlot) error
	ListExpiredHolds(ctx context.Context, now time.Time) ([]AvailabilitySlot, error)

	GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error)
	GetAppointmentByPaymentID(ctx context.Context, paymentID string) (*Appointment, error)
	ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, status *AppointmentStatus) ([]Appointment, error)
	ListAppointmentsByPatientStatuses(ctx context.Context, patientID uuid.UUID, statuses []AppointmentStatus) ([]Appointment, error)
	ListReservedByDoctor(ctx context.Context, doctorID uuid.UUID, date string) ([]Appointment, error)
	SearchAppointments(ctx context.Context, f SearchFilter) ([]Appointment, error)
	ListPaidAppointments(ctx context.Context) ([]Appointment, error)
	CountAppointmentsByStatus(ctx context.Context) (map[AppointmentStatus]int, error)

	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the view of the store inside one atomic transaction. Reads take a
// write intent on the entity; conditional writes carry the expected current
// status and fail when a concurrent transaction moved the entity first.
type Tx interface {
	GetSlot(ctx context.Context, id uuid.UUID) (*AvailabilitySlot, error)
	GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error)
	GetAppointmentByPaymentID(ctx context.Context, paymentID string) (*Appointment, error)

	// UpdateSlotStatus moves a slot from -> to, setting patientID and
	// holdExpiresAt (nil clears them). Returns ErrSlotUnavailable when the
	// slot is no longer in the from status.
	UpdateSlotStatus(ctx context.Context, id uuid.UUID, from, to SlotStatus, patientID *uuid.UUID, holdExpiresAt *time.Time) error

	// DeleteSlot removes a slot only while it is still available.
	// Returns ErrSlotUnavailable otherwise.
	DeleteSlot(ctx context.Context, id uuid.UUID) error

	CreateAppointment(ctx context.Context, appt *Appointment) error

	// UpdateAppointmentStatus moves an appointment from -> to. Returns
	// ErrInvalidTransition when the appointment already left the from status.
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) error

	SetClinicalRecord(ctx context.Context, id uuid.UUID, rec *ClinicalRecord) error

	InsertEvent(ctx context.Context, ev EventLog) error
}
