package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// QueryService is the read side. It never mutates anything and tolerates
// eventual consistency with the write path.
type QueryService struct {
	store Store
	now   func() time.Time
}

func NewQueryService(store Store) *QueryService {
	return &QueryService{store: store, now: time.Now}
}

// NewQueryServiceAt pins the clock used for date-range buckets, for tests.
func NewQueryServiceAt(store Store, now func() time.Time) *QueryService {
	return &QueryService{store: store, now: now}
}

// AvailableSlots lists a doctor's open slots, ordered by date and start time.
func (q *QueryService) AvailableSlots(ctx context.Context, doctorID uuid.UUID) ([]AvailabilitySlot, error) {
	return q.store.ListSlotsByDoctor(ctx, doctorID, true)
}

// DoctorAgenda lists every slot of a doctor regardless of status. Only the
// owning doctor or an elevated actor may see it.
func (q *QueryService) DoctorAgenda(ctx context.Context, doctorID uuid.UUID, actor Actor) ([]AvailabilitySlot, error) {
	if doctorID != actor.ID && !actor.Elevated {
		return nil, ErrNotOwner
	}
	return q.store.ListSlotsByDoctor(ctx, doctorID, false)
}

// PatientAppointments lists a patient's appointments, optionally filtered by
// status, ordered by date ascending.
func (q *QueryService) PatientAppointments(ctx context.Context, patientID uuid.UUID, status *AppointmentStatus) ([]Appointment, error) {
	return q.store.ListAppointmentsByPatient(ctx, patientID, status)
}

// DoctorAppointments lists a doctor's reserved appointments, optionally
// restricted to today.
func (q *QueryService) DoctorAppointments(ctx context.Context, doctorID uuid.UUID, todayOnly bool) ([]Appointment, error) {
	date := ""
	if todayOnly {
		date = calendarDay(q.now())
	}
	return q.store.ListReservedByDoctor(ctx, doctorID, date)
}

// HistoryEntry is the trimmed view of a completed appointment a patient may
// see about themselves.
type HistoryEntry struct {
	AppointmentID uuid.UUID
	Date          string
	StartTime     string
	DoctorName    string
	Diagnosis     string
	DocumentURL   string
}

// PatientHistory lists a patient's completed appointments, most recent
// first, with clinical internals trimmed down to the patient-safe fields.
func (q *QueryService) PatientHistory(ctx context.Context, patientID uuid.UUID) ([]HistoryEntry, error) {
	appts, err := q.store.ListAppointmentsByPatientStatuses(ctx, patientID, []AppointmentStatus{StatusCompleted})
	if err != nil {
		return nil, err
	}

	out := make([]HistoryEntry, 0, len(appts))
	for _, appt := range appts {
		entry := HistoryEntry{
			AppointmentID: appt.ID,
			Date:          appt.Date,
			StartTime:     appt.StartTime,
			DoctorName:    appt.DoctorName,
		}
		if appt.Clinical != nil {
			entry.Diagnosis = appt.Clinical.Diagnosis
			entry.DocumentURL = appt.Clinical.DocumentURL
		}
		out = append(out, entry)
	}
	return out, nil
}

// PatientRecord is the doctor-facing view: all processed appointments of a
// patient, clinical record included, most recent first.
func (q *QueryService) PatientRecord(ctx context.Context, patientID uuid.UUID) ([]Appointment, error) {
	return q.store.ListAppointmentsByPatientStatuses(ctx, patientID, []AppointmentStatus{StatusCompleted, StatusNoShow})
}

// Search runs the admin search: a date-range bucket plus prefix matches on
// patient or doctor name, ordered by date descending.
func (q *QueryService) Search(ctx context.Context, rng DateRange, patientPrefix, doctorPrefix string) ([]Appointment, error) {
	f := SearchFilter{
		PatientPrefix: patientPrefix,
		DoctorPrefix:  doctorPrefix,
	}

	today := q.now()
	switch rng {
	case RangeAll, "":
	case RangeToday:
		f.FromDate = calendarDay(today)
		f.ToDate = f.FromDate
	case RangeWeek:
		f.FromDate = calendarDay(startOfWeek(today))
		f.ToDate = calendarDay(today)
	case RangeMonth:
		f.FromDate = calendarDay(time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, today.Location()))
		f.ToDate = calendarDay(today)
	default:
		return nil, fmt.Errorf("%w: unknown date range %q", ErrValidation, rng)
	}

	return q.store.SearchAppointments(ctx, f)
}

// PaymentRecord is one row of the admin payment history.
type PaymentRecord struct {
	AppointmentID uuid.UUID
	Reference     string
	PatientName   string
	DoctorName    string
	SpecialtyName string
	AmountCents   int64
	Method        string
	PaidAt        *time.Time
}

// PaymentHistory lists every paid appointment, most recent payment first,
// with a sequential reference number of the form P-000001-2025.
func (q *QueryService) PaymentHistory(ctx context.Context) ([]PaymentRecord, error) {
	appts, err := q.store.ListPaidAppointments(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]PaymentRecord, 0, len(appts))
	for i, appt := range appts {
		year := q.now().Year()
		if appt.PaymentDate != nil {
			year = appt.PaymentDate.Year()
		}
		out = append(out, PaymentRecord{
			AppointmentID: appt.ID,
			Reference:     fmt.Sprintf("P-%06d-%d", i+1, year),
			PatientName:   appt.PatientName,
			DoctorName:    appt.DoctorName,
			SpecialtyName: appt.SpecialtyName,
			AmountCents:   appt.PriceCents,
			Method:        appt.PaymentMethod,
			PaidAt:        appt.PaymentDate,
		})
	}
	return out, nil
}

// StatusSummary counts appointments per status.
type StatusSummary struct {
	Total       int `json:"total"`
	Reserved    int `json:"reserved"`
	Cancelled   int `json:"cancelled"`
	Rescheduled int `json:"rescheduled"`
	Completed   int `json:"completed"`
	NoShow      int `json:"no_show"`
}

func (q *QueryService) StatusSummary(ctx context.Context) (*StatusSummary, error) {
	counts, err := q.store.CountAppointmentsByStatus(ctx)
	if err != nil {
		return nil, err
	}

	sum := &StatusSummary{
		Reserved:    counts[StatusReserved],
		Cancelled:   counts[StatusCancelled],
		Rescheduled: counts[StatusRescheduled],
		Completed:   counts[StatusCompleted],
		NoShow:      counts[StatusNoShow],
	}
	for _, n := range counts {
		sum.Total += n
	}
	return sum, nil
}

func calendarDay(t time.Time) string {
	return t.Format("2006-01-02")
}

// startOfWeek returns the Monday of t's week.
func startOfWeek(t time.Time) time.Time {
	offset := int(t.Weekday()) - int(time.Monday)
	if offset < 0 {
		offset += 7
	}
	return t.AddDate(0, 0, -offset)
}
