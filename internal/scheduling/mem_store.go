package scheduling

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemStore is an in-memory Store with the same transaction contract as
// PgStore: a transaction sees a stable view and its writes are discarded
// wholesale when fn returns an error. Used by tests and local development.
type MemStore struct {
	mu           sync.Mutex
	slots        map[uuid.UUID]AvailabilitySlot
	appointments map[uuid.UUID]Appointment
	events       []EventLog
	nextEventID  int64
}

func NewMemStore() *MemStore {
	return &MemStore{
		slots:        make(map[uuid.UUID]AvailabilitySlot),
		appointments: make(map[uuid.UUID]Appointment),
		nextEventID:  1,
	}
}

// Events returns a copy of the event log, oldest first.
func (m *MemStore) Events() []EventLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]EventLog, len(m.events))
	copy(out, m.events)
	return out
}

func (m *MemStore) GetSlot(ctx context.Context, id uuid.UUID) (*AvailabilitySlot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getSlotLocked(id)
}

func (m *MemStore) getSlotLocked(id uuid.UUID) (*AvailabilitySlot, error) {
	slot, ok := m.slots[id]
	if !ok {
		return nil, ErrSlotNotFound
	}
	return &slot, nil
}

func (m *MemStore) ListSlotsByDoctor(ctx context.Context, doctorID uuid.UUID, onlyAvailable bool) ([]AvailabilitySlot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []AvailabilitySlot
	for _, slot := range m.slots {
		if slot.DoctorID != doctorID {
			continue
		}
		if onlyAvailable && slot.Status != SlotAvailable {
			continue
		}
		out = append(out, slot)
	}
	sortSlots(out)
	return out, nil
}

func (m *MemStore) CreateSlot(ctx context.Context, slot *AvailabilitySlot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slots[slot.ID] = *slot
	return nil
}

func (m *MemStore) ListExpiredHolds(ctx context.Context, now time.Time) ([]AvailabilitySlot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []AvailabilitySlot
	for _, slot := range m.slots {
		if slot.Status == SlotPending && slot.HoldExpiresAt != nil && slot.HoldExpiresAt.Before(now) {
			out = append(out, slot)
		}
	}
	sortSlots(out)
	return out, nil
}

func (m *MemStore) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getAppointmentLocked(id)
}

func (m *MemStore) getAppointmentLocked(id uuid.UUID) (*Appointment, error) {
	appt, ok := m.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &appt, nil
}

func (m *MemStore) GetAppointmentByPaymentID(ctx context.Context, paymentID string) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getByPaymentIDLocked(paymentID)
}

func (m *MemStore) getByPaymentIDLocked(paymentID string) (*Appointment, error) {
	var found *Appointment
	for _, appt := range m.appointments {
		if appt.PaymentID != paymentID {
			continue
		}
		appt := appt
		if found == nil || appt.CreatedAt.Before(found.CreatedAt) {
			found = &appt
		}
	}
	if found == nil {
		return nil, ErrAppointmentNotFound
	}
	return found, nil
}

func (m *MemStore) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, status *AppointmentStatus) ([]Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Appointment
	for _, appt := range m.appointments {
		if appt.PatientID != patientID {
			continue
		}
		if status != nil && appt.Status != *status {
			continue
		}
		out = append(out, appt)
	}
	sortAppointmentsAsc(out)
	return out, nil
}

func (m *MemStore) ListAppointmentsByPatientStatuses(ctx context.Context, patientID uuid.UUID, statuses []AppointmentStatus) ([]Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := make(map[AppointmentStatus]bool, len(statuses))
	for _, st := range statuses {
		allowed[st] = true
	}

	var out []Appointment
	for _, appt := range m.appointments {
		if appt.PatientID == patientID && allowed[appt.Status] {
			out = append(out, appt)
		}
	}
	sortAppointmentsDesc(out)
	return out, nil
}

func (m *MemStore) ListReservedByDoctor(ctx context.Context, doctorID uuid.UUID, date string) ([]Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Appointment
	for _, appt := range m.appointments {
		if appt.DoctorID != doctorID || appt.Status != StatusReserved {
			continue
		}
		if date != "" && appt.Date != date {
			continue
		}
		out = append(out, appt)
	}
	sortAppointmentsAsc(out)
	return out, nil
}

func (m *MemStore) SearchAppointments(ctx context.Context, f SearchFilter) ([]Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Appointment
	for _, appt := range m.appointments {
		if f.FromDate != "" && appt.Date < f.FromDate {
			continue
		}
		if f.ToDate != "" && appt.Date > f.ToDate {
			continue
		}
		if f.PatientPrefix != "" && !hasPrefixFold(appt.PatientName, f.PatientPrefix) {
			continue
		}
		if f.DoctorPrefix != "" && !hasPrefixFold(appt.DoctorName, f.DoctorPrefix) {
			continue
		}
		out = append(out, appt)
	}
	sortAppointmentsDesc(out)
	return out, nil
}

func (m *MemStore) ListPaidAppointments(ctx context.Context) ([]Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Appointment
	for _, appt := range m.appointments {
		if appt.PaymentID != "" {
			out = append(out, appt)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		pi, pj := out[i].PaymentDate, out[j].PaymentDate
		switch {
		case pi == nil:
			return false
		case pj == nil:
			return true
		default:
			return pi.After(*pj)
		}
	})
	return out, nil
}

func (m *MemStore) CountAppointmentsByStatus(ctx context.Context) (map[AppointmentStatus]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	counts := make(map[AppointmentStatus]int)
	for _, appt := range m.appointments {
		counts[appt.Status]++
	}
	return counts, nil
}

// InTx holds the store lock for the duration of fn, which gives transactions
// full isolation; a snapshot taken on entry is restored when fn fails, so
// either all of a transaction's writes land or none do.
func (m *MemStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapSlots := make(map[uuid.UUID]AvailabilitySlot, len(m.slots))
	for k, v := range m.slots {
		snapSlots[k] = v
	}
	snapAppointments := make(map[uuid.UUID]Appointment, len(m.appointments))
	for k, v := range m.appointments {
		snapAppointments[k] = v
	}
	snapEvents := len(m.events)

	if err := fn(&memTx{store: m}); err != nil {
		m.slots = snapSlots
		m.appointments = snapAppointments
		m.events = m.events[:snapEvents]
		return err
	}
	return nil
}

type memTx struct {
	store *MemStore
}

func (t *memTx) GetSlot(ctx context.Context, id uuid.UUID) (*AvailabilitySlot, error) {
	return t.store.getSlotLocked(id)
}

func (t *memTx) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return t.store.getAppointmentLocked(id)
}

func (t *memTx) GetAppointmentByPaymentID(ctx context.Context, paymentID string) (*Appointment, error) {
	return t.store.getByPaymentIDLocked(paymentID)
}

func (t *memTx) UpdateSlotStatus(ctx context.Context, id uuid.UUID, from, to SlotStatus, patientID *uuid.UUID, holdExpiresAt *time.Time) error {
	slot, ok := t.store.slots[id]
	if !ok || slot.Status != from {
		return ErrSlotUnavailable
	}
	slot.Status = to
	slot.PatientID = patientID
	slot.HoldExpiresAt = holdExpiresAt
	slot.UpdatedAt = time.Now()
	t.store.slots[id] = slot
	return nil
}

func (t *memTx) DeleteSlot(ctx context.Context, id uuid.UUID) error {
	slot, ok := t.store.slots[id]
	if !ok || slot.Status != SlotAvailable {
		return ErrSlotUnavailable
	}
	delete(t.store.slots, id)
	return nil
}

func (t *memTx) CreateAppointment(ctx context.Context, appt *Appointment) error {
	t.store.appointments[appt.ID] = *appt
	return nil
}

func (t *memTx) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) error {
	appt, ok := t.store.appointments[id]
	if !ok || appt.Status != from {
		return ErrInvalidTransition
	}
	appt.Status = to
	appt.UpdatedAt = time.Now()
	t.store.appointments[id] = appt
	return nil
}

func (t *memTx) SetClinicalRecord(ctx context.Context, id uuid.UUID, rec *ClinicalRecord) error {
	appt, ok := t.store.appointments[id]
	if !ok {
		return ErrAppointmentNotFound
	}
	clone := *rec
	clone.Prescription = append([]PrescriptionItem(nil), rec.Prescription...)
	appt.Clinical = &clone
	appt.UpdatedAt = time.Now()
	t.store.appointments[id] = appt
	return nil
}

func (t *memTx) InsertEvent(ctx context.Context, ev EventLog) error {
	ev.ID = t.store.nextEventID
	t.store.nextEventID++
	t.store.events = append(t.store.events, ev)
	return nil
}

func sortSlots(slots []AvailabilitySlot) {
	sort.Slice(slots, func(i, j int) bool {
		if slots[i].Date != slots[j].Date {
			return slots[i].Date < slots[j].Date
		}
		return slots[i].StartTime < slots[j].StartTime
	})
}

func sortAppointmentsAsc(appts []Appointment) {
	sort.Slice(appts, func(i, j int) bool {
		if appts[i].Date != appts[j].Date {
			return appts[i].Date < appts[j].Date
		}
		return appts[i].StartTime < appts[j].StartTime
	})
}

func sortAppointmentsDesc(appts []Appointment) {
	sort.Slice(appts, func(i, j int) bool {
		if appts[i].Date != appts[j].Date {
			return appts[i].Date > appts[j].Date
		}
		return appts[i].StartTime > appts[j].StartTime
	})
}

func hasPrefixFold(s, prefix string) bool {
	return strings.HasPrefix(strings.ToLower(s), strings.ToLower(prefix))
}
