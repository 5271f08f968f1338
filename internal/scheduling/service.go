package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

const (
	EventSlotDeleted       = "SLOT_DELETED"
	EventHoldPlaced        = "HOLD_PLACED"
	EventHoldReleased      = "HOLD_RELEASED"
	EventHoldExpired       = "HOLD_EXPIRED"
	EventReservationMade   = "RESERVATION_MADE"
	EventAppointmentCancel = "APPOINTMENT_CANCELLED"
	EventRescheduled       = "APPOINTMENT_RESCHEDULED"
	EventCompleted         = "APPOINTMENT_COMPLETED"
	EventNoShow            = "APPOINTMENT_NO_SHOW"
)

// Locker guards a slot-scoped critical section. It only dampens contention
// on hot slots; correctness comes from the store transaction alone.
type Locker interface {
	WithSlotLock(ctx context.Context, slotID uuid.UUID, fn func(ctx context.Context) error) error
}

// ErrLockNotAcquired is returned by Locker implementations when the slot
// lock is already held.
var ErrLockNotAcquired = errors.New("slot lock not acquired")

// PrescriptionRenderer turns a clinical record into a durable document and
// returns its URL. Rendering happens outside the reservation transaction.
type PrescriptionRenderer interface {
	RenderPrescription(ctx context.Context, appt *Appointment, rec *ClinicalRecord) (string, error)
}

// PaymentDetails carries the verified payment outcome into a reservation.
type PaymentDetails struct {
	PaymentID  string
	PriceCents int64
	Method     string
	ApprovedAt *time.Time
}

type ReserveParams struct {
	SlotID      uuid.UUID
	PatientID   uuid.UUID
	PatientName string
	Reason      string
	Payment     PaymentDetails
}

type CreateSlotParams struct {
	DoctorID      uuid.UUID
	DoctorName    string
	SpecialtyName string
	Date          string
	StartTime     string
	EndTime       string
}

// Service coordinates every transaction that couples a slot and an
// appointment. Repositories never mutate a slot on their own; all shared
// state changes go through here.
type Service struct {
	store    Store
	locker   Locker
	renderer PrescriptionRenderer
	holdTTL  time.Duration
	logger   *slog.Logger
	now      func() time.Time
	newID    func() uuid.UUID
}

type ServiceOption func(*Service)

// WithClock overrides the service clock, for tests.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

func NewService(store Store, locker Locker, renderer PrescriptionRenderer, holdTTL time.Duration, logger *slog.Logger, opts ...ServiceOption) *Service {
	s := &Service{
		store:    store,
		locker:   locker,
		renderer: renderer,
		holdTTL:  holdTTL,
		logger:   logger,
		now:      time.Now,
		newID:    uuid.New,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateSlot registers a new availability block for a doctor. Overlapping
// slots for the same doctor are not rejected here.
func (s *Service) CreateSlot(ctx context.Context, p CreateSlotParams) (*AvailabilitySlot, error) {
	if p.DoctorID == uuid.Nil || p.Date == "" || p.StartTime == "" || p.EndTime == "" {
		return nil, fmt.Errorf("%w: doctor, date, start and end time are required", ErrValidation)
	}

	now := s.now()
	slot := &AvailabilitySlot{
		ID:            s.newID(),
		DoctorID:      p.DoctorID,
		DoctorName:    p.DoctorName,
		SpecialtyName: p.SpecialtyName,
		Date:          p.Date,
		StartTime:     p.StartTime,
		EndTime:       p.EndTime,
		Status:        SlotAvailable,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.store.CreateSlot(ctx, slot); err != nil {
		return nil, fmt.Errorf("create slot: %w", err)
	}
	return slot, nil
}

// DeleteSlot removes an availability block. A slot with a live hold or a
// reserved appointment cannot be deleted; the appointment must be cancelled
// first.
func (s *Service) DeleteSlot(ctx context.Context, slotID uuid.UUID, actor Actor) error {
	return s.store.InTx(ctx, func(tx Tx) error {
		slot, err := tx.GetSlot(ctx, slotID)
		if err != nil {
			return err
		}
		if slot.DoctorID != actor.ID && !actor.Elevated {
			return ErrNotOwner
		}
		if slot.Status != SlotAvailable {
			return ErrSlotUnavailable
		}
		if err := tx.DeleteSlot(ctx, slotID); err != nil {
			return err
		}
		return s.logEvent(ctx, tx, EventSlotDeleted, nil, &slotID, nil)
	})
}

// PlaceHold puts a short-lived soft hold on an available slot while the
// patient's payment intent is outstanding. The hold is released by
// ReleaseExpiredHolds if no confirmation lands before it expires.
func (s *Service) PlaceHold(ctx context.Context, slotID, patientID uuid.UUID) (*AvailabilitySlot, error) {
	var held *AvailabilitySlot

	attempt := func(ctx context.Context) error {
		return s.store.InTx(ctx, func(tx Tx) error {
			slot, err := tx.GetSlot(ctx, slotID)
			if err != nil {
				return err
			}

			from := slot.Status
			switch slot.Status {
			case SlotAvailable:
			case SlotPending:
				// An expired hold no one has cleaned up yet can be taken over.
				if slot.HoldExpiresAt == nil || slot.HoldExpiresAt.After(s.now()) {
					return ErrSlotUnavailable
				}
			default:
				return ErrSlotUnavailable
			}

			expires := s.now().Add(s.holdTTL)
			if err := tx.UpdateSlotStatus(ctx, slotID, from, SlotPending, &patientID, &expires); err != nil {
				return err
			}

			slot.Status = SlotPending
			slot.PatientID = &patientID
			slot.HoldExpiresAt = &expires
			held = slot

			return s.logEvent(ctx, tx, EventHoldPlaced, nil, &slotID, map[string]any{
				"patient_id": patientID.String(),
				"expires_at": expires,
			})
		})
	}

	var err error
	if s.locker != nil {
		err = s.locker.WithSlotLock(ctx, slotID, attempt)
		if errors.Is(err, ErrLockNotAcquired) {
			return nil, ErrSlotBeingBooked
		}
	} else {
		err = attempt(ctx)
	}
	if err != nil {
		return nil, err
	}
	return held, nil
}

// ReleaseHold frees the caller's own hold, typically after the payment
// intent could not be created.
func (s *Service) ReleaseHold(ctx context.Context, slotID, patientID uuid.UUID) error {
	return s.store.InTx(ctx, func(tx Tx) error {
		slot, err := tx.GetSlot(ctx, slotID)
		if err != nil {
			return err
		}
		if slot.Status != SlotPending || slot.PatientID == nil || *slot.PatientID != patientID {
			return ErrSlotUnavailable
		}
		if err := tx.UpdateSlotStatus(ctx, slotID, SlotPending, SlotAvailable, nil, nil); err != nil {
			return err
		}
		return s.logEvent(ctx, tx, EventHoldReleased, nil, &slotID, nil)
	})
}

// ReleaseExpiredHolds frees pending slots whose hold window has passed.
// Intended to be called periodically by the worker. Returns the number of
// holds released.
func (s *Service) ReleaseExpiredHolds(ctx context.Context) (int, error) {
	expired, err := s.store.ListExpiredHolds(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("find expired holds: %w", err)
	}

	released := 0
	for _, slot := range expired {
		slotID := slot.ID
		err := s.store.InTx(ctx, func(tx Tx) error {
			if err := tx.UpdateSlotStatus(ctx, slotID, SlotPending, SlotAvailable, nil, nil); err != nil {
				return err
			}
			return s.logEvent(ctx, tx, EventHoldExpired, nil, &slotID, nil)
		})
		if err != nil {
			// A confirmation landed between the scan and this transaction.
			if errors.Is(err, ErrSlotUnavailable) {
				continue
			}
			s.logger.Error("release expired hold failed", "slot_id", slotID, "err", err)
			continue
		}
		released++
	}
	return released, nil
}

// Reserve binds a slot to a new appointment in one transaction. The slot
// must be available, or pending under a hold owned by the same patient (the
// confirmation path consuming its own hold). At most one concurrent Reserve
// on the same slot succeeds.
//
// When the params carry a payment identifier and an appointment for it
// already exists, Reserve is a no-op returning that appointment, so a
// replayed payment confirmation never books twice.
func (s *Service) Reserve(ctx context.Context, p ReserveParams) (*Appointment, error) {
	if p.Reason == "" {
		return nil, fmt.Errorf("%w: reason is required", ErrValidation)
	}

	var out *Appointment
	err := s.store.InTx(ctx, func(tx Tx) error {
		if p.Payment.PaymentID != "" {
			existing, err := tx.GetAppointmentByPaymentID(ctx, p.Payment.PaymentID)
			if err != nil && !errors.Is(err, ErrAppointmentNotFound) {
				return fmt.Errorf("check payment id: %w", err)
			}
			if existing != nil {
				out = existing
				return nil
			}
		}

		slot, err := tx.GetSlot(ctx, p.SlotID)
		if err != nil {
			return err
		}

		switch slot.Status {
		case SlotAvailable:
		case SlotPending:
			if slot.PatientID == nil || *slot.PatientID != p.PatientID {
				return ErrSlotUnavailable
			}
		default:
			return ErrSlotUnavailable
		}

		if err := tx.UpdateSlotStatus(ctx, slot.ID, slot.Status, SlotReserved, &p.PatientID, nil); err != nil {
			return err
		}

		now := s.now()
		appt := &Appointment{
			ID:            s.newID(),
			PatientID:     p.PatientID,
			PatientName:   p.PatientName,
			DoctorID:      slot.DoctorID,
			DoctorName:    slot.DoctorName,
			SpecialtyName: slot.SpecialtyName,
			Date:          slot.Date,
			StartTime:     slot.StartTime,
			EndTime:       slot.EndTime,
			SlotID:        slot.ID,
			Status:        StatusReserved,
			Reason:        p.Reason,
			PaymentID:     p.Payment.PaymentID,
			PriceCents:    p.Payment.PriceCents,
			PaymentMethod: p.Payment.Method,
			PaymentDate:   p.Payment.ApprovedAt,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := tx.CreateAppointment(ctx, appt); err != nil {
			return fmt.Errorf("create appointment: %w", err)
		}

		out = appt
		return s.logEvent(ctx, tx, EventReservationMade, &appt.ID, &slot.ID, map[string]any{
			"patient_id": p.PatientID.String(),
			"payment_id": p.Payment.PaymentID,
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Cancel moves a reserved appointment to cancelled and frees its slot, both
// in the same transaction. There is no window where the appointment shows
// cancelled while the slot still shows reserved, or vice versa.
func (s *Service) Cancel(ctx context.Context, appointmentID uuid.UUID, actor Actor) error {
	return s.store.InTx(ctx, func(tx Tx) error {
		appt, err := tx.GetAppointment(ctx, appointmentID)
		if err != nil {
			return err
		}
		if appt.PatientID != actor.ID && !actor.Elevated {
			return ErrNotOwner
		}
		if appt.Status != StatusReserved {
			return ErrInvalidTransition
		}

		if err := tx.UpdateAppointmentStatus(ctx, appt.ID, StatusReserved, StatusCancelled); err != nil {
			return err
		}
		if err := tx.UpdateSlotStatus(ctx, appt.SlotID, SlotReserved, SlotAvailable, nil, nil); err != nil {
			return err
		}

		return s.logEvent(ctx, tx, EventAppointmentCancel, &appt.ID, &appt.SlotID, nil)
	})
}

// Reschedule retires a reserved appointment in favor of a new one on a new
// slot. One transaction covers all four documents: the old appointment
// becomes rescheduled, its slot is freed, the new slot is taken, and a new
// appointment is created carrying over the payment lineage. A concurrent
// reservation of the new slot aborts the whole transaction.
func (s *Service) Reschedule(ctx context.Context, oldAppointmentID, newSlotID uuid.UUID, actor Actor) (*Appointment, error) {
	var out *Appointment
	err := s.store.InTx(ctx, func(tx Tx) error {
		old, err := tx.GetAppointment(ctx, oldAppointmentID)
		if err != nil {
			return err
		}
		if old.PatientID != actor.ID && !actor.Elevated {
			return ErrNotOwner
		}
		if old.Status != StatusReserved {
			return ErrInvalidTransition
		}

		newSlot, err := tx.GetSlot(ctx, newSlotID)
		if err != nil {
			return err
		}
		if newSlot.Status != SlotAvailable {
			return ErrSlotUnavailable
		}

		if err := tx.UpdateAppointmentStatus(ctx, old.ID, StatusReserved, StatusRescheduled); err != nil {
			return err
		}
		if err := tx.UpdateSlotStatus(ctx, old.SlotID, SlotReserved, SlotAvailable, nil, nil); err != nil {
			return err
		}
		if err := tx.UpdateSlotStatus(ctx, newSlot.ID, SlotAvailable, SlotReserved, &old.PatientID, nil); err != nil {
			return err
		}

		now := s.now()
		oldID := old.ID
		appt := &Appointment{
			ID:              s.newID(),
			PatientID:       old.PatientID,
			PatientName:     old.PatientName,
			DoctorID:        newSlot.DoctorID,
			DoctorName:      newSlot.DoctorName,
			SpecialtyName:   newSlot.SpecialtyName,
			Date:            newSlot.Date,
			StartTime:       newSlot.StartTime,
			EndTime:         newSlot.EndTime,
			SlotID:          newSlot.ID,
			Status:          StatusReserved,
			Reason:          old.Reason,
			PaymentID:       old.PaymentID,
			PriceCents:      old.PriceCents,
			PaymentMethod:   old.PaymentMethod,
			PaymentDate:     old.PaymentDate,
			RescheduledFrom: &oldID,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := tx.CreateAppointment(ctx, appt); err != nil {
			return fmt.Errorf("create rescheduled appointment: %w", err)
		}

		out = appt
		return s.logEvent(ctx, tx, EventRescheduled, &appt.ID, &newSlot.ID, map[string]any{
			"rescheduled_from": oldID.String(),
			"old_slot_id":      old.SlotID.String(),
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Complete attaches a clinical record and moves the appointment to
// completed. The prescription document is rendered before the write, outside
// the transaction; the slot stays reserved as a historical record.
func (s *Service) Complete(ctx context.Context, appointmentID uuid.UUID, actor Actor, diagnosis, notes string, items []PrescriptionItem) (*Appointment, error) {
	if diagnosis == "" {
		return nil, fmt.Errorf("%w: diagnosis is required", ErrValidation)
	}

	appt, err := s.store.GetAppointment(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if appt.DoctorID != actor.ID && !actor.Elevated {
		return nil, ErrNotOwner
	}
	if appt.Status != StatusReserved {
		return nil, ErrInvalidTransition
	}

	rec := &ClinicalRecord{
		Diagnosis:    diagnosis,
		Notes:        notes,
		Prescription: items,
		CompletedAt:  s.now(),
	}

	if s.renderer != nil {
		url, err := s.renderer.RenderPrescription(ctx, appt, rec)
		if err != nil {
			return nil, fmt.Errorf("render prescription: %w", err)
		}
		rec.DocumentURL = url
	}

	err = s.store.InTx(ctx, func(tx Tx) error {
		if err := tx.UpdateAppointmentStatus(ctx, appt.ID, StatusReserved, StatusCompleted); err != nil {
			return err
		}
		if err := tx.SetClinicalRecord(ctx, appt.ID, rec); err != nil {
			return err
		}
		return s.logEvent(ctx, tx, EventCompleted, &appt.ID, &appt.SlotID, map[string]any{
			"diagnosis": diagnosis,
		})
	})
	if err != nil {
		return nil, err
	}

	appt.Status = StatusCompleted
	appt.Clinical = rec
	appt.UpdatedAt = rec.CompletedAt
	return appt, nil
}

// MarkNoShow records that the patient did not attend. Slot untouched.
func (s *Service) MarkNoShow(ctx context.Context, appointmentID uuid.UUID, actor Actor) (*Appointment, error) {
	var out *Appointment
	err := s.store.InTx(ctx, func(tx Tx) error {
		appt, err := tx.GetAppointment(ctx, appointmentID)
		if err != nil {
			return err
		}
		if appt.DoctorID != actor.ID && !actor.Elevated {
			return ErrNotOwner
		}
		if appt.Status != StatusReserved {
			return ErrInvalidTransition
		}

		if err := tx.UpdateAppointmentStatus(ctx, appt.ID, StatusReserved, StatusNoShow); err != nil {
			return err
		}

		appt.Status = StatusNoShow
		out = appt
		return s.logEvent(ctx, tx, EventNoShow, &appt.ID, &appt.SlotID, nil)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AppointmentByPaymentID looks up the appointment a payment confirmation
// already produced, if any.
func (s *Service) AppointmentByPaymentID(ctx context.Context, paymentID string) (*Appointment, error) {
	return s.store.GetAppointmentByPaymentID(ctx, paymentID)
}

// logEvent appends a transition event inside the same transaction, so the
// event log never records a transition that did not commit.
func (s *Service) logEvent(ctx context.Context, tx Tx, eventType string, appointmentID, slotID *uuid.UUID, payload map[string]any) error {
	var data []byte
	if payload != nil {
		var err error
		data, err = json.Marshal(payload)
		if err != nil {
			s.logger.Error("marshal event payload", "event_type", eventType, "err", err)
			data = nil
		}
	}

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: appointmentID,
		SlotID:        slotID,
		Payload:       data,
		CreatedAt:     s.now(),
	}
	if err := tx.InsertEvent(ctx, ev); err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}
	return nil
}
