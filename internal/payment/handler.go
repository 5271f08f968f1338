package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/medagenda/scheduling-core/internal/scheduling"
)

// Notifier delivers the reservation confirmation. Failures are logged and
// never undo the booking.
type Notifier interface {
	ReservationConfirmed(ctx context.Context, to string, appt *scheduling.Appointment) error
}

// Handler bridges the two-phase payment flow to the reservation core:
// an intent places a soft hold on the slot, and a verified confirmation
// consumes the hold into a reservation, exactly once per payment.
type Handler struct {
	provider   Provider
	svc        *scheduling.Service
	notifier   Notifier
	priceCents int64
	logger     *slog.Logger
}

func NewHandler(provider Provider, svc *scheduling.Service, notifier Notifier, priceCents int64, logger *slog.Logger) *Handler {
	return &Handler{
		provider:   provider,
		svc:        svc,
		notifier:   notifier,
		priceCents: priceCents,
		logger:     logger,
	}
}

// CreateIntent holds the slot for the patient and opens a payment intent
// whose metadata ties it to the hold. If the provider call fails the hold is
// released immediately instead of waiting for expiry.
func (h *Handler) CreateIntent(ctx context.Context, slotID uuid.UUID, actor scheduling.Actor, reason string) (*Intent, error) {
	if reason == "" {
		return nil, fmt.Errorf("%w: reason is required", scheduling.ErrValidation)
	}

	if _, err := h.svc.PlaceHold(ctx, slotID, actor.ID); err != nil {
		return nil, err
	}

	intent, err := h.provider.CreateIntent(ctx, h.priceCents, Metadata{
		PatientID: actor.ID,
		SlotID:    slotID,
		Reason:    reason,
	})
	if err != nil {
		if relErr := h.svc.ReleaseHold(ctx, slotID, actor.ID); relErr != nil {
			h.logger.Error("release hold after intent failure", "slot_id", slotID, "err", relErr)
		}
		return nil, fmt.Errorf("create payment intent: %w", err)
	}

	return intent, nil
}

// Confirm re-verifies the payment outcome with the provider, checks the
// metadata against the authenticated requester, and reserves the slot.
// A second confirmation for the same payment returns the appointment the
// first one created, without booking again.
func (h *Handler) Confirm(ctx context.Context, paymentID string, declaredApproved bool, actor scheduling.Actor) (*scheduling.Appointment, error) {
	if !declaredApproved {
		return nil, ErrNotApproved
	}

	out, err := h.provider.Verify(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if !out.Approved {
		return nil, ErrNotApproved
	}
	if out.Metadata.PatientID != actor.ID {
		return nil, scheduling.ErrNotOwner
	}

	// Fast path for replays; the reserve transaction re-checks under lock.
	if existing, err := h.svc.AppointmentByPaymentID(ctx, out.PaymentID); err == nil {
		h.logger.Info("duplicate payment confirmation ignored", "payment_id", out.PaymentID, "appointment_id", existing.ID)
		return existing, nil
	} else if !errors.Is(err, scheduling.ErrAppointmentNotFound) {
		return nil, fmt.Errorf("check payment id: %w", err)
	}

	appt, err := h.svc.Reserve(ctx, scheduling.ReserveParams{
		SlotID:      out.Metadata.SlotID,
		PatientID:   actor.ID,
		PatientName: actor.Name,
		Reason:      out.Metadata.Reason,
		Payment: scheduling.PaymentDetails{
			PaymentID:  out.PaymentID,
			PriceCents: out.AmountCents,
			Method:     out.Method,
			ApprovedAt: out.ApprovedAt,
		},
	})
	if err != nil {
		// A twin confirmation may have committed between the fast-path check
		// and the slot update; its appointment is this payment's outcome.
		if errors.Is(err, scheduling.ErrSlotUnavailable) || errors.Is(err, scheduling.ErrTxConflict) {
			if existing, lookupErr := h.svc.AppointmentByPaymentID(ctx, out.PaymentID); lookupErr == nil {
				h.logger.Info("duplicate payment confirmation ignored", "payment_id", out.PaymentID, "appointment_id", existing.ID)
				return existing, nil
			}
		}
		return nil, err
	}

	if h.notifier != nil && actor.Email != "" {
		if err := h.notifier.ReservationConfirmed(ctx, actor.Email, appt); err != nil {
			// The slot and money are committed; a lost email must not
			// turn a successful booking into an error.
			h.logger.Error("reservation confirmation email failed", "appointment_id", appt.ID, "err", err)
		}
	}

	return appt, nil
}
