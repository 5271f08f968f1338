package api

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/medagenda/scheduling-core/internal/payment"
)

func createPaymentIntentHandler(h *payment.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateIntentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		slotID, err := uuid.Parse(req.SlotID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_slot_id", "slot_id must be a valid UUID")
			return
		}

		intent, err := h.CreateIntent(r.Context(), slotID, getActor(r), req.Reason)
		if err != nil {
			handleDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, IntentResponse{
			PaymentID:    intent.ID,
			ClientSecret: intent.ClientSecret,
		})
	}
}

func confirmPaymentHandler(h *payment.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ConfirmPaymentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if req.PaymentID == "" {
			writeError(w, http.StatusBadRequest, "invalid_payment_id", "payment_id is required")
			return
		}

		appt, err := h.Confirm(r.Context(), req.PaymentID, req.Status == "approved", getActor(r))
		if err != nil {
			handleDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}
