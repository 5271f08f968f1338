package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/medagenda/scheduling-core/internal/scheduling"
)

func createSlotHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateSlotRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		actor := getActor(r)
		doctorID := actor.ID
		doctorName := actor.Name
		if req.DoctorID != "" && req.DoctorID != actor.ID.String() {
			if !actor.Elevated {
				writeError(w, http.StatusForbidden, "forbidden", "only admins may create slots for another doctor")
				return
			}
			id, err := uuid.Parse(req.DoctorID)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
				return
			}
			doctorID = id
			doctorName = req.DoctorName
		}

		slot, err := svc.CreateSlot(r.Context(), scheduling.CreateSlotParams{
			DoctorID:      doctorID,
			DoctorName:    doctorName,
			SpecialtyName: req.SpecialtyName,
			Date:          req.Date,
			StartTime:     req.StartTime,
			EndTime:       req.EndTime,
		})
		if err != nil {
			handleDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toSlotResponse(slot))
	}
}

func deleteSlotHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_slot_id", "id must be a valid UUID")
			return
		}

		if err := svc.DeleteSlot(r.Context(), id, getActor(r)); err != nil {
			handleDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusNoContent, nil)
	}
}

func listAvailableSlotsHandler(qs *scheduling.QueryService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, err := uuid.Parse(chi.URLParam(r, "doctorID"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctorID must be a valid UUID")
			return
		}

		slots, err := qs.AvailableSlots(r.Context(), doctorID)
		if err != nil {
			handleDomainError(w, err)
			return
		}

		out := make([]SlotResponse, 0, len(slots))
		for i := range slots {
			out = append(out, toSlotResponse(&slots[i]))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func doctorAgendaHandler(qs *scheduling.QueryService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, err := uuid.Parse(chi.URLParam(r, "doctorID"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctorID must be a valid UUID")
			return
		}

		slots, err := qs.DoctorAgenda(r.Context(), doctorID, getActor(r))
		if err != nil {
			handleDomainError(w, err)
			return
		}

		out := make([]SlotResponse, 0, len(slots))
		for i := range slots {
			out = append(out, toSlotResponse(&slots[i]))
		}
		writeJSON(w, http.StatusOK, out)
	}
}
