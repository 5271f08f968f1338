package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/medagenda/scheduling-core/internal/scheduling"
)

func getAppointmentHandler(store scheduling.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		appt, err := store.GetAppointment(r.Context(), id)
		if err != nil {
			handleDomainError(w, err)
			return
		}

		actor := getActor(r)
		if appt.PatientID != actor.ID && appt.DoctorID != actor.ID && !actor.Elevated {
			writeError(w, http.StatusForbidden, "forbidden", "not a participant of this appointment")
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func myAppointmentsHandler(qs *scheduling.QueryService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var status *scheduling.AppointmentStatus
		if s := r.URL.Query().Get("status"); s != "" {
			st := scheduling.AppointmentStatus(s)
			status = &st
		}

		appts, err := qs.PatientAppointments(r.Context(), getActor(r).ID, status)
		if err != nil {
			handleDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponses(appts))
	}
}

func doctorAppointmentsHandler(qs *scheduling.QueryService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		todayOnly := r.URL.Query().Get("today") == "true"

		appts, err := qs.DoctorAppointments(r.Context(), getActor(r).ID, todayOnly)
		if err != nil {
			handleDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponses(appts))
	}
}

func cancelAppointmentHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		if err := svc.Cancel(r.Context(), id, getActor(r)); err != nil {
			handleDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{"status": string(scheduling.StatusCancelled)})
	}
}

func rescheduleAppointmentHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		var req RescheduleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		newSlotID, err := uuid.Parse(req.NewSlotID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_slot_id", "new_slot_id must be a valid UUID")
			return
		}

		appt, err := svc.Reschedule(r.Context(), id, newSlotID, getActor(r))
		if err != nil {
			handleDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func completeAppointmentHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		var req CompleteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		appt, err := svc.Complete(r.Context(), id, getActor(r), req.Diagnosis, req.Notes, req.Prescription)
		if err != nil {
			handleDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func noShowAppointmentHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		appt, err := svc.MarkNoShow(r.Context(), id, getActor(r))
		if err != nil {
			handleDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func patientHistoryHandler(qs *scheduling.QueryService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries, err := qs.PatientHistory(r.Context(), getActor(r).ID)
		if err != nil {
			handleDomainError(w, err)
			return
		}

		out := make([]HistoryEntryResponse, 0, len(entries))
		for _, e := range entries {
			out = append(out, HistoryEntryResponse{
				AppointmentID: e.AppointmentID,
				Date:          e.Date,
				StartTime:     e.StartTime,
				DoctorName:    e.DoctorName,
				Diagnosis:     e.Diagnosis,
				DocumentURL:   e.DocumentURL,
			})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func patientRecordHandler(qs *scheduling.QueryService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		patientID, err := uuid.Parse(chi.URLParam(r, "patientID"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patientID must be a valid UUID")
			return
		}

		appts, err := qs.PatientRecord(r.Context(), patientID)
		if err != nil {
			handleDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponses(appts))
	}
}
