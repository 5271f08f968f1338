package api

import (
	"net/http"

	"github.com/medagenda/scheduling-core/internal/scheduling"
)

func searchAppointmentsHandler(qs *scheduling.QueryService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		rng := scheduling.DateRange(q.Get("range"))

		appts, err := qs.Search(r.Context(), rng, q.Get("patient"), q.Get("doctor"))
		if err != nil {
			handleDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponses(appts))
	}
}

func paymentHistoryHandler(qs *scheduling.QueryService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		records, err := qs.PaymentHistory(r.Context())
		if err != nil {
			handleDomainError(w, err)
			return
		}

		out := make([]PaymentRecordResponse, 0, len(records))
		for _, rec := range records {
			out = append(out, PaymentRecordResponse{
				AppointmentID: rec.AppointmentID,
				Reference:     rec.Reference,
				PatientName:   rec.PatientName,
				DoctorName:    rec.DoctorName,
				SpecialtyName: rec.SpecialtyName,
				AmountCents:   rec.AmountCents,
				Method:        rec.Method,
				PaidAt:        rec.PaidAt,
			})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func statusSummaryHandler(qs *scheduling.QueryService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sum, err := qs.StatusSummary(r.Context())
		if err != nil {
			handleDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, sum)
	}
}
