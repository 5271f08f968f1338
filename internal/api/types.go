package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/medagenda/scheduling-core/internal/scheduling"
)

type CreateSlotRequest struct {
	DoctorID      string `json:"doctor_id,omitempty"` // admins may create for any doctor
	DoctorName    string `json:"doctor_name,omitempty"`
	SpecialtyName string `json:"specialty_name"`
	Date          string `json:"date"`
	StartTime     string `json:"start_time"`
	EndTime       string `json:"end_time"`
}

type SlotResponse struct {
	ID            uuid.UUID  `json:"id"`
	DoctorID      uuid.UUID  `json:"doctor_id"`
	DoctorName    string     `json:"doctor_name"`
	SpecialtyName string     `json:"specialty_name"`
	Date          string     `json:"date"`
	StartTime     string     `json:"start_time"`
	EndTime       string     `json:"end_time"`
	Status        string     `json:"status"`
	HoldExpiresAt *time.Time `json:"hold_expires_at,omitempty"`
}

func toSlotResponse(s *scheduling.AvailabilitySlot) SlotResponse {
	return SlotResponse{
		ID:            s.ID,
		DoctorID:      s.DoctorID,
		DoctorName:    s.DoctorName,
		SpecialtyName: s.SpecialtyName,
		Date:          s.Date,
		StartTime:     s.StartTime,
		EndTime:       s.EndTime,
		Status:        string(s.Status),
		HoldExpiresAt: s.HoldExpiresAt,
	}
}

type CreateIntentRequest struct {
	SlotID string `json:"slot_id"`
	Reason string `json:"reason"`
}

type IntentResponse struct {
	PaymentID    string `json:"payment_id"`
	ClientSecret string `json:"client_secret,omitempty"`
}

type ConfirmPaymentRequest struct {
	PaymentID string `json:"payment_id"`
	Status    string `json:"status"` // provider-declared outcome, re-verified server side
}

type RescheduleRequest struct {
	NewSlotID string `json:"new_slot_id"`
}

type CompleteRequest struct {
	Diagnosis    string                        `json:"diagnosis"`
	Notes        string                        `json:"notes"`
	Prescription []scheduling.PrescriptionItem `json:"prescription"`
}

type ClinicalRecordResponse struct {
	Diagnosis    string                        `json:"diagnosis"`
	Notes        string                        `json:"notes,omitempty"`
	Prescription []scheduling.PrescriptionItem `json:"prescription"`
	DocumentURL  string                        `json:"document_url,omitempty"`
	CompletedAt  time.Time                     `json:"completed_at"`
}

type AppointmentResponse struct {
	ID              uuid.UUID               `json:"id"`
	PatientID       uuid.UUID               `json:"patient_id"`
	PatientName     string                  `json:"patient_name"`
	DoctorID        uuid.UUID               `json:"doctor_id"`
	DoctorName      string                  `json:"doctor_name"`
	SpecialtyName   string                  `json:"specialty_name"`
	Date            string                  `json:"date"`
	StartTime       string                  `json:"start_time"`
	EndTime         string                  `json:"end_time"`
	SlotID          uuid.UUID               `json:"slot_id"`
	Status          string                  `json:"status"`
	Reason          string                  `json:"reason"`
	PaymentID       string                  `json:"payment_id,omitempty"`
	PriceCents      int64                   `json:"price_cents,omitempty"`
	PaymentMethod   string                  `json:"payment_method,omitempty"`
	PaymentDate     *time.Time              `json:"payment_date,omitempty"`
	RescheduledFrom *uuid.UUID              `json:"rescheduled_from,omitempty"`
	Clinical        *ClinicalRecordResponse `json:"clinical_record,omitempty"`
}

func toAppointmentResponse(a *scheduling.Appointment) AppointmentResponse {
	resp := AppointmentResponse{
		ID:              a.ID,
		PatientID:       a.PatientID,
		PatientName:     a.PatientName,
		DoctorID:        a.DoctorID,
		DoctorName:      a.DoctorName,
		SpecialtyName:   a.SpecialtyName,
		Date:            a.Date,
		StartTime:       a.StartTime,
		EndTime:         a.EndTime,
		SlotID:          a.SlotID,
		Status:          string(a.Status),
		Reason:          a.Reason,
		PaymentID:       a.PaymentID,
		PriceCents:      a.PriceCents,
		PaymentMethod:   a.PaymentMethod,
		PaymentDate:     a.PaymentDate,
		RescheduledFrom: a.RescheduledFrom,
	}
	if a.Clinical != nil {
		resp.Clinical = &ClinicalRecordResponse{
			Diagnosis:    a.Clinical.Diagnosis,
			Notes:        a.Clinical.Notes,
			Prescription: a.Clinical.Prescription,
			DocumentURL:  a.Clinical.DocumentURL,
			CompletedAt:  a.Clinical.CompletedAt,
		}
	}
	return resp
}

func toAppointmentResponses(appts []scheduling.Appointment) []AppointmentResponse {
	out := make([]AppointmentResponse, 0, len(appts))
	for i := range appts {
		out = append(out, toAppointmentResponse(&appts[i]))
	}
	return out
}

type HistoryEntryResponse struct {
	AppointmentID uuid.UUID `json:"appointment_id"`
	Date          string    `json:"date"`
	StartTime     string    `json:"start_time"`
	DoctorName    string    `json:"doctor_name"`
	Diagnosis     string    `json:"diagnosis,omitempty"`
	DocumentURL   string    `json:"document_url,omitempty"`
}

type PaymentRecordResponse struct {
	AppointmentID uuid.UUID  `json:"appointment_id"`
	Reference     string     `json:"reference"`
	PatientName   string     `json:"patient_name"`
	DoctorName    string     `json:"doctor_name"`
	SpecialtyName string     `json:"specialty_name"`
	AmountCents   int64      `json:"amount_cents"`
	Method        string     `json:"method,omitempty"`
	PaidAt        *time.Time `json:"paid_at,omitempty"`
}
