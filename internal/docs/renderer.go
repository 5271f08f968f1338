package docs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/medagenda/scheduling-core/internal/scheduling"
)

// HTTPRenderer asks the external document service to render a prescription
// PDF and hands back the durable URL it stored it under.
type HTTPRenderer struct {
	baseURL string
	client  *http.Client
}

func NewHTTPRenderer(baseURL string) *HTTPRenderer {
	return &HTTPRenderer{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

type renderRequest struct {
	AppointmentID string                        `json:"appointment_id"`
	PatientName   string                        `json:"patient_name"`
	DoctorName    string                        `json:"doctor_name"`
	SpecialtyName string                        `json:"specialty_name"`
	Date          string                        `json:"date"`
	Diagnosis     string                        `json:"diagnosis"`
	Notes         string                        `json:"notes,omitempty"`
	Prescription  []scheduling.PrescriptionItem `json:"prescription"`
}

type renderResponse struct {
	URL string `json:"url"`
}

func (r *HTTPRenderer) RenderPrescription(ctx context.Context, appt *scheduling.Appointment, rec *scheduling.ClinicalRecord) (string, error) {
	payload, err := json.Marshal(renderRequest{
		AppointmentID: appt.ID.String(),
		PatientName:   appt.PatientName,
		DoctorName:    appt.DoctorName,
		SpecialtyName: appt.SpecialtyName,
		Date:          appt.Date,
		Diagnosis:     rec.Diagnosis,
		Notes:         rec.Notes,
		Prescription:  rec.Prescription,
	})
	if err != nil {
		return "", fmt.Errorf("encode render request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/render/prescription", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("render prescription: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("render prescription: unexpected status %d", resp.StatusCode)
	}

	var out renderResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode render response: %w", err)
	}
	if out.URL == "" {
		return "", fmt.Errorf("render prescription: empty document url")
	}
	return out.URL, nil
}
