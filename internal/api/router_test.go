package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/medagenda/scheduling-core/internal/payment"
	"github.com/medagenda/scheduling-core/internal/scheduling"
)

type stubProvider struct {
	outcomes map[string]*payment.Outcome
}

func (s *stubProvider) CreateIntent(ctx context.Context, amountCents int64, md payment.Metadata) (*payment.Intent, error) {
	id := "pi_stub_" + uuid.NewString()
	approvedAt := time.Now()
	if s.outcomes == nil {
		s.outcomes = make(map[string]*payment.Outcome)
	}
	s.outcomes[id] = &payment.Outcome{
		PaymentID:   id,
		Approved:    true,
		AmountCents: amountCents,
		Method:      "card",
		ApprovedAt:  &approvedAt,
		Metadata:    md,
	}
	return &payment.Intent{ID: id, ClientSecret: id + "_secret"}, nil
}

func (s *stubProvider) Verify(ctx context.Context, paymentID string) (*payment.Outcome, error) {
	out, ok := s.outcomes[paymentID]
	if !ok {
		return nil, payment.ErrVerificationFailed
	}
	return out, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *scheduling.MemStore) {
	t.Helper()
	store := scheduling.NewMemStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := scheduling.NewService(store, nil, nil, 10*time.Minute, logger)
	payments := payment.NewHandler(&stubProvider{}, svc, nil, 800, logger)

	router := NewRouter(RouterConfig{
		Service:  svc,
		Queries:  scheduling.NewQueryService(store),
		Store:    store,
		Payments: payments,
		Logger:   logger,
		Env:      "test",
		Version:  "test",
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, store
}

func doRequest(t *testing.T, srv *httptest.Server, method, path string, actor *scheduling.Actor, body any) (*http.Response, []byte) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}

	req, err := http.NewRequest(method, srv.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if actor != nil {
		req.Header.Set("X-Actor-ID", actor.ID.String())
		req.Header.Set("X-Actor-Name", actor.Name)
		req.Header.Set("X-Actor-Email", actor.Email)
		if actor.Elevated {
			req.Header.Set("X-Actor-Role", "admin")
		}
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	data, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, data
}

func TestRouterRequiresActor(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, _ := doRequest(t, srv, http.MethodGet, "/me/appointments", nil, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}

	// Health endpoints stay open.
	resp, _ = doRequest(t, srv, http.MethodGet, "/health/live", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("liveness status = %d, want 200", resp.StatusCode)
	}
}

func TestRouterAdminGate(t *testing.T) {
	srv, _ := newTestServer(t)
	patient := scheduling.Actor{ID: uuid.New(), Name: "Maria Lopez"}
	admin := scheduling.Actor{ID: uuid.New(), Name: "Root", Elevated: true}

	resp, _ := doRequest(t, srv, http.MethodGet, "/admin/summary", &patient, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("patient on admin route: status = %d, want 403", resp.StatusCode)
	}

	resp, _ = doRequest(t, srv, http.MethodGet, "/admin/summary", &admin, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("admin on admin route: status = %d, want 200", resp.StatusCode)
	}
}

func TestSlotLifecycleOverHTTP(t *testing.T) {
	srv, _ := newTestServer(t)
	doctor := scheduling.Actor{ID: uuid.New(), Name: "Dr. Ana Torres"}

	resp, body := doRequest(t, srv, http.MethodPost, "/slots", &doctor, CreateSlotRequest{
		SpecialtyName: "Cardiology",
		Date:          "2025-06-15",
		StartTime:     "10:00",
		EndTime:       "10:30",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create slot status = %d, body = %s", resp.StatusCode, body)
	}
	var slot SlotResponse
	if err := json.Unmarshal(body, &slot); err != nil {
		t.Fatalf("decode slot: %v", err)
	}
	if slot.Status != "available" || slot.DoctorID != doctor.ID {
		t.Fatalf("slot = %+v", slot)
	}

	resp, body = doRequest(t, srv, http.MethodGet, "/doctors/"+doctor.ID.String()+"/slots", &doctor, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list slots status = %d", resp.StatusCode)
	}
	var slots []SlotResponse
	if err := json.Unmarshal(body, &slots); err != nil {
		t.Fatalf("decode slots: %v", err)
	}
	if len(slots) != 1 || slots[0].ID != slot.ID {
		t.Fatalf("slots = %+v", slots)
	}

	resp, _ = doRequest(t, srv, http.MethodDelete, "/slots/"+slot.ID.String(), &doctor, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete slot status = %d", resp.StatusCode)
	}
}

func TestBookingFlowOverHTTP(t *testing.T) {
	srv, store := newTestServer(t)
	doctor := scheduling.Actor{ID: uuid.New(), Name: "Dr. Ana Torres"}
	patient := scheduling.Actor{ID: uuid.New(), Name: "Maria Lopez", Email: "maria@example.com"}

	_, body := doRequest(t, srv, http.MethodPost, "/slots", &doctor, CreateSlotRequest{
		SpecialtyName: "Cardiology",
		Date:          "2025-06-15",
		StartTime:     "10:00",
		EndTime:       "10:30",
	})
	var slot SlotResponse
	if err := json.Unmarshal(body, &slot); err != nil {
		t.Fatalf("decode slot: %v", err)
	}

	resp, body := doRequest(t, srv, http.MethodPost, "/payments/intent", &patient, CreateIntentRequest{
		SlotID: slot.ID.String(),
		Reason: "chest pain follow-up",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("intent status = %d, body = %s", resp.StatusCode, body)
	}
	var intent IntentResponse
	if err := json.Unmarshal(body, &intent); err != nil {
		t.Fatalf("decode intent: %v", err)
	}

	// While the hold is live, a second intent on the slot conflicts.
	resp, _ = doRequest(t, srv, http.MethodPost, "/payments/intent", &patient, CreateIntentRequest{
		SlotID: slot.ID.String(),
		Reason: "someone else",
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("second intent status = %d, want 409", resp.StatusCode)
	}

	resp, body = doRequest(t, srv, http.MethodPost, "/payments/confirm", &patient, ConfirmPaymentRequest{
		PaymentID: intent.PaymentID,
		Status:    "approved",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("confirm status = %d, body = %s", resp.StatusCode, body)
	}
	var appt AppointmentResponse
	if err := json.Unmarshal(body, &appt); err != nil {
		t.Fatalf("decode appointment: %v", err)
	}
	if appt.Status != "reserved" || appt.SlotID != slot.ID {
		t.Fatalf("appointment = %+v", appt)
	}

	// Replaying the confirmation returns the same appointment.
	resp, body = doRequest(t, srv, http.MethodPost, "/payments/confirm", &patient, ConfirmPaymentRequest{
		PaymentID: intent.PaymentID,
		Status:    "approved",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("replay status = %d", resp.StatusCode)
	}
	var replay AppointmentResponse
	if err := json.Unmarshal(body, &replay); err != nil {
		t.Fatalf("decode replay: %v", err)
	}
	if replay.ID != appt.ID {
		t.Fatalf("replay booked a new appointment %s, want %s", replay.ID, appt.ID)
	}

	// Cancel frees the slot.
	resp, _ = doRequest(t, srv, http.MethodPost, "/appointments/"+appt.ID.String()+"/cancel", &patient, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cancel status = %d", resp.StatusCode)
	}
	got, err := store.GetSlot(context.Background(), slot.ID)
	if err != nil {
		t.Fatalf("get slot: %v", err)
	}
	if got.Status != scheduling.SlotAvailable {
		t.Fatalf("slot status after cancel = %s, want available", got.Status)
	}
}

func TestDomainErrorMapping(t *testing.T) {
	srv, _ := newTestServer(t)
	patient := scheduling.Actor{ID: uuid.New(), Name: "Maria Lopez"}

	resp, body := doRequest(t, srv, http.MethodPost, "/appointments/"+uuid.NewString()+"/cancel", &patient, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing appointment status = %d, want 404", resp.StatusCode)
	}
	var errResp ErrorResponse
	if err := json.Unmarshal(body, &errResp); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if errResp.Error != "appointment_not_found" {
		t.Fatalf("error code = %q", errResp.Error)
	}

	resp, _ = doRequest(t, srv, http.MethodPost, "/payments/confirm", &patient, ConfirmPaymentRequest{
		PaymentID: "pi_unknown",
		Status:    "approved",
	})
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("unverifiable payment status = %d, want 502", resp.StatusCode)
	}
}
