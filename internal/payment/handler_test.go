package payment

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/medagenda/scheduling-core/internal/scheduling"
)

type fakeProvider struct {
	createErr error
	outcomes  map[string]*Outcome
	verifyErr error
	created   int
}

func (f *fakeProvider) CreateIntent(ctx context.Context, amountCents int64, md Metadata) (*Intent, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created++
	id := "pi_fake_1"
	approvedAt := time.Date(2025, 6, 10, 9, 30, 0, 0, time.UTC)
	if f.outcomes == nil {
		f.outcomes = make(map[string]*Outcome)
	}
	f.outcomes[id] = &Outcome{
		PaymentID:   id,
		Approved:    true,
		AmountCents: amountCents,
		Method:      "card",
		ApprovedAt:  &approvedAt,
		Metadata:    md,
	}
	return &Intent{ID: id, ClientSecret: id + "_secret"}, nil
}

func (f *fakeProvider) Verify(ctx context.Context, paymentID string) (*Outcome, error) {
	if f.verifyErr != nil {
		return nil, f.verifyErr
	}
	out, ok := f.outcomes[paymentID]
	if !ok {
		return nil, ErrVerificationFailed
	}
	return out, nil
}

type fakeNotifier struct {
	sent int
	err  error
}

func (f *fakeNotifier) ReservationConfirmed(ctx context.Context, to string, appt *scheduling.Appointment) error {
	f.sent++
	return f.err
}

func newTestHandler(t *testing.T, store *scheduling.MemStore, provider Provider, notifier Notifier) *Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := scheduling.NewService(store, nil, nil, 10*time.Minute, logger)
	return NewHandler(provider, svc, notifier, 800, logger)
}

func seedSlot(t *testing.T, store *scheduling.MemStore) *scheduling.AvailabilitySlot {
	t.Helper()
	slot := &scheduling.AvailabilitySlot{
		ID:            uuid.New(),
		DoctorID:      uuid.New(),
		DoctorName:    "Dr. Ana Torres",
		SpecialtyName: "Cardiology",
		Date:          "2025-06-15",
		StartTime:     "10:00",
		EndTime:       "10:30",
		Status:        scheduling.SlotAvailable,
	}
	if err := store.CreateSlot(context.Background(), slot); err != nil {
		t.Fatalf("create slot: %v", err)
	}
	return slot
}

func TestCreateIntentHoldsSlot(t *testing.T) {
	store := scheduling.NewMemStore()
	provider := &fakeProvider{}
	h := newTestHandler(t, store, provider, nil)
	slot := seedSlot(t, store)
	actor := scheduling.Actor{ID: uuid.New(), Name: "Maria Lopez"}

	intent, err := h.CreateIntent(context.Background(), slot.ID, actor, "checkup")
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}
	if intent.ID == "" || intent.ClientSecret == "" {
		t.Fatalf("intent incomplete: %+v", intent)
	}

	got, _ := store.GetSlot(context.Background(), slot.ID)
	if got.Status != scheduling.SlotPending {
		t.Fatalf("slot status = %s, want %s", got.Status, scheduling.SlotPending)
	}
	if got.PatientID == nil || *got.PatientID != actor.ID {
		t.Fatalf("hold owner = %v, want %s", got.PatientID, actor.ID)
	}
}

func TestCreateIntentRequiresReason(t *testing.T) {
	store := scheduling.NewMemStore()
	h := newTestHandler(t, store, &fakeProvider{}, nil)
	slot := seedSlot(t, store)

	_, err := h.CreateIntent(context.Background(), slot.ID, scheduling.Actor{ID: uuid.New()}, "")
	if !errors.Is(err, scheduling.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}

	// Validation failed before anything touched the slot.
	got, _ := store.GetSlot(context.Background(), slot.ID)
	if got.Status != scheduling.SlotAvailable {
		t.Fatalf("slot status = %s, want %s", got.Status, scheduling.SlotAvailable)
	}
}

func TestCreateIntentReleasesHoldOnProviderFailure(t *testing.T) {
	store := scheduling.NewMemStore()
	provider := &fakeProvider{createErr: errors.New("stripe is down")}
	h := newTestHandler(t, store, provider, nil)
	slot := seedSlot(t, store)

	_, err := h.CreateIntent(context.Background(), slot.ID, scheduling.Actor{ID: uuid.New()}, "checkup")
	if err == nil {
		t.Fatal("expected provider error")
	}

	got, _ := store.GetSlot(context.Background(), slot.ID)
	if got.Status != scheduling.SlotAvailable {
		t.Fatalf("hold not released after provider failure: %s", got.Status)
	}
}

func TestConfirmReservesAndNotifies(t *testing.T) {
	store := scheduling.NewMemStore()
	provider := &fakeProvider{}
	notifier := &fakeNotifier{}
	h := newTestHandler(t, store, provider, notifier)
	slot := seedSlot(t, store)
	actor := scheduling.Actor{ID: uuid.New(), Name: "Maria Lopez", Email: "maria@example.com"}

	intent, err := h.CreateIntent(context.Background(), slot.ID, actor, "checkup")
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}

	appt, err := h.Confirm(context.Background(), intent.ID, true, actor)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if appt.Status != scheduling.StatusReserved || appt.SlotID != slot.ID {
		t.Fatalf("appointment wrong: %+v", appt)
	}
	if appt.PaymentID != intent.ID || appt.PriceCents != 800 || appt.PaymentMethod != "card" {
		t.Fatalf("payment details not recorded: %+v", appt)
	}
	if appt.Reason != "checkup" {
		t.Fatalf("reason = %q, want from intent metadata", appt.Reason)
	}
	if notifier.sent != 1 {
		t.Fatalf("notifications = %d, want 1", notifier.sent)
	}
}

func TestConfirmIsIdempotent(t *testing.T) {
	store := scheduling.NewMemStore()
	provider := &fakeProvider{}
	notifier := &fakeNotifier{}
	h := newTestHandler(t, store, provider, notifier)
	slot := seedSlot(t, store)
	actor := scheduling.Actor{ID: uuid.New(), Name: "Maria Lopez", Email: "maria@example.com"}

	intent, err := h.CreateIntent(context.Background(), slot.ID, actor, "checkup")
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}

	first, err := h.Confirm(context.Background(), intent.ID, true, actor)
	if err != nil {
		t.Fatalf("first confirm: %v", err)
	}
	second, err := h.Confirm(context.Background(), intent.ID, true, actor)
	if err != nil {
		t.Fatalf("replayed confirm: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("replay booked a second appointment %s, want %s", second.ID, first.ID)
	}

	appts, err := store.ListAppointmentsByPatient(context.Background(), actor.ID, nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(appts) != 1 {
		t.Fatalf("appointments = %d, want 1", len(appts))
	}
	if notifier.sent != 1 {
		t.Fatalf("notifications = %d, want 1 (replay must not re-send)", notifier.sent)
	}
}

// laggingReadStore makes payment-id lookups miss a set number of times,
// the way a reader under read-committed isolation misses a booking that
// another transaction has not yet committed.
type laggingReadStore struct {
	*scheduling.MemStore
	lagReads int
}

func (s *laggingReadStore) GetAppointmentByPaymentID(ctx context.Context, paymentID string) (*scheduling.Appointment, error) {
	if s.lagReads > 0 {
		s.lagReads--
		return nil, scheduling.ErrAppointmentNotFound
	}
	return s.MemStore.GetAppointmentByPaymentID(ctx, paymentID)
}

func (s *laggingReadStore) InTx(ctx context.Context, fn func(tx scheduling.Tx) error) error {
	return s.MemStore.InTx(ctx, func(tx scheduling.Tx) error {
		return fn(&laggingReadTx{Tx: tx, store: s})
	})
}

type laggingReadTx struct {
	scheduling.Tx
	store *laggingReadStore
}

func (t *laggingReadTx) GetAppointmentByPaymentID(ctx context.Context, paymentID string) (*scheduling.Appointment, error) {
	if t.store.lagReads > 0 {
		t.store.lagReads--
		return nil, scheduling.ErrAppointmentNotFound
	}
	return t.Tx.GetAppointmentByPaymentID(ctx, paymentID)
}

func TestConfirmConcurrentDuplicateReturnsFirstBooking(t *testing.T) {
	mem := scheduling.NewMemStore()
	store := &laggingReadStore{MemStore: mem}
	provider := &fakeProvider{}
	notifier := &fakeNotifier{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := scheduling.NewService(store, nil, nil, 10*time.Minute, logger)
	h := NewHandler(provider, svc, notifier, 800, logger)
	slot := seedSlot(t, mem)
	actor := scheduling.Actor{ID: uuid.New(), Name: "Maria Lopez", Email: "maria@example.com"}

	intent, err := h.CreateIntent(context.Background(), slot.ID, actor, "checkup")
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}

	// The first of two simultaneous confirmations commits the booking.
	first, err := svc.Reserve(context.Background(), scheduling.ReserveParams{
		SlotID:      slot.ID,
		PatientID:   actor.ID,
		PatientName: actor.Name,
		Reason:      "checkup",
		Payment:     scheduling.PaymentDetails{PaymentID: intent.ID, PriceCents: 800, Method: "card"},
	})
	if err != nil {
		t.Fatalf("first confirmation reserve: %v", err)
	}

	// The second confirmation's replay checks both run before the first
	// booking is visible to it, so it loses the slot update instead.
	store.lagReads = 2
	appt, err := h.Confirm(context.Background(), intent.ID, true, actor)
	if err != nil {
		t.Fatalf("duplicate confirm: %v", err)
	}
	if appt.ID != first.ID {
		t.Fatalf("duplicate confirm returned %s, want first booking %s", appt.ID, first.ID)
	}
	if notifier.sent != 0 {
		t.Fatalf("notifications = %d, want 0 for a duplicate confirmation", notifier.sent)
	}
}

func TestConfirmRejectsUnapproved(t *testing.T) {
	store := scheduling.NewMemStore()
	provider := &fakeProvider{}
	h := newTestHandler(t, store, provider, nil)
	slot := seedSlot(t, store)
	actor := scheduling.Actor{ID: uuid.New()}

	intent, err := h.CreateIntent(context.Background(), slot.ID, actor, "checkup")
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}

	// Client declares failure.
	if _, err := h.Confirm(context.Background(), intent.ID, false, actor); !errors.Is(err, ErrNotApproved) {
		t.Fatalf("declared failure err = %v, want ErrNotApproved", err)
	}

	// Client declares success but the provider disagrees.
	provider.outcomes[intent.ID].Approved = false
	if _, err := h.Confirm(context.Background(), intent.ID, true, actor); !errors.Is(err, ErrNotApproved) {
		t.Fatalf("provider-declined err = %v, want ErrNotApproved", err)
	}

	// The hold stays; expiry will clean it up.
	got, _ := store.GetSlot(context.Background(), slot.ID)
	if got.Status != scheduling.SlotPending {
		t.Fatalf("slot status = %s, want %s", got.Status, scheduling.SlotPending)
	}
}

func TestConfirmRejectsWrongPatient(t *testing.T) {
	store := scheduling.NewMemStore()
	provider := &fakeProvider{}
	h := newTestHandler(t, store, provider, nil)
	slot := seedSlot(t, store)
	actor := scheduling.Actor{ID: uuid.New()}

	intent, err := h.CreateIntent(context.Background(), slot.ID, actor, "checkup")
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}

	_, err = h.Confirm(context.Background(), intent.ID, true, scheduling.Actor{ID: uuid.New()})
	if !errors.Is(err, scheduling.ErrNotOwner) {
		t.Fatalf("err = %v, want ErrNotOwner", err)
	}
}

func TestConfirmSurvivesNotifierFailure(t *testing.T) {
	store := scheduling.NewMemStore()
	provider := &fakeProvider{}
	notifier := &fakeNotifier{err: errors.New("smtp timeout")}
	h := newTestHandler(t, store, provider, notifier)
	slot := seedSlot(t, store)
	actor := scheduling.Actor{ID: uuid.New(), Email: "maria@example.com"}

	intent, err := h.CreateIntent(context.Background(), slot.ID, actor, "checkup")
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}

	appt, err := h.Confirm(context.Background(), intent.ID, true, actor)
	if err != nil {
		t.Fatalf("confirm must succeed despite notifier failure: %v", err)
	}
	if appt.Status != scheduling.StatusReserved {
		t.Fatalf("status = %s, want %s", appt.Status, scheduling.StatusReserved)
	}
}
