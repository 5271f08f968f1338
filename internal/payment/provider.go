package payment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrVerificationFailed means the provider could not be reached or gave
	// no usable answer about the payment.
	ErrVerificationFailed = errors.New("payment verification failed")

	// ErrNotApproved means the provider answered, and the payment is not in
	// an approved state.
	ErrNotApproved = errors.New("payment was not approved")
)

// Metadata is attached to a payment intent at creation and read back during
// confirmation. It is the only link between a payment and the slot it pays for.
type Metadata struct {
	PatientID uuid.UUID
	SlotID    uuid.UUID
	Reason    string
}

// Intent is the opaque handle returned to the client to start the checkout.
type Intent struct {
	ID           string
	ClientSecret string
}

// Outcome is the provider's own answer about a payment, fetched server side.
// A client-supplied "approved" flag is never trusted on its own.
type Outcome struct {
	PaymentID   string
	Approved    bool
	AmountCents int64
	Method      string
	ApprovedAt  *time.Time
	Metadata    Metadata
}

// Provider is the external payment capability.
type Provider interface {
	CreateIntent(ctx context.Context, amountCents int64, md Metadata) (*Intent, error)
	Verify(ctx context.Context, paymentID string) (*Outcome, error)
}
