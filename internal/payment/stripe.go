package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	stripe "github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/paymentintent"
)

const (
	metaPatientID = "patient_id"
	metaSlotID    = "slot_id"
	metaReason    = "reason"
)

// StripeProvider implements Provider on Stripe PaymentIntents. The slot and
// patient travel in the intent's metadata and come back on verification, so
// the confirmation path never trusts the client for them.
type StripeProvider struct {
	currency string
}

func NewStripeProvider(apiKey, currency string) *StripeProvider {
	stripe.Key = apiKey
	return &StripeProvider{currency: currency}
}

func (p *StripeProvider) CreateIntent(ctx context.Context, amountCents int64, md Metadata) (*Intent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amountCents),
		Currency: stripe.String(p.currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	params.AddMetadata(metaPatientID, md.PatientID.String())
	params.AddMetadata(metaSlotID, md.SlotID.String())
	params.AddMetadata(metaReason, md.Reason)

	pi, err := paymentintent.New(params)
	if err != nil {
		return nil, fmt.Errorf("create payment intent: %w", err)
	}

	return &Intent{ID: pi.ID, ClientSecret: pi.ClientSecret}, nil
}

func (p *StripeProvider) Verify(ctx context.Context, paymentID string) (*Outcome, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	pi, err := paymentintent.Get(paymentID, params)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}

	md, err := parseMetadata(pi.Metadata)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}

	out := &Outcome{
		PaymentID:   pi.ID,
		Approved:    pi.Status == stripe.PaymentIntentStatusSucceeded,
		AmountCents: pi.Amount,
		Metadata:    md,
	}
	if len(pi.PaymentMethodTypes) > 0 {
		out.Method = pi.PaymentMethodTypes[0]
	}
	if pi.Created > 0 {
		t := time.Unix(pi.Created, 0).UTC()
		out.ApprovedAt = &t
	}
	return out, nil
}

func parseMetadata(raw map[string]string) (Metadata, error) {
	patientID, err := uuid.Parse(raw[metaPatientID])
	if err != nil {
		return Metadata{}, fmt.Errorf("metadata %s: %v", metaPatientID, err)
	}
	slotID, err := uuid.Parse(raw[metaSlotID])
	if err != nil {
		return Metadata{}, fmt.Errorf("metadata %s: %v", metaSlotID, err)
	}
	return Metadata{
		PatientID: patientID,
		SlotID:    slotID,
		Reason:    raw[metaReason],
	}, nil
}
