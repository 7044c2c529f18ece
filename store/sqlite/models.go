package sqlite

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/tollgate/document"
	"github.com/xraph/tollgate/id"
	"github.com/xraph/tollgate/payment"
	"github.com/xraph/tollgate/plan"
	"github.com/xraph/tollgate/subscription"
	"github.com/xraph/tollgate/trial"
	"github.com/xraph/tollgate/types"
)

// Timestamps are stored as UTC unix nanoseconds so range predicates compare
// integers instead of driver-formatted text.

type subscriptionModel struct {
	grove.BaseModel `grove:"table:tollgate_subscriptions"`

	ID           string `grove:"id,pk"`
	TenantID     string `grove:"tenant_id"`
	PlanCode     string `grove:"plan_code"`
	Status       string `grove:"status"`
	ValidFrom    int64  `grove:"valid_from"`
	ValidTo      int64  `grove:"valid_to"`
	InvoicesUsed int64  `grove:"invoices_used"`
	ActsUsed     int64  `grove:"acts_used"`
	CreatedAt    int64  `grove:"created_at"`
	UpdatedAt    int64  `grove:"updated_at"`
}

func toSubscriptionModel(s *subscription.Subscription) *subscriptionModel {
	return &subscriptionModel{
		ID:           s.ID.String(),
		TenantID:     s.TenantID,
		PlanCode:     string(s.PlanCode),
		Status:       string(s.Status),
		ValidFrom:    nanos(s.ValidFrom),
		ValidTo:      nanos(s.ValidTo),
		InvoicesUsed: s.InvoicesUsed,
		ActsUsed:     s.ActsUsed,
		CreatedAt:    nanos(s.CreatedAt),
		UpdatedAt:    nanos(s.UpdatedAt),
	}
}

func fromSubscriptionModel(m *subscriptionModel) (*subscription.Subscription, error) {
	subID, err := id.ParseSubscriptionID(m.ID)
	if err != nil {
		return nil, err
	}
	return &subscription.Subscription{
		Entity: types.Entity{
			CreatedAt: fromNanos(m.CreatedAt),
			UpdatedAt: fromNanos(m.UpdatedAt),
		},
		ID:           subID,
		TenantID:     m.TenantID,
		PlanCode:     plan.Code(m.PlanCode),
		Status:       subscription.Status(m.Status),
		ValidFrom:    fromNanos(m.ValidFrom),
		ValidTo:      fromNanos(m.ValidTo),
		InvoicesUsed: m.InvoicesUsed,
		ActsUsed:     m.ActsUsed,
	}, nil
}

type freeTrialModel struct {
	grove.BaseModel `grove:"table:tollgate_free_trials"`

	KeyHash       string `grove:"key_hash,pk"`
	InvoiceUsedAt *int64 `grove:"invoice_used_at"`
	ActUsedAt     *int64 `grove:"act_used_at"`
	CreatedAt     int64  `grove:"created_at"`
}

func fromFreeTrialModel(m *freeTrialModel) *trial.Grant {
	return &trial.Grant{
		KeyHash:       m.KeyHash,
		InvoiceUsedAt: fromNanosPtr(m.InvoiceUsedAt),
		ActUsedAt:     fromNanosPtr(m.ActUsedAt),
		CreatedAt:     fromNanos(m.CreatedAt),
	}
}

type documentModel struct {
	grove.BaseModel `grove:"table:tollgate_documents"`

	ID                string `grove:"id,pk"`
	TenantID          string `grove:"tenant_id"`
	Kind              string `grove:"kind"`
	RegistrationID    string `grove:"registration_id"`
	CounterpartyTaxID string `grove:"counterparty_tax_id"`
	Number            string `grove:"number"`
	Sequence          int64  `grove:"sequence"`
	Metadata          string `grove:"metadata"`
	CreatedAt         int64  `grove:"created_at"`
}

// Metadata is kept as JSON text; the sqlite driver binds only scalars.
func toDocumentModel(d *document.Document) (*documentModel, error) {
	md := "{}"
	if len(d.Metadata) > 0 {
		raw, err := json.Marshal(d.Metadata)
		if err != nil {
			return nil, fmt.Errorf("encode metadata: %w", err)
		}
		md = string(raw)
	}
	return &documentModel{
		ID:                d.ID.String(),
		TenantID:          d.TenantID,
		Kind:              string(d.Kind),
		RegistrationID:    d.RegistrationID,
		CounterpartyTaxID: d.CounterpartyTaxID,
		Number:            d.Number,
		Sequence:          d.Sequence,
		Metadata:          md,
		CreatedAt:         nanos(d.CreatedAt),
	}, nil
}

func fromDocumentModel(m *documentModel) (*document.Document, error) {
	docID, err := id.ParseDocumentID(m.ID)
	if err != nil {
		return nil, err
	}
	var md map[string]string
	if m.Metadata != "" {
		if err := json.Unmarshal([]byte(m.Metadata), &md); err != nil {
			return nil, fmt.Errorf("decode metadata of %s: %w", m.ID, err)
		}
	}
	return &document.Document{
		ID:                docID,
		TenantID:          m.TenantID,
		Kind:              plan.Resource(m.Kind),
		RegistrationID:    m.RegistrationID,
		CounterpartyTaxID: m.CounterpartyTaxID,
		Number:            m.Number,
		Sequence:          m.Sequence,
		Metadata:          md,
		CreatedAt:         fromNanos(m.CreatedAt),
	}, nil
}

type paymentIntentModel struct {
	grove.BaseModel `grove:"table:tollgate_payment_intents"`

	ID                  string `grove:"id,pk"`
	TenantID            string `grove:"tenant_id"`
	PlanCode            string `grove:"plan_code"`
	Amount              int64  `grove:"amount"`
	Currency            string `grove:"currency"`
	Status              string `grove:"status"`
	ExternalPaymentID   string `grove:"external_payment_id"`
	ApprovalURL         string `grove:"approval_url"`
	LastCallbackPayload []byte `grove:"last_callback_payload"`
	GatewayStatus       string `grove:"gateway_status"`
	ReviewReason        string `grove:"review_reason"`
	ActivatedAt         *int64 `grove:"activated_at"`
	CreatedAt           int64  `grove:"created_at"`
	UpdatedAt           int64  `grove:"updated_at"`
}

func toPaymentIntentModel(in *payment.Intent) *paymentIntentModel {
	return &paymentIntentModel{
		ID:                  in.ID.String(),
		TenantID:            in.TenantID,
		PlanCode:            string(in.PlanCode),
		Amount:              in.Amount.Amount,
		Currency:            in.Amount.Currency,
		Status:              string(in.Status),
		ExternalPaymentID:   in.ExternalPaymentID,
		ApprovalURL:         in.ApprovalURL,
		LastCallbackPayload: in.LastCallbackPayload,
		GatewayStatus:       in.GatewayStatus,
		ReviewReason:        in.ReviewReason,
		ActivatedAt:         nanosPtr(in.ActivatedAt),
		CreatedAt:           nanos(in.CreatedAt),
		UpdatedAt:           nanos(in.UpdatedAt),
	}
}

func fromPaymentIntentModel(m *paymentIntentModel) (*payment.Intent, error) {
	intentID, err := id.ParsePaymentIntentID(m.ID)
	if err != nil {
		return nil, err
	}
	return &payment.Intent{
		Entity: types.Entity{
			CreatedAt: fromNanos(m.CreatedAt),
			UpdatedAt: fromNanos(m.UpdatedAt),
		},
		ID:                  intentID,
		TenantID:            m.TenantID,
		PlanCode:            plan.Code(m.PlanCode),
		Amount:              types.Money{Amount: m.Amount, Currency: m.Currency},
		Status:              payment.Status(m.Status),
		ExternalPaymentID:   m.ExternalPaymentID,
		ApprovalURL:         m.ApprovalURL,
		LastCallbackPayload: m.LastCallbackPayload,
		GatewayStatus:       m.GatewayStatus,
		ReviewReason:        m.ReviewReason,
		ActivatedAt:         fromNanosPtr(m.ActivatedAt),
	}, nil
}

func nanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UTC().UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func nanosPtr(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	n := nanos(*t)
	return &n
}

func fromNanosPtr(n *int64) *time.Time {
	if n == nil {
		return nil
	}
	t := fromNanos(*n)
	return &t
}
