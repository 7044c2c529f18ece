package mongo

import (
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

// ==================== Subscription models ====================

type subscriptionModel struct {
	grove.BaseModel `grove:"table:tollgate_subscriptions"`

	ID           string    `grove:"id,pk"         bson:"_id"`
	TenantID     string    `grove:"tenant_id"     bson:"tenant_id"`
	PlanCode     string    `grove:"plan_code"     bson:"plan_code"`
	Status       string    `grove:"status"        bson:"status"`
	ValidFrom    time.Time `grove:"valid_from"    bson:"valid_from"`
	ValidTo      time.Time `grove:"valid_to"      bson:"valid_to"`
	InvoicesUsed int64     `grove:"invoices_used" bson:"invoices_used"`
	ActsUsed     int64     `grove:"acts_used"     bson:"acts_used"`
	CreatedAt    time.Time `grove:"created_at"    bson:"created_at"`
	UpdatedAt    time.Time `grove:"updated_at"    bson:"updated_at"`
}

func toSubscriptionModel(s *subscription.Subscription) *subscriptionModel {
	return &subscriptionModel{
		ID:           s.ID.String(),
		TenantID:     s.TenantID,
		PlanCode:     string(s.PlanCode),
		Status:       string(s.Status),
		ValidFrom:    s.ValidFrom.UTC(),
		ValidTo:      s.ValidTo.UTC(),
		InvoicesUsed: s.InvoicesUsed,
		ActsUsed:     s.ActsUsed,
		CreatedAt:    s.CreatedAt.UTC(),
		UpdatedAt:    s.UpdatedAt.UTC(),
	}
}

func fromSubscriptionModel(m *subscriptionModel) (*subscription.Subscription, error) {
	subID, err := id.ParseSubscriptionID(m.ID)
	if err != nil {
		return nil, err
	}
	return &subscription.Subscription{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt.UTC(),
			UpdatedAt: m.UpdatedAt.UTC(),
		},
		ID:           subID,
		TenantID:     m.TenantID,
		PlanCode:     plan.Code(m.PlanCode),
		Status:       subscription.Status(m.Status),
		ValidFrom:    m.ValidFrom.UTC(),
		ValidTo:      m.ValidTo.UTC(),
		InvoicesUsed: m.InvoicesUsed,
		ActsUsed:     m.ActsUsed,
	}, nil
}

// ==================== Free trial models ====================

type freeTrialModel struct {
	grove.BaseModel `grove:"table:tollgate_free_trials"`

	KeyHash       string     `grove:"key_hash,pk"     bson:"_id"`
	InvoiceUsedAt *time.Time `grove:"invoice_used_at" bson:"invoice_used_at,omitempty"`
	ActUsedAt     *time.Time `grove:"act_used_at"     bson:"act_used_at,omitempty"`
	CreatedAt     time.Time  `grove:"created_at"      bson:"created_at"`
}

func fromFreeTrialModel(m *freeTrialModel) *trial.Grant {
	return &trial.Grant{
		KeyHash:       m.KeyHash,
		InvoiceUsedAt: utcPtr(m.InvoiceUsedAt),
		ActUsedAt:     utcPtr(m.ActUsedAt),
		CreatedAt:     m.CreatedAt.UTC(),
	}
}

// ==================== Document models ====================

type documentModel struct {
	grove.BaseModel `grove:"table:tollgate_documents"`

	ID                string            `grove:"id,pk"               bson:"_id"`
	TenantID          string            `grove:"tenant_id"           bson:"tenant_id"`
	Kind              string            `grove:"kind"                bson:"kind"`
	RegistrationID    string            `grove:"registration_id"     bson:"registration_id"`
	CounterpartyTaxID string            `grove:"counterparty_tax_id" bson:"counterparty_tax_id"`
	Number            string            `grove:"number"              bson:"number"`
	Sequence          int64             `grove:"sequence"            bson:"sequence"`
	Metadata          map[string]string `grove:"metadata"            bson:"metadata,omitempty"`
	CreatedAt         time.Time         `grove:"created_at"          bson:"created_at"`
}

func toDocumentModel(d *document.Document) *documentModel {
	return &documentModel{
		ID:                d.ID.String(),
		TenantID:          d.TenantID,
		Kind:              string(d.Kind),
		RegistrationID:    d.RegistrationID,
		CounterpartyTaxID: d.CounterpartyTaxID,
		Number:            d.Number,
		Sequence:          d.Sequence,
		Metadata:          d.Metadata,
		CreatedAt:         d.CreatedAt.UTC(),
	}
}

func fromDocumentModel(m *documentModel) (*document.Document, error) {
	docID, err := id.ParseDocumentID(m.ID)
	if err != nil {
		return nil, err
	}
	return &document.Document{
		ID:                docID,
		TenantID:          m.TenantID,
		Kind:              plan.Resource(m.Kind),
		RegistrationID:    m.RegistrationID,
		CounterpartyTaxID: m.CounterpartyTaxID,
		Number:            m.Number,
		Sequence:          m.Sequence,
		Metadata:          m.Metadata,
		CreatedAt:         m.CreatedAt.UTC(),
	}, nil
}

// ==================== Payment intent models ====================

type paymentIntentModel struct {
	grove.BaseModel `grove:"table:tollgate_payment_intents"`

	ID                  string     `grove:"id,pk"                 bson:"_id"`
	TenantID            string     `grove:"tenant_id"             bson:"tenant_id"`
	PlanCode            string     `grove:"plan_code"             bson:"plan_code"`
	Amount              int64      `grove:"amount"                bson:"amount"`
	Currency            string     `grove:"currency"              bson:"currency"`
	Status              string     `grove:"status"                bson:"status"`
	ExternalPaymentID   string     `grove:"external_payment_id"   bson:"external_payment_id"`
	ApprovalURL         string     `grove:"approval_url"          bson:"approval_url"`
	LastCallbackPayload []byte     `grove:"last_callback_payload" bson:"last_callback_payload,omitempty"`
	GatewayStatus       string     `grove:"gateway_status"        bson:"gateway_status"`
	ReviewReason        string     `grove:"review_reason"         bson:"review_reason"`
	ActivatedAt         *time.Time `grove:"activated_at"          bson:"activated_at"`
	CreatedAt           time.Time  `grove:"created_at"            bson:"created_at"`
	UpdatedAt           time.Time  `grove:"updated_at"            bson:"updated_at"`
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
		ActivatedAt:         utcPtr(in.ActivatedAt),
		CreatedAt:           in.CreatedAt.UTC(),
		UpdatedAt:           in.UpdatedAt.UTC(),
	}
}

func fromPaymentIntentModel(m *paymentIntentModel) (*payment.Intent, error) {
	intentID, err := id.ParsePaymentIntentID(m.ID)
	if err != nil {
		return nil, err
	}
	return &payment.Intent{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt.UTC(),
			UpdatedAt: m.UpdatedAt.UTC(),
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
		ActivatedAt:         utcPtr(m.ActivatedAt),
	}, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
