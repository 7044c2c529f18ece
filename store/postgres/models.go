package postgres

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

	ID           string    `grove:"id,pk"`
	TenantID     string    `grove:"tenant_id"`
	PlanCode     string    `grove:"plan_code"`
	Status       string    `grove:"status"`
	ValidFrom    time.Time `grove:"valid_from"`
	ValidTo      time.Time `grove:"valid_to"`
	InvoicesUsed int64     `grove:"invoices_used"`
	ActsUsed     int64     `grove:"acts_used"`
	CreatedAt    time.Time `grove:"created_at"`
	UpdatedAt    time.Time `grove:"updated_at"`
}

func toSubscriptionModel(s *subscription.Subscription) *subscriptionModel {
	return &subscriptionModel{
		ID:           s.ID.String(),
		TenantID:     s.TenantID,
		PlanCode:     string(s.PlanCode),
		Status:       string(s.Status),
		ValidFrom:    s.ValidFrom,
		ValidTo:      s.ValidTo,
		InvoicesUsed: s.InvoicesUsed,
		ActsUsed:     s.ActsUsed,
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
	}
}

func fromSubscriptionModel(m *subscriptionModel) (*subscription.Subscription, error) {
	subID, err := id.ParseSubscriptionID(m.ID)
	if err != nil {
		return nil, err
	}
	return &subscription.Subscription{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:           subID,
		TenantID:     m.TenantID,
		PlanCode:     plan.Code(m.PlanCode),
		Status:       subscription.Status(m.Status),
		ValidFrom:    m.ValidFrom,
		ValidTo:      m.ValidTo,
		InvoicesUsed: m.InvoicesUsed,
		ActsUsed:     m.ActsUsed,
	}, nil
}

// ==================== Free trial models ====================

type freeTrialModel struct {
	grove.BaseModel `grove:"table:tollgate_free_trials"`

	KeyHash       string     `grove:"key_hash,pk"`
	InvoiceUsedAt *time.Time `grove:"invoice_used_at"`
	ActUsedAt     *time.Time `grove:"act_used_at"`
	CreatedAt     time.Time  `grove:"created_at"`
}

func fromFreeTrialModel(m *freeTrialModel) *trial.Grant {
	return &trial.Grant{
		KeyHash:       m.KeyHash,
		InvoiceUsedAt: m.InvoiceUsedAt,
		ActUsedAt:     m.ActUsedAt,
		CreatedAt:     m.CreatedAt,
	}
}

// ==================== Document models ====================

type documentModel struct {
	grove.BaseModel `grove:"table:tollgate_documents"`

	ID                string            `grove:"id,pk"`
	TenantID          string            `grove:"tenant_id"`
	Kind              string            `grove:"kind"`
	RegistrationID    string            `grove:"registration_id"`
	CounterpartyTaxID string            `grove:"counterparty_tax_id"`
	Number            string            `grove:"number"`
	Sequence          int64             `grove:"sequence"`
	Metadata          map[string]string `grove:"metadata,type:jsonb"`
	CreatedAt         time.Time         `grove:"created_at"`
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
		CreatedAt:         d.CreatedAt,
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
		CreatedAt:         m.CreatedAt,
	}, nil
}

// ==================== Payment intent models ====================

type paymentIntentModel struct {
	grove.BaseModel `grove:"table:tollgate_payment_intents"`

	ID                  string     `grove:"id,pk"`
	TenantID            string     `grove:"tenant_id"`
	PlanCode            string     `grove:"plan_code"`
	Amount              int64      `grove:"amount"`
	Currency            string     `grove:"currency"`
	Status              string     `grove:"status"`
	ExternalPaymentID   string     `grove:"external_payment_id"`
	ApprovalURL         string     `grove:"approval_url"`
	LastCallbackPayload []byte     `grove:"last_callback_payload"`
	GatewayStatus       string     `grove:"gateway_status"`
	ReviewReason        string     `grove:"review_reason"`
	ActivatedAt         *time.Time `grove:"activated_at"`
	CreatedAt           time.Time  `grove:"created_at"`
	UpdatedAt           time.Time  `grove:"updated_at"`
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
		ActivatedAt:         in.ActivatedAt,
		CreatedAt:           in.CreatedAt,
		UpdatedAt:           in.UpdatedAt,
	}
}

func fromPaymentIntentModel(m *paymentIntentModel) (*payment.Intent, error) {
	intentID, err := id.ParsePaymentIntentID(m.ID)
	if err != nil {
		return nil, err
	}
	return &payment.Intent{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
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
		ActivatedAt:         m.ActivatedAt,
	}, nil
}
