package payment

import (
	"time"

	"github.com/xraph/tollgate/id"
	"github.com/xraph/tollgate/plan"
	"github.com/xraph/tollgate/types"
)

type Status string

const (
	StatusCreated          Status = "CREATED"
	StatusRedirectRequired Status = "REDIRECT_REQUIRED"
	StatusWaitingConfirm   Status = "WAITING_CONFIRM"
	StatusSucceeded        Status = "SUCCEEDED"
	StatusFailed           Status = "FAILED"
	StatusExpired          Status = "EXPIRED"
	StatusCanceled         Status = "CANCELED"
)

type Intent struct {
	types.Entity
	ID                  id.PaymentIntentID `json:"id"`
	TenantID            string             `json:"tenant_id"`
	PlanCode            plan.Code          `json:"plan_code"`
	Amount              types.Money        `json:"amount"`
	Status              Status             `json:"status"`
	ExternalPaymentID   string             `json:"external_payment_id,omitempty"`
	ApprovalURL         string             `json:"approval_url,omitempty"`
	LastCallbackPayload []byte             `json:"-"`
	GatewayStatus       string             `json:"gateway_status,omitempty"`
	ReviewReason        string             `json:"review_reason,omitempty"`
	ActivatedAt         *time.Time         `json:"activated_at,omitempty"`
}

func (i *Intent) IsTerminal() bool { return i.Status.IsTerminal() }
