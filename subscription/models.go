package subscription

import (
	"time"

	"github.com/xraph/tollgate/id"
	"github.com/xraph/tollgate/plan"
	"github.com/xraph/tollgate/types"
)

type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusCanceled Status = "CANCELED"
)

type Subscription struct {
	types.Entity
	ID           id.SubscriptionID `json:"id"`
	TenantID     string            `json:"tenant_id"`
	PlanCode     plan.Code         `json:"plan_code"`
	Status       Status            `json:"status"`
	ValidFrom    time.Time         `json:"valid_from"`
	ValidTo      time.Time         `json:"valid_to"`
	InvoicesUsed int64             `json:"invoices_used"`
	ActsUsed     int64             `json:"acts_used"`
}

// ActiveAt reports whether the subscription is ACTIVE and unexpired at t.
func (s *Subscription) ActiveAt(t time.Time) bool {
	return s.Status == StatusActive && s.ValidTo.After(t)
}

// Used returns the usage counter for r.
func (s *Subscription) Used(r plan.Resource) int64 {
	if r == plan.ResourceAct {
		return s.ActsUsed
	}
	return s.InvoicesUsed
}
