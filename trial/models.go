package trial

import (
	"time"

	"github.com/xraph/tollgate/plan"
)

// Grant is the whole free-tier state for one hashed caller key.
type Grant struct {
	KeyHash       string     `json:"key_hash"`
	InvoiceUsedAt *time.Time `json:"invoice_used_at,omitempty"`
	ActUsedAt     *time.Time `json:"act_used_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// UsedAt returns the claim time for r, or nil when the slot is free.
func (g *Grant) UsedAt(r plan.Resource) *time.Time {
	if r == plan.ResourceAct {
		return g.ActUsedAt
	}
	return g.InvoiceUsedAt
}

// Column returns the storage field name holding the claim time for r.
func Column(r plan.Resource) string {
	if r == plan.ResourceAct {
		return "act_used_at"
	}
	return "invoice_used_at"
}
