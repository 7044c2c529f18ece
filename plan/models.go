package plan

import (
	"github.com/xraph/tollgate/types"
)

type Code string

const (
	CodeBasicNoClients Code = "BASIC_NO_CLIENTS"
	CodeProUnlimited   Code = "PRO_UNLIMITED"
	CodePAYG55         Code = "PAYG_5_5"
)

// Resource is a metered resource a plan grants quota for.
type Resource string

const (
	ResourceInvoice Resource = "invoice"
	ResourceAct     Resource = "act"
)

// Valid reports whether r is a known resource.
func (r Resource) Valid() bool {
	return r == ResourceInvoice || r == ResourceAct
}

type Plan struct {
	Code               Code        `json:"code"`
	Title              string      `json:"title"`
	Price              types.Money `json:"price"`
	DurationDays       int         `json:"duration_days"`
	InvoiceQuota       *int64      `json:"invoice_quota"`
	ActQuota           *int64      `json:"act_quota"`
	AllowsClientModule bool        `json:"allows_client_module"`
}

// Quota returns the quota for r and whether it is finite.
// A nil quota means unlimited.
func (p *Plan) Quota(r Resource) (int64, bool) {
	var q *int64
	switch r {
	case ResourceInvoice:
		q = p.InvoiceQuota
	case ResourceAct:
		q = p.ActQuota
	}
	if q == nil {
		return 0, false
	}
	return *q, true
}

// Remaining returns quota minus used, floored at zero, or nil when unlimited.
func (p *Plan) Remaining(r Resource, used int64) *int64 {
	q, finite := p.Quota(r)
	if !finite {
		return nil
	}
	left := max(0, q-used)
	return &left
}

func (p *Plan) clone() *Plan {
	c := *p
	if p.InvoiceQuota != nil {
		v := *p.InvoiceQuota
		c.InvoiceQuota = &v
	}
	if p.ActQuota != nil {
		v := *p.ActQuota
		c.ActQuota = &v
	}
	return &c
}
