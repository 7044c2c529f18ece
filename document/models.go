package document

import (
	"time"

	"github.com/xraph/tollgate/id"
	"github.com/xraph/tollgate/plan"
)

// Document is a numbered invoice or act. Content beyond the number belongs
// to the caller and travels in Metadata.
type Document struct {
	ID                id.DocumentID     `json:"id"`
	TenantID          string            `json:"tenant_id"`
	Kind              plan.Resource     `json:"kind"`
	RegistrationID    string            `json:"registration_id"`
	CounterpartyTaxID string            `json:"counterparty_tax_id"`
	Number            string            `json:"number"`
	Sequence          int64             `json:"sequence"`
	Metadata          map[string]string `json:"metadata,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
}

// CountQuery selects the documents the next number of a series is derived
// from. Prefix is the number prefix built from the other fields.
type CountQuery struct {
	TenantID          string
	Kind              plan.Resource
	RegistrationID    string
	CounterpartyTaxID string
	Prefix            string
}

type ListOpts struct {
	Kind   plan.Resource
	Limit  int
	Offset int
}
