package document

import "context"

type Store interface {
	// CountDocuments counts the tenant's documents of q.Kind issued by
	// q.RegistrationID to q.CounterpartyTaxID whose number starts with
	// q.Prefix. The prefix match is case-sensitive.
	CountDocuments(ctx context.Context, q CountQuery) (int64, error)

	// CreateDocument inserts d. A clash on (tenant_id, number) returns
	// ErrDocumentNumberTaken.
	CreateDocument(ctx context.Context, d *Document) error

	GetDocument(ctx context.Context, tenantID string, docID string) (*Document, error)
	ListDocuments(ctx context.Context, tenantID string, opts ListOpts) ([]*Document, error)
}
