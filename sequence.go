package tollgate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/xraph/tollgate/document"
	"github.com/xraph/tollgate/id"
	"github.com/xraph/tollgate/plan"
	"github.com/xraph/tollgate/plugin"
)

// DefaultNumberingAttempts is the default retry budget of Sequencer.Create.
const DefaultNumberingAttempts = 5

// Sequencer assigns per-tenant document numbers. The next number for a
// prefix is the count of existing numbers with that prefix plus one; the
// store's unique (tenant, number) constraint arbitrates races and the loser
// recounts.
type Sequencer struct {
	docs    document.Store
	plugins *plugin.Registry
	logger  *slog.Logger
	now     func() time.Time

	// MaxAttempts bounds the insert attempts of one Create call.
	MaxAttempts int
	// Backoff returns the pause after the attempt-th conflict. Nil means
	// retry immediately.
	Backoff func(attempt int) time.Duration
}

// NewSequencer returns a standalone Sequencer over docs with default
// settings. Engines build their own through New.
func NewSequencer(docs document.Store) *Sequencer {
	return &Sequencer{
		docs:        docs,
		plugins:     plugin.NewRegistry(),
		logger:      slog.Default(),
		now:         time.Now,
		MaxAttempts: DefaultNumberingAttempts,
	}
}

// Prefix returns the number prefix for a document of kind.
func (s *Sequencer) Prefix(kind plan.Resource, registrationID, counterpartyTaxID string) (string, error) {
	if !kind.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownResource, kind)
	}
	p, err := document.Prefix(kind, registrationID, counterpartyTaxID)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return p, nil
}

// Create numbers and persists d. On success d.Number, d.Sequence, d.ID and
// d.CreatedAt are set. Numbers freed by deletions are not reused.
func (s *Sequencer) Create(ctx context.Context, d *document.Document) error {
	if d.TenantID == "" {
		return ValidationError{Field: "tenant_id", Message: "required"}
	}
	prefix, err := s.Prefix(d.Kind, d.RegistrationID, d.CounterpartyTaxID)
	if err != nil {
		return err
	}

	d.RegistrationID = strings.TrimSpace(d.RegistrationID)
	d.CounterpartyTaxID = strings.TrimSpace(d.CounterpartyTaxID)
	series := document.CountQuery{
		TenantID:          d.TenantID,
		Kind:              d.Kind,
		RegistrationID:    d.RegistrationID,
		CounterpartyTaxID: d.CounterpartyTaxID,
		Prefix:            prefix,
	}

	attempts := s.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultNumberingAttempts
	}
	if d.ID.IsNil() {
		d.ID = id.NewDocumentID()
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		n, err := s.docs.CountDocuments(ctx, series)
		if err != nil {
			return err
		}

		d.Sequence = n + 1
		d.Number = document.Number(prefix, d.Sequence)
		d.CreatedAt = s.now().UTC()

		err = s.docs.CreateDocument(ctx, d)
		if err == nil {
			s.logger.Debug("document numbered",
				"tenant_id", d.TenantID,
				"kind", d.Kind,
				"number", d.Number,
				"attempts", attempt,
			)
			s.plugins.EmitDocumentNumbered(ctx, d, attempt)
			return nil
		}
		if !errors.Is(err, ErrDocumentNumberTaken) {
			return err
		}

		s.plugins.EmitNumberConflict(ctx, d.TenantID, d.Number, attempt)
		if attempt < attempts && s.Backoff != nil {
			if err := sleepCtx(ctx, s.Backoff(attempt)); err != nil {
				return err
			}
		}
	}

	s.logger.Warn("document numbering gave up",
		"tenant_id", d.TenantID,
		"prefix", prefix,
		"attempts", attempts,
	)
	d.Number, d.Sequence = "", 0
	return ErrNumberGenerationFailed
}

// Get returns a tenant's document.
func (s *Sequencer) Get(ctx context.Context, tenantID, docID string) (*document.Document, error) {
	return s.docs.GetDocument(ctx, tenantID, docID)
}

// List returns a tenant's documents, newest first.
func (s *Sequencer) List(ctx context.Context, tenantID string, opts document.ListOpts) ([]*document.Document, error) {
	return s.docs.ListDocuments(ctx, tenantID, opts)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
