// Package memory is an in-process store for tests and development. Each
// method runs under the store's mutex, which is what makes its conditional
// updates atomic.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/xraph/tollgate"
	"github.com/xraph/tollgate/document"
	"github.com/xraph/tollgate/payment"
	"github.com/xraph/tollgate/plan"
	"github.com/xraph/tollgate/store"
	"github.com/xraph/tollgate/subscription"
	"github.com/xraph/tollgate/trial"
)

var _ store.Store = (*Store)(nil)

type Store struct {
	mu sync.RWMutex

	// Subscriptions by tenant
	subscriptions map[string]*subscription.Subscription

	// Free-trial grants by key hash
	trials map[string]*trial.Grant

	// Documents by id, plus tenant+number index
	documents map[string]*document.Document
	numbers   map[string]string

	// Payment intents by id, plus external id index
	intents    map[string]*payment.Intent
	externalID map[string]string

	closed bool
}

func New() *Store {
	return &Store{
		subscriptions: make(map[string]*subscription.Subscription),
		trials:        make(map[string]*trial.Grant),
		documents:     make(map[string]*document.Document),
		numbers:       make(map[string]string),
		intents:       make(map[string]*payment.Intent),
		externalID:    make(map[string]string),
	}
}

// ==================== Subscription Store ====================

func (s *Store) GetSubscription(_ context.Context, tenantID string) (*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.subscriptions[tenantID]
	if !ok {
		return nil, tollgate.ErrSubscriptionNotFound
	}
	cp := *sub
	return &cp, nil
}

func (s *Store) UpsertSubscription(_ context.Context, sub *subscription.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *sub
	if existing, ok := s.subscriptions[sub.TenantID]; ok {
		cp.ID = existing.ID
		cp.CreatedAt = existing.CreatedAt
	}
	s.subscriptions[sub.TenantID] = &cp
	return nil
}

func (s *Store) IncrementUsage(_ context.Context, tenantID string, r plan.Resource, limit int64, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subscriptions[tenantID]
	if !ok || !sub.ActiveAt(now) {
		return 0, tollgate.ErrQuotaExhausted
	}

	counter := &sub.InvoicesUsed
	if r == plan.ResourceAct {
		counter = &sub.ActsUsed
	}
	if *counter >= limit {
		return 0, tollgate.ErrQuotaExhausted
	}
	*counter++
	sub.UpdatedAt = now.UTC()
	return *counter, nil
}

func (s *Store) CancelSubscription(_ context.Context, tenantID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subscriptions[tenantID]
	if !ok {
		return tollgate.ErrSubscriptionNotFound
	}
	sub.Status = subscription.StatusCanceled
	sub.ValidTo = at.UTC()
	sub.UpdatedAt = at.UTC()
	return nil
}

func (s *Store) SwapValidity(_ context.Context, tenantID string, expected, validTo, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subscriptions[tenantID]
	if !ok {
		return false, tollgate.ErrSubscriptionNotFound
	}
	if !sub.ValidTo.Equal(expected) {
		return false, nil
	}
	sub.ValidTo = validTo.UTC()
	sub.Status = subscription.StatusActive
	sub.UpdatedAt = now.UTC()
	return true, nil
}

// ==================== Free Trial Store ====================

func (s *Store) ClaimFreeTrial(_ context.Context, keyHash string, r plan.Resource, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.trials[keyHash]
	if !ok {
		g = &trial.Grant{KeyHash: keyHash, CreatedAt: at.UTC()}
		s.trials[keyHash] = g
	}

	slot := &g.InvoiceUsedAt
	if r == plan.ResourceAct {
		slot = &g.ActUsedAt
	}
	if *slot != nil {
		return false, nil
	}
	t := at.UTC()
	*slot = &t
	return true, nil
}

func (s *Store) GetFreeTrial(_ context.Context, keyHash string) (*trial.Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.trials[keyHash]
	if !ok {
		return nil, tollgate.ErrFreeTrialNotFound
	}
	cp := *g
	return &cp, nil
}

// ==================== Document Store ====================

func (s *Store) CountDocuments(_ context.Context, q document.CountQuery) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, d := range s.documents {
		if d.TenantID == q.TenantID &&
			d.Kind == q.Kind &&
			d.RegistrationID == q.RegistrationID &&
			d.CounterpartyTaxID == q.CounterpartyTaxID &&
			strings.HasPrefix(d.Number, q.Prefix) {
			n++
		}
	}
	return n, nil
}

func (s *Store) CreateDocument(_ context.Context, d *document.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := d.TenantID + "\x00" + d.Number
	if _, taken := s.numbers[key]; taken {
		return tollgate.ErrDocumentNumberTaken
	}
	cp := *d
	if d.Metadata != nil {
		cp.Metadata = make(map[string]string, len(d.Metadata))
		for k, v := range d.Metadata {
			cp.Metadata[k] = v
		}
	}
	s.documents[d.ID.String()] = &cp
	s.numbers[key] = d.ID.String()
	return nil
}

func (s *Store) GetDocument(_ context.Context, tenantID, docID string) (*document.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.documents[docID]
	if !ok || d.TenantID != tenantID {
		return nil, tollgate.ErrDocumentNotFound
	}
	cp := *d
	return &cp, nil
}

func (s *Store) ListDocuments(_ context.Context, tenantID string, opts document.ListOpts) ([]*document.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*document.Document, 0)
	for _, d := range s.documents {
		if d.TenantID != tenantID {
			continue
		}
		if opts.Kind != "" && d.Kind != opts.Kind {
			continue
		}
		cp := *d
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID.String() > result[j].ID.String()
	})

	return page(result, opts.Offset, opts.Limit), nil
}

// ==================== Payment Store ====================

func (s *Store) CreateIntent(_ context.Context, in *payment.Intent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *in
	s.intents[in.ID.String()] = &cp
	if in.ExternalPaymentID != "" {
		s.externalID[in.ExternalPaymentID] = in.ID.String()
	}
	return nil
}

func (s *Store) GetIntent(_ context.Context, intentID string) (*payment.Intent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	in, ok := s.intents[intentID]
	if !ok {
		return nil, tollgate.ErrPaymentNotFound
	}
	return copyIntent(in), nil
}

func (s *Store) GetIntentByExternalID(_ context.Context, externalID string) (*payment.Intent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	intentID, ok := s.externalID[externalID]
	if !ok {
		return nil, tollgate.ErrPaymentNotFound
	}
	return copyIntent(s.intents[intentID]), nil
}

func (s *Store) AttachExternalPayment(_ context.Context, intentID, externalID, approvalURL string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	in, ok := s.intents[intentID]
	if !ok {
		return false, tollgate.ErrPaymentNotFound
	}
	if in.Status != payment.StatusCreated || in.ExternalPaymentID != "" {
		return false, nil
	}
	in.ExternalPaymentID = externalID
	in.ApprovalURL = approvalURL
	in.Status = payment.StatusRedirectRequired
	in.UpdatedAt = now.UTC()
	s.externalID[externalID] = intentID
	return true, nil
}

func (s *Store) TransitionIntent(_ context.Context, intentID string, from, to payment.Status, payload []byte, gatewayStatus string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	in, ok := s.intents[intentID]
	if !ok {
		return false, tollgate.ErrPaymentNotFound
	}
	if in.Status != from {
		return false, nil
	}
	in.Status = to
	in.GatewayStatus = gatewayStatus
	if payload != nil {
		in.LastCallbackPayload = append([]byte(nil), payload...)
	}
	in.UpdatedAt = now.UTC()
	return true, nil
}

func (s *Store) RecordCallback(_ context.Context, intentID string, payload []byte, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	in, ok := s.intents[intentID]
	if !ok {
		return tollgate.ErrPaymentNotFound
	}
	in.LastCallbackPayload = append([]byte(nil), payload...)
	in.UpdatedAt = now.UTC()
	return nil
}

func (s *Store) FlagIntentForReview(_ context.Context, intentID, gatewayStatus, reason string, payload []byte, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	in, ok := s.intents[intentID]
	if !ok {
		return tollgate.ErrPaymentNotFound
	}
	in.GatewayStatus = gatewayStatus
	in.ReviewReason = reason
	if payload != nil {
		in.LastCallbackPayload = append([]byte(nil), payload...)
	}
	in.UpdatedAt = now.UTC()
	return nil
}

func (s *Store) ClaimActivation(_ context.Context, intentID string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	in, ok := s.intents[intentID]
	if !ok {
		return false, tollgate.ErrPaymentNotFound
	}
	if in.Status != payment.StatusSucceeded || in.ActivatedAt != nil {
		return false, nil
	}
	t := now.UTC()
	in.ActivatedAt = &t
	return true, nil
}

func (s *Store) ReleaseActivation(_ context.Context, intentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	in, ok := s.intents[intentID]
	if !ok {
		return tollgate.ErrPaymentNotFound
	}
	in.ActivatedAt = nil
	return nil
}

func (s *Store) ListPendingIntents(_ context.Context, olderThan time.Time, limit int) ([]*payment.Intent, error) {
	return s.listIntents(limit, func(in *payment.Intent) bool {
		return !in.IsTerminal() && in.ExternalPaymentID != "" && in.UpdatedAt.Before(olderThan)
	}), nil
}

func (s *Store) ListUnactivatedIntents(_ context.Context, olderThan time.Time, limit int) ([]*payment.Intent, error) {
	return s.listIntents(limit, func(in *payment.Intent) bool {
		return in.Status == payment.StatusSucceeded && in.ActivatedAt == nil && in.UpdatedAt.Before(olderThan)
	}), nil
}

func (s *Store) listIntents(limit int, match func(*payment.Intent) bool) []*payment.Intent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*payment.Intent, 0)
	for _, in := range s.intents {
		if match(in) {
			result = append(result, copyIntent(in))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].UpdatedAt.Before(result[j].UpdatedAt)
	})
	return page(result, 0, limit)
}

// ==================== Core ====================

func (s *Store) Migrate(_ context.Context) error { return nil }

func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return tollgate.ErrStoreClosed
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func copyIntent(in *payment.Intent) *payment.Intent {
	cp := *in
	if in.LastCallbackPayload != nil {
		cp.LastCallbackPayload = append([]byte(nil), in.LastCallbackPayload...)
	}
	if in.ActivatedAt != nil {
		t := *in.ActivatedAt
		cp.ActivatedAt = &t
	}
	return &cp
}

func page[T any](items []T, offset, limit int) []T {
	start := min(offset, len(items))
	end := len(items)
	if limit > 0 && start+limit < end {
		end = start + limit
	}
	return items[start:end]
}
