package mongo

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"

	"github.com/xraph/tollgate"
	"github.com/xraph/tollgate/document"
	"github.com/xraph/tollgate/payment"
	"github.com/xraph/tollgate/plan"
	tollgatestore "github.com/xraph/tollgate/store"
	"github.com/xraph/tollgate/subscription"
	"github.com/xraph/tollgate/trial"
)

// Collection name constants.
const (
	colSubscriptions  = "tollgate_subscriptions"
	colFreeTrials     = "tollgate_free_trials"
	colDocuments      = "tollgate_documents"
	colPaymentIntents = "tollgate_payment_intents"
)

// compile-time interface check
var _ tollgatestore.Store = (*Store)(nil)

// Store implements store.Store using MongoDB via Grove ORM.
type Store struct {
	db  *grove.DB
	mdb *mongodriver.MongoDB
}

// New creates a new MongoDB store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		mdb: mongodriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates indexes for all tollgate collections.
func (s *Store) Migrate(ctx context.Context) error {
	indexes := migrationIndexes()

	for col, models := range indexes {
		if len(models) == 0 {
			continue
		}
		_, err := s.mdb.Collection(col).Indexes().CreateMany(ctx, models)
		if err != nil {
			return fmt.Errorf("tollgate/mongo: migrate %s indexes: %w: %w", col, tollgate.ErrMigrationFailed, err)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Subscription Store ====================

func (s *Store) GetSubscription(ctx context.Context, tenantID string) (*subscription.Subscription, error) {
	var m subscriptionModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"tenant_id": tenantID}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, tollgate.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("tollgate/mongo: get subscription: %w", err)
	}
	return fromSubscriptionModel(&m)
}

func (s *Store) UpsertSubscription(ctx context.Context, sub *subscription.Subscription) error {
	m := toSubscriptionModel(sub)
	_, err := s.mdb.NewUpdate(m).
		Filter(bson.M{"tenant_id": m.TenantID}).
		SetUpdate(bson.M{
			"$set": bson.M{
				"plan_code":     m.PlanCode,
				"status":        m.Status,
				"valid_from":    m.ValidFrom,
				"valid_to":      m.ValidTo,
				"invoices_used": m.InvoicesUsed,
				"acts_used":     m.ActsUsed,
				"updated_at":    m.UpdatedAt,
			},
			"$setOnInsert": bson.M{
				"_id":        m.ID,
				"created_at": m.CreatedAt,
			},
		}).
		Upsert().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("tollgate/mongo: upsert subscription: %w", err)
	}
	return nil
}

func (s *Store) IncrementUsage(ctx context.Context, tenantID string, r plan.Resource, limit int64, now time.Time) (int64, error) {
	field := usageField(r)
	now = now.UTC()

	filter := bson.M{
		"tenant_id": tenantID,
		"status":    string(subscription.StatusActive),
		"valid_to":  bson.M{"$gt": now},
		field:       bson.M{"$lt": limit},
	}
	update := bson.M{
		"$inc": bson.M{field: int64(1)},
		"$set": bson.M{"updated_at": now},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var m subscriptionModel
	err := s.mdb.Collection(colSubscriptions).FindOneAndUpdate(ctx, filter, update, opts).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return 0, tollgate.ErrQuotaExhausted
		}
		return 0, fmt.Errorf("tollgate/mongo: increment usage: %w", err)
	}
	if r == plan.ResourceAct {
		return m.ActsUsed, nil
	}
	return m.InvoicesUsed, nil
}

func (s *Store) CancelSubscription(ctx context.Context, tenantID string, at time.Time) error {
	at = at.UTC()
	res, err := s.mdb.NewUpdate((*subscriptionModel)(nil)).
		Filter(bson.M{"tenant_id": tenantID}).
		Set("status", string(subscription.StatusCanceled)).
		Set("valid_to", at).
		Set("updated_at", at).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("tollgate/mongo: cancel subscription: %w", err)
	}
	if res.MatchedCount() == 0 {
		return tollgate.ErrSubscriptionNotFound
	}
	return nil
}

func (s *Store) SwapValidity(ctx context.Context, tenantID string, expected, validTo, now time.Time) (bool, error) {
	res, err := s.mdb.NewUpdate((*subscriptionModel)(nil)).
		Filter(bson.M{"tenant_id": tenantID, "valid_to": expected.UTC()}).
		Set("valid_to", validTo.UTC()).
		Set("status", string(subscription.StatusActive)).
		Set("updated_at", now.UTC()).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("tollgate/mongo: swap validity: %w", err)
	}
	return res.MatchedCount() > 0, nil
}

// ==================== Free Trial Store ====================

// ClaimFreeTrial upserts on (_id, slot unset). When the slot is already
// taken the filter misses and the upsert collides on _id, which counts as a
// lost claim. A collision can also come from a concurrent first claim on the
// other slot, so the upsert is retried once against the now existing grant.
func (s *Store) ClaimFreeTrial(ctx context.Context, keyHash string, r plan.Resource, at time.Time) (bool, error) {
	field := trial.Column(r)
	at = at.UTC()

	filter := bson.M{"_id": keyHash, field: nil}
	update := bson.M{
		"$set":         bson.M{field: at},
		"$setOnInsert": bson.M{"created_at": at},
	}
	opts := options.UpdateOne().SetUpsert(true)

	for attempt := 0; attempt < 2; attempt++ {
		res, err := s.mdb.Collection(colFreeTrials).UpdateOne(ctx, filter, update, opts)
		if err != nil {
			if mongo.IsDuplicateKeyError(err) {
				continue
			}
			return false, fmt.Errorf("tollgate/mongo: claim free trial: %w", err)
		}
		return res.UpsertedCount > 0 || res.ModifiedCount > 0, nil
	}
	return false, nil
}

func (s *Store) GetFreeTrial(ctx context.Context, keyHash string) (*trial.Grant, error) {
	var m freeTrialModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": keyHash}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, tollgate.ErrFreeTrialNotFound
		}
		return nil, fmt.Errorf("tollgate/mongo: get free trial: %w", err)
	}
	return fromFreeTrialModel(&m), nil
}

// ==================== Document Store ====================

func (s *Store) CountDocuments(ctx context.Context, q document.CountQuery) (int64, error) {
	filter := bson.M{
		"tenant_id":           q.TenantID,
		"kind":                string(q.Kind),
		"registration_id":     q.RegistrationID,
		"counterparty_tax_id": q.CounterpartyTaxID,
		"number":              bson.Regex{Pattern: "^" + regexp.QuoteMeta(q.Prefix)},
	}
	n, err := s.mdb.Collection(colDocuments).CountDocuments(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("tollgate/mongo: count documents: %w", err)
	}
	return n, nil
}

func (s *Store) CreateDocument(ctx context.Context, d *document.Document) error {
	_, err := s.mdb.NewInsert(toDocumentModel(d)).Exec(ctx)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return tollgate.ErrDocumentNumberTaken
		}
		return fmt.Errorf("tollgate/mongo: create document: %w", err)
	}
	return nil
}

func (s *Store) GetDocument(ctx context.Context, tenantID, docID string) (*document.Document, error) {
	var m documentModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": docID, "tenant_id": tenantID}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, tollgate.ErrDocumentNotFound
		}
		return nil, fmt.Errorf("tollgate/mongo: get document: %w", err)
	}
	return fromDocumentModel(&m)
}

func (s *Store) ListDocuments(ctx context.Context, tenantID string, opts document.ListOpts) ([]*document.Document, error) {
	filter := bson.M{"tenant_id": tenantID}
	if opts.Kind != "" {
		filter["kind"] = string(opts.Kind)
	}

	var models []documentModel
	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("tollgate/mongo: list documents: %w", err)
	}

	result := make([]*document.Document, 0, len(models))
	for i := range models {
		d, err := fromDocumentModel(&models[i])
		if err != nil {
			return nil, err
		}
		result = append(result, d)
	}
	return result, nil
}

// ==================== Payment Store ====================

func (s *Store) CreateIntent(ctx context.Context, in *payment.Intent) error {
	_, err := s.mdb.NewInsert(toPaymentIntentModel(in)).Exec(ctx)
	if err != nil {
		return fmt.Errorf("tollgate/mongo: create payment intent: %w", err)
	}
	return nil
}

func (s *Store) GetIntent(ctx context.Context, intentID string) (*payment.Intent, error) {
	return s.findIntent(ctx, bson.M{"_id": intentID})
}

func (s *Store) GetIntentByExternalID(ctx context.Context, externalID string) (*payment.Intent, error) {
	if externalID == "" {
		return nil, tollgate.ErrPaymentNotFound
	}
	return s.findIntent(ctx, bson.M{"external_payment_id": externalID})
}

func (s *Store) AttachExternalPayment(ctx context.Context, intentID, externalID, approvalURL string, now time.Time) (bool, error) {
	res, err := s.mdb.NewUpdate((*paymentIntentModel)(nil)).
		Filter(bson.M{
			"_id":                 intentID,
			"status":              string(payment.StatusCreated),
			"external_payment_id": "",
		}).
		Set("external_payment_id", externalID).
		Set("approval_url", approvalURL).
		Set("status", string(payment.StatusRedirectRequired)).
		Set("updated_at", now.UTC()).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("tollgate/mongo: attach external payment: %w", err)
	}
	return s.matchedOrMissing(ctx, res.MatchedCount(), intentID)
}

func (s *Store) TransitionIntent(ctx context.Context, intentID string, from, to payment.Status, payload []byte, gatewayStatus string, now time.Time) (bool, error) {
	set := bson.M{
		"status":         string(to),
		"gateway_status": gatewayStatus,
		"updated_at":     now.UTC(),
	}
	if payload != nil {
		set["last_callback_payload"] = payload
	}
	res, err := s.mdb.NewUpdate((*paymentIntentModel)(nil)).
		Filter(bson.M{"_id": intentID, "status": string(from)}).
		SetUpdate(bson.M{"$set": set}).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("tollgate/mongo: transition payment intent: %w", err)
	}
	return s.matchedOrMissing(ctx, res.MatchedCount(), intentID)
}

func (s *Store) RecordCallback(ctx context.Context, intentID string, payload []byte, now time.Time) error {
	res, err := s.mdb.NewUpdate((*paymentIntentModel)(nil)).
		Filter(bson.M{"_id": intentID}).
		Set("last_callback_payload", payload).
		Set("updated_at", now.UTC()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("tollgate/mongo: record callback: %w", err)
	}
	if res.MatchedCount() == 0 {
		return tollgate.ErrPaymentNotFound
	}
	return nil
}

func (s *Store) FlagIntentForReview(ctx context.Context, intentID, gatewayStatus, reason string, payload []byte, now time.Time) error {
	set := bson.M{
		"gateway_status": gatewayStatus,
		"review_reason":  reason,
		"updated_at":     now.UTC(),
	}
	if payload != nil {
		set["last_callback_payload"] = payload
	}
	res, err := s.mdb.NewUpdate((*paymentIntentModel)(nil)).
		Filter(bson.M{"_id": intentID}).
		SetUpdate(bson.M{"$set": set}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("tollgate/mongo: flag payment intent: %w", err)
	}
	if res.MatchedCount() == 0 {
		return tollgate.ErrPaymentNotFound
	}
	return nil
}

func (s *Store) ClaimActivation(ctx context.Context, intentID string, now time.Time) (bool, error) {
	res, err := s.mdb.NewUpdate((*paymentIntentModel)(nil)).
		Filter(bson.M{
			"_id":          intentID,
			"status":       string(payment.StatusSucceeded),
			"activated_at": nil,
		}).
		Set("activated_at", now.UTC()).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("tollgate/mongo: claim activation: %w", err)
	}
	return s.matchedOrMissing(ctx, res.MatchedCount(), intentID)
}

func (s *Store) ReleaseActivation(ctx context.Context, intentID string) error {
	_, err := s.mdb.NewUpdate((*paymentIntentModel)(nil)).
		Filter(bson.M{"_id": intentID}).
		Set("activated_at", nil).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("tollgate/mongo: release activation: %w", err)
	}
	return nil
}

func (s *Store) ListPendingIntents(ctx context.Context, olderThan time.Time, limit int) ([]*payment.Intent, error) {
	return s.listIntents(ctx, bson.M{
		"status": bson.M{"$in": bson.A{
			string(payment.StatusCreated),
			string(payment.StatusRedirectRequired),
			string(payment.StatusWaitingConfirm),
		}},
		"external_payment_id": bson.M{"$ne": ""},
		"updated_at":          bson.M{"$lt": olderThan.UTC()},
	}, limit)
}

func (s *Store) ListUnactivatedIntents(ctx context.Context, olderThan time.Time, limit int) ([]*payment.Intent, error) {
	return s.listIntents(ctx, bson.M{
		"status":       string(payment.StatusSucceeded),
		"activated_at": nil,
		"updated_at":   bson.M{"$lt": olderThan.UTC()},
	}, limit)
}

func (s *Store) findIntent(ctx context.Context, filter bson.M) (*payment.Intent, error) {
	var m paymentIntentModel
	err := s.mdb.NewFind(&m).Filter(filter).Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, tollgate.ErrPaymentNotFound
		}
		return nil, fmt.Errorf("tollgate/mongo: get payment intent: %w", err)
	}
	return fromPaymentIntentModel(&m)
}

func (s *Store) listIntents(ctx context.Context, filter bson.M, limit int) ([]*payment.Intent, error) {
	var models []paymentIntentModel
	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "updated_at", Value: 1}})
	if limit > 0 {
		q = q.Limit(int64(limit))
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("tollgate/mongo: list payment intents: %w", err)
	}

	result := make([]*payment.Intent, 0, len(models))
	for i := range models {
		in, err := fromPaymentIntentModel(&models[i])
		if err != nil {
			return nil, err
		}
		result = append(result, in)
	}
	return result, nil
}

func (s *Store) matchedOrMissing(ctx context.Context, matched int64, intentID string) (bool, error) {
	if matched > 0 {
		return true, nil
	}
	if _, err := s.GetIntent(ctx, intentID); err != nil {
		return false, err
	}
	return false, nil
}

// ==================== Helpers ====================

func usageField(r plan.Resource) string {
	if r == plan.ResourceAct {
		return "acts_used"
	}
	return "invoices_used"
}

// isNoDocuments checks if an error wraps mongo.ErrNoDocuments.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

// migrationIndexes returns the index definitions for all tollgate collections.
func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colSubscriptions: {
			{
				Keys:    bson.D{{Key: "tenant_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
		colDocuments: {
			{
				Keys:    bson.D{{Key: "tenant_id", Value: 1}, {Key: "number", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "tenant_id", Value: 1}, {Key: "kind", Value: 1}, {Key: "number", Value: 1}}},
			{Keys: bson.D{{Key: "tenant_id", Value: 1}, {Key: "created_at", Value: -1}}},
		},
		colPaymentIntents: {
			{
				Keys: bson.D{{Key: "external_payment_id", Value: 1}},
				Options: options.Index().SetUnique(true).
					SetPartialFilterExpression(bson.M{"external_payment_id": bson.M{"$gt": ""}}),
			},
			{Keys: bson.D{{Key: "tenant_id", Value: 1}, {Key: "created_at", Value: -1}}},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "updated_at", Value: 1}}},
		},
	}
}
