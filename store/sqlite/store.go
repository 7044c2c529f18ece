package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/sqlitedriver"
	_ "github.com/xraph/grove/drivers/sqlitedriver/sqlitemigrate"
	"github.com/xraph/grove/migrate"
	moderncsqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/xraph/tollgate"
	"github.com/xraph/tollgate/document"
	"github.com/xraph/tollgate/payment"
	"github.com/xraph/tollgate/plan"
	tollgatestore "github.com/xraph/tollgate/store"
	"github.com/xraph/tollgate/subscription"
	"github.com/xraph/tollgate/trial"
)

// compile-time interface check
var _ tollgatestore.Store = (*Store)(nil)

// Store implements store.Store using SQLite via Grove ORM.
type Store struct {
	db  *grove.DB
	sdb *sqlitedriver.SqliteDB
}

// New creates a new SQLite store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		sdb: sqlitedriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.sdb)
	if err != nil {
		return fmt.Errorf("tollgate/sqlite: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("tollgate/sqlite: %w: %w", tollgate.ErrMigrationFailed, err)
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
	m := new(subscriptionModel)
	err := s.sdb.NewSelect(m).Where("tenant_id = ?", tenantID).Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, tollgate.ErrSubscriptionNotFound
		}
		return nil, err
	}
	return fromSubscriptionModel(m)
}

func (s *Store) UpsertSubscription(ctx context.Context, sub *subscription.Subscription) error {
	m := toSubscriptionModel(sub)
	_, err := s.sdb.NewInsert(m).
		OnConflict("(tenant_id) DO UPDATE").
		Set("plan_code = EXCLUDED.plan_code").
		Set("status = EXCLUDED.status").
		Set("valid_from = EXCLUDED.valid_from").
		Set("valid_to = EXCLUDED.valid_to").
		Set("invoices_used = EXCLUDED.invoices_used").
		Set("acts_used = EXCLUDED.acts_used").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("tollgate/sqlite: upsert subscription: %w", err)
	}
	return nil
}

func (s *Store) IncrementUsage(ctx context.Context, tenantID string, r plan.Resource, limit int64, now time.Time) (int64, error) {
	col := usageColumn(r)
	query := fmt.Sprintf(`
		UPDATE tollgate_subscriptions
		SET %[1]s = %[1]s + 1, updated_at = ?
		WHERE tenant_id = ? AND %[1]s < ? AND status = ? AND valid_to > ?
		RETURNING %[1]s
	`, col)

	ts := nanos(now)
	var used int64
	err := s.sdb.NewRaw(query, ts, tenantID, limit, string(subscription.StatusActive), ts).Scan(ctx, &used)
	if err != nil {
		if isNoRows(err) {
			return 0, tollgate.ErrQuotaExhausted
		}
		return 0, fmt.Errorf("tollgate/sqlite: increment usage: %w", err)
	}
	return used, nil
}

func (s *Store) CancelSubscription(ctx context.Context, tenantID string, at time.Time) error {
	ts := nanos(at)
	res, err := s.sdb.NewUpdate((*subscriptionModel)(nil)).
		Set("status = ?", string(subscription.StatusCanceled)).
		Set("valid_to = ?", ts).
		Set("updated_at = ?", ts).
		Where("tenant_id = ?", tenantID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("tollgate/sqlite: cancel subscription: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return tollgate.ErrSubscriptionNotFound
	}
	return nil
}

func (s *Store) SwapValidity(ctx context.Context, tenantID string, expected, validTo, now time.Time) (bool, error) {
	res, err := s.sdb.NewUpdate((*subscriptionModel)(nil)).
		Set("valid_to = ?", nanos(validTo)).
		Set("status = ?", string(subscription.StatusActive)).
		Set("updated_at = ?", nanos(now)).
		Where("tenant_id = ?", tenantID).
		Where("valid_to = ?", nanos(expected)).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("tollgate/sqlite: swap validity: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// ==================== Free Trial Store ====================

func (s *Store) ClaimFreeTrial(ctx context.Context, keyHash string, r plan.Resource, at time.Time) (bool, error) {
	col := trial.Column(r)
	query := fmt.Sprintf(`
		INSERT INTO tollgate_free_trials (key_hash, %[1]s, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT (key_hash) DO UPDATE SET %[1]s = excluded.%[1]s
		WHERE tollgate_free_trials.%[1]s IS NULL
		RETURNING key_hash
	`, col)

	ts := nanos(at)
	var claimed string
	err := s.sdb.NewRaw(query, keyHash, ts, ts).Scan(ctx, &claimed)
	if err != nil {
		if isNoRows(err) {
			return false, nil
		}
		return false, fmt.Errorf("tollgate/sqlite: claim free trial: %w", err)
	}
	return true, nil
}

func (s *Store) GetFreeTrial(ctx context.Context, keyHash string) (*trial.Grant, error) {
	m := new(freeTrialModel)
	err := s.sdb.NewSelect(m).Where("key_hash = ?", keyHash).Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, tollgate.ErrFreeTrialNotFound
		}
		return nil, err
	}
	return fromFreeTrialModel(m), nil
}

// ==================== Document Store ====================

func (s *Store) CountDocuments(ctx context.Context, q document.CountQuery) (int64, error) {
	var count int64
	// LIKE ignores case in SQLite, so the prefix is compared with substr.
	err := s.sdb.NewRaw(`
		SELECT COUNT(*) FROM tollgate_documents
		WHERE tenant_id = ? AND kind = ?
		  AND registration_id = ? AND counterparty_tax_id = ?
		  AND substr(number, 1, length(?)) = ?
	`, q.TenantID, string(q.Kind), q.RegistrationID, q.CounterpartyTaxID,
		q.Prefix, q.Prefix).Scan(ctx, &count)
	if err != nil {
		return 0, fmt.Errorf("tollgate/sqlite: count documents: %w", err)
	}
	return count, nil
}

func (s *Store) CreateDocument(ctx context.Context, d *document.Document) error {
	m, err := toDocumentModel(d)
	if err != nil {
		return fmt.Errorf("tollgate/sqlite: create document: %w", err)
	}
	if _, err := s.sdb.NewInsert(m).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return tollgate.ErrDocumentNumberTaken
		}
		return fmt.Errorf("tollgate/sqlite: create document: %w", err)
	}
	return nil
}

func (s *Store) GetDocument(ctx context.Context, tenantID, docID string) (*document.Document, error) {
	m := new(documentModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", docID).
		Where("tenant_id = ?", tenantID).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, tollgate.ErrDocumentNotFound
		}
		return nil, err
	}
	return fromDocumentModel(m)
}

func (s *Store) ListDocuments(ctx context.Context, tenantID string, opts document.ListOpts) ([]*document.Document, error) {
	var models []documentModel
	q := s.sdb.NewSelect(&models).Where("tenant_id = ?", tenantID)
	if opts.Kind != "" {
		q = q.Where("kind = ?", string(opts.Kind))
	}
	q = q.OrderExpr("created_at DESC, id DESC")
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("tollgate/sqlite: list documents: %w", err)
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
	_, err := s.sdb.NewInsert(toPaymentIntentModel(in)).Exec(ctx)
	if err != nil {
		return fmt.Errorf("tollgate/sqlite: create payment intent: %w", err)
	}
	return nil
}

func (s *Store) GetIntent(ctx context.Context, intentID string) (*payment.Intent, error) {
	m := new(paymentIntentModel)
	err := s.sdb.NewSelect(m).Where("id = ?", intentID).Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, tollgate.ErrPaymentNotFound
		}
		return nil, err
	}
	return fromPaymentIntentModel(m)
}

func (s *Store) GetIntentByExternalID(ctx context.Context, externalID string) (*payment.Intent, error) {
	if externalID == "" {
		return nil, tollgate.ErrPaymentNotFound
	}
	m := new(paymentIntentModel)
	err := s.sdb.NewSelect(m).Where("external_payment_id = ?", externalID).Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, tollgate.ErrPaymentNotFound
		}
		return nil, err
	}
	return fromPaymentIntentModel(m)
}

func (s *Store) AttachExternalPayment(ctx context.Context, intentID, externalID, approvalURL string, now time.Time) (bool, error) {
	res, err := s.sdb.NewUpdate((*paymentIntentModel)(nil)).
		Set("external_payment_id = ?", externalID).
		Set("approval_url = ?", approvalURL).
		Set("status = ?", string(payment.StatusRedirectRequired)).
		Set("updated_at = ?", nanos(now)).
		Where("id = ?", intentID).
		Where("status = ?", string(payment.StatusCreated)).
		Where("external_payment_id = ''").
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("tollgate/sqlite: attach external payment: %w", err)
	}
	return s.changedOrMissing(ctx, res, intentID)
}

func (s *Store) TransitionIntent(ctx context.Context, intentID string, from, to payment.Status, payload []byte, gatewayStatus string, now time.Time) (bool, error) {
	res, err := s.sdb.NewUpdate((*paymentIntentModel)(nil)).
		Set("status = ?", string(to)).
		Set("gateway_status = ?", gatewayStatus).
		Set("last_callback_payload = COALESCE(?, last_callback_payload)", payload).
		Set("updated_at = ?", nanos(now)).
		Where("id = ?", intentID).
		Where("status = ?", string(from)).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("tollgate/sqlite: transition payment intent: %w", err)
	}
	return s.changedOrMissing(ctx, res, intentID)
}

func (s *Store) RecordCallback(ctx context.Context, intentID string, payload []byte, now time.Time) error {
	res, err := s.sdb.NewUpdate((*paymentIntentModel)(nil)).
		Set("last_callback_payload = ?", payload).
		Set("updated_at = ?", nanos(now)).
		Where("id = ?", intentID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("tollgate/sqlite: record callback: %w", err)
	}
	return requireRow(res)
}

func (s *Store) FlagIntentForReview(ctx context.Context, intentID, gatewayStatus, reason string, payload []byte, now time.Time) error {
	res, err := s.sdb.NewUpdate((*paymentIntentModel)(nil)).
		Set("gateway_status = ?", gatewayStatus).
		Set("review_reason = ?", reason).
		Set("last_callback_payload = COALESCE(?, last_callback_payload)", payload).
		Set("updated_at = ?", nanos(now)).
		Where("id = ?", intentID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("tollgate/sqlite: flag payment intent: %w", err)
	}
	return requireRow(res)
}

func (s *Store) ClaimActivation(ctx context.Context, intentID string, now time.Time) (bool, error) {
	res, err := s.sdb.NewUpdate((*paymentIntentModel)(nil)).
		Set("activated_at = ?", nanos(now)).
		Where("id = ?", intentID).
		Where("status = ?", string(payment.StatusSucceeded)).
		Where("activated_at IS NULL").
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("tollgate/sqlite: claim activation: %w", err)
	}
	return s.changedOrMissing(ctx, res, intentID)
}

func (s *Store) ReleaseActivation(ctx context.Context, intentID string) error {
	_, err := s.sdb.NewUpdate((*paymentIntentModel)(nil)).
		Set("activated_at = NULL").
		Where("id = ?", intentID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("tollgate/sqlite: release activation: %w", err)
	}
	return nil
}

func (s *Store) ListPendingIntents(ctx context.Context, olderThan time.Time, limit int) ([]*payment.Intent, error) {
	var models []paymentIntentModel
	q := s.sdb.NewSelect(&models).
		Where("status IN (?, ?, ?)",
			string(payment.StatusCreated),
			string(payment.StatusRedirectRequired),
			string(payment.StatusWaitingConfirm)).
		Where("external_payment_id <> ''").
		Where("updated_at < ?", nanos(olderThan)).
		OrderExpr("updated_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("tollgate/sqlite: list pending intents: %w", err)
	}
	return fromPaymentIntentModels(models)
}

func (s *Store) ListUnactivatedIntents(ctx context.Context, olderThan time.Time, limit int) ([]*payment.Intent, error) {
	var models []paymentIntentModel
	q := s.sdb.NewSelect(&models).
		Where("status = ?", string(payment.StatusSucceeded)).
		Where("activated_at IS NULL").
		Where("updated_at < ?", nanos(olderThan)).
		OrderExpr("updated_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("tollgate/sqlite: list unactivated intents: %w", err)
	}
	return fromPaymentIntentModels(models)
}

func (s *Store) changedOrMissing(ctx context.Context, res rowsResult, intentID string) (bool, error) {
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if rows > 0 {
		return true, nil
	}
	if _, err := s.GetIntent(ctx, intentID); err != nil {
		return false, err
	}
	return false, nil
}

// ==================== Helpers ====================

type rowsResult interface {
	RowsAffected() (int64, error)
}

func fromPaymentIntentModels(models []paymentIntentModel) ([]*payment.Intent, error) {
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

func requireRow(res rowsResult) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return tollgate.ErrPaymentNotFound
	}
	return nil
}

func usageColumn(r plan.Resource) string {
	if r == plan.ResourceAct {
		return "acts_used"
	}
	return "invoices_used"
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

func isUniqueViolation(err error) bool {
	var sqliteErr *moderncsqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
