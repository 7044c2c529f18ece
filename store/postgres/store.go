package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/pgdriver"
	_ "github.com/xraph/grove/drivers/pgdriver/pgmigrate"
	"github.com/xraph/grove/migrate"

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

// Store implements store.Store using PostgreSQL via Grove ORM.
type Store struct {
	db *grove.DB
	pg *pgdriver.PgDB
}

// New creates a new PostgreSQL store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db: db,
		pg: pgdriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.pg)
	if err != nil {
		return fmt.Errorf("tollgate/postgres: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("tollgate/postgres: %w: %w", tollgate.ErrMigrationFailed, err)
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
	err := s.pg.NewSelect(m).Where("tenant_id = $1", tenantID).Scan(ctx)
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
	_, err := s.pg.NewInsert(m).
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
		return fmt.Errorf("tollgate/postgres: upsert subscription: %w", err)
	}
	return nil
}

func (s *Store) IncrementUsage(ctx context.Context, tenantID string, r plan.Resource, limit int64, now time.Time) (int64, error) {
	col := usageColumn(r)
	query := fmt.Sprintf(`
		UPDATE tollgate_subscriptions
		SET %[1]s = %[1]s + 1, updated_at = $1
		WHERE tenant_id = $2 AND %[1]s < $3 AND status = $4 AND valid_to > $1
		RETURNING %[1]s
	`, col)

	var used int64
	err := s.pg.NewRaw(query, now.UTC(), tenantID, limit, string(subscription.StatusActive)).Scan(ctx, &used)
	if err != nil {
		if isNoRows(err) {
			return 0, tollgate.ErrQuotaExhausted
		}
		return 0, fmt.Errorf("tollgate/postgres: increment usage: %w", err)
	}
	return used, nil
}

func (s *Store) CancelSubscription(ctx context.Context, tenantID string, at time.Time) error {
	at = at.UTC()
	res, err := s.pg.NewUpdate((*subscriptionModel)(nil)).
		Set("status = $1", string(subscription.StatusCanceled)).
		Set("valid_to = $2", at).
		Set("updated_at = $3", at).
		Where("tenant_id = $4", tenantID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("tollgate/postgres: cancel subscription: %w", err)
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
	res, err := s.pg.NewUpdate((*subscriptionModel)(nil)).
		Set("valid_to = $1", validTo.UTC()).
		Set("status = $2", string(subscription.StatusActive)).
		Set("updated_at = $3", now.UTC()).
		Where("tenant_id = $4", tenantID).
		Where("valid_to = $5", expected.UTC()).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("tollgate/postgres: swap validity: %w", err)
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
		VALUES ($1, $2, $2)
		ON CONFLICT (key_hash) DO UPDATE SET %[1]s = EXCLUDED.%[1]s
		WHERE tollgate_free_trials.%[1]s IS NULL
		RETURNING key_hash
	`, col)

	var claimed string
	err := s.pg.NewRaw(query, keyHash, at.UTC()).Scan(ctx, &claimed)
	if err != nil {
		if isNoRows(err) {
			return false, nil
		}
		return false, fmt.Errorf("tollgate/postgres: claim free trial: %w", err)
	}
	return true, nil
}

func (s *Store) GetFreeTrial(ctx context.Context, keyHash string) (*trial.Grant, error) {
	m := new(freeTrialModel)
	err := s.pg.NewSelect(m).Where("key_hash = $1", keyHash).Scan(ctx)
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
	err := s.pg.NewRaw(`
		SELECT COUNT(*) FROM tollgate_documents
		WHERE tenant_id = $1 AND kind = $2
		  AND registration_id = $3 AND counterparty_tax_id = $4
		  AND number LIKE $5 ESCAPE '\'
	`, q.TenantID, string(q.Kind), q.RegistrationID, q.CounterpartyTaxID,
		document.EscapeLike(q.Prefix)+"%").Scan(ctx, &count)
	if err != nil {
		return 0, fmt.Errorf("tollgate/postgres: count documents: %w", err)
	}
	return count, nil
}

func (s *Store) CreateDocument(ctx context.Context, d *document.Document) error {
	m := toDocumentModel(d)
	if m.Metadata == nil {
		m.Metadata = map[string]string{}
	}
	_, err := s.pg.NewInsert(m).Exec(ctx)
	if err != nil {
		if isUniqueViolation(err) {
			return tollgate.ErrDocumentNumberTaken
		}
		return fmt.Errorf("tollgate/postgres: create document: %w", err)
	}
	return nil
}

func (s *Store) GetDocument(ctx context.Context, tenantID, docID string) (*document.Document, error) {
	m := new(documentModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", docID).
		Where("tenant_id = $2", tenantID).
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
	q := s.pg.NewSelect(&models).Where("tenant_id = $1", tenantID)
	if opts.Kind != "" {
		q = q.Where("kind = $2", string(opts.Kind))
	}
	q = q.OrderExpr("created_at DESC, id DESC")
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("tollgate/postgres: list documents: %w", err)
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
	m := toPaymentIntentModel(in)
	_, err := s.pg.NewInsert(m).Exec(ctx)
	if err != nil {
		return fmt.Errorf("tollgate/postgres: create payment intent: %w", err)
	}
	return nil
}

func (s *Store) GetIntent(ctx context.Context, intentID string) (*payment.Intent, error) {
	m := new(paymentIntentModel)
	err := s.pg.NewSelect(m).Where("id = $1", intentID).Scan(ctx)
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
	err := s.pg.NewSelect(m).Where("external_payment_id = $1", externalID).Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, tollgate.ErrPaymentNotFound
		}
		return nil, err
	}
	return fromPaymentIntentModel(m)
}

func (s *Store) AttachExternalPayment(ctx context.Context, intentID, externalID, approvalURL string, now time.Time) (bool, error) {
	res, err := s.pg.NewUpdate((*paymentIntentModel)(nil)).
		Set("external_payment_id = $1", externalID).
		Set("approval_url = $2", approvalURL).
		Set("status = $3", string(payment.StatusRedirectRequired)).
		Set("updated_at = $4", now.UTC()).
		Where("id = $5", intentID).
		Where("status = $6", string(payment.StatusCreated)).
		Where("external_payment_id = ''").
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("tollgate/postgres: attach external payment: %w", err)
	}
	return s.changedOrMissing(ctx, res, intentID)
}

func (s *Store) TransitionIntent(ctx context.Context, intentID string, from, to payment.Status, payload []byte, gatewayStatus string, now time.Time) (bool, error) {
	res, err := s.pg.NewUpdate((*paymentIntentModel)(nil)).
		Set("status = $1", string(to)).
		Set("gateway_status = $2", gatewayStatus).
		Set("last_callback_payload = COALESCE($3, last_callback_payload)", payload).
		Set("updated_at = $4", now.UTC()).
		Where("id = $5", intentID).
		Where("status = $6", string(from)).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("tollgate/postgres: transition payment intent: %w", err)
	}
	return s.changedOrMissing(ctx, res, intentID)
}

func (s *Store) RecordCallback(ctx context.Context, intentID string, payload []byte, now time.Time) error {
	res, err := s.pg.NewUpdate((*paymentIntentModel)(nil)).
		Set("last_callback_payload = $1", payload).
		Set("updated_at = $2", now.UTC()).
		Where("id = $3", intentID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("tollgate/postgres: record callback: %w", err)
	}
	return requireRow(res)
}

func (s *Store) FlagIntentForReview(ctx context.Context, intentID, gatewayStatus, reason string, payload []byte, now time.Time) error {
	res, err := s.pg.NewUpdate((*paymentIntentModel)(nil)).
		Set("gateway_status = $1", gatewayStatus).
		Set("review_reason = $2", reason).
		Set("last_callback_payload = COALESCE($3, last_callback_payload)", payload).
		Set("updated_at = $4", now.UTC()).
		Where("id = $5", intentID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("tollgate/postgres: flag payment intent: %w", err)
	}
	return requireRow(res)
}

func (s *Store) ClaimActivation(ctx context.Context, intentID string, now time.Time) (bool, error) {
	res, err := s.pg.NewUpdate((*paymentIntentModel)(nil)).
		Set("activated_at = $1", now.UTC()).
		Where("id = $2", intentID).
		Where("status = $3", string(payment.StatusSucceeded)).
		Where("activated_at IS NULL").
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("tollgate/postgres: claim activation: %w", err)
	}
	return s.changedOrMissing(ctx, res, intentID)
}

func (s *Store) ReleaseActivation(ctx context.Context, intentID string) error {
	_, err := s.pg.NewUpdate((*paymentIntentModel)(nil)).
		Set("activated_at = NULL").
		Where("id = $1", intentID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("tollgate/postgres: release activation: %w", err)
	}
	return nil
}

func (s *Store) ListPendingIntents(ctx context.Context, olderThan time.Time, limit int) ([]*payment.Intent, error) {
	var models []paymentIntentModel
	q := s.pg.NewSelect(&models).
		Where("status IN ($1, $2, $3)",
			string(payment.StatusCreated),
			string(payment.StatusRedirectRequired),
			string(payment.StatusWaitingConfirm)).
		Where("external_payment_id <> ''").
		Where("updated_at < $4", olderThan.UTC()).
		OrderExpr("updated_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("tollgate/postgres: list pending intents: %w", err)
	}
	return fromPaymentIntentModels(models)
}

func (s *Store) ListUnactivatedIntents(ctx context.Context, olderThan time.Time, limit int) ([]*payment.Intent, error) {
	var models []paymentIntentModel
	q := s.pg.NewSelect(&models).
		Where("status = $1", string(payment.StatusSucceeded)).
		Where("activated_at IS NULL").
		Where("updated_at < $2", olderThan.UTC()).
		OrderExpr("updated_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("tollgate/postgres: list unactivated intents: %w", err)
	}
	return fromPaymentIntentModels(models)
}

// changedOrMissing turns a conditional update result into (changed, err),
// returning ErrPaymentNotFound when the intent does not exist at all.
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

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "duplicate key value violates unique constraint")
}
