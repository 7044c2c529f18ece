package sqlite

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the tollgate store (SQLite).
var Migrations = migrate.NewGroup("tollgate")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_tollgate_subscriptions",
			Version: "20240101000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS tollgate_subscriptions (
    id            TEXT PRIMARY KEY,
    tenant_id     TEXT NOT NULL,
    plan_code     TEXT NOT NULL,
    status        TEXT NOT NULL DEFAULT 'ACTIVE',
    valid_from    INTEGER NOT NULL,
    valid_to      INTEGER NOT NULL,
    invoices_used INTEGER NOT NULL DEFAULT 0,
    acts_used     INTEGER NOT NULL DEFAULT 0,
    created_at    INTEGER NOT NULL,
    updated_at    INTEGER NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_tollgate_subscriptions_tenant ON tollgate_subscriptions (tenant_id);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS tollgate_subscriptions`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_tollgate_free_trials",
			Version: "20240101000002",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS tollgate_free_trials (
    key_hash        TEXT PRIMARY KEY,
    invoice_used_at INTEGER,
    act_used_at     INTEGER,
    created_at      INTEGER NOT NULL
);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS tollgate_free_trials`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_tollgate_documents",
			Version: "20240101000003",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS tollgate_documents (
    id                  TEXT PRIMARY KEY,
    tenant_id           TEXT NOT NULL,
    kind                TEXT NOT NULL,
    registration_id     TEXT NOT NULL,
    counterparty_tax_id TEXT NOT NULL,
    number              TEXT NOT NULL,
    sequence            INTEGER NOT NULL,
    metadata            TEXT NOT NULL DEFAULT '{}',
    created_at          INTEGER NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_tollgate_documents_number ON tollgate_documents (tenant_id, number);
CREATE INDEX IF NOT EXISTS idx_tollgate_documents_kind ON tollgate_documents (tenant_id, kind);
CREATE INDEX IF NOT EXISTS idx_tollgate_documents_created ON tollgate_documents (tenant_id, created_at);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS tollgate_documents`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_tollgate_payment_intents",
			Version: "20240101000004",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS tollgate_payment_intents (
    id                    TEXT PRIMARY KEY,
    tenant_id             TEXT NOT NULL,
    plan_code             TEXT NOT NULL,
    amount                INTEGER NOT NULL,
    currency              TEXT NOT NULL DEFAULT 'GEL',
    status                TEXT NOT NULL DEFAULT 'CREATED',
    external_payment_id   TEXT NOT NULL DEFAULT '',
    approval_url          TEXT NOT NULL DEFAULT '',
    last_callback_payload BLOB,
    gateway_status        TEXT NOT NULL DEFAULT '',
    review_reason         TEXT NOT NULL DEFAULT '',
    activated_at          INTEGER,
    created_at            INTEGER NOT NULL,
    updated_at            INTEGER NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_tollgate_payment_intents_external
    ON tollgate_payment_intents (external_payment_id) WHERE external_payment_id <> '';
CREATE INDEX IF NOT EXISTS idx_tollgate_payment_intents_tenant ON tollgate_payment_intents (tenant_id, created_at);
CREATE INDEX IF NOT EXISTS idx_tollgate_payment_intents_sweep ON tollgate_payment_intents (status, updated_at);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS tollgate_payment_intents`)
				return err
			},
		},
	)
}
