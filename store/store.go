// Package store defines the aggregate persistence interface tollgate runs on.
//
// Backends live in subpackages: memory for tests and development, postgres
// and sqlite on grove's SQL drivers, mongo on grove's MongoDB driver. Every
// backend enforces the same atomic primitives: conditional counter
// increments, upsert-and-claim for free trials, a unique (tenant, number)
// constraint on documents and compare-and-swap status transitions on
// payment intents.
package store

import (
	"context"

	"github.com/xraph/tollgate/document"
	"github.com/xraph/tollgate/payment"
	"github.com/xraph/tollgate/subscription"
	"github.com/xraph/tollgate/trial"
)

// Store is the unified storage interface for all tollgate entities.
type Store interface {
	subscription.Store
	trial.Store
	document.Store
	payment.Store

	// Core methods
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
