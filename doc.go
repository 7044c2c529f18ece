// Package tollgate provides quota reservation and payment reconciliation for
// multi-tenant billing in Go applications.
//
// Tollgate is designed as a library, not a service. Import it directly into
// your Go application or mount it through the Forge extension. It provides:
//
//   - Race-free quota reservation against subscription plans
//   - One-time free-trial allowances keyed by a hashed caller identity
//   - Collision-free per-tenant document numbering
//   - Exactly-once reconciliation of card gateway confirmations
//   - Pluggable hooks for audit, metrics and event publishing
//
// # Quick Start
//
// Create a tollgate instance with your preferred store:
//
//	import (
//	    "github.com/xraph/tollgate"
//	    "github.com/xraph/tollgate/gateway/tbc"
//	    "github.com/xraph/tollgate/store/postgres"
//	)
//
//	gw, err := tbc.New(tbc.Config{APIKey: key, ClientID: id, ClientSecret: secret})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	t := tollgate.New(postgres.New(db),
//	    tollgate.WithGateway(gw),
//	    tollgate.WithURLs("https://app.example.ge", "https://api.example.ge", ""),
//	)
//	if err := t.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer t.Stop()
//
// # Core Concepts
//
// Plans are fixed and live in the catalog. A plan grants either unlimited or
// a fixed number of invoices and acts per period:
//
//	p, ok := t.Plans().Lookup(plan.CodePAYG55)
//
// Reserving a resource consumes one unit of the tenant's quota. Tenants
// without a subscription draw from a single free slot per resource, tied to
// the caller key (usually the client IP):
//
//	res, err := t.Quota().Reserve(ctx, tenantID, plan.ResourceInvoice, clientIP)
//	if tollgate.IsQuotaError(err) {
//	    // ask the user to upgrade
//	}
//
// Documents are numbered "<registration>-<tax id>-<n>" (acts carry an
// "ACT-" tag before n). IssueDocument reserves and numbers in one call:
//
//	_, err := t.IssueDocument(ctx, &document.Document{
//	    TenantID: tenantID, Kind: plan.ResourceInvoice,
//	    RegistrationID: "405123456", CounterpartyTaxID: "01024012345",
//	}, clientIP)
//
// Checkouts go through the gateway; its callbacks are reconciled against
// the gateway's own status and activate the plan exactly once:
//
//	co, err := t.Reconciler().StartCheckout(ctx, tenantID, plan.CodePAYG55, clientIP)
//	// redirect to co.ApprovalURL
//	ack := t.Reconciler().HandleCallback(ctx, tollgate.Callback{Payload: body, RemoteIP: ip})
//
// # Concurrency
//
// Tollgate holds no locks across I/O. Quota increments, free-trial claims,
// document numbers and payment transitions are single conditional writes
// in the store, so any number of processes can share one database.
//
// All monetary values use integer arithmetic in tetri. The Money type
// represents amounts in the smallest currency unit.
//
// # TypeID
//
// All entities use TypeID for globally unique, type-safe identifiers:
//
//	sub_01h2xcejqtf2nbrexx3vqjhp41  // Subscription ID
//	pi_01h455vb4pex5vsknk084sn02q   // Payment intent ID
//	doc_01h455vb4pex5vsknk084sn02q  // Document ID
//
// TypeIDs are K-sortable, making them ideal for database indexes and
// providing natural time-ordering of entities.
package tollgate
