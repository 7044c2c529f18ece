// Package gateway defines the card-payment gateway the reconciler talks to.
//
// The gateway is authoritative for payment status. Callers never trust a
// status carried in a callback body; they ask the gateway with
// GetPaymentStatus instead.
package gateway

import (
	"context"
	"errors"

	"github.com/xraph/tollgate/types"
)

var (
	// ErrUnavailable means the gateway could not be reached, timed out or
	// answered with a server error. The call may be retried.
	ErrUnavailable = errors.New("tollgate: payment gateway unavailable")

	// ErrBadResponse means the gateway answered but the response was
	// rejected or missing required fields.
	ErrBadResponse = errors.New("tollgate: payment gateway bad response")
)

// CreatePaymentRequest describes a hosted checkout to open.
type CreatePaymentRequest struct {
	Amount            types.Money
	ReturnURL         string
	CallbackURL       string
	MerchantPaymentID string
	Description       string
	UserIPAddress     string
	Language          string
}

// CreatePaymentResult is the gateway's answer to CreatePayment.
type CreatePaymentResult struct {
	ExternalID  string
	Status      string
	ApprovalURL string
}

// PaymentStatus is the gateway's current view of a payment. Status is the
// raw vendor string.
type PaymentStatus struct {
	ExternalID string
	Status     string
	Raw        []byte
}

// Client is implemented by gateway adapters.
type Client interface {
	CreatePayment(ctx context.Context, req CreatePaymentRequest) (*CreatePaymentResult, error)
	GetPaymentStatus(ctx context.Context, externalID string) (*PaymentStatus, error)
}
