// Package payment models checkout attempts against the card gateway and the
// one-way status machine they move through.
//
// Statuses are ranked CREATED < REDIRECT_REQUIRED < WAITING_CONFIRM <
// {SUCCEEDED, FAILED, EXPIRED, CANCELED}. A transition must strictly raise
// the rank and can never leave a terminal status.
package payment

import (
	"strings"
	"unicode"
)

const terminalRank = 3

var ranks = map[Status]int{
	StatusCreated:          0,
	StatusRedirectRequired: 1,
	StatusWaitingConfirm:   2,
	StatusSucceeded:        terminalRank,
	StatusFailed:           terminalRank,
	StatusExpired:          terminalRank,
	StatusCanceled:         terminalRank,
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := ranks[s]
	return ok
}

// Rank returns the position of s in the status order, or -1 if unknown.
func (s Status) Rank() int {
	r, ok := ranks[s]
	if !ok {
		return -1
	}
	return r
}

// IsTerminal reports whether s is SUCCEEDED, FAILED, EXPIRED or CANCELED.
func (s Status) IsTerminal() bool {
	return s.Rank() == terminalRank
}

// CanTransition reports whether an intent in from may move to to.
func CanTransition(from, to Status) bool {
	if !from.Valid() || !to.Valid() || from.IsTerminal() {
		return false
	}
	return to.Rank() > from.Rank()
}

// gatewayStatuses maps normalized vendor strings to statuses.
var gatewayStatuses = map[string]Status{
	"SUCCEEDED": StatusSucceeded,
	"FAILED":    StatusFailed,
	"EXPIRED":   StatusExpired,
	"CANCELED":  StatusCanceled,
	"CANCELLED": StatusCanceled,

	"WAITINGCONFIRM":           StatusWaitingConfirm,
	"WAITING_CONFIRM":          StatusWaitingConfirm,
	"WAITINGFORCONFIRMATION":   StatusWaitingConfirm,
	"WAITING_FOR_CONFIRMATION": StatusWaitingConfirm,

	"CREATED":           StatusRedirectRequired,
	"PROCESSING":        StatusRedirectRequired,
	"INPROCESS":         StatusRedirectRequired,
	"REDIRECTREQUIRED":  StatusRedirectRequired,
	"REDIRECT_REQUIRED": StatusRedirectRequired,
}

// MapGatewayStatus translates a raw vendor status. The input is upper-cased
// and stripped of whitespace first. Unrecognized values return
// (StatusCreated, false) and must not move an intent.
func MapGatewayStatus(raw string) (Status, bool) {
	key := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return unicode.ToUpper(r)
	}, raw)

	if s, ok := gatewayStatuses[key]; ok {
		return s, true
	}
	return StatusCreated, false
}
