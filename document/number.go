// Package document defines numbered billing documents and the number format
// "<registration>-<counterparty tax id>[-ACT]-<sequence>".
package document

import (
	"errors"
	"strconv"
	"strings"

	"github.com/xraph/tollgate/plan"
)

// ActTag marks act numbers.
const ActTag = "ACT"

var errEmptyPart = errors.New("document: registration id and counterparty tax id are required")

// Prefix returns the number prefix, including the trailing separator, for a
// document of kind issued by registrationID to counterpartyTaxID.
func Prefix(kind plan.Resource, registrationID, counterpartyTaxID string) (string, error) {
	reg := strings.TrimSpace(registrationID)
	tax := strings.TrimSpace(counterpartyTaxID)
	if reg == "" || tax == "" {
		return "", errEmptyPart
	}
	var b strings.Builder
	b.WriteString(reg)
	b.WriteByte('-')
	b.WriteString(tax)
	b.WriteByte('-')
	if kind == plan.ResourceAct {
		b.WriteString(ActTag)
		b.WriteByte('-')
	}
	return b.String(), nil
}

// Number joins a prefix from Prefix with seq.
func Number(prefix string, seq int64) string {
	return prefix + strconv.FormatInt(seq, 10)
}

// EscapeLike escapes LIKE wildcards in s using backslash.
func EscapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
