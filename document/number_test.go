package document_test

import (
	"testing"

	"github.com/xraph/tollgate/document"
	"github.com/xraph/tollgate/plan"
)

func TestPrefix(t *testing.T) {
	tests := []struct {
		name    string
		kind    plan.Resource
		reg     string
		tax     string
		want    string
		wantErr bool
	}{
		{"invoice", plan.ResourceInvoice, "405123456", "01024012345", "405123456-01024012345-", false},
		{"act", plan.ResourceAct, "405123456", "01024012345", "405123456-01024012345-ACT-", false},
		{"trims", plan.ResourceInvoice, " 1 ", " 2 ", "1-2-", false},
		{"missing reg", plan.ResourceInvoice, "", "2", "", true},
		{"missing tax", plan.ResourceAct, "1", "  ", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := document.Prefix(tt.kind, tt.reg, tt.tax)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNumber(t *testing.T) {
	if got := document.Number("1-2-ACT-", 12); got != "1-2-ACT-12" {
		t.Errorf("got %q", got)
	}
}

func TestEscapeLike(t *testing.T) {
	if got := document.EscapeLike(`a_b%c\d`); got != `a\_b\%c\\d` {
		t.Errorf("got %q", got)
	}
}
