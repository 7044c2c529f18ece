package plan_test

import (
	"testing"

	"github.com/xraph/tollgate/plan"
	"github.com/xraph/tollgate/types"
)

func TestDefaultCatalog(t *testing.T) {
	tests := []struct {
		code         plan.Code
		price        types.Money
		invoiceQuota int64
		finite       bool
		clients      bool
	}{
		{plan.CodeBasicNoClients, types.Lari(100), 0, false, false},
		{plan.CodeProUnlimited, types.Lari(250), 0, false, true},
		{plan.CodePAYG55, types.Lari(20), 5, true, true},
	}

	c := plan.Default()
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			p, ok := c.Lookup(tt.code)
			if !ok {
				t.Fatalf("plan %s not found", tt.code)
			}
			if !p.Price.Equal(tt.price) {
				t.Errorf("price: got %v, want %v", p.Price, tt.price)
			}
			if p.DurationDays != 30 {
				t.Errorf("duration: got %d, want 30", p.DurationDays)
			}
			q, finite := p.Quota(plan.ResourceInvoice)
			if finite != tt.finite || q != tt.invoiceQuota {
				t.Errorf("invoice quota: got (%d, %v), want (%d, %v)", q, finite, tt.invoiceQuota, tt.finite)
			}
			if p.AllowsClientModule != tt.clients {
				t.Errorf("clients: got %v, want %v", p.AllowsClientModule, tt.clients)
			}
		})
	}
}

func TestLookupReturnsCopy(t *testing.T) {
	c := plan.Default()
	p, _ := c.Lookup(plan.CodePAYG55)
	*p.InvoiceQuota = 1000
	p.Title = "changed"

	again, _ := c.Lookup(plan.CodePAYG55)
	if q, _ := again.Quota(plan.ResourceInvoice); q != 5 {
		t.Errorf("catalog mutated through lookup: quota %d", q)
	}
	if again.Title == "changed" {
		t.Error("catalog mutated through lookup: title")
	}
}

func TestListOrderedByPrice(t *testing.T) {
	plans := plan.Default().List()
	if len(plans) != 3 {
		t.Fatalf("expected 3 plans, got %d", len(plans))
	}
	for i := 1; i < len(plans); i++ {
		if plans[i-1].Price.Amount > plans[i].Price.Amount {
			t.Errorf("plans not ordered by price at %d", i)
		}
	}
}

func TestUnknownCode(t *testing.T) {
	if _, ok := plan.Default().Lookup("ENTERPRISE"); ok {
		t.Error("expected unknown code to miss")
	}
}

func TestNewCatalogRejectsDuplicates(t *testing.T) {
	_, err := plan.NewCatalog(
		plan.Plan{Code: "A", DurationDays: 30},
		plan.Plan{Code: "A", DurationDays: 30},
	)
	if err == nil {
		t.Error("expected duplicate code error")
	}
}

func TestRemaining(t *testing.T) {
	p, _ := plan.Default().Lookup(plan.CodePAYG55)
	if r := p.Remaining(plan.ResourceAct, 7); r == nil || *r != 0 {
		t.Errorf("expected remaining floored at 0, got %v", r)
	}
	pro, _ := plan.Default().Lookup(plan.CodeProUnlimited)
	if r := pro.Remaining(plan.ResourceAct, 7); r != nil {
		t.Errorf("expected nil remaining for unlimited, got %d", *r)
	}
}
