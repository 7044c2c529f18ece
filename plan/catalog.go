// Package plan holds the static plan catalog.
//
// The catalog is built once and never mutated, so it is safe for concurrent
// use without locking. Lookups hand out copies.
package plan

import (
	"fmt"
	"sort"
	"sync"

	"github.com/xraph/tollgate/types"
)

// Catalog is an immutable set of plans keyed by code.
type Catalog struct {
	plans map[Code]*Plan
	order []Code
}

// NewCatalog builds a catalog from plans. Duplicate or empty codes are an error.
func NewCatalog(plans ...Plan) (*Catalog, error) {
	c := &Catalog{plans: make(map[Code]*Plan, len(plans))}
	for i := range plans {
		p := plans[i]
		if p.Code == "" {
			return nil, fmt.Errorf("plan: empty code at index %d", i)
		}
		if p.DurationDays <= 0 {
			return nil, fmt.Errorf("plan: %s: duration must be positive", p.Code)
		}
		if _, dup := c.plans[p.Code]; dup {
			return nil, fmt.Errorf("plan: duplicate code %s", p.Code)
		}
		c.plans[p.Code] = p.clone()
		c.order = append(c.order, p.Code)
	}
	sort.SliceStable(c.order, func(i, j int) bool {
		return c.plans[c.order[i]].Price.Amount < c.plans[c.order[j]].Price.Amount
	})
	return c, nil
}

// Lookup returns a copy of the plan with the given code.
func (c *Catalog) Lookup(code Code) (*Plan, bool) {
	p, ok := c.plans[code]
	if !ok {
		return nil, false
	}
	return p.clone(), true
}

// List returns copies of all plans ordered by price.
func (c *Catalog) List() []*Plan {
	out := make([]*Plan, 0, len(c.order))
	for _, code := range c.order {
		out = append(out, c.plans[code].clone())
	}
	return out
}

var (
	defaultOnce    sync.Once
	defaultCatalog *Catalog
)

// Default returns the built-in catalog.
func Default() *Catalog {
	defaultOnce.Do(func() {
		c, err := NewCatalog(
			Plan{
				Code:         CodeBasicNoClients,
				Title:        "Basic (no clients)",
				Price:        types.Lari(100),
				DurationDays: 30,
			},
			Plan{
				Code:               CodeProUnlimited,
				Title:              "Pro (unlimited)",
				Price:              types.Lari(250),
				DurationDays:       30,
				AllowsClientModule: true,
			},
			Plan{
				Code:               CodePAYG55,
				Title:              "Pay as you go (5 invoices + 5 acts)",
				Price:              types.Lari(20),
				DurationDays:       30,
				InvoiceQuota:       quota(5),
				ActQuota:           quota(5),
				AllowsClientModule: true,
			},
		)
		if err != nil {
			panic(err)
		}
		defaultCatalog = c
	})
	return defaultCatalog
}

func quota(n int64) *int64 { return &n }
