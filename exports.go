package tollgate

import "github.com/xraph/tollgate/types"

// Re-export common types for convenience so users don't have to import types package.

// Money is re-exported from types package.
type Money = types.Money

// Entity is re-exported from types package.
type Entity = types.Entity

// Re-export Money constructors
var (
	GEL  = types.GEL
	Lari = types.Lari
	Zero = types.Zero
)

// Re-export Entity constructor
var NewEntity = types.NewEntity
