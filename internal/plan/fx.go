package plan

import "go.uber.org/fx"

var Module = fx.Module("plan",
	fx.Provide(func() Resolver {
		return NewCatalog()
	}),
)
