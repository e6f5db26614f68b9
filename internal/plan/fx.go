package plan

import "go.uber.org/fx"

var Module = fx.Module("plan.resolver",
	fx.Provide(NewResolver),
)
