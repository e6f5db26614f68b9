package entitlement

import "go.uber.org/fx"

var Module = fx.Module("entitlement.engine",
	fx.Provide(NewEngine),
)
