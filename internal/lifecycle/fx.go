package lifecycle

import "go.uber.org/fx"

var Module = fx.Module("lifecycle.sync",
	fx.Provide(NewSyncer),
)
