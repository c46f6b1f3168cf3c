package brief

import "go.uber.org/fx"

var Module = fx.Module("brief.service",
	fx.Provide(NewService),
)
