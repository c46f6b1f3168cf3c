package topiccache

import "go.uber.org/fx"

var Module = fx.Module("topiccache.service",
	fx.Provide(NewService),
)
