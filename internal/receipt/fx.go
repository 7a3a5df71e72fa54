package receipt

import "go.uber.org/fx"

var Module = fx.Module("receipt",
	fx.Provide(
		fx.Annotate(NewPDFRenderer, fx.As(new(Renderer))),
	),
	fx.Provide(NewService),
)
