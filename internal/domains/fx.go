package domains

import "go.uber.org/fx"

// Module provides the host-admission service.
var Module = fx.Module("domains",
	fx.Provide(NewService),
)
