package release

import (
	"github.com/sbomify/sbomify/internal/release/repository"
	"github.com/sbomify/sbomify/internal/release/service"
	"go.uber.org/fx"
)

// Module provides the release service and its repository.
var Module = fx.Module("release.service",
	fx.Provide(repository.NewRepository),
	fx.Provide(service.NewService),
)
