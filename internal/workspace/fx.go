package workspace

import (
	"github.com/sbomify/sbomify/internal/workspace/repository"
	"github.com/sbomify/sbomify/internal/workspace/service"
	"go.uber.org/fx"
)

var Module = fx.Module("workspace.service",
	fx.Provide(repository.NewRepository),
	fx.Provide(service.NewService),
	fx.Provide(service.NewDefaultProvisioner),
)
