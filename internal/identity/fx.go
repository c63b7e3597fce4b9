package identity

import (
	"github.com/sbomify/sbomify/internal/identity/repository"
	"github.com/sbomify/sbomify/internal/identity/service"
	"go.uber.org/fx"
)

var Module = fx.Module("identity.service",
	fx.Provide(repository.NewRepository),
	fx.Provide(service.NewService),
)
