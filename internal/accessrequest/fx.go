package accessrequest

import (
	"github.com/sbomify/sbomify/internal/accessrequest/repository"
	"github.com/sbomify/sbomify/internal/accessrequest/service"
	"go.uber.org/fx"
)

var Module = fx.Module("accessrequest.service",
	fx.Provide(repository.NewRepository),
	fx.Provide(service.NewService),
)
