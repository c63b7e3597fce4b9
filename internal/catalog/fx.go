package catalog

import (
	accessrequestdomain "github.com/sbomify/sbomify/internal/accessrequest/domain"
	billingdomain "github.com/sbomify/sbomify/internal/billing/domain"
	"github.com/sbomify/sbomify/internal/catalog/domain"
	"github.com/sbomify/sbomify/internal/catalog/repository"
	"github.com/sbomify/sbomify/internal/catalog/service"
	"go.uber.org/fx"
)

var Module = fx.Module("catalog.service",
	fx.Provide(repository.NewRepository),
	fx.Provide(service.NewService),
	// The catalog store backs the billing plan gate and the NDA
	// signing flow.
	fx.Provide(func(repo domain.Repository) billingdomain.ResourceCounter { return repo }),
	fx.Provide(func(svc domain.Service) accessrequestdomain.NDASource { return svc }),
)
