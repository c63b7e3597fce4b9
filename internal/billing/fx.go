package billing

import (
	"github.com/sbomify/sbomify/internal/billing/domain"
	"github.com/sbomify/sbomify/internal/billing/service"
	"github.com/sbomify/sbomify/internal/billing/stripe"
	"github.com/sbomify/sbomify/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("billing.service",
	fx.Provide(NewProvider),
	fx.Provide(service.NewService),
)

// NewProvider returns the payments client, or nil when no provider is
// configured. The service layer treats a nil provider as "billing
// sync disabled".
func NewProvider(cfg config.Config, log *zap.Logger) domain.Provider {
	if cfg.StripeSecretKey == "" {
		return nil
	}
	return stripe.NewClient(cfg.StripeSecretKey, log)
}
