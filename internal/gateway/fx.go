package gateway

import (
	"github.com/tablevox/checkout/internal/config"
	"github.com/tablevox/checkout/internal/gateway/domain"
	"github.com/tablevox/checkout/internal/gateway/stripe"
	"go.uber.org/fx"
)

var Module = fx.Module("gateway",
	fx.Provide(func(cfg config.Config) (domain.Adapter, error) {
		return stripe.New(stripe.Config{
			APIKey:        cfg.GatewayAPIKey,
			WebhookSecret: cfg.GatewayWebhookSecret,
			BaseURL:       cfg.GatewayBaseURL,
		})
	}),
)
