package payment

import (
	"github.com/smallbiznis/rosterpay/internal/config"
	"github.com/smallbiznis/rosterpay/internal/payment/adapters"
	"github.com/smallbiznis/rosterpay/internal/payment/adapters/square"
	"github.com/smallbiznis/rosterpay/internal/payment/details"
	"github.com/smallbiznis/rosterpay/internal/payment/domain"
	"github.com/smallbiznis/rosterpay/internal/payment/gateway"
	"github.com/smallbiznis/rosterpay/internal/payment/repository"
	"github.com/smallbiznis/rosterpay/internal/payment/webhook"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(func(cfg config.Config) *adapters.Registry {
		return adapters.ProvideRegistry(cfg, []domain.AdapterFactory{
			square.NewFactory(),
		})
	}),
	fx.Provide(details.NewBuilder),
	fx.Provide(
		gateway.New,
		func(c *gateway.Client) gateway.Capturer { return c },
	),
	fx.Provide(webhook.NewService),
)
