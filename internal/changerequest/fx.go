package changerequest

import (
	"github.com/smallbiznis/rosterpay/internal/changerequest/repository"
	"github.com/smallbiznis/rosterpay/internal/changerequest/service"
	"go.uber.org/fx"
)

var Module = fx.Module("changerequest.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
