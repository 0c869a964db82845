package redemption

import (
	"github.com/smallbiznis/loop/internal/redemption/repository"
	"github.com/smallbiznis/loop/internal/redemption/service"
	"go.uber.org/fx"
)

var Module = fx.Module("redemption.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
