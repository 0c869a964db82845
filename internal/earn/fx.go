package earn

import (
	"github.com/smallbiznis/loop/internal/earn/service"
	"go.uber.org/fx"
)

var Module = fx.Module("earn.service",
	fx.Provide(service.NewService),
)
