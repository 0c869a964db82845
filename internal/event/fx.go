package event

import (
	"github.com/smallbiznis/loop/internal/event/repository"
	"github.com/smallbiznis/loop/internal/event/service"
	"go.uber.org/fx"
)

var Module = fx.Module("event.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
