package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/loop/internal/clock"
	"github.com/smallbiznis/loop/internal/config"
	"github.com/smallbiznis/loop/internal/migration"
	"github.com/smallbiznis/loop/internal/observability"
	"github.com/smallbiznis/loop/internal/scheduler"
	"github.com/smallbiznis/loop/internal/server"
	"github.com/smallbiznis/loop/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
		server.Module,
		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
