package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/tablevox/checkout/internal/cache"
	"github.com/tablevox/checkout/internal/checkout"
	"github.com/tablevox/checkout/internal/clock"
	"github.com/tablevox/checkout/internal/config"
	"github.com/tablevox/checkout/internal/confirm"
	"github.com/tablevox/checkout/internal/gateway"
	"github.com/tablevox/checkout/internal/observability"
	"github.com/tablevox/checkout/internal/plan"
	"github.com/tablevox/checkout/internal/scheduler"
	"github.com/tablevox/checkout/internal/server"
	"github.com/tablevox/checkout/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		cache.Module,

		plan.Module,
		gateway.Module,
		confirm.Module,
		checkout.Module,
		scheduler.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
