package main

import (
	"github.com/tablevox/checkout/internal/checkout"
	"github.com/tablevox/checkout/internal/clock"
	"github.com/tablevox/checkout/internal/config"
	"github.com/tablevox/checkout/internal/observability"
	"github.com/tablevox/checkout/internal/scheduler"
	"github.com/tablevox/checkout/pkg/db"
	"go.uber.org/fx"
)

// Standalone sweeper. Deployments that run several API replicas point one of
// these at the shared store instead of sweeping from every replica.
func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		db.Module,
		clock.Module,

		checkout.StoreModule,
		scheduler.Module,
	)
	app.Run()
}
