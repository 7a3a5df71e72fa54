package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/rosterpay/internal/changerequest"
	"github.com/smallbiznis/rosterpay/internal/clock"
	"github.com/smallbiznis/rosterpay/internal/config"
	"github.com/smallbiznis/rosterpay/internal/events"
	"github.com/smallbiznis/rosterpay/internal/migration"
	"github.com/smallbiznis/rosterpay/internal/mutation"
	"github.com/smallbiznis/rosterpay/internal/observability"
	"github.com/smallbiznis/rosterpay/internal/orchestrator"
	"github.com/smallbiznis/rosterpay/internal/payment"
	"github.com/smallbiznis/rosterpay/internal/ratelimit"
	"github.com/smallbiznis/rosterpay/internal/receipt"
	"github.com/smallbiznis/rosterpay/internal/scheduler"
	"github.com/smallbiznis/rosterpay/internal/server"
	"github.com/smallbiznis/rosterpay/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// Functional Domains
		events.Module,
		mutation.Module,
		changerequest.Module,
		payment.Module,
		ratelimit.Module,
		orchestrator.Module,
		receipt.Module,
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
