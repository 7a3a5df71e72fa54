package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/rosterpay/internal/changerequest"
	"github.com/smallbiznis/rosterpay/internal/clock"
	"github.com/smallbiznis/rosterpay/internal/config"
	"github.com/smallbiznis/rosterpay/internal/events"
	"github.com/smallbiznis/rosterpay/internal/mutation"
	"github.com/smallbiznis/rosterpay/internal/observability"
	"github.com/smallbiznis/rosterpay/internal/scheduler"
	"github.com/smallbiznis/rosterpay/pkg/db"
	"go.uber.org/fx"
)

// The sweeper runs the stale change request jobs without the HTTP surface,
// so API replicas can run with SCHEDULER_ENABLED=false.
func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		// Domain services required by scheduler
		events.Module,
		mutation.Module,
		changerequest.Module,
		scheduler.Module,

		// No server module!
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(2)
	if err != nil {
		panic(err)
	}
	return node
}
