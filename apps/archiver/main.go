package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/billarchive/internal/archival"
	"github.com/smallbiznis/billarchive/internal/clock"
	"github.com/smallbiznis/billarchive/internal/coldstore"
	"github.com/smallbiznis/billarchive/internal/config"
	"github.com/smallbiznis/billarchive/internal/hotstore"
	"github.com/smallbiznis/billarchive/internal/migration"
	"github.com/smallbiznis/billarchive/internal/observability"
	"github.com/smallbiznis/billarchive/internal/ratelimit"
	"github.com/smallbiznis/billarchive/internal/scheduler"
	"github.com/smallbiznis/billarchive/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,

		ratelimit.Module,
		hotstore.Module,
		coldstore.Module,
		archival.Module,

		// No server module!
		scheduler.Module,
		fx.Invoke(scheduler.Start),
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
