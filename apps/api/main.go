package main

import (
	"github.com/smallbiznis/billarchive/internal/archival"
	"github.com/smallbiznis/billarchive/internal/clock"
	"github.com/smallbiznis/billarchive/internal/coldstore"
	"github.com/smallbiznis/billarchive/internal/config"
	"github.com/smallbiznis/billarchive/internal/hotstore"
	"github.com/smallbiznis/billarchive/internal/migration"
	"github.com/smallbiznis/billarchive/internal/observability"
	"github.com/smallbiznis/billarchive/internal/ratelimit"
	"github.com/smallbiznis/billarchive/internal/server"
	"github.com/smallbiznis/billarchive/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		db.Module,
		migration.Module,
		clock.Module,

		// Storage tiers and the archival core
		ratelimit.Module,
		hotstore.Module,
		coldstore.Module,
		archival.Module,

		// Retrieval, ingest and push trigger over HTTP
		server.Module,
	)
	app.Run()
}
