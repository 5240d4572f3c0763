package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/marquee/catalog/internal/cache"
	"github.com/marquee/catalog/internal/clock"
	"github.com/marquee/catalog/internal/config"
	"github.com/marquee/catalog/internal/events"
	"github.com/marquee/catalog/internal/jobs"
	"github.com/marquee/catalog/internal/metricspush"
	"github.com/marquee/catalog/internal/migration"
	"github.com/marquee/catalog/internal/movie"
	"github.com/marquee/catalog/internal/observability"
	"github.com/marquee/catalog/internal/ratelimit"
	"github.com/marquee/catalog/internal/rating"
	"github.com/marquee/catalog/internal/search"
	"github.com/marquee/catalog/internal/server"
	"github.com/marquee/catalog/pkg/db"
	"go.uber.org/fx"
)

// The monolith runs intake, background processing and migrations in one
// process.
func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,
		cache.Module,
		events.Module,
		ratelimit.Module,

		jobs.Module,
		jobs.ServerModule,

		// Functional Domains
		movie.Module,
		rating.Module,
		rating.JobsModule,
		rating.DrainModule,
		rating.SweepModule,
		search.Module,
		search.PropagatorModule,
		search.InitModule,
		metricspush.Module,

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
