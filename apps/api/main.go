package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/marquee/catalog/internal/cache"
	"github.com/marquee/catalog/internal/clock"
	"github.com/marquee/catalog/internal/config"
	"github.com/marquee/catalog/internal/events"
	"github.com/marquee/catalog/internal/jobs"
	"github.com/marquee/catalog/internal/movie"
	"github.com/marquee/catalog/internal/observability"
	"github.com/marquee/catalog/internal/ratelimit"
	"github.com/marquee/catalog/internal/rating"
	"github.com/marquee/catalog/internal/search"
	"github.com/marquee/catalog/internal/server"
	"github.com/marquee/catalog/pkg/db"
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
		events.Module,

		// Intake only enqueues; the worker consumes.
		jobs.Module,
		ratelimit.Module,
		movie.Module,
		rating.Module,
		search.Module,
		search.PropagatorModule,

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
