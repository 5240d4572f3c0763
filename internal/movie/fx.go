package movie

import (
	"github.com/marquee/catalog/internal/movie/domain"
	"github.com/marquee/catalog/internal/movie/repository"
	"github.com/marquee/catalog/internal/movie/service"
	"go.uber.org/fx"
)

var Module = fx.Module("movie.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
	fx.Provide(
		func(s *service.Service) domain.Service { return s },
		func(s *service.Service) domain.Reader { return s },
	),
)
