package archival

import (
	"github.com/smallbiznis/billarchive/internal/archival/domain"
	"github.com/smallbiznis/billarchive/internal/archival/policy"
	"github.com/smallbiznis/billarchive/internal/archival/service"
	"github.com/smallbiznis/billarchive/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("archival.service",
	fx.Provide(
		config.NewArchivalConfigHolder,
		func(h *config.ArchivalConfigHolder) policy.Provider { return h },
		service.New,
		func(s *service.Service) domain.Migrator { return s },
		func(s *service.Service) domain.Retriever { return s },
		func(s *service.Service) domain.Catalog { return s },
	),
)
