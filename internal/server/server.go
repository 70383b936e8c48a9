package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	archivaldomain "github.com/smallbiznis/billarchive/internal/archival/domain"
	"github.com/smallbiznis/billarchive/internal/archival/policy"
	"github.com/smallbiznis/billarchive/internal/clock"
	"github.com/smallbiznis/billarchive/internal/config"
	"github.com/smallbiznis/billarchive/internal/observability"
	obsmiddleware "github.com/smallbiznis/billarchive/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/billarchive/internal/observability/metrics"
	obstracing "github.com/smallbiznis/billarchive/internal/observability/tracing"
	"github.com/smallbiznis/billarchive/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, log *zap.Logger, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(log, obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, log *zap.Logger, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, log, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine         *gin.Engine
	cfg            config.Config
	log            *zap.Logger
	clock          clock.Clock
	policy         policy.Provider
	migrator       archivaldomain.Migrator
	retriever      archivaldomain.Retriever
	catalog        archivaldomain.Catalog
	triggerLimiter *ratelimit.TriggerLimiter
}

type ServerParams struct {
	fx.In

	Gin       *gin.Engine
	Cfg       config.Config
	Log       *zap.Logger
	Clock     clock.Clock
	Policy    policy.Provider
	Migrator  archivaldomain.Migrator
	Retriever archivaldomain.Retriever
	Catalog   archivaldomain.Catalog

	TriggerLimiter *ratelimit.TriggerLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	log := p.Log
	if log == nil {
		log = zap.NewNop()
	}
	svc := &Server{
		engine:         p.Gin,
		cfg:            p.Cfg,
		log:            log.Named("http"),
		clock:          p.Clock,
		policy:         p.Policy,
		migrator:       p.Migrator,
		retriever:      p.Retriever,
		catalog:        p.Catalog,
		triggerLimiter: p.TriggerLimiter,
	}
	if svc.clock == nil {
		svc.clock = clock.System()
	}
	if svc.policy == nil {
		svc.policy = policy.Static(policy.Default())
	}

	svc.registerAPIRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")

	// -------- Records --------
	api.GET("/records/:id", s.GetRecord)
	api.PUT("/records", s.PutRecord)
	api.POST("/records/:id/archive", s.TriggerRateLimit(), s.ArchiveRecord)

	// -------- Archive --------
	api.POST("/archive/changes", s.TriggerRateLimit(), s.ProcessChanges)
	api.GET("/archive/metadata", s.ListArchived)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
