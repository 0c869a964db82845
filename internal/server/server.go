package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/loop/internal/audit"
	"github.com/smallbiznis/loop/internal/clock"
	"github.com/smallbiznis/loop/internal/config"
	"github.com/smallbiznis/loop/internal/earn"
	earndomain "github.com/smallbiznis/loop/internal/earn/domain"
	"github.com/smallbiznis/loop/internal/event"
	eventdomain "github.com/smallbiznis/loop/internal/event/domain"
	"github.com/smallbiznis/loop/internal/ledger"
	ledgerdomain "github.com/smallbiznis/loop/internal/ledger/domain"
	"github.com/smallbiznis/loop/internal/observability"
	obsmiddleware "github.com/smallbiznis/loop/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/loop/internal/observability/metrics"
	obstracing "github.com/smallbiznis/loop/internal/observability/tracing"
	"github.com/smallbiznis/loop/internal/ratelimit"
	"github.com/smallbiznis/loop/internal/redemption"
	redemptiondomain "github.com/smallbiznis/loop/internal/redemption/domain"
	"github.com/smallbiznis/loop/internal/reward"
	rewarddomain "github.com/smallbiznis/loop/internal/reward/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	audit.Module,
	event.Module,
	ledger.Module,
	earn.Module,
	reward.Module,
	redemption.Module,
	ratelimit.Module,
	fx.Provide(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
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

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, s *Server, log *zap.Logger) {
	addr := strings.TrimSpace(cfg.HTTPAddr)
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("http server listening", zap.String("addr", addr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
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
	engine        *gin.Engine
	cfg           config.Config
	clock         clock.Clock
	eventSvc      eventdomain.Service
	earnSvc       earndomain.Service
	ledgerSvc     ledgerdomain.Service
	rewardSvc     rewarddomain.Service
	redemptionSvc redemptiondomain.Service
	obsMetrics    *obsmetrics.Metrics
	ingestLimiter requestLimiter
}

type ServerParams struct {
	fx.In

	Gin           *gin.Engine
	Cfg           config.Config
	Clock         clock.Clock `optional:"true"`
	EventSvc      eventdomain.Service
	EarnSvc       earndomain.Service
	LedgerSvc     ledgerdomain.Service
	RewardSvc     rewarddomain.Service
	RedemptionSvc redemptiondomain.Service
	ObsMetrics    *obsmetrics.Metrics           `optional:"true"`
	IngestLimiter *ratelimit.EventIngestLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	c := p.Clock
	if c == nil {
		c = clock.SystemClock{}
	}
	svc := &Server{
		engine:        p.Gin,
		cfg:           p.Cfg,
		clock:         c,
		eventSvc:      p.EventSvc,
		earnSvc:       p.EarnSvc,
		ledgerSvc:     p.LedgerSvc,
		rewardSvc:     p.RewardSvc,
		redemptionSvc: p.RedemptionSvc,
		obsMetrics:    p.ObsMetrics,
		ingestLimiter: p.IngestLimiter,
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
	api.Use(MerchantContext())

	// -------- Events --------
	api.POST("/events", s.EventIngestRateLimit(), s.AppendEvent)
	api.GET("/events/:id", s.GetEventByID)
	api.POST("/events/:id/award", s.AwardEvent)

	// -------- Rewards --------
	api.POST("/rewards", s.CreateReward)
	api.GET("/rewards/:id", s.GetRewardByID)
	api.PATCH("/rewards/:id", s.UpdateReward)

	// -------- Redemptions --------
	api.POST("/redemptions", s.RedemptionConcurrencyGuard(), s.RedeemReward)

	// -------- Customers --------
	api.GET("/customers/:id/state", s.GetCustomerState)
	api.GET("/customers/:id/balance", s.GetCustomerBalance)
	api.GET("/customers/:id/reconciliation", s.ReconcileCustomer)

	// -------- Adjustments --------
	api.POST("/adjustments", s.AdjustPoints)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
