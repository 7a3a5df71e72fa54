package server

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	crdomain "github.com/smallbiznis/rosterpay/internal/changerequest/domain"
	"github.com/smallbiznis/rosterpay/internal/config"
	"github.com/smallbiznis/rosterpay/internal/observability"
	obsmiddleware "github.com/smallbiznis/rosterpay/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/rosterpay/internal/observability/metrics"
	obstracing "github.com/smallbiznis/rosterpay/internal/observability/tracing"
	"github.com/smallbiznis/rosterpay/internal/orchestrator"
	paymentdomain "github.com/smallbiznis/rosterpay/internal/payment/domain"
	"github.com/smallbiznis/rosterpay/internal/receipt"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
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
	r.Use(httpMetrics.GinMiddleware())
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

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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

type submitter interface {
	Submit(ctx context.Context, in orchestrator.Intent) (orchestrator.Result, error)
}

type receiptRenderer interface {
	Render(ctx context.Context, requestID string) (io.Reader, error)
}

type Server struct {
	engine         *gin.Engine
	cfg            config.Config
	log            *zap.Logger
	orchestrator   submitter
	changeRequests crdomain.Service
	webhooks       paymentdomain.WebhookService
	receipts       receiptRenderer
}

type ServerParams struct {
	fx.In

	Gin            *gin.Engine
	Cfg            config.Config
	Log            *zap.Logger
	Orchestrator   *orchestrator.Orchestrator
	ChangeRequests crdomain.Service
	Webhooks       paymentdomain.WebhookService
	Receipts       *receipt.Service
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:         p.Gin,
		cfg:            p.Cfg,
		log:            p.Log.Named("http.server"),
		orchestrator:   p.Orchestrator,
		changeRequests: p.ChangeRequests,
		webhooks:       p.Webhooks,
		receipts:       p.Receipts,
	}

	svc.registerAPIRoutes()
	svc.registerWebhookRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")

	// -------- Change Requests --------
	api.POST("/change-requests", s.SubmitChangeRequest)
	api.GET("/change-requests/:id", s.GetChangeRequest)
	api.POST("/change-requests/:id/reject", s.RejectChangeRequest)
	api.POST("/change-requests/:id/approve", s.ApproveChangeRequest)
	api.GET("/change-requests/:id/receipt", s.GetChangeRequestReceipt)
	api.GET("/teams/:team_id/change-requests", s.ListTeamChangeRequests)

	// -------- References --------
	api.GET("/references/:reference", s.DecodeReference)
}

func (s *Server) registerWebhookRoutes() {
	s.engine.POST("/webhooks/payments/:provider", s.HandlePaymentWebhook)
}
