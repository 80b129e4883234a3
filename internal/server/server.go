package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/fieldclock/internal/approval"
	approvaldomain "github.com/smallbiznis/fieldclock/internal/approval/domain"
	"github.com/smallbiznis/fieldclock/internal/audit"
	auditdomain "github.com/smallbiznis/fieldclock/internal/audit/domain"
	"github.com/smallbiznis/fieldclock/internal/authorization"
	"github.com/smallbiznis/fieldclock/internal/config"
	"github.com/smallbiznis/fieldclock/internal/idempotency"
	"github.com/smallbiznis/fieldclock/internal/invoice"
	invoicedomain "github.com/smallbiznis/fieldclock/internal/invoice/domain"
	"github.com/smallbiznis/fieldclock/internal/jobsite"
	jobsitedomain "github.com/smallbiznis/fieldclock/internal/jobsite/domain"
	obslogger "github.com/smallbiznis/fieldclock/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/fieldclock/internal/observability/metrics"
	obstracing "github.com/smallbiznis/fieldclock/internal/observability/tracing"
	"github.com/smallbiznis/fieldclock/internal/ratelimit"
	"github.com/smallbiznis/fieldclock/internal/timeentry"
	timeentrydomain "github.com/smallbiznis/fieldclock/internal/timeentry/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	authorization.Module,
	audit.Module,
	idempotency.Module,
	ratelimit.Module,
	jobsite.Module,
	timeentry.Module,
	approval.Module,
	invoice.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

type engineParams struct {
	fx.In

	Log         *zap.Logger
	Cfg         config.Config
	HTTPMetrics *obsmetrics.HTTPMetrics `optional:"true"`
}

func NewEngine(log *zap.Logger, cfg config.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(log, obslogger.MiddlewareConfig{
		Debug:           cfg.LogLevel == "debug",
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware(log))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(p engineParams) *gin.Engine {
	return NewEngine(p.Log, p.Cfg, p.HTTPMetrics)
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
				log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine       *gin.Engine
	cfg          config.Config
	authzSvc     authorization.Service
	auditSvc     auditdomain.Service
	jobSvc       jobsitedomain.Service
	timeEntrySvc timeentrydomain.Service
	approvalSvc  approvaldomain.Service
	invoiceSvc   invoicedomain.Service
}

type ServerParams struct {
	fx.In

	Gin          *gin.Engine
	Cfg          config.Config
	AuthzSvc     authorization.Service
	AuditSvc     auditdomain.Service
	JobSvc       jobsitedomain.Service
	TimeEntrySvc timeentrydomain.Service
	ApprovalSvc  approvaldomain.Service
	InvoiceSvc   invoicedomain.Service
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:       p.Gin,
		cfg:          p.Cfg,
		authzSvc:     p.AuthzSvc,
		auditSvc:     p.AuditSvc,
		jobSvc:       p.JobSvc,
		timeEntrySvc: p.TimeEntrySvc,
		approvalSvc:  p.ApprovalSvc,
		invoiceSvc:   p.InvoiceSvc,
	}

	svc.registerAPIRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/v1", s.ActorRequired())

	entries := api.Group("/time-entries")
	{
		entries.POST("/clock-in", s.authorize(authorization.ObjectTimeEntry, authorization.ActionTimeEntryClock), s.ClockIn)
		entries.POST("/:id/clock-out", s.authorize(authorization.ObjectTimeEntry, authorization.ActionTimeEntryClock), s.ClockOut)
		entries.POST("/:id/dispute", s.authorize(authorization.ObjectTimeEntry, authorization.ActionTimeEntryDispute), s.DisputeEntry)
		entries.PATCH("/:id", s.authorize(authorization.ObjectTimeEntry, authorization.ActionTimeEntryEdit), s.EditEntry)
		entries.GET("", s.authorize(authorization.ObjectTimeEntry, authorization.ActionTimeEntryView), s.ListEntries)
		entries.GET("/:id", s.authorize(authorization.ObjectTimeEntry, authorization.ActionTimeEntryView), s.GetEntry)
		entries.GET("/:id/conflicts", s.authorize(authorization.ObjectTimeEntry, authorization.ActionTimeEntryReview), s.DetectConflicts)
		entries.POST("/:id/approve", s.authorize(authorization.ObjectTimeEntry, authorization.ActionTimeEntryReview), s.ApproveEntry)
		entries.POST("/:id/reject", s.authorize(authorization.ObjectTimeEntry, authorization.ActionTimeEntryReview), s.RejectEntry)
		entries.POST("/bulk-approve", s.authorize(authorization.ObjectTimeEntry, authorization.ActionTimeEntryReview), s.BulkApprove)
		entries.POST("/bulk-reject", s.authorize(authorization.ObjectTimeEntry, authorization.ActionTimeEntryReview), s.BulkReject)
	}

	invoices := api.Group("/invoices")
	{
		invoices.POST("/from-time", s.authorize(authorization.ObjectInvoice, authorization.ActionInvoiceCreate), s.CreateInvoiceFromTime)
		invoices.GET("", s.authorize(authorization.ObjectInvoice, authorization.ActionInvoiceView), s.ListInvoices)
		invoices.GET("/:id", s.authorize(authorization.ObjectInvoice, authorization.ActionInvoiceView), s.GetInvoiceByID)
	}

	api.POST("/jobs", s.authorize(authorization.ObjectJob, authorization.ActionJobCreate), s.CreateJob)
	api.GET("/jobs", s.authorize(authorization.ObjectJob, authorization.ActionJobView), s.ListJobs)
	api.POST("/assignments", s.authorize(authorization.ObjectAssignment, authorization.ActionAssignmentCreate), s.CreateAssignment)

	api.GET("/company/settings", s.authorize(authorization.ObjectCompanySettings, authorization.ActionSettingsView), s.GetCompanySettings)
	api.PUT("/company/settings", s.authorize(authorization.ObjectCompanySettings, authorization.ActionSettingsUpdate), s.UpdateCompanySettings)

	api.GET("/audit-logs", s.authorize(authorization.ObjectAuditLog, authorization.ActionAuditLogView), s.ListAuditLogs)
}
