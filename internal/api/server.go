// Package api exposes the HTTP interface under /api/v1.
package api

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nexasecurity/nexasec/internal/auth"
	"github.com/nexasecurity/nexasec/internal/data/db"
	"github.com/nexasecurity/nexasec/internal/data/model"
	"github.com/nexasecurity/nexasec/internal/metrics"
	"github.com/nexasecurity/nexasec/internal/orchestrator"
	"github.com/nexasecurity/nexasec/internal/ratelimit"
	"github.com/nexasecurity/nexasec/internal/report"
	"github.com/nexasecurity/nexasec/pkg/types"
)

// ScanService is the scan lifecycle as seen by handlers.
type ScanService interface {
	CreateScan(ctx context.Context, req orchestrator.ScanRequest) (*model.Scan, error)
	GetScan(ctx context.Context, id, requester string) (*model.Scan, error)
	ListScans(ctx context.Context, owner string, opts orchestrator.ListOptions) ([]model.Scan, error)
	GetProgress(ctx context.Context, id, requester string) (orchestrator.Progress, error)
	CancelScan(ctx context.Context, id, requester string) error
	DeleteScan(ctx context.Context, id, requester string) error
	ListVulnerabilities(ctx context.Context, scanID, requester string, severity *model.Severity) ([]model.Vulnerability, error)
}

// ReportService generates and serves reports.
type ReportService interface {
	Start(ctx context.Context, req report.AssembleRequest) (*model.Report, error)
	Get(ctx context.Context, id, requester string) (*model.Report, error)
	List(ctx context.Context, owner string) ([]model.Report, error)
	Open(ctx context.Context, id, requester string) (*model.Report, io.ReadCloser, error)
	ContentType(format model.ReportFormat) string
	CreateTemplate(ctx context.Context, req report.TemplateRequest) (*model.ReportTemplate, error)
	GetTemplate(ctx context.Context, id, requester string) (*model.ReportTemplate, error)
	ListTemplates(ctx context.Context, requester string) ([]model.ReportTemplate, error)
	DeleteTemplate(ctx context.Context, id, owner string) error
}

// Deps are the collaborators of a Server. Limiter and Metrics are optional.
type Deps struct {
	Auth            *auth.Service
	Scans           ScanService
	ScanStore       db.ScanStore
	Vulnerabilities db.VulnerabilityStore
	Reports         ReportService
	Limiter         ratelimit.Limiter
	Metrics         metrics.Collector
	Logger          types.Logger
	SecureCookies   bool
}

// Server routes HTTP requests to the services.
type Server struct {
	deps   Deps
	engine *gin.Engine
}

const metricHTTPRequests = "http_requests_total"

// NewServer builds the router.
func NewServer(deps Deps) (*Server, error) {
	if deps.Auth == nil || deps.Scans == nil || deps.ScanStore == nil || deps.Vulnerabilities == nil || deps.Reports == nil {
		return nil, errors.New("auth, scan, vulnerability and report services are required")
	}
	if deps.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if deps.Metrics != nil {
		if _, err := deps.Metrics.RegisterCounter(context.Background(), metricHTTPRequests, "method", "status"); err != nil {
			return nil, err
		}
	}
	s := &Server{deps: deps}
	s.engine = s.routes()
	return s, nil
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(s.recovery(), s.requestLogger(), s.requestMetrics())
	r.HandleMethodNotAllowed = true
	r.NoRoute(func(c *gin.Context) {
		writeError(c, errNotFoundRoute)
	})

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if s.deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(s.deps.Metrics.MetricsHandler()))
	}

	v1 := r.Group("/api/v1", s.rateLimit(clientIPKey))

	authGroup := v1.Group("/auth")
	authGroup.POST("/register", s.register)
	authGroup.POST("/login", s.login)
	authGroup.POST("/refresh", s.refresh)
	authGroup.POST("/logout", s.logout)

	protected := v1.Group("", s.authenticate(), s.rateLimit(userKey))
	protected.GET("/auth/me", s.me)

	protected.POST("/scans", s.createScan)
	protected.GET("/scans", s.listScans)
	protected.GET("/scans/:id", s.getScan)
	protected.GET("/scans/:id/status", s.scanStatus)
	protected.POST("/scans/:id/cancel", s.cancelScan)
	protected.DELETE("/scans/:id", s.deleteScan)
	protected.GET("/scans/:id/vulnerabilities", s.scanVulnerabilities)

	protected.GET("/vulnerabilities", s.listVulnerabilities)
	protected.GET("/vulnerabilities/:id", s.getVulnerability)
	protected.PATCH("/vulnerabilities/:id", s.updateVulnerability)

	protected.POST("/reports/generate", s.generateReport)
	protected.GET("/reports", s.listReports)
	protected.GET("/reports/:id", s.getReport)
	protected.GET("/reports/:id/download", s.downloadReport)
	protected.POST("/reports/templates", s.createTemplate)
	protected.GET("/reports/templates", s.listTemplates)
	protected.GET("/reports/templates/:id", s.getTemplate)
	protected.DELETE("/reports/templates/:id", s.deleteTemplate)

	protected.GET("/dashboard/summary", s.dashboardSummary)
	return r
}
