package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/david/recovery-match/internal/auth"
	"github.com/david/recovery-match/internal/matching"
	"github.com/david/recovery-match/internal/models"
	"github.com/david/recovery-match/internal/workflow"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Scanner is the part of the matching scheduler the API triggers.
type Scanner interface {
	RunOnce(ctx context.Context, trigger string) (int, error)
	Running() bool
}

type RunLister interface {
	ListMatchRuns(ctx context.Context, limit int) ([]models.MatchRun, error)
}

type Options struct {
	Controller  *workflow.Controller
	Scanner     Scanner
	Runs        RunLister
	AdminSecret string
	JWTSecret   []byte
	CORSOrigins []string
	// Gatherer backs GET /metrics; nil uses the default registry.
	Gatherer prometheus.Gatherer
	// Ping reports database health; nil skips the check.
	Ping func(ctx context.Context) error
}

type Server struct {
	Echo *echo.Echo

	controller  *workflow.Controller
	scanner     Scanner
	runs        RunLister
	adminSecret string
	ping        func(ctx context.Context) error

	// Manual scan tracking
	jobMu   sync.Mutex
	scanJob *scanJob
}

type scanJob struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"` // running, completed, failed
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at,omitempty"`
	Created   int       `json:"matches_created"`
	Error     string    `json:"error,omitempty"`
}

func NewServer(opts Options) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:4200"}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: origins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "X-Admin-Secret"},
	}))

	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		Echo:        e,
		controller:  opts.Controller,
		scanner:     opts.Scanner,
		runs:        opts.Runs,
		adminSecret: opts.AdminSecret,
		ping:        opts.Ping,
	}
	s.routes(opts.JWTSecret, gatherer)
	return s
}

func (s *Server) routes(jwtSecret []byte, gatherer prometheus.Gatherer) {
	s.Echo.GET("/health", s.handleHealth)
	s.Echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	api := s.Echo.Group("/api/v1")

	admin := api.Group("/matching")
	admin.Use(s.adminMiddleware)
	admin.POST("/scan", s.handleTriggerScan)
	admin.GET("/scan/:id", s.handleScanStatus)
	admin.GET("/runs", s.handleListRuns)

	authed := api.Group("")
	authed.Use(auth.Middleware(jwtSecret))
	authed.GET("/opportunities/:id/matches", s.handleListOpportunityMatches)
	authed.POST("/opportunities/:id/apply", s.handleApply)
	authed.GET("/survivors/:id/matches", s.handleListSurvivorMatches)
	authed.GET("/matches/:opportunityId/:survivorId", s.handleGetMatch)
	authed.PATCH("/matches/:opportunityId/:survivorId", s.handleUpdateStatus)
	authed.POST("/matches/:opportunityId/:survivorId/award", s.handleAward)
	authed.POST("/matches/:opportunityId/:survivorId/fund", s.handleFund)
	authed.POST("/matches/:opportunityId/:survivorId/reject", s.handleReject)
}

func (s *Server) Start(port string) error {
	return s.Echo.Start(":" + port)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.Echo.Shutdown(ctx)
}

func (s *Server) handleHealth(c echo.Context) error {
	if s.ping != nil {
		if err := s.ping(c.Request().Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
		}
	}
	return c.String(http.StatusOK, "OK")
}

// handleTriggerScan starts a scan in the background and returns 202. With
// ?wait=true it blocks and reports the number of matches created.
func (s *Server) handleTriggerScan(c echo.Context) error {
	if s.scanner == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "matching scheduler is not configured"})
	}

	if wait, _ := strconv.ParseBool(c.QueryParam("wait")); wait {
		created, err := s.scanner.RunOnce(c.Request().Context(), matching.TriggerManual)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, map[string]interface{}{"status": "completed", "matches_created": created})
	}

	s.jobMu.Lock()
	if s.scanner.Running() || (s.scanJob != nil && s.scanJob.Status == "running") {
		s.jobMu.Unlock()
		return writeError(c, matching.ErrScanInProgress)
	}
	jobID := uuid.New().String()[:8]
	job := &scanJob{ID: jobID, Status: "running", StartedAt: time.Now()}
	s.scanJob = job
	s.jobMu.Unlock()

	jobCtx := context.WithoutCancel(c.Request().Context())
	go func() {
		created, err := s.scanner.RunOnce(jobCtx, matching.TriggerManual)

		s.jobMu.Lock()
		defer s.jobMu.Unlock()
		job.EndedAt = time.Now()
		job.Created = created
		if err != nil {
			job.Status = "failed"
			job.Error = err.Error()
			log.Printf("[scan-job %s] failed: %v", jobID, err)
			return
		}
		job.Status = "completed"
		log.Printf("[scan-job %s] completed: created=%d", jobID, created)
	}()

	return c.JSON(http.StatusAccepted, map[string]interface{}{
		"message": "Matching scan started",
		"job_id":  jobID,
		"poll":    fmt.Sprintf("/api/v1/matching/scan/%s", jobID),
	})
}

func (s *Server) handleScanStatus(c echo.Context) error {
	s.jobMu.Lock()
	defer s.jobMu.Unlock()
	if s.scanJob == nil || s.scanJob.ID != c.Param("id") {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "job not found"})
	}
	return c.JSON(http.StatusOK, *s.scanJob)
}

func (s *Server) handleListRuns(c echo.Context) error {
	if s.runs == nil {
		return c.JSON(http.StatusOK, []models.MatchRun{})
	}
	limit := 20
	if raw := strings.TrimSpace(c.QueryParam("limit")); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 200 {
			limit = parsed
		}
	}
	runs, err := s.runs.ListMatchRuns(c.Request().Context(), limit)
	if err != nil {
		return writeError(c, err)
	}
	if runs == nil {
		runs = []models.MatchRun{}
	}
	return c.JSON(http.StatusOK, runs)
}

func (s *Server) adminMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.adminSecret == "" {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Server admin configuration error"})
		}

		// X-Admin-Secret header or Bearer token
		candidate := c.Request().Header.Get("X-Admin-Secret")
		if candidate == "" {
			authHeader := c.Request().Header.Get("Authorization")
			if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") {
				candidate = authHeader[7:]
			}
		}
		if candidate != "" && subtle.ConstantTimeCompare([]byte(candidate), []byte(s.adminSecret)) == 1 {
			return next(c)
		}
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized admin access"})
	}
}

// writeError maps engine errors onto HTTP statuses. Unknown errors are logged
// and reported as 500 without their detail.
func writeError(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, workflow.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, auth.ErrNoActor):
		status = http.StatusUnauthorized
	case errors.Is(err, workflow.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, workflow.ErrOpportunityNotFound),
		errors.Is(err, workflow.ErrSurvivorNotFound),
		errors.Is(err, workflow.ErrMatchNotFound):
		status = http.StatusNotFound
	case errors.Is(err, workflow.ErrInvalidTransition),
		errors.Is(err, workflow.ErrOpportunityClosed),
		errors.Is(err, matching.ErrScanInProgress):
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		log.Printf("[api] %s %s: %v", c.Request().Method, c.Path(), err)
		return c.JSON(status, map[string]string{"error": "internal server error"})
	}
	return c.JSON(status, map[string]string{"error": err.Error()})
}
