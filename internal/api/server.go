// Package api serves the runner's results snapshot and accepts simulation
// and load requests over HTTP.
//
//	GET  /health
//	GET  /models
//	POST /runs                {"model", "iterations", "save"}   → 202 {"request_id"}
//	POST /loads               {"model"}                         → 202 {"request_id"}
//	GET  /events              server-sent runner events
//	GET  /results             headline of the current snapshot  (404 before any)
//	GET  /results/top         ?n=10&by=ale_var|ale_mean|ale_max|loss_events_mean
//	GET  /results/matrix
//	GET  /results/clusters
package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"fairsim/internal/classify"
	"fairsim/internal/config"
	"fairsim/internal/engine"
	"fairsim/internal/evaluator"
	"fairsim/internal/logger"
	"fairsim/internal/model"
	"fairsim/internal/rank"
	"fairsim/internal/runner"
	"fairsim/internal/sampler"
	"fairsim/internal/store"
	"fairsim/internal/summary"
)

// Runner is the part of runner.Runner the API drives.
type Runner interface {
	Submit(req runner.Request) (string, error)
	Current() *evaluator.Summary
	Subscribe() (<-chan runner.Event, func())
}

// Config wires a Server.
type Config struct {
	Store             *store.Store
	Runner            Runner
	DefaultIterations int
	// AllowOrigins lists CORS origins; empty allows any origin.
	AllowOrigins []string
	Log          *logger.Logger
}

// Server holds the handlers' dependencies.
type Server struct {
	store      *store.Store
	runner     Runner
	iterations int
	log        *logger.Logger
}

// NewRouter builds the gin engine serving the API.
func NewRouter(cfg Config) *gin.Engine {
	s := &Server{
		store:      cfg.Store,
		runner:     cfg.Runner,
		iterations: cfg.DefaultIterations,
		log:        logger.OrNop(cfg.Log),
	}
	if s.iterations < 1 {
		s.iterations = config.DefaultIterations
	}

	router := gin.New()
	router.Use(gin.Recovery(), s.logRequests())

	corsCfg := cors.Config{
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Content-Type"},
	}
	if len(cfg.AllowOrigins) == 0 {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = cfg.AllowOrigins
	}
	router.Use(cors.New(corsCfg))

	router.GET("/health", s.health)
	router.GET("/models", s.listModels)
	router.POST("/runs", s.submitRun)
	router.POST("/loads", s.submitLoad)
	router.GET("/events", s.events)

	results := router.Group("/results")
	{
		results.GET("", s.headline)
		results.GET("/top", s.top)
		results.GET("/matrix", s.matrix)
		results.GET("/clusters", s.clusters)
	}
	return router
}

func (s *Server) logRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		s.log.Debug("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
		)
	}
}

// ---------------------------------------------------------------------------
// Handlers
// ---------------------------------------------------------------------------

func (s *Server) health(c *gin.Context) {
	respondOK(c, gin.H{"status": "ok"})
}

func (s *Server) listModels(c *gin.Context) {
	names, err := s.store.List()
	if err != nil {
		respondError(c, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	respondOK(c, gin.H{"models": names})
}

type runBody struct {
	Model      string `json:"model" binding:"required"`
	Iterations int    `json:"iterations"`
	Save       bool   `json:"save"`
}

// submitRun validates the model before queueing, so a bad name or a
// malformed definition is reported to the caller instead of only as an event.
func (s *Server) submitRun(c *gin.Context) {
	var body runBody
	if err := c.ShouldBindJSON(&body); err != nil {
		respondStatus(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	if body.Iterations == 0 {
		body.Iterations = s.iterations
	}
	if body.Iterations < 1 {
		respondError(c, engine.ErrInvalidIterationCount)
		return
	}
	if _, err := s.store.Load(body.Model); err != nil {
		respondError(c, err)
		return
	}
	s.submit(c, runner.RunSimulationRequest{Model: body.Model, Iterations: body.Iterations, Save: body.Save})
}

type loadBody struct {
	Model string `json:"model" binding:"required"`
}

func (s *Server) submitLoad(c *gin.Context) {
	var body loadBody
	if err := c.ShouldBindJSON(&body); err != nil {
		respondStatus(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	if _, err := s.store.Manifest(body.Model); err != nil {
		respondError(c, err)
		return
	}
	s.submit(c, runner.LoadResultsRequest{Model: body.Model})
}

func (s *Server) submit(c *gin.Context, req runner.Request) {
	id, err := s.runner.Submit(req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"request_id": id, "kind": req.Kind(), "model": req.ModelName()})
}

// eventView adds the error text runner.Event leaves out of its JSON.
type eventView struct {
	runner.Event
	Error string `json:"error,omitempty"`
}

func (s *Server) events(c *gin.Context) {
	ch, unsubscribe := s.runner.Subscribe()
	defer unsubscribe()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case ev, ok := <-ch:
			if !ok {
				return false
			}
			view := eventView{Event: ev}
			if ev.Err != nil {
				view.Error = ev.Err.Error()
			}
			c.SSEvent(string(ev.Kind), view)
			return true
		}
	})
}

// headlineView is the snapshot without its per-iteration tables.
type headlineView struct {
	RunID            string                    `json:"run_id"`
	Model            string                    `json:"model"`
	Iterations       int                       `json:"iterations"`
	Seed             uint64                    `json:"seed"`
	Policy           sampler.Policy            `json:"policy"`
	VaR              float64                   `json:"var"`
	MedianLossEvents float64                   `json:"median_loss_events"`
	Tier             classify.Tier             `json:"tier"`
	RiskTolerances   []classify.RiskTolerance  `json:"risk_tolerances"`
	Domains          []summary.DomainSummary   `json:"domain_summary"`
	Scenarios        []summary.ScenarioSummary `json:"scenario_summary"`
	Exceedance       []summary.ExceedancePoint `json:"exceedance"`
}

func (s *Server) headline(c *gin.Context) {
	sum, ok := s.current(c)
	if !ok {
		return
	}
	respondOK(c, headlineView{
		RunID:            sum.RunID,
		Model:            sum.Model,
		Iterations:       sum.Iterations,
		Seed:             sum.Seed,
		Policy:           sum.Policy,
		VaR:              sum.VaR,
		MedianLossEvents: sum.MedianLossEvents,
		Tier:             sum.Tier,
		RiskTolerances:   sum.RiskTolerances,
		Domains:          sum.DomainSummary,
		Scenarios:        sum.ScenarioSummary,
		Exceedance:       sum.Exceedance,
	})
}

func (s *Server) top(c *gin.Context) {
	sum, ok := s.current(c)
	if !ok {
		return
	}
	n, err := strconv.Atoi(c.DefaultQuery("n", "10"))
	if err != nil || n < 0 {
		respondStatus(c, http.StatusBadRequest, "bad_request", errors.New("n must be a non-negative integer"))
		return
	}
	by, err := rank.ParseSortKey(c.DefaultQuery("by", string(rank.ByVaR)))
	if err != nil {
		respondStatus(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	respondOK(c, gin.H{"run_id": sum.RunID, "by": by, "scenarios": sum.Top(n, by)})
}

func (s *Server) matrix(c *gin.Context) {
	sum, ok := s.current(c)
	if !ok {
		return
	}
	scen, dom := sum.ScenarioMatrix(), sum.DomainMatrix()
	respondOK(c, gin.H{
		"run_id": sum.RunID,
		"scenarios": gin.H{
			"counts":  scen.Rows(),
			"entries": scen.Entries,
		},
		"domains": gin.H{
			"counts":  dom.Rows(),
			"entries": dom.Entries,
		},
	})
}

func (s *Server) clusters(c *gin.Context) {
	sum, ok := s.current(c)
	if !ok {
		return
	}
	groups, err := sum.Clusters()
	if err != nil && !errors.Is(err, rank.ErrEmptyResultSet) {
		respondError(c, err)
		return
	}
	if groups == nil {
		groups = []rank.LossGroup{}
	}
	respondOK(c, gin.H{"run_id": sum.RunID, "groups": groups})
}

func (s *Server) current(c *gin.Context) (*evaluator.Summary, bool) {
	sum := s.runner.Current()
	if sum == nil {
		respondStatus(c, http.StatusNotFound, "no_results", errors.New("no results published yet"))
		return nil, false
	}
	return sum, true
}

// ---------------------------------------------------------------------------
// Responses
// ---------------------------------------------------------------------------

type apiError struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

type errorEnvelope struct {
	Error apiError `json:"error"`
}

func respondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

func respondStatus(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.JSON(status, errorEnvelope{Error: apiError{Message: msg, Code: code}})
}

// respondError maps domain errors onto HTTP statuses.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrModelNotFound):
		respondStatus(c, http.StatusNotFound, "model_not_found", err)
	case errors.Is(err, store.ErrResultsNotFound):
		respondStatus(c, http.StatusNotFound, "results_not_found", err)
	case errors.Is(err, model.ErrModelInvalid):
		respondStatus(c, http.StatusUnprocessableEntity, "model_invalid", err)
	case errors.Is(err, engine.ErrInvalidIterationCount):
		respondStatus(c, http.StatusBadRequest, "invalid_iterations", err)
	case errors.Is(err, runner.ErrClosed):
		respondStatus(c, http.StatusServiceUnavailable, "closed", err)
	default:
		respondStatus(c, http.StatusInternalServerError, "internal", err)
	}
}
