// Package server exposes the debugging control plane over HTTP: target
// lifecycle, the unified pause model, breakpoints, captured logs,
// evaluation and the metrics endpoint.
package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nodetap/nodetap/internal/breakpoint"
	"github.com/nodetap/nodetap/internal/metrics"
	"github.com/nodetap/nodetap/internal/supervisor"
)

// Router provides embeddable HTTP handlers around one supervisor.
type Router struct {
	sup       *supervisor.Supervisor
	collector *metrics.Collector // optional
	basePath  string
}

// NewRouter constructs a Router. collector may be nil.
func NewRouter(sup *supervisor.Supervisor, collector *metrics.Collector, basePath string) *Router {
	return &Router{sup: sup, collector: collector, basePath: sanitizeBase(basePath)}
}

// Handler returns an http.Handler powered by gin that can be mounted in
// any server or mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)

	group.GET("/status", r.handleStatus)
	group.POST("/start", r.handleStart)
	group.POST("/stop", r.handleStop)
	group.POST("/restart", r.handleRestart)

	group.GET("/logs", r.handleLogs)
	group.POST("/stdin", r.handleStdin)

	group.GET("/breakpoints", r.handleListBreakpoints)
	group.POST("/breakpoints", r.handleSetBreakpoint)
	group.DELETE("/breakpoints", r.handleRemoveBreakpoint)
	group.POST("/breakpoints/enable", r.handleEnableBreakpoint)

	group.GET("/patterns", r.handleListPatterns)
	group.POST("/patterns", r.handleAddPattern)
	group.DELETE("/patterns", r.handleRemovePattern)
	group.POST("/patterns/enable", r.handleEnablePattern)

	group.POST("/resume", r.handleResume)
	group.POST("/trigger", r.handleTrigger)
	group.POST("/step", r.handleStep)
	group.POST("/eval", r.handleEval)
	group.GET("/prompts", r.handlePrompts)
	group.GET("/state", r.handleState)
	group.GET("/globals", r.handleGlobals)

	group.GET("/metrics", gin.WrapH(metrics.Handler()))
	group.GET("/resources", r.handleResources)
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
func NewServer(addr, basePath string, sup *supervisor.Supervisor, collector *metrics.Collector) (*http.Server, error) {
	r := NewRouter(sup, collector, basePath)
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server, nil
}

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

// statusResponse joins the process view with the debug-session view.
type statusResponse struct {
	Target supervisor.Status `json:"target"`
	Debug  breakpoint.Status `json:"debug"`
}

func (r *Router) handleStatus(c *gin.Context) {
	dbg, err := r.sup.Coordinator().GetStatus(c.Request.Context())
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, statusResponse{Target: r.sup.Status(), Debug: dbg})
}

func (r *Router) handleStart(c *gin.Context) {
	if err := r.sup.Start(); err != nil {
		writeJSON(c, http.StatusConflict, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleStop(c *gin.Context) {
	if err := r.sup.Stop(); err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleRestart(c *gin.Context) {
	if err := r.sup.Restart(); err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleLogs(c *gin.Context) {
	n := intQuery(c, "n", 100)
	writeJSON(c, http.StatusOK, r.sup.Ring().Tail(n))
}

func (r *Router) handleStdin(c *gin.Context) {
	var req struct {
		Line string `json:"line"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if err := r.sup.WriteStdin(req.Line); err != nil {
		writeJSON(c, http.StatusConflict, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleListBreakpoints(c *gin.Context) {
	bps, err := r.sup.ListBreakpoints(c.Request.Context())
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, bps)
}

type breakpointRequest struct {
	File          string `json:"file"`
	Line          int    `json:"line"`
	Condition     string `json:"condition"`
	Enabled       *bool  `json:"enabled"`
	Prompt        string `json:"prompt"`
	PromptEnabled bool   `json:"promptEnabled"`
}

func (r *Router) handleSetBreakpoint(c *gin.Context) {
	var req breakpointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	bp, err := r.sup.SetBreakpoint(c.Request.Context(), breakpoint.Persisted{
		File:          req.File,
		Line:          req.Line,
		Condition:     req.Condition,
		Enabled:       enabled,
		Prompt:        req.Prompt,
		PromptEnabled: req.PromptEnabled,
	})
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, bp)
}

func (r *Router) handleRemoveBreakpoint(c *gin.Context) {
	key, ok := breakpointKey(c)
	if !ok {
		return
	}
	if err := r.sup.RemoveBreakpoint(c.Request.Context(), key); err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleEnableBreakpoint(c *gin.Context) {
	var req struct {
		File      string `json:"file"`
		Line      int    `json:"line"`
		Condition string `json:"condition"`
		Enabled   bool   `json:"enabled"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	key := breakpoint.Key{File: req.File, Line: req.Line, Condition: req.Condition}
	if err := r.sup.SetBreakpointEnabled(c.Request.Context(), key, req.Enabled); err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleListPatterns(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.sup.Patterns().List())
}

func (r *Router) handleAddPattern(c *gin.Context) {
	var req struct {
		Pattern string `json:"pattern"`
		Label   string `json:"label"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if req.Pattern == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "pattern required"})
		return
	}
	r.sup.Patterns().Add(req.Pattern, req.Label)
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleRemovePattern(c *gin.Context) {
	pattern := c.Query("pattern")
	if pattern == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "pattern query param required"})
		return
	}
	r.sup.Patterns().Remove(pattern)
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleEnablePattern(c *gin.Context) {
	var req struct {
		Pattern string `json:"pattern"`
		Enabled bool   `json:"enabled"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	r.sup.Patterns().SetEnabled(req.Pattern, req.Enabled)
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleResume(c *gin.Context) {
	var req struct {
		ReturnValue any `json:"returnValue"`
	}
	// An empty body means a plain resume.
	_ = c.ShouldBindJSON(&req)
	res := r.sup.Coordinator().Resume(req.ReturnValue)
	if !res.OK {
		writeJSON(c, http.StatusConflict, errorResp{Error: res.Reason})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleTrigger(c *gin.Context) {
	var req struct {
		Label string `json:"label"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	res := r.sup.Coordinator().TriggerNow(req.Label)
	if !res.OK {
		writeJSON(c, http.StatusConflict, errorResp{Error: res.Reason})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleStep(c *gin.Context) {
	var req struct {
		Action string `json:"action"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	client := r.sup.Client()
	if client == nil {
		writeJSON(c, http.StatusConflict, errorResp{Error: "no debug session"})
		return
	}
	var err error
	switch req.Action {
	case "over":
		err = client.StepOver()
	case "into":
		err = client.StepInto()
	case "out":
		err = client.StepOut()
	default:
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "action must be over, into or out"})
		return
	}
	if err != nil {
		writeJSON(c, http.StatusBadGateway, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleEval(c *gin.Context) {
	var req struct {
		Code    string `json:"code"`
		Timeout string `json:"timeout"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if req.Code == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "code required"})
		return
	}
	var timeout time.Duration
	if req.Timeout != "" {
		d, err := time.ParseDuration(req.Timeout)
		if err != nil {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid timeout: " + err.Error()})
			return
		}
		timeout = d
	}
	res, err := r.sup.Evaluate(c.Request.Context(), req.Code, timeout)
	if err != nil {
		var te *supervisor.EvalTimeoutError
		switch {
		case errors.As(err, &te):
			writeJSON(c, http.StatusGatewayTimeout, errorResp{Error: err.Error()})
		case errors.Is(err, supervisor.ErrNotRunning):
			writeJSON(c, http.StatusConflict, errorResp{Error: err.Error()})
		default:
			writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		}
		return
	}
	writeJSON(c, http.StatusOK, res)
}

func (r *Router) handlePrompts(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.sup.Coordinator().DrainPrompts())
}

func (r *Router) handleState(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.sup.AgentState())
}

func (r *Router) handleGlobals(c *gin.Context) {
	names, err := r.sup.Globals(0)
	if err != nil {
		writeJSON(c, http.StatusConflict, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, names)
}

func (r *Router) handleResources(c *gin.Context) {
	if r.collector == nil {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "resource collection disabled"})
		return
	}
	writeJSON(c, http.StatusOK, r.collector.History())
}
