package server

import (
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/loykin/botvisor/internal/auth"
	"github.com/loykin/botvisor/internal/bot"
	"github.com/loykin/botvisor/internal/metrics"
	"github.com/loykin/botvisor/internal/supervisor"
)

// Router provides embeddable HTTP handlers for managing bots.
// Endpoints, relative to basePath:
//
//	GET    /bots                 list with run state
//	POST   /bots                 body: {name,type,path,startCommand}
//	DELETE /bots/:name           remove (stops a running bot)
//	POST   /bots/:name/start
//	POST   /bots/:name/stop
//	GET    /bots/:name/logs      query: bytes=N (optional)
//	POST   /auth/login           only with auth enabled
//
// GET /metrics is mounted at the root. When uiDir is set its files are
// served for every other path.
type Router struct {
	sup      *supervisor.Supervisor
	basePath string
	uiDir    string
	log      *slog.Logger
	metrics  http.Handler
	auth     *auth.Middleware
}

// Option configures a Router.
type Option func(*Router)

// WithUIDir serves static files from dir for paths outside the API.
func WithUIDir(dir string) Option { return func(r *Router) { r.uiDir = dir } }

// WithLogger sets the request logger (default slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) {
		if l != nil {
			r.log = l
		}
	}
}

// WithAuth protects the bot routes: reads need "read", start/stop need
// "control" and add/remove need "write" on the bots resource.
func WithAuth(m *auth.Middleware) Option { return func(r *Router) { r.auth = m } }

// WithMetricsHandler replaces the /metrics handler; nil disables the route.
func WithMetricsHandler(h http.Handler) Option { return func(r *Router) { r.metrics = h } }

// NewRouter constructs a Router. basePath "/api" results in /api/bots, ...
func NewRouter(sup *supervisor.Supervisor, basePath string, opts ...Option) *Router {
	r := &Router{
		sup:      sup,
		basePath: sanitizeBase(basePath),
		log:      slog.Default(),
		metrics:  metrics.Handler(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery(), r.requestLog())
	group := g.Group(r.basePath)
	perm := func(action string) gin.HandlerFunc { return r.auth.GinRequirePermission("bots", action) }
	if r.auth.Enabled() {
		group.POST("/auth/login", r.auth.GinLogin())
		group.Use(r.auth.GinAuth())
	}
	group.GET("/bots", perm(auth.ActionRead), r.handleList)
	group.POST("/bots", perm(auth.ActionWrite), r.handleAdd)
	group.DELETE("/bots/:name", perm(auth.ActionWrite), r.handleRemove)
	group.POST("/bots/:name/start", perm(auth.ActionControl), r.handleStart)
	group.POST("/bots/:name/stop", perm(auth.ActionControl), r.handleStop)
	group.GET("/bots/:name/logs", perm(auth.ActionRead), r.handleLogs)
	if r.metrics != nil {
		g.GET("/metrics", gin.WrapH(r.metrics))
	}
	if r.uiDir != "" {
		if fi, err := os.Stat(r.uiDir); err == nil && fi.IsDir() {
			g.NoRoute(gin.WrapH(http.FileServer(http.Dir(r.uiDir))))
		} else {
			r.log.Warn("ui directory not found, UI disabled", "dir", r.uiDir)
		}
	}
	return g
}

// NewServer returns an http.Server for addr serving h. The caller runs
// ListenAndServe and Shutdown.
func NewServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

func (r *Router) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		r.log.Debug("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

// --- Handlers ---

type errorResp struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

type okResp struct {
	OK bool `json:"ok"`
}

type addResp struct {
	OK  bool           `json:"ok"`
	Bot bot.Definition `json:"bot"`
}

type logsResp struct {
	Logs string `json:"logs"`
}

func (r *Router) handleList(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.sup.List())
}

func (r *Router) handleAdd(c *gin.Context) {
	var d bot.Definition
	if err := c.ShouldBindJSON(&d); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	added, err := r.sup.Add(c.Request.Context(), d)
	if err != nil {
		r.writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, addResp{OK: true, Bot: added})
}

func (r *Router) handleRemove(c *gin.Context) {
	if err := r.sup.Remove(c.Request.Context(), c.Param("name")); err != nil {
		r.writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleStart(c *gin.Context) {
	if err := r.sup.Start(c.Request.Context(), c.Param("name")); err != nil {
		r.writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleStop(c *gin.Context) {
	if err := r.sup.Stop(c.Request.Context(), c.Param("name")); err != nil {
		r.writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleLogs(c *gin.Context) {
	n := 0
	if s := c.Query("bytes"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 0 {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "bytes must be a non-negative integer"})
			return
		}
		n = v
	}
	b, err := r.sup.Logs(c.Param("name"), n)
	if err != nil {
		r.writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, logsResp{Logs: string(b)})
}

func (r *Router) writeError(c *gin.Context, err error) {
	code := statusFor(err)
	resp := errorResp{Error: err.Error()}
	var se *supervisor.SignalError
	if errors.As(err, &se) {
		resp = errorResp{Error: "failed to stop", Details: se.Err.Error()}
	}
	if code >= http.StatusInternalServerError {
		r.log.Error("request failed", "method", c.Request.Method, "path", c.Request.URL.Path, "error", err)
	}
	writeJSON(c, code, resp)
}

// statusFor maps supervisor errors to HTTP status codes. Spawn and signal
// failures fall through to 500.
func statusFor(err error) int {
	var ce *supervisor.ConfigError
	switch {
	case errors.As(err, &ce), errors.Is(err, supervisor.ErrBotExists):
		return http.StatusBadRequest
	case errors.Is(err, supervisor.ErrBotNotFound):
		return http.StatusNotFound
	case errors.Is(err, supervisor.ErrAlreadyRunning), errors.Is(err, supervisor.ErrNotRunning):
		return http.StatusConflict
	case errors.Is(err, supervisor.ErrShuttingDown):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
