// router.go - Router setup and middleware for the application server

package api

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/bosocmputer/glm_ocr_desk/internal/app"
	"github.com/bosocmputer/glm_ocr_desk/internal/common"
	"github.com/gin-gonic/gin"
)

// DefaultMaxUploadBytes bounds image uploads and pasted data.
const DefaultMaxUploadBytes = 32 << 20

// Options configures NewRouter.
type Options struct {
	// AllowedOrigins lists browser origins (scheme://host:port) besides the
	// server's own that may call the API. Empty means same origin only.
	AllowedOrigins []string
	Version        string
	MaxUploadBytes int64
	Logger         *slog.Logger
	// BaseContext outlives single requests; background model loads use it.
	BaseContext context.Context
}

// Server holds the handlers' dependencies.
type Server struct {
	app     *app.App
	logger  *slog.Logger
	version string
	maxBody int64
	baseCtx context.Context
}

// NewRouter builds the gin engine serving the front end.
func NewRouter(a *app.App, opts Options) *gin.Engine {
	if opts.Logger == nil {
		opts.Logger = common.DiscardLogger()
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	if opts.BaseContext == nil {
		opts.BaseContext = context.Background()
	}
	s := &Server{
		app:     a,
		logger:  opts.Logger.With("component", "api"),
		version: opts.Version,
		maxBody: opts.MaxUploadBytes,
		baseCtx: opts.BaseContext,
	}

	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger(), s.metricsMiddleware(), s.originGuard(opts.AllowedOrigins))

	router.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	router.GET("/health", s.healthHandler)
	router.GET("/metrics", gin.WrapH(a.Metrics().Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.GET("/status", s.statusHandler)
		v1.GET("/model/info", s.modelInfoHandler)
		v1.POST("/model/load", s.loadModelHandler)
		v1.POST("/model/unload", s.unloadModelHandler)

		v1.POST("/recognize", s.recognizeHandler)
		v1.POST("/clipboard", s.clipboardHandler)

		v1.GET("/batch", s.listBatchesHandler)
		v1.POST("/batch", s.startBatchHandler)
		v1.GET("/batch/:id", s.getBatchHandler)
		v1.DELETE("/batch/:id", s.cancelBatchHandler)

		v1.GET("/config", s.getConfigHandler)
		v1.PUT("/config", s.putConfigHandler)
		v1.POST("/config/reset", s.resetConfigHandler)

		v1.POST("/qr/decode", s.qrDecodeHandler)
		v1.GET("/qr/encode", s.qrEncodeHandler)

		v1.GET("/history", s.historyHandler)
	}
	return router
}

// originGuard answers CORS for allowed origins and refuses preflights and
// state-changing requests from any other browser origin. Requests without an
// Origin header, such as those from command line tools, pass.
func (s *Server) originGuard(allowed []string) gin.HandlerFunc {
	list := make([]string, 0, len(allowed))
	for _, o := range allowed {
		if o = strings.TrimRight(strings.TrimSpace(o), "/"); o != "" && o != "*" {
			list = append(list, strings.ToLower(o))
		}
	}
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin == "" {
			c.Next()
			return
		}
		if !originAllowed(origin, c.Request.Host, list) {
			if c.Request.Method == http.MethodGet || c.Request.Method == http.MethodHead {
				// No CORS headers: the browser keeps the response from the page.
				c.Next()
				return
			}
			s.logger.Warn("cross-origin request refused", "origin", origin, "method", c.Request.Method, "path", c.Request.URL.Path)
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "origin_not_allowed",
				"message": "requests from " + origin + " are not allowed",
				"hint":    "start the server with --allowed-origins " + origin + " to allow this front end",
			})
			return
		}

		c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		c.Writer.Header().Add("Vary", "Origin")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		c.Writer.Header().Set("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// originAllowed accepts listed origins and the server's own origin. The own
// origin only counts on a loopback host, so a rebound DNS name is refused.
func originAllowed(origin, host string, allowed []string) bool {
	origin = strings.ToLower(strings.TrimRight(origin, "/"))
	if slices.Contains(allowed, origin) {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	return strings.EqualFold(u.Host, host) && isLoopback(u.Hostname())
}

func isLoopback(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func (s *Server) metricsMiddleware() gin.HandlerFunc {
	m := s.app.Metrics()
	return func(c *gin.Context) {
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.IncrementHTTPRequests(route, c.Writer.Status())
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		level := slog.LevelInfo
		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			level = slog.LevelError
		case c.Request.URL.Path == "/health" || c.Request.URL.Path == "/metrics" || c.Request.URL.Path == "/api/v1/status":
			// polled constantly by the front end
			level = slog.LevelDebug
		}
		s.logger.Log(c.Request.Context(), level, "request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
