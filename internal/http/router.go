package http

import (
	"errors"
	"io/fs"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	appconfig "github.com/saker-ai/i2v-steer/internal/config"
	"github.com/saker-ai/i2v-steer/internal/control"
	"github.com/saker-ai/i2v-steer/internal/storage"
	"github.com/saker-ai/i2v-steer/internal/ws"
	"github.com/saker-ai/i2v-steer/webassets"
)

// Deps holds what the router serves. Journal may be nil.
type Deps struct {
	Config  appconfig.Config
	WS      *ws.Handler
	Backend control.Backend
	Journal *storage.Journal
}

// NewRouter builds the local bridge router.
func NewRouter(deps Deps, logger *zap.Logger) *gin.Engine {
	router := gin.New()
	router.RedirectTrailingSlash = false
	router.RedirectFixedPath = false
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/client-ws", func(c *gin.Context) {
		deps.WS.Handle(c.Writer, c.Request)
	})

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	api.GET("/pipelines", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"pipelines":    deps.Config.Pipelines.Catalog,
			"default":      deps.Config.Pipelines.Default,
			"allow_custom": deps.Config.Pipelines.AllowCustom,
		})
	})
	api.GET("/pipelines/status", func(c *gin.Context) {
		report, err := deps.Backend.Status(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, report)
	})
	mountSessions(api, deps)

	mountEmbeddedFrontend(router, logger)
	return router
}

func mountSessions(api *gin.RouterGroup, deps Deps) {
	api.GET("/sessions", func(c *gin.Context) {
		body := gin.H{"active": deps.WS.SessionIDs(), "journal": []storage.SessionInfo{}}
		if deps.Journal != nil {
			body["journal"] = deps.Journal.List()
		}
		c.JSON(http.StatusOK, body)
	})
	api.GET("/sessions/:uid", func(c *gin.Context) {
		if deps.Journal == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "journal disabled"})
			return
		}
		steps, err := deps.Journal.Steps(c.Param("uid"))
		switch {
		case errors.Is(err, storage.ErrSessionNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case err != nil:
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusOK, gin.H{"uid": c.Param("uid"), "steps": steps})
		}
	})
	api.DELETE("/sessions/:uid", func(c *gin.Context) {
		if deps.Journal == nil || !deps.Journal.Delete(c.Param("uid")) {
			c.JSON(http.StatusNotFound, gin.H{"success": false})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	})
}

func mountEmbeddedFrontend(router *gin.Engine, logger *zap.Logger) bool {
	embeddedRoot, err := webassets.Subdir("steer")
	if err != nil {
		if logger != nil {
			logger.Warn("failed to load embedded steering page", zap.Error(err))
		}
		return false
	}

	indexHTML, err := fs.ReadFile(embeddedRoot, "index.html")
	if err != nil {
		if logger != nil {
			logger.Warn("missing embedded index.html", zap.Error(err))
		}
		return false
	}
	if logger != nil {
		logger.Info("serving embedded steering page", zap.String("source", "webassets/steer"))
	}

	router.StaticFS("/static", http.FS(embeddedRoot))
	router.GET("/", func(c *gin.Context) {
		c.Data(http.StatusOK, "text/html; charset=utf-8", indexHTML)
	})
	return true
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		if logger == nil {
			return
		}
		logger.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("client_ip", c.ClientIP()),
			zap.Int("status", c.Writer.Status()),
			zap.Int("bytes", c.Writer.Size()),
			zap.Duration("latency", latency),
		)
	}
}
