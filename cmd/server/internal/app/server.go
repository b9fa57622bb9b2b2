package app

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/houzhh15/xtts-webui/cmd/server/internal/api"
	"github.com/houzhh15/xtts-webui/cmd/server/internal/middleware"
	"github.com/houzhh15/xtts-webui/pkg/logger"
)

// ServiceName is reported by the health endpoint.
const ServiceName = "xtts-webui"

// Version of the server.
var Version = "1.0.0"

// HealthCheckResponse represents the response from the health check endpoint
type HealthCheckResponse struct {
	Status    string    `json:"status"`
	Service   string    `json:"service"`
	Version   string    `json:"version"`
	Uptime    string    `json:"uptime"`
	Timestamp time.Time `json:"timestamp"`
	Env       string    `json:"env"`
}

// ReadinessCheckResponse represents the response from the readiness check endpoint
type ReadinessCheckResponse struct {
	Ready     bool             `json:"ready"`
	Checks    []ReadinessCheck `json:"checks"`
	Timestamp time.Time        `json:"timestamp"`
}

// ReadinessCheck represents a single readiness check
type ReadinessCheck struct {
	Name   string `json:"name"`
	Status string `json:"status"` // "ok" or "fail"
	Error  string `json:"error,omitempty"`
}

func (a *App) buildRouter(deps *api.Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger())

	r.GET("/health", a.healthCheckHandler())
	r.GET("/api/v1/health", a.healthCheckHandler())
	r.GET("/readiness", a.readinessCheckHandler())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api.RegisterRoutes(r, deps)
	a.setupFrontend(r)
	return r
}

// healthCheckHandler returns the liveness probe handler
func (a *App) healthCheckHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, HealthCheckResponse{
			Status:    "healthy",
			Service:   ServiceName,
			Version:   Version,
			Uptime:    time.Since(a.startTime).String(),
			Timestamp: time.Now(),
			Env:       a.cfg.Server.Env,
		})
	}
}

// readinessCheckHandler returns the readiness probe handler
// 数据目录可写即视为就绪；协作组件状态见 /api/v1/services/status
func (a *App) readinessCheckHandler() gin.HandlerFunc {
	dirs := []struct{ name, path string }{
		{"out_path", a.cfg.Data.OutPath},
		{"datasets_dir", a.cfg.Data.DatasetsDir},
		{"base_models_dir", a.cfg.Data.BaseModelsDir},
		{"outputs_dir", a.cfg.Data.OutputsDir},
	}
	return func(c *gin.Context) {
		checks := make([]ReadinessCheck, 0, len(dirs))
		allReady := true
		for _, d := range dirs {
			check := ReadinessCheck{Name: d.name, Status: "ok"}
			if !checkDataDirAccessible(d.path) {
				check.Status = "fail"
				check.Error = d.name + " not accessible"
				allReady = false
			}
			checks = append(checks, check)
		}

		code := http.StatusOK
		if !allReady {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, ReadinessCheckResponse{Ready: allReady, Checks: checks, Timestamp: time.Now()})
	}
}

// checkDataDirAccessible checks if a directory is accessible
func checkDataDirAccessible(dir string) bool {
	info, err := os.Stat(dir)
	if err != nil {
		return false
	}
	return info.IsDir()
}

// setupFrontend 存在前端构建产物时提供静态文件和 SPA 回退
func (a *App) setupFrontend(r *gin.Engine) {
	dist := a.cfg.Frontend.DistDir
	indexPath := filepath.Join(dist, "index.html")
	hasIndex := dist != "" && checkFile(indexPath)
	if hasIndex {
		logger.L().Info("frontend dist directory ready", "path", dist)
		static := r.Group("/")
		static.Use(staticCacheMiddleware())
		static.Static("/assets", filepath.Join(dist, "assets"))
		static.StaticFile("/index.html", indexPath)
	} else {
		logger.L().Warn("frontend index.html not found, serving the API only", "path", indexPath)
	}

	r.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api/") || !hasIndex {
			c.JSON(http.StatusNotFound, gin.H{"status": "endpoint not found"})
			return
		}
		c.Header("Cache-Control", "no-cache, no-store, must-revalidate")
		c.File(indexPath)
	})
}

func checkFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// staticCacheMiddleware adds cache control headers for static resources
func staticCacheMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path

		if strings.HasPrefix(path, "/assets/") {
			// hashed bundle names
			c.Header("Cache-Control", "public, max-age=31536000, immutable")
		} else if strings.HasSuffix(path, ".html") {
			c.Header("Cache-Control", "no-cache, no-store, must-revalidate")
			c.Header("Pragma", "no-cache")
			c.Header("Expires", "0")
		} else {
			c.Header("Cache-Control", "public, max-age=3600")
		}

		c.Next()
	}
}
