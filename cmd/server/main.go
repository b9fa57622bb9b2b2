package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/houzhh15/xtts-webui/cmd/server/internal/app"
	"github.com/houzhh15/xtts-webui/cmd/server/internal/config"
	"github.com/houzhh15/xtts-webui/cmd/server/internal/orchestrator"
	"github.com/houzhh15/xtts-webui/pkg/logger"
	"github.com/houzhh15/xtts-webui/pkg/metrics"
)

func main() {
	if err := newRootCmd(serve).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func serve(cmd *cobra.Command, cfg *config.Config) error {
	logInstance, err := logger.Init(logger.Config{
		Level:       cfg.Log.Level,
		Environment: logEnvironment(cfg),
		WithSource:  !cfg.IsProduction(),
		File:        cfg.Log.File,
	})
	if err != nil {
		return fmt.Errorf("logger init failed: %w", err)
	}
	appLogger := logInstance.With("component", "web-server")
	appLogger.Info("configuration loaded", "env", cfg.Server.Env, "port", cfg.Server.Port)
	appLogger.Debug(cfg.PrintConfig())

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	envCtx, cancelEnv := context.WithTimeout(cmd.Context(), 15*time.Second)
	env := orchestrator.CheckEnvironment(envCtx, cfg)
	cancelEnv()
	metrics.SetEnvironmentReady(env.Ready)
	for _, issue := range env.Issues {
		appLogger.Warn("environment issue", "issue", issue)
	}
	for _, warning := range env.Warnings {
		appLogger.Info("environment warning", "warning", warning)
	}

	application, err := app.New(cfg, app.Overrides{})
	if err != nil {
		return fmt.Errorf("init application: %w", err)
	}
	application.Start()

	srv := &http.Server{
		Addr:    cfg.GetServerAddr(),
		Handler: application.Router(),
	}

	serverErr := make(chan error, 1)
	go func() {
		appLogger.Info("server starting", "addr", srv.Addr, "env", cfg.Server.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	select {
	case <-quit:
		appLogger.Info("shutdown signal received, shutting down server...")
	case err := <-serverErr:
		application.Close()
		return fmt.Errorf("server failed: %w", err)
	}

	// 先停止接收请求，再终止仍在运行的协作进程
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	shutdownErr := srv.Shutdown(ctx)
	if err := application.Close(); err != nil {
		appLogger.Error("failed to release resources", "error", err)
	}
	if shutdownErr != nil {
		return fmt.Errorf("server forced to shutdown: %w", shutdownErr)
	}
	appLogger.Info("server shutdown complete")
	return nil
}

// logEnvironment JSON 输出用于生产环境或显式指定 json 格式
func logEnvironment(cfg *config.Config) string {
	if cfg.IsProduction() || strings.EqualFold(cfg.Log.Format, "json") {
		return "prod"
	}
	return cfg.Server.Env
}
