package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gowvp/thermalstream/internal/conf"
)

// SetupLog 按配置安装默认 logger
func SetupLog(cfg conf.Log) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := slog.HandlerOptions{Level: level}
	var h slog.Handler = slog.NewTextHandler(os.Stdout, &opts)
	if cfg.JSON {
		h = slog.NewJSONHandler(os.Stdout, &opts)
	}
	log := slog.New(h)
	slog.SetDefault(log)
	return log
}

// Run 启动 http 服务，ctx 结束后依次关闭服务与后台任务
func Run(ctx context.Context, bc *conf.Bootstrap) error {
	handler, cleanup, err := wireApp(bc)
	if err != nil {
		return err
	}
	defer cleanup()

	timeout := bc.Server.HTTP.Timeout.Duration()
	svr := http.Server{
		Addr:              fmt.Sprintf(":%d", bc.Server.HTTP.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       timeout,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server started", "addr", svr.Addr)
		if err := svr.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := svr.Shutdown(sctx); err != nil {
		slog.Error("http server shutdown", "err", err)
	}
	return nil
}
