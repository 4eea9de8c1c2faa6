package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gowvp/thermalstream/internal/app"
	"github.com/gowvp/thermalstream/internal/conf"
)

var buildVersion = "0.0.1"

func main() {
	configPath := flag.String("conf", "configs/config.toml", "config file, toml or yaml")
	flag.Parse()

	bc, err := conf.SetupConfig(*configPath)
	if err != nil {
		slog.Error("load config", "path", *configPath, "err", err)
		os.Exit(1)
	}
	bc.BuildVersion = buildVersion
	app.SetupLog(bc.Log)
	slog.Info("thermalstream starting", "version", buildVersion, "config", *configPath)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := app.Run(ctx, bc); err != nil {
		slog.Error("server exited", "err", err)
		os.Exit(1)
	}
}
