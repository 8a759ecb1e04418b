package main

import (
	"context"
	"flag"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vaultgate/pkg/app"
	"vaultgate/pkg/config"
	"vaultgate/pkg/logger"
	"vaultgate/pkg/server"
)

// 优雅退出的最长等待时间，超时后强制断开
const shutdownGrace = 30 * time.Second

func main() {
	// 1. Load Config
	cfgFile := flag.String("config", "", "config file (default is ./config.yaml or $HOME/.vaultgate/config.yaml)")
	flag.Parse()

	cfg, err := config.Load(*cfgFile)
	if err != nil {
		slog.Error("config error", "error", err)
		os.Exit(1)
	}
	log := logger.Init(cfg.Log.Level, cfg.Log.Format)
	if cfg.ConfigFile != "" {
		log.Info("config loaded", "file", cfg.ConfigFile)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 2. Init Core Application (存储初始化会按配置重试)
	application, err := app.New(ctx, cfg)
	if err != nil {
		log.Error("failed to initialize app", "error", err)
		os.Exit(1)
	}
	defer application.Close()

	// 3. Setup Network
	lis, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		log.Error("failed to listen", "addr", cfg.Server.Addr, "error", err)
		os.Exit(1)
	}

	// 4. Setup gRPC Server
	grpcServer, health := server.New(application)

	serveErr := make(chan error, 1)
	go func() {
		log.Info("gRPC server listening",
			"addr", lis.Addr().String(),
			"storage", cfg.Storage.Type,
			"scanner", cfg.Scanner.Mode,
			"scan_required", cfg.Scanner.Required,
		)
		serveErr <- grpcServer.Serve(lis)
	}()

	// 5. Graceful Shutdown
	select {
	case err := <-serveErr:
		log.Error("failed to serve", "error", err)
		os.Exit(1)
	case <-ctx.Done():
	}

	log.Info("shutting down server")
	health.Shutdown()
	done := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownGrace):
		log.Warn("graceful stop timed out, forcing")
		grpcServer.Stop()
	}
	log.Info("server stopped")
}
