package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/guoyu07/shuttle/internal/master/api/rest"
	"github.com/guoyu07/shuttle/internal/master/service"
	"github.com/guoyu07/shuttle/internal/shared/config"
	"github.com/guoyu07/shuttle/internal/shared/dfs"
	"github.com/guoyu07/shuttle/internal/shared/galaxy"
	"github.com/guoyu07/shuttle/internal/shared/logging"
	"github.com/guoyu07/shuttle/internal/shared/nexus"
)

func main() {
	configPath := flag.String("config", "", "path to master config file")
	flag.Parse()

	cfg, err := config.LoadMaster(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)

	ctx := context.Background()
	nexusClient, err := nexus.Connect(ctx, cfg.NexusServers())
	if err != nil {
		logger.Fatal("failed to connect to nexus", "error", err)
	}
	galaxyClient := galaxy.NewHTTPClient(cfg.GalaxyAddress)

	master := service.NewMaster(cfg, nexusClient, galaxyClient, dfs.Open, logger)
	if err := master.Init(ctx); err != nil {
		logger.Fatal("failed to initialize master", "error", err)
	}

	server := rest.NewServer(":"+cfg.MasterPort, cfg.REST, master, logger)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down master")

	// Give the server 30 seconds to finish serving ongoing requests.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	master.Shutdown()

	logger.Info("master stopped")
}
