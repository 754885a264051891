package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/twpayne/go-dem"
	"github.com/twpayne/go-dem/internal/logger"
	"github.com/twpayne/go-dem/internal/server"
)

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func run() int {
	addr := flag.String("addr", getEnv("DEM_ADDR", ":8080"), "listen address")
	concurrency := flag.Int("concurrency", envInt("DEM_CONCURRENCY", 8), "maximum concurrent requests per call")
	maxTiles := flag.Int("max-tiles", envInt("DEM_MAX_TILES", 512), "maximum tiles per raster")
	timeout := flag.Duration("timeout", 2*time.Minute, "timeout per call")
	flag.Parse()

	zl := logger.Build(logger.Config{
		Level:     getEnv("LOG_LEVEL", "info"),
		Console:   strings.ToLower(os.Getenv("LOG_CONSOLE")) == "true",
		Component: "dem-server",
	}, os.Stdout)

	// The transport and projector are shared by all requests.
	projector, err := dem.NewProjProjector()
	if err != nil {
		zl.Error().Err(err).Msg("failed to initialize projector")
		return 1
	}
	s := server.New(zl,
		dem.WithConcurrency(*concurrency),
		dem.WithMaxTiles(*maxTiles),
		dem.WithTimeout(*timeout),
		dem.WithTransport(dem.NewHTTPTransport(dem.WithTransportLogger(zl))),
		dem.WithProjector(projector),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := server.Run(ctx, *addr, s.Handler(), zl); err != nil {
		zl.Error().Err(err).Msg("server exited with error")
		return 1
	}
	zl.Info().Msg("server stopped")
	return 0
}

func main() {
	os.Exit(run())
}
