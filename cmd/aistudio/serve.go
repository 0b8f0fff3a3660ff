package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"
	"golang.org/x/time/rate"

	"github.com/samcharles93/aistudio/internal/api"
	"github.com/samcharles93/aistudio/internal/backend"
	"github.com/samcharles93/aistudio/internal/chat"
	"github.com/samcharles93/aistudio/internal/logger"
)

func serveCmd() *cli.Command {
	var (
		readTimeout time.Duration
		probeRate   float64
		probeBurst  int64
	)

	return &cli.Command{
		Name:   "serve",
		Usage:  "Serve the model library and chat HTTP API",
		Before: prepare,
		Flags: append(append(runtimeFlags(), loggingFlags()...),
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "listen address",
				Value:       "127.0.0.1:8080",
				Destination: &serverAddress,
			},
			&cli.DurationFlag{
				Name:        "read-timeout",
				Usage:       "read timeout",
				Value:       30 * time.Second,
				Destination: &readTimeout,
			},
			&cli.Float64Flag{
				Name:        "probe-rate",
				Usage:       "import and probe requests allowed per second",
				Value:       float64(api.DefaultProbeRate),
				Destination: &probeRate,
			},
			&cli.Int64Flag{
				Name:        "probe-burst",
				Usage:       "import and probe requests allowed in a burst",
				Value:       api.DefaultProbeBurst,
				Destination: &probeBurst,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			st, err := openStack(ctx, true)
			if err != nil {
				return err
			}
			defer func() {
				if err := st.Close(); err != nil {
					log.Warn("shutdown", "error", err)
				}
			}()
			chats := chat.NewManager(st.chatConfig())
			defer func() { _ = chats.Close() }()
			go st.metrics.WatchCatalog(ctx, st.catalog)

			server, err := api.NewServer(api.Config{
				Catalog:      st.catalog,
				Settings:     st.settings,
				Chats:        chats,
				Metrics:      st.metrics,
				Accelerators: backend.Available(st.engine),
				Accelerator:  st.accelerator,
				ProbeRate:    rate.Limit(probeRate),
				ProbeBurst:   int(probeBurst),
				Log:          log,
			})
			if err != nil {
				return err
			}
			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			server.Register(e)
			log.Info("starting server", "address", serverAddress, "data_dir", st.dataDir, "accelerator", st.accelerator)
			sc := echo.StartConfig{
				Address: serverAddress,
				BeforeServeFunc: func(srv *http.Server) error {
					srv.ReadHeaderTimeout = readTimeout
					return nil
				},
			}
			return sc.Start(ctx, e)
		},
	}
}
