package main

import (
	"context"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/23skdu/longbow-mesh/internal/api"
	"github.com/23skdu/longbow-mesh/internal/logger"
	"github.com/23skdu/longbow-mesh/internal/sampler"
)

func serveCmd() *cli.Command {
	var addr string

	flags := append(commonFlags(),
		&cli.StringFlag{Name: "addr", Usage: "listen address", Destination: &addr},
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the chat API over HTTP",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			rt, err := loadRuntime(cmd)
			if err != nil {
				return err
			}
			if addr == "" {
				addr = rt.cfg.Serve.Addr
			}
			ttl, err := time.ParseDuration(rt.cfg.Serve.SessionTTL)
			if err != nil {
				return err
			}

			gen := sampler.New(rt.eng, rt.tok, sampler.Config{
				Temperature: rt.cfg.Sampler.Temperature,
				TopK:        rt.cfg.Sampler.TopK,
				TopP:        rt.cfg.Sampler.TopP,
				MaxTokens:   rt.cfg.Sampler.MaxTokens,
				Seed:        rt.cfg.Sampler.Seed,
			})

			srv := api.NewServer(gen, ttl)
			defer srv.Close()

			e := echo.New()
			e.Use(middleware.Recover())
			srv.Register(e)

			logger.Log.Info("serving chat API", "addr", addr, "model", rt.cfg.Model.Checkpoint)
			sc := echo.StartConfig{Address: addr}
			return sc.Start(ctx, e)
		},
	}
}
