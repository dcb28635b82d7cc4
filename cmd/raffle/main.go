package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gopkg.in/urfave/cli.v1"

	"raffle/internal/api"
	"raffle/internal/config"
	"raffle/internal/logger"
)

var log = logger.Named("raffle")

func main() {
	app := cli.NewApp()
	app.Name = "raffle"
	app.Usage = "run a multi-round raffle over a persisted ledger"
	app.Version = "0.1.0"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "env", Value: ".env", Usage: "dotenv file with RAFFLE_* settings"},
		cli.BoolFlag{Name: "verbose", Usage: "log to stderr as well"},
	}
	app.Before = func(c *cli.Context) error {
		cfg, err := config.Load(c.GlobalString("env"))
		if err != nil {
			return err
		}
		err = logger.Initialize(logger.Configuration{
			LogFile:   cfg.LogFile,
			ErrorFile: cfg.ErrorFile,
			Level:     cfg.LogLevel.String(),
			Console:   c.GlobalBool("verbose"),
		})
		if err != nil {
			return err
		}
		app.Metadata = map[string]interface{}{"config": cfg}
		return nil
	}
	app.After = func(c *cli.Context) error {
		logger.Sync()
		return nil
	}
	app.Commands = commands

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "raffle:", err)
		os.Exit(1)
	}
}

func configOf(c *cli.Context) *config.Config {
	return c.App.Metadata["config"].(*config.Config)
}

var serveCommand = cli.Command{
	Name:  "serve",
	Usage: "serve the HTTP API until interrupted",
	Action: func(c *cli.Context) error {
		cfg := configOf(c)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		node, err := open(ctx, cfg)
		if err != nil {
			return err
		}
		defer node.Close()

		if pending, err := node.engine.FlushPayouts(ctx); err != nil {
			log.Warn("payouts left from a previous run still pending", zap.Int("sets", len(pending)), zap.Error(err))
		}

		gin.SetMode(gin.ReleaseMode)
		server := &http.Server{Addr: cfg.HTTPAddr, Handler: api.NewRouter(node.engine, node.deposits)}

		errCh := make(chan error, 1)
		go func() {
			log.Info("serving", zap.String("addr", cfg.HTTPAddr))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()

		select {
		case err := <-errCh:
			log.Error("server stopped", zap.Error(err))
			return err
		case <-waitForInterrupt():
			log.Info("interrupt received, shutting down")
		}

		shutdown, stop := context.WithTimeout(ctx, 10*time.Second)
		defer stop()
		return server.Shutdown(shutdown)
	},
}

func waitForInterrupt() <-chan os.Signal {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	return sigCh
}
