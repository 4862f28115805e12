package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/ArkLabsHQ/deadman/internal/config"
	"github.com/ArkLabsHQ/deadman/internal/core/application"
	"github.com/ArkLabsHQ/deadman/internal/core/ports"
	"github.com/ArkLabsHQ/deadman/internal/infrastructure/db"
	"github.com/ArkLabsHQ/deadman/internal/infrastructure/esplora"
	scheduler "github.com/ArkLabsHQ/deadman/internal/infrastructure/scheduler/gocron"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

// nolint:all
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	cntx = context.Background()

	cfg         *config.Config
	appSvc      *application.Service
	repoManager ports.RepoManager
)

func main() {
	app := cli.NewApp()

	app.Version = version
	app.Name = "deadman"
	app.Usage = "bitcoin dead man's switch: check in to keep your funds, or let them go to your heir"
	app.Commands = append(
		app.Commands,
		&createCommand,
		&checkInCommand,
		&withdrawCommand,
		&redeemCommand,
		&statusCommand,
		&watchCommand,
	)
	app.Flags = []cli.Flag{
		networkFlag,
		serverFlag,
		proxyFlag,
		retryFlag,
		timeoutFlag,
		feeRateFlag,
		timelockFlag,
		datadirFlag,
		logLevelFlag,
	}

	app.Before = func(ctx *cli.Context) error {
		var err error
		if cfg, err = loadConfig(ctx); err != nil {
			return fmt.Errorf("invalid config: %s", err)
		}
		log.SetLevel(log.Level(cfg.LogLevel))

		if appSvc, err = getService(); err != nil {
			return fmt.Errorf("error while initializing service: %s", err)
		}
		return nil
	}
	app.After = func(*cli.Context) error {
		if repoManager != nil {
			repoManager.Close()
		}
		return nil
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, fmt.Errorf("error: %v", err))
		if repoManager != nil {
			repoManager.Close()
		}
		os.Exit(1)
	}
}

// loadConfig reads the config from env and applies the global flags on top.
func loadConfig(ctx *cli.Context) (*config.Config, error) {
	if ctx.IsSet(datadirFlag.Name) {
		if err := os.Setenv("DEADMAN_"+config.Datadir, ctx.String(datadirFlag.Name)); err != nil {
			return nil, err
		}
	}

	c, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}

	if ctx.IsSet(networkFlag.Name) {
		c.Network = ctx.String(networkFlag.Name)
		if !ctx.IsSet(serverFlag.Name) && len(os.Getenv("DEADMAN_"+config.EsploraURL)) <= 0 {
			c.EsploraURL = ""
		}
	}
	if ctx.IsSet(serverFlag.Name) {
		c.EsploraURL = ctx.String(serverFlag.Name)
	}
	if ctx.IsSet(proxyFlag.Name) {
		c.Proxy = ctx.String(proxyFlag.Name)
	}
	if ctx.IsSet(retryFlag.Name) {
		c.Retry = ctx.Int(retryFlag.Name)
	}
	if ctx.IsSet(timeoutFlag.Name) {
		c.Timeout = uint32(ctx.Uint(timeoutFlag.Name))
	}
	if ctx.IsSet(feeRateFlag.Name) {
		c.FeeRate = ctx.Float64(feeRateFlag.Name)
	}
	if ctx.IsSet(timelockFlag.Name) {
		c.Timelock = uint32(ctx.Uint(timelockFlag.Name))
	}
	if ctx.IsSet(logLevelFlag.Name) {
		c.LogLevel = uint32(ctx.Uint(logLevelFlag.Name))
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func getService() (*application.Service, error) {
	backend, err := esplora.NewService(esplora.Config{
		Url:     cfg.EsploraURL,
		Proxy:   cfg.Proxy,
		Retry:   cfg.Retry,
		Timeout: cfg.RequestTimeout(),
	})
	if err != nil {
		return nil, err
	}

	repoManager, err = db.NewService(db.ServiceConfig{
		DbType:   "badger",
		DbConfig: []any{cfg.DbDir(), log.StandardLogger()},
	})
	if err != nil {
		// The watch daemon holds the lock on the datadir.
		log.WithError(err).Warn("failed to open db, history will not be recorded")
		repoManager, err = db.NewService(db.ServiceConfig{
			DbType:   "badger",
			DbConfig: []any{"", nil},
		})
		if err != nil {
			return nil, err
		}
	}

	schedulerSvc := scheduler.NewScheduler(backend, scheduler.DefaultPollInterval)

	buildInfo := application.BuildInfo{
		Version: version,
		Commit:  commit,
		Date:    date,
	}

	return application.NewService(
		buildInfo,
		application.Config{
			Network:  cfg.NetworkParams(),
			FeeRate:  cfg.FeeRate,
			Timelock: cfg.Timelock,
			GapLimit: cfg.GapLimit,
		},
		backend, repoManager, schedulerSvc,
	)
}

func printJSON(resp interface{}) error {
	jsonBytes, err := json.MarshalIndent(resp, "", "\t")
	if err != nil {
		return err
	}
	fmt.Println(string(jsonBytes))
	return nil
}
