package command

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/tomatool/driverpool/internal/browser/launcher"
	"github.com/tomatool/driverpool/internal/browser/local"
	"github.com/tomatool/driverpool/internal/config"
	"github.com/tomatool/driverpool/internal/registry"
	"github.com/tomatool/driverpool/internal/runlog"
	"github.com/tomatool/driverpool/internal/runner"
)

var runCommand = &cli.Command{
	Name:      "run",
	Usage:     "Run the browser suite",
	ArgsUsage: "[feature paths...]",
	Description: `Starts the suite's containers (including a Selenium Grid when one is
configured), builds the driver registry from the property files and runs
every feature. Each scenario gets its own browser session.`,
	Flags: []cli.Flag{
		configFlag,
		setFlag,
		&cli.StringFlag{
			Name:    "tags",
			Aliases: []string{"t"},
			Usage:   "tag expression filter (overrides features.tags)",
		},
		&cli.StringFlag{
			Name:  "scenario",
			Usage: "regex matched against scenario names",
		},
		&cli.IntFlag{
			Name:    "parallel",
			Aliases: []string{"p"},
			Usage:   "concurrent scenarios (overrides settings.parallel)",
		},
		&cli.StringFlag{
			Name:  "format",
			Usage: "godog output format (pretty, progress, driverpool, ...)",
		},
		&cli.BoolFlag{
			Name:  "no-grid",
			Usage: "do not start containers; use grid.url as configured",
		},
		&cli.BoolFlag{
			Name:  "install",
			Usage: "install Playwright browsers before the first local launch",
		},
	},
	Action: runSuite,
}

func runSuite(c *cli.Context) error {
	cfg, err := loadSuite(c.String("config"))
	if err != nil {
		return err
	}
	if c.Args().Present() {
		cfg.Features.Paths = c.Args().Slice()
	}
	if s := c.String("scenario"); s != "" {
		cfg.Features.Scenario = s
	}

	props, err := overrides(cfg, c.StringSlice("set"))
	if err != nil {
		return err
	}

	runCtx, err := runlog.New()
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "run: %s\n", runCtx.ID)

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, cfg.Settings.Timeout)
	defer cancel()

	var executor runner.ContainerExecutor
	if !c.Bool("no-grid") {
		cm, err := startContainers(ctx, cfg, runCtx, props)
		if err != nil {
			return err
		}
		if cm != nil {
			defer cm.Cleanup()
			cm.PrintConnectionInfo(ctx, c.App.Writer)
			executor = cm
		}
	}

	store, err := config.LoadStore(cfg.Properties.Files, cfg.Properties.TestData, props)
	if err != nil {
		return err
	}

	snapshot := store.Snapshot()
	if data, err := yaml.Marshal(snapshot.Redacted()); err == nil {
		if err := runCtx.WriteLog("registry", data); err != nil {
			log.Warn().Err(err).Msg("failed to record registry configuration")
		}
	}

	l := launcher.New(local.Options{
		Install: cfg.Playwright.Install || c.Bool("install"),
		Verbose: cfg.Playwright.Verbose,
	})
	defer func() {
		if err := l.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to stop playwright")
		}
	}()

	if err := registry.SetSource(registry.StoreSource(store, l)); err != nil {
		return err
	}

	r, err := runner.New(cfg, store, executor, runCtx, runner.Options{
		Format:   c.String("format"),
		Tags:     c.String("tags"),
		Parallel: c.Int("parallel"),
	})
	if err != nil {
		return err
	}

	return r.Run(ctx)
}
