package command

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/tomatool/driverpool/internal/config"
	"github.com/tomatool/driverpool/internal/container"
	"github.com/tomatool/driverpool/internal/runlog"
)

var configFlag = &cli.StringFlag{
	Name:    "config",
	Aliases: []string{"c"},
	Value:   config.DefaultFile,
	Usage:   "suite file path",
}

var setFlag = &cli.StringSliceFlag{
	Name:    "set",
	Aliases: []string{"s"},
	Usage:   "override a property (key=value), can be repeated",
}

// loadSuite reads the suite file. A missing default file yields the default
// suite so that property files alone are enough to run.
func loadSuite(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if path == config.DefaultFile && errors.Is(err, fs.ErrNotExist) {
		log.Debug().Str("file", path).Msg("no suite file, using defaults")
		return config.Default(), nil
	}
	return nil, err
}

// overrides merges the suite's properties.set with --set flags. Flags win.
func overrides(cfg *config.Config, pairs []string) (map[string]string, error) {
	flags, err := config.ParseOverrides(pairs)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(cfg.Properties.Set)+len(flags))
	for k, v := range cfg.Properties.Set {
		out[k] = v
	}
	for k, v := range flags {
		out[k] = v
	}
	return out, nil
}

// startContainers starts the suite's containers and, when a grid container is
// configured, points the registry at it. The returned manager must be
// cleaned up by the caller.
func startContainers(ctx context.Context, cfg *config.Config, runCtx *runlog.RunContext, props map[string]string) (*container.Manager, error) {
	if len(cfg.Containers) == 0 {
		return nil, nil
	}

	if err := container.CheckDockerAvailable(); err != nil {
		return nil, err
	}

	cm, err := container.NewManager(cfg.Containers)
	if err != nil {
		return nil, fmt.Errorf("creating container manager: %w", err)
	}
	if runCtx != nil {
		cm.SetRunContext(runCtx)
	}

	if err := cm.CreateNetwork(ctx); err != nil {
		cm.Cleanup()
		return nil, fmt.Errorf("creating network: %w", err)
	}
	if err := cm.StartAll(ctx); err != nil {
		cm.Cleanup()
		return nil, fmt.Errorf("starting containers: %w", err)
	}

	if cfg.Grid.Enabled() {
		endpoint, err := cm.Endpoint(ctx, cfg.Grid.Container, cfg.Grid.Port, cfg.Grid.Path)
		if err != nil {
			cm.Cleanup()
			return nil, fmt.Errorf("resolving grid endpoint: %w", err)
		}
		if _, ok := props[config.KeyGridURL]; !ok {
			props[config.KeyGridURL] = endpoint.String()
		}
		if _, ok := props[config.KeyRemoteExecution]; !ok {
			props[config.KeyRemoteExecution] = "true"
		}
		log.Info().Str("container", cfg.Grid.Container).Str("url", endpoint.String()).Msg("selenium grid ready")
	}

	return cm, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
