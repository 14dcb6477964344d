// Package runner executes feature files with godog, giving every scenario its
// own browser handle from the driver registry.
package runner

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strings"

	"github.com/cucumber/godog"
	"github.com/rs/zerolog/log"

	"github.com/tomatool/driverpool/internal/browser"
	"github.com/tomatool/driverpool/internal/config"
	_ "github.com/tomatool/driverpool/internal/formatter" // Register driverpool formatter
	"github.com/tomatool/driverpool/internal/registry"
	"github.com/tomatool/driverpool/internal/steps"
)

// Options configures runner behavior
type Options struct {
	// Format overrides settings.output (e.g., "driverpool" for structured events)
	Format string

	// Tags overrides features.tags
	Tags string

	// Parallel overrides settings.parallel when positive
	Parallel int
}

// Runner executes behavioral tests
type Runner struct {
	config        *config.Config
	props         *config.Store
	container     ContainerExecutor
	acquire       PoolFactory
	shots         ScreenshotSink
	opts          Options
	scenarioRegex *regexp.Regexp

	pool Pool
}

// New creates a runner backed by the process-wide driver registry
func New(cfg *config.Config, props *config.Store, cm ContainerExecutor, shots ScreenshotSink, opts Options) (*Runner, error) {
	acquire := func() (Pool, error) {
		reg, err := registry.Get()
		if err != nil {
			return nil, err
		}
		return reg, nil
	}
	return newRunner(cfg, props, cm, acquire, shots, opts)
}

// newRunner is the internal constructor that allows dependency injection for testing
func newRunner(cfg *config.Config, props *config.Store, cm ContainerExecutor, acquire PoolFactory, shots ScreenshotSink, opts Options) (*Runner, error) {
	r := &Runner{
		config:    cfg,
		props:     props,
		container: cm,
		acquire:   acquire,
		shots:     shots,
		opts:      opts,
	}

	if cfg.Features.Scenario != "" {
		regex, err := regexp.Compile(cfg.Features.Scenario)
		if err != nil {
			return nil, fmt.Errorf("invalid scenario filter regex: %w", err)
		}
		r.scenarioRegex = regex
		log.Info().Str("pattern", cfg.Features.Scenario).Msg("scenario filter active")
	}

	return r, nil
}

// Run executes all features. The registry is acquired before the first
// scenario and every handle is released when the suite ends.
func (r *Runner) Run(ctx context.Context) error {
	pool, err := r.acquire()
	if err != nil {
		return fmt.Errorf("initializing driver registry: %w", err)
	}
	r.pool = pool
	defer r.pool.ReleaseAll()

	if err := r.runHooks(ctx, r.config.Hooks.BeforeAll); err != nil {
		return fmt.Errorf("before_all hooks failed: %w", err)
	}

	suite := godog.TestSuite{
		Name:                 "driverpool",
		TestSuiteInitializer: r.initializeSuite,
		ScenarioInitializer:  r.initializeScenario,
		Options:              r.godogOptions(),
	}

	status := suite.Run()

	if err := r.runHooks(ctx, r.config.Hooks.AfterAll); err != nil {
		log.Warn().Err(err).Msg("after_all hooks failed")
	}

	if status != 0 {
		return fmt.Errorf("tests failed with status %d", status)
	}
	return nil
}

func (r *Runner) godogOptions() *godog.Options {
	format := r.config.Settings.Output
	if r.opts.Format != "" {
		format = r.opts.Format
	}
	tags := r.config.Features.Tags
	if r.opts.Tags != "" {
		tags = r.opts.Tags
	}
	parallel := r.config.Settings.Parallel
	if r.opts.Parallel > 0 {
		parallel = r.opts.Parallel
	}

	return &godog.Options{
		Format:        format,
		Paths:         r.config.Features.Paths,
		Tags:          tags,
		StopOnFailure: r.config.Settings.FailFast,
		Strict:        true,
		Concurrency:   parallel,
	}
}

func (r *Runner) initializeSuite(sc *godog.TestSuiteContext) {
	sc.AfterSuite(func() {
		log.Debug().Msg("suite finished, releasing browser handles")
		r.pool.ReleaseAll()
	})
}

func (r *Runner) initializeScenario(sc *godog.ScenarioContext) {
	r.setupScenarioHooks(sc)
	steps.NewBrowser(r.pool, r.props, r.shots).RegisterSteps(sc)
}

type driverKey struct{}

// setupScenarioHooks acquires the scenario's handle before it runs and
// releases it afterwards
func (r *Runner) setupScenarioHooks(sc ScenarioContext) {
	sc.Before(func(ctx context.Context, scenario *godog.Scenario) (context.Context, error) {
		if r.scenarioRegex != nil && !r.scenarioRegex.MatchString(scenario.Name) {
			log.Info().Str("scenario", scenario.Name).Msg("skipping scenario (doesn't match filter)")
			return ctx, godog.ErrSkip
		}

		worker := registry.NewWorkerID()
		ctx = registry.WithWorker(ctx, worker)

		if err := r.runHooks(ctx, r.config.Hooks.BeforeScenario); err != nil {
			return ctx, fmt.Errorf("before_scenario hooks failed: %w", err)
		}

		d, err := r.pool.Handle(ctx)
		if err != nil {
			return ctx, fmt.Errorf("acquiring browser: %w", err)
		}
		log.Debug().
			Str("scenario", scenario.Name).
			Str("worker", string(worker)).
			Str("session", d.SessionID()).
			Msg("scenario started")

		return context.WithValue(ctx, driverKey{}, d), nil
	})

	sc.After(func(ctx context.Context, scenario *godog.Scenario, err error) (context.Context, error) {
		if d, ok := ctx.Value(driverKey{}).(browser.Driver); ok {
			r.captureScreenshot(d, scenario.Name, err != nil)
		}

		if hookErr := r.runHooks(ctx, r.config.Hooks.AfterScenario); hookErr != nil {
			log.Warn().Err(hookErr).Msg("after_scenario hooks failed")
		}

		r.pool.Release(ctx)
		return ctx, nil
	})
}

func (r *Runner) captureScreenshot(d browser.Driver, scenario string, failed bool) {
	switch r.config.Settings.Screenshots {
	case "never":
		return
	case "always":
	default:
		if !failed {
			return
		}
	}
	if r.shots == nil {
		return
	}

	png, err := d.Screenshot()
	if err != nil {
		log.Warn().Err(err).Str("scenario", scenario).Msg("failed to take screenshot")
		return
	}
	path, err := r.shots.SaveScreenshot(scenario, png)
	if err != nil {
		log.Warn().Err(err).Str("scenario", scenario).Msg("failed to save screenshot")
		return
	}
	log.Info().Str("scenario", scenario).Str("path", path).Msg("screenshot saved")
}

func (r *Runner) runHooks(ctx context.Context, hooks []config.Hook) error {
	for _, hook := range hooks {
		if err := r.executeHook(ctx, hook); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) executeHook(ctx context.Context, hook config.Hook) error {
	cmd := hook.Exec
	if cmd == "" {
		cmd = hook.Shell
	}
	if cmd == "" {
		return nil
	}
	if hook.Container == "" {
		return runLocal(ctx, cmd)
	}
	if r.container == nil {
		return fmt.Errorf("hook %q needs container %q but no containers are running", cmd, hook.Container)
	}

	code, output, err := r.container.Exec(ctx, hook.Container, []string{"sh", "-c", cmd})
	if err != nil {
		return fmt.Errorf("executing command in %s: %w", hook.Container, err)
	}
	if code != 0 {
		return fmt.Errorf("command in %s exited with %d: %s", hook.Container, code, output)
	}
	return nil
}

// runLocal runs a hook that names no container on this machine.
func runLocal(ctx context.Context, command string) error {
	out, err := exec.CommandContext(ctx, "sh", "-c", command).CombinedOutput()
	var exitErr *exec.ExitError
	switch {
	case errors.As(err, &exitErr):
		return fmt.Errorf("local command exited with %d: %s", exitErr.ExitCode(), strings.TrimSpace(string(out)))
	case err != nil:
		return fmt.Errorf("executing local command: %w", err)
	}
	log.Debug().Str("command", command).Msg("local hook finished")
	return nil
}
