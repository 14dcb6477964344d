package runner

import (
	"context"

	"github.com/cucumber/godog"

	"github.com/tomatool/driverpool/internal/browser"
)

// Pool abstracts registry.Registry for testing
type Pool interface {
	Handle(ctx context.Context) (browser.Driver, error)
	Release(ctx context.Context)
	ReleaseAll()
}

// PoolFactory returns the process-wide pool; registry.Get in production
type PoolFactory func() (Pool, error)

// ContainerExecutor abstracts container execution for testing
type ContainerExecutor interface {
	Exec(ctx context.Context, name string, cmd []string) (int, string, error)
}

// ScreenshotSink stores screenshots; *runlog.RunContext in production
type ScreenshotSink interface {
	SaveScreenshot(name string, png []byte) (string, error)
}

// ScenarioContext abstracts godog.ScenarioContext for testing
type ScenarioContext interface {
	Before(h godog.BeforeScenarioHook)
	After(h godog.AfterScenarioHook)
	Step(expr interface{}, stepFunc interface{})
}
