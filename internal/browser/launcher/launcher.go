// Package launcher joins the local and remote browser factories behind the
// interface the registry consumes.
package launcher

import (
	"context"
	"net/url"

	"github.com/tomatool/driverpool/internal/browser"
	"github.com/tomatool/driverpool/internal/browser/local"
	"github.com/tomatool/driverpool/internal/browser/remote"
)

// Launcher creates local sessions with Playwright and remote sessions on a
// Selenium Grid.
type Launcher struct {
	local  *local.Launcher
	remote *remote.Launcher
}

// New creates a launcher.
func New(localOpts local.Options) *Launcher {
	return &Launcher{
		local:  local.New(localOpts),
		remote: remote.New(nil),
	}
}

func (l *Launcher) Launch(ctx context.Context, opts browser.Options) (browser.Driver, error) {
	return l.local.Launch(ctx, opts)
}

func (l *Launcher) Connect(ctx context.Context, endpoint *url.URL, opts browser.Options) (browser.Driver, error) {
	return l.remote.Connect(ctx, endpoint, opts)
}

// Close stops the local Playwright runtime.
func (l *Launcher) Close() error {
	return l.local.Close()
}
