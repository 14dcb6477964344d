// Package local launches browsers on the current machine through Playwright.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/playwright-community/playwright-go"
	"github.com/rs/zerolog/log"

	"github.com/tomatool/driverpool/internal/browser"
)

// Viewport used when the engine cannot size the window to the screen.
const (
	MaximizedWidth  = 1920
	MaximizedHeight = 1080
)

// Options configures the Playwright runtime.
type Options struct {
	// Install downloads the browser binaries before the first launch
	Install bool

	// Verbose forwards Playwright driver output to stderr
	Verbose bool
}

// Launcher starts local browser sessions. The Playwright runtime is shared
// by every session it launches and started on first use.
type Launcher struct {
	opts Options

	mu sync.Mutex
	pw *playwright.Playwright
}

// New creates a local launcher. Nothing is started until Launch is called.
func New(opts Options) *Launcher {
	return &Launcher{opts: opts}
}

func (l *Launcher) runtime() (*playwright.Playwright, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.pw != nil {
		return l.pw, nil
	}

	runOpts := &playwright.RunOptions{
		Verbose: l.opts.Verbose,
		Stdout:  io.Discard,
		Stderr:  io.Discard,
	}

	if l.opts.Install {
		log.Debug().Msg("installing playwright browsers")
		if err := playwright.Install(runOpts); err != nil {
			return nil, fmt.Errorf("installing playwright: %w", err)
		}
	}

	pw, err := playwright.Run(runOpts)
	if err != nil {
		return nil, fmt.Errorf("starting playwright: %w", err)
	}
	l.pw = pw
	return pw, nil
}

// Launch starts a new browser, context and page for opts.
func (l *Launcher) Launch(ctx context.Context, opts browser.Options) (browser.Driver, error) {
	if _, err := browser.ParseKind(string(opts.Kind)); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pw, err := l.runtime()
	if err != nil {
		return nil, err
	}

	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(opts.Headless),
	}
	contextOpts := playwright.BrowserNewContextOptions{}

	var bt playwright.BrowserType
	switch opts.Kind {
	case browser.Chrome:
		bt = pw.Chromium
		launchOpts.Args = chromiumArgs
		contextOpts.NoViewport = playwright.Bool(true)
	case browser.Edge:
		bt = pw.Chromium
		launchOpts.Channel = playwright.String("msedge")
		launchOpts.Args = chromiumArgs
		contextOpts.NoViewport = playwright.Bool(true)
	case browser.Firefox:
		bt = pw.Firefox
		contextOpts.Viewport = &playwright.Size{Width: MaximizedWidth, Height: MaximizedHeight}
	}

	b, err := bt.Launch(launchOpts)
	if err != nil {
		return nil, fmt.Errorf("launching %s: %w", opts.Kind, err)
	}

	bctx, err := b.NewContext(contextOpts)
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("creating browser context: %w", err)
	}

	page, err := bctx.NewPage()
	if err != nil {
		bctx.Close()
		b.Close()
		return nil, fmt.Errorf("creating page: %w", err)
	}

	log.Debug().
		Str("browser", opts.Kind.String()).
		Bool("headless", opts.Headless).
		Str("version", b.Version()).
		Msg("local browser launched")

	return &driver{
		id:         newSessionID(),
		kind:       opts.Kind,
		headless:   opts.Headless,
		noViewport: contextOpts.NoViewport != nil && *contextOpts.NoViewport,
		browser:    b,
		context:    bctx,
		page:       page,
	}, nil
}

// Close stops the Playwright runtime. Sessions still open are terminated
// with it.
func (l *Launcher) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.pw == nil {
		return nil
	}
	err := l.pw.Stop()
	l.pw = nil
	if err != nil {
		return fmt.Errorf("stopping playwright: %w", err)
	}
	return nil
}

var chromiumArgs = []string{
	"--start-maximized",
	"--no-sandbox",
	"--disable-dev-shm-usage",
	"--disable-gpu",
}

var errSessionClosed = errors.New("session closed")
