// Package remote opens browser sessions on a Selenium Grid (or any W3C
// WebDriver endpoint).
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tebeka/selenium"
	"github.com/tebeka/selenium/chrome"
	"github.com/tebeka/selenium/firefox"

	"github.com/tomatool/driverpool/internal/browser"
)

// ErrInvalidEndpoint is returned for grid URLs that cannot address a server.
var ErrInvalidEndpoint = errors.New("invalid grid endpoint")

// ErrGridNotReady is returned when the grid answers but reports it cannot
// accept sessions.
var ErrGridNotReady = errors.New("grid not ready")

// ParseEndpoint validates a grid URL. Only absolute http(s) URLs with a host
// are accepted.
func ParseEndpoint(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEndpoint, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: %q: scheme must be http or https", ErrInvalidEndpoint, raw)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: %q: missing host", ErrInvalidEndpoint, raw)
	}
	return u, nil
}

// Launcher creates sessions on a remote grid.
type Launcher struct {
	client *http.Client
}

// New creates a remote launcher. A nil client uses http.DefaultClient for
// readiness checks.
func New(client *http.Client) *Launcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &Launcher{client: client}
}

// Capabilities builds the W3C capabilities for opts.
func Capabilities(opts browser.Options) (selenium.Capabilities, error) {
	switch opts.Kind {
	case browser.Chrome:
		caps := selenium.Capabilities{"browserName": "chrome"}
		args := []string{"--no-sandbox", "--disable-dev-shm-usage"}
		if opts.Headless {
			args = append(args, "--headless")
		}
		caps.AddChrome(chrome.Capabilities{Args: args, W3C: true})
		return caps, nil

	case browser.Firefox:
		caps := selenium.Capabilities{"browserName": "firefox"}
		var args []string
		if opts.Headless {
			args = append(args, "--headless")
		}
		caps.AddFirefox(firefox.Capabilities{Args: args})
		return caps, nil

	case browser.Edge:
		args := []string{"--no-sandbox", "--disable-dev-shm-usage"}
		if opts.Headless {
			args = append(args, "--headless")
		}
		return selenium.Capabilities{
			"browserName":    "MicrosoftEdge",
			"ms:edgeOptions": map[string]any{"args": args},
		}, nil

	default:
		return nil, fmt.Errorf("%w for remote execution: %q", browser.ErrUnsupportedBrowser, opts.Kind)
	}
}

// Connect opens a session on the grid at endpoint. The grid's status
// endpoint is checked first under ctx so unreachable grids fail fast; session
// creation is bounded by ctx as well.
func (l *Launcher) Connect(ctx context.Context, endpoint *url.URL, opts browser.Options) (browser.Driver, error) {
	caps, err := Capabilities(opts)
	if err != nil {
		return nil, err
	}

	if err := l.Ready(ctx, endpoint); err != nil {
		return nil, err
	}

	wd, err := newSession(ctx, caps, endpoint.String())
	if err != nil {
		return nil, fmt.Errorf("creating remote session: %w", err)
	}

	log.Debug().
		Str("browser", opts.Kind.String()).
		Str("grid", endpoint.Redacted()).
		Str("session", wd.SessionID()).
		Msg("remote session created")

	return &driver{wd: wd, kind: opts.Kind, headless: opts.Headless}, nil
}

// newSession opens a WebDriver session, giving up when ctx is done. A session
// the grid grants after that is quit as soon as it arrives.
func newSession(ctx context.Context, caps selenium.Capabilities, urlPrefix string) (selenium.WebDriver, error) {
	type result struct {
		wd  selenium.WebDriver
		err error
	}
	done := make(chan result, 1)
	go func() {
		wd, err := selenium.NewRemote(caps, urlPrefix)
		done <- result{wd: wd, err: err}
	}()

	select {
	case r := <-done:
		return r.wd, r.err
	case <-ctx.Done():
		go func() {
			if r := <-done; r.err == nil {
				if err := r.wd.Quit(); err != nil {
					log.Warn().Err(err).Msg("failed to quit late remote session")
				}
			}
		}()
		return nil, ctx.Err()
	}
}

type statusResponse struct {
	Value struct {
		Ready   bool   `json:"ready"`
		Message string `json:"message"`
	} `json:"value"`
}

// Ready checks the grid's /status endpoint.
func (l *Launcher) Ready(ctx context.Context, endpoint *url.URL) error {
	statusURL := endpoint.JoinPath("status")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, statusURL.String(), nil)
	if err != nil {
		return fmt.Errorf("building status request: %w", err)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return fmt.Errorf("probing grid: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status endpoint returned %d", ErrGridNotReady, resp.StatusCode)
	}

	var status statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return fmt.Errorf("decoding grid status: %w", err)
	}
	if !status.Value.Ready {
		return fmt.Errorf("%w: %s", ErrGridNotReady, status.Value.Message)
	}
	return nil
}
