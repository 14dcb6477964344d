package local

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/playwright-community/playwright-go"

	"github.com/tomatool/driverpool/internal/browser"
)

func newSessionID() string {
	return "pw-" + uuid.New().String()[:8]
}

type driver struct {
	id         string
	kind       browser.Kind
	headless   bool
	noViewport bool

	browser playwright.Browser
	context playwright.BrowserContext
	page    playwright.Page

	mu           sync.Mutex
	implicitWait time.Duration
	closed       bool
}

func (d *driver) Kind() browser.Kind { return d.kind }
func (d *driver) Headless() bool     { return d.headless }
func (d *driver) SessionID() string  { return d.id }

func (d *driver) Navigate(url string) error {
	if _, err := d.page.Goto(url); err != nil {
		return fmt.Errorf("navigating to %s: %w", url, err)
	}
	return nil
}

// selector translates a locator into Playwright selector syntax.
func selector(by browser.By, value string) (string, error) {
	switch by {
	case browser.ByCSS:
		return "css=" + value, nil
	case browser.ByXPath:
		return "xpath=" + value, nil
	case browser.ByID:
		return fmt.Sprintf(`css=[id="%s"]`, strings.ReplaceAll(value, `"`, `\"`)), nil
	default:
		return "", fmt.Errorf("unsupported locator strategy %q", by)
	}
}

// waitAttached blocks until loc is in the DOM or the implicit wait elapses.
// A zero implicit wait checks once; Playwright treats a zero timeout as
// unlimited.
func (d *driver) waitAttached(loc playwright.Locator) error {
	d.mu.Lock()
	wait := d.implicitWait
	d.mu.Unlock()

	if wait <= 0 {
		n, err := loc.Count()
		if err != nil {
			return err
		}
		if n == 0 {
			return errors.New("no matching element")
		}
		return nil
	}

	return loc.WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateAttached,
		Timeout: playwright.Float(timeoutMillis(wait)),
	})
}

func (d *driver) FindElement(by browser.By, value string) (browser.Element, error) {
	sel, err := selector(by, value)
	if err != nil {
		return nil, err
	}
	loc := d.page.Locator(sel).First()
	if err := d.waitAttached(loc); err != nil {
		return nil, fmt.Errorf("finding %s=%s: %w", by, value, err)
	}
	return &element{loc: loc}, nil
}

func (d *driver) FindElements(by browser.By, value string) ([]browser.Element, error) {
	sel, err := selector(by, value)
	if err != nil {
		return nil, err
	}
	loc := d.page.Locator(sel)
	if err := d.waitAttached(loc.First()); err != nil {
		return []browser.Element{}, nil
	}

	n, err := loc.Count()
	if err != nil {
		return nil, fmt.Errorf("counting %s=%s: %w", by, value, err)
	}
	els := make([]browser.Element, 0, n)
	for i := 0; i < n; i++ {
		els = append(els, &element{loc: loc.Nth(i)})
	}
	return els, nil
}

func (d *driver) Title() (string, error) {
	return d.page.Title()
}

func (d *driver) CurrentURL() (string, error) {
	return d.page.URL(), nil
}

func (d *driver) PageSource() (string, error) {
	return d.page.Content()
}

func (d *driver) SetImplicitWait(t time.Duration) error {
	d.mu.Lock()
	d.implicitWait = t
	d.mu.Unlock()
	d.page.SetDefaultTimeout(timeoutMillis(t))
	return nil
}

func (d *driver) SetPageLoadTimeout(t time.Duration) error {
	d.page.SetDefaultNavigationTimeout(timeoutMillis(t))
	return nil
}

// minTimeout stands in for zero. Playwright reads a zero timeout as no limit,
// WebDriver as no waiting.
const minTimeout = time.Millisecond

// timeoutMillis converts t to a Playwright timeout, never zero.
func timeoutMillis(t time.Duration) float64 {
	if t < minTimeout {
		t = minTimeout
	}
	return float64(t.Milliseconds())
}

// MaximizeWindow is a no-op for Chromium, which was launched maximized
// without a fixed viewport.
func (d *driver) MaximizeWindow() error {
	if d.noViewport {
		return nil
	}
	return d.page.SetViewportSize(MaximizedWidth, MaximizedHeight)
}

func (d *driver) Screenshot() ([]byte, error) {
	return d.page.Screenshot(playwright.PageScreenshotOptions{
		FullPage: playwright.Bool(true),
	})
}

func (d *driver) Quit() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return errSessionClosed
	}
	d.closed = true
	d.mu.Unlock()

	return errors.Join(
		d.page.Close(),
		d.context.Close(),
		d.browser.Close(),
	)
}

type element struct {
	loc playwright.Locator
}

func (e *element) Click() error {
	return e.loc.Click()
}

func (e *element) SendKeys(text string) error {
	return e.loc.PressSequentially(text)
}

func (e *element) Clear() error {
	return e.loc.Clear()
}

func (e *element) Text() (string, error) {
	text, err := e.loc.InnerText()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

func (e *element) Displayed() (bool, error) {
	return e.loc.IsVisible()
}

func (e *element) Attribute(name string) (string, error) {
	return e.loc.GetAttribute(name)
}
