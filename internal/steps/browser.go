package steps

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cucumber/godog"
	"github.com/rs/zerolog/log"

	"github.com/tomatool/driverpool/internal/browser"
	"github.com/tomatool/driverpool/internal/config"
)

// HandleProvider returns the browser session of the worker in ctx.
type HandleProvider interface {
	Handle(ctx context.Context) (browser.Driver, error)
}

// ScreenshotSink stores screenshots taken by steps.
type ScreenshotSink interface {
	SaveScreenshot(name string, png []byte) (string, error)
}

// Browser is the page-object step library. One value serves one scenario.
type Browser struct {
	handles HandleProvider
	props   *config.Store
	vars    *Variables
	shots   ScreenshotSink

	// explicitWait bounds the waiting steps; poll is the retry interval
	explicitWait time.Duration
	poll         time.Duration
}

// NewBrowser creates the step library. props resolves ${key} references in
// step arguments; shots may be nil, in which case screenshot steps fail.
func NewBrowser(handles HandleProvider, props *config.Store, shots ScreenshotSink) *Browser {
	if props == nil {
		props = config.NewStore(nil, nil, nil)
	}
	return &Browser{
		handles:      handles,
		props:        props,
		vars:         NewVariables(),
		shots:        shots,
		explicitWait: props.Seconds(config.KeyExplicitWait, config.DefaultExplicitWait),
		poll:         250 * time.Millisecond,
	}
}

// Variables returns the values remembered in this scenario.
func (b *Browser) Variables() *Variables {
	return b.vars
}

func (b *Browser) RegisterSteps(sc *godog.ScenarioContext) {
	Register(sc, b.Steps())
}

// Steps returns the structured step definitions for the browser library
func (b *Browser) Steps() StepCategory {
	return StepCategory{
		Name:        "Browser",
		Description: "Steps driving the scenario's browser session. Locators are CSS by default; prefix with xpath= or id= to switch strategy.",
		Steps: []StepDef{
			// Navigation
			{
				Group:       "Navigation",
				Pattern:     `^I open "([^"]*)"$`,
				Description: "Loads a URL; ${key} references are read from the property files",
				Example:     `I open "${spicejet.url}"`,
				Handler:     b.open,
			},

			// Interaction
			{
				Group:       "Interaction",
				Pattern:     `^I click "([^"]*)"$`,
				Description: "Clicks the element matching the locator",
				Example:     `I click "xpath=//div[text()='Search Flight']"`,
				Handler:     b.click,
			},
			{
				Group:       "Interaction",
				Pattern:     `^I click one of "([^"]*)" or "([^"]*)"$`,
				Description: "Clicks the first element that resolves, trying the locators in order",
				Example:     `I click one of "#search" or "xpath=//button[contains(., 'Search')]"`,
				Handler:     b.clickEither,
			},
			{
				Group:       "Interaction",
				Pattern:     `^I type "([^"]*)" into "([^"]*)"$`,
				Description: "Types text into the element matching the locator",
				Example:     `I type "${spicejet.from.city}" into "input[placeholder*='From']"`,
				Handler:     b.typeInto,
			},
			{
				Group:       "Interaction",
				Pattern:     `^I type "([^"]*)" into one of "([^"]*)" or "([^"]*)"$`,
				Description: "Types text into the first element that resolves",
				Example:     `I type "Delhi" into one of "#from" or "input[placeholder*='From']"`,
				Handler:     b.typeIntoEither,
			},
			{
				Group:       "Interaction",
				Pattern:     `^I clear "([^"]*)"$`,
				Description: "Clears the value of an input",
				Example:     `I clear "#search"`,
				Handler:     b.clear,
			},
			{
				Group:       "Interaction",
				Pattern:     `^I remember the text of "([^"]*)" as "([^"]*)"$`,
				Description: "Stores an element's text for later {{name}} references",
				Example:     `I remember the text of ".fare" as "fare"`,
				Handler:     b.remember,
			},

			// Waiting
			{
				Group:       "Waiting",
				Pattern:     `^I wait for "([^"]*)" to be visible$`,
				Description: "Polls until the element is displayed, failing after explicit.wait seconds",
				Example:     `I wait for ".flight-card" to be visible`,
				Handler:     b.waitVisible,
			},

			// Assertions
			{
				Group:       "Assertions",
				Pattern:     `^the title should be "([^"]*)"$`,
				Description: "Asserts the exact page title",
				Example:     `the title should be "SpiceJet"`,
				Handler:     b.titleIs,
			},
			{
				Group:       "Assertions",
				Pattern:     `^the title should contain "([^"]*)"$`,
				Description: "Asserts the page title contains text",
				Example:     `the title should contain "Flights"`,
				Handler:     b.titleContains,
			},
			{
				Group:       "Assertions",
				Pattern:     `^the url should contain "([^"]*)"$`,
				Description: "Asserts the current URL contains text",
				Example:     `the url should contain "/search"`,
				Handler:     b.urlContains,
			},
			{
				Group:       "Assertions",
				Pattern:     `^"([^"]*)" should be visible$`,
				Description: "Asserts the element is displayed",
				Example:     `"#results" should be visible`,
				Handler:     b.visible,
			},
			{
				Group:       "Assertions",
				Pattern:     `^"([^"]*)" should contain "([^"]*)"$`,
				Description: "Asserts the element text contains a value",
				Example:     `"h1" should contain "Welcome"`,
				Handler:     b.textContains,
			},
			{
				Group:       "Assertions",
				Pattern:     `^"([^"]*)" attribute "([^"]*)" should be "([^"]*)"$`,
				Description: "Asserts an element attribute value",
				Example:     `"#from" attribute "value" should be "Delhi"`,
				Handler:     b.attributeIs,
			},
			{
				Group:       "Assertions",
				Pattern:     `^there should be (\d+) "([^"]*)" elements?$`,
				Description: "Asserts how many elements match the locator",
				Example:     `there should be 3 ".flight-card" elements`,
				Handler:     b.count,
			},
			{
				Group:       "Assertions",
				Pattern:     `^the page should contain "([^"]*)"$`,
				Description: "Asserts the page source contains text",
				Example:     `the page should contain "Book now"`,
				Handler:     b.sourceContains,
			},

			// Capture
			{
				Group:       "Capture",
				Pattern:     `^I take a screenshot "([^"]*)"$`,
				Description: "Saves a screenshot into the run directory",
				Example:     `I take a screenshot "search results"`,
				Handler:     b.screenshot,
			},
		},
	}
}

func (b *Browser) expand(s string) string {
	return b.vars.Replace(b.props.Expand(s))
}

func (b *Browser) driver(ctx context.Context) (browser.Driver, error) {
	d, err := b.handles.Handle(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring browser: %w", err)
	}
	return d, nil
}

func (b *Browser) find(ctx context.Context, locators ...string) (browser.Element, error) {
	d, err := b.driver(ctx)
	if err != nil {
		return nil, err
	}
	if len(locators) == 1 {
		return browser.Find(d, browser.ParseLocator(b.expand(locators[0])))
	}

	parsed := make([]browser.Locator, len(locators))
	for i, l := range locators {
		parsed[i] = browser.ParseLocator(b.expand(l))
	}
	return browser.FindWithFallback(d, parsed...)
}

func (b *Browser) open(ctx context.Context, rawURL string) error {
	d, err := b.driver(ctx)
	if err != nil {
		return err
	}
	target := b.expand(rawURL)
	log.Debug().Str("url", target).Str("session", d.SessionID()).Msg("navigating")
	if err := d.Navigate(target); err != nil {
		return fmt.Errorf("opening %s: %w", target, err)
	}
	return nil
}

func (b *Browser) click(ctx context.Context, locator string) error {
	el, err := b.find(ctx, locator)
	if err != nil {
		return err
	}
	return el.Click()
}

func (b *Browser) clickEither(ctx context.Context, first, second string) error {
	el, err := b.find(ctx, first, second)
	if err != nil {
		return err
	}
	return el.Click()
}

func (b *Browser) typeInto(ctx context.Context, text, locator string) error {
	el, err := b.find(ctx, locator)
	if err != nil {
		return err
	}
	return el.SendKeys(b.expand(text))
}

func (b *Browser) typeIntoEither(ctx context.Context, text, first, second string) error {
	el, err := b.find(ctx, first, second)
	if err != nil {
		return err
	}
	return el.SendKeys(b.expand(text))
}

func (b *Browser) clear(ctx context.Context, locator string) error {
	el, err := b.find(ctx, locator)
	if err != nil {
		return err
	}
	return el.Clear()
}

func (b *Browser) remember(ctx context.Context, locator, name string) error {
	el, err := b.find(ctx, locator)
	if err != nil {
		return err
	}
	text, err := el.Text()
	if err != nil {
		return fmt.Errorf("reading text of %s: %w", locator, err)
	}
	b.vars.Set(name, text)
	return nil
}

func (b *Browser) titleIs(ctx context.Context, want string) error {
	d, err := b.driver(ctx)
	if err != nil {
		return err
	}
	title, err := d.Title()
	if err != nil {
		return err
	}
	if want = b.expand(want); title != want {
		return fmt.Errorf("expected title %q, got %q", want, title)
	}
	return nil
}

func (b *Browser) titleContains(ctx context.Context, want string) error {
	d, err := b.driver(ctx)
	if err != nil {
		return err
	}
	title, err := d.Title()
	if err != nil {
		return err
	}
	if want = b.expand(want); !strings.Contains(title, want) {
		return fmt.Errorf("expected title to contain %q, got %q", want, title)
	}
	return nil
}

func (b *Browser) urlContains(ctx context.Context, want string) error {
	d, err := b.driver(ctx)
	if err != nil {
		return err
	}
	current, err := d.CurrentURL()
	if err != nil {
		return err
	}
	if want = b.expand(want); !strings.Contains(current, want) {
		return fmt.Errorf("expected url to contain %q, got %q", want, current)
	}
	return nil
}

func (b *Browser) visible(ctx context.Context, locator string) error {
	el, err := b.find(ctx, locator)
	if err != nil {
		return err
	}
	shown, err := el.Displayed()
	if err != nil {
		return err
	}
	if !shown {
		return fmt.Errorf("expected %s to be visible", locator)
	}
	return nil
}

func (b *Browser) waitVisible(ctx context.Context, locator string) error {
	d, err := b.driver(ctx)
	if err != nil {
		return err
	}
	l := browser.ParseLocator(b.expand(locator))

	ctx, cancel := context.WithTimeout(ctx, b.explicitWait)
	defer cancel()
	ticker := time.NewTicker(b.poll)
	defer ticker.Stop()

	for {
		if el, err := d.FindElement(l.By, l.Value); err == nil {
			if shown, err := el.Displayed(); err == nil && shown {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%s not visible after %s: %w", l, b.explicitWait, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (b *Browser) textContains(ctx context.Context, locator, want string) error {
	el, err := b.find(ctx, locator)
	if err != nil {
		return err
	}
	text, err := el.Text()
	if err != nil {
		return err
	}
	if want = b.expand(want); !strings.Contains(text, want) {
		return fmt.Errorf("expected %s to contain %q, got %q", locator, want, text)
	}
	return nil
}

func (b *Browser) attributeIs(ctx context.Context, locator, name, want string) error {
	el, err := b.find(ctx, locator)
	if err != nil {
		return err
	}
	got, err := el.Attribute(name)
	if err != nil {
		return err
	}
	if want = b.expand(want); got != want {
		return fmt.Errorf("expected %s attribute %s to be %q, got %q", locator, name, want, got)
	}
	return nil
}

func (b *Browser) count(ctx context.Context, want int, locator string) error {
	d, err := b.driver(ctx)
	if err != nil {
		return err
	}
	l := browser.ParseLocator(b.expand(locator))
	els, err := d.FindElements(l.By, l.Value)
	if err != nil {
		return err
	}
	if len(els) != want {
		return fmt.Errorf("expected %d elements matching %s, got %d", want, l, len(els))
	}
	return nil
}

func (b *Browser) sourceContains(ctx context.Context, want string) error {
	d, err := b.driver(ctx)
	if err != nil {
		return err
	}
	src, err := d.PageSource()
	if err != nil {
		return err
	}
	if want = b.expand(want); !strings.Contains(src, want) {
		return fmt.Errorf("expected page to contain %q", want)
	}
	return nil
}

func (b *Browser) screenshot(ctx context.Context, name string) error {
	if b.shots == nil {
		return fmt.Errorf("screenshots are not stored in this run")
	}
	d, err := b.driver(ctx)
	if err != nil {
		return err
	}
	png, err := d.Screenshot()
	if err != nil {
		return fmt.Errorf("taking screenshot: %w", err)
	}
	path, err := b.shots.SaveScreenshot(b.expand(name), png)
	if err != nil {
		return err
	}
	log.Info().Str("path", path).Msg("screenshot saved")
	return nil
}
