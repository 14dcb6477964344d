package remote

import (
	"fmt"
	"strings"
	"time"

	"github.com/tebeka/selenium"

	"github.com/tomatool/driverpool/internal/browser"
)

type driver struct {
	wd       selenium.WebDriver
	kind     browser.Kind
	headless bool
}

func (d *driver) Kind() browser.Kind { return d.kind }
func (d *driver) Headless() bool     { return d.headless }
func (d *driver) SessionID() string  { return d.wd.SessionID() }

func (d *driver) Navigate(url string) error {
	if err := d.wd.Get(url); err != nil {
		return fmt.Errorf("navigating to %s: %w", url, err)
	}
	return nil
}

func (d *driver) FindElement(by browser.By, value string) (browser.Element, error) {
	el, err := d.wd.FindElement(string(by), value)
	if err != nil {
		return nil, fmt.Errorf("finding %s=%s: %w", by, value, err)
	}
	return &element{el: el}, nil
}

func (d *driver) FindElements(by browser.By, value string) ([]browser.Element, error) {
	found, err := d.wd.FindElements(string(by), value)
	if err != nil {
		return nil, fmt.Errorf("finding %s=%s: %w", by, value, err)
	}
	els := make([]browser.Element, 0, len(found))
	for _, el := range found {
		els = append(els, &element{el: el})
	}
	return els, nil
}

func (d *driver) Title() (string, error)      { return d.wd.Title() }
func (d *driver) CurrentURL() (string, error) { return d.wd.CurrentURL() }
func (d *driver) PageSource() (string, error) { return d.wd.PageSource() }

func (d *driver) SetImplicitWait(t time.Duration) error {
	return d.wd.SetImplicitWaitTimeout(t)
}

func (d *driver) SetPageLoadTimeout(t time.Duration) error {
	return d.wd.SetPageLoadTimeout(t)
}

func (d *driver) MaximizeWindow() error {
	return d.wd.MaximizeWindow("")
}

func (d *driver) Screenshot() ([]byte, error) {
	return d.wd.Screenshot()
}

func (d *driver) Quit() error {
	return d.wd.Quit()
}

type element struct {
	el selenium.WebElement
}

func (e *element) Click() error               { return e.el.Click() }
func (e *element) SendKeys(text string) error { return e.el.SendKeys(text) }
func (e *element) Clear() error               { return e.el.Clear() }

func (e *element) Text() (string, error) {
	text, err := e.el.Text()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

func (e *element) Displayed() (bool, error) { return e.el.IsDisplayed() }

func (e *element) Attribute(name string) (string, error) {
	return e.el.GetAttribute(name)
}
