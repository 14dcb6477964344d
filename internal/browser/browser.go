// Package browser defines the driver abstraction the registry hands out to
// workers. Concrete engines live in the local (Playwright) and remote
// (Selenium Grid) subpackages.
package browser

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrUnsupportedBrowser is returned when a browser kind is not one of the
// supported kinds.
var ErrUnsupportedBrowser = errors.New("unsupported browser")

// Kind identifies a browser family.
type Kind string

const (
	Chrome  Kind = "chrome"
	Firefox Kind = "firefox"
	Edge    Kind = "edge"
)

// Kinds returns all supported browser kinds.
func Kinds() []Kind {
	return []Kind{Chrome, Firefox, Edge}
}

// ParseKind parses a browser name case-insensitively.
func ParseKind(name string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(name))) {
	case Chrome:
		return Chrome, nil
	case Firefox:
		return Firefox, nil
	case Edge:
		return Edge, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedBrowser, name)
	}
}

func (k Kind) String() string { return string(k) }

// Options configures a new browser session.
type Options struct {
	// Kind selects the browser family
	Kind Kind

	// Headless launches the browser without a visible window
	Headless bool
}

// By is an element locator strategy.
type By string

const (
	ByCSS   By = "css selector"
	ByXPath By = "xpath"
	ByID    By = "id"
)

// Locator pairs a strategy with its value.
type Locator struct {
	By    By
	Value string
}

func (l Locator) String() string {
	return fmt.Sprintf("%s=%s", l.By, l.Value)
}

// CSS returns a CSS selector locator.
func CSS(selector string) Locator { return Locator{By: ByCSS, Value: selector} }

// XPath returns an XPath locator.
func XPath(expr string) Locator { return Locator{By: ByXPath, Value: expr} }

// ID returns an element id locator.
func ID(id string) Locator { return Locator{By: ByID, Value: id} }

// Driver is a live browser session owned by a single worker.
type Driver interface {
	// Navigate loads url in the current window
	Navigate(url string) error

	// FindElement returns the first matching element, waiting up to the
	// implicit wait for it to appear
	FindElement(by By, value string) (Element, error)

	// FindElements returns all matching elements; no match is not an error
	FindElements(by By, value string) ([]Element, error)

	Title() (string, error)
	CurrentURL() (string, error)
	PageSource() (string, error)

	SetImplicitWait(d time.Duration) error
	SetPageLoadTimeout(d time.Duration) error
	MaximizeWindow() error

	// Screenshot returns a PNG of the current viewport
	Screenshot() ([]byte, error)

	Kind() Kind
	Headless() bool
	SessionID() string

	// Quit ends the session and releases the browser process
	Quit() error
}

// Element is a located DOM element.
type Element interface {
	Click() error
	SendKeys(text string) error
	Clear() error
	Text() (string, error)
	Displayed() (bool, error)
	Attribute(name string) (string, error)
}

// ParseLocator reads a locator written in a feature file. Values may carry a
// strategy prefix (css=, xpath=, id=); unprefixed values starting with "/" or
// "(" are XPath, everything else is CSS.
func ParseLocator(s string) Locator {
	s = strings.TrimSpace(s)
	if strategy, value, ok := strings.Cut(s, "="); ok {
		switch strings.ToLower(strategy) {
		case "css":
			return CSS(value)
		case "xpath":
			return XPath(value)
		case "id":
			return ID(value)
		}
	}
	if strings.HasPrefix(s, "/") || strings.HasPrefix(s, "(") {
		return XPath(s)
	}
	return CSS(s)
}
