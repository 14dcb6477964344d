// Package browsertest provides in-memory browser drivers for tests.
package browsertest

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tomatool/driverpool/internal/browser"
)

var sessionSeq atomic.Int64

// Page is the fake content served for a URL.
type Page struct {
	Title    string
	Source   string
	Elements map[string][]*Element // keyed by locator value
}

// Driver is a fake browser.Driver backed by a map of pages.
type Driver struct {
	mu sync.Mutex

	id       string
	kind     browser.Kind
	headless bool

	Pages   map[string]*Page
	current string

	ImplicitWait    time.Duration
	PageLoadTimeout time.Duration
	Maximized       bool

	QuitErr   error
	quitCalls int
}

// NewDriver returns a fake driver for the given options.
func NewDriver(opts browser.Options) *Driver {
	return &Driver{
		id:       fmt.Sprintf("fake-%d", sessionSeq.Add(1)),
		kind:     opts.Kind,
		headless: opts.Headless,
		Pages:    make(map[string]*Page),
		current:  "about:blank",
	}
}

func (d *Driver) Navigate(url string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.quitCalls > 0 {
		return errors.New("session closed")
	}
	if _, ok := d.Pages[url]; !ok {
		return fmt.Errorf("navigating to %s: no such page", url)
	}
	d.current = url
	return nil
}

func (d *Driver) page() *Page {
	if p, ok := d.Pages[d.current]; ok {
		return p
	}
	return &Page{}
}

func (d *Driver) FindElement(by browser.By, value string) (browser.Element, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	els := d.page().Elements[value]
	if len(els) == 0 {
		return nil, fmt.Errorf("no such element: %s=%s", by, value)
	}
	return els[0], nil
}

// AddElement adds an element to the page at url, creating the page if
// needed. It is safe to call while steps are running.
func (d *Driver) AddElement(url, value string, el *Element) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.Pages[url]
	if !ok {
		p = &Page{}
		d.Pages[url] = p
	}
	if p.Elements == nil {
		p.Elements = make(map[string][]*Element)
	}
	p.Elements[value] = append(p.Elements[value], el)
}

func (d *Driver) FindElements(by browser.By, value string) ([]browser.Element, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	els := d.page().Elements[value]
	out := make([]browser.Element, 0, len(els))
	for _, e := range els {
		out = append(out, e)
	}
	return out, nil
}

func (d *Driver) Title() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.page().Title, nil
}

func (d *Driver) CurrentURL() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current, nil
}

func (d *Driver) PageSource() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.page().Source, nil
}

func (d *Driver) SetImplicitWait(t time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ImplicitWait = t
	return nil
}

func (d *Driver) SetPageLoadTimeout(t time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.PageLoadTimeout = t
	return nil
}

func (d *Driver) MaximizeWindow() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Maximized = true
	return nil
}

func (d *Driver) Screenshot() ([]byte, error) {
	return []byte("\x89PNG\r\n\x1a\n"), nil
}

func (d *Driver) Kind() browser.Kind { return d.kind }
func (d *Driver) Headless() bool     { return d.headless }
func (d *Driver) SessionID() string  { return d.id }

func (d *Driver) Quit() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.quitCalls++
	return d.QuitErr
}

// QuitCalls reports how many times Quit was called.
func (d *Driver) QuitCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.quitCalls
}

// Element is a fake browser.Element.
type Element struct {
	mu sync.Mutex

	Value      string
	Visible    bool
	Attributes map[string]string
	Clicks     int
}

// NewElement returns a visible element with the given text.
func NewElement(text string) *Element {
	return &Element{Value: text, Visible: true, Attributes: map[string]string{}}
}

func (e *Element) Click() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Clicks++
	return nil
}

func (e *Element) SendKeys(text string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Value += text
	return nil
}

func (e *Element) Clear() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Value = ""
	return nil
}

func (e *Element) Text() (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return strings.TrimSpace(e.Value), nil
}

func (e *Element) Displayed() (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Visible, nil
}

// SetVisible changes what Displayed reports.
func (e *Element) SetVisible(v bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Visible = v
}

func (e *Element) Attribute(name string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Attributes[name], nil
}
