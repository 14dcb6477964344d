package steps

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/magiconair/properties"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomatool/driverpool/internal/browser"
	"github.com/tomatool/driverpool/internal/browser/browsertest"
	"github.com/tomatool/driverpool/internal/config"
)

type staticHandles struct {
	d   browser.Driver
	err error
}

func (s staticHandles) Handle(context.Context) (browser.Driver, error) {
	return s.d, s.err
}

type memorySink struct {
	saved map[string][]byte
}

func (m *memorySink) SaveScreenshot(name string, png []byte) (string, error) {
	if m.saved == nil {
		m.saved = make(map[string][]byte)
	}
	m.saved[name] = png
	return "/runs/" + name + ".png", nil
}

const home = "https://www.spicejet.com/"

func setup(t *testing.T) (*Browser, *browsertest.Driver, *memorySink) {
	t.Helper()

	d := browsertest.NewDriver(browser.Options{Kind: browser.Chrome})
	from := browsertest.NewElement("")
	from.Attributes["placeholder"] = "From"
	hidden := browsertest.NewElement("promo")
	hidden.Visible = false
	d.Pages[home] = &browsertest.Page{
		Title:  "SpiceJet - Flight Booking",
		Source: "<html><body>Book now</body></html>",
		Elements: map[string][]*browsertest.Element{
			"input[placeholder*='From']":    {from},
			"//div[text()='Search Flight']": {browsertest.NewElement("Search Flight")},
			".fare":                         {browsertest.NewElement(" 4,999 ")},
			".card":                         {browsertest.NewElement("a"), browsertest.NewElement("b")},
			"#promo":                        {hidden},
			"h1":                            {browsertest.NewElement("Welcome aboard")},
		},
	}

	props := properties.MustLoadString("spicejet.url=" + home + "\nspicejet.from.city=Delhi\n")
	sink := &memorySink{}
	b := NewBrowser(staticHandles{d: d}, config.NewStore(props, nil, nil), sink)

	require.NoError(t, b.open(context.Background(), "${spicejet.url}"))
	return b, d, sink
}

func element(d *browsertest.Driver, value string) *browsertest.Element {
	return d.Pages[home].Elements[value][0]
}

func TestBrowser_StepExamplesMatchPatterns(t *testing.T) {
	b := NewBrowser(staticHandles{}, nil, nil)

	for _, step := range b.Steps().Steps {
		t.Run(step.Pattern, func(t *testing.T) {
			re, err := regexp.Compile(step.Pattern)
			require.NoError(t, err)
			assert.Regexp(t, re, step.Example)
			assert.NotNil(t, step.Handler)
			assert.NotEmpty(t, step.Group)
		})
	}
}

func TestBrowser_Open(t *testing.T) {
	b, d, _ := setup(t)
	ctx := context.Background()

	current, _ := d.CurrentURL()
	assert.Equal(t, home, current)

	err := b.open(ctx, "https://unknown.test/")
	assert.Error(t, err)
}

func TestBrowser_Interaction(t *testing.T) {
	b, d, _ := setup(t)
	ctx := context.Background()

	require.NoError(t, b.typeInto(ctx, "${spicejet.from.city}", "input[placeholder*='From']"))
	assert.Equal(t, "Delhi", element(d, "input[placeholder*='From']").Value)

	require.NoError(t, b.clear(ctx, "input[placeholder*='From']"))
	assert.Equal(t, "", element(d, "input[placeholder*='From']").Value)

	require.NoError(t, b.click(ctx, "xpath=//div[text()='Search Flight']"))
	assert.Equal(t, 1, element(d, "//div[text()='Search Flight']").Clicks)

	err := b.click(ctx, "#missing")
	assert.ErrorIs(t, err, browser.ErrElementNotFound)
}

func TestBrowser_Fallback(t *testing.T) {
	b, d, _ := setup(t)
	ctx := context.Background()

	require.NoError(t, b.clickEither(ctx, "#search-button", "//div[text()='Search Flight']"))
	assert.Equal(t, 1, element(d, "//div[text()='Search Flight']").Clicks)

	require.NoError(t, b.typeIntoEither(ctx, "Mumbai", "#from", "input[placeholder*='From']"))
	assert.Equal(t, "Mumbai", element(d, "input[placeholder*='From']").Value)

	err := b.clickEither(ctx, "#a", "#b")
	require.ErrorIs(t, err, browser.ErrElementNotFound)
	assert.Contains(t, err.Error(), "#a")
	assert.Contains(t, err.Error(), "#b")
}

func TestBrowser_Assertions(t *testing.T) {
	b, _, _ := setup(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		run     func() error
		wantErr bool
	}{
		{"title is", func() error { return b.titleIs(ctx, "SpiceJet - Flight Booking") }, false},
		{"title is wrong", func() error { return b.titleIs(ctx, "IndiGo") }, true},
		{"title contains", func() error { return b.titleContains(ctx, "Flight") }, false},
		{"title does not contain", func() error { return b.titleContains(ctx, "Hotel") }, true},
		{"url contains", func() error { return b.urlContains(ctx, "spicejet.com") }, false},
		{"url does not contain", func() error { return b.urlContains(ctx, "/search") }, true},
		{"visible", func() error { return b.visible(ctx, "h1") }, false},
		{"hidden", func() error { return b.visible(ctx, "#promo") }, true},
		{"text contains", func() error { return b.textContains(ctx, "h1", "Welcome") }, false},
		{"text does not contain", func() error { return b.textContains(ctx, "h1", "Goodbye") }, true},
		{"attribute", func() error { return b.attributeIs(ctx, "input[placeholder*='From']", "placeholder", "From") }, false},
		{"attribute mismatch", func() error { return b.attributeIs(ctx, "input[placeholder*='From']", "placeholder", "To") }, true},
		{"count", func() error { return b.count(ctx, 2, ".card") }, false},
		{"count zero", func() error { return b.count(ctx, 0, ".missing") }, false},
		{"count mismatch", func() error { return b.count(ctx, 3, ".card") }, true},
		{"source contains", func() error { return b.sourceContains(ctx, "Book now") }, false},
		{"source does not contain", func() error { return b.sourceContains(ctx, "Sold out") }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.run()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestBrowser_WaitVisible(t *testing.T) {
	ctx := context.Background()

	t.Run("defaults to explicit.wait", func(t *testing.T) {
		b := NewBrowser(staticHandles{}, nil, nil)
		assert.Equal(t, config.DefaultExplicitWait*time.Second, b.explicitWait)

		props := properties.MustLoadString("explicit.wait=3\n")
		b = NewBrowser(staticHandles{}, config.NewStore(props, nil, nil), nil)
		assert.Equal(t, 3*time.Second, b.explicitWait)
	})

	t.Run("already visible", func(t *testing.T) {
		b, _, _ := setup(t)
		assert.NoError(t, b.waitVisible(ctx, "h1"))
	})

	t.Run("becomes visible", func(t *testing.T) {
		b, d, _ := setup(t)
		b.explicitWait, b.poll = 2*time.Second, 5*time.Millisecond

		go func() {
			time.Sleep(30 * time.Millisecond)
			element(d, "#promo").SetVisible(true)
		}()
		assert.NoError(t, b.waitVisible(ctx, "#promo"))
	})

	t.Run("attached later", func(t *testing.T) {
		b, d, _ := setup(t)
		b.explicitWait, b.poll = 2*time.Second, 5*time.Millisecond

		go func() {
			time.Sleep(30 * time.Millisecond)
			d.AddElement(home, ".results", browsertest.NewElement("3 flights"))
		}()
		assert.NoError(t, b.waitVisible(ctx, ".results"))
	})

	t.Run("times out", func(t *testing.T) {
		b, _, _ := setup(t)
		b.explicitWait, b.poll = 50*time.Millisecond, 5*time.Millisecond

		start := time.Now()
		err := b.waitVisible(ctx, "#promo")
		require.Error(t, err)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Contains(t, err.Error(), "#promo")
		assert.Less(t, time.Since(start), time.Second)
	})

	t.Run("canceled scenario", func(t *testing.T) {
		b, _, _ := setup(t)
		b.poll = 5 * time.Millisecond

		cctx, cancel := context.WithCancel(ctx)
		cancel()
		assert.ErrorIs(t, b.waitVisible(cctx, "#missing"), context.Canceled)
	})
}

func TestBrowser_Remember(t *testing.T) {
	b, _, _ := setup(t)
	ctx := context.Background()

	require.NoError(t, b.remember(ctx, ".fare", "fare"))
	v, ok := b.Variables().Get("fare")
	require.True(t, ok)
	assert.Equal(t, "4,999", v)

	assert.NoError(t, b.textContains(ctx, ".fare", "{{fare}}"))
}

func TestBrowser_Screenshot(t *testing.T) {
	b, _, sink := setup(t)

	require.NoError(t, b.screenshot(context.Background(), "home page"))
	assert.Contains(t, sink.saved, "home page")

	noSink := NewBrowser(staticHandles{d: browsertest.NewDriver(browser.Options{Kind: browser.Chrome})}, nil, nil)
	assert.Error(t, noSink.screenshot(context.Background(), "x"))
}

func TestBrowser_HandleError(t *testing.T) {
	cause := errors.New("grid unreachable")
	b := NewBrowser(staticHandles{err: cause}, nil, nil)

	err := b.open(context.Background(), home)
	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, b.click(context.Background(), "#x"), cause)
}

func TestCatalog(t *testing.T) {
	b := NewBrowser(staticHandles{}, nil, nil)
	c := NewCatalog(b)

	require.Len(t, c.Categories(), 1)
	assert.Equal(t, "Browser", c.Categories()[0].Name)
	assert.Len(t, c.AllSteps(), len(b.Steps().Steps))
}
