package remote

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tomatool/driverpool/internal/browser"
)

func TestParseEndpoint(t *testing.T) {
	tests := []struct {
		raw     string
		wantErr bool
	}{
		{"http://localhost:4444", false},
		{"https://hub.example.com/wd/hub", false},
		{" http://grid:4444 ", false},
		{"not-a-url", true},
		{"localhost:4444", true},
		{"ftp://grid:21", true},
		{"http://", true},
		{"http://[::1", true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			u, err := ParseEndpoint(tt.raw)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidEndpoint) {
					t.Fatalf("expected ErrInvalidEndpoint, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if u.Host == "" {
				t.Error("expected host")
			}
		})
	}
}

func TestCapabilities(t *testing.T) {
	tests := []struct {
		opts        browser.Options
		browserName string
		optionsKey  string
	}{
		{browser.Options{Kind: browser.Chrome, Headless: true}, "chrome", "goog:chromeOptions"},
		{browser.Options{Kind: browser.Firefox, Headless: true}, "firefox", "moz:firefoxOptions"},
		{browser.Options{Kind: browser.Edge}, "MicrosoftEdge", "ms:edgeOptions"},
	}

	for _, tt := range tests {
		t.Run(tt.opts.Kind.String(), func(t *testing.T) {
			caps, err := Capabilities(tt.opts)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if caps["browserName"] != tt.browserName {
				t.Errorf("expected browserName %s, got %v", tt.browserName, caps["browserName"])
			}
			if _, ok := caps[tt.optionsKey]; !ok {
				t.Errorf("expected %s in capabilities", tt.optionsKey)
			}
		})
	}

	if _, err := Capabilities(browser.Options{Kind: "opera"}); !errors.Is(err, browser.ErrUnsupportedBrowser) {
		t.Fatalf("expected ErrUnsupportedBrowser, got %v", err)
	}
}

func gridServer(t *testing.T, status int, body string) *url.URL {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/status" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parsing server url: %v", err)
	}
	return u
}

func TestReady(t *testing.T) {
	l := New(nil)
	ctx := context.Background()

	t.Run("ready grid", func(t *testing.T) {
		u := gridServer(t, http.StatusOK, `{"value":{"ready":true,"message":"Selenium Grid ready."}}`)
		if err := l.Ready(ctx, u); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("grid not ready", func(t *testing.T) {
		u := gridServer(t, http.StatusOK, `{"value":{"ready":false,"message":"no nodes"}}`)
		if err := l.Ready(ctx, u); !errors.Is(err, ErrGridNotReady) {
			t.Fatalf("expected ErrGridNotReady, got %v", err)
		}
	})

	t.Run("server error", func(t *testing.T) {
		u := gridServer(t, http.StatusInternalServerError, `oops`)
		if err := l.Ready(ctx, u); !errors.Is(err, ErrGridNotReady) {
			t.Fatalf("expected ErrGridNotReady, got %v", err)
		}
	})

	t.Run("refused connection", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		addr := srv.URL
		srv.Close()

		u, _ := url.Parse(addr)
		if err := l.Ready(ctx, u); err == nil {
			t.Fatal("expected error for closed server")
		}
	})

	t.Run("deadline", func(t *testing.T) {
		block := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-block:
			case <-r.Context().Done():
			}
		}))
		defer srv.Close()
		defer close(block)

		u, _ := url.Parse(srv.URL)
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		if err := l.Ready(ctx, u); !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("expected deadline exceeded, got %v", err)
		}
	})
}

func TestConnect_UnsupportedKind(t *testing.T) {
	u, _ := url.Parse("http://localhost:4444")
	_, err := New(nil).Connect(context.Background(), u, browser.Options{Kind: "opera"})
	if !errors.Is(err, browser.ErrUnsupportedBrowser) {
		t.Fatalf("expected ErrUnsupportedBrowser, got %v", err)
	}
}

// stalledGrid reports ready on /status and holds every session request until
// the test ends.
func stalledGrid(t *testing.T) (*url.URL, *atomic.Int32) {
	t.Helper()
	release := make(chan struct{})
	var sessions atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/status" {
			w.Write([]byte(`{"value":{"ready":true,"message":"ready"}}`))
			return
		}
		sessions.Add(1)
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parsing server url: %v", err)
	}
	return u, &sessions
}

func TestConnect_SessionCreationHonorsDeadline(t *testing.T) {
	u, sessions := stalledGrid(t)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := New(nil).Connect(ctx, u, browser.Options{Kind: browser.Chrome, Headless: true})
		done <- err
	}()

	select {
	case err := <-done:
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("expected deadline exceeded, got %v", err)
		}
		if sessions.Load() == 0 {
			t.Error("expected the session request to reach the grid")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Connect still blocked 3s after a 200ms deadline")
	}
}
