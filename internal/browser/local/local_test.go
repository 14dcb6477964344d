package local

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tomatool/driverpool/internal/browser"
)

func TestSelector(t *testing.T) {
	tests := []struct {
		by      browser.By
		value   string
		want    string
		wantErr bool
	}{
		{browser.ByCSS, "#login", "css=#login", false},
		{browser.ByXPath, "//div[text()='From']", "xpath=//div[text()='From']", false},
		{browser.ByID, "user", `css=[id="user"]`, false},
		{browser.ByID, `a"b`, `css=[id="a\"b"]`, false},
		{browser.By("link text"), "x", "", true},
	}

	for _, tt := range tests {
		t.Run(string(tt.by)+"/"+tt.value, func(t *testing.T) {
			got, err := selector(tt.by, tt.value)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestLaunch_UnsupportedKind(t *testing.T) {
	l := New(Options{})

	_, err := l.Launch(context.Background(), browser.Options{Kind: "safari"})
	if !errors.Is(err, browser.ErrUnsupportedBrowser) {
		t.Fatalf("expected ErrUnsupportedBrowser, got %v", err)
	}
	if l.pw != nil {
		t.Error("playwright should not start for an unsupported browser")
	}
}

func TestLaunch_CanceledContext(t *testing.T) {
	l := New(Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := l.Launch(ctx, browser.Options{Kind: browser.Chrome})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestClose_NotStarted(t *testing.T) {
	if err := New(Options{}).Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestTimeoutMillis(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want float64
	}{
		{0, 1},
		{-time.Second, 1},
		{500 * time.Microsecond, 1},
		{time.Millisecond, 1},
		{10 * time.Second, 10000},
		{1500 * time.Millisecond, 1500},
	}

	for _, tt := range tests {
		t.Run(tt.in.String(), func(t *testing.T) {
			if got := timeoutMillis(tt.in); got != tt.want {
				t.Errorf("timeoutMillis(%s) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
