// Package registry owns the process-wide driver registry. The registry is
// created once from a configuration snapshot and hands out one browser
// session per worker.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tomatool/driverpool/internal/browser"
	"github.com/tomatool/driverpool/internal/browser/launcher"
	"github.com/tomatool/driverpool/internal/browser/local"
	"github.com/tomatool/driverpool/internal/browser/remote"
	"github.com/tomatool/driverpool/internal/config"
)

// Launcher creates browser sessions.
type Launcher interface {
	Launch(ctx context.Context, opts browser.Options) (browser.Driver, error)
	Connect(ctx context.Context, endpoint *url.URL, opts browser.Options) (browser.Driver, error)
}

// Source supplies the configuration snapshot and launcher the registry is
// built from. It is called at most once per successful construction.
type Source func() (config.Snapshot, Launcher, error)

var (
	instance atomic.Pointer[Registry]
	mu       sync.Mutex
	source   Source = DefaultSource
)

// DefaultSource reads the default property files plus environment overrides
// and launches local browsers with Playwright.
func DefaultSource() (config.Snapshot, Launcher, error) {
	store, err := config.LoadStore([]string{config.DefaultPropertiesFile}, []string{config.TestDataPropertiesFile}, nil)
	if err != nil {
		return config.Snapshot{}, nil, err
	}
	return store.Snapshot(), launcher.New(local.Options{}), nil
}

// StoreSource builds a source over an already loaded property store.
func StoreSource(store *config.Store, l Launcher) Source {
	return func() (config.Snapshot, Launcher, error) {
		return store.Snapshot(), l, nil
	}
}

// SetSource installs the source used by the first call to Get.
func SetSource(src Source) error {
	mu.Lock()
	defer mu.Unlock()

	if instance.Load() != nil {
		return ErrAlreadyInitialized
	}
	if src == nil {
		src = DefaultSource
	}
	source = src
	return nil
}

// Get returns the process-wide registry, constructing it on first use.
func Get() (*Registry, error) {
	if r := instance.Load(); r != nil {
		return r, nil
	}

	mu.Lock()
	defer mu.Unlock()

	if r := instance.Load(); r != nil {
		return r, nil
	}

	snapshot, l, err := source()
	if err != nil {
		return nil, fmt.Errorf("loading registry configuration: %w", err)
	}

	r := newRegistry(snapshot, l)
	instance.Store(r)
	log.Info().
		Str("browser", snapshot.Browser).
		Bool("headless", snapshot.Headless).
		Bool("remote", snapshot.RemoteExecution).
		Msg("driver registry initialized")
	return r, nil
}

// Init constructs the registry directly from a snapshot. It fails with
// ErrAlreadyInitialized when a registry exists.
func Init(snapshot config.Snapshot, l Launcher) (*Registry, error) {
	mu.Lock()
	defer mu.Unlock()

	if instance.Load() != nil {
		return nil, ErrAlreadyInitialized
	}

	r := newRegistry(snapshot, l)
	instance.Store(r)
	return r, nil
}

// Registry hands out one browser session per worker.
type Registry struct {
	snapshot config.Snapshot
	launcher Launcher

	// WorkerID -> browser.Driver
	handles sync.Map
}

func newRegistry(snapshot config.Snapshot, l Launcher) *Registry {
	return &Registry{snapshot: snapshot, launcher: l}
}

// Snapshot returns the configuration the registry was built from.
func (r *Registry) Snapshot() config.Snapshot {
	return r.snapshot
}

// Handle returns the session owned by the worker in ctx, creating one when
// the worker has none.
func (r *Registry) Handle(ctx context.Context) (browser.Driver, error) {
	id, ok := WorkerFromContext(ctx)
	if !ok {
		return nil, ErrNoWorker
	}

	if d, ok := r.handles.Load(id); ok {
		return d.(browser.Driver), nil
	}

	d, err := r.create(ctx)
	if err != nil {
		return nil, err
	}

	if existing, loaded := r.handles.LoadOrStore(id, d); loaded {
		// Another call for the same worker won the race.
		quit(id, d)
		return existing.(browser.Driver), nil
	}

	log.Debug().
		Str("worker", string(id)).
		Str("session", d.SessionID()).
		Str("browser", d.Kind().String()).
		Msg("browser handle created")
	return d, nil
}

func (r *Registry) create(ctx context.Context) (browser.Driver, error) {
	kind, err := browser.ParseKind(r.snapshot.Browser)
	if err != nil {
		return nil, err
	}
	opts := browser.Options{Kind: kind, Headless: r.snapshot.Headless}

	var d browser.Driver
	if r.snapshot.RemoteExecution {
		d, err = r.connect(ctx, opts)
	} else {
		d, err = r.launcher.Launch(ctx, opts)
	}
	if err != nil {
		return nil, err
	}

	if err := r.configure(d); err != nil {
		if qerr := d.Quit(); qerr != nil {
			log.Warn().Err(qerr).Str("session", d.SessionID()).Msg("failed to quit misconfigured browser")
		}
		return nil, err
	}
	return d, nil
}

func (r *Registry) connect(ctx context.Context, opts browser.Options) (browser.Driver, error) {
	endpoint, err := remote.ParseEndpoint(r.snapshot.GridURL)
	if err != nil {
		return nil, &RemoteCreationError{Endpoint: config.RedactURL(r.snapshot.GridURL), Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, connectTimeout(r.snapshot.PageLoadTimeout))
	defer cancel()

	d, err := r.launcher.Connect(ctx, endpoint, opts)
	if err != nil {
		return nil, &RemoteCreationError{Endpoint: endpoint.Redacted(), Err: err}
	}
	return d, nil
}

// connectTimeout bounds remote session creation. A non-positive page-load
// timeout falls back to the default so a connection never waits forever.
func connectTimeout(pageLoad time.Duration) time.Duration {
	if pageLoad <= 0 {
		return config.DefaultPageLoadTimeout * time.Second
	}
	return pageLoad
}

func (r *Registry) configure(d browser.Driver) error {
	if err := d.SetImplicitWait(r.snapshot.ImplicitWait); err != nil {
		return fmt.Errorf("setting implicit wait: %w", err)
	}
	if err := d.SetPageLoadTimeout(r.snapshot.PageLoadTimeout); err != nil {
		return fmt.Errorf("setting page load timeout: %w", err)
	}
	if err := d.MaximizeWindow(); err != nil {
		return fmt.Errorf("maximizing window: %w", err)
	}
	return nil
}

// Release quits the session owned by the worker in ctx. Quit failures are
// logged; the worker's entry is removed either way.
func (r *Registry) Release(ctx context.Context) {
	id, ok := WorkerFromContext(ctx)
	if !ok {
		return
	}

	d, ok := r.handles.LoadAndDelete(id)
	if !ok {
		return
	}
	quit(id, d.(browser.Driver))
}

// ReleaseAll quits every registered session and clears the registry.
func (r *Registry) ReleaseAll() {
	released := 0
	r.handles.Range(func(key, _ any) bool {
		if d, ok := r.handles.LoadAndDelete(key); ok {
			quit(key.(WorkerID), d.(browser.Driver))
			released++
		}
		return true
	})
	if released > 0 {
		log.Info().Int("count", released).Msg("released all browser handles")
	}
}

// ActiveCount returns the number of workers holding a live session.
func (r *Registry) ActiveCount() int {
	n := 0
	r.handles.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

func quit(id WorkerID, d browser.Driver) {
	if err := d.Quit(); err != nil {
		log.Warn().
			Err(err).
			Str("worker", string(id)).
			Str("session", d.SessionID()).
			Msg("failed to quit browser")
		return
	}
	log.Debug().Str("worker", string(id)).Str("session", d.SessionID()).Msg("browser handle released")
}

// Clone always fails: there is only one registry.
func (r *Registry) Clone() (*Registry, error) {
	return nil, ErrCloneRejected
}

type serialized struct {
	Snapshot config.Snapshot `json:"snapshot"`
}

// MarshalBinary encodes the registry snapshot. Decode it with Restore.
func (r *Registry) MarshalBinary() ([]byte, error) {
	return json.Marshal(serialized{Snapshot: r.snapshot})
}

// UnmarshalBinary refuses to fill a registry value from encoded state.
func (r *Registry) UnmarshalBinary([]byte) error {
	return ErrCloneRejected
}

// Restore decodes data produced by MarshalBinary and resolves it to the
// canonical registry.
func Restore(data []byte) (*Registry, error) {
	var s serialized
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decoding registry: %w", err)
	}

	r, err := Get()
	if err != nil {
		return nil, err
	}
	if r.snapshot != s.Snapshot {
		log.Warn().Msg("restored registry state differs from the live registry, using the live registry")
	}
	return r, nil
}
