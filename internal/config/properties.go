package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/magiconair/properties"
	"github.com/rs/zerolog/log"
)

// Property files read when the suite file does not list any.
const (
	DefaultPropertiesFile  = "config.properties"
	TestDataPropertiesFile = "testdata.properties"
)

// Recognized registry keys.
const (
	KeyBrowser         = "browser"
	KeyHeadless        = "headless"
	KeyRemoteExecution = "remote.execution"
	KeyGridURL         = "grid.url"
	KeyImplicitWait    = "implicit.wait"
	KeyExplicitWait    = "explicit.wait"
	KeyPageLoadTimeout = "page.load.timeout"

	// KeyGridProvider selects a cloud grid (lambdatest, browserstack) whose
	// endpoint and credentials replace grid.url.
	KeyGridProvider = "grid.provider"
)

// Defaults for the registry keys.
const (
	DefaultBrowser         = "chrome"
	DefaultGridURL         = "http://localhost:4444"
	DefaultImplicitWait    = 10 // seconds
	DefaultExplicitWait    = 20 // seconds
	DefaultPageLoadTimeout = 30 // seconds
)

type cloudGrid struct {
	urlKey     string
	defaultURL string
}

var cloudGrids = map[string]cloudGrid{
	"lambdatest":   {urlKey: "lambdatest.grid.url", defaultURL: "https://hub.lambdatest.com/wd/hub"},
	"browserstack": {urlKey: "browserstack.url", defaultURL: "https://hub-cloud.browserstack.com/wd/hub"},
}

// EnvPrefix prefixes environment overrides: remote.execution is read from
// DRIVERPOOL_REMOTE_EXECUTION.
const EnvPrefix = "DRIVERPOOL_"

// EnvName returns the environment variable that overrides key.
func EnvName(key string) string {
	r := strings.NewReplacer(".", "_", "-", "_")
	return EnvPrefix + strings.ToUpper(r.Replace(key))
}

// Snapshot is the immutable browser configuration captured when the registry
// is constructed.
type Snapshot struct {
	Browser         string        `json:"browser" yaml:"browser"`
	Headless        bool          `json:"headless" yaml:"headless"`
	RemoteExecution bool          `json:"remote_execution" yaml:"remote_execution"`
	GridURL         string        `json:"grid_url" yaml:"grid_url"`
	ImplicitWait    time.Duration `json:"implicit_wait" yaml:"implicit_wait"`
	ExplicitWait    time.Duration `json:"explicit_wait" yaml:"explicit_wait"`
	PageLoadTimeout time.Duration `json:"page_load_timeout" yaml:"page_load_timeout"`
}

// Redacted returns a copy safe to print: grid credentials are masked.
func (s Snapshot) Redacted() Snapshot {
	s.GridURL = RedactURL(s.GridURL)
	return s
}

// RedactURL masks the password of a URL. Unparseable input is returned as is.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return u.Redacted()
}

// DefaultSnapshot returns the snapshot produced by an empty store.
func DefaultSnapshot() Snapshot {
	return Snapshot{
		Browser:         DefaultBrowser,
		GridURL:         DefaultGridURL,
		ImplicitWait:    DefaultImplicitWait * time.Second,
		ExplicitWait:    DefaultExplicitWait * time.Second,
		PageLoadTimeout: DefaultPageLoadTimeout * time.Second,
	}
}

// Store is a layered key/value property store. Lookups consult explicit
// overrides, then the environment, then the loaded property files. Test data
// is kept in its own layer: it feeds TestData and Expand but never the
// registry snapshot.
type Store struct {
	props     *properties.Properties
	data      *properties.Properties
	overrides map[string]string
	lookupEnv func(string) (string, bool)
}

// NewStore builds a store over already loaded properties. A nil lookupEnv
// disables environment overrides.
func NewStore(props *properties.Properties, overrides map[string]string, lookupEnv func(string) (string, bool)) *Store {
	if props == nil {
		props = properties.NewProperties()
	}
	if lookupEnv == nil {
		lookupEnv = func(string) (string, bool) { return "", false }
	}
	o := make(map[string]string, len(overrides))
	for k, v := range overrides {
		o[k] = v
	}
	return &Store{props: props, data: properties.NewProperties(), overrides: o, lookupEnv: lookupEnv}
}

// WithTestData returns a copy of s using data as its test-data layer.
func (s *Store) WithTestData(data *properties.Properties) *Store {
	if data == nil {
		data = properties.NewProperties()
	}
	c := *s
	c.data = data
	return &c
}

// LoadStore reads the configuration files and the test-data files, each list
// in order with later files winning. Missing files are skipped with a
// warning.
func LoadStore(files, testData []string, overrides map[string]string) (*Store, error) {
	props, err := loadFiles(files)
	if err != nil {
		return nil, err
	}
	data, err := loadFiles(testData)
	if err != nil {
		return nil, err
	}
	return NewStore(props, overrides, os.LookupEnv).WithTestData(data), nil
}

func loadFiles(paths []string) (*properties.Properties, error) {
	props := properties.NewProperties()

	for _, path := range paths {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			log.Warn().Str("file", path).Msg("property file not found, using defaults")
			continue
		}

		loaded, err := properties.LoadFile(path, properties.UTF8)
		if err != nil {
			return nil, fmt.Errorf("loading properties %s: %w", path, err)
		}
		props.Merge(loaded)
		log.Debug().Str("file", path).Int("keys", loaded.Len()).Msg("property file loaded")
	}
	return props, nil
}

// ParseOverrides parses key=value pairs as given on the command line.
func ParseOverrides(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid override %q (expected key=value)", pair)
		}
		out[key] = strings.TrimSpace(value)
	}
	return out, nil
}

// Get returns the effective value for key and where it came from.
func (s *Store) Get(key string) (string, bool) {
	if v, ok := s.overrides[key]; ok && v != "" {
		return v, true
	}
	if v, ok := s.lookupEnv(EnvName(key)); ok && v != "" {
		return v, true
	}
	return s.props.Get(key)
}

// TestData returns a test-data value. Overrides and the environment still
// win over the test-data files.
func (s *Store) TestData(key string) (string, bool) {
	if v, ok := s.overrides[key]; ok && v != "" {
		return v, true
	}
	if v, ok := s.lookupEnv(EnvName(key)); ok && v != "" {
		return v, true
	}
	return s.data.Get(key)
}

// Lookup resolves key against the configuration first and the test data
// second.
func (s *Store) Lookup(key string) (string, bool) {
	if v, ok := s.Get(key); ok {
		return v, true
	}
	return s.data.Get(key)
}

// Source reports which layer supplies key: override, env, file, testdata or
// default.
func (s *Store) Source(key string) string {
	if v, ok := s.overrides[key]; ok && v != "" {
		return "override"
	}
	if v, ok := s.lookupEnv(EnvName(key)); ok && v != "" {
		return "env"
	}
	if _, ok := s.props.Get(key); ok {
		return "file"
	}
	if _, ok := s.data.Get(key); ok {
		return "testdata"
	}
	return "default"
}

func (s *Store) String(key, def string) string {
	if v, ok := s.Get(key); ok {
		return v
	}
	return def
}

func (s *Store) Bool(key string, def bool) bool {
	v, ok := s.Get(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Bool("default", def).Msg("invalid boolean property, using default")
		return def
	}
	return b
}

func (s *Store) Int(key string, def int) int {
	v, ok := s.Get(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Int("default", def).Msg("invalid integer property, using default")
		return def
	}
	return n
}

// Seconds reads an integer number of seconds.
func (s *Store) Seconds(key string, def int) time.Duration {
	return time.Duration(s.Int(key, def)) * time.Second
}

// Keys returns every key known to the store, sorted.
func (s *Store) Keys() []string {
	seen := make(map[string]bool)
	for _, k := range s.props.Keys() {
		seen[k] = true
	}
	for _, k := range s.data.Keys() {
		seen[k] = true
	}
	for k := range s.overrides {
		seen[k] = true
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Snapshot reads the registry keys. Test data is never consulted.
func (s *Store) Snapshot() Snapshot {
	return Snapshot{
		Browser:         s.String(KeyBrowser, DefaultBrowser),
		Headless:        s.Bool(KeyHeadless, false),
		RemoteExecution: s.Bool(KeyRemoteExecution, false),
		GridURL:         s.gridURL(),
		ImplicitWait:    s.Seconds(KeyImplicitWait, DefaultImplicitWait),
		ExplicitWait:    s.Seconds(KeyExplicitWait, DefaultExplicitWait),
		PageLoadTimeout: s.Seconds(KeyPageLoadTimeout, DefaultPageLoadTimeout),
	}
}

// gridURL resolves grid.url, or the cloud grid endpoint with
// <provider>.username and <provider>.accesskey as credentials when
// grid.provider is set.
func (s *Store) gridURL() string {
	name := strings.ToLower(strings.TrimSpace(s.String(KeyGridProvider, "")))
	if name == "" {
		return s.String(KeyGridURL, DefaultGridURL)
	}
	grid, ok := cloudGrids[name]
	if !ok {
		log.Warn().Str("provider", name).Msg("unknown grid provider, using grid.url")
		return s.String(KeyGridURL, DefaultGridURL)
	}

	raw := s.String(grid.urlKey, grid.defaultURL)
	user := s.String(name+".username", "")
	if user == "" {
		log.Warn().Str("provider", name).Msg("grid provider without username")
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.User = url.UserPassword(user, s.String(name+".accesskey", ""))
	return u.String()
}

var referencePattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Expand replaces ${key} references with configuration or test-data values.
// Unknown keys are left untouched.
func (s *Store) Expand(text string) string {
	return referencePattern.ReplaceAllStringFunc(text, func(ref string) string {
		key := ref[2 : len(ref)-1]
		if v, ok := s.Lookup(key); ok {
			return v
		}
		return ref
	})
}
