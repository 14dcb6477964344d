package steps

import (
	"crypto/rand"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Variables holds values remembered during one scenario.
type Variables struct {
	mu        sync.RWMutex
	values    map[string]string
	sequences map[string]int
}

// NewVariables creates an empty variable store
func NewVariables() *Variables {
	return &Variables{
		values:    make(map[string]string),
		sequences: make(map[string]int),
	}
}

func (v *Variables) Set(key, value string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.values[key] = value
}

func (v *Variables) Get(key string) (string, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	val, ok := v.values[key]
	return val, ok
}

var placeholder = regexp.MustCompile(`\{\{([^}]+)\}\}`)

// Replace substitutes {{name}} placeholders with remembered values or
// generated ones:
//   - {{uuid}} random UUID v4
//   - {{timestamp}} current RFC 3339 time, {{timestamp:unix}} in seconds
//   - {{random:N}} / {{random:N:numeric}} random string of length N
//   - {{sequence:name}} per-scenario counter
//
// Unknown placeholders are left as is.
func (v *Variables) Replace(input string) string {
	return placeholder.ReplaceAllStringFunc(input, func(match string) string {
		name := match[2 : len(match)-2]

		if generated, ok := v.generate(name); ok {
			return generated
		}
		if val, ok := v.Get(name); ok {
			return val
		}
		return match
	})
}

func (v *Variables) generate(name string) (string, bool) {
	switch {
	case name == "uuid":
		return uuid.New().String(), true
	case name == "timestamp":
		return time.Now().UTC().Format(time.RFC3339), true
	case name == "timestamp:unix":
		return strconv.FormatInt(time.Now().Unix(), 10), true
	case strings.HasPrefix(name, "random:"):
		return randomString(strings.Split(name, ":")[1:])
	case strings.HasPrefix(name, "sequence:"):
		v.mu.Lock()
		defer v.mu.Unlock()
		seq := strings.TrimPrefix(name, "sequence:")
		v.sequences[seq]++
		return strconv.Itoa(v.sequences[seq]), true
	default:
		return "", false
	}
}

const (
	alphanumeric = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	numeric      = "0123456789"
)

// randomString handles random:N and random:N:numeric
func randomString(args []string) (string, bool) {
	length, err := strconv.Atoi(args[0])
	if err != nil || length <= 0 {
		return "", false
	}

	charset := alphanumeric
	if len(args) > 1 && args[1] == "numeric" {
		charset = numeric
	}

	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", false
	}
	for i := range buf {
		buf[i] = charset[int(buf[i])%len(charset)]
	}
	return string(buf), true
}
