package browser

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
)

// ErrElementNotFound is returned when no locator resolves to an element.
var ErrElementNotFound = errors.New("element not found")

// Find resolves a single locator.
func Find(d Driver, l Locator) (Element, error) {
	el, err := d.FindElement(l.By, l.Value)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrElementNotFound, l, err)
	}
	return el, nil
}

// FindWithFallback tries each locator in order and returns the first element
// found. Each lookup waits up to the driver's implicit wait.
func FindWithFallback(d Driver, locators ...Locator) (Element, error) {
	if len(locators) == 0 {
		return nil, fmt.Errorf("%w: no locators given", ErrElementNotFound)
	}

	tried := make([]string, 0, len(locators))
	for _, l := range locators {
		el, err := d.FindElement(l.By, l.Value)
		if err == nil {
			return el, nil
		}
		log.Debug().Err(err).Str("locator", l.String()).Msg("locator did not resolve")
		tried = append(tried, l.String())
	}

	return nil, fmt.Errorf("%w: tried %s", ErrElementNotFound, strings.Join(tried, ", "))
}
