// Package steps provides the Gherkin step library that drives a scenario's
// browser handle.
package steps

import (
	"github.com/cucumber/godog"
)

// StepDef represents a structured step definition with metadata
type StepDef struct {
	// Group is the category within a library (e.g., "Navigation", "Assertions")
	Group string `json:"group,omitempty"`

	// Pattern is the regex pattern for matching Gherkin steps
	Pattern string `json:"pattern"`

	// Description explains what this step does
	Description string `json:"description"`

	// Example shows how to use this step in a feature file
	Example string `json:"example,omitempty"`

	// Handler is the function that implements the step
	Handler interface{} `json:"-"`
}

// StepCategory groups related steps together
type StepCategory struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Steps       []StepDef `json:"steps"`
}

// StepProvider is implemented by step libraries
type StepProvider interface {
	Steps() StepCategory
}

// Catalog holds the step categories of every library
type Catalog struct {
	categories []StepCategory
}

// NewCatalog builds a catalog from the given providers
func NewCatalog(providers ...StepProvider) *Catalog {
	c := &Catalog{}
	for _, p := range providers {
		c.categories = append(c.categories, p.Steps())
	}
	return c
}

// Categories returns all registered categories
func (c *Catalog) Categories() []StepCategory {
	return c.categories
}

// AllSteps returns all steps across all categories
func (c *Catalog) AllSteps() []StepDef {
	var all []StepDef
	for _, cat := range c.categories {
		all = append(all, cat.Steps...)
	}
	return all
}

// Register adds every step of the category to a godog scenario
func Register(sc *godog.ScenarioContext, category StepCategory) {
	for _, step := range category.Steps {
		sc.Step(step.Pattern, step.Handler)
	}
}
