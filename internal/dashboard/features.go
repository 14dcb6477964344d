package dashboard

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	gherkin "github.com/cucumber/gherkin/go/v26"
	messages "github.com/cucumber/messages/go/v21"
)

// Feature is the JSON view of a parsed feature file
type Feature struct {
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Tags        []string   `json:"tags,omitempty"`
	FilePath    string     `json:"filePath"`
	Scenarios   []Scenario `json:"scenarios"`
}

type Scenario struct {
	Name      string   `json:"name"`
	Tags      []string `json:"tags,omitempty"`
	Steps     []Step   `json:"steps"`
	IsOutline bool     `json:"isOutline,omitempty"`
}

type Step struct {
	Keyword string `json:"keyword"`
	Text    string `json:"text"`
}

// LoadFeatures parses every .feature file below paths. Unreadable files are
// skipped.
func LoadFeatures(paths []string) []Feature {
	var features []Feature
	for _, path := range paths {
		files, err := FindFeatureFiles(path)
		if err != nil {
			continue
		}
		for _, file := range files {
			f, err := ParseFeatureFile(file)
			if err != nil || f == nil {
				continue
			}
			features = append(features, *f)
		}
	}
	return features
}

// FindFeatureFiles returns root itself if it is a feature file, or every
// feature file below it.
func FindFeatureFiles(root string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		if strings.HasSuffix(root, ".feature") {
			return []string{root}, nil
		}
		return nil, nil
	}

	var files []string
	err = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(path, ".feature") {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// ParseFeatureFile parses one feature file. It returns nil without error for
// a document that has no Feature.
func ParseFeatureFile(path string) (*Feature, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	doc, err := gherkin.ParseGherkinDocument(strings.NewReader(string(content)), (&messages.Incrementing{}).NewId)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if doc.Feature == nil {
		return nil, nil
	}

	f := &Feature{
		Name:        doc.Feature.Name,
		Description: strings.TrimSpace(doc.Feature.Description),
		Tags:        tagNames(doc.Feature.Tags),
		FilePath:    path,
	}

	for _, child := range doc.Feature.Children {
		if child.Scenario != nil {
			f.Scenarios = append(f.Scenarios, scenarioOf(child.Scenario))
		}
		if child.Rule != nil {
			for _, rc := range child.Rule.Children {
				if rc.Scenario != nil {
					f.Scenarios = append(f.Scenarios, scenarioOf(rc.Scenario))
				}
			}
		}
	}

	return f, nil
}

func scenarioOf(sc *messages.Scenario) Scenario {
	s := Scenario{
		Name:      sc.Name,
		Tags:      tagNames(sc.Tags),
		IsOutline: len(sc.Examples) > 0,
	}
	for _, step := range sc.Steps {
		s.Steps = append(s.Steps, Step{Keyword: strings.TrimSpace(step.Keyword), Text: step.Text})
	}
	return s
}

func tagNames(tags []*messages.Tag) []string {
	var names []string
	for _, t := range tags {
		names = append(names, t.Name)
	}
	return names
}
