package command

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/tomatool/driverpool/internal/config"
)

var configCommand = &cli.Command{
	Name:  "config",
	Usage: "Print the resolved registry configuration",
	Description: `Loads the property files listed by the suite file, applies environment
(DRIVERPOOL_*) and --set overrides, and prints the values the driver registry
would be built from together with the layer each value comes from.`,
	Flags: []cli.Flag{
		configFlag,
		setFlag,
		&cli.BoolFlag{
			Name:  "plain",
			Usage: "disable colors (for CI)",
		},
		&cli.BoolFlag{
			Name:  "yaml",
			Usage: "print the snapshot as YAML",
		},
	},
	Action: func(c *cli.Context) error {
		cfg, err := loadSuite(c.String("config"))
		if err != nil {
			return err
		}
		props, err := overrides(cfg, c.StringSlice("set"))
		if err != nil {
			return err
		}
		store, err := config.LoadStore(cfg.Properties.Files, cfg.Properties.TestData, props)
		if err != nil {
			return err
		}

		if c.Bool("yaml") {
			enc := yaml.NewEncoder(c.App.Writer)
			defer enc.Close()
			return enc.Encode(store.Snapshot().Redacted())
		}
		printConfig(c.App.Writer, store, cfg.Properties, c.Bool("plain"))
		return nil
	},
}

var registryKeys = []string{
	config.KeyBrowser,
	config.KeyHeadless,
	config.KeyRemoteExecution,
	config.KeyGridURL,
	config.KeyImplicitWait,
	config.KeyExplicitWait,
	config.KeyPageLoadTimeout,
}

func printConfig(w io.Writer, store *config.Store, sources config.PropertySources, plain bool) {
	snap := store.Snapshot().Redacted()
	values := map[string]string{
		config.KeyBrowser:         snap.Browser,
		config.KeyHeadless:        fmt.Sprint(snap.Headless),
		config.KeyRemoteExecution: fmt.Sprint(snap.RemoteExecution),
		config.KeyGridURL:         snap.GridURL,
		config.KeyImplicitWait:    snap.ImplicitWait.String(),
		config.KeyExplicitWait:    snap.ExplicitWait.String(),
		config.KeyPageLoadTimeout: snap.PageLoadTimeout.String(),
	}

	title, key, source, dim := lipgloss.NewStyle(), lipgloss.NewStyle(), lipgloss.NewStyle(), lipgloss.NewStyle()
	if !plain {
		title = titleStyle
		key = keyStyle
		source = sourceStyle
		dim = helpStyle
	}

	fmt.Fprintln(w, title.Render("Registry configuration"))
	fmt.Fprintln(w, dim.Render("files: "+strings.Join(sources.Files, ", ")))
	fmt.Fprintln(w, dim.Render("test data: "+strings.Join(sources.TestData, ", ")))
	fmt.Fprintln(w)

	for _, k := range registryKeys {
		fmt.Fprintf(w, "  %s %s %s\n",
			key.Render(fmt.Sprintf("%-18s", k)),
			values[k],
			source.Render("("+store.Source(k)+")"))
	}

	var extra []string
	known := make(map[string]bool, len(registryKeys))
	for _, k := range registryKeys {
		known[k] = true
	}
	for _, k := range store.Keys() {
		if !known[k] {
			extra = append(extra, k)
		}
	}
	if len(extra) == 0 {
		return
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, title.Render("Other properties"))
	for _, k := range extra {
		v, _ := store.Lookup(k)
		if secret(k) {
			v = "xxxxx"
		}
		fmt.Fprintf(w, "  %s %s %s\n", key.Render(k), v, source.Render("("+store.Source(k)+")"))
	}
}

func secret(key string) bool {
	k := strings.ToLower(key)
	for _, suffix := range []string{"accesskey", "password", "token"} {
		if strings.HasSuffix(k, suffix) {
			return true
		}
	}
	return false
}
