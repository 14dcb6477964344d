// Package command implements the driverpool CLI.
package command

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/tomatool/driverpool/internal/version"
)

// Run executes the CLI with the given arguments
func Run(args []string) error {
	return NewApp(os.Stdout, os.Stderr).Run(args)
}

// NewApp builds the CLI application writing to stdout and stderr
func NewApp(stdout, stderr io.Writer) *cli.App {
	return &cli.App{
		Name:    "driverpool",
		Usage:   "Thread-safe WebDriver pool for behavioral browser suites",
		Version: version.Version,
		Description: `driverpool runs Gherkin browser suites. Each scenario gets its own
browser session from a process-wide registry configured by
config.properties and testdata.properties, locally through Playwright or
remotely on a Selenium Grid that driverpool can start for you.`,
		Writer:    stdout,
		ErrWriter: stderr,

		DisableSliceFlagSeparator: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "env.file",
				Aliases: []string{"e"},
				Usage:   "environment variable file path",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "info",
				Usage:   "log level (debug, info, warn, error)",
				EnvVars: []string{"DRIVERPOOL_LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:  "log-format",
				Value: "console",
				Usage: "log format (console, json)",
			},
		},
		Before: func(c *cli.Context) error {
			if err := setupLogging(stderr, c.String("log-level"), c.String("log-format")); err != nil {
				return err
			}
			if envFile := c.String("env.file"); envFile != "" {
				if err := godotenv.Load(envFile); err != nil {
					return fmt.Errorf("loading env file %s: %w", envFile, err)
				}
				log.Debug().Str("file", envFile).Msg("environment loaded")
			}
			return nil
		},
		Commands: []*cli.Command{
			initCommand,
			runCommand,
			configCommand,
			validateCommand,
			gridCommand,
			runsCommand,
			stepsCommand,
			uiCommand,
			versionCommand,
		},
	}
}

func setupLogging(w io.Writer, level, format string) error {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zerolog.SetGlobalLevel(lvl)

	switch format {
	case "json":
		log.Logger = zerolog.New(w).With().Timestamp().Logger()
	case "console", "":
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen})
	default:
		return fmt.Errorf("invalid log format %q", format)
	}
	return nil
}
