package command

import (
	"encoding/json"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/tomatool/driverpool/internal/version"
)

var versionCommand = &cli.Command{
	Name:  "version",
	Usage: "Print version information",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "json",
			Usage: "output in JSON format",
		},
	},
	Action: func(c *cli.Context) error {
		if c.Bool("json") {
			return json.NewEncoder(c.App.Writer).Encode(version.Info())
		}
		fmt.Fprintln(c.App.Writer, version.String())
		return nil
	},
}
