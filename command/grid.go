package command

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/tomatool/driverpool/internal/config"
)

var gridCommand = &cli.Command{
	Name:  "grid",
	Usage: "Start the suite's containers and keep them running",
	Description: `Starts every container of the suite file, prints the Selenium Grid URL
and blocks until interrupted. Point other runs at it with
--no-grid --set grid.url=<url> --set remote.execution=true.`,
	Flags: []cli.Flag{
		configFlag,
	},
	Action: func(c *cli.Context) error {
		cfg, err := loadSuite(c.String("config"))
		if err != nil {
			return err
		}
		if len(cfg.Containers) == 0 {
			return fmt.Errorf("no containers defined in %s", c.String("config"))
		}

		ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
		defer stop()

		props := map[string]string{}
		cm, err := startContainers(ctx, cfg, nil, props)
		if err != nil {
			return err
		}
		defer cm.Cleanup()

		cm.PrintConnectionInfo(ctx, c.App.Writer)
		if u, ok := props[config.KeyGridURL]; ok {
			fmt.Fprintf(c.App.Writer, "%s %s\n\n", titleStyle.Render("grid.url"), u)
		}
		fmt.Fprintln(c.App.Writer, helpStyle.Render("Press Ctrl+C to stop"))

		<-ctx.Done()
		log.Info().Msg("stopping containers")
		return nil
	},
}
