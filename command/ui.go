package command

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/tomatool/driverpool/internal/dashboard"
)

var uiCommand = &cli.Command{
	Name:  "ui",
	Usage: "Web dashboard for stored runs and live run progress",
	Flags: []cli.Flag{
		configFlag,
		&cli.StringSliceFlag{
			Name:    "path",
			Aliases: []string{"p"},
			Usage:   "feature file paths (defaults to features.paths)",
		},
		&cli.IntFlag{
			Name:  "port",
			Value: 0,
			Usage: "port to listen on (default: random available port)",
		},
		&cli.BoolFlag{
			Name:  "no-browser",
			Usage: "don't open the dashboard in a browser",
		},
	},
	Action: runDashboard,
}

func runDashboard(c *cli.Context) error {
	paths := c.StringSlice("path")
	if len(paths) == 0 {
		if cfg, err := loadSuite(c.String("config")); err == nil {
			paths = cfg.Features.Paths
		}
	}

	server := dashboard.New(dashboard.Options{
		ConfigPath:   c.String("config"),
		FeaturePaths: paths,
	})

	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", c.Int("port")))
	if err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	url := fmt.Sprintf("http://%s", listener.Addr())

	fmt.Fprintf(c.App.Writer, "%s %s\n", titleStyle.Render("driverpool dashboard running at"), url)
	fmt.Fprintln(c.App.Writer, helpStyle.Render("Press Ctrl+C to stop"))

	if !c.Bool("no-browser") {
		go openBrowser(url)
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{Handler: server.Handler(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		server.Stop()
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdown)
	}()

	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	server.Wait()
	return nil
}

func openBrowser(url string) {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	if err := cmd.Start(); err != nil {
		log.Debug().Err(err).Msg("could not open browser")
	}
}
