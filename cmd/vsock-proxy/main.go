package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/0xef53/vsock-proxy/core"

	"github.com/coreos/go-systemd/v22/daemon"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"
)

func init() {
	log.SetFormatter(&log.TextFormatter{
		DisableColors:    true,
		DisableTimestamp: true,
	})
}

func main() {
	app := newApp(runProxy)

	if err := app.Run(context.Background(), os.Args); err != nil {
		log.Fatalln(err)
	}
}

func newApp(action cli.ActionFunc) *cli.Command {
	app := new(cli.Command)

	app.Name = "vsock-proxy"
	app.Usage = "A simple proxy to pipe traffic to/from a vsock connection"
	app.HideHelpCommand = true

	app.Action = action

	app.Flags = []cli.Flag{
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"v"},
			Usage:   "enable debug/verbose mode",
		},
		&cli.StringFlag{
			Name:    "tcp-source",
			Usage:   "the tcp address (host:port) for the proxy to listen on",
			Sources: cli.EnvVars("VSOCK_PROXY_TCP_SOURCE"),
		},
		&cli.StringFlag{
			Name:    "vsock-source",
			Usage:   "the vsock address (cid:port) for the proxy to listen on",
			Sources: cli.EnvVars("VSOCK_PROXY_VSOCK_SOURCE"),
		},
		&cli.StringFlag{
			Name:    "tcp-dest",
			Usage:   "the tcp address (host:port) for the proxy to forward to",
			Sources: cli.EnvVars("VSOCK_PROXY_TCP_DEST"),
		},
		&cli.StringFlag{
			Name:    "vsock-dest",
			Usage:   "the vsock address (cid:port) for the proxy to forward to",
			Sources: cli.EnvVars("VSOCK_PROXY_VSOCK_DEST"),
		},
		&cli.IntFlag{
			Name:    "max-conns",
			Usage:   "maximum number of simultaneous connections (0 means unlimited)",
			Sources: cli.EnvVars("VSOCK_PROXY_MAX_CONNS"),
		},
	}

	app.Commands = []*cli.Command{
		&cli.Command{
			Name:  "version",
			Usage: "print the version information",
			Action: func(ctx context.Context, c *cli.Command) error {
				fmt.Printf("v%s, (built %s)\n", core.Version, runtime.Version())
				return nil
			},
		},
	}

	return app
}

func runProxy(ctx context.Context, c *cli.Command) error {
	if c.Bool("verbose") {
		log.SetLevel(log.DebugLevel)
	}

	source, err := sourceEndpoint(c)
	if err != nil {
		return err
	}

	destination, err := destinationEndpoint(c)
	if err != nil {
		return err
	}

	listener, err := source.Listen()
	if err != nil {
		return fmt.Errorf("failed to create source listener: %w", err)
	}

	log.WithFields(log.Fields{
		"source":      source.Network() + ":" + source.String(),
		"destination": destination.Network() + ":" + destination.String(),
	}).Info("Starting vsock-proxy")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Register signal handler
	go func() {
		sigc := make(chan os.Signal, 1)

		signal.Notify(sigc, syscall.SIGTERM, syscall.SIGINT)
		defer signal.Stop(sigc)

		select {
		case sig := <-sigc:
			log.WithField("signal", sig).Info("Graceful shutdown initiated ...")
		case <-ctx.Done():
		}

		cancel()
	}()

	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Warnf("Failed to notify systemd: %s", err)
	}

	srv := core.NewServer(listener, destination, core.WithMaxConns(int(c.Int("max-conns"))))

	return srv.Serve(ctx)
}

func sourceEndpoint(c *cli.Command) (core.Endpoint, error) {
	return endpointFromFlags(c, "source", "tcp-source", "vsock-source")
}

func destinationEndpoint(c *cli.Command) (core.Endpoint, error) {
	return endpointFromFlags(c, "destination", "tcp-dest", "vsock-dest")
}

// endpointFromFlags requires exactly one of the tcp/vsock flag pair
// to be set and parses its value.
func endpointFromFlags(c *cli.Command, role, tcpFlag, vsockFlag string) (core.Endpoint, error) {
	switch {
	case c.IsSet(tcpFlag) && c.IsSet(vsockFlag):
		return nil, fmt.Errorf("--%s and --%s cannot be used together", tcpFlag, vsockFlag)
	case c.IsSet(tcpFlag):
		return core.Parse("tcp", c.String(tcpFlag))
	case c.IsSet(vsockFlag):
		return core.Parse("vsock", c.String(vsockFlag))
	}

	return nil, fmt.Errorf("no %s address provided. Either --%s or --%s must be provided", role, tcpFlag, vsockFlag)
}
