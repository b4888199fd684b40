// Command relayd 运行 relay WebSocket 网关
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/tokmz/relay"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newApp().Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "relayd:", err)
		os.Exit(1)
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:    "relayd",
		Usage:   "WebSocket connection gateway",
		Version: relay.Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to relay.yaml (searched in ., ./configs, /etc/relay when empty)",
				Sources: cli.EnvVars("RELAY_CONFIG"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "start the HTTP and WebSocket server",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "addr", Usage: "override server.addr"},
					&cli.BoolFlag{Name: "watch", Value: true, Usage: "hot-reload log level and allowed origins on config change"},
				},
				Action: serve,
			},
			{
				Name:  "token",
				Usage: "issue a signed token for local testing",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "user", Required: true, Usage: "user id placed in the token"},
					&cli.StringSliceFlag{Name: "role", Usage: "role claim, repeatable"},
					&cli.StringFlag{Name: "kind", Value: "websocket", Usage: "access, refresh or websocket"},
					&cli.DurationFlag{Name: "ttl", Usage: "token lifetime, defaults to the configured ttl for the kind"},
				},
				Action: issueToken,
			},
			{
				Name:   "check",
				Usage:  "validate the configuration and exit",
				Action: checkConfig,
			},
		},
	}
}
