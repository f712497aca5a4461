// Command meshnoded runs one mesh messaging endpoint and, optionally, an
// interactive admin shell against a running instance.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/clusterfabric/meshbus/cli/shell"
	"github.com/clusterfabric/meshbus/pkg/config"
	"github.com/clusterfabric/meshbus/pkg/mesh"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

// newGraceContext returns a context canceled the first time this process
// receives SIGINT or SIGTERM.
func newGraceContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-stop
		cancel()
	}()
	return ctx
}

var configPathFlag = &cli.StringFlag{
	Name:     "config-path",
	Aliases:  []string{"c"},
	Usage:    "path to the node's YAML configuration file",
	Required: true,
}

var debugFlag = &cli.BoolFlag{
	Name:  "debug",
	Usage: "enable debug-level logging regardless of the configured LogLevel",
}

var shellAddrFlag = &cli.StringFlag{
	Name:    "connect",
	Aliases: []string{"a"},
	Usage:   "admin-shell bind address of the node to attach to",
	Value:   "127.0.0.1:6060",
}

func main() {
	app := &cli.App{
		Name:  "meshnoded",
		Usage: "peer-to-peer cluster messaging fabric node",
		Commands: []*cli.Command{
			nodeCommand,
			shellCommand,
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var nodeCommand = &cli.Command{
	Name:   "node",
	Usage:  "start a mesh node and block until it's told to stop",
	Flags:  []cli.Flag{configPathFlag, debugFlag},
	Action: runNode,
}

var shellCommand = &cli.Command{
	Name:   "shell",
	Usage:  "attach an interactive admin REPL to a running node",
	Flags:  []cli.Flag{shellAddrFlag},
	Action: runShell,
}

func runNode(ctx *cli.Context) error {
	cfg, err := config.Load(ctx.String("config-path"))
	if err != nil {
		return cli.Exit(err, 1)
	}

	log, closeLog, err := cfg.Logger.NewLogger(ctx.Bool("debug"))
	if err != nil {
		return cli.Exit(err, 1)
	}
	defer func() { _ = closeLog() }()

	reg := prometheus.NewRegistry()
	var handlers mesh.UserHandlers
	cb := mesh.Callbacks{
		HostDown: func(host string) { log.Warn("peer went down", zap.String("peer", host)) },
		NewNode:  func(host string, port int) { log.Info("learned new peer", zap.String("peer", host), zap.Int("port", port)) },
	}

	n, err := mesh.NewNet(cfg, cb, handlers, nil, reg, log)
	if err != nil {
		return cli.Exit(fmt.Errorf("construct mesh net: %w", err), 1)
	}
	if err := n.Start(); err != nil {
		return cli.Exit(fmt.Errorf("start mesh net: %w", err), 1)
	}
	defer n.Shutdown()

	if cfg.Prometheus.Enabled {
		startPrometheus(cfg.Prometheus, reg, log)
	}
	if cfg.AdminShell.Enabled {
		if err := shell.Serve(cfg.AdminShell, n, log); err != nil {
			log.Warn("admin shell listener failed to start", zap.Error(err))
		}
	}

	log.Info("meshnoded running", zap.String("host", cfg.Host), zap.Int("port", cfg.Port), zap.String("instance", n.ID))
	<-newGraceContext().Done()
	log.Info("shutting down")
	return nil
}

func runShell(ctx *cli.Context) error {
	return shell.Attach(ctx.String("connect"))
}

func startPrometheus(svc config.BasicService, reg *prometheus.Registry, log *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	for _, addr := range svc.Addresses {
		addr := addr
		go func() {
			log.Info("prometheus exporter listening", zap.String("addr", addr))
			if err := http.ListenAndServe(addr, mux); err != nil {
				log.Warn("prometheus exporter stopped", zap.String("addr", addr), zap.Error(err))
			}
		}()
	}
}
