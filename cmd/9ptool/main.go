package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/jrsharp/9ptool/config"
	"github.com/jrsharp/9ptool/endpoint"
	internalnet "github.com/jrsharp/9ptool/internal/net"
	"github.com/jrsharp/9ptool/pipeline"
	"github.com/jrsharp/9ptool/proc"
	"github.com/jrsharp/9ptool/session"
)

func main() {
	logger, err := zap.NewDevelopment(zap.IncreaseLevel(zap.InfoLevel))
	if err != nil {
		log.Fatal(err)
	}
	sugar := logger.Named("9ptool").Sugar()

	cwd, err := os.Getwd()
	if err != nil {
		log.Fatal(err)
	}
	cfg, err := config.Load(cwd)
	if err != nil {
		log.Fatal(err)
	}

	app := &cli.App{
		Name:  "9ptool",
		Usage: "serve a directory over 9P and run a QEMU 9P client against it",
		Commands: []*cli.Command{
			serveCommand(sugar, cfg),
			runCommand(sugar, cfg),
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func serveCommand(log *zap.SugaredLogger, cfg config.Config) *cli.Command {
	return &cli.Command{
		Name:      "serve",
		Usage:     "start a 9P file server for a directory",
		ArgsUsage: "[directory]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "socket",
				Aliases: []string{"s"},
				Usage:   "Unix socket path to listen on.",
				Value:   cfg.SocketPath,
			},
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "TCP port to listen on instead of a Unix socket. 0 picks a free port.",
			},
			&cli.BoolFlag{
				Name:    "daemon",
				Aliases: []string{"d"},
				Usage:   "Run the server in the background and return.",
			},
		},
		Action: func(c *cli.Context) error {
			dir := c.Args().First()
			if dir == "" {
				var err error
				dir, err = os.Getwd()
				if err != nil {
					return err
				}
			}
			dir, err := filepath.Abs(dir)
			if err != nil {
				return err
			}

			ep, err := resolveEndpoint(c)
			if err != nil {
				return err
			}

			runner := proc.ExecRunner{}

			if c.Bool("daemon") {
				// no cancellation parent: the pipeline outlives this call
				pipe, err := pipeline.Start(context.Background(), pipeline.Options{
					Dir:      dir,
					Endpoint: ep,
					Runner:   runner,
					Logger:   log,
				})
				if err != nil {
					return err
				}
				fmt.Printf("9P server started in background (pgid %d)\n", pipe.PGID())
				if ep.Kind() == endpoint.UnixSocket {
					fmt.Printf("Socket: %s\n", ep.Path())
				}
				return nil
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			pipe, err := pipeline.Start(ctx, pipeline.Options{
				Dir:      dir,
				Endpoint: ep,
				Runner:   runner,
				Logger:   log,
			})
			if err != nil {
				return err
			}
			defer pipe.Stop()

			fmt.Printf("Serving %s at %s\n", dir, ep)
			fmt.Println("Press Ctrl+C to stop server")

			err = pipe.Wait(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			fmt.Println("\nServer stopped")
			return nil
		},
	}
}

func runCommand(log *zap.SugaredLogger, cfg config.Config) *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "run QEMU with the 9P client sample connected to a server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "socket",
				Aliases: []string{"s"},
				Usage:   "Unix socket path to connect to.",
				Value:   cfg.SocketPath,
			},
			&cli.StringFlag{
				Name:    "board",
				Aliases: []string{"b"},
				Usage:   "Board the client sample was built for.",
				Value:   cfg.Board,
			},
			&cli.StringFlag{
				Name:    "build-dir",
				Aliases: []string{"d"},
				Usage:   "Build directory containing the kernel image.",
				Value:   cfg.BuildDir,
			},
			&cli.StringFlag{
				Name:  "serve-dir",
				Usage: "Start a 9P server for this directory before running.",
			},
			&cli.IntFlag{
				Name:    "memory",
				Aliases: []string{"m"},
				Usage:   "QEMU memory in MB.",
				Value:   cfg.MemoryMB,
			},
		},
		Action: func(c *cli.Context) error {
			ep, err := endpoint.ResolveUnix(c.String("socket"))
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			sess := session.New(proc.ExecRunner{}, session.WithLogger(log))
			out := sess.Run(ctx, session.Params{
				ServeDir:     c.String("serve-dir"),
				Endpoint:     ep,
				BuildDir:     c.String("build-dir"),
				Board:        c.String("board"),
				MemoryMB:     c.Int("memory"),
				ReadyTimeout: cfg.ReadyTimeout.Std(),
			})
			switch out.State {
			case session.Completed:
				if out.ExitCode != 0 {
					return cli.Exit("", out.ExitCode)
				}
				return nil
			case session.Interrupted:
				fmt.Println("\nQEMU stopped")
				return cli.Exit("", out.ExitCode)
			default:
				return cli.Exit(out.Err.Error(), out.ExitCode)
			}
		},
	}
}

func resolveEndpoint(c *cli.Context) (*endpoint.Endpoint, error) {
	if c.IsSet("port") {
		port := c.Int("port")
		if port == 0 {
			var err error
			port, err = internalnet.EphemeralTCPPort()
			if err != nil {
				return nil, err
			}
		}
		return endpoint.ResolveTCP(port)
	}
	return endpoint.ResolveUnix(c.String("socket"))
}
