// Package main implements a command line tool replaying policy scenarios
// against a fresh ledger.
//
//	custos-demo run scenario.yml
//	custos-demo run --db state.db --metrics 127.0.0.1:8080 scenario.yml
//	custos-demo roles
//
// The scenario format is documented in the demo package.
package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/custos-ledger/custos"
	"github.com/custos-ledger/custos/core/access"
	"github.com/custos-ledger/custos/core/store/kv"
	"github.com/custos-ledger/custos/crypto/loader"
	"github.com/custos-ledger/custos/crypto/schnorr"
	"github.com/custos-ledger/custos/demo"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	urfave "github.com/urfave/cli/v2"
	"golang.org/x/xerrors"
)

func main() {
	err := run(os.Args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// config contains the dependencies of a run that the tests override.
type config struct {
	Writer  io.Writer
	Channel chan os.Signal
}

func run(args []string) error {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	return runWithCfg(args, config{Writer: os.Stdout, Channel: sigs})
}

func runWithCfg(args []string, cfg config) error {
	app := &urfave.App{
		Name:   "custos-demo",
		Usage:  "replay policy scenarios against a fresh ledger",
		Writer: cfg.Writer,
		Commands: []*urfave.Command{
			{
				Name:      "run",
				Usage:     "run a scenario file",
				ArgsUsage: "<scenario.yml>",
				Flags: []urfave.Flag{
					&urfave.StringFlag{
						Name:  "db",
						Usage: "flush the committed state to this database file",
					},
					&urfave.StringFlag{
						Name:  "key",
						Usage: "load the key of the first account from this file, or create it",
					},
					&urfave.StringFlag{
						Name:  "metrics",
						Usage: "serve the prometheus metrics on this address",
					},
				},
				Action: func(ctx *urfave.Context) error {
					return runScenario(ctx, cfg)
				},
			},
			{
				Name:   "roles",
				Usage:  "print the role hierarchy",
				Action: printRoles,
			},
		},
	}

	return app.Run(args)
}

func runScenario(ctx *urfave.Context, cfg config) error {
	path := ctx.Args().First()
	if path == "" {
		return xerrors.New("expect a scenario file")
	}

	scenario, err := demo.LoadScenario(path)
	if err != nil {
		return xerrors.Errorf("failed to load scenario: %v", err)
	}

	opts := []demo.RunnerOption{demo.WithOutput(ctx.App.Writer)}

	if name := ctx.String("db"); name != "" {
		db, err := kv.New(name)
		if err != nil {
			return xerrors.Errorf("while opening db: %v", err)
		}

		defer db.Close()

		opts = append(opts, demo.WithDB(db))
	}

	if name := ctx.String("key"); name != "" {
		if len(scenario.Accounts) == 0 {
			return xerrors.New("scenario has no account to assign the key to")
		}

		fload := loader.NewFileLoader(name)

		data, err := fload.LoadOrCreate(keyGenerator{})
		if err != nil {
			return xerrors.Errorf("while loading key: %v", err)
		}

		signer, err := schnorr.NewSignerFromBytes(data)
		if err != nil {
			return xerrors.Errorf("while restoring signer: %v", err)
		}

		opts = append(opts, demo.WithSigner(scenario.Accounts[0], signer))
	}

	srv := serveMetrics(ctx.String("metrics"))

	runner, err := demo.NewRunner(scenario, opts...)
	if err != nil {
		return xerrors.Errorf("failed to build runner: %v", err)
	}

	err = runner.Run()
	if err != nil {
		return xerrors.Errorf("failed to run scenario: %v", err)
	}

	if srv != nil {
		fmt.Fprintf(ctx.App.Writer, "serving metrics on %s\n", srv.Addr)

		// Keep the metrics available until the process is interrupted.
		<-cfg.Channel

		return srv.Close()
	}

	return nil
}

// serveMetrics exposes the collectors of the module on the address. The
// server lives until the process ends.
func serveMetrics(addr string) *http.Server {
	if addr == "" {
		return nil
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(custos.PromCollectors...)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		err := srv.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			custos.Logger.Err(err).Msg("metrics server stopped")
		}
	}()

	return srv
}

// keyGenerator generates a private key for the first account of a scenario.
//
// - implements loader.Generator
type keyGenerator struct{}

// Generate implements loader.Generator. It returns the marshaled data of a
// fresh private key.
func (g keyGenerator) Generate() ([]byte, error) {
	signer := schnorr.NewSigner()

	data, err := signer.MarshalBinary()
	if err != nil {
		return nil, xerrors.Errorf("failed to marshal signer: %v", err)
	}

	return data, nil
}

func printRoles(ctx *urfave.Context) error {
	roles := []access.Role{
		access.None,
		access.User,
		access.Moderator,
		access.Admin,
		access.Owner,
	}

	names := make([]string, len(roles))
	for i, role := range roles {
		names[i] = role.String()
	}

	fmt.Fprintln(ctx.App.Writer, strings.Join(names, " < "))

	return nil
}
