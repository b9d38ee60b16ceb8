// Package cli implements the mnemo command-line tool.
package cli

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/logrusorgru/aurora"
	"github.com/modernice/mnemo/cli/internal/clifactory"
	"github.com/modernice/mnemo/cli/internal/cmd/rootcmd"
	"github.com/spf13/cobra"
)

// Main is the entrypoint for the CLI. Call Main from an actual main function.
func Main() {
	log.SetFlags(0)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := clifactory.LoadConfig()
	if err != nil {
		log.Fatal(aurora.Red(err))
	}

	app := New(clifactory.Context(ctx), clifactory.WithConfig(cfg))

	if err := app.Run(); err != nil {
		if errors.Is(err, clifactory.ErrUnknownBackend) {
			log.Fatalf(aurora.Red("%v. Set MNEMO_BACKEND or pass --backend.").String(), err)
		}
		log.Fatal(aurora.Red(err))
	}
}

// App is the CLI application.
type App struct {
	factory *clifactory.Factory
	root    *cobra.Command
}

// New returns the CLI App.
func New(opts ...clifactory.Option) *App {
	f := clifactory.New(opts...)
	return &App{
		factory: f,
		root:    rootcmd.New(f),
	}
}

// Factory returns the CLI Factory.
func (app *App) Factory() *clifactory.Factory {
	return app.factory
}

// Root returns the root command.
func (app *App) Root() *cobra.Command {
	return app.root
}

// Run runs the app.
func (app *App) Run() error {
	return app.root.Execute()
}
