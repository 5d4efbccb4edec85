package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/cascade/internal/fixture"
)

// NewSeedCommand creates the seed command.
func NewSeedCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "seed <fixture.yaml>",
		Short: "Load accounts and deposits from a YAML fixture",
		Long: `Insert the accounts, referral links and deposits described by a YAML
fixture. Rows that already exist are left untouched, so seeding twice is safe.

Example:
  cascade seed --db ./cascade.db ./testdata/network.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(rootOpts, args[0], cmd)
		},
	}
}

type seedResult struct {
	Fixture string `json:"fixture"`
	fixture.Result
}

func (r seedResult) Render(w io.Writer) error {
	_, err := fmt.Fprintf(w, "Seeded %s: %d accounts, %d links, %d deposits\n",
		r.Fixture, r.Accounts, r.Links, r.Deposits)
	return err
}

func runSeed(opts *RootOptions, path string, cmd *cobra.Command) error {
	f, err := fixture.Load(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load fixture", err)
	}

	app, err := openApp(opts, cmd)
	if err != nil {
		return err
	}
	defer func() { _ = app.Close(context.Background()) }()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	res, err := f.Apply(ctx, app.Store, app.Calendar.Now())
	if err != nil {
		return WrapExitError(ExitFailure, "failed to seed ledger", err)
	}

	name := f.Name
	if name == "" {
		name = path
	}
	return newFormatter(opts, cmd).Success(seedResult{Fixture: name, Result: res})
}
