package democmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/google/uuid"
	"github.com/logrusorgru/aurora"
	"github.com/modernice/mnemo/aggregate"
	"github.com/modernice/mnemo/aggregate/dispatch"
	"github.com/modernice/mnemo/aggregate/repository"
	"github.com/modernice/mnemo/cli/internal/clifactory"
	"github.com/modernice/mnemo/internal/bank"
	"github.com/spf13/cobra"
)

// New returns the demo command.
func New(f *clifactory.Factory) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run demo scenarios against the configured backend",
	}
	cmd.AddCommand(conflictCmd(f))
	return cmd
}

func conflictCmd(f *clifactory.Factory) *cobra.Command {
	var cfg struct {
		deposit  int
		withdraw int
	}

	cmd := &cobra.Command{
		Use:   "conflict",
		Short: "Save concurrent changes of a bank account",
		Long: heredoc.Doc(`
			Open a bank account and save two concurrent changes of it twice.

			The first pair withdraws from the account twice. The second
			withdrawal is a true conflict and is rejected.

			The second pair withdraws and sends an email. The email does not
			touch the balance, so the conflict is resolved by re-versioning
			the email after the withdrawal.

			The backend is configured through the environment:

				MNEMO_BACKEND        memory, sqlite, postgres or mongo
				MNEMO_SAVE_ATTEMPTS  maximum number of save attempts
				SQLITE_PATH          database file of the sqlite backend
				POSTGRES_URL         connection string of the postgres backend
				MONGO_URL            connection string of the mongo backend
				REDIS_ADDR           store snapshots in Redis
				NATS_URL             publish saved events to NATS
		`),
		Example: heredoc.Doc(`
			$ MNEMO_BACKEND=sqlite SQLITE_PATH=/tmp/mnemo.db mnemo demo conflict
		`),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			defer func() {
				if err := f.Close(); err != nil {
					f.Logger.Error("close backend", "error", err)
				}
			}()

			cache := dispatch.NewCache()
			r, err := f.Repository(cache)
			if err != nil {
				return err
			}

			d := demo{cmd: cmd, repo: r, cache: cache}
			return d.run(f.Context, cfg.deposit, cfg.withdraw)
		},
	}

	cmd.Flags().IntVar(&cfg.deposit, "deposit", 100, "Initial deposit")
	cmd.Flags().IntVar(&cfg.withdraw, "withdraw", 10, "Amount of each withdrawal")

	return cmd
}

type demo struct {
	cmd   *cobra.Command
	repo  *repository.Repository
	cache *dispatch.Cache
}

func (d demo) run(ctx context.Context, deposit, withdraw int) error {
	acc, err := bank.Open(uuid.New(), "demo", aggregate.Dispatchers(d.cache))
	if err != nil {
		return err
	}
	if err := acc.Deposit(deposit); err != nil {
		return err
	}
	if err := d.repo.Save(ctx, acc); err != nil {
		return fmt.Errorf("save account: %w", err)
	}
	if err := d.repo.SaveSnapshot(ctx, acc); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	d.report("Opened account", acc)

	id := acc.AggregateID()

	err = d.concurrently(ctx, id,
		func(a *bank.Account) error { return a.Withdraw(withdraw) },
		func(a *bank.Account) error { return a.Withdraw(withdraw) },
	)
	var cerr *aggregate.ConcurrencyError
	if !errors.As(err, &cerr) {
		return fmt.Errorf("concurrent withdrawals should conflict; got %v", err)
	}
	d.cmd.Println(aurora.Yellow(fmt.Sprintf("True conflict rejected: %v", cerr)))

	if err := d.concurrently(ctx, id,
		func(a *bank.Account) error { return a.Withdraw(withdraw) },
		func(a *bank.Account) error { return a.SendEmail("statement") },
	); err != nil {
		return fmt.Errorf("withdrawal and email should not conflict: %w", err)
	}
	d.cmd.Println(aurora.Green("False conflict resolved: email re-versioned after withdrawal"))

	final, err := repository.Fetch[*bank.Account](ctx, d.repo, id)
	if err != nil {
		return err
	}
	d.report("Final account", final)

	return nil
}

// concurrently loads two copies of the account, changes both and saves them
// in order. It returns the error of the second save.
func (d demo) concurrently(ctx context.Context, id uuid.UUID, first, second func(*bank.Account) error) error {
	a, err := repository.Fetch[*bank.Account](ctx, d.repo, id)
	if err != nil {
		return err
	}
	b, err := repository.Fetch[*bank.Account](ctx, d.repo, id)
	if err != nil {
		return err
	}

	if err := first(a); err != nil {
		return err
	}
	if err := second(b); err != nil {
		return err
	}

	if err := d.repo.Save(ctx, a); err != nil {
		return fmt.Errorf("save first change: %w", err)
	}
	return d.repo.Save(ctx, b)
}

func (d demo) report(title string, a *bank.Account) {
	d.cmd.Println(aurora.Bold(title).String() + heredoc.Docf(`

		  ID:             %s
		  Version:        %d
		  Balance:        %d
		  Communications: %d
	`, a.AggregateID(), a.AggregateVersion(), a.Balance(), a.Communications()))
}
