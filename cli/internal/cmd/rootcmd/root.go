package rootcmd

import (
	"github.com/MakeNowJust/heredoc/v2"
	"github.com/modernice/mnemo/cli/internal/clifactory"
	"github.com/modernice/mnemo/cli/internal/cmd/democmd"
	"github.com/modernice/mnemo/cli/internal/cmd/typecmd"
	"github.com/spf13/cobra"
)

// New returns the root command.
func New(f *clifactory.Factory) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "mnemo",
		Short:         "mnemo CLI",
		SilenceErrors: true,
		SilenceUsage:  true,
		Example: heredoc.Doc(`
			$ mnemo type parse "core:Dictionary` + "`" + `2<core:String, core:Int32>"
			$ MNEMO_BACKEND=sqlite mnemo demo conflict
		`),
	}

	cmd.PersistentFlags().StringVar(
		&f.Config.Backend,
		"backend",
		f.Config.Backend,
		"Backend to use (overrides MNEMO_BACKEND)",
	)

	cmd.PersistentFlags().IntVar(
		&f.Config.SaveAttempts,
		"save-attempts",
		f.Config.SaveAttempts,
		"Maximum number of save attempts (overrides MNEMO_SAVE_ATTEMPTS)",
	)

	cmd.AddCommand(typecmd.New(f), democmd.New(f))

	return cmd
}
