package typecmd

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/modernice/mnemo/cli/internal/cliargs"
	"github.com/modernice/mnemo/cli/internal/clifactory"
	"github.com/modernice/mnemo/internal/slice"
	"github.com/modernice/mnemo/logical"
	"github.com/spf13/cobra"
)

// New returns the type command.
func New(f *clifactory.Factory) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "type",
		Short: "Inspect logical types",
		Long: heredoc.Doc(`
			Inspect logical type names. A logical type has the canonical form

				alias:Name[` + "`" + `arity][<arg, arg, ...>][:vVersion]
		`),
	}

	cmd.AddCommand(parseCmd(), openCmd(), closeCmd(), resolveCmd(f))

	return cmd
}

func parseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "parse <type> [<type> ...]",
		Short: "Parse logical types and print their components",
		Example: heredoc.Doc(`
			$ mnemo type parse bank:Deposited:v2 "core:Dictionary` + "`" + `2<core:String, core:Int32>"
		`),
		Args: cliargs.MinimumN(1, "Must provide at least one logical type."),
		RunE: func(cmd *cobra.Command, args []string) error {
			types, err := slice.MapErr(args, logical.Parse)
			if err != nil {
				return err
			}

			tabw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 1, ' ', 0)
			for i, t := range types {
				if i > 0 {
					fmt.Fprintln(tabw)
				}
				version := "-"
				if v, ok := t.Version(); ok {
					version = strconv.Itoa(v)
				}
				fmt.Fprintf(tabw, "Type:\t%s\n", t)
				fmt.Fprintf(tabw, "Alias:\t%s\n", t.Alias())
				fmt.Fprintf(tabw, "Name:\t%s\n", t.Name())
				fmt.Fprintf(tabw, "Arity:\t%d\n", t.Arity())
				fmt.Fprintf(tabw, "Version:\t%s\n", version)
				fmt.Fprintf(tabw, "Open:\t%v\n", t.IsOpen())
			}
			return tabw.Flush()
		},
	}
}

func openCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "open <type>",
		Short: "Print the open generic form of a logical type",
		Example: heredoc.Doc(`
			$ mnemo type open "core:List<core:String>"
			core:List` + "`" + `1
		`),
		Args: cliargs.ExactlyN(1, "Must provide exactly one logical type."),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := logical.Parse(args[0])
			if err != nil {
				return err
			}
			cmd.Println(t.Open())
			return nil
		},
	}
}

func closeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "close <open type> <arg> [<arg> ...]",
		Short: "Close an open generic logical type with type arguments",
		Example: heredoc.Doc(`
			$ mnemo type close "core:List` + "`" + `1" core:String
			core:List<core:String>
		`),
		Args: cliargs.MinimumN(2, "Must provide an open logical type and at least one type argument."),
		RunE: func(cmd *cobra.Command, args []string) error {
			open, err := logical.Parse(args[0])
			if err != nil {
				return err
			}

			typeArgs, err := slice.MapErr(args[1:], logical.Parse)
			if err != nil {
				return err
			}

			closed, err := open.Close(typeArgs...)
			if err != nil {
				return err
			}

			cmd.Println(closed)
			return nil
		},
	}
}

func resolveCmd(f *clifactory.Factory) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <type> [<type> ...]",
		Short: "Resolve logical types of the example bank domain to Go types",
		Example: heredoc.Doc(`
			$ mnemo type resolve bank:Deposited:v1
			bank:Deposited:v1 bank.Deposited
		`),
		Args: cliargs.MinimumN(1, "Must provide at least one logical type."),
		RunE: func(cmd *cobra.Command, args []string) error {
			tabw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 1, ' ', 0)
			for _, arg := range args {
				rt, err := f.Codec().Resolve(arg)
				if err != nil {
					return err
				}
				fmt.Fprintf(tabw, "%s\t%s\n", arg, rt)
			}
			return tabw.Flush()
		},
	}
}
