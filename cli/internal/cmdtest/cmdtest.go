package cmdtest

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// Error expects cmd to fail with an error that unwraps to want. Error returns
// the command output but does not validate the output.
func Error(t *testing.T, cmd *cobra.Command, args []string, want error) string {
	t.Helper()

	out, err := execute(cmd, args)
	if !errors.Is(err, want) {
		t.Fatalf("Command should fail with %q; got %q", want, err)
	}

	return out
}

// Run expects cmd to succeed and returns its output.
func Run(t *testing.T, cmd *cobra.Command, args []string) string {
	t.Helper()

	out, err := execute(cmd, args)
	if err != nil {
		t.Fatalf("Command failed: %v\n\noutput:\n%v", err, out)
	}

	return out
}

// Output expects cmd to output fmt.Sprint(want) and returns the actual output.
func Output(t *testing.T, cmd *cobra.Command, args []string, want any) string {
	t.Helper()

	result := Run(t, cmd, args)
	wantStr := fmt.Sprint(want)
	if result != wantStr {
		t.Fatalf("Command has wrong output.\n\nwant:\n%v\n\ngot:\n%v\n", wantStr, result)
	}

	return result
}

// TableOutput expects cmd to output want as a table and returns the actual
// output.
func TableOutput(t *testing.T, cmd *cobra.Command, args []string, want [][]string) string {
	t.Helper()

	var builder strings.Builder
	tabw := tabwriter.NewWriter(&builder, 0, 2, 1, ' ', 0)
	for _, row := range want {
		fmt.Fprintln(tabw, strings.Join(row, "\t"))
	}
	if err := tabw.Flush(); err != nil {
		panic(fmt.Errorf("flush tabwriter: %w", err))
	}

	return Output(t, cmd, args, builder.String())
}

func execute(cmd *cobra.Command, args []string) (string, error) {
	cmd.SetArgs(args)

	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)

	err := cmd.Execute()

	return out.String(), err
}
