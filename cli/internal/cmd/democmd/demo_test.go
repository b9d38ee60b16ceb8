package democmd_test

import (
	"strings"
	"testing"

	"github.com/modernice/mnemo/cli/internal/clifactory"
	"github.com/modernice/mnemo/cli/internal/cmd/democmd"
	"github.com/modernice/mnemo/cli/internal/cmdtest"
)

func TestCommand_Conflict(t *testing.T) {
	f := clifactory.New(clifactory.WithConfig(clifactory.Config{
		Backend:      "memory",
		SaveAttempts: 3,
	}))

	out := cmdtest.Run(t, democmd.New(f), []string{"conflict"})

	for _, want := range []string{
		"True conflict rejected: concurrency conflict",
		"has version 3, expected 2",
		"False conflict resolved",
		"Version:        5",
		"Balance:        80",
		"Communications: 1",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output should contain %q\n\noutput:\n%s", want, out)
		}
	}
}

func TestCommand_Conflict_sqlite(t *testing.T) {
	f := clifactory.New(clifactory.WithConfig(clifactory.Config{
		Backend:      "sqlite",
		SQLitePath:   t.TempDir() + "/mnemo.db",
		SaveAttempts: 3,
	}))

	out := cmdtest.Run(t, democmd.New(f), []string{"conflict", "--deposit", "50", "--withdraw", "5"})

	if !strings.Contains(out, "Balance:        40") {
		t.Errorf("output should report the final balance of 40\n\noutput:\n%s", out)
	}
}

func TestCommand_Conflict_unknownBackend(t *testing.T) {
	f := clifactory.New(clifactory.WithConfig(clifactory.Config{Backend: "cassandra"}))
	cmdtest.Error(t, democmd.New(f), []string{"conflict"}, clifactory.ErrUnknownBackend)
}
