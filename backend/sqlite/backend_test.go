package sqlite_test

import (
	"path/filepath"
	"testing"

	"github.com/modernice/mnemo/aggregate/repository"
	"github.com/modernice/mnemo/backend/backendtest"
	"github.com/modernice/mnemo/backend/sqlite"
	"github.com/modernice/mnemo/codec"
)

func TestBackend(t *testing.T) {
	backendtest.Run(t, "sqlite", func(t *testing.T, c *codec.Codec, policy repository.SnapshotPolicy) repository.Backend {
		b, err := sqlite.Open(filepath.Join(t.TempDir(), "mnemo.db"), c, sqlite.WithSnapshotPolicy(policy))
		if err != nil {
			t.Fatalf("Open() failed: %v", err)
		}
		t.Cleanup(func() {
			if err := b.Close(); err != nil {
				t.Errorf("Close() failed: %v", err)
			}
		})
		return b
	})
}

func TestOpen_requiresPath(t *testing.T) {
	if _, err := sqlite.Open(" ", backendtest.NewCodec()); err == nil {
		t.Fatalf("Open() without a path should fail")
	}
}
