package snapshot_test

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/modernice/mnemo/aggregate/snapshot"
)

type fooState struct{ N int }

type barState struct{ N int }

func TestSnapshot_Compare(t *testing.T) {
	id := uuid.New()
	a := snapshot.New(id, 3, fooState{N: 1})
	b := snapshot.New(id, 5, fooState{N: 2})

	if cmp, err := a.Compare(b); err != nil || cmp != -1 {
		t.Errorf("a.Compare(b) should return (-1, nil); got (%d, %v)", cmp, err)
	}
	if cmp, err := b.Compare(a); err != nil || cmp != 1 {
		t.Errorf("b.Compare(a) should return (1, nil); got (%d, %v)", cmp, err)
	}
	if cmp, err := a.Compare(snapshot.New(id, 3, fooState{N: 9})); err != nil || cmp != 0 {
		t.Errorf("snapshots of the same version should compare equal; got (%d, %v)", cmp, err)
	}
}

func TestSnapshot_Compare_incomparable(t *testing.T) {
	id := uuid.New()
	a := snapshot.New(id, 3, fooState{})

	if _, err := a.Compare(snapshot.New(id, 3, barState{})); !errors.Is(err, snapshot.ErrIncomparable) {
		t.Errorf("comparing different data types should fail with %q; got %v", snapshot.ErrIncomparable, err)
	}
	if _, err := a.Compare(snapshot.New(uuid.New(), 3, fooState{})); !errors.Is(err, snapshot.ErrIncomparable) {
		t.Errorf("comparing different aggregates should fail with %q; got %v", snapshot.ErrIncomparable, err)
	}
}

func TestEvery(t *testing.T) {
	s := snapshot.Every(3)

	tests := []struct {
		old, current int
		want         bool
	}{
		{0, 2, false},
		{0, 3, true},
		{2, 3, true},
		{3, 5, false},
		{4, 9, true},
	}

	for _, tt := range tests {
		if got := s.Test(tt.old, tt.current); got != tt.want {
			t.Errorf("Every(3).Test(%d, %d) should return %v; got %v", tt.old, tt.current, tt.want, got)
		}
	}

	if snapshot.Every(0).Test(0, 100) {
		t.Errorf("Every(0) should never schedule a snapshot")
	}
}
