package slice_test

import (
	"errors"
	"strconv"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/modernice/mnemo/internal/slice"
)

func TestMap(t *testing.T) {
	got := slice.Map([]int{1, 2, 3}, strconv.Itoa)
	if diff := cmp.Diff([]string{"1", "2", "3"}, got); diff != "" {
		t.Errorf("Map() returned the wrong slice (-want +got):\n%s", diff)
	}
}

func TestMapErr(t *testing.T) {
	got, err := slice.MapErr([]string{"1", "2", "3"}, strconv.Atoi)
	if err != nil {
		t.Fatalf("MapErr() failed: %v", err)
	}
	if diff := cmp.Diff([]int{1, 2, 3}, got); diff != "" {
		t.Errorf("MapErr() returned the wrong slice (-want +got):\n%s", diff)
	}
}

func TestMapErr_stopsAtFirstError(t *testing.T) {
	got, err := slice.MapErr([]string{"1", "x", "3"}, strconv.Atoi)
	if !errors.Is(err, strconv.ErrSyntax) {
		t.Fatalf("MapErr() should fail with %q; got %v", strconv.ErrSyntax, err)
	}
	if diff := cmp.Diff([]int{1}, got); diff != "" {
		t.Errorf("MapErr() should return the elements mapped before the error (-want +got):\n%s", diff)
	}
}
