// Package test provides assertions for the uncommitted changes of aggregates.
package test

import (
	"fmt"
	"reflect"

	"github.com/modernice/mnemo/aggregate"
)

//go:generate mockgen -source=aggregate.go -destination=./mock_test/aggregate.go TestingT

// TestingT is the subset of testing.TB used by the assertions.
type TestingT interface {
	Helper()
	Fatal(args ...any)
}

// ExpectedChangeError is reported by Change when the tested aggregate doesn't
// have the required change.
type ExpectedChangeError[D comparable] struct {
	// DataType is the name of the tested event data type.
	DataType string

	// Matches is the number of changes that matched.
	Matches int

	cfg          changeConfig[D]
	mismatchData []D
}

func (err *ExpectedChangeError[D]) Error() string {
	var dataSuffix string
	var zero D

	if err.cfg.eventData != zero {
		dataSuffix = fmt.Sprintf(" with event data\n\n%v\n\n", err.cfg.eventData)

		if l := len(err.mismatchData); l > 0 {
			dataSuffix = fmt.Sprintf("%sbut got %d change(s) with event data\n\n%v\n\n", dataSuffix, l, err.mismatchData)
		}
	}

	if err.cfg.atLeast > 0 && err.Matches < err.cfg.atLeast {
		return fmt.Sprintf("expected at least %d %s changes%s; got %d", err.cfg.atLeast, err.DataType, dataSuffix, err.Matches)
	}

	if err.cfg.atMost > 0 && err.Matches > err.cfg.atMost {
		return fmt.Sprintf("expected at most %d %s changes%s; got %d", err.cfg.atMost, err.DataType, dataSuffix, err.Matches)
	}

	if err.cfg.exactly > 0 && err.Matches != err.cfg.exactly {
		return fmt.Sprintf("expected exactly %d %s changes%s; got %d", err.cfg.exactly, err.DataType, dataSuffix, err.Matches)
	}

	return fmt.Sprintf("expected %s change%s", err.DataType, dataSuffix)
}

// UnexpectedChangeError is reported by NoChange when the tested aggregate has
// an unwanted change.
type UnexpectedChangeError struct {
	// DataType is the name of the tested event data type.
	DataType string

	// Matches is the number of unwanted changes.
	Matches int
}

func (err *UnexpectedChangeError) Error() string {
	return fmt.Sprintf("unexpected %s change (%d matches)", err.DataType, err.Matches)
}

// ChangeOption is an option for Change and NoChange.
type ChangeOption[D any] func(*changeConfig[D])

type changeConfig[D any] struct {
	eventData D
	atLeast   int
	atMost    int
	exactly   int
}

// EventData returns a ChangeOption that also compares the event data of
// changes instead of just their type.
func EventData[D any](d D) ChangeOption[D] {
	return func(cfg *changeConfig[D]) {
		cfg.eventData = d
	}
}

// AtLeast returns a ChangeOption that requires at least the given number of
// matching changes. AtLeast has no effect in NoChange.
func AtLeast[D any](times int) ChangeOption[D] {
	return func(cfg *changeConfig[D]) {
		cfg.atLeast = times
	}
}

// AtMost returns a ChangeOption that allows at most the given number of
// matching changes. AtMost has no effect in NoChange.
func AtMost[D any](times int) ChangeOption[D] {
	return func(cfg *changeConfig[D]) {
		cfg.atMost = times
	}
}

// Exactly returns a ChangeOption that requires exactly the given number of
// matching changes. Exactly has no effect in NoChange.
func Exactly[D any](times int) ChangeOption[D] {
	return func(cfg *changeConfig[D]) {
		cfg.exactly = times
	}
}

// Change tests an aggregate for a change. The aggregate must have an
// uncommitted event whose data is a D.
func Change[D comparable](t TestingT, a aggregate.Aggregate, opts ...ChangeOption[D]) {
	t.Helper()

	cfg := newConfig(opts)
	matches, mismatchData := match(a, cfg)

	failed := matches == 0 ||
		(cfg.atLeast > 0 && matches < cfg.atLeast) ||
		(cfg.atMost > 0 && matches > cfg.atMost) ||
		(cfg.exactly > 0 && matches != cfg.exactly)

	if failed {
		t.Fatal(&ExpectedChangeError[D]{
			DataType:     typeName[D](),
			Matches:      matches,
			cfg:          cfg,
			mismatchData: mismatchData,
		})
	}
}

// NoChange tests that an aggregate has no uncommitted event whose data is a
// D.
func NoChange[D comparable](t TestingT, a aggregate.Aggregate, opts ...ChangeOption[D]) {
	t.Helper()

	if matches, _ := match(a, newConfig(opts)); matches != 0 {
		t.Fatal(&UnexpectedChangeError{
			DataType: typeName[D](),
			Matches:  matches,
		})
	}
}

func newConfig[D any](opts []ChangeOption[D]) changeConfig[D] {
	var cfg changeConfig[D]
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

func match[D comparable](a aggregate.Aggregate, cfg changeConfig[D]) (int, []D) {
	var (
		matches      int
		mismatchData []D
		zero         D
	)

	for _, change := range a.AggregateBase().Changes() {
		data, ok := change.Data().(D)
		if !ok {
			continue
		}

		if cfg.eventData != zero && !reflect.DeepEqual(cfg.eventData, data) {
			mismatchData = append(mismatchData, data)
			continue
		}

		matches++
	}

	return matches, mismatchData
}

func typeName[D any]() string {
	return reflect.TypeOf((*D)(nil)).Elem().String()
}
