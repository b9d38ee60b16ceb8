package stream_test

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/modernice/mnemo/aggregate/stream"
	"github.com/modernice/mnemo/event"
)

type fooData struct{}

func makeEvents(id uuid.UUID, versions ...int) []event.Event {
	out := make([]event.Event, len(versions))
	for i, v := range versions {
		out[i] = event.New(id, v, fooData{})
	}
	return out
}

func appendAll(t *testing.T, s *stream.Stream, events ...event.Event) {
	t.Helper()
	for _, evt := range events {
		if err := s.Append(evt); err != nil {
			t.Fatalf("Append(v%d) failed: %v", evt.Version(), err)
		}
	}
}

func assertVersions(t *testing.T, name string, events []event.Event, want ...int) {
	t.Helper()
	if want == nil {
		want = []int{}
	}
	if diff := cmp.Diff(want, event.Versions(events)); diff != "" {
		t.Errorf("%s versions mismatch (-want +got):\n%s", name, diff)
	}
}

func TestStream_zero(t *testing.T) {
	var s stream.Stream

	if s.Version() != 0 || s.CommittedVersion() != 0 || s.StartVersion() != 0 {
		t.Fatalf("an empty stream should report version 0")
	}
	if s.IsTruncated() {
		t.Fatalf("an empty stream should not be truncated")
	}
	if len(s.Events()) != 0 || len(s.Committed()) != 0 || len(s.Uncommitted()) != 0 {
		t.Fatalf("an empty stream should have no events")
	}
}

func TestStream_Append_monotonic(t *testing.T) {
	id := uuid.New()
	var s stream.Stream
	appendAll(t, &s, makeEvents(id, 1, 2, 3)...)

	for _, v := range []int{1, 3, 5, 0, -1} {
		err := s.Append(event.New(id, v, fooData{}))
		if !errors.Is(err, stream.ErrIntegrity) {
			t.Errorf("Append(v%d) should fail with %q; got %v", v, stream.ErrIntegrity, err)
		}
		var ierr *stream.IntegrityError
		if !errors.As(err, &ierr) || ierr.Want != 4 {
			t.Errorf("Append(v%d) should return an *IntegrityError that wants version 4; got %v", v, err)
		}
	}

	assertVersions(t, "Events()", s.Events(), 1, 2, 3)
	if s.Version() != 3 {
		t.Fatalf("a failed Append should leave the stream unchanged; Version() = %d", s.Version())
	}
}

func TestStream_Append_firstEvent(t *testing.T) {
	var s stream.Stream
	if err := s.Append(event.New(uuid.New(), 0, fooData{})); !errors.Is(err, stream.ErrIntegrity) {
		t.Fatalf("appending version 0 to an empty stream should fail with %q; got %v", stream.ErrIntegrity, err)
	}
	if s.Len() != 0 {
		t.Fatalf("a failed Append should leave the stream empty")
	}
}

func TestStream_IsTruncated(t *testing.T) {
	id := uuid.New()

	var full stream.Stream
	appendAll(t, &full, makeEvents(id, 1, 2)...)
	if full.IsTruncated() {
		t.Errorf("a stream that starts at version 1 should not be truncated")
	}

	var truncated stream.Stream
	appendAll(t, &truncated, makeEvents(id, 4, 5)...)
	if !truncated.IsTruncated() {
		t.Errorf("a stream that starts at version 4 should be truncated")
	}
	if truncated.StartVersion() != 4 {
		t.Errorf("StartVersion() should return 4; got %d", truncated.StartVersion())
	}
}

func TestStream_appendCommitAppend(t *testing.T) {
	id := uuid.New()
	var s stream.Stream

	events := makeEvents(id, 1, 2)
	appendAll(t, &s, events[0])
	s.Commit()
	appendAll(t, &s, events[1])

	assertVersions(t, "Events()", s.Events(), 1, 2)
	assertVersions(t, "Committed()", s.Committed(), 1)
	assertVersions(t, "Uncommitted()", s.Uncommitted(), 2)

	if s.Version() != 2 {
		t.Errorf("Version() should return 2; got %d", s.Version())
	}
	if s.CommittedVersion() != 1 {
		t.Errorf("CommittedVersion() should return 1; got %d", s.CommittedVersion())
	}
	if !s.HasUncommitted() {
		t.Errorf("HasUncommitted() should return true")
	}
}

func TestStream_Commit_idempotent(t *testing.T) {
	id := uuid.New()
	var s stream.Stream
	appendAll(t, &s, makeEvents(id, 1, 2, 3)...)

	s.Commit()
	committed, uncommitted := s.Committed(), s.Uncommitted()

	s.Commit()
	if diff := cmp.Diff(event.Versions(committed), event.Versions(s.Committed())); diff != "" {
		t.Errorf("committing twice should not change the committed events:\n%s", diff)
	}
	if len(uncommitted) != 0 || len(s.Uncommitted()) != 0 {
		t.Errorf("committing twice should leave no uncommitted events")
	}
}

func TestStream_CommitUpTo_truncated(t *testing.T) {
	id := uuid.New()
	var s stream.Stream
	appendAll(t, &s, makeEvents(id, 7, 8, 9)...)

	s.CommitUpTo(8)

	assertVersions(t, "Committed()", s.Committed(), 7, 8)
	assertVersions(t, "Uncommitted()", s.Uncommitted(), 9)

	if s.CommittedVersion() != 8 {
		t.Errorf("CommittedVersion() should return 8; got %d", s.CommittedVersion())
	}
	if s.Version() != 9 {
		t.Errorf("Version() should return 9; got %d", s.Version())
	}
	if !s.IsTruncated() {
		t.Errorf("IsTruncated() should return true")
	}
}

func TestStream_CommitUpTo_bounds(t *testing.T) {
	id := uuid.New()
	var s stream.Stream
	appendAll(t, &s, makeEvents(id, 3, 4, 5)...)

	s.CommitUpTo(2)
	if len(s.Committed()) != 0 {
		t.Fatalf("CommitUpTo below the start version should commit nothing")
	}

	s.CommitUpTo(100)
	assertVersions(t, "Committed()", s.Committed(), 3, 4, 5)

	s.CommitUpTo(3)
	assertVersions(t, "Committed()", s.Committed(), 3)
	assertVersions(t, "Uncommitted()", s.Uncommitted(), 4, 5)
}

func TestStream_CommitUpTo_afterCommit(t *testing.T) {
	id := uuid.New()
	var s stream.Stream
	appendAll(t, &s, makeEvents(id, 1, 2, 3)...)
	s.Commit()

	s.CommitUpTo(1)

	assertVersions(t, "Committed()", s.Committed(), 1)
	assertVersions(t, "Uncommitted()", s.Uncommitted(), 2, 3)
	if s.CommittedVersion() != 1 {
		t.Errorf("CommittedVersion() should return 1; got %d", s.CommittedVersion())
	}

	s.CommitUpTo(-5)
	if len(s.Committed()) != 0 {
		t.Errorf("CommitUpTo below the start version should commit nothing; got %v", s.Committed())
	}
}

func TestStream_returnsCopies(t *testing.T) {
	id := uuid.New()
	var s stream.Stream
	appendAll(t, &s, makeEvents(id, 1, 2)...)

	events := s.Events()
	events[0] = events[0].WithVersion(42)

	if s.Events()[0].Version() != 1 {
		t.Fatalf("modifying the result of Events() should not modify the stream")
	}
}

func TestStream_Reset(t *testing.T) {
	id := uuid.New()
	var s stream.Stream
	appendAll(t, &s, makeEvents(id, 5, 6)...)
	s.Commit()
	s.Reset()

	if s.Len() != 0 || s.Version() != 0 || s.IsTruncated() || s.CommittedVersion() != 0 {
		t.Fatalf("Reset should empty the stream")
	}
	appendAll(t, &s, makeEvents(id, 1)...)
}
