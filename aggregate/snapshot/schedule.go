package snapshot

// A Schedule determines if an aggregate is scheduled to be snapshotted after
// it moved from version old to version current.
type Schedule interface {
	Test(old, current int) bool
}

// ScheduleFunc allows a function to be used as a Schedule.
type ScheduleFunc func(old, current int) bool

// Test returns fn(old, current).
func (fn ScheduleFunc) Test(old, current int) bool {
	return fn(old, current)
}

// Every returns a Schedule that instructs to make Snapshots of an aggregate
// every nth event of that aggregate.
func Every(n int) Schedule {
	return ScheduleFunc(func(old, current int) bool {
		if n <= 0 {
			return false
		}
		for v := old + 1; v <= current; v++ {
			if v%n == 0 {
				return true
			}
		}
		return false
	})
}
