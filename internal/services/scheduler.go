package services

import "time"

// Scheduler runs deferred work. Production uses wall-clock timers; tests
// substitute a manual clock.
type Scheduler interface {
	AfterFunc(d time.Duration, f func())
}

// TimerScheduler schedules with time.AfterFunc. Pending tasks are lost when
// the process exits.
type TimerScheduler struct{}

// AfterFunc implements Scheduler. A non-positive delay runs f on a new
// goroutine immediately.
func (TimerScheduler) AfterFunc(d time.Duration, f func()) {
	time.AfterFunc(d, f)
}
