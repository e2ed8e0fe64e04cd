package monitoring

import "log"

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Throttle gates a recurring diagnostic so that it is emitted once every
// Every calls, starting with the first. The zero value logs every call.
//
// Throttle is not safe for concurrent use; it is meant to live next to the
// single-goroutine state it reports on.
type Throttle struct {
	Every uint64
	count uint64
}

// Logf forwards to the package logger when the throttle window is open.
func (t *Throttle) Logf(format string, v ...interface{}) {
	if t.Allow() {
		Logf(format, v...)
	}
}

// Allow reports whether this call falls on a window boundary and advances
// the call counter.
func (t *Throttle) Allow() bool {
	n := t.count
	t.count++
	if t.Every <= 1 {
		return true
	}
	return n%t.Every == 0
}
