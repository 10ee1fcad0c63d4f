package reactor

import "time"

// Timer is a deadline armed on the reactor. Cancelling an armed timer is
// not silent destruction: the callback still runs, carrying canceled=true.
// Teardown sequencing in the resolver engine relies on this.
type Timer interface {
	// Cancel reports true if the timer was still armed. In that case the
	// callback is still delivered, once, with canceled=true. A fired or
	// disabled timer reports false.
	Cancel() bool
}

// NewTimer arms a timer that posts fn onto the reactor after d. A negative
// duration disables the timer entirely; it never fires and Cancel reports
// false.
func (r *Reactor) NewTimer(d time.Duration, fn func(canceled bool)) Timer {
	if d < 0 {
		return disabledTimer{}
	}
	t := &timer{r: r, fn: fn}
	t.af = time.AfterFunc(d, func() {
		r.Post(func() { fn(false) })
	})
	return t
}

type timer struct {
	r  *Reactor
	fn func(canceled bool)
	af *time.Timer
}

func (t *timer) Cancel() bool {
	if t.af.Stop() {
		t.r.Post(func() { t.fn(true) })
		return true
	}
	return false
}

type disabledTimer struct{}

func (disabledTimer) Cancel() bool { return false }
