package executor

import (
	"context"
	"time"
)

type killReason int

const (
	notFired killReason = iota
	reasonTimeout
	reasonCanceled
)

func (k killReason) String() string {
	switch k {
	case reasonTimeout:
		return "timed out"
	case reasonCanceled:
		return "canceled"
	default:
		return "not fired"
	}
}

// watchdog kills a process when its deadline passes or its context ends, unless it is
// disarmed first. reason is only read after done is closed.
type watchdog struct {
	stop   chan struct{}
	done   chan struct{}
	reason killReason
}

// startWatchdog arms a watchdog. A zero timeout leaves only the context as a trigger.
// kill must be safe to call on a process that has already been reaped and return an error in
// that case (os.Process.Kill returns os.ErrProcessDone), which makes a late firing a no-op.
func startWatchdog(ctx context.Context, timeout time.Duration, kill func() error) *watchdog {
	w := &watchdog{stop: make(chan struct{}), done: make(chan struct{})}
	var timer *time.Timer
	var deadline <-chan time.Time
	if timeout > 0 {
		timer = time.NewTimer(timeout)
		deadline = timer.C
	}
	go func() {
		defer close(w.done)
		if timer != nil {
			defer timer.Stop()
		}
		var reason killReason
		select {
		case <-w.stop:
			return
		case <-deadline:
			reason = reasonTimeout
		case <-ctx.Done():
			reason = reasonCanceled
		}
		// natural completion wins a tie
		select {
		case <-w.stop:
			return
		default:
		}
		if err := kill(); err != nil {
			return
		}
		w.reason = reason
	}()
	return w
}

// disarm stops the watchdog, waits for it to finish and reports whether it killed the process.
func (w *watchdog) disarm() killReason {
	close(w.stop)
	<-w.done
	return w.reason
}
