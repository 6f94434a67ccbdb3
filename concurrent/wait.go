package concurrent

import "sync"

// A Wait tracks a set of in-flight goroutines and exposes their joint
// completion as a channel, so shutdown paths can select on it alongside
// timeouts and close signals.
type Wait interface {
	Inc()
	Dec()
	Wait() <-chan struct{}
}

func NewWait() Wait {
	return &chanWait{}
}

// chanWait adapts a sync.WaitGroup to a channel.  Each Wait call spawns
// one short-lived goroutine that closes the returned channel once the
// group drains.
type chanWait struct {
	group sync.WaitGroup
}

func (w *chanWait) Inc() {
	w.group.Add(1)
}

func (w *chanWait) Dec() {
	w.group.Done()
}

func (w *chanWait) Wait() <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.group.Wait()
	}()

	return done
}
