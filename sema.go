package redline

// semaphore hands out a fixed number of tokens. Blocked acquirers are served
// in the order they arrived, which is what makes pool admission fair under
// an acquisition storm. Acquisition is a plain receive on ch, so callers can
// select on it together with their own cancellation channels.
type semaphore struct {
	ch chan struct{}
}

func newSemaphore(size int) semaphore {
	sema := semaphore{ch: make(chan struct{}, size)}
	for i := 0; i < cap(sema.ch); i++ {
		sema.ch <- struct{}{}
	}
	return sema
}

func (s semaphore) release() {
	select {
	case s.ch <- struct{}{}:
	default:
		panic("release called on full semaphore")
	}
}
