package bulk

import "sync"

// CancellationToken is a one-way flag shared between the run loop and
// whoever asks it to stop. The loop checks it between items only.
type CancellationToken struct {
	once sync.Once
	done chan struct{}
}

func NewCancellationToken() *CancellationToken {
	return &CancellationToken{done: make(chan struct{})}
}

// Cancel marks the token cancelled. Safe to call more than once.
func (t *CancellationToken) Cancel() {
	t.once.Do(func() { close(t.done) })
}

func (t *CancellationToken) Cancelled() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Done is closed once Cancel has been called.
func (t *CancellationToken) Done() <-chan struct{} {
	return t.done
}
