package histsync

import "sync"

// StopSignal is a one-shot cancellation shared by a poll loop and manual
// loader. Unlike context cancellation it never aborts a request already in
// flight; it only prevents the next one. A nil *StopSignal never fires.
type StopSignal struct {
	once sync.Once
	ch   chan struct{}
}

func NewStopSignal() *StopSignal {
	return &StopSignal{ch: make(chan struct{})}
}

// Stop fires the signal. Later calls do nothing.
func (s *StopSignal) Stop() {
	if s == nil {
		return
	}
	s.once.Do(func() { close(s.ch) })
}

// Done is closed once Stop has been called.
func (s *StopSignal) Done() <-chan struct{} {
	if s == nil {
		return nil
	}
	return s.ch
}

func (s *StopSignal) Stopped() bool {
	if s == nil {
		return false
	}
	select {
	case <-s.ch:
		return true
	default:
		return false
	}
}
