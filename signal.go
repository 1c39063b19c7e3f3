package lazypkg

// Signal is a one-shot settled value.
//
// Subscribers queued before Settle fire exactly once, in subscription order, with
// the settled value. Settling twice is a no-op.
type Signal[T any] struct {
	settled bool
	value   T
	waiters Queue[T]
}

// Subscribe queues cb until the signal settles. It reports false, without
// queueing, when the signal has already settled.
func (s *Signal[T]) Subscribe(cb Callback[T]) bool {
	if s.settled {
		return false
	}
	s.waiters.Add(cb)
	return true
}

// Settled reports whether Settle was called, and the settled value.
func (s *Signal[T]) Settled() (T, bool) {
	return s.value, s.settled
}

// Settle records v and runs every queued subscriber with it.
func (s *Signal[T]) Settle(v T) error {
	if s.settled {
		return nil
	}
	s.settled = true
	s.value = v
	return s.waiters.Execute(v)
}
