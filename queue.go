package lazypkg

// Callback is a queued function receiving the argument passed to Queue.Execute.
type Callback[T any] func(arg T) error

// Subscription identifies one queued callback so it can be removed.
type Subscription[T any] struct {
	fn Callback[T]
}

// Queue is an ordered list of pending callbacks.
//
// Execute only runs the callbacks that were queued when it was called. Callbacks
// added while Execute runs stay queued for the next Execute.
type Queue[T any] struct {
	subs []*Subscription[T]
}

// Add appends cb to the queue.
func (q *Queue[T]) Add(cb Callback[T]) *Subscription[T] {
	sub := &Subscription[T]{fn: cb}
	q.subs = append(q.subs, sub)
	return sub
}

// Remove deletes sub from the queue. It is a no-op if sub is not queued.
func (q *Queue[T]) Remove(sub *Subscription[T]) {
	q.take(sub)
}

// Len returns the number of queued callbacks.
func (q *Queue[T]) Len() int {
	return len(q.subs)
}

// Execute runs and removes the callbacks queued at call time, in insertion order.
// The first callback error stops the drain and is returned; callbacks that did not
// run stay queued.
func (q *Queue[T]) Execute(arg T) error {
	snapshot := append([]*Subscription[T](nil), q.subs...)
	for _, sub := range snapshot {
		if !q.take(sub) {
			continue
		}
		if err := sub.fn(arg); err != nil {
			return err
		}
	}
	return nil
}

// take removes sub and reports whether it was still queued.
func (q *Queue[T]) take(sub *Subscription[T]) bool {
	for i := range q.subs {
		if q.subs[i] == sub {
			q.subs = append(q.subs[:i], q.subs[i+1:]...)
			return true
		}
	}
	return false
}
