// Package timer implements the ordered delayed-dispatch engine of
// the timer design: a single sorted queue of TimerEvents that hands due
// jobs to a threadpool.Pool, in due-time order with ties broken by
// insertion order.
//
// The queue itself runs as one persistent job on the pool it serves
// (the component overview: "TimerThread... delivers due jobs to the ThreadPool"),
// so Thread.Start occupies the pool's single dedicated slot rather
// than spawning an independent goroutine outside the pool's
// accounting.
//
// Due-time comparisons go through a clockwork.Clock instead of
// time.Now()/time.After() directly, so tests can drive a
// clockwork.FakeClock instead of sleeping — the pattern is new to this
// repo but the dependency is drawn from the wider retrieved corpus,
// which reaches for clockwork for exactly this kind of deterministic
// delay/expiry test.
package timer

import (
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/jroosing/upnpkit/internal/threadpool"
)

// Persistence mirrors the data model's TimerEvent.persistence field.
type Persistence int

const (
	ShortTerm Persistence = iota
	PersistentEvent
)

// ErrShutdown is returned by ScheduleAt/ScheduleAfter after Shutdown
// has been called.
var ErrShutdown = errors.New("timer: thread is shut down")

// ErrNotPending is returned by Remove when id has already fired or
// never existed.
var ErrNotPending = errors.New("timer: event not pending")

type event struct {
	id          int64
	due         time.Time
	seq         int64
	persistence Persistence
	task        func(arg any)
	arg         any
	free        func(arg any)
	priority    threadpool.Priority
}

// Thread is the ordered timer queue.
type Thread struct {
	clock clockwork.Clock
	pool  *threadpool.Pool

	mu     sync.Mutex
	events []*event
	nextID int64
	seq    int64

	notify       chan struct{}
	stopCh       chan struct{}
	doneCh       chan struct{}
	shuttingDown bool
}

// New creates a Thread driven by clock. Pass clockwork.NewRealClock()
// in production and a clockwork.NewFakeClock() in tests.
func New(clock clockwork.Clock) *Thread {
	return &Thread{
		clock:  clock,
		notify: make(chan struct{}, 1),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start occupies pool's persistent slot with the dispatch loop. It
// must be called exactly once.
func (t *Thread) Start(pool *threadpool.Pool) error {
	t.pool = pool
	return pool.AddPersistent(func(any) { t.run() }, nil, nil, threadpool.High)
}

// ScheduleAt arms an event at an absolute due time.
func (t *Thread) ScheduleAt(due time.Time, persistence Persistence, task func(arg any), arg any, free func(arg any), priority threadpool.Priority) (int64, error) {
	return t.schedule(due, persistence, task, arg, free, priority)
}

// ScheduleAfter arms an event relative to now.
func (t *Thread) ScheduleAfter(d time.Duration, persistence Persistence, task func(arg any), arg any, free func(arg any), priority threadpool.Priority) (int64, error) {
	return t.schedule(t.clock.Now().Add(d), persistence, task, arg, free, priority)
}

func (t *Thread) schedule(due time.Time, persistence Persistence, task func(arg any), arg any, free func(arg any), priority threadpool.Priority) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.shuttingDown {
		return 0, ErrShutdown
	}

	t.nextID++
	t.seq++
	e := &event{
		id:          t.nextID,
		due:         due,
		seq:         t.seq,
		persistence: persistence,
		task:        task,
		arg:         arg,
		free:        free,
		priority:    priority,
	}
	t.insertLocked(e)
	t.wake()
	return e.id, nil
}

// insertLocked keeps t.events sorted ascending by due time, ties
// broken by seq (insertion order). Must be called with t.mu held.
func (t *Thread) insertLocked(e *event) {
	i := 0
	for ; i < len(t.events); i++ {
		other := t.events[i]
		if e.due.Before(other.due) {
			break
		}
		if e.due.Equal(other.due) && e.seq < other.seq {
			break
		}
	}
	t.events = append(t.events, nil)
	copy(t.events[i+1:], t.events[i:])
	t.events[i] = e
}

// Remove cancels a not-yet-dispatched event, invoking its free-fn on
// arg. Returns ErrNotPending if id is unknown or already dispatched.
func (t *Thread) Remove(id int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i, e := range t.events {
		if e.id != id {
			continue
		}
		t.events = append(t.events[:i], t.events[i+1:]...)
		if e.free != nil {
			e.free(e.arg)
		}
		t.wake()
		return nil
	}
	return ErrNotPending
}

// Shutdown flags the thread for termination, frees every still-queued
// event's arg, and waits for the dispatch loop's acknowledgment.
func (t *Thread) Shutdown() {
	t.mu.Lock()
	if t.shuttingDown {
		t.mu.Unlock()
		<-t.doneCh
		return
	}
	t.shuttingDown = true
	for _, e := range t.events {
		if e.free != nil {
			e.free(e.arg)
		}
	}
	t.events = nil
	close(t.stopCh)
	t.mu.Unlock()

	<-t.doneCh
}

func (t *Thread) wake() {
	select {
	case t.notify <- struct{}{}:
	default:
	}
}

// run is the dispatch loop: best-effort timer accuracy, but due-time
// order is always preserved (the timer design's guarantee).
func (t *Thread) run() {
	defer close(t.doneCh)

	for {
		t.mu.Lock()
		if t.shuttingDown {
			t.mu.Unlock()
			return
		}

		if len(t.events) == 0 {
			t.mu.Unlock()
			select {
			case <-t.notify:
			case <-t.stopCh:
			}
			continue
		}

		head := t.events[0]
		now := t.clock.Now()
		if !now.Before(head.due) {
			t.events = t.events[1:]
			t.mu.Unlock()
			t.dispatch(head)
			continue
		}

		wait := head.due.Sub(now)
		t.mu.Unlock()

		select {
		case <-t.clock.After(wait):
		case <-t.notify:
		case <-t.stopCh:
		}
	}
}

func (t *Thread) dispatch(e *event) {
	var err error
	if e.persistence == PersistentEvent {
		err = t.pool.AddPersistent(e.task, e.arg, e.free, e.priority)
	} else {
		err = t.pool.AddJob(e.task, e.arg, e.free, e.priority)
	}
	if err != nil && e.free != nil {
		e.free(e.arg)
	}
}
