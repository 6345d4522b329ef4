// Package threadpool implements a fixed-ceiling, priority-queued
// worker pool: three priority levels, starvation escalation, worker
// growth/shrink, and a dedicated slot for persistent jobs (the kind
// the timer thread occupies).
//
// Scheduling is explicit locks and goroutines rather than a generic
// worker-pool library, for fine-grained control over queue admission:
// goroutines, a mutex, a notify channel standing in for a condition
// variable, and a ticker as the starvation/idle-timeout failsafe.
package threadpool

import (
	"errors"
	"sync"
	"time"
)

// Priority identifies one of the pool's three queues. Higher values
// are served first.
type Priority int

const (
	Low Priority = iota
	Med
	High

	numPriorities = int(High) + 1
)

// ErrOutOfMemory is returned by AddJob when enqueueing would cross
// Attrs.MaxJobsTotal.
var ErrOutOfMemory = errors.New("threadpool: out of memory (max jobs total reached)")

// ErrMaxThreads is returned by AddPersistent when no worker slot is
// available and the pool is already at MaxThreads.
var ErrMaxThreads = errors.New("threadpool: max threads reached")

// ErrShutdown is returned by AddJob/AddPersistent after Shutdown.
var ErrShutdown = errors.New("threadpool: pool is shut down")

// Attrs mirrors the enumerated ThreadPool attributes of the pool design.
type Attrs struct {
	MinThreads     int
	MaxThreads     int
	StackSize      int // carried for attribute-compatibility, not applied to goroutines
	MaxIdleTime    time.Duration
	JobsPerThread  int
	MaxJobsTotal   int
	StarvationTime time.Duration
	SchedPolicy    string // carried for attribute-compatibility; upnpkit always schedules via goroutines
}

// DefaultAttrs returns reasonable defaults matching config.PoolConfig's
// own defaults.
func DefaultAttrs() Attrs {
	return Attrs{
		MinThreads:     2,
		MaxThreads:     12,
		MaxIdleTime:    10 * time.Second,
		JobsPerThread:  10,
		MaxJobsTotal:   100,
		StarvationTime: 500 * time.Millisecond,
		SchedPolicy:    "other",
	}
}

// Stats is a point-in-time snapshot returned by GetStats.
type Stats struct {
	TotalThreads     int
	IdleThreads      int
	PersistentThreads int
	QueuedLow        int
	QueuedMed        int
	QueuedHigh       int
}

type job struct {
	priority   Priority
	enqueuedAt time.Time
	task       func(arg any)
	arg        any
	free       func(arg any)
	promoted   bool
}

// Pool is a fixed-ceiling, priority-queued worker pool.
type Pool struct {
	mu      sync.Mutex
	attrs   Attrs
	queues  [numPriorities][]*job
	total   int
	idle    int
	persist int

	shuttingDown bool
	stopCh       chan struct{}
	notify       chan struct{}
	wg           sync.WaitGroup
}

// New creates and starts a pool with the given attributes. It does
// not pre-warm MinThreads workers: per the pool design, growth happens
// lazily on the first AddJob calls, and MinThreads only bounds how far
// the pool may shrink back down.
func New(attrs Attrs) *Pool {
	if attrs.MaxThreads <= 0 {
		attrs.MaxThreads = 1
	}
	if attrs.MinThreads < 0 {
		attrs.MinThreads = 0
	}
	if attrs.MinThreads > attrs.MaxThreads {
		attrs.MinThreads = attrs.MaxThreads
	}
	if attrs.JobsPerThread <= 0 {
		attrs.JobsPerThread = 1
	}
	if attrs.MaxJobsTotal <= 0 {
		attrs.MaxJobsTotal = 1
	}
	if attrs.StarvationTime <= 0 {
		attrs.StarvationTime = 500 * time.Millisecond
	}
	if attrs.MaxIdleTime <= 0 {
		attrs.MaxIdleTime = 10 * time.Second
	}

	return &Pool{
		attrs:  attrs,
		stopCh: make(chan struct{}),
		notify: make(chan struct{}, 1),
	}
}

// Stopping returns a channel that's closed once Shutdown begins.
// Persistent tasks (see AddPersistent) should select on it to return
// promptly so Shutdown's final Wait doesn't block indefinitely.
func (p *Pool) Stopping() <-chan struct{} {
	return p.stopCh
}

// GetAttr returns the pool's current attributes.
func (p *Pool) GetAttr() Attrs {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attrs
}

// SetAttr updates the pool's attributes. Existing queued jobs and
// running workers are unaffected; growth/shrink decisions use the new
// values from the next scheduling decision onward.
func (p *Pool) SetAttr(attrs Attrs) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attrs = attrs
}

// AddJob enqueues task for execution at priority, passing arg when it
// runs. A job that is accepted but dropped on Shutdown has free(arg)
// invoked. A rejected job (ErrOutOfMemory or ErrShutdown) is not
// enqueued and free is not called; arg stays with the caller.
func (p *Pool) AddJob(task func(arg any), arg any, free func(arg any), priority Priority) error {
	p.mu.Lock()
	if p.shuttingDown {
		p.mu.Unlock()
		return ErrShutdown
	}
	if p.queuedLocked() >= p.attrs.MaxJobsTotal {
		p.mu.Unlock()
		return ErrOutOfMemory
	}

	j := &job{priority: clampPriority(priority), enqueuedAt: time.Now(), task: task, arg: arg, free: free}
	p.queues[j.priority] = append(p.queues[j.priority], j)
	p.maybeGrowLocked()
	p.mu.Unlock()

	p.wake()
	return nil
}

// AddPersistent starts task(arg) on a dedicated worker that is
// excluded from the growth/shrink ratio math (the pool design). Returns
// ErrMaxThreads if no slot can be created within MaxThreads.
func (p *Pool) AddPersistent(task func(arg any), arg any, free func(arg any), _ Priority) error {
	p.mu.Lock()
	if p.shuttingDown {
		p.mu.Unlock()
		return ErrShutdown
	}
	if p.total >= p.attrs.MaxThreads {
		p.mu.Unlock()
		return ErrMaxThreads
	}
	p.total++
	p.persist++
	p.wg.Add(1)
	p.mu.Unlock()

	go p.runPersistent(task, arg, free)
	return nil
}

// Shutdown drains all queues (invoking each job's free-fn), cancels
// the persistent slot by closing Stopping(), and joins every worker
// before returning.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.shuttingDown {
		p.mu.Unlock()
		p.wg.Wait()
		return
	}
	p.shuttingDown = true

	for level := range p.queues {
		for _, j := range p.queues[level] {
			if j.free != nil {
				j.free(j.arg)
			}
		}
		p.queues[level] = nil
	}
	close(p.stopCh)
	p.mu.Unlock()

	p.wg.Wait()
}

// GetStats returns a snapshot of queue depths and worker counts.
func (p *Pool) GetStats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		TotalThreads:      p.total,
		IdleThreads:       p.idle,
		PersistentThreads: p.persist,
		QueuedLow:         len(p.queues[Low]),
		QueuedMed:         len(p.queues[Med]),
		QueuedHigh:        len(p.queues[High]),
	}
}

func clampPriority(pr Priority) Priority {
	if pr < Low {
		return Low
	}
	if pr > High {
		return High
	}
	return pr
}

func (p *Pool) queuedLocked() int {
	n := 0
	for level := range p.queues {
		n += len(p.queues[level])
	}
	return n
}

// maybeGrowLocked implements the pool design's worker-growth rule. Must
// be called with p.mu held.
func (p *Pool) maybeGrowLocked() {
	regular := p.total - p.persist
	queued := p.queuedLocked()
	if (regular == 0 || queued/max(regular, 1) >= p.attrs.JobsPerThread) && p.total < p.attrs.MaxThreads {
		p.total++
		p.wg.Add(1)
		go p.workerLoop()
	}
}

func (p *Pool) wake() {
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// workerLoop is a regular (non-persistent) worker: it services the
// highest-priority non-empty queue, promotes starved heads of the med
// and low queues, and shrinks itself away after MaxIdleTime once the
// pool is above MinThreads.
func (p *Pool) workerLoop() {
	defer p.wg.Done()

	tick := p.attrs.StarvationTime / 4
	if tick <= 0 || tick > 50*time.Millisecond {
		tick = 50 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	var idleSince time.Time

	for {
		select {
		case <-p.stopCh:
			p.mu.Lock()
			p.total--
			p.mu.Unlock()
			return
		case <-p.notify:
		case <-ticker.C:
		}

		p.mu.Lock()
		p.promoteStarvedLocked()
		j := p.popNextLocked()
		if j == nil {
			if idleSince.IsZero() {
				idleSince = time.Now()
			}
			p.idle++
			idle := time.Since(idleSince)
			shrink := idle >= p.attrs.MaxIdleTime && p.total > p.attrs.MinThreads
			if !shrink && p.total > p.attrs.MaxThreads {
				// Attrs were lowered underneath us; leave regardless of idle time.
				shrink = true
			}
			p.idle--
			if shrink {
				p.total--
				p.mu.Unlock()
				return
			}
			p.mu.Unlock()
			continue
		}
		idleSince = time.Time{}
		p.mu.Unlock()

		j.task(j.arg)
	}
}

// popNextLocked removes and returns the oldest job from the
// highest-priority non-empty queue. Must be called with p.mu held.
func (p *Pool) popNextLocked() *job {
	for level := numPriorities - 1; level >= 0; level-- {
		q := p.queues[level]
		if len(q) == 0 {
			continue
		}
		j := q[0]
		p.queues[level] = q[1:]
		return j
	}
	return nil
}

// promoteStarvedLocked implements the starvation-escalation rule:
// whenever a worker wakes, the head of the med and low queues is
// promoted one level if it has waited at least StarvationTime. The
// promoted job is placed in the higher queue by enqueue time, ahead of
// any job that arrived after it. The promoted flag makes this
// idempotent — a job is bumped at most once.
// Must be called with p.mu held.
func (p *Pool) promoteStarvedLocked() {
	now := time.Now()
	for level := Low; level < High; level++ {
		q := p.queues[level]
		if len(q) == 0 {
			continue
		}
		head := q[0]
		if head.promoted || now.Sub(head.enqueuedAt) < p.attrs.StarvationTime {
			continue
		}
		p.queues[level] = q[1:]
		head.promoted = true
		head.priority = level + 1
		up := p.queues[level+1]
		i := len(up)
		for i > 0 && up[i-1].enqueuedAt.After(head.enqueuedAt) {
			i--
		}
		up = append(up, nil)
		copy(up[i+1:], up[i:])
		up[i] = head
		p.queues[level+1] = up
	}
}

func (p *Pool) runPersistent(task func(arg any), arg any, free func(arg any)) {
	defer p.wg.Done()
	defer func() {
		p.mu.Lock()
		p.total--
		p.persist--
		p.mu.Unlock()
	}()

	select {
	case <-p.stopCh:
		if free != nil {
			free(arg)
		}
		return
	default:
	}

	task(arg)
}
