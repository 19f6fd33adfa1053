package sched

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/wegman-software/osm2scene-go/internal/logger"
)

// DefaultTickInterval is used by Run when no positive interval is given.
const DefaultTickInterval = 16 * time.Millisecond

// ErrNoDependencies is returned by WhenDone for a gate without inputs.
var ErrNoDependencies = errors.New("sched: gate needs at least one dependency")

// Scheduler owns the tasks and gates of one load. It is not safe for
// concurrent use; drive it from a single goroutine.
type Scheduler struct {
	policy FailurePolicy
	tasks  []*Task
	gates  []*Gate
	ticks  int
	fired  int
}

// New creates an empty scheduler.
func New(policy FailurePolicy) *Scheduler {
	return &Scheduler{policy: policy}
}

// Policy returns the failure policy gates are evaluated under.
func (s *Scheduler) Policy() FailurePolicy { return s.policy }

// AddTask registers t for polling.
func (s *Scheduler) AddTask(t *Task) *Task {
	s.tasks = append(s.tasks, t)
	return t
}

// Start wraps op in a task and registers it.
func (s *Scheduler) Start(name string, op Operation, onSuccess SuccessFunc) *Task {
	return s.AddTask(NewTask(name, op, onSuccess))
}

// WhenDone registers a gate that runs fn once every dependency in deps has
// settled. Gates are evaluated in the order they were registered.
func (s *Scheduler) WhenDone(name string, fn Continuation, deps ...Dependency) (*Gate, error) {
	if len(deps) == 0 {
		return nil, ErrNoDependencies
	}
	for _, d := range deps {
		if d == nil {
			return nil, errors.New("sched: nil dependency for gate " + name)
		}
	}
	g := &Gate{
		name: name,
		deps: append([]Dependency(nil), deps...),
		fn:   fn,
	}
	s.gates = append(s.gates, g)
	return g, nil
}

// Tick polls every active task, retires those that settled, then scans the
// gates in registration order and fires each newly satisfied one. A gate
// that depends on an earlier gate can therefore fire in the same tick.
func (s *Scheduler) Tick() {
	s.ticks++

	active := s.tasks[:0]
	for _, t := range s.tasks {
		if !t.Poll().Settled() {
			active = append(active, t)
		}
	}
	clear(s.tasks[len(active):])
	s.tasks = active

	waiting := s.gates[:0]
	for _, g := range s.gates {
		if !g.Satisfied(s.policy) {
			waiting = append(waiting, g)
			continue
		}
		g.fire()
		s.fired++

		log := logger.Get()
		if g.err != nil {
			log.Warn("Gate failed",
				zap.String("gate", g.name),
				zap.Int("tick", s.ticks),
				zap.Error(g.err))
		} else {
			log.Debug("Gate fired",
				zap.String("gate", g.name),
				zap.Int("tick", s.ticks))
		}
	}
	clear(s.gates[len(waiting):])
	s.gates = waiting
}

// Done reports whether every registered gate has fired.
func (s *Scheduler) Done() bool {
	return len(s.gates) == 0
}

// Pending returns the number of unsettled tasks and unfired gates.
func (s *Scheduler) Pending() (tasks, gates int) {
	return len(s.tasks), len(s.gates)
}

// Stats returns the number of ticks run and gates fired so far.
func (s *Scheduler) Stats() (ticks, fired int) {
	return s.ticks, s.fired
}

// Run ticks on a fixed interval until every gate has fired or ctx is done.
// It ticks once immediately so already-finished work is picked up without
// waiting a full interval.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultTickInterval
	}

	s.Tick()
	if s.Done() {
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			tasks, gates := s.Pending()
			logger.Get().Warn("Scheduler stopped before completion",
				zap.Int("pending_tasks", tasks),
				zap.Int("pending_gates", gates),
				zap.Error(ctx.Err()))
			return ctx.Err()
		case <-ticker.C:
			s.Tick()
			if s.Done() {
				return nil
			}
		}
	}
}
