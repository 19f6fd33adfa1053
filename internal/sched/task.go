// Package sched coordinates independent long-running operations through a
// polled tick. Tasks wrap an Operation and settle exactly once; gates run a
// continuation once every dependency they name has settled.
//
// Everything in this package is driven from a single goroutine: the one
// calling Scheduler.Tick (or Scheduler.Run). Operations may complete on
// other goroutines but are only observed through their non-blocking Done.
package sched

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/wegman-software/osm2scene-go/internal/logger"
)

// State is the lifecycle of a task or gate.
type State int

const (
	Pending State = iota
	Completed
	Failed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Settled reports whether s is terminal.
func (s State) Settled() bool {
	return s == Completed || s == Failed
}

// Operation is a unit of work running somewhere else. Done must never block.
// Err and Payload are only consulted after Done has returned true.
type Operation interface {
	Done() bool
	Err() error
	Payload() []byte
}

// Dependency is anything a gate can wait on: tasks and other gates.
type Dependency interface {
	Name() string
	State() State
	Result() any
	Err() error
}

// SuccessFunc consumes the payload of a completed operation. A non-nil
// error moves the task to Failed.
type SuccessFunc func(payload []byte) error

// Task tracks one Operation from Pending to Completed or Failed.
type Task struct {
	name      string
	op        Operation
	onSuccess SuccessFunc

	state   State
	payload []byte
	err     error
}

// NewTask creates a pending task. onSuccess may be nil.
func NewTask(name string, op Operation, onSuccess SuccessFunc) *Task {
	return &Task{
		name:      name,
		op:        op,
		onSuccess: onSuccess,
	}
}

func (t *Task) Name() string    { return t.name }
func (t *Task) State() State    { return t.state }
func (t *Task) Err() error      { return t.err }
func (t *Task) Payload() []byte { return t.payload }

// Result returns the payload as an any so tasks satisfy Dependency.
func (t *Task) Result() any { return t.payload }

// Poll advances the task without blocking and returns the resulting state.
// Once the task has settled Poll does nothing. On success the callback runs
// synchronously, on the polling goroutine, before the task reports Completed.
func (t *Task) Poll() State {
	if t.state.Settled() {
		return t.state
	}
	if !t.op.Done() {
		return t.state
	}

	log := logger.Get()

	if err := t.op.Err(); err != nil {
		t.fail(fmt.Errorf("%s: %w", t.name, err))
		log.Warn("Task failed",
			zap.String("task", t.name),
			zap.Error(err))
		return t.state
	}

	t.payload = t.op.Payload()
	if err := t.runCallback(); err != nil {
		t.fail(fmt.Errorf("%s: callback: %w", t.name, err))
		log.Error("Task callback failed",
			zap.String("task", t.name),
			zap.Error(err))
		return t.state
	}

	t.state = Completed
	log.Debug("Task completed",
		zap.String("task", t.name),
		zap.Int("bytes", len(t.payload)))
	return t.state
}

func (t *Task) fail(err error) {
	t.err = err
	t.state = Failed
}

func (t *Task) runCallback() (err error) {
	if t.onSuccess == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return t.onSuccess(t.payload)
}
