package sched

import (
	"fmt"
)

// FailurePolicy decides whether a failed dependency counts toward a gate.
type FailurePolicy int

const (
	// SettleOnFailure treats Failed like Completed: the gate fires and the
	// continuation inspects each dependency's Err.
	SettleOnFailure FailurePolicy = iota
	// StallOnFailure only accepts Completed dependencies, so a gate over a
	// failed dependency never fires.
	StallOnFailure
)

func (p FailurePolicy) String() string {
	switch p {
	case SettleOnFailure:
		return "settle"
	case StallOnFailure:
		return "stall"
	default:
		return fmt.Sprintf("FailurePolicy(%d)", int(p))
	}
}

// ParseFailurePolicy accepts "settle" or "stall".
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch s {
	case "", "settle":
		return SettleOnFailure, nil
	case "stall":
		return StallOnFailure, nil
	default:
		return 0, fmt.Errorf("unknown failure policy %q (supported: settle, stall)", s)
	}
}

// Continuation runs once when a gate's dependencies are satisfied. Its
// return value becomes the gate's Result; an error fails the gate.
type Continuation func(deps []Dependency) (any, error)

// Gate is a one-shot continuation over a fixed set of dependencies. A gate
// is itself a Dependency, so later gates may wait on it.
type Gate struct {
	name string
	deps []Dependency
	fn   Continuation

	state  State
	result any
	err    error
}

func (g *Gate) Name() string { return g.name }
func (g *Gate) State() State { return g.state }
func (g *Gate) Result() any  { return g.result }
func (g *Gate) Err() error   { return g.err }

// Dependencies returns a copy of the gate's inputs in declaration order.
func (g *Gate) Dependencies() []Dependency {
	out := make([]Dependency, len(g.deps))
	copy(out, g.deps)
	return out
}

// Satisfied reports whether every dependency has settled in a way the
// policy accepts.
func (g *Gate) Satisfied(policy FailurePolicy) bool {
	for _, d := range g.deps {
		switch d.State() {
		case Completed:
		case Failed:
			if policy == StallOnFailure {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// fire runs the continuation; it must be called at most once.
func (g *Gate) fire() {
	if g.fn == nil {
		g.state = Completed
		return
	}
	result, err := g.call()
	if err != nil {
		g.err = fmt.Errorf("%s: %w", g.name, err)
		g.state = Failed
		return
	}
	g.result = result
	g.state = Completed
}

func (g *Gate) call() (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return g.fn(g.Dependencies())
}
