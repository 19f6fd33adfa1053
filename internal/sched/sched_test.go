package sched

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

// fakeOp completes after a number of Done calls, or when finish is called.
type fakeOp struct {
	remaining int
	done      bool
	err       error
	payload   []byte
}

func (o *fakeOp) Done() bool {
	if o.done {
		return true
	}
	if o.remaining > 0 {
		o.remaining--
		if o.remaining == 0 {
			o.done = true
		}
	}
	return o.done
}

func (o *fakeOp) Err() error      { return o.err }
func (o *fakeOp) Payload() []byte { return o.payload }

func (o *fakeOp) finish(payload string) { o.done, o.payload = true, []byte(payload) }
func (o *fakeOp) failWith(err error)    { o.done, o.err = true, err }

func TestTaskPollPending(t *testing.T) {
	called := false
	task := NewTask("geometry", &fakeOp{}, func([]byte) error {
		called = true
		return nil
	})

	for i := 0; i < 3; i++ {
		if got := task.Poll(); got != Pending {
			t.Fatalf("Poll() = %v, want pending", got)
		}
	}
	if called {
		t.Error("callback ran before operation finished")
	}
}

func TestTaskCompletesOnce(t *testing.T) {
	op := &fakeOp{}
	var calls []string
	task := NewTask("geometry", op, func(p []byte) error {
		calls = append(calls, string(p))
		return nil
	})

	op.finish("payload")
	for i := 0; i < 3; i++ {
		task.Poll()
	}

	if task.State() != Completed {
		t.Errorf("State() = %v, want completed", task.State())
	}
	if diff := cmp.Diff([]string{"payload"}, calls); diff != "" {
		t.Errorf("callback calls (-want +got):\n%s", diff)
	}
	if string(task.Payload()) != "payload" {
		t.Errorf("Payload() = %q, want %q", task.Payload(), "payload")
	}
}

func TestTaskFailures(t *testing.T) {
	errFetch := errors.New("connection refused")
	errParse := errors.New("bad json")

	tests := []struct {
		name     string
		opErr    error
		callback SuccessFunc
		wantErr  error
		wantCall bool
	}{
		{
			name:    "operation error",
			opErr:   errFetch,
			wantErr: errFetch,
		},
		{
			name:     "callback error",
			callback: func([]byte) error { return errParse },
			wantErr:  errParse,
			wantCall: true,
		},
		{
			name:     "callback panic",
			callback: func([]byte) error { panic("index out of range") },
			wantCall: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op := &fakeOp{done: true, err: tt.opErr}
			called := false
			task := NewTask("image", op, func(p []byte) error {
				called = true
				if tt.callback != nil {
					return tt.callback(p)
				}
				return nil
			})

			if got := task.Poll(); got != Failed {
				t.Fatalf("Poll() = %v, want failed", got)
			}
			if called != tt.wantCall {
				t.Errorf("callback called = %v, want %v", called, tt.wantCall)
			}
			if task.Err() == nil {
				t.Fatal("Err() = nil, want error")
			}
			if tt.wantErr != nil && !errors.Is(task.Err(), tt.wantErr) {
				t.Errorf("Err() = %v, want wrapping %v", task.Err(), tt.wantErr)
			}
		})
	}
}

func TestWhenDoneRequiresDependencies(t *testing.T) {
	s := New(SettleOnFailure)
	if _, err := s.WhenDone("empty", nil); !errors.Is(err, ErrNoDependencies) {
		t.Errorf("WhenDone() err = %v, want ErrNoDependencies", err)
	}
}

func TestGateWaitsForAllAndFiresOnce(t *testing.T) {
	s := New(SettleOnFailure)
	image, meta := &fakeOp{}, &fakeOp{}
	ti := s.Start("image", image, nil)
	tm := s.Start("metadata", meta, nil)

	fired := 0
	g, err := s.WhenDone("image data", func(deps []Dependency) (any, error) {
		fired++
		return len(deps), nil
	}, ti, tm)
	if err != nil {
		t.Fatalf("WhenDone: %v", err)
	}

	image.finish("png")
	s.Tick()
	if fired != 0 {
		t.Fatal("gate fired with a dependency still pending")
	}

	meta.finish("{}")
	for i := 0; i < 5; i++ {
		s.Tick()
	}

	if fired != 1 {
		t.Errorf("continuation ran %d times, want 1", fired)
	}
	if g.State() != Completed || g.Result() != 2 {
		t.Errorf("gate = %v/%v, want completed/2", g.State(), g.Result())
	}
	if !s.Done() {
		t.Error("Done() = false after the only gate fired")
	}
	if tasks, gates := s.Pending(); tasks != 0 || gates != 0 {
		t.Errorf("Pending() = %d, %d, want 0, 0", tasks, gates)
	}
}

func TestGatesFireInRegistrationOrder(t *testing.T) {
	s := New(SettleOnFailure)
	op := &fakeOp{}
	task := s.Start("geometry", op, nil)

	var order []string
	for _, name := range []string{"first", "second", "third"} {
		name := name
		if _, err := s.WhenDone(name, func([]Dependency) (any, error) {
			order = append(order, name)
			return nil, nil
		}, task); err != nil {
			t.Fatalf("WhenDone(%s): %v", name, err)
		}
	}

	op.finish("")
	s.Tick()

	if diff := cmp.Diff([]string{"first", "second", "third"}, order); diff != "" {
		t.Errorf("firing order (-want +got):\n%s", diff)
	}
}

func TestGateAsDependencyFiresSameTick(t *testing.T) {
	s := New(SettleOnFailure)
	image, meta, geometry := &fakeOp{}, &fakeOp{}, &fakeOp{}
	ti := s.Start("image", image, nil)
	tm := s.Start("metadata", meta, nil)
	tg := s.Start("geometry", geometry, nil)

	imageData, _ := s.WhenDone("image data", func([]Dependency) (any, error) {
		return "fit", nil
	}, ti, tm)

	var seen any
	all, _ := s.WhenDone("all loading", func(deps []Dependency) (any, error) {
		seen = deps[0].Result()
		return nil, nil
	}, imageData, tg)

	image.finish("png")
	meta.finish("{}")
	geometry.finish("[]")
	s.Tick()

	if imageData.State() != Completed || all.State() != Completed {
		t.Fatalf("states = %v, %v; want both completed after one tick", imageData.State(), all.State())
	}
	if seen != "fit" {
		t.Errorf("downstream gate saw %v, want upstream result", seen)
	}
	if ticks, fired := s.Stats(); ticks != 1 || fired != 2 {
		t.Errorf("Stats() = %d ticks, %d fired; want 1, 2", ticks, fired)
	}
}

func TestFailurePolicy(t *testing.T) {
	errFetch := errors.New("503 Service Unavailable")

	tests := []struct {
		policy       FailurePolicy
		wantUpstream State
		wantAll      State
		wantDone     bool
	}{
		{SettleOnFailure, Failed, Completed, true},
		{StallOnFailure, Pending, Pending, false},
	}

	for _, tt := range tests {
		t.Run(tt.policy.String(), func(t *testing.T) {
			s := New(tt.policy)
			image, meta, geometry := &fakeOp{}, &fakeOp{}, &fakeOp{}
			ti := s.Start("image", image, nil)
			tm := s.Start("metadata", meta, nil)
			tg := s.Start("geometry", geometry, nil)

			imageData, _ := s.WhenDone("image data", func(deps []Dependency) (any, error) {
				for _, d := range deps {
					if d.Err() != nil {
						return nil, d.Err()
					}
				}
				return "fit", nil
			}, ti, tm)
			all, _ := s.WhenDone("all loading", func([]Dependency) (any, error) {
				return nil, nil
			}, imageData, tg)

			image.failWith(errFetch)
			meta.finish("{}")
			geometry.finish("[]")
			for i := 0; i < 4; i++ {
				s.Tick()
			}

			if imageData.State() != tt.wantUpstream {
				t.Errorf("image data gate = %v, want %v", imageData.State(), tt.wantUpstream)
			}
			if all.State() != tt.wantAll {
				t.Errorf("all loading gate = %v, want %v", all.State(), tt.wantAll)
			}
			if s.Done() != tt.wantDone {
				t.Errorf("Done() = %v, want %v", s.Done(), tt.wantDone)
			}
			if tt.policy == SettleOnFailure && !errors.Is(imageData.Err(), errFetch) {
				t.Errorf("image data Err() = %v, want wrapping %v", imageData.Err(), errFetch)
			}
		})
	}
}

func TestParseFailurePolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    FailurePolicy
		wantErr bool
	}{
		{"", SettleOnFailure, false},
		{"settle", SettleOnFailure, false},
		{"stall", StallOnFailure, false},
		{"retry", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseFailurePolicy(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseFailurePolicy(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseFailurePolicy(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestRunStopsWhenGatesRetire(t *testing.T) {
	s := New(SettleOnFailure)
	task := s.Start("geometry", &fakeOp{remaining: 3}, nil)
	g, _ := s.WhenDone("all loading", nil, task)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.Run(ctx, time.Millisecond); err != nil {
		t.Fatalf("Run() = %v", err)
	}
	if g.State() != Completed {
		t.Errorf("gate = %v, want completed", g.State())
	}
}

func TestRunHonoursContext(t *testing.T) {
	s := New(StallOnFailure)
	task := s.Start("geometry", &fakeOp{}, nil)
	if _, err := s.WhenDone("never", nil, task); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := s.Run(ctx, time.Millisecond); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Run() = %v, want context.DeadlineExceeded", err)
	}
	if s.Done() {
		t.Error("Done() = true with a pending gate")
	}
}
