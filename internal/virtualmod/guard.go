package virtualmod

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// InitState is the lifecycle of a one-shot initialization.
type InitState int

const (
	NotStarted InitState = iota
	InProgress
	Completed
	Failed
)

func (s InitState) String() string {
	switch s {
	case NotStarted:
		return "not-started"
	case InProgress:
		return "in-progress"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

type attempt struct {
	done chan struct{}
	err  error
}

// InitGuard runs a load function at most once per session. Callers that
// arrive while the load is running wait for it and share its outcome; a
// failure is kept and returned to later callers until Reset.
type InitGuard struct {
	mu      sync.Mutex
	state   InitState
	current *attempt
}

// Do runs load if no attempt has started, otherwise returns the outcome of
// the existing attempt. The load is detached from ctx cancellation; ctx only
// bounds how long this caller waits.
func (g *InitGuard) Do(ctx context.Context, load func(context.Context) error) error {
	g.mu.Lock()
	switch g.state {
	case Completed:
		g.mu.Unlock()
		return nil
	case Failed:
		err := g.current.err
		g.mu.Unlock()
		return err
	case InProgress:
		a := g.current
		g.mu.Unlock()
		return a.wait(ctx)
	}

	a := &attempt{done: make(chan struct{})}
	g.current = a
	g.state = InProgress
	g.mu.Unlock()

	go g.run(context.WithoutCancel(ctx), a, load)
	return a.wait(ctx)
}

func (a *attempt) wait(ctx context.Context) error {
	select {
	case <-a.done:
		return a.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *InitGuard) run(ctx context.Context, a *attempt, load func(context.Context) error) {
	defer func() {
		if r := recover(); r != nil {
			a.err = fmt.Errorf("initialization panicked: %v", r)
		}

		g.mu.Lock()
		if g.current == a {
			switch {
			case a.err == nil:
				g.state = Completed
			case errors.Is(a.err, context.Canceled), errors.Is(a.err, context.DeadlineExceeded):
				// an interrupted load says nothing about the artifact
				g.state = NotStarted
				g.current = nil
			default:
				g.state = Failed
			}
		}
		close(a.done)
		g.mu.Unlock()
	}()

	a.err = load(ctx)
}

// State reports the current lifecycle state.
func (g *InitGuard) State() InitState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Err returns the cause of a failed initialization.
func (g *InitGuard) Err() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != Failed {
		return nil
	}
	return g.current.err
}

// Reset starts a new session. An attempt still running finishes for its
// waiters but no longer updates the guard.
func (g *InitGuard) Reset() {
	g.mu.Lock()
	g.state = NotStarted
	g.current = nil
	g.mu.Unlock()
}
