// Package pipeline sequences the clean, compile, bundle and verify stages of
// a build. Stages run strictly one after another and the first failure ends
// the run; nothing is retried.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is a step of the build state machine.
type State int

const (
	Idle State = iota
	Cleaning
	Compiling
	Bundling
	Verifying
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Cleaning:
		return "cleaning"
	case Compiling:
		return "compiling"
	case Bundling:
		return "bundling"
	case Verifying:
		return "verifying"
	case Done:
		return "done"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var (
	// ErrAlreadyRun is returned when Run is called on a used orchestrator.
	ErrAlreadyRun = errors.New("pipeline: orchestrator already ran")
	// ErrStageOrder is returned by New for stages out of canonical order.
	ErrStageOrder = errors.New("pipeline: stages out of order")
)

// Stage is one step of the pipeline.
type Stage struct {
	Name  string
	State State
	Run   func(ctx context.Context) error
}

// StageError reports the stage that stopped the pipeline.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// TransitionFunc observes state changes.
type TransitionFunc func(from, to State)

// Orchestrator runs a fixed list of stages once.
type Orchestrator struct {
	stages   []Stage
	logger   *zap.Logger
	observer TransitionFunc

	mu    sync.Mutex
	state State
}

// New validates that stages are in canonical state order (each stage's state
// strictly after the previous one, all between Cleaning and Verifying).
func New(logger *zap.Logger, stages ...Stage) (*Orchestrator, error) {
	prev := Idle
	for _, stage := range stages {
		if stage.State <= prev || stage.State < Cleaning || stage.State > Verifying {
			return nil, fmt.Errorf("%w: %s (%s) after %s", ErrStageOrder, stage.Name, stage.State, prev)
		}
		if stage.Run == nil {
			return nil, fmt.Errorf("pipeline: stage %s has no run function", stage.Name)
		}
		prev = stage.State
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{stages: stages, logger: logger}, nil
}

// OnTransition registers fn to be called on every state change.
func (o *Orchestrator) OnTransition(fn TransitionFunc) {
	o.observer = fn
}

// State returns the current state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) transition(to State) {
	o.mu.Lock()
	from := o.state
	o.state = to
	o.mu.Unlock()

	if o.observer != nil {
		o.observer(from, to)
	}
}

// Run executes the stages in order. A stage starts only after the previous
// one returned nil.
func (o *Orchestrator) Run(ctx context.Context) error {
	if o.State() != Idle {
		return ErrAlreadyRun
	}

	for _, stage := range o.stages {
		o.transition(stage.State)
		o.logger.Info("stage started", zap.String("stage", stage.Name))

		start := time.Now()
		if err := stage.Run(ctx); err != nil {
			o.logger.Error("stage failed",
				zap.String("stage", stage.Name),
				zap.Duration("duration", time.Since(start)),
				zap.Error(err),
			)
			o.transition(Failed)
			return &StageError{Stage: stage.Name, Err: err}
		}

		o.logger.Info("stage completed",
			zap.String("stage", stage.Name),
			zap.Duration("duration", time.Since(start)),
		)
	}

	o.transition(Done)
	return nil
}
