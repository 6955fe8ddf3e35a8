// Package scheduler replaces all sessions of the pool at a regular interval, and stops everything after the configured
// number of replacements.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HouzuoGuo/adcycle/lalog"
	"github.com/HouzuoGuo/adcycle/misc"
)

const (
	// DefaultPeriodSec is the interval between pool recycles.
	DefaultPeriodSec = 20
	// DefaultShutdownTimeoutSec bounds the final close of the pool.
	DefaultShutdownTimeoutSec = 30
)

// State is the state of the scheduler.
type State int32

const (
	StateIdle      State = iota // StateIdle means the scheduler has not started.
	StateRunning                // StateRunning means the pool is open and waiting for the next recycle.
	StateRecycling              // StateRecycling means the pool is being replaced.
	StateStopped                // StateStopped is terminal, the pool has been shut down.
)

func (state State) String() string {
	switch state {
	case StateIdle:
		return "Idle"
	case StateRunning:
		return "Running"
	case StateRecycling:
		return "Recycling"
	case StateStopped:
		return "Stopped"
	}
	return fmt.Sprintf("State(%d)", int32(state))
}

// MarshalText presents the state by its name in JSON.
func (state State) MarshalText() ([]byte, error) {
	return []byte(state.String()), nil
}

// Pool is the session pool driven by the scheduler.
type Pool interface {
	Open(ctx context.Context, capacity int) error
	Replace(ctx context.Context, capacity int) error
	Shutdown(ctx context.Context) error
}

// EventLog receives the scheduler's notable events, and is flushed when the scheduler stops.
type EventLog interface {
	Record(message string)
	Flush(ctx context.Context) error
}

var errStopped = errors.New("scheduler has stopped")

// Scheduler periodically replaces all sessions of the pool.
type Scheduler struct {
	// PeriodSec is the interval between recycles in seconds.
	PeriodSec int `json:"PeriodSec"`
	// MaxCycles is the number of completed recycles after which the scheduler stops, 0 means never.
	MaxCycles int `json:"MaxCycles"`
	// ShutdownTimeoutSec bounds the final close of the pool.
	ShutdownTimeoutSec int `json:"ShutdownTimeoutSec"`

	// Period overrides PeriodSec when it is greater than 0.
	Period time.Duration `json:"-"`
	// Capacity is the number of sessions opened in each generation.
	Capacity int `json:"-"`
	Pool     Pool `json:"-"`
	// EventLog may be nil.
	EventLog EventLog `json:"-"`
	// OnStateChange is called with the new state on every state transition, in the order of the transitions. It must not
	// block or change the state.
	OnStateChange func(State) `json:"-"`

	state      atomic.Int32
	stateMutex sync.Mutex // stateMutex serialises state changes together with their OnStateChange calls.
	cycleCount atomic.Int64
	skipped    atomic.Int64
	periodic   *misc.Periodic
	runCancel  context.CancelFunc
	recycles   sync.WaitGroup
	startOnce  sync.Once
	stopOnce   sync.Once
	done       chan struct{}
	stopErr    error
	logger     lalog.Logger
}

// Initialise validates configuration and applies defaults.
func (sched *Scheduler) Initialise() error {
	sched.logger = lalog.Logger{ComponentName: "scheduler", ComponentID: []lalog.LoggerIDField{{Key: "MaxCycles", Value: sched.MaxCycles}}}
	if sched.Pool == nil {
		return errors.New("scheduler.Initialise: Pool must not be nil")
	}
	if sched.Capacity < 1 {
		return errors.New("scheduler.Initialise: Capacity must be greater than 0")
	}
	if sched.MaxCycles < 0 {
		return errors.New("scheduler.Initialise: MaxCycles must not be negative")
	}
	if sched.PeriodSec < 1 {
		sched.PeriodSec = DefaultPeriodSec
	}
	if sched.Period <= 0 {
		sched.Period = time.Duration(sched.PeriodSec) * time.Second
	}
	if sched.ShutdownTimeoutSec < 1 {
		sched.ShutdownTimeoutSec = DefaultShutdownTimeoutSec
	}
	sched.done = make(chan struct{})
	return nil
}

func (sched *Scheduler) record(template string, values ...interface{}) {
	if sched.EventLog != nil {
		sched.EventLog.Record(fmt.Sprintf(template, values...))
	}
}

// setState unconditionally moves to the new state and returns the previous state.
func (sched *Scheduler) setState(newState State) State {
	sched.stateMutex.Lock()
	defer sched.stateMutex.Unlock()
	prev := State(sched.state.Swap(int32(newState)))
	if prev != newState && sched.OnStateChange != nil {
		sched.OnStateChange(newState)
	}
	return prev
}

// transition moves from one state to another and returns true, or returns false if the scheduler is not in the from state.
func (sched *Scheduler) transition(from, to State) bool {
	sched.stateMutex.Lock()
	defer sched.stateMutex.Unlock()
	if !sched.state.CompareAndSwap(int32(from), int32(to)) {
		return false
	}
	if sched.OnStateChange != nil {
		sched.OnStateChange(to)
	}
	return true
}

/*
Start opens the pool and begins to recycle it at regular interval. If the pool cannot be opened, the error is returned
and the scheduler does not start. Cancelling ctx stops the scheduler the same way as calling Stop.
*/
func (sched *Scheduler) Start(ctx context.Context) error {
	if sched.done == nil {
		return errors.New("scheduler.Start: scheduler has not been initialised")
	}
	err := errors.New("scheduler.Start: scheduler has already started")
	sched.startOnce.Do(func() {
		err = sched.start(ctx)
	})
	return err
}

func (sched *Scheduler) start(ctx context.Context) error {
	if err := sched.Pool.Open(ctx, sched.Capacity); err != nil {
		return fmt.Errorf("scheduler.Start: failed to open the session pool - %w", err)
	}
	runCtx, cancel := context.WithCancel(context.Background())
	sched.runCancel = cancel
	sched.periodic = &misc.Periodic{
		LogActorName:   "scheduler",
		Interval:       sched.Period,
		Func:           sched.tick,
		StableInterval: true,
		DelayFirst:     true,
	}
	if !sched.transition(StateIdle, StateRunning) {
		cancel()
		return errors.New("scheduler.Start: scheduler was stopped while starting")
	}
	if err := sched.periodic.Start(runCtx); err != nil {
		cancel()
		return fmt.Errorf("scheduler.Start: %w", err)
	}
	context.AfterFunc(ctx, func() {
		sched.beginStop("the context was cancelled")
	})
	sched.logger.Info("Start", "", nil, "opened %d sessions, recycling every %v", sched.Capacity, sched.Period)
	return nil
}

// tick is invoked by the periodic timer.
func (sched *Scheduler) tick(ctx context.Context, invocation int) error {
	sched.recycles.Add(1)
	if !sched.transition(StateRunning, StateRecycling) {
		sched.recycles.Done()
		switch state := sched.State(); state {
		case StateStopped:
			return errStopped
		default:
			skipped := sched.skipped.Add(1)
			sched.logger.Info("tick", "", nil, "skipped tick %d while the scheduler is %s, %d ticks skipped so far", invocation, state, skipped)
			sched.record("Skipped a recycle because the previous recycle is still in progress")
			return nil
		}
	}
	go sched.recycle(ctx)
	return nil
}

// recycle replaces all sessions of the pool, and stops the scheduler after the configured number of cycles.
func (sched *Scheduler) recycle(ctx context.Context) {
	defer sched.recycles.Done()
	err := sched.Pool.Replace(ctx, sched.Capacity)
	if sched.State() == StateStopped {
		return
	}
	if err != nil {
		sched.logger.Warning("recycle", "", err, "will retry at the next tick")
		sched.record("Error recycling pages: %v", err)
		sched.transition(StateRecycling, StateRunning)
		return
	}
	count := sched.cycleCount.Add(1)
	sched.logger.Info("recycle", "", nil, "completed cycle %d", count)
	if sched.MaxCycles > 0 && count >= int64(sched.MaxCycles) {
		sched.beginStop(fmt.Sprintf("completed %d cycles", count))
		return
	}
	sched.transition(StateRecycling, StateRunning)
}

// beginStop moves the scheduler to Stopped and tears everything down in the background.
func (sched *Scheduler) beginStop(reason string) {
	sched.stopOnce.Do(func() {
		prev := sched.setState(StateStopped)
		sched.logger.Info("beginStop", "", nil, "stopping from state %s because %s", prev, reason)
		go sched.teardown(reason)
	})
}

func (sched *Scheduler) teardown(reason string) {
	defer close(sched.done)
	if sched.runCancel != nil {
		sched.runCancel()
		sched.periodic.Stop()
		_ = sched.periodic.WaitForErr()
	}
	sched.recycles.Wait()
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(sched.ShutdownTimeoutSec)*time.Second)
	defer cancel()
	if err := sched.Pool.Shutdown(ctx); err != nil {
		sched.logger.Warning("teardown", "", err, "failed to shut down the session pool")
		sched.stopErr = err
	}
	sched.record("Shutting down after %d cycles: %s", sched.CycleCount(), reason)
	if sched.EventLog != nil {
		if err := sched.EventLog.Flush(ctx); err != nil {
			sched.logger.Warning("teardown", "", err, "failed to flush the event log")
			if sched.stopErr == nil {
				sched.stopErr = err
			}
		}
	}
	sched.logger.Info("teardown", "", nil, "stopped after %d cycles", sched.CycleCount())
}

// Stop shuts down the pool and stops the scheduler regardless of its state, and waits for the shutdown to complete.
func (sched *Scheduler) Stop(ctx context.Context) error {
	if sched.done == nil {
		return nil
	}
	sched.beginStop("stop was requested")
	select {
	case <-sched.done:
		return sched.stopErr
	case <-ctx.Done():
		return fmt.Errorf("scheduler.Stop: %w", ctx.Err())
	}
}

// Wait blocks until the scheduler has stopped and returns the error of the shutdown if there is any.
func (sched *Scheduler) Wait() error {
	<-sched.done
	return sched.stopErr
}

// Done returns a channel that is closed after the scheduler has stopped.
func (sched *Scheduler) Done() <-chan struct{} {
	return sched.done
}

// CycleCount returns the number of completed recycles.
func (sched *Scheduler) CycleCount() int {
	return int(sched.cycleCount.Load())
}

// SkippedTicks returns the number of ticks that arrived while a recycle was still in progress.
func (sched *Scheduler) SkippedTicks() int {
	return int(sched.skipped.Load())
}

// State returns the current state.
func (sched *Scheduler) State() State {
	return State(sched.state.Load())
}
