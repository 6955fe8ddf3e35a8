package misc

import (
	"context"
	"errors"
	"time"

	"github.com/HouzuoGuo/adcycle/lalog"
)

// Periodic invokes a function continuously with a regular interval in between.
type Periodic struct {
	// LogActorName is a string used in log messages. These messages are rare.
	LogActorName string
	// Interval between each invocation.
	Interval time.Duration
	// Func is the function to be invoked at regular interval. With each
	// invocation, the function receives a context, which may be cancelled,
	// and the invocation number starting with 0.
	// If the function returns a non-nil error, then the periodic invocation
	// will stop entirely. The function's error can be retrieved by calling
	// WaitForErr function.
	Func func(context.Context, int) error
	// StableInterval lines up the start of each invocation of the function to
	// the interval.
	// Otherwise, the interval between consecutive invocations of the function
	// will always be the fixed duration.
	StableInterval bool
	// DelayFirst waits for an interval before the very first invocation.
	// Otherwise the first invocation happens as soon as Start is called.
	DelayFirst bool

	cancelFunc  func()
	funcErrChan chan error
	funcErr     error
}

// Start invoking the periodic function continuously at regular interval.
// The function does not block caller.
// Optionally, use WaitForErr to block-wait for the periodic function to return
// an error, in which case the periodic invocations will stop entirely.
func (p *Periodic) Start(ctx context.Context) error {
	if p.Interval <= 0 {
		return errors.New("Interval must be greater than 0")
	}
	if p.Func == nil {
		return errors.New("Func must not be nil")
	}
	ctx, cancelFunc := context.WithCancel(ctx)
	p.cancelFunc = cancelFunc
	p.funcErrChan = make(chan error, 1)
	p.funcErr = nil
	go func() {
		if p.DelayFirst {
			select {
			case <-time.After(p.Interval):
			case <-ctx.Done():
				p.funcErrChan <- ctx.Err()
				return
			}
		}
		for invocation := 0; ; invocation++ {
			startTime := time.Now()
			if err := p.Func(ctx, invocation); err != nil {
				lalog.DefaultLogger.Info("Periodic.Start", p.LogActorName, err, "stop after %d invocations", invocation+1)
				p.funcErrChan <- err
				return
			}
			waitInterval := p.Interval
			if p.StableInterval {
				// Handle overrun (the previous invocation took longer than
				// the regular interval) by waiting for the next interval
				// to start.
				runDuration := time.Since(startTime)
				if runDuration > waitInterval {
					waitInterval -= runDuration % waitInterval
				} else {
					waitInterval -= runDuration
				}
			}
			select {
			case <-time.After(waitInterval):
			case <-ctx.Done():
				p.funcErrChan <- ctx.Err()
				return
			}
		}
	}()
	return nil
}

// WaitForErr waits for the periodically invoked function or its context to return an error,
// and then returns the error to the caller. The function blocks caller.
func (p *Periodic) WaitForErr() error {
	if p.funcErr == nil {
		p.funcErr = <-p.funcErrChan
	}
	return p.funcErr
}

// Stop the periodic invocation of the function. The result of the final
// invocation can be discovered from the return value of WaitForErr function.
func (p *Periodic) Stop() {
	if p.cancelFunc != nil {
		p.cancelFunc()
	}
}
