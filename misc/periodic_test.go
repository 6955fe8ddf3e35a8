package misc

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"
)

func TestPeriodic_Start(t *testing.T) {
	p := &Periodic{Func: func(context.Context, int) error {
		return nil
	}}
	if err := p.Start(context.Background()); err == nil {
		t.Fatal("must not start when Interval is 0")
	}
	p.Interval = 1 * time.Second
	p.Func = nil
	if err := p.Start(context.Background()); err == nil {
		t.Fatal("must not start without Func")
	}
	p.Func = func(context.Context, int) error { return nil }
	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	p.Stop()
	if err := p.WaitForErr(); err != context.Canceled {
		t.Fatalf("unexpected error return: %+v", err)
	}
	// Repeatedly stopping should have no negative consequence
	p.Stop()
	p.Stop()
	if err := p.WaitForErr(); err != context.Canceled {
		t.Fatalf("unexpected error return: %+v", err)
	}
}

func TestPeriodic_InvocationNumbers(t *testing.T) {
	funcDone := make(chan struct{}, 1)
	var mutex sync.Mutex
	got := make([]int, 0)
	p := &Periodic{
		Interval: 1 * time.Millisecond,
		Func: func(_ context.Context, invocation int) error {
			mutex.Lock()
			defer mutex.Unlock()
			got = append(got, invocation)
			if len(got) == 5 {
				funcDone <- struct{}{}
			}
			return nil
		},
	}
	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	<-funcDone
	p.Stop()
	if err := p.WaitForErr(); err != context.Canceled {
		t.Fatalf("unexpected error return: %+v", err)
	}
	mutex.Lock()
	defer mutex.Unlock()
	if !reflect.DeepEqual(got[:5], []int{0, 1, 2, 3, 4}) {
		t.Fatalf("incorrect invocation numbers: %+v", got)
	}
}

func TestPeriodic_FuncError(t *testing.T) {
	stopErr := errors.New("stop now")
	p := &Periodic{
		Interval: 1 * time.Millisecond,
		Func: func(_ context.Context, invocation int) error {
			if invocation == 2 {
				return stopErr
			}
			return nil
		},
	}
	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := p.WaitForErr(); err != stopErr {
		t.Fatalf("unexpected error return: %+v", err)
	}
	// The error is memorised
	if err := p.WaitForErr(); err != stopErr {
		t.Fatalf("unexpected error return: %+v", err)
	}
}

func TestPeriodic_DelayFirst(t *testing.T) {
	invoked := make(chan time.Time, 1)
	p := &Periodic{
		Interval:   300 * time.Millisecond,
		DelayFirst: true,
		Func: func(context.Context, int) error {
			select {
			case invoked <- time.Now():
			default:
			}
			return nil
		},
	}
	startTime := time.Now()
	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	first := <-invoked
	p.Stop()
	_ = p.WaitForErr()
	if elapsed := first.Sub(startTime); elapsed < 300*time.Millisecond {
		t.Fatalf("first invocation came too early after %v", elapsed)
	}
}

func TestPeriodic_StableInterval(t *testing.T) {
	var mutex sync.Mutex
	timestamps := make([]time.Time, 0)
	funcDone := make(chan struct{}, 1)
	p := &Periodic{
		Interval:       200 * time.Millisecond,
		StableInterval: true,
		Func: func(context.Context, int) error {
			mutex.Lock()
			defer mutex.Unlock()
			timestamps = append(timestamps, time.Now())
			if len(timestamps) == 3 {
				funcDone <- struct{}{}
			}
			// Take a good portion of the interval, the next invocation still lines up with the interval.
			time.Sleep(100 * time.Millisecond)
			return nil
		},
	}
	startTime := time.Now()
	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	<-funcDone
	p.Stop()
	_ = p.WaitForErr()
	// 0ms, 200ms, 400ms
	if elapsed := timestamps[2].Sub(startTime); elapsed < 380*time.Millisecond || elapsed > 550*time.Millisecond {
		t.Fatalf("unexpected timing %v", elapsed)
	}
}
