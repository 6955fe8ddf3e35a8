package browser

import (
	"context"
	"fmt"
	"sync"
	"time"
)

/*
FakeEngine is an in-memory rendering engine. Its pages record the operations performed on them, and their behaviour
(errors, delays, console output) is scripted by the caller. It is used by test cases of the session pool and everything
built upon it.
*/
type FakeEngine struct {
	// MaxPages caps the number of simultaneously open pages, 0 means no cap.
	MaxPages int
	// FailAllocation makes the Nth allocation (counting from 1 across the engine's lifetime) fail with
	// ErrResourceExhausted. 0 disables the failure.
	FailAllocation int
	// OnNewPage is called with each newly allocated page before it is returned, giving the caller a chance to script it.
	OnNewPage func(*FakePage)

	mutex           sync.Mutex
	pages           []*FakePage
	allocations     int
	allocationDelay time.Duration
}

// SetAllocationDelay makes each future allocation take the delay. The allocation fails if its context is done within
// the delay.
func (engine *FakeEngine) SetAllocationDelay(delay time.Duration) {
	engine.mutex.Lock()
	defer engine.mutex.Unlock()
	engine.allocationDelay = delay
}

// NewPage allocates a fake page.
func (engine *FakeEngine) NewPage(ctx context.Context) (Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	engine.mutex.Lock()
	delay := engine.allocationDelay
	engine.mutex.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	engine.mutex.Lock()
	engine.allocations++
	if engine.FailAllocation > 0 && engine.allocations == engine.FailAllocation {
		engine.mutex.Unlock()
		return nil, fmt.Errorf("%w: scripted failure of allocation %d", ErrResourceExhausted, engine.FailAllocation)
	}
	if engine.MaxPages > 0 && engine.countOpen() >= engine.MaxPages {
		engine.mutex.Unlock()
		return nil, fmt.Errorf("%w: reached the maximum of %d pages", ErrResourceExhausted, engine.MaxPages)
	}
	page := &FakePage{
		Index:  len(engine.pages),
		output: make(chan string, DefaultOutputBufferLen),
	}
	engine.pages = append(engine.pages, page)
	onNewPage := engine.OnNewPage
	engine.mutex.Unlock()
	if onNewPage != nil {
		onNewPage(page)
	}
	return page, nil
}

func (engine *FakeEngine) countOpen() (count int) {
	for _, page := range engine.pages {
		if !page.IsClosed() {
			count++
		}
	}
	return
}

// Pages returns all pages ever allocated, in the order of allocation.
func (engine *FakeEngine) Pages() []*FakePage {
	engine.mutex.Lock()
	defer engine.mutex.Unlock()
	return append([]*FakePage{}, engine.pages...)
}

// OpenPages returns the number of pages that have not been closed.
func (engine *FakeEngine) OpenPages() int {
	engine.mutex.Lock()
	defer engine.mutex.Unlock()
	return engine.countOpen()
}

// FakePage is a page of FakeEngine.
type FakePage struct {
	Index int // Index is the allocation number of the page, starting from 0.

	mutex       sync.Mutex
	output      chan string
	closed      bool
	url         string
	navigations int
	evaluations int
	reloads     int
	scripts     []string

	navigateErr  error
	evaluateErr  error
	reloadErr    error
	reloadDelay  time.Duration
	closeDelay   time.Duration
	closeBlocked bool
}

// SetNavigateErr makes all future navigations fail with the error.
func (page *FakePage) SetNavigateErr(err error) {
	page.mutex.Lock()
	defer page.mutex.Unlock()
	page.navigateErr = err
}

// SetEvaluateErr makes all future script evaluations fail with the error.
func (page *FakePage) SetEvaluateErr(err error) {
	page.mutex.Lock()
	defer page.mutex.Unlock()
	page.evaluateErr = err
}

// SetReload makes all future reloads take the delay and then fail with the error (nil for success).
func (page *FakePage) SetReload(delay time.Duration, err error) {
	page.mutex.Lock()
	defer page.mutex.Unlock()
	page.reloadDelay = delay
	page.reloadErr = err
}

// SetCloseDelay makes the page take the delay to close. The close fails if its context is done within the delay.
func (page *FakePage) SetCloseDelay(delay time.Duration) {
	page.mutex.Lock()
	defer page.mutex.Unlock()
	page.closeDelay = delay
}

// BlockClose makes the page never finish closing, the close operation only returns when its context is done.
func (page *FakePage) BlockClose() {
	page.mutex.Lock()
	defer page.mutex.Unlock()
	page.closeBlocked = true
}

// Emit places a line into the page's console output, as if the page had called console.log. When the output is full,
// the oldest line gives way.
func (page *FakePage) Emit(line string) {
	page.mutex.Lock()
	defer page.mutex.Unlock()
	if page.closed {
		return
	}
	offerLine(page.output, line)
}

// URL returns the URL of the latest navigation.
func (page *FakePage) URL() string {
	page.mutex.Lock()
	defer page.mutex.Unlock()
	return page.url
}

// Counters returns the number of navigations, script evaluations, and reloads performed so far.
func (page *FakePage) Counters() (navigations, evaluations, reloads int) {
	page.mutex.Lock()
	defer page.mutex.Unlock()
	return page.navigations, page.evaluations, page.reloads
}

// Scripts returns the scripts evaluated so far.
func (page *FakePage) Scripts() []string {
	page.mutex.Lock()
	defer page.mutex.Unlock()
	return append([]string{}, page.scripts...)
}

// IsClosed returns true if the page has been closed.
func (page *FakePage) IsClosed() bool {
	page.mutex.Lock()
	defer page.mutex.Unlock()
	return page.closed
}

func (page *FakePage) Navigate(ctx context.Context, url string) error {
	page.mutex.Lock()
	defer page.mutex.Unlock()
	if page.closed {
		return ErrPageClosed
	}
	page.navigations++
	page.url = url
	return page.navigateErr
}

func (page *FakePage) Evaluate(ctx context.Context, script string) error {
	page.mutex.Lock()
	defer page.mutex.Unlock()
	if page.closed {
		return ErrPageClosed
	}
	page.evaluations++
	page.scripts = append(page.scripts, script)
	if page.evaluateErr != nil {
		return fmt.Errorf("%w: %v", ErrEval, page.evaluateErr)
	}
	return nil
}

func (page *FakePage) Reload(ctx context.Context) error {
	page.mutex.Lock()
	if page.closed {
		page.mutex.Unlock()
		return ErrPageClosed
	}
	page.reloads++
	delay, err := page.reloadDelay, page.reloadErr
	page.mutex.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
		}
	}
	return err
}

func (page *FakePage) Close(ctx context.Context) error {
	page.mutex.Lock()
	blocked, delay := page.closeBlocked, page.closeDelay
	page.mutex.Unlock()
	if blocked {
		<-ctx.Done()
		return fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
		}
	}
	page.mutex.Lock()
	defer page.mutex.Unlock()
	if page.closed {
		return nil
	}
	page.closed = true
	close(page.output)
	return nil
}

func (page *FakePage) Output() <-chan string {
	return page.output
}
