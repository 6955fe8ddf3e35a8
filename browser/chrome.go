package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HouzuoGuo/adcycle/lalog"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
)

const (
	// DefaultUserAgent is the user agent string presented by every page unless configured otherwise.
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"
	// DefaultOutputBufferLen is the number of console lines buffered for each page, the oldest line is dropped to make
	// room for a new one.
	DefaultOutputBufferLen = 256
	// DefaultStartTimeoutSec is the time limit of starting the browser process and of allocating each page.
	DefaultStartTimeoutSec = 30
)

// ChromeEngine runs a single Chrome process via chromedp, each page is a tab of that process.
type ChromeEngine struct {
	ExecPath        string   `json:"ExecPath"`        // ExecPath is the Chrome executable, empty to let chromedp find one.
	Headless        bool     `json:"Headless"`        // Headless runs Chrome without a visible window.
	NoSandbox       bool     `json:"NoSandbox"`       // NoSandbox disables Chrome sandbox, needed when running as root.
	ExtraFlags      []string `json:"ExtraFlags"`      // ExtraFlags are additional command line flags such as "mute-audio" or "lang=en-US".
	UserAgent       string   `json:"UserAgent"`       // UserAgent is presented by every page.
	WindowWidth     int      `json:"WindowWidth"`     // WindowWidth is the width of browser window in pixels.
	WindowHeight    int      `json:"WindowHeight"`    // WindowHeight is the height of browser window in pixels.
	MaxPages        int      `json:"MaxPages"`        // MaxPages caps the number of open tabs, 0 means no cap.
	StartTimeoutSec int      `json:"StartTimeoutSec"` // StartTimeoutSec bounds browser start and page allocation.
	OutputBufferLen int      `json:"OutputBufferLen"` // OutputBufferLen is the capacity of each page's output channel.

	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	openPages     int32
	tabCounter    int64
	mutex         sync.Mutex
	logger        lalog.Logger
}

// Initialise validates the configuration and applies defaults.
func (engine *ChromeEngine) Initialise() error {
	engine.logger = lalog.Logger{ComponentName: "browser.ChromeEngine", ComponentID: []lalog.LoggerIDField{{Key: "Headless", Value: engine.Headless}}}
	if engine.UserAgent == "" {
		engine.UserAgent = DefaultUserAgent
	}
	if engine.WindowWidth < 1 {
		engine.WindowWidth = 1280
	}
	if engine.WindowHeight < 1 {
		engine.WindowHeight = 800
	}
	if engine.MaxPages < 0 {
		return errors.New("browser.ChromeEngine.Initialise: MaxPages must not be negative")
	}
	if engine.StartTimeoutSec < 1 {
		engine.StartTimeoutSec = DefaultStartTimeoutSec
	}
	if engine.OutputBufferLen < 1 {
		engine.OutputBufferLen = DefaultOutputBufferLen
	}
	return nil
}

// allocatorOptions returns the command line options of the Chrome process.
func (engine *ChromeEngine) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	if !engine.Headless {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if engine.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(engine.ExecPath))
	}
	if engine.NoSandbox {
		opts = append(opts, chromedp.NoSandbox, chromedp.Flag("disable-setuid-sandbox", true))
	}
	opts = append(opts,
		chromedp.UserAgent(engine.UserAgent),
		chromedp.WindowSize(engine.WindowWidth, engine.WindowHeight),
		// The player autoplays muted video ads without user gesture
		chromedp.Flag("autoplay-policy", "no-user-gesture-required"),
		chromedp.Flag("mute-audio", true),
	)
	for _, flag := range engine.ExtraFlags {
		name, value, hasValue := strings.Cut(strings.TrimLeft(flag, "-"), "=")
		if name == "" {
			continue
		}
		if hasValue {
			opts = append(opts, chromedp.Flag(name, value))
		} else {
			opts = append(opts, chromedp.Flag(name, true))
		}
	}
	return opts
}

// Start launches the Chrome process. The process is terminated when ctx is cancelled or Stop is called.
func (engine *ChromeEngine) Start(ctx context.Context) error {
	engine.mutex.Lock()
	defer engine.mutex.Unlock()
	if engine.browserCtx != nil {
		return nil
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, engine.allocatorOptions()...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	// The very first Run starts the browser process, it must not use a context with deadline or the process would be
	// terminated as soon as the deadline passes.
	if err := runWithin(ctx, browserCtx, time.Duration(engine.StartTimeoutSec)*time.Second); err != nil {
		browserCancel()
		allocCancel()
		return fmt.Errorf("browser.ChromeEngine.Start: failed to start chrome - %w", err)
	}
	engine.allocCancel = allocCancel
	engine.browserCtx = browserCtx
	engine.browserCancel = browserCancel
	engine.logger.Info("Start", "", nil, "chrome has started")
	return nil
}

// Stop terminates the Chrome process and all of its pages.
func (engine *ChromeEngine) Stop() {
	engine.mutex.Lock()
	defer engine.mutex.Unlock()
	if engine.browserCtx == nil {
		return
	}
	engine.browserCancel()
	engine.allocCancel()
	engine.browserCtx = nil
	engine.logger.Info("Stop", "", nil, "chrome has stopped")
}

// NewPage opens a new blank tab. It gives up as soon as ctx is done.
func (engine *ChromeEngine) NewPage(ctx context.Context) (Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	engine.mutex.Lock()
	browserCtx := engine.browserCtx
	engine.mutex.Unlock()
	if browserCtx == nil {
		return nil, fmt.Errorf("%w: chrome is not running", ErrResourceExhausted)
	}
	if engine.MaxPages > 0 && int(atomic.LoadInt32(&engine.openPages)) >= engine.MaxPages {
		return nil, fmt.Errorf("%w: reached the maximum of %d tabs", ErrResourceExhausted, engine.MaxPages)
	}
	tabCtx, tabCancel := chromedp.NewContext(browserCtx)
	page := &chromePage{
		engine:    engine,
		tag:       atomic.AddInt64(&engine.tabCounter, 1),
		tabCtx:    tabCtx,
		tabCancel: tabCancel,
		output:    make(chan string, engine.OutputBufferLen),
	}
	chromedp.ListenTarget(tabCtx, page.onEvent)
	timeout := time.Duration(engine.StartTimeoutSec) * time.Second
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < timeout {
		timeout = time.Until(deadline)
	}
	// Similar to the browser process, the tab lives as long as the context of its very first Run.
	if err := runWithin(ctx, tabCtx, timeout, runtime.Enable()); err != nil {
		tabCancel()
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ErrTimeout) {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: failed to open tab - %v", ErrResourceExhausted, err)
	}
	atomic.AddInt32(&engine.openPages, 1)
	return page, nil
}

// runWithin runs the actions in runCtx, which carries no deadline, and gives up waiting after the timeout or when ctx is
// done.
func runWithin(ctx, runCtx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	result := make(chan error, 1)
	go func() {
		result <- chromedp.Run(runCtx, actions...)
	}()
	select {
	case err := <-result:
		return err
	case <-time.After(timeout):
		return ErrTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// chromePage is a tab of the chrome process.
type chromePage struct {
	engine    *ChromeEngine
	tag       int64
	tabCtx    context.Context
	tabCancel context.CancelFunc

	output  chan string
	dropped int64
	closed  bool
	mutex   sync.Mutex
}

func (page *chromePage) onEvent(ev interface{}) {
	var line string
	switch ev := ev.(type) {
	case *runtime.EventConsoleAPICalled:
		line = consoleText(ev.Args)
	case *runtime.EventExceptionThrown:
		line = "Uncaught exception: " + exceptionText(ev.ExceptionDetails)
	default:
		return
	}
	page.mutex.Lock()
	defer page.mutex.Unlock()
	if page.closed {
		return
	}
	// The listener must never block the chromedp event loop
	if offerLine(page.output, line) {
		if atomic.AddInt64(&page.dropped, 1)%100 == 1 {
			page.engine.logger.Info("onEvent", fmt.Sprintf("tab-%d", page.tag), nil, "output channel is full, dropped %d old lines so far", atomic.LoadInt64(&page.dropped))
		}
	}
}

/*
offerLine places the line into the output channel without blocking. If the channel is full, the oldest buffered line is
dropped to make room for the latest line. The caller must be the only sender of the channel. The return value is true
if a line was dropped.
*/
func offerLine(output chan string, line string) (dropped bool) {
	select {
	case output <- line:
		return false
	default:
	}
	select {
	case <-output:
		dropped = true
	default:
	}
	select {
	case output <- line:
	default:
	}
	return
}

// run executes the actions in the tab, bounded by the deadline and cancellation of ctx.
func (page *chromePage) run(ctx context.Context, actions ...chromedp.Action) error {
	page.mutex.Lock()
	closed := page.closed
	page.mutex.Unlock()
	if closed {
		return ErrPageClosed
	}
	runCtx, cancel := context.WithCancel(page.tabCtx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	err := chromedp.Run(runCtx, actions...)
	if err == nil {
		return nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	if page.tabCtx.Err() != nil {
		return ErrPageClosed
	}
	return err
}

func (page *chromePage) Navigate(ctx context.Context, url string) error {
	return page.run(ctx, chromedp.Navigate(url), chromedp.WaitReady("body", chromedp.ByQuery))
}

func (page *chromePage) Evaluate(ctx context.Context, script string) error {
	if err := page.run(ctx, chromedp.Evaluate(script, nil)); err != nil {
		if errors.Is(err, ErrTimeout) || errors.Is(err, ErrPageClosed) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrEval, err)
	}
	return nil
}

func (page *chromePage) Reload(ctx context.Context) error {
	return page.run(ctx, chromedp.Reload(), chromedp.WaitReady("body", chromedp.ByQuery))
}

func (page *chromePage) Close(ctx context.Context) error {
	page.mutex.Lock()
	if page.closed {
		page.mutex.Unlock()
		return nil
	}
	page.closed = true
	close(page.output)
	page.mutex.Unlock()
	atomic.AddInt32(&page.engine.openPages, -1)

	result := make(chan error, 1)
	go func() {
		// Cancel closes the tab and waits for the browser to confirm
		result <- chromedp.Cancel(page.tabCtx)
	}()
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return fmt.Errorf("%w: tab did not close in time", ErrTimeout)
	}
}

func (page *chromePage) Output() <-chan string {
	return page.output
}
