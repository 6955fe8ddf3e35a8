// Package sessionpool runs a fixed number of rendering engine pages, each showing the ad player page. The pool watches
// the console output of every page for ad failures, recovers a failing page on its own, and replaces all pages of the
// pool on request.
package sessionpool

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"sync/atomic"
	"text/template"
	"time"

	"github.com/HouzuoGuo/adcycle/browser"
	"github.com/HouzuoGuo/adcycle/lalog"
	"github.com/HouzuoGuo/adcycle/misc"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultCapacity           = 5
	DefaultPlayerURLTemplate  = "http://localhost:3000/player.html"
	DefaultNavigateTimeoutSec = 30
	DefaultEvalTimeoutSec     = 5
	DefaultReloadTimeoutSec   = 30
	DefaultCloseGraceSec      = 10
	DefaultOutputTailBytes    = 4096
	// DefaultFailureRecordsPerMinute is the maximum number of ad failures recorded in the event log for each session
	// in a minute.
	DefaultFailureRecordsPerMinute = 10
	// DefaultCleanupScript destroys the ad manager of the player page before the page is reloaded.
	DefaultCleanupScript = `if (window.adsManager) { try { window.adsManager.destroy(); } catch (e) {} }`
)

var (
	// ErrRecycleInProgress is returned by Replace when another replacement is still in progress.
	ErrRecycleInProgress = errors.New("a recycle of the session pool is already in progress")
	// ErrPoolClosed is returned by operations on a pool that has been shut down.
	ErrPoolClosed = errors.New("the session pool has been shut down")
	// ErrRecoveryFailed describes a session that could not be reloaded after an ad failure.
	ErrRecoveryFailed = errors.New("session recovery failed")
)

// EventRecorder receives status messages for the persistent event log.
type EventRecorder interface {
	Record(message string)
}

// PlayerURLParams are the values given to the player URL template.
type PlayerURLParams struct {
	ID         int
	Generation uint64
}

// Pool owns a fixed number of sessions, each one a page of the rendering engine that shows the ad player page.
type Pool struct {
	// Capacity is the number of sessions opened by the scheduler.
	Capacity int `json:"Capacity"`
	// PlayerURLTemplate is a text/template that renders the player page URL, e.g. "http://localhost:3000/?page={{.ID}}".
	PlayerURLTemplate string `json:"PlayerURLTemplate"`
	// FailureMarker is the literal text in page output that indicates an ad failure.
	FailureMarker string `json:"FailureMarker"`
	// FailurePattern is an optional regular expression that also indicates an ad failure when it matches page output.
	FailurePattern string `json:"FailurePattern"`
	// CleanupScript is evaluated in the failing page before it is reloaded, its failure is ignored. It defaults to
	// DefaultCleanupScript.
	CleanupScript string `json:"CleanupScript"`

	NavigateTimeoutSec int `json:"NavigateTimeoutSec"`
	EvalTimeoutSec     int `json:"EvalTimeoutSec"`
	ReloadTimeoutSec   int `json:"ReloadTimeoutSec"`
	CloseGraceSec      int `json:"CloseGraceSec"`
	// OutputTailBytes is the amount of latest console output memorised for each session.
	OutputTailBytes int `json:"OutputTailBytes"`
	// FailureRecordsPerMinute limits the number of ad failures each session may record in the event log per minute.
	FailureRecordsPerMinute int `json:"FailureRecordsPerMinute"`

	// Engine allocates the pages.
	Engine browser.Engine `json:"-"`
	// EventLog receives the notable events such as ad failures and failed reloads. It may be nil.
	EventLog EventRecorder `json:"-"`
	// Classifier overrides FailureMarker and FailurePattern when it is set.
	Classifier Classifier `json:"-"`

	urlTemplate   *template.Template
	failureLimit  *lalog.RateLimit
	metrics       *Metrics
	failures      chan FailureEvent
	baseCtx       context.Context
	baseCancel    context.CancelFunc
	tasks         sync.WaitGroup
	replacing     atomic.Bool
	lifecycle     sync.Mutex   // lifecycle serialises Open, Close, Replace, and Shutdown.
	mutex         sync.RWMutex // mutex protects the fields below.
	sessions      []*Session
	generation    uint64
	everOpened    bool
	shutdown      bool
	logger        lalog.Logger
	initialised   bool
	consumerGroup sync.WaitGroup
}

// Initialise validates configuration, applies defaults, and starts the failure watcher.
func (pool *Pool) Initialise() error {
	pool.logger = lalog.Logger{ComponentName: "sessionpool", ComponentID: []lalog.LoggerIDField{{Key: "Cap", Value: pool.Capacity}}}
	if pool.Engine == nil {
		return errors.New("sessionpool.Initialise: Engine must not be nil")
	}
	if pool.Capacity < 0 {
		return errors.New("sessionpool.Initialise: Capacity must not be negative")
	}
	if pool.Capacity == 0 {
		pool.Capacity = DefaultCapacity
	}
	if pool.PlayerURLTemplate == "" {
		pool.PlayerURLTemplate = DefaultPlayerURLTemplate
	}
	var err error
	if pool.urlTemplate, err = template.New("player").Option("missingkey=error").Parse(pool.PlayerURLTemplate); err != nil {
		return fmt.Errorf("sessionpool.Initialise: failed to parse PlayerURLTemplate - %w", err)
	}
	if _, err := pool.playerURL(0, 0); err != nil {
		return fmt.Errorf("sessionpool.Initialise: failed to render PlayerURLTemplate - %w", err)
	}
	if pool.Classifier == nil {
		if pool.FailureMarker == "" {
			pool.FailureMarker = DefaultFailureMarker
		}
		classifiers := AnyOf{MarkerClassifier{Marker: pool.FailureMarker}}
		if pool.FailurePattern != "" {
			pattern, err := regexp.Compile(pool.FailurePattern)
			if err != nil {
				return fmt.Errorf("sessionpool.Initialise: failed to compile FailurePattern - %w", err)
			}
			classifiers = append(classifiers, RegexpClassifier{Pattern: pattern})
		}
		pool.Classifier = classifiers
	}
	if pool.CleanupScript == "" {
		pool.CleanupScript = DefaultCleanupScript
	}
	if pool.NavigateTimeoutSec < 1 {
		pool.NavigateTimeoutSec = DefaultNavigateTimeoutSec
	}
	if pool.EvalTimeoutSec < 1 {
		pool.EvalTimeoutSec = DefaultEvalTimeoutSec
	}
	if pool.ReloadTimeoutSec < 1 {
		pool.ReloadTimeoutSec = DefaultReloadTimeoutSec
	}
	if pool.CloseGraceSec < 1 {
		pool.CloseGraceSec = DefaultCloseGraceSec
	}
	if pool.OutputTailBytes < 1 {
		pool.OutputTailBytes = DefaultOutputTailBytes
	}
	if pool.FailureRecordsPerMinute < 1 {
		pool.FailureRecordsPerMinute = DefaultFailureRecordsPerMinute
	}
	pool.failureLimit = lalog.NewRateLimit(time.Minute, pool.FailureRecordsPerMinute, &pool.logger)
	pool.metrics = NewMetrics(&pool.logger)
	pool.failures = make(chan FailureEvent, 16)
	pool.baseCtx, pool.baseCancel = context.WithCancel(context.Background())
	pool.consumerGroup.Add(1)
	go pool.consumeFailures()
	pool.initialised = true
	return nil
}

func (pool *Pool) playerURL(id int, generation uint64) (string, error) {
	var out bytes.Buffer
	if err := pool.urlTemplate.Execute(&out, PlayerURLParams{ID: id, Generation: generation}); err != nil {
		return "", err
	}
	return out.String(), nil
}

func (pool *Pool) record(template string, values ...interface{}) {
	if pool.EventLog != nil {
		pool.EventLog.Record(fmt.Sprintf(template, values...))
	}
}

func seconds(sec int) time.Duration {
	return time.Duration(sec) * time.Second
}

/*
Open allocates exactly capacity sessions and starts loading the player page in each of them. It returns as soon as all
pages are allocated, the navigation of each page continues in the background. If a page cannot be allocated, the pages
allocated so far are closed and the pool remains empty.
*/
func (pool *Pool) Open(ctx context.Context, capacity int) error {
	pool.lifecycle.Lock()
	defer pool.lifecycle.Unlock()
	return pool.open(ctx, capacity)
}

func (pool *Pool) open(ctx context.Context, capacity int) error {
	if !pool.initialised {
		return errors.New("sessionpool.Open: pool has not been initialised")
	}
	if capacity < 1 {
		return fmt.Errorf("sessionpool.Open: capacity must be at least 1, got %d", capacity)
	}
	pool.mutex.RLock()
	shutdown, numOpen, everOpened, generation := pool.shutdown, len(pool.sessions), pool.everOpened, pool.generation
	pool.mutex.RUnlock()
	if shutdown {
		return ErrPoolClosed
	}
	if numOpen > 0 {
		return fmt.Errorf("sessionpool.Open: pool is already open with %d sessions", numOpen)
	}
	if everOpened {
		generation++
	}
	start := time.Now()
	sessions := make([]*Session, 0, capacity)
	for id := 0; id < capacity; id++ {
		url, err := pool.playerURL(id, generation)
		if err != nil {
			pool.closeSessions(ctx, sessions)
			return fmt.Errorf("sessionpool.Open: failed to render player URL - %w", err)
		}
		if err := ctx.Err(); err != nil {
			pool.logger.Info("Open", "", nil, "gave up opening generation %d after %d sessions, rolling them back", generation, len(sessions))
			pool.closeSessions(ctx, sessions)
			return fmt.Errorf("sessionpool.Open: gave up before allocating session %d of %d - %w", id+1, capacity, err)
		}
		page, err := pool.Engine.NewPage(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				pool.closeSessions(ctx, sessions)
				return fmt.Errorf("sessionpool.Open: gave up while allocating session %d of %d - %w", id+1, capacity, ctxErr)
			}
			pool.logger.Warning("Open", fmt.Sprintf("page-%d/gen-%d", id, generation), err, "failed to allocate a page, rolling back %d sessions", len(sessions))
			pool.closeSessions(ctx, sessions)
			if !errors.Is(err, browser.ErrResourceExhausted) {
				err = fmt.Errorf("%w: %v", browser.ErrResourceExhausted, err)
			}
			return fmt.Errorf("sessionpool.Open: failed to allocate session %d of %d - %w", id+1, capacity, err)
		}
		sessions = append(sessions, newSession(pool.baseCtx, id, generation, url, page, pool.OutputTailBytes))
	}
	pool.mutex.Lock()
	pool.sessions = sessions
	pool.generation = generation
	pool.everOpened = true
	pool.mutex.Unlock()
	for _, session := range sessions {
		pool.watch(session)
	}
	pool.metrics.setGeneration(generation)
	pool.metrics.observeOpen(time.Since(start).Seconds())
	pool.updateStatusMetrics()
	pool.logger.Info("Open", "", nil, "opened %d sessions of generation %d", capacity, generation)
	return nil
}

/*
Close closes all sessions concurrently, each within the grace period. A session that does not close in time is
abandoned and recorded in the event log. Closing an empty pool does nothing, and the function never fails as a whole.
*/
func (pool *Pool) Close(ctx context.Context) error {
	pool.lifecycle.Lock()
	defer pool.lifecycle.Unlock()
	pool.close(ctx)
	return nil
}

func (pool *Pool) close(ctx context.Context) {
	pool.mutex.Lock()
	sessions := pool.sessions
	pool.sessions = nil
	pool.mutex.Unlock()
	if len(sessions) == 0 {
		return
	}
	start := time.Now()
	abandoned := pool.closeSessions(ctx, sessions)
	pool.metrics.observeClose(time.Since(start).Seconds())
	pool.updateStatusMetrics()
	pool.logger.Info("Close", "", nil, "closed %d sessions of generation %d, %d of them were abandoned", len(sessions), sessions[0].Generation, abandoned)
}

// closeSessions stops observing and recovering the sessions, then closes all of their pages concurrently. Each close is
// bounded by the grace period alone, even if ctx is already cancelled.
func (pool *Pool) closeSessions(ctx context.Context, sessions []*Session) (abandoned int) {
	var numAbandoned int32
	var group errgroup.Group
	for _, session := range sessions {
		session := session
		session.markClosed()
		group.Go(func() error {
			closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), seconds(pool.CloseGraceSec))
			defer cancel()
			if err := session.page.Close(closeCtx); err != nil {
				atomic.AddInt32(&numAbandoned, 1)
				pool.metrics.countAbandoned()
				pool.record("Error closing page: %v", err)
				pool.logger.Warning("closeSessions", session.actor(), err, "abandoned the session")
				return err
			}
			return nil
		})
	}
	_ = group.Wait()
	return int(numAbandoned)
}

/*
Replace closes all sessions and then opens capacity sessions of the next generation. Closing always completes before
opening begins. While a replacement is in progress, another call to Replace returns ErrRecycleInProgress.
*/
func (pool *Pool) Replace(ctx context.Context, capacity int) error {
	if !pool.replacing.CompareAndSwap(false, true) {
		return ErrRecycleInProgress
	}
	defer pool.replacing.Store(false)
	pool.lifecycle.Lock()
	defer pool.lifecycle.Unlock()
	if pool.isShutdown() {
		return ErrPoolClosed
	}
	start := time.Now()
	pool.close(ctx)
	if err := pool.open(ctx, capacity); err != nil {
		return fmt.Errorf("sessionpool.Replace: %w", err)
	}
	misc.RecycleStats.TriggerDuration(start)
	return nil
}

// Shutdown closes all sessions and stops the failure watcher. The pool cannot be opened again afterwards.
func (pool *Pool) Shutdown(ctx context.Context) error {
	pool.lifecycle.Lock()
	defer pool.lifecycle.Unlock()
	if !pool.initialised {
		return nil
	}
	pool.close(ctx)
	pool.mutex.Lock()
	if pool.shutdown {
		pool.mutex.Unlock()
		return nil
	}
	pool.shutdown = true
	pool.mutex.Unlock()
	pool.baseCancel()
	done := make(chan struct{})
	go func() {
		// The consumer starts recovery tasks, so it must stop before waiting for the tasks.
		pool.consumerGroup.Wait()
		pool.tasks.Wait()
		close(done)
	}()
	select {
	case <-done:
		pool.logger.Info("Shutdown", "", nil, "all sessions and the failure watcher have stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("sessionpool.Shutdown: gave up waiting for background tasks - %w", ctx.Err())
	}
}

func (pool *Pool) isShutdown() bool {
	pool.mutex.RLock()
	defer pool.mutex.RUnlock()
	return pool.shutdown
}

// Sessions returns a snapshot of each open session in the order of their ID.
func (pool *Pool) Sessions() []SessionSnapshot {
	pool.mutex.RLock()
	sessions := pool.sessions
	pool.mutex.RUnlock()
	ret := make([]SessionSnapshot, 0, len(sessions))
	for _, session := range sessions {
		ret = append(ret, session.Snapshot())
	}
	return ret
}

// Generation returns the generation of the latest sessions opened. The very first generation is 0.
func (pool *Pool) Generation() uint64 {
	pool.mutex.RLock()
	defer pool.mutex.RUnlock()
	return pool.generation
}

// Len returns the number of open sessions.
func (pool *Pool) Len() int {
	pool.mutex.RLock()
	defer pool.mutex.RUnlock()
	return len(pool.sessions)
}

func (pool *Pool) updateStatusMetrics() {
	counts := make(map[Status]int)
	for _, snapshot := range pool.Sessions() {
		counts[snapshot.Status]++
	}
	pool.metrics.setSessions(counts)
}
