package lalog

import (
	"sync"
	"time"
)

/*
RateLimit tracks the number of hits made by each actor to tell whether the actor has exceeded the limit. Instead of
being a rolling counter, all counters are reset at the beginning of each unit of time.
*/
type RateLimit struct {
	Unit     time.Duration
	MaxCount int
	Logger   *Logger

	lastReset time.Time
	counter   map[string]int
	logged    map[string]struct{}
	mutex     sync.Mutex
}

// NewRateLimit constructs a new rate limiter.
func NewRateLimit(unit time.Duration, maxCount int, logger *Logger) *RateLimit {
	if unit <= 0 || maxCount < 1 {
		panic("NewRateLimit: unit and MaxCount must be greater than 0")
	}
	if logger == nil {
		logger = DefaultLogger
	}
	return &RateLimit{
		Unit:     unit,
		MaxCount: maxCount,
		Logger:   logger,
		counter:  make(map[string]int),
		logged:   make(map[string]struct{}),
	}
}

/*
Add increases the actor's counter by one and returns true if the actor has not yet reached the limit in the current
unit of time. Otherwise the counter stays, and the function returns false.
*/
func (limit *RateLimit) Add(actor string, logIfLimitHit bool) bool {
	limit.mutex.Lock()
	defer limit.mutex.Unlock()
	if now := time.Now(); now.Sub(limit.lastReset) >= limit.Unit {
		limit.counter = make(map[string]int)
		limit.logged = make(map[string]struct{})
		limit.lastReset = now
	}
	count := limit.counter[actor]
	if count >= limit.MaxCount {
		if _, hasLogged := limit.logged[actor]; !hasLogged && logIfLimitHit {
			limit.Logger.Info("RateLimit", actor, nil, "exceeded limit of %d hits per %v", limit.MaxCount, limit.Unit)
			limit.logged[actor] = struct{}{}
		}
		return false
	}
	limit.counter[actor] = count + 1
	return true
}
