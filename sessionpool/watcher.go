package sessionpool

import (
	"context"
	"fmt"
	"time"

	"github.com/HouzuoGuo/adcycle/misc"
)

// watch starts observing the session's output and navigating it to the player page.
func (pool *Pool) watch(session *Session) {
	pool.tasks.Add(2)
	go pool.observe(session)
	go pool.load(session)
}

// load navigates the session to the player page. A navigation failure counts as an ad failure of the session.
func (pool *Pool) load(session *Session) {
	defer pool.tasks.Done()
	ctx, cancel := context.WithTimeout(session.ctx, seconds(pool.NavigateTimeoutSec))
	defer cancel()
	err := session.page.Navigate(ctx, session.URL)
	if session.ctx.Err() != nil {
		return
	}
	if err != nil {
		pool.logger.Warning("load", session.actor(), err, "failed to navigate to %s", session.URL)
		pool.submit(session, fmt.Sprintf("navigation failed: %v", err))
		return
	}
	session.markLoaded()
	pool.updateStatusMetrics()
}

// observe reads the session's output until the session is closed, and submits a failure event for each failure line.
func (pool *Pool) observe(session *Session) {
	defer pool.tasks.Done()
	output := session.page.Output()
	for {
		select {
		case <-session.ctx.Done():
			return
		case line, ok := <-output:
			if !ok {
				return
			}
			_, _ = session.output.Write([]byte(line + "\n"))
			if pool.Classifier.IsFailure(line) {
				pool.submit(session, line)
			}
		}
	}
}

func (pool *Pool) submit(session *Session, rawMessage string) {
	select {
	case pool.failures <- newFailureEvent(session, rawMessage):
	case <-session.ctx.Done():
	}
}

// consumeFailures is the only reader of the failure channel, it starts recovery of each failing session.
func (pool *Pool) consumeFailures() {
	defer pool.consumerGroup.Done()
	for {
		select {
		case <-pool.baseCtx.Done():
			return
		case event := <-pool.failures:
			pool.handleFailure(event)
		}
	}
}

func (pool *Pool) handleFailure(event FailureEvent) {
	session := event.session
	if !session.beginRecovery() {
		pool.metrics.countFailureEvent("ignored")
		pool.logger.Info("handleFailure", session.actor(), nil, "ignored failure event %s while the session is %s - %s", event.ID, session.Status(), event.RawMessage)
		return
	}
	pool.metrics.countFailureEvent("recovering")
	if pool.failureLimit.Add(session.actor(), true) {
		pool.record("Ad error detected on page %d, reloading...", event.SessionID)
		if session.suppressedRecords > 0 {
			pool.record("Suppressed %d records of ad errors on page %d", session.suppressedRecords, event.SessionID)
			session.suppressedRecords = 0
		}
	} else {
		session.suppressedRecords++
	}
	pool.logger.Info("handleFailure", session.actor(), nil, "failure event %s - %s", event.ID, event.RawMessage)
	pool.updateStatusMetrics()
	pool.tasks.Add(1)
	go pool.recover(session)
}

/*
recover evaluates the cleanup script in the failing session and then reloads it. If the reload fails, the session is
left in Recovering status until the pool closes it. Closing the session aborts the recovery quietly.
*/
func (pool *Pool) recover(session *Session) {
	defer pool.tasks.Done()
	start := time.Now()
	if pool.CleanupScript != "" {
		evalCtx, cancel := context.WithTimeout(session.ctx, seconds(pool.EvalTimeoutSec))
		err := session.page.Evaluate(evalCtx, pool.CleanupScript)
		cancel()
		if session.ctx.Err() != nil {
			return
		}
		if err != nil {
			pool.logger.Info("recover", session.actor(), err, "cleanup script did not succeed, proceeding to reload")
		}
	}
	reloadCtx, cancel := context.WithTimeout(session.ctx, seconds(pool.ReloadTimeoutSec))
	defer cancel()
	var err error
	if session.hasLoaded() {
		err = session.page.Reload(reloadCtx)
	} else {
		// The player page never finished loading, so there is nothing to reload.
		err = session.page.Navigate(reloadCtx, session.URL)
	}
	if session.ctx.Err() != nil {
		return
	}
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrRecoveryFailed, err)
		pool.metrics.countRecovery("failure")
		pool.record("Error reloading page: %v", err)
		pool.logger.Warning("recover", session.actor(), err, "the session stays in recovery until the next recycle")
		return
	}
	session.finishRecovery()
	pool.metrics.countRecovery("success")
	pool.updateStatusMetrics()
	misc.RecoveryStats.TriggerDuration(start)
	pool.logger.Info("recover", session.actor(), nil, "reloaded in %v", time.Since(start))
}
