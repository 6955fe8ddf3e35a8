package sessionpool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/HouzuoGuo/adcycle/browser"
	"github.com/HouzuoGuo/adcycle/lalog"
	"github.com/oklog/ulid/v2"
)

// Status is the lifecycle status of a session.
type Status int

const (
	StatusLoading    Status = iota // StatusLoading means the player page is being navigated to.
	StatusActive                   // StatusActive means the player page has loaded.
	StatusRecovering               // StatusRecovering means an ad failure was seen and the page is being reloaded.
	StatusClosed                   // StatusClosed means the pool has closed the session.
)

func (status Status) String() string {
	switch status {
	case StatusLoading:
		return "Loading"
	case StatusActive:
		return "Active"
	case StatusRecovering:
		return "Recovering"
	case StatusClosed:
		return "Closed"
	}
	return fmt.Sprintf("Status(%d)", int(status))
}

// MarshalText presents the status by its name in JSON.
func (status Status) MarshalText() ([]byte, error) {
	return []byte(status.String()), nil
}

// Session is a single page of the rendering engine that has been navigated to the player page.
type Session struct {
	ID         int    // ID is the slot number of the session in its pool, from 0 to capacity-1.
	Generation uint64 // Generation is the pool generation that opened the session.
	URL        string // URL is the player page URL.

	page   browser.Page
	ctx    context.Context
	cancel context.CancelFunc
	output *lalog.ByteLogWriter

	mutex      sync.Mutex
	status     Status
	loaded     bool
	openedAt   time.Time
	recoveries int

	// suppressedRecords counts the ad failures left out of the event log by the rate limit, only the failure consumer
	// touches it.
	suppressedRecords int
}

func newSession(parent context.Context, id int, generation uint64, url string, page browser.Page, outputTailBytes int) *Session {
	ctx, cancel := context.WithCancel(parent)
	return &Session{
		ID:         id,
		Generation: generation,
		URL:        url,
		page:       page,
		ctx:        ctx,
		cancel:     cancel,
		output:     lalog.NewByteLogWriter(nil, outputTailBytes),
		status:     StatusLoading,
		openedAt:   time.Now(),
	}
}

// actor identifies the session in log messages.
func (session *Session) actor() string {
	return fmt.Sprintf("page-%d/gen-%d", session.ID, session.Generation)
}

// Status returns the current status of the session.
func (session *Session) Status() Status {
	session.mutex.Lock()
	defer session.mutex.Unlock()
	return session.status
}

// markLoaded moves a loading session to Active after its first navigation completes.
func (session *Session) markLoaded() {
	session.mutex.Lock()
	defer session.mutex.Unlock()
	session.loaded = true
	if session.status == StatusLoading {
		session.status = StatusActive
	}
}

// beginRecovery moves the session to Recovering. It returns false if the session is already recovering or closed.
func (session *Session) beginRecovery() bool {
	session.mutex.Lock()
	defer session.mutex.Unlock()
	if session.status == StatusRecovering || session.status == StatusClosed {
		return false
	}
	session.status = StatusRecovering
	session.recoveries++
	return true
}

// finishRecovery moves a recovering session back to Active after a successful reload.
func (session *Session) finishRecovery() {
	session.mutex.Lock()
	defer session.mutex.Unlock()
	session.loaded = true
	if session.status == StatusRecovering {
		session.status = StatusActive
	}
}

// hasLoaded returns true if the player page has loaded at least once.
func (session *Session) hasLoaded() bool {
	session.mutex.Lock()
	defer session.mutex.Unlock()
	return session.loaded
}

// markClosed stops observation and recovery of the session. The page itself is closed by the pool.
func (session *Session) markClosed() {
	session.mutex.Lock()
	session.status = StatusClosed
	session.mutex.Unlock()
	session.cancel()
}

// SessionSnapshot is a point-in-time copy of a session's state.
type SessionSnapshot struct {
	ID           int       `json:"ID"`
	Generation   uint64    `json:"Generation"`
	Status       Status    `json:"Status"`
	URL          string    `json:"URL"`
	OpenedAt     time.Time `json:"OpenedAt"`
	Recoveries   int       `json:"Recoveries"`
	LatestOutput string    `json:"LatestOutput"`
}

// Snapshot returns a copy of the session's state.
func (session *Session) Snapshot() SessionSnapshot {
	session.mutex.Lock()
	defer session.mutex.Unlock()
	return SessionSnapshot{
		ID:           session.ID,
		Generation:   session.Generation,
		Status:       session.status,
		URL:          session.URL,
		OpenedAt:     session.openedAt,
		Recoveries:   session.recoveries,
		LatestOutput: string(session.output.Retrieve(true)),
	}
}

// FailureEvent describes a line of page output that indicates an ad delivery failure.
type FailureEvent struct {
	ID         ulid.ULID
	SessionID  int
	Generation uint64
	RawMessage string
	Timestamp  time.Time

	session *Session
}

func newFailureEvent(session *Session, rawMessage string) FailureEvent {
	return FailureEvent{
		ID:         ulid.Make(),
		SessionID:  session.ID,
		Generation: session.Generation,
		RawMessage: rawMessage,
		Timestamp:  time.Now(),
		session:    session,
	}
}
