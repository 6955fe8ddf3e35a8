package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/HouzuoGuo/adcycle/lalog"
	"github.com/HouzuoGuo/adcycle/scheduler"
	"github.com/HouzuoGuo/adcycle/sessionpool"
)

type staticPool struct{}

func (staticPool) Sessions() []sessionpool.SessionSnapshot {
	return []sessionpool.SessionSnapshot{
		{ID: 0, Generation: 2, Status: sessionpool.StatusActive, URL: "http://localhost:3000/player.html", OpenedAt: time.Now()},
		{ID: 1, Generation: 2, Status: sessionpool.StatusRecovering, URL: "http://localhost:3000/player.html", OpenedAt: time.Now(), Recoveries: 3},
	}
}

func (staticPool) Generation() uint64 {
	return 2
}

type staticScheduler struct{}

func (staticScheduler) State() scheduler.State {
	return scheduler.StateRecycling
}

func (staticScheduler) CycleCount() int {
	return 2
}

func (staticScheduler) SkippedTicks() int {
	return 1
}

func TestHandleStatus(t *testing.T) {
	if err := (&HandleStatus{}).Initialise(); err == nil {
		t.Fatal("did not error")
	}
	handler := &HandleStatus{Pool: staticPool{}, Scheduler: staticScheduler{}}
	if err := handler.Initialise(); err != nil {
		t.Fatal(err)
	}

	logger := lalog.Logger{ComponentName: "status-test"}
	logger.Warning("", "", nil, "older warning")
	logger.Warning("", "", nil, "newer warning")

	// Plain text
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/status", nil))
	body := w.Body.String()
	for _, expected := range []string{
		"Scheduler: Recycling, 2 cycles completed, 1 ticks skipped",
		"Sessions of generation 2:",
		"page 1: Recovering, 3 recoveries",
		"Recycle: ",
		"System memory: ",
		"Warnings:",
	} {
		if !strings.Contains(body, expected) {
			t.Fatalf("missing %q from:\n%s", expected, body)
		}
	}
	// Latest warnings come first
	if newer, older := strings.Index(body, "newer warning"), strings.Index(body, "older warning"); newer == -1 || newer > older {
		t.Fatal(newer, older)
	}
	if w.Header().Get("Cache-Control") == "" {
		t.Fatal("missing no-cache headers")
	}

	// JSON
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("Accept", "application/json")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if contentType := w.Header().Get("Content-Type"); contentType != "application/json" {
		t.Fatal(contentType)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &decoded); err != nil {
		t.Fatal(err, w.Body.String())
	}
	if decoded["State"] != "Recycling" || decoded["CycleCount"] != 2.0 || decoded["Generation"] != 2.0 {
		t.Fatalf("%+v", decoded)
	}
	sessions := decoded["Sessions"].([]interface{})
	if len(sessions) != 2 || sessions[1].(map[string]interface{})["Status"] != "Recovering" {
		t.Fatalf("%+v", sessions)
	}
	if _, exists := decoded["Stats"].(map[string]interface{})["Recovery"]; !exists {
		t.Fatalf("%+v", decoded["Stats"])
	}
	if _, exists := decoded["SystemTotalKB"]; !exists {
		t.Fatalf("%+v", decoded)
	}
}
