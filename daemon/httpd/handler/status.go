// Package handler contains the HTTP handlers of the player server other than the player's static files.
package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/HouzuoGuo/adcycle/datastruct"
	"github.com/HouzuoGuo/adcycle/lalog"
	"github.com/HouzuoGuo/adcycle/misc"
	"github.com/HouzuoGuo/adcycle/scheduler"
	"github.com/HouzuoGuo/adcycle/sessionpool"
)

// PoolStatus is the part of the session pool presented by the status handler.
type PoolStatus interface {
	Sessions() []sessionpool.SessionSnapshot
	Generation() uint64
}

// SchedulerStatus is the part of the recycle scheduler presented by the status handler.
type SchedulerStatus interface {
	State() scheduler.State
	CycleCount() int
	SkippedTicks() int
}

// ProgramStatus describes the program, its pool and scheduler at the moment of the request.
type ProgramStatus struct {
	HostName        string                            `json:"HostName"`
	PID             int                               `json:"PID"`
	StartupTime     time.Time                         `json:"StartupTime"`
	Uptime          string                            `json:"Uptime"`
	NumGoroutines   int                               `json:"NumGoroutines"`
	ProgramMemoryKB int                               `json:"ProgramMemoryKB"`
	SystemMemoryKB  int                               `json:"SystemMemoryKB"`
	SystemTotalKB   int                               `json:"SystemTotalKB"`
	SystemLoad      string                            `json:"SystemLoad"`
	State           scheduler.State                   `json:"State"`
	CycleCount      int                               `json:"CycleCount"`
	SkippedTicks    int                               `json:"SkippedTicks"`
	Generation      uint64                            `json:"Generation"`
	Sessions        []sessionpool.SessionSnapshot     `json:"Sessions"`
	Stats           map[string]misc.StatsDisplayValue `json:"Stats"`
	LatestWarnings  []string                          `json:"LatestWarnings"`
	LatestLogs      []string                          `json:"LatestLogs"`
}

// HandleStatus presents the program status in plain text, or in JSON if the client accepts it.
type HandleStatus struct {
	Pool      PoolStatus
	Scheduler SchedulerStatus
}

// Initialise checks that the status sources are present.
func (status *HandleStatus) Initialise() error {
	if status.Pool == nil || status.Scheduler == nil {
		return errors.New("handler.HandleStatus.Initialise: pool and scheduler must be present")
	}
	return nil
}

// GetProgramStatus collects the latest status of the program.
func (status *HandleStatus) GetProgramStatus() ProgramStatus {
	hostName, _ := os.Hostname()
	usedKB, totalKB := misc.GetSystemMemoryUsageKB()
	return ProgramStatus{
		HostName:        hostName,
		PID:             os.Getpid(),
		StartupTime:     misc.StartupTime,
		Uptime:          time.Since(misc.StartupTime).Round(time.Second).String(),
		NumGoroutines:   runtime.NumGoroutine(),
		ProgramMemoryKB: misc.GetProgramMemoryUsageKB(),
		SystemMemoryKB:  usedKB,
		SystemTotalKB:   totalKB,
		SystemLoad:      misc.GetSystemLoad(),
		State:           status.Scheduler.State(),
		CycleCount:      status.Scheduler.CycleCount(),
		SkippedTicks:    status.Scheduler.SkippedTicks(),
		Generation:      status.Pool.Generation(),
		Sessions:        status.Pool.Sessions(),
		Stats: map[string]misc.StatsDisplayValue{
			"Recycle":  misc.RecycleStats.DisplayValue(),
			"Recovery": misc.RecoveryStats.DisplayValue(),
			"HTTPD":    misc.HTTPDStats.DisplayValue(),
		},
		LatestWarnings: lalog.LatestWarnings.GetAll(),
		LatestLogs:     lalog.LatestLogs.GetAll(),
	}
}

func (status *HandleStatus) handlePlainText(w http.ResponseWriter, programStatus ProgramStatus) {
	w.Header().Set("Content-Type", "text/plain; charset=UTF-8")
	NoCache(w)
	var result bytes.Buffer
	fmt.Fprintf(&result, "Host name: %s\nPID: %d\nUptime: %s\nGoroutines: %d\nProgram memory: %d KB\nSystem memory: %d of %d KB used\nSystem load: %s\n",
		programStatus.HostName, programStatus.PID, programStatus.Uptime, programStatus.NumGoroutines, programStatus.ProgramMemoryKB,
		programStatus.SystemMemoryKB, programStatus.SystemTotalKB, programStatus.SystemLoad)
	fmt.Fprintf(&result, "\nScheduler: %s, %d cycles completed, %d ticks skipped\n", programStatus.State, programStatus.CycleCount, programStatus.SkippedTicks)
	fmt.Fprintf(&result, "\nSessions of generation %d:\n", programStatus.Generation)
	for _, session := range programStatus.Sessions {
		fmt.Fprintf(&result, "page %d: %s, %d recoveries, opened at %s, %s\n",
			session.ID, session.Status, session.Recoveries, session.OpenedAt.Format(time.RFC3339), session.URL)
	}
	// Stats, warnings, and logs, in that order.
	result.WriteString("\nStats - low/avg/high,total seconds(count):\n")
	for _, name := range []string{"Recycle", "Recovery", "HTTPD"} {
		fmt.Fprintf(&result, "%s: %s\n", name, programStatus.Stats[name].Summary)
	}
	result.WriteString("\nWarnings:\n")
	writeLatestFirst(&result, lalog.LatestWarnings)
	result.WriteString("\nLogs:\n")
	writeLatestFirst(&result, lalog.LatestLogs)
	_, _ = w.Write(result.Bytes())
}

func writeLatestFirst(out *bytes.Buffer, entries *datastruct.RingBuffer[string]) {
	entries.IterateReverse(func(entry string) bool {
		out.WriteString(entry)
		out.WriteRune('\n')
		return true
	})
}

func (status *HandleStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	programStatus := status.GetProgramStatus()
	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		w.Header().Set("Content-Type", "application/json")
		NoCache(w)
		_ = json.NewEncoder(w).Encode(programStatus)
		return
	}
	status.handlePlainText(w, programStatus)
}

// NoCache prevents the response from being cached by the client or proxies in between.
func NoCache(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
}
