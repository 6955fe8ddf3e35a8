package lalog

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"
	"unicode"

	"github.com/HouzuoGuo/adcycle/datastruct"
)

const (
	// NumLatestLogEntries is the number of latest log entries to memorise for the status endpoint.
	NumLatestLogEntries = 256
	// MaxLogMessageLen is the maximum length of a single log message.
	MaxLogMessageLen = 2048
	truncatedLabel   = "...(truncated)..."
	timestampLayout  = "2006-01-02 15:04:05 "
)

var (
	// LatestLogs are the most recent log messages of all kinds.
	LatestLogs = datastruct.NewRingBuffer[string](NumLatestLogEntries)
	// LatestWarnings are the most recent warning messages, including info messages that came with an error.
	LatestWarnings = datastruct.NewRingBuffer[string](NumLatestLogEntries)

	// GlobalLogWarningCallback is invoked in a separate goroutine after any logger has processed a warning message.
	// The function must avoid generating a warning log message of itself, to avoid an infinite recursion.
	GlobalLogWarningCallback LogWarningCallbackFunc = nil
)

// LogWarningCallbackFunc receives the details of a warning message.
type LogWarningCallbackFunc func(componentName, componentID, funcName, actorName string, err error, msg string)

/*
LoggerIDField is a field of Logger's ComponentID, all fields that make up a ComponentID offer log entry a clue as to
which component instance generated the log message.
*/
type LoggerIDField struct {
	Key   string
	Value interface{}
}

// Logger writes log messages in a regular format.
type Logger struct {
	ComponentName string          // ComponentName is similar to a class name, e.g. "sessionpool".
	ComponentID   []LoggerIDField // ComponentID tells which instance of the component wrote the message.
}

func (logger *Logger) getComponentIDs() string {
	if len(logger.ComponentID) == 0 {
		return ""
	}
	var msg strings.Builder
	msg.WriteRune('[')
	for i, field := range logger.ComponentID {
		if i > 0 {
			msg.WriteRune(';')
		}
		fmt.Fprintf(&msg, "%s=%v", field.Key, field.Value)
	}
	msg.WriteRune(']')
	return msg.String()
}

// Format a log message and return, but do not print it.
func (logger *Logger) Format(functionName, actorName string, err error, template string, values ...interface{}) string {
	// sessionpool[Cap=5].Open(slot-3): Error "no more tabs" - failed to allocate page
	var msg strings.Builder
	msg.WriteString(logger.ComponentName)
	msg.WriteString(logger.getComponentIDs())
	if functionName != "" {
		if msg.Len() > 0 {
			msg.WriteRune('.')
		}
		msg.WriteString(functionName)
	}
	if actorName != "" {
		fmt.Fprintf(&msg, "(%s)", actorName)
	}
	if msg.Len() > 0 {
		msg.WriteString(": ")
	}
	if err != nil {
		fmt.Fprintf(&msg, "Error \"%v\"", err)
		if template != "" {
			msg.WriteString(" - ")
		}
	}
	fmt.Fprintf(&msg, template, values...)
	return LintString(TruncateString(msg.String(), MaxLogMessageLen), MaxLogMessageLen)
}

// Warning prints a log message and keeps it in both the latest logs and latest warnings.
func (logger *Logger) Warning(functionName, actorName string, err error, template string, values ...interface{}) {
	msg := logger.Format(functionName, actorName, err, template, values...)
	msgWithTime := time.Now().Format(timestampLayout) + msg
	LatestLogs.Push(msgWithTime)
	LatestWarnings.Push(msgWithTime)
	log.Print(msg)
	if callback := GlobalLogWarningCallback; callback != nil {
		go callback(logger.ComponentName, logger.getComponentIDs(), functionName, actorName, err, fmt.Sprintf(template, values...))
	}
}

// Info prints a log message and keeps it in latest logs. A message that comes with an error is upgraded to a warning.
func (logger *Logger) Info(functionName, actorName string, err error, template string, values ...interface{}) {
	if err != nil {
		logger.Warning(functionName, actorName, err, template, values...)
		return
	}
	msg := logger.Format(functionName, actorName, err, template, values...)
	LatestLogs.Push(time.Now().Format(timestampLayout) + msg)
	log.Print(msg)
}

// Abort prints the message and exits the program with status 1.
func (logger *Logger) Abort(functionName, actorName string, err error, template string, values ...interface{}) {
	log.Fatal(logger.Format(functionName, actorName, err, template, values...))
}

// MaybeMinorError logs the error, which by convention is minor in nature, in an info message.
// Errors about closed or broken connections and targets are not logged at all.
func (logger *Logger) MaybeMinorError(err error) {
	if err != nil && !strings.Contains(err.Error(), "closed") && !strings.Contains(err.Error(), "broken") {
		logger.Info("", "", nil, "minor error - %s", err.Error())
	}
}

// DefaultLogger is used when it is not possible to acquire a reference to a more dedicated logger.
var DefaultLogger = &Logger{ComponentName: "default", ComponentID: []LoggerIDField{{"PID", os.Getpid()}}}

/*
TruncateString returns the input string as-is if it fits the desired length. Otherwise, text in the middle of the
string is substituted by "...(truncated)..." so that the return value fits.
*/
func TruncateString(in string, maxLength int) string {
	if maxLength < 0 {
		maxLength = 0
	}
	if len(in) <= maxLength {
		return in
	}
	if maxLength <= len(truncatedLabel) {
		return in[:maxLength]
	}
	firstHalfEnd := maxLength/2 - len(truncatedLabel)/2
	secondHalfBegin := len(in) - (maxLength / 2) + len(truncatedLabel)/2
	if maxLength%2 == 0 {
		secondHalfBegin++
	}
	return in[:firstHalfEnd] + truncatedLabel + in[secondHalfBegin:]
}

/*
LintString returns a copy of the input string with unusual characters (such as non-printable characters and record
separators) replaced by an underscore. The return value is capped to the maximum length.
*/
func LintString(in string, maxLength int) string {
	if maxLength < 0 {
		maxLength = 0
	}
	var cleaned strings.Builder
	for i, r := range in {
		if i >= maxLength {
			break
		}
		if (r >= 0 && r <= 8) || // NUL...Backspace
			(r >= 14 && r <= 31) || // ShiftOut..UnitSeparator
			(r >= 127) ||
			(!unicode.IsPrint(r) && !unicode.IsSpace(r)) {
			cleaned.WriteRune('_')
		} else {
			cleaned.WriteRune(r)
		}
	}
	return cleaned.String()
}
