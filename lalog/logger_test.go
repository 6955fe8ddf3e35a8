package lalog

import (
	"errors"
	"strings"
	"testing"
)

func TestLogger_Format(t *testing.T) {
	logger := Logger{}
	if msg := logger.Format("", "", nil, "a"); msg != "a" {
		t.Fatal(msg)
	}
	if msg := logger.Format("", "", errors.New("test"), ""); msg != "Error \"test\"" {
		t.Fatal(msg)
	}
	if msg := logger.Format("", "", errors.New("test"), "a"); msg != "Error \"test\" - a" {
		t.Fatal(msg)
	}
	if msg := logger.Format("", "act", errors.New("test"), "a"); msg != "(act): Error \"test\" - a" {
		t.Fatal(msg)
	}
	if msg := logger.Format("fun", "act", errors.New("test"), "a"); msg != "fun(act): Error \"test\" - a" {
		t.Fatal(msg)
	}
	logger.ComponentID = []LoggerIDField{{"a", 1}, {"b", "c"}}
	if msg := logger.Format("fun", "act", errors.New("test"), "a"); msg != "[a=1;b=c].fun(act): Error \"test\" - a" {
		t.Fatal(msg)
	}
	logger.ComponentName = "comp"
	if msg := logger.Format("fun", "act", errors.New("test"), "a"); msg != "comp[a=1;b=c].fun(act): Error \"test\" - a" {
		t.Fatal(msg)
	}
	if msg := logger.Format("fun", "act", errors.New("test"), strings.Repeat("a", MaxLogMessageLen)); len(msg) != MaxLogMessageLen || !strings.Contains(msg, strings.Repeat("a", 500)) {
		t.Fatal(len(msg), msg)
	}
	if msg := logger.Format("", "", errors.New("test"), ""); msg != `comp[a=1;b=c]: Error "test"` {
		t.Fatal(msg)
	}
}

// countLatest returns the number of entries that end with the suffix in latest logs and latest warnings.
func countLatest(suffix string) (logs, warnings int) {
	for _, entry := range LatestLogs.GetAll() {
		if strings.HasSuffix(entry, suffix) {
			logs++
		}
	}
	for _, entry := range LatestWarnings.GetAll() {
		if strings.HasSuffix(entry, suffix) {
			warnings++
		}
	}
	return
}

func TestLogger_Info(t *testing.T) {
	logger := Logger{ComponentName: "test-info"}
	logger.Info("", "", nil, "plain")
	logger.Info("", "", nil, "plain")
	if logs, warnings := countLatest("test-info: plain"); logs != 2 || warnings != 0 {
		t.Fatal(logs, warnings)
	}
	// Info messages that come with an error are upgraded to warnings
	logger.Info("", "", errors.New("upgrade"), "")
	logger.Info("", "", errors.New("upgrade"), "")
	if logs, warnings := countLatest(`test-info: Error "upgrade"`); logs != 2 || warnings != 2 {
		t.Fatal(logs, warnings)
	}
	if last := LatestWarnings.GetAll()[LatestWarnings.Len()-1]; !strings.HasSuffix(last, `test-info: Error "upgrade"`) {
		t.Fatal(last)
	}
}

func TestLogger_Warning(t *testing.T) {
	logger := Logger{ComponentName: "test-warning"}
	logger.Warning("", "", nil, "first")
	logger.Warning("", "", errors.New("oops"), "")
	if logs, warnings := countLatest("test-warning: first"); logs != 1 || warnings != 1 {
		t.Fatal(logs, warnings)
	}
	if logs, warnings := countLatest(`test-warning: Error "oops"`); logs != 1 || warnings != 1 {
		t.Fatal(logs, warnings)
	}
}

func TestLogger_MaybeMinorError(t *testing.T) {
	logger := Logger{ComponentName: "test-minor"}
	logger.MaybeMinorError(nil)
	logger.MaybeMinorError(errors.New("use of closed network connection"))
	logger.MaybeMinorError(errors.New("throttled"))
	if logs, warnings := countLatest("minor error - throttled"); logs != 1 || warnings != 0 {
		t.Fatal(logs, warnings)
	}
	if logs, _ := countLatest("minor error - use of closed network connection"); logs != 0 {
		t.Fatal(logs)
	}
}

func TestTruncateString(t *testing.T) {
	if s := TruncateString("", -1); s != "" {
		t.Fatal(s)
	}
	if s := TruncateString("", 0); s != "" {
		t.Fatal(s)
	}
	if s := TruncateString("a", 0); s != "" {
		t.Fatal(s)
	}

	if s := TruncateString("aa", 1); s != "a" {
		t.Fatal(s)
	}
	if s := TruncateString("aa", 2); s != "aa" {
		t.Fatal(s)
	}
	if s := TruncateString("aa", 3); s != "aa" {
		t.Fatal(s)
	}

	if s := TruncateString("01234567890123456789", 10); s != "0123456789" {
		t.Fatal(s)
	}
	if s := TruncateString("01234567890123456789", 17); s != "01234567890123456" {
		t.Fatal(s)
	}
	if s := TruncateString("01234567890123456789", 18); s != "0...(truncated)..." {
		t.Fatal(s)
	}
	if s := TruncateString("01234567890123456789", 19); s != "0...(truncated)...9" {
		t.Fatal(s)
	}
	if s := TruncateString("012345678901234567890123456789", 25); s != "0123...(truncated)...6789" {
		t.Fatal(s)
	}

	if s := TruncateString(strings.Repeat("a", 1000), 500); !strings.Contains(s, strings.Repeat("a", 241)) {
		t.Fatal(s)
	}
}

func TestLintString(t *testing.T) {
	if s := LintString("", -1); s != "" {
		t.Fatal(s)
	}
	if s := LintString("", 0); s != "" {
		t.Fatal(s)
	}
	if s := LintString("abc", 1); s != "a" {
		t.Fatal(s)
	}

	a := LintString("\x01\x08 a \x0e\x1f b\n \x7f c\t \x80", 100)
	match := "__ a __ b\n _ c\t _"
	if a != match {
		t.Fatalf("\n%s\n%s\n%v\n%v\n", a, match, []byte(a), []byte(match))
	}
}

func TestLogger_WarningCallback(t *testing.T) {
	received := make(chan string, 1)
	GlobalLogWarningCallback = func(componentName, componentID, funcName, actorName string, err error, msg string) {
		received <- componentName + componentID + "." + funcName + "(" + actorName + "): " + err.Error() + " - " + msg
	}
	defer func() {
		GlobalLogWarningCallback = nil
	}()
	logger := Logger{ComponentName: "comp", ComponentID: []LoggerIDField{{"a", 1}}}
	logger.Info("fun", "act", nil, "not a warning")
	logger.Warning("fun", "act", errors.New("test"), "hello %d", 1)
	if msg := <-received; msg != "comp[a=1].fun(act): test - hello 1" {
		t.Fatal(msg)
	}
}
