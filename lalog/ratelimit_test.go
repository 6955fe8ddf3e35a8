package lalog

import (
	"testing"
	"time"
)

func TestRateLimit(t *testing.T) {
	limit := NewRateLimit(500*time.Millisecond, 3, nil)
	for i := 0; i < 3; i++ {
		if !limit.Add("a", true) {
			t.Fatal("should not have hit the limit", i)
		}
	}
	if limit.Add("a", true) || limit.Add("a", true) {
		t.Fatal("should have hit the limit")
	}
	// Other actors are counted separately
	if !limit.Add("b", true) {
		t.Fatal("b should not have hit the limit")
	}
	time.Sleep(600 * time.Millisecond)
	if !limit.Add("a", true) {
		t.Fatal("counter should have been reset")
	}
}

func TestNewRateLimit_BadParameters(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("did not panic")
		}
	}()
	NewRateLimit(0, 1, nil)
}
