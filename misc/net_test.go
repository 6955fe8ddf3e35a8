package misc

import (
	"net"
	"strconv"
	"testing"
	"time"
)

func TestProbePort(t *testing.T) {
	port := GetLocalhostPort()
	if port == 0 {
		t.Fatal("failed to find a free port")
	}
	listener, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		t.Fatal(err)
	}
	if !ProbePort(3*time.Second, "127.0.0.1", port) {
		t.Fatal("should have seen the listening port")
	}
	_ = listener.Close()

	start := time.Now()
	if ProbePort(1*time.Second, "127.0.0.1", port) {
		t.Fatal("should not have seen an unoccupied port")
	}
	if duration := time.Since(start); duration > 5*time.Second {
		t.Fatalf("ProbePort took way too long")
	}
}
