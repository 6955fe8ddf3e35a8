// Package healthrpc offers the standard gRPC health checking service, reporting the program as serving while the
// recycle scheduler keeps the session pool open.
package healthrpc

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/HouzuoGuo/adcycle/lalog"
	"github.com/HouzuoGuo/adcycle/scheduler"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

const (
	// DefaultPort is the port number the daemon will listen on in the absence of port number specified by user.
	DefaultPort = 3001
	// DefaultServiceName is the service name whose status follows the scheduler state. The empty service name, which
	// stands for the overall server health, follows it too.
	DefaultServiceName = "adcycle"
)

// Daemon offers a network listener for the gRPC health service.
type Daemon struct {
	// Address is the IP address to listen on, e.g. 0.0.0.0 to listen on all network interfaces.
	Address string `json:"Address"`
	// Port to listen on.
	Port int `json:"Port"`
	// ServiceName is reported in addition to the overall server health.
	ServiceName string `json:"ServiceName"`

	healthServer *health.Server
	rpcServer    *grpc.Server
	mutex        sync.Mutex
	logger       lalog.Logger
}

// Initialise validates configuration parameters and initialises the internal states of the daemon. The health status
// is NOT_SERVING until the scheduler starts running.
func (daemon *Daemon) Initialise() error {
	if daemon.Address == "" {
		daemon.Address = "0.0.0.0"
	}
	if daemon.Port == 0 {
		daemon.Port = DefaultPort
	}
	if daemon.Port < 1 {
		return errors.New("healthrpc.Initialise: listen port must be greater than 0")
	}
	if daemon.ServiceName == "" {
		daemon.ServiceName = DefaultServiceName
	}
	daemon.logger = lalog.Logger{ComponentName: "healthrpc", ComponentID: []lalog.LoggerIDField{{Key: "Port", Value: strconv.Itoa(daemon.Port)}}}
	daemon.healthServer = health.NewServer()
	daemon.SetState(scheduler.StateIdle)
	return nil
}

// SetState translates the scheduler state into the health status. It is safe to call from the scheduler's state change
// callback as it never blocks.
func (daemon *Daemon) SetState(state scheduler.State) {
	status := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if state == scheduler.StateRunning || state == scheduler.StateRecycling {
		status = grpc_health_v1.HealthCheckResponse_SERVING
	}
	daemon.healthServer.SetServingStatus("", status)
	daemon.healthServer.SetServingStatus(daemon.ServiceName, status)
}

// StartAndBlock starts a network listener and serves incoming requests using the embedded gRPC server.
// The function will block caller until Stop is called.
func (daemon *Daemon) StartAndBlock() error {
	listener, err := net.Listen("tcp", net.JoinHostPort(daemon.Address, strconv.Itoa(daemon.Port)))
	if err != nil {
		return fmt.Errorf("healthrpc.StartAndBlock: failed to listen on %s:%d - %w", daemon.Address, daemon.Port, err)
	}
	rpcServer := grpc.NewServer()
	grpc_health_v1.RegisterHealthServer(rpcServer, daemon.healthServer)
	daemon.mutex.Lock()
	daemon.rpcServer = rpcServer
	daemon.mutex.Unlock()
	daemon.logger.Info("StartAndBlock", "", nil, "listening on address %s, port %d", daemon.Address, daemon.Port)
	if err := rpcServer.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("healthrpc.StartAndBlock: %w", err)
	}
	return nil
}

// Stop the daemon, its network listener, and embedded gRPC server. Watchers of the health status are told that the
// server is going away.
func (daemon *Daemon) Stop() {
	daemon.mutex.Lock()
	defer daemon.mutex.Unlock()
	if daemon.rpcServer != nil {
		daemon.healthServer.Shutdown()
		daemon.rpcServer.Stop()
		daemon.rpcServer = nil
	}
}
