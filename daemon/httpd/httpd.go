// Package httpd serves the ad player's static files to the browser sessions, along with the program status and
// prometheus metrics.
package httpd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/HouzuoGuo/adcycle/daemon/httpd/handler"
	"github.com/HouzuoGuo/adcycle/daemon/httpd/middleware"
	"github.com/HouzuoGuo/adcycle/lalog"
	"github.com/HouzuoGuo/adcycle/misc"
	"github.com/go-chi/chi/v5"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/net/netutil"
)

const (
	// DefaultPort is the port the player page is served on, it matches the default player URL of the session pool.
	DefaultPort = 3000
	// DefaultPlayerDirectory is the directory of player's static files, relative to the working directory.
	DefaultPlayerDirectory = "public"
	// DefaultPerIPLimit is the number of requests a client IP may make per second.
	DefaultPerIPLimit = 30
	// DefaultMaxConnections caps the number of simultaneous client connections.
	DefaultMaxConnections = 256
	// MaxRequestBodyBytes restricts the size of request body read by any handler.
	MaxRequestBodyBytes = 64 * 1024
	// IOTimeoutSec is the IO timeout for both read and write operations.
	IOTimeoutSec = 60
	// RateLimitIntervalSec is the unit of time of the per-IP rate limit.
	RateLimitIntervalSec = 1
	// StatusRateLimitFactor makes the status endpoint this many times more expensive than a static file.
	StatusRateLimitFactor = 5
)

// EventRecorder receives the notable events of the daemon.
type EventRecorder interface {
	Record(message string)
}

// Daemon is the HTTP server of the player's static files, the program status, and prometheus metrics.
type Daemon struct {
	Address         string `json:"Address"`         // Address is the network address to listen to, e.g. 0.0.0.0 for all network interfaces.
	Port            int    `json:"Port"`            // Port number to listen on.
	PlayerDirectory string `json:"PlayerDirectory"` // PlayerDirectory is served at the root location.
	PerIPLimit      int    `json:"PerIPLimit"`      // PerIPLimit is the number of requests a client IP may make per second.
	MaxConnections  int    `json:"MaxConnections"`  // MaxConnections caps the number of simultaneous client connections.

	Pool      handler.PoolStatus      `json:"-"`
	Scheduler handler.SchedulerStatus `json:"-"`
	// EventLog may be nil.
	EventLog EventRecorder `json:"-"`

	router      chi.Router
	server      *http.Server
	serverMutex sync.Mutex
	logger      lalog.Logger
}

// Initialise validates configuration, applies defaults, and installs the HTTP routes.
func (daemon *Daemon) Initialise() error {
	if daemon.Address == "" {
		daemon.Address = "0.0.0.0"
	}
	if daemon.Port == 0 {
		daemon.Port = DefaultPort
	}
	daemon.logger = lalog.Logger{ComponentName: "httpd", ComponentID: []lalog.LoggerIDField{{Key: "Port", Value: daemon.Port}}}
	if daemon.Port < 1 {
		return errors.New("httpd.Initialise: listen port must be greater than 0")
	}
	if daemon.PlayerDirectory == "" {
		daemon.PlayerDirectory = DefaultPlayerDirectory
	}
	if daemon.PerIPLimit == 0 {
		daemon.PerIPLimit = DefaultPerIPLimit
	}
	if daemon.PerIPLimit < 1 {
		return errors.New("httpd.Initialise: PerIPLimit must be greater than 0")
	}
	if daemon.MaxConnections == 0 {
		daemon.MaxConnections = DefaultMaxConnections
	}
	if daemon.MaxConnections < 1 {
		return errors.New("httpd.Initialise: MaxConnections must be greater than 0")
	}
	if info, err := os.Stat(daemon.PlayerDirectory); err != nil || !info.IsDir() {
		daemon.logger.Warning("Initialise", daemon.PlayerDirectory, err, "the player directory is not a readable directory, the player page will not be available")
	}
	statusHandler := &handler.HandleStatus{Pool: daemon.Pool, Scheduler: daemon.Scheduler}
	if err := statusHandler.Initialise(); err != nil {
		return fmt.Errorf("httpd.Initialise: %w", err)
	}
	promHandler := &handler.HandlePrometheus{}
	if err := promHandler.Initialise(); err != nil {
		return fmt.Errorf("httpd.Initialise: %w", err)
	}

	histograms := middleware.NewPrometheusHistograms(&daemon.logger)
	fileLimit := lalog.NewRateLimit(RateLimitIntervalSec*time.Second, daemon.PerIPLimit, &daemon.logger)
	statusLimit := lalog.NewRateLimit(RateLimitIntervalSec*time.Second, max(1, daemon.PerIPLimit/StatusRateLimitFactor), &daemon.logger)

	router := chi.NewRouter()
	router.Use(middleware.WithAWSXray("adcycle-httpd"))
	router.Use(middleware.RecordInternalStats(misc.HTTPDStats))
	router.Use(middleware.LogRequestStats(&daemon.logger))
	router.Use(middleware.RestrictMaxRequestSize(MaxRequestBodyBytes))
	router.With(middleware.RateLimit(statusLimit), middleware.RecordPrometheusStats("/status", histograms)).
		Get("/status", statusHandler.ServeHTTP)
	router.With(middleware.RateLimit(statusLimit)).
		Get("/metrics", promHandler.ServeHTTP)
	router.With(middleware.RateLimit(fileLimit), middleware.RecordPrometheusStats("/", histograms)).
		Handle("/*", http.FileServer(http.Dir(daemon.PlayerDirectory)))
	daemon.router = router
	return nil
}

// Handler returns the router of all HTTP routes. Initialise must be called beforehand.
func (daemon *Daemon) Handler() http.Handler {
	return daemon.router
}

// getListenPort returns the port to listen on. The environment variable PORT takes precedence over the configuration
// when it is present, as some hosting platforms decide the port for the program.
func (daemon *Daemon) getListenPort() (int, error) {
	envPort := strings.TrimSpace(os.Getenv("PORT"))
	if envPort == "" {
		return daemon.Port, nil
	}
	port, err := strconv.Atoi(envPort)
	if err != nil {
		return 0, fmt.Errorf("httpd.StartAndBlock: environment variable PORT value \"%s\" is not an integer", envPort)
	}
	return port, nil
}

/*
StartAndBlock starts the HTTP server and blocks caller until Stop is called. The daemon must have been initialised.
The event log receives "Service started at <url>" once the listener is ready.
*/
func (daemon *Daemon) StartAndBlock() error {
	port, err := daemon.getListenPort()
	if err != nil {
		return err
	}
	listener, err := net.Listen("tcp", net.JoinHostPort(daemon.Address, strconv.Itoa(port)))
	if err != nil {
		return fmt.Errorf("httpd.StartAndBlock: failed to listen on %s:%d - %w", daemon.Address, port, err)
	}
	daemon.serverMutex.Lock()
	daemon.server = &http.Server{
		// h2c lets the player fetch its assets over cleartext HTTP/2 as well as HTTP/1.1
		Handler:      h2c.NewHandler(daemon.router, &http2.Server{}),
		ReadTimeout:  IOTimeoutSec * time.Second,
		WriteTimeout: IOTimeoutSec * time.Second,
	}
	server := daemon.server
	daemon.serverMutex.Unlock()

	daemon.logger.Info("StartAndBlock", "", nil, "going to listen for HTTP connections on %s:%d", daemon.Address, port)
	if daemon.EventLog != nil {
		daemon.EventLog.Record(fmt.Sprintf("Service started at http://localhost:%d", port))
	}
	if err := server.Serve(netutil.LimitListener(listener, daemon.MaxConnections)); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("httpd.StartAndBlock: failed to serve on %s:%d - %w", daemon.Address, port, err)
	}
	return nil
}

// Stop the HTTP server, it waits for the active requests to finish for up to the IO timeout.
func (daemon *Daemon) Stop() {
	daemon.serverMutex.Lock()
	server := daemon.server
	daemon.server = nil
	daemon.serverMutex.Unlock()
	if server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), (IOTimeoutSec+2)*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		daemon.logger.Warning("Stop", "", err, "failed to shutdown")
	}
}
