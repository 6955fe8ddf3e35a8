// Package launcher turns the JSON configuration into initialised components and runs them until the recycle scheduler
// stops.
package launcher

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/HouzuoGuo/adcycle/browser"
	"github.com/HouzuoGuo/adcycle/daemon/healthrpc"
	"github.com/HouzuoGuo/adcycle/daemon/httpd"
	"github.com/HouzuoGuo/adcycle/eventlog"
	"github.com/HouzuoGuo/adcycle/lalog"
	"github.com/HouzuoGuo/adcycle/scheduler"
	"github.com/HouzuoGuo/adcycle/sessionpool"
)

// Config is JSON-compatible and capable of setting up all components of the program. Every section is optional,
// a missing section gets the default values of its component.
type Config struct {
	Browser    browser.ChromeEngine `json:"Browser"`    // Browser configures the Chrome process that hosts the sessions.
	Pool       sessionpool.Pool     `json:"Pool"`       // Pool configures the player sessions and their recovery.
	Schedule   scheduler.Scheduler  `json:"Schedule"`   // Schedule configures the recycle period and the cycle cap.
	HTTPDaemon httpd.Daemon         `json:"HTTPDaemon"` // HTTPDaemon serves the player page and program status.
	EventLog   eventlog.Log         `json:"EventLog"`   // EventLog is the persistent log of notable events.
	// HealthRPC is the gRPC health service, it is only started when the section is present.
	HealthRPC *healthrpc.Daemon `json:"HealthRPC"`

	// Engine overrides the Chrome process when it is set, the caller is responsible for starting the engine.
	Engine browser.Engine `json:"-"`

	initialised bool
	logger      lalog.Logger
}

// DeserialiseFromJSON deserialises the JSON configuration of all components. Components are initialised by Initialise.
func (config *Config) DeserialiseFromJSON(in []byte) error {
	config.logger = lalog.Logger{ComponentName: "config"}
	if err := json.Unmarshal(in, config); err != nil {
		return fmt.Errorf("launcher.DeserialiseFromJSON: %w", err)
	}
	return nil
}

// ReadConfigFile reads and deserialises the JSON configuration file. An empty path results in the default configuration.
func ReadConfigFile(path string) (*Config, error) {
	config := &Config{logger: lalog.Logger{ComponentName: "config"}}
	if path == "" {
		return config, nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("launcher.ReadConfigFile: %w", err)
	}
	if err := config.DeserialiseFromJSON(content); err != nil {
		return nil, err
	}
	return config, nil
}

/*
Initialise applies defaults to every component and connects them together: the event log receives the notable
events of the pool, scheduler, and HTTP daemon; the scheduler recycles the pool; the health service follows the
scheduler state; and the HTTP daemon presents the pool and scheduler status.
*/
func (config *Config) Initialise() error {
	if config.initialised {
		return nil
	}
	config.logger = lalog.Logger{ComponentName: "config"}
	if err := config.EventLog.Initialise(); err != nil {
		return err
	}
	if config.Engine == nil {
		if err := config.Browser.Initialise(); err != nil {
			return err
		}
		config.Engine = &config.Browser
	}

	config.Pool.Engine = config.Engine
	config.Pool.EventLog = &config.EventLog
	if err := config.Pool.Initialise(); err != nil {
		return err
	}

	if config.HealthRPC != nil {
		if err := config.HealthRPC.Initialise(); err != nil {
			return err
		}
	}

	config.Schedule.Capacity = config.Pool.Capacity
	config.Schedule.Pool = &config.Pool
	config.Schedule.EventLog = &config.EventLog
	config.Schedule.OnStateChange = config.onStateChange
	if err := config.Schedule.Initialise(); err != nil {
		return err
	}

	config.HTTPDaemon.Pool = &config.Pool
	config.HTTPDaemon.Scheduler = &config.Schedule
	config.HTTPDaemon.EventLog = &config.EventLog
	if err := config.HTTPDaemon.Initialise(); err != nil {
		return err
	}
	config.initialised = true
	config.logger.Info("Initialise", "", nil, "%d sessions of %s, recycled every %v, stopping after %d cycles (0 is never)",
		config.Pool.Capacity, config.Pool.PlayerURLTemplate, config.Schedule.Period, config.Schedule.MaxCycles)
	return nil
}

func (config *Config) onStateChange(state scheduler.State) {
	if config.HealthRPC != nil {
		config.HealthRPC.SetState(state)
	}
	config.logger.Info("onStateChange", "", nil, "scheduler is now %s", state)
}
