package launcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/HouzuoGuo/adcycle/misc"
)

const (
	// DaemonStartTimeoutSec is the time limit for the HTTP daemon to start listening before the sessions are opened.
	DaemonStartTimeoutSec = 10
	// EventLogCloseTimeoutSec bounds the final flush and archive of the event log.
	EventLogCloseTimeoutSec = 60
)

/*
Launch starts the browser, the daemons, and the recycle scheduler, then blocks until the scheduler stops, either by
reaching its cycle cap or because ctx is cancelled. The daemons are stopped and the event log is closed before
Launch returns. The returned error is nil if the scheduler stopped as asked, even if the final flush of the event log
failed, as that is only logged.
*/
func (config *Config) Launch(ctx context.Context) error {
	if err := config.Initialise(); err != nil {
		return err
	}
	if config.Engine == &config.Browser {
		if err := config.Browser.Start(context.Background()); err != nil {
			config.closeEventLog()
			return err
		}
		defer config.Browser.Stop()
	}

	daemonErrs := make(chan error, 2)
	go func() {
		if err := config.HTTPDaemon.StartAndBlock(); err != nil {
			daemonErrs <- err
		}
	}()
	defer config.HTTPDaemon.Stop()
	if config.HealthRPC != nil {
		go func() {
			if err := config.HealthRPC.StartAndBlock(); err != nil {
				daemonErrs <- err
			}
		}()
		defer config.HealthRPC.Stop()
	}
	// The sessions load the player page from the HTTP daemon
	if !misc.ProbePort(DaemonStartTimeoutSec*time.Second, config.probeAddress(), config.HTTPDaemon.Port) {
		select {
		case err := <-daemonErrs:
			config.closeEventLog()
			return err
		default:
			config.logger.Warning("Launch", "", nil, "HTTP daemon did not start listening in %d seconds, the sessions may fail to load", DaemonStartTimeoutSec)
		}
	}

	if err := config.Schedule.Start(ctx); err != nil {
		config.closeEventLog()
		return err
	}
	var launchErr error
	select {
	case <-config.Schedule.Done():
		// Problems of the final flush are not fatal to a shutdown that was asked for
		if err := config.Schedule.Wait(); err != nil {
			config.logger.Warning("Launch", "", err, "the scheduler did not stop cleanly")
		}
	case err := <-daemonErrs:
		config.logger.Warning("Launch", "", err, "a daemon has failed, stopping the scheduler")
		stopCtx, cancel := context.WithTimeout(context.Background(), time.Duration(config.Schedule.ShutdownTimeoutSec+EventLogCloseTimeoutSec)*time.Second)
		defer cancel()
		launchErr = errors.Join(err, config.Schedule.Stop(stopCtx))
	}
	if err := config.closeEventLog(); err != nil {
		config.logger.Warning("Launch", "", err, "failed to close the event log")
	}
	config.logger.Info("Launch", "", nil, "completed %d cycles", config.Schedule.CycleCount())
	return launchErr
}

func (config *Config) probeAddress() string {
	if config.HTTPDaemon.Address == "0.0.0.0" || config.HTTPDaemon.Address == "::" {
		return "127.0.0.1"
	}
	return config.HTTPDaemon.Address
}

func (config *Config) closeEventLog() error {
	ctx, cancel := context.WithTimeout(context.Background(), EventLogCloseTimeoutSec*time.Second)
	defer cancel()
	if err := config.EventLog.Close(ctx); err != nil {
		return fmt.Errorf("launcher.Launch: failed to close the event log - %w", err)
	}
	return nil
}
