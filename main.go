package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/HouzuoGuo/adcycle/launcher"
	"github.com/HouzuoGuo/adcycle/lalog"
	"github.com/HouzuoGuo/adcycle/misc"
)

var logger = &lalog.Logger{ComponentName: "main", ComponentID: []lalog.LoggerIDField{{Key: "PID", Value: os.Getpid()}}}

func main() {
	var configFile string
	var maxCycles int
	flag.StringVar(&configFile, "config", "", "(Optional) path to the JSON configuration file, all components use their defaults in its absence")
	flag.BoolVar(&misc.EnablePrometheusIntegration, "prominteg", false, "(Optional) collect prometheus metrics and serve them on /metrics of the HTTP daemon")
	flag.BoolVar(&misc.EnableAWSIntegration, "awsinteg", false, "(Optional) forward the event log to AWS services as configured, and trace HTTP requests with x-ray")
	flag.IntVar(&maxCycles, "maxcycles", -1, "(Optional) override the number of recycles after which the program exits, 0 means never")
	flag.Parse()

	if configFile != "" {
		var err error
		if misc.ConfigFilePath, err = filepath.Abs(configFile); err != nil {
			logger.Abort("main", "", err, "failed to determine absolute path of config file \"%s\"", configFile)
		}
	}
	config, err := launcher.ReadConfigFile(misc.ConfigFilePath)
	if err != nil {
		logger.Abort("main", "", err, "failed to read configuration")
	}
	if maxCycles >= 0 {
		config.Schedule.MaxCycles = maxCycles
	}
	if err := config.Initialise(); err != nil {
		logger.Abort("main", "", err, "failed to initialise the components")
	}

	// Both signals lead to the same teardown as reaching the cycle cap
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := config.Launch(ctx); err != nil {
		logger.Warning("main", "", err, "the program did not shut down cleanly")
		cancel()
		os.Exit(1)
	}
	logger.Info("main", "", nil, "exiting after %d cycles", config.Schedule.CycleCount())
}
