package misc

import (
	"time"
)

var (
	// StartupTime is the timestamp captured when this program started.
	StartupTime = time.Now()
	// ConfigFilePath is the absolute path to JSON configuration file that was used to launch this program.
	ConfigFilePath string

	// EnableAWSIntegration is a program-global flag that determines whether to integrate with AWS services, such as
	// forwarding event log records to kinesis firehose and archiving the event log in S3.
	EnableAWSIntegration bool
	// EnablePrometheusIntegration is a program-global flag that determines whether to collect and serve prometheus
	// metrics readings.
	EnablePrometheusIntegration bool
)
