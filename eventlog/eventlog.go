// Package eventlog appends timestamped status messages to a text file, and optionally forwards each message to AWS.
package eventlog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HouzuoGuo/adcycle/awsinteg"
	"github.com/HouzuoGuo/adcycle/lalog"
	"github.com/HouzuoGuo/adcycle/misc"
)

const (
	// TimestampLayout is the format of the timestamp that begins each line, e.g. 2024-05-01T08:00:00.000Z.
	TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

	DefaultFilePath          = "ad_log.txt"
	DefaultQueueLen          = 1000
	DefaultForwardTimeoutSec = 10
	// DefaultAlertPattern matches the failures worth an alert.
	DefaultAlertPattern = `^(Error |Shutting down)`
)

// RecordPutter puts a record into a kinesis firehose delivery stream.
type RecordPutter interface {
	PutRecord(ctx context.Context, streamName string, recordData []byte) error
}

// Publisher publishes a message to an SNS topic.
type Publisher interface {
	Publish(ctx context.Context, topicARN, text string) error
}

// Uploader writes an object into an S3 bucket.
type Uploader interface {
	Upload(ctx context.Context, bucketName, objectKey string, objectValue io.Reader) error
}

// Log is an append-only text file of timestamped status messages. It is safe for concurrent use.
type Log struct {
	// FilePath is the log file, it is created if it does not yet exist.
	FilePath string `json:"FilePath"`
	// FirehoseStream receives a copy of every message.
	FirehoseStream string `json:"FirehoseStream"`
	// AlertTopicARN receives a copy of the messages that match AlertPattern.
	AlertTopicARN string `json:"AlertTopicARN"`
	AlertPattern  string `json:"AlertPattern"`
	// ArchiveBucket receives a copy of the log file when the log is closed.
	ArchiveBucket string `json:"ArchiveBucket"`
	// WarningQueueURL is an SQS queue that receives a copy of every warning message of the program's loggers.
	WarningQueueURL string `json:"WarningQueueURL"`
	// QueueLen is the number of messages that may wait to be forwarded, messages beyond the limit are not forwarded.
	QueueLen          int `json:"QueueLen"`
	ForwardTimeoutSec int `json:"ForwardTimeoutSec"`

	// Firehose, SNS, S3, and SQS are constructed by Initialise when AWS integration is enabled and they are not yet set.
	Firehose RecordPutter  `json:"-"`
	SNS      Publisher     `json:"-"`
	S3       Uploader      `json:"-"`
	SQS      MessageSender `json:"-"`

	alertRegex *regexp.Regexp
	file       *os.File
	mutex      sync.Mutex
	closed     bool
	queue      chan string
	pending    atomic.Int64
	forwarders sync.WaitGroup
	stop       context.CancelFunc
	dropped    atomic.Int64
	logger     lalog.Logger
}

// Initialise validates configuration, opens the log file, and starts forwarding messages.
func (eventLog *Log) Initialise() error {
	if eventLog.FilePath == "" {
		eventLog.FilePath = DefaultFilePath
	}
	eventLog.logger = lalog.Logger{ComponentName: "eventlog", ComponentID: []lalog.LoggerIDField{{Key: "File", Value: filepath.Base(eventLog.FilePath)}}}
	if eventLog.QueueLen < 1 {
		eventLog.QueueLen = DefaultQueueLen
	}
	if eventLog.ForwardTimeoutSec < 1 {
		eventLog.ForwardTimeoutSec = DefaultForwardTimeoutSec
	}
	if eventLog.AlertPattern == "" {
		eventLog.AlertPattern = DefaultAlertPattern
	}
	var err error
	if eventLog.alertRegex, err = regexp.Compile(eventLog.AlertPattern); err != nil {
		return fmt.Errorf("eventlog.Initialise: failed to compile AlertPattern - %w", err)
	}
	if err := eventLog.initialiseAWS(); err != nil {
		return err
	}
	if eventLog.file, err = os.OpenFile(eventLog.FilePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644); err != nil {
		return fmt.Errorf("eventlog.Initialise: failed to open log file - %w", err)
	}
	eventLog.queue = make(chan string, eventLog.QueueLen)
	ctx, cancel := context.WithCancel(context.Background())
	eventLog.stop = cancel
	if eventLog.forwardsRecords() {
		eventLog.forwarders.Add(1)
		go eventLog.forward(ctx)
	}
	if eventLog.SQS != nil && eventLog.WarningQueueURL != "" {
		InstallWarningForwarder(eventLog.SQS, eventLog.WarningQueueURL, time.Duration(eventLog.ForwardTimeoutSec)*time.Second)
	}
	return nil
}

// initialiseAWS constructs the AWS clients needed by the configuration.
func (eventLog *Log) initialiseAWS() (err error) {
	if !misc.EnableAWSIntegration {
		return nil
	}
	if eventLog.FirehoseStream != "" && eventLog.Firehose == nil {
		if eventLog.Firehose, err = awsinteg.NewFirehoseClient(); err != nil {
			return fmt.Errorf("eventlog.Initialise: failed to initialise firehose client - %w", err)
		}
	}
	if eventLog.AlertTopicARN != "" && eventLog.SNS == nil {
		if eventLog.SNS, err = awsinteg.NewSNSClient(); err != nil {
			return fmt.Errorf("eventlog.Initialise: failed to initialise SNS client - %w", err)
		}
	}
	if eventLog.ArchiveBucket != "" && eventLog.S3 == nil {
		if eventLog.S3, err = awsinteg.NewS3Client(); err != nil {
			return fmt.Errorf("eventlog.Initialise: failed to initialise S3 client - %w", err)
		}
	}
	if eventLog.WarningQueueURL != "" && eventLog.SQS == nil {
		if eventLog.SQS, err = awsinteg.NewSQSClient(); err != nil {
			return fmt.Errorf("eventlog.Initialise: failed to initialise SQS client - %w", err)
		}
	}
	return nil
}

func (eventLog *Log) forwardsRecords() bool {
	return (eventLog.Firehose != nil && eventLog.FirehoseStream != "") || (eventLog.SNS != nil && eventLog.AlertTopicARN != "")
}

// Record appends the message to the log file in a line of its own, and queues it for forwarding.
func (eventLog *Log) Record(message string) {
	line := fmt.Sprintf("[%s] %s\n", time.Now().UTC().Format(TimestampLayout), message)
	eventLog.logger.Info("Record", "", nil, "%s", message)
	eventLog.mutex.Lock()
	defer eventLog.mutex.Unlock()
	if eventLog.closed || eventLog.file == nil {
		return
	}
	if _, err := eventLog.file.WriteString(line); err != nil {
		eventLog.logger.Warning("Record", "", err, "failed to write into log file")
	}
	if !eventLog.forwardsRecords() {
		return
	}
	eventLog.pending.Add(1)
	select {
	case eventLog.queue <- line:
	default:
		eventLog.pending.Add(-1)
		if dropped := eventLog.dropped.Add(1); dropped%100 == 1 {
			eventLog.logger.Info("Record", "", nil, "forwarding queue is full, %d messages were not forwarded so far", dropped)
		}
	}
}

// forward sends queued messages to firehose and SNS until the context is cancelled.
func (eventLog *Log) forward(ctx context.Context) {
	defer eventLog.forwarders.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case line := <-eventLog.queue:
			eventLog.forwardOne(ctx, line)
			eventLog.pending.Add(-1)
		}
	}
}

func (eventLog *Log) forwardOne(ctx context.Context, line string) {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(eventLog.ForwardTimeoutSec)*time.Second)
	defer cancel()
	if eventLog.Firehose != nil && eventLog.FirehoseStream != "" {
		if err := eventLog.Firehose.PutRecord(ctx, eventLog.FirehoseStream, []byte(line)); err != nil {
			eventLog.logger.Info("forward", eventLog.FirehoseStream, err, "failed to put record")
		}
	}
	if eventLog.SNS != nil && eventLog.AlertTopicARN != "" {
		// Match the message without the timestamp prefix
		message := line
		if _, after, found := cutTimestamp(line); found {
			message = after
		}
		if eventLog.alertRegex.MatchString(message) {
			if err := eventLog.SNS.Publish(ctx, eventLog.AlertTopicARN, line); err != nil {
				eventLog.logger.Info("forward", eventLog.AlertTopicARN, err, "failed to publish alert")
			}
		}
	}
}

func cutTimestamp(line string) (timestamp, message string, found bool) {
	if len(line) < 2 || line[0] != '[' {
		return "", line, false
	}
	for i := 1; i < len(line)-1; i++ {
		if line[i] == ']' && line[i+1] == ' ' {
			return line[1:i], line[i+2:], true
		}
	}
	return "", line, false
}

/*
Flush writes the log file to stable storage, and waits for the queued messages to be forwarded until ctx is done.
It returns the error of the file sync, or the context error if the forwarding did not finish in time.
*/
func (eventLog *Log) Flush(ctx context.Context) error {
	eventLog.mutex.Lock()
	var syncErr error
	if eventLog.file != nil && !eventLog.closed {
		syncErr = eventLog.file.Sync()
	}
	eventLog.mutex.Unlock()
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for eventLog.pending.Load() > 0 {
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return fmt.Errorf("eventlog.Flush: gave up waiting for %d messages to be forwarded - %w", eventLog.pending.Load(), ctx.Err())
		}
	}
	return syncErr
}

// Archive uploads a copy of the log file to the archive bucket, it does nothing if there is no bucket to upload to.
func (eventLog *Log) Archive(ctx context.Context) error {
	if eventLog.S3 == nil || eventLog.ArchiveBucket == "" {
		return nil
	}
	file, err := os.Open(eventLog.FilePath)
	if err != nil {
		return fmt.Errorf("eventlog.Archive: failed to open log file - %w", err)
	}
	defer file.Close()
	hostName, _ := os.Hostname()
	key := fmt.Sprintf("adcycle/%s/%s-%s", hostName, misc.StartupTime.UTC().Format("20060102T150405Z"), filepath.Base(eventLog.FilePath))
	if err := eventLog.S3.Upload(ctx, eventLog.ArchiveBucket, key, file); err != nil {
		return fmt.Errorf("eventlog.Archive: failed to upload %s - %w", key, err)
	}
	return nil
}

// Close flushes and archives the log, stops forwarding, and closes the file. Further messages are discarded.
func (eventLog *Log) Close(ctx context.Context) error {
	flushErr := eventLog.Flush(ctx)
	eventLog.mutex.Lock()
	if eventLog.closed {
		eventLog.mutex.Unlock()
		return nil
	}
	eventLog.closed = true
	eventLog.mutex.Unlock()
	if eventLog.stop != nil {
		eventLog.stop()
	}
	eventLog.forwarders.Wait()
	archiveErr := eventLog.Archive(ctx)
	var closeErr error
	if eventLog.file != nil {
		closeErr = eventLog.file.Close()
	}
	return errors.Join(flushErr, archiveErr, closeErr)
}
