package eventlog

import (
	"context"
	"encoding/json"
	"time"

	"github.com/HouzuoGuo/adcycle/lalog"
)

// MessageSender sends a message to an SQS queue.
type MessageSender interface {
	SendMessage(ctx context.Context, queueURL, text string) error
}

// WarningMessageBody contains details of a warning log entry, ready to be serialised into JSON for sending as an SQS message.
type WarningMessageBody struct {
	UnixNanoSec   int64  `json:"unix_nano_sec"`
	UnixSec       int64  `json:"unix_sec"`
	ComponentName string `json:"component_name"`
	ComponentID   string `json:"component_id"`
	FunctionName  string `json:"function_name"`
	ActorName     string `json:"actor_name"`
	Error         string `json:"error"`
	Message       string `json:"message"`
}

// GetJSON returns the message body serialised into JSON.
func (messageBody WarningMessageBody) GetJSON() []byte {
	serialised, err := json.Marshal(messageBody)
	if err != nil {
		return []byte{}
	}
	return serialised
}

// InstallWarningForwarder installs a global callback for all loggers to send a copy of each warning message to the queue.
func InstallWarningForwarder(sender MessageSender, queueURL string, timeout time.Duration) {
	lalog.DefaultLogger.Info("InstallWarningForwarder", queueURL, nil, "sending a copy of logger warning messages to SQS")
	lalog.GlobalLogWarningCallback = func(componentName, componentID, funcName, actorName string, err error, msg string) {
		// By contract, the function body must avoid generating a warning log message to avoid infinite recursion.
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		now := time.Now()
		body := WarningMessageBody{
			UnixNanoSec:   now.UnixNano(),
			UnixSec:       now.Unix(),
			ComponentName: componentName,
			ComponentID:   componentID,
			FunctionName:  funcName,
			ActorName:     actorName,
			Message:       msg,
		}
		if err != nil {
			body.Error = err.Error()
		}
		// A failure to send is logged as info, which does not come back to this callback.
		lalog.DefaultLogger.MaybeMinorError(sender.SendMessage(ctx, queueURL, string(body.GetJSON())))
	}
}
