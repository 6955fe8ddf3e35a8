package awsinteg

import (
	"context"
	"fmt"
	"time"

	"github.com/HouzuoGuo/adcycle/lalog"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/sqs"
	"github.com/aws/aws-xray-sdk-go/xray"
)

// SQSClient sends messages to SQS queues.
type SQSClient struct {
	logger     lalog.Logger
	apiSession *session.Session
	client     *sqs.SQS
}

// NewSQSClient returns an SQS client of the region determined by GetAWSRegion.
func NewSQSClient() (*SQSClient, error) {
	logger := lalog.Logger{ComponentName: "sqs"}
	regionName := GetAWSRegion()
	if regionName == "" {
		return nil, fmt.Errorf("NewSQSClient: unable to determine AWS region, is it set in environment variable AWS_REGION?")
	}
	logger.Info("NewSQSClient", "", nil, "initialising using AWS region name \"%s\"", regionName)
	apiSession, err := session.NewSession(&aws.Config{Region: aws.String(regionName)})
	if err != nil {
		return nil, err
	}
	sqsInst := sqs.New(apiSession)
	xray.AWS(sqsInst.Client)
	return &SQSClient{
		apiSession: apiSession,
		client:     sqsInst,
		logger:     logger,
	}, nil
}

/*
SendMessage sends the text to the queue. It is called by the logger's warning callback, so it must not generate
warning messages of its own, and it keeps errors out of the logger's error parameter.
*/
func (sqsClient *SQSClient) SendMessage(ctx context.Context, queueURL, text string) error {
	start := time.Now()
	_, err := sqsClient.client.SendMessageWithContext(ctx, &sqs.SendMessageInput{
		DelaySeconds: aws.Int64(0),
		MessageBody:  aws.String(text),
		QueueUrl:     aws.String(queueURL),
	})
	sqsClient.logger.Info("SendMessage", queueURL, nil, "sent a %d bytes long message in %d milliseconds (err? %v)",
		len(text), time.Since(start).Milliseconds(), err)
	return err
}
