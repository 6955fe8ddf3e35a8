package awsinteg

import (
	"context"
	"fmt"
	"time"

	"github.com/HouzuoGuo/adcycle/lalog"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/firehose"
	"github.com/aws/aws-xray-sdk-go/xray"
)

// FirehoseClient puts records into kinesis firehose delivery streams.
type FirehoseClient struct {
	logger     lalog.Logger
	apiSession *session.Session
	client     *firehose.Firehose
}

// NewFirehoseClient returns a firehose client of the region determined by GetAWSRegion.
func NewFirehoseClient() (*FirehoseClient, error) {
	logger := lalog.Logger{ComponentName: "firehose"}
	regionName := GetAWSRegion()
	if regionName == "" {
		return nil, fmt.Errorf("NewFirehoseClient: unable to determine AWS region, is it set in environment variable AWS_REGION?")
	}
	logger.Info("NewFirehoseClient", "", nil, "initialising using AWS region name \"%s\"", regionName)
	apiSession, err := session.NewSession(&aws.Config{Region: aws.String(regionName)})
	if err != nil {
		return nil, err
	}
	firehoseInst := firehose.New(apiSession)
	xray.AWS(firehoseInst.Client)
	return &FirehoseClient{
		apiSession: apiSession,
		logger:     logger,
		client:     firehoseInst,
	}, nil
}

// PutRecord puts a single record into the delivery stream.
func (hoseClient *FirehoseClient) PutRecord(ctx context.Context, streamName string, recordData []byte) error {
	start := time.Now()
	_, err := hoseClient.client.PutRecordWithContext(ctx, &firehose.PutRecordInput{
		DeliveryStreamName: aws.String(streamName),
		Record:             &firehose.Record{Data: recordData},
	})
	if err != nil {
		hoseClient.logger.Warning("PutRecord", streamName, err, "failed to put a %d bytes long record after %d milliseconds", len(recordData), time.Since(start).Milliseconds())
	}
	return err
}
