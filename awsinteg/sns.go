package awsinteg

import (
	"context"
	"fmt"
	"time"

	"github.com/HouzuoGuo/adcycle/lalog"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/sns"
	"github.com/aws/aws-xray-sdk-go/xray"
)

// SNSClient publishes messages to SNS topics.
type SNSClient struct {
	logger     lalog.Logger
	apiSession *session.Session
	client     *sns.SNS
}

// NewSNSClient returns an SNS client of the region determined by GetAWSRegion.
func NewSNSClient() (*SNSClient, error) {
	logger := lalog.Logger{ComponentName: "sns"}
	regionName := GetAWSRegion()
	if regionName == "" {
		return nil, fmt.Errorf("NewSNSClient: unable to determine AWS region, is it set in environment variable AWS_REGION?")
	}
	logger.Info("NewSNSClient", "", nil, "initialising using AWS region name \"%s\"", regionName)
	apiSession, err := session.NewSession(&aws.Config{Region: aws.String(regionName)})
	if err != nil {
		return nil, err
	}
	snsInst := sns.New(apiSession)
	xray.AWS(snsInst.Client)
	return &SNSClient{
		apiSession: apiSession,
		client:     snsInst,
		logger:     logger,
	}, nil
}

// Publish sends the text to the topic.
func (snsClient *SNSClient) Publish(ctx context.Context, topicARN, text string) error {
	start := time.Now()
	_, err := snsClient.client.PublishWithContext(ctx, &sns.PublishInput{Message: aws.String(text), TopicArn: aws.String(topicARN)})
	snsClient.logger.Info("Publish", topicARN, err, "published a %d bytes long message in %d milliseconds", len(text), time.Since(start).Milliseconds())
	return err
}
