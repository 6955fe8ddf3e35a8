// Package awsinteg offers clients of the AWS services used by the event log: kinesis firehose receives every log
// record, SNS receives alerts, and S3 receives the archive of the log file.
package awsinteg

import (
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/HouzuoGuo/adcycle/misc"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/ec2metadata"
	"github.com/aws/aws-sdk-go/aws/session"
)

// GetAWSRegion returns the AWS region name specified by environment variables. When AWS integration is enabled and
// none is specified, the region is read from EC2 instance metadata. It returns an empty string if the region cannot
// be determined.
func GetAWSRegion() string {
	for _, name := range []string{"AWS_REGION", "AWS_DEFAULT_REGION"} {
		if region := strings.TrimSpace(os.Getenv(name)); region != "" {
			return region
		}
	}
	if !misc.EnableAWSIntegration {
		return ""
	}
	apiSession, err := session.NewSession(&aws.Config{MaxRetries: aws.Int(0)})
	if err != nil {
		return ""
	}
	metadata := ec2metadata.New(apiSession, &aws.Config{HTTPClient: &http.Client{Timeout: 2 * time.Second}})
	region, err := metadata.Region()
	if err != nil {
		return ""
	}
	return region
}
