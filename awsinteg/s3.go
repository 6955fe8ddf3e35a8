package awsinteg

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/HouzuoGuo/adcycle/lalog"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/aws/aws-xray-sdk-go/xray"
)

// S3Client uploads objects to S3 buckets.
type S3Client struct {
	logger     lalog.Logger
	apiSession *session.Session
	uploader   *s3manager.Uploader
}

// NewS3Client returns an S3 client of the region determined by GetAWSRegion.
func NewS3Client() (*S3Client, error) {
	regionName := GetAWSRegion()
	if regionName == "" {
		return nil, fmt.Errorf("NewS3Client: unable to determine AWS region, is it set in environment variable AWS_REGION?")
	}
	apiSession, err := session.NewSession(&aws.Config{Region: aws.String(regionName)})
	if err != nil {
		return nil, err
	}
	s3Inst := s3.New(apiSession)
	xray.AWS(s3Inst.Client)
	return &S3Client{
		apiSession: apiSession,
		uploader:   s3manager.NewUploaderWithClient(s3Inst),
		logger:     lalog.Logger{ComponentName: "s3"},
	}, nil
}

// Upload writes the object into the bucket.
func (s3Client *S3Client) Upload(ctx context.Context, bucketName, objectKey string, objectValue io.Reader) error {
	start := time.Now()
	s3Client.logger.Info("Upload", bucketName, nil, "uploading object \"%s\"", objectKey)
	_, err := s3Client.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Body:   objectValue,
		Bucket: aws.String(bucketName),
		Key:    aws.String(objectKey),
	})
	s3Client.logger.Info("Upload", bucketName, err, "upload of object \"%s\" completed in %d milliseconds", objectKey, time.Since(start).Milliseconds())
	return err
}
