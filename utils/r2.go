// utils/r2.go
package utils

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"hexbattle-server/models"
	"hexbattle-server/services"
)

// R2Settings locates the bucket that retired match snapshots are copied to.
type R2Settings struct {
	AccountID       string
	AccessKeyID     string
	AccessKeySecret string
	Bucket          string
	Prefix          string
}

func (s R2Settings) Enabled() bool {
	return s.AccountID != "" && s.Bucket != ""
}

type objectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

var _ services.Archiver = (*R2Archiver)(nil)

// R2Archiver uploads the final snapshot of a match as JSON. It implements
// services.Archiver.
type R2Archiver struct {
	client objectPutter
	bucket string
	prefix string
}

func NewR2Archiver(ctx context.Context, s R2Settings) (*R2Archiver, error) {
	if !s.Enabled() {
		return nil, errors.New("r2: account id and bucket are required")
	}

	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion("auto"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			s.AccessKeyID, s.AccessKeySecret, "",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load R2 config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(fmt.Sprintf("https://%s.r2.cloudflarestorage.com", s.AccountID))
	})
	return &R2Archiver{client: client, bucket: s.Bucket, prefix: s.Prefix}, nil
}

// ObjectKey is where the snapshot of sessionID is stored.
func (a *R2Archiver) ObjectKey(sessionID string) string {
	if a.prefix == "" {
		return "matches/" + sessionID + ".json"
	}
	return a.prefix + "/matches/" + sessionID + ".json"
}

func (a *R2Archiver) Archive(ctx context.Context, sessionID string, snapshot models.Snapshot) error {
	body, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", sessionID, err)
	}

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(a.ObjectKey(sessionID)),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload to R2: %w", err)
	}
	return nil
}
