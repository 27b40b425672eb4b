package audit

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/harvestmarket/audittrail/internal/canonical"
)

// Archiver uploads canonical audit envelopes to object storage for
// long-term compliance retention.
type Archiver interface {
	ArchiveEvent(ctx context.Context, ev *AuditEvent) (objectKey string, err error)
}

// S3Archiver writes canonical envelopes to paths like
//
//	s3://<bucket>/<prefix>/audit/YYYY/MM/DD/<eventID>.json
type S3Archiver struct {
	bucket   string
	prefix   string
	uploader *manager.Uploader
}

// NewS3Archiver creates an archiver using the ambient AWS configuration
// (AWS_REGION, credentials chain, etc.).
func NewS3Archiver(ctx context.Context, bucket, prefix string) (*S3Archiver, error) {
	if bucket == "" {
		return nil, fmt.Errorf("bucket required")
	}
	cfg, err := awsConfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg)
	return &S3Archiver{
		bucket:   bucket,
		prefix:   prefix,
		uploader: manager.NewUploader(client),
	}, nil
}

// ArchiveEvent canonicalizes the event envelope and uploads it, returning
// the object key so the store can persist the pointer.
func (s *S3Archiver) ArchiveEvent(ctx context.Context, ev *AuditEvent) (string, error) {
	if ev == nil {
		return "", fmt.Errorf("nil event")
	}

	canonBytes, err := canonical.Marshal(Envelope(ev))
	if err != nil {
		return "", fmt.Errorf("canonicalize envelope: %w", err)
	}

	ts := time.Now().UTC()
	if !ev.OccurredAt.IsZero() {
		ts = ev.OccurredAt
	}
	year, month, day := ts.Date()
	objectKey := path.Join(s.prefix, "audit",
		fmt.Sprintf("%04d", year),
		fmt.Sprintf("%02d", int(month)),
		fmt.Sprintf("%02d", day),
		fmt.Sprintf("%s.json", ev.ID),
	)

	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:               aws.String(s.bucket),
		Key:                  aws.String(objectKey),
		Body:                 bytes.NewReader(canonBytes),
		ContentType:          aws.String("application/json"),
		ServerSideEncryption: s3types.ServerSideEncryptionAes256,
	})
	if err != nil {
		return "", fmt.Errorf("s3 upload failed: %w", err)
	}
	return objectKey, nil
}
