// Package archive exports audit events to object storage as NDJSON.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"

	dErrors "myapi/pkg/domain-errors"
	audit "myapi/pkg/platform/audit"
)

// MaxRange bounds a single export.
const MaxRange = 31 * 24 * time.Hour

// RangeLister reads audit events in a time window.
type RangeLister interface {
	ListRange(ctx context.Context, from, to time.Time) ([]audit.Event, error)
}

// Uploader is the subset of manager.Uploader the exporter needs.
type Uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// Result describes a completed export.
type Result struct {
	Bucket string    `json:"bucket"`
	Key    string    `json:"key"`
	Count  int       `json:"count"`
	From   time.Time `json:"from"`
	To     time.Time `json:"to"`
}

// Exporter writes a window of audit events to S3.
type Exporter struct {
	events   RangeLister
	uploader Uploader
	bucket   string
	prefix   string
	now      func() time.Time
}

func NewExporter(events RangeLister, uploader Uploader, bucket, prefix string) *Exporter {
	return &Exporter{
		events:   events,
		uploader: uploader,
		bucket:   bucket,
		prefix:   strings.Trim(prefix, "/"),
		now:      time.Now,
	}
}

// NewS3Uploader builds a manager.Uploader from the default AWS credential
// chain. A non-empty endpoint selects an S3-compatible store with path-style
// addressing.
func NewS3Uploader(ctx context.Context, region, endpoint string) (*manager.Uploader, error) {
	awsCfg, err := awscfg.LoadDefaultConfig(ctx, awscfg.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	return manager.NewUploader(client), nil
}

// Export uploads events with from <= timestamp < to to
// <prefix>/YYYY/MM/DD/<uuid>.ndjson and returns where they went.
func (e *Exporter) Export(ctx context.Context, from, to time.Time) (Result, error) {
	if !from.Before(to) {
		return Result{}, dErrors.Validation("invalid export window").WithField("to", "must be after from")
	}
	if to.Sub(from) > MaxRange {
		return Result{}, dErrors.Validation("export window too large").WithField("to", "window must not exceed 31 days")
	}

	events, err := e.events.ListRange(ctx, from, to)
	if err != nil {
		return Result{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read audit events")
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, ev := range events {
		if err := enc.Encode(ev); err != nil {
			return Result{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to encode audit event")
		}
	}

	now := e.now().UTC()
	key := path.Join(e.prefix, now.Format("2006/01/02"), uuid.NewString()+".ndjson")
	_, err = e.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(e.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
		ACL:         types.ObjectCannedACLPrivate,
	})
	if err != nil {
		return Result{}, dErrors.Wrap(err, dErrors.CodeUnavailable, "archive upload failed")
	}

	return Result{Bucket: e.bucket, Key: key, Count: len(events), From: from, To: to}, nil
}
