// Package audit delivers reconciliation events to object storage as JSON reports.
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/wager/pkg/wager"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
)

const (
	exportBatchSize   = 200
	maxBatchesPerRun  = 10
	reportContentType = "application/json"
	reportKeyLayout   = "2006/01/02/150405.000000000"
)

// ObjectPutter is the subset of *s3.Client the exporter needs.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// EventSource lists and acknowledges reconciliation events; *wager.Service satisfies it.
type EventSource interface {
	PendingReconciliation(ctx context.Context, limit int) ([]wager.ReconciliationEvent, error)
	MarkReconciliationExported(ctx context.Context, eventIDs []string) error
}

// Report is one uploaded object.
type Report struct {
	GeneratedAt time.Time     `json:"generated_at"`
	Events      []ReportEvent `json:"events"`
}

// ReportEvent is the exported form of a reconciliation event.
type ReportEvent struct {
	EventID        string    `json:"event_id"`
	PayoutID       string    `json:"payout_id"`
	Address        string    `json:"address"`
	AmountLamports int64     `json:"amount_lamports"`
	Amount         string    `json:"amount"`
	Signature      string    `json:"signature,omitempty"`
	Reason         string    `json:"reason"`
	CreatedAt      time.Time `json:"created_at"`
}

// Exporter uploads pending reconciliation events and marks them exported once the upload succeeds.
type Exporter struct {
	source EventSource
	putter ObjectPutter
	bucket string
	prefix string
	nowFn  func() time.Time
	logger *zap.Logger
}

// NewExporter wires an exporter writing under prefix in bucket.
func NewExporter(source EventSource, putter ObjectPutter, bucket string, prefix string, now func() time.Time, logger *zap.Logger) *Exporter {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exporter{source: source, putter: putter, bucket: bucket, prefix: prefix, nowFn: now, logger: logger}
}

// NewS3Client loads the default AWS credential chain for region.
func NewS3Client(ctx context.Context, region string) (*s3.Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(cfg), nil
}

// Export uploads every pending event in batches and returns how many were exported.
// Events of a failed upload stay pending and are retried on the next run.
func (exporter *Exporter) Export(ctx context.Context) (int, error) {
	exported := 0
	for batch := 0; batch < maxBatchesPerRun; batch++ {
		events, err := exporter.source.PendingReconciliation(ctx, exportBatchSize)
		if err != nil {
			return exported, fmt.Errorf("list reconciliation events: %w", err)
		}
		if len(events) == 0 {
			return exported, nil
		}
		key, err := exporter.upload(ctx, events)
		if err != nil {
			return exported, err
		}
		eventIDs := make([]string, 0, len(events))
		for _, event := range events {
			eventIDs = append(eventIDs, event.EventID)
		}
		if err := exporter.source.MarkReconciliationExported(ctx, eventIDs); err != nil {
			return exported, fmt.Errorf("mark %d events exported: %w", len(eventIDs), err)
		}
		exported += len(events)
		exporter.logger.Info("reconciliation report exported",
			zap.String("bucket", exporter.bucket), zap.String("key", key), zap.Int("events", len(events)))
		if len(events) < exportBatchSize {
			return exported, nil
		}
	}
	return exported, nil
}

func (exporter *Exporter) upload(ctx context.Context, events []wager.ReconciliationEvent) (string, error) {
	generatedAt := exporter.nowFn().UTC()
	report := Report{GeneratedAt: generatedAt, Events: make([]ReportEvent, 0, len(events))}
	for _, event := range events {
		report.Events = append(report.Events, ReportEvent{
			EventID:        event.EventID,
			PayoutID:       event.PayoutID,
			Address:        event.Address.String(),
			AmountLamports: event.Amount.Int64(),
			Amount:         event.Amount.String(),
			Signature:      event.Signature.String(),
			Reason:         event.Reason,
			CreatedAt:      event.CreatedAt.UTC(),
		})
	}
	body, err := json.Marshal(report)
	if err != nil {
		return "", fmt.Errorf("encode report: %w", err)
	}
	key := exporter.objectKey(generatedAt)
	_, err = exporter.putter.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(exporter.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(reportContentType),
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	return key, nil
}

func (exporter *Exporter) objectKey(generatedAt time.Time) string {
	prefix := exporter.prefix
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return prefix + generatedAt.Format(reportKeyLayout) + ".json"
}
