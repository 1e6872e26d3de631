package oplog

import (
	"context"
	"fmt"
	"time"

	"github.com/MarkoPoloResearchLab/wager/pkg/wager"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

const (
	MeterName = "github.com/MarkoPoloResearchLab/wager"

	MetricOperationsTotal      = "wager.operations_total"
	MetricLamportsMoved        = "wager.lamports_moved_total"
	MetricReconciliationsTotal = "wager.payouts.reconciliation_required_total"

	LabelOperation = "operation"
	LabelStatus    = "status"
	LabelCode      = "code"
)

// Metrics counts operations by outcome and sums the lamports moved by successful ones.
type Metrics struct {
	operations      metric.Int64Counter
	lamportsMoved   metric.Int64Counter
	reconciliations metric.Int64Counter
}

// NewMetrics creates the instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	operations, err := meter.Int64Counter(MetricOperationsTotal,
		metric.WithDescription("Wager operations by name, status and error code"))
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", MetricOperationsTotal, err)
	}
	lamportsMoved, err := meter.Int64Counter(MetricLamportsMoved,
		metric.WithDescription("Lamports moved by successful operations"),
		metric.WithUnit("lamport"))
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", MetricLamportsMoved, err)
	}
	reconciliations, err := meter.Int64Counter(MetricReconciliationsTotal,
		metric.WithDescription("Payouts that confirmed on chain but could not be finalized locally"))
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", MetricReconciliationsTotal, err)
	}
	return &Metrics{operations: operations, lamportsMoved: lamportsMoved, reconciliations: reconciliations}, nil
}

func (metrics *Metrics) LogOperation(ctx context.Context, entry wager.OperationLog) {
	attributes := []attribute.KeyValue{
		attribute.String(LabelOperation, entry.Operation),
		attribute.String(LabelStatus, entry.Status),
	}
	if entry.Error != nil {
		attributes = append(attributes, attribute.String(LabelCode, wager.ErrorCode(entry.Error)))
	}
	metrics.operations.Add(ctx, 1, metric.WithAttributes(attributes...))
	if entry.Status == wager.OperationStatusOK && entry.Amount > 0 {
		metrics.lamportsMoved.Add(ctx, entry.Amount.Int64(), metric.WithAttributes(attribute.String(LabelOperation, entry.Operation)))
	}
	if entry.Status == wager.OperationStatusReconciliationRequired {
		metrics.reconciliations.Add(ctx, 1, metric.WithAttributes(attribute.String(LabelOperation, entry.Operation)))
	}
}

// NewMeterProvider exports to stdout on interval; a zero interval disables export.
func NewMeterProvider(serviceName string, interval time.Duration) (*sdkmetric.MeterProvider, error) {
	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(semconv.ServiceName(serviceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("metrics resource: %w", err)
	}
	if interval <= 0 {
		return sdkmetric.NewMeterProvider(sdkmetric.WithResource(res)), nil
	}
	exporter, err := stdoutmetric.New()
	if err != nil {
		return nil, fmt.Errorf("stdout metric exporter: %w", err)
	}
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))),
	), nil
}
