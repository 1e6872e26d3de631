// Package oplog turns wager operation logs into structured zap records and OpenTelemetry metrics.
package oplog

import (
	"context"

	"github.com/MarkoPoloResearchLab/wager/pkg/wager"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapLogger writes every operation as one structured log line.
type ZapLogger struct {
	logger *zap.Logger
}

// NewZapLogger wraps logger.
func NewZapLogger(logger *zap.Logger) *ZapLogger {
	return &ZapLogger{logger: logger}
}

func (zapLogger *ZapLogger) LogOperation(_ context.Context, entry wager.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("status", entry.Status),
	}
	fields = appendNonEmpty(fields, "address", entry.Address.String())
	fields = appendNonEmpty(fields, "session_id", entry.SessionID.String())
	fields = appendNonEmpty(fields, "reward_id", entry.RewardID.String())
	fields = appendNonEmpty(fields, "payout_id", entry.PayoutID)
	fields = appendNonEmpty(fields, "signature", entry.Signature.String())
	fields = appendNonEmpty(fields, "reason", entry.Reason)
	if entry.Amount > 0 {
		fields = append(fields, zap.Int64("amount_lamports", entry.Amount.Int64()), zap.String("amount_sol", entry.Amount.String()))
	}
	if entry.Error != nil {
		fields = append(fields, zap.Error(entry.Error), zap.String("code", wager.ErrorCode(entry.Error)))
	}
	zapLogger.logger.Log(levelFor(entry), "wager operation", fields...)
}

func levelFor(entry wager.OperationLog) zapcore.Level {
	switch {
	case entry.Status == wager.OperationStatusReconciliationRequired:
		return zapcore.ErrorLevel
	case entry.Error == nil:
		return zapcore.InfoLevel
	case wager.IsIdempotencyGuard(entry.Error):
		return zapcore.InfoLevel
	case wager.ErrorCode(entry.Error) == wager.CodeInternal:
		return zapcore.ErrorLevel
	default:
		return zapcore.WarnLevel
	}
}

func appendNonEmpty(fields []zap.Field, key string, value string) []zap.Field {
	if value == "" {
		return fields
	}
	return append(fields, zap.String(key, value))
}

// Fanout forwards each operation to every logger in order.
type Fanout []wager.OperationLogger

func (fanout Fanout) LogOperation(ctx context.Context, entry wager.OperationLog) {
	for _, logger := range fanout {
		if logger != nil {
			logger.LogOperation(ctx, entry)
		}
	}
}
