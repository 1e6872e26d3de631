package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/wager/pkg/wager"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type recordingPublisher struct {
	subjects []string
	payloads [][]byte
	err      error
}

func (publisher *recordingPublisher) Publish(subject string, data []byte) error {
	publisher.subjects = append(publisher.subjects, subject)
	publisher.payloads = append(publisher.payloads, data)
	return publisher.err
}

func mustAddress(test *testing.T, raw string) wager.Address {
	test.Helper()
	address, err := wager.NewAddress(raw)
	if err != nil {
		test.Fatalf("address: %v", err)
	}
	return address
}

func TestNotifyPublishesEnvelope(test *testing.T) {
	test.Parallel()
	publisher := &recordingPublisher{}
	notifier := NewNotifier(publisher, nil)
	notifier.newID = func() string { return "event-1" }
	occurred := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	notifier.Notify(context.Background(), wager.Event{
		Type:       wager.EventWithdrawalCompleted,
		Address:    mustAddress(test, "7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU"),
		PayoutID:   "payout-7",
		Amount:     250_000_000,
		OccurredAt: occurred,
	})

	if len(publisher.subjects) != 1 || publisher.subjects[0] != "wager.withdrawal.completed" {
		test.Fatalf("unexpected subjects: %v", publisher.subjects)
	}
	var envelope Envelope
	if err := json.Unmarshal(publisher.payloads[0], &envelope); err != nil {
		test.Fatalf("decode: %v", err)
	}
	if envelope.ID != "event-1" || envelope.Version != envelopeVersion || envelope.PayoutID != "payout-7" {
		test.Fatalf("unexpected envelope: %+v", envelope)
	}
	if envelope.Lamports != 250_000_000 || envelope.Amount != "0.25" || !envelope.OccurredAt.Equal(occurred) {
		test.Fatalf("unexpected amount or time: %+v", envelope)
	}
	if envelope.SessionID != "" || envelope.Signature != "" {
		test.Fatalf("empty identifiers must be omitted: %+v", envelope)
	}
}

func TestNotifyLogsPublishFailure(test *testing.T) {
	test.Parallel()
	core, recorded := observer.New(zapcore.DebugLevel)
	publisher := &recordingPublisher{err: errors.New("nats: connection closed")}
	notifier := NewNotifier(publisher, zap.New(core))

	notifier.Notify(context.Background(), wager.Event{Type: wager.EventReconciliationRequired, PayoutID: "payout-9"})

	entries := recorded.FilterMessage("publish event").All()
	if len(entries) != 1 || entries[0].Level != zapcore.WarnLevel {
		test.Fatalf("expected one warning, got %v", recorded.All())
	}
	if entries[0].ContextMap()["subject"] != "wager.payout.reconciliation_required" {
		test.Fatalf("unexpected subject field: %v", entries[0].ContextMap())
	}
}
