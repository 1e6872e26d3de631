// Package events publishes committed wager events to NATS.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/MarkoPoloResearchLab/wager/pkg/wager"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	subjectPrefix        = "wager."
	clientName           = "wagerd"
	defaultReconnectWait = 2 * time.Second
	defaultMaxReconnects = 10
	envelopeVersion      = 1
)

// Publisher is the subset of *nats.Conn the notifier needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Envelope is the JSON body of every published message.
type Envelope struct {
	ID         string    `json:"id"`
	Version    int       `json:"version"`
	Type       string    `json:"type"`
	Address    string    `json:"address,omitempty"`
	SessionID  string    `json:"session_id,omitempty"`
	RewardID   string    `json:"reward_id,omitempty"`
	PayoutID   string    `json:"payout_id,omitempty"`
	Outcome    string    `json:"outcome,omitempty"`
	Lamports   int64     `json:"amount_lamports,omitempty"`
	Amount     string    `json:"amount,omitempty"`
	Signature  string    `json:"signature,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Notifier implements wager.Notifier on a NATS publisher. Publish failures are logged and dropped;
// notifications never affect a committed operation.
type Notifier struct {
	publisher Publisher
	logger    *zap.Logger
	newID     func() string
}

// NewNotifier wraps publisher. A nil logger discards publish errors.
func NewNotifier(publisher Publisher, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{publisher: publisher, logger: logger, newID: uuid.NewString}
}

// Subject returns the NATS subject for eventType.
func Subject(eventType wager.EventType) string {
	return subjectPrefix + string(eventType)
}

func (notifier *Notifier) Notify(_ context.Context, event wager.Event) {
	envelope := Envelope{
		ID:         notifier.newID(),
		Version:    envelopeVersion,
		Type:       string(event.Type),
		Address:    event.Address.String(),
		SessionID:  event.SessionID.String(),
		RewardID:   event.RewardID.String(),
		PayoutID:   event.PayoutID,
		Outcome:    string(event.Outcome),
		Signature:  event.Signature.String(),
		OccurredAt: event.OccurredAt.UTC(),
	}
	if event.Amount > 0 {
		envelope.Lamports = event.Amount.Int64()
		envelope.Amount = event.Amount.String()
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		notifier.logger.Error("encode event", zap.String("type", envelope.Type), zap.Error(err))
		return
	}
	subject := Subject(event.Type)
	if err := notifier.publisher.Publish(subject, payload); err != nil {
		notifier.logger.Warn("publish event", zap.String("subject", subject), zap.String("event_id", envelope.ID), zap.Error(err))
	}
}

// Connect dials the NATS servers with reconnect handling logged through logger.
func Connect(servers string, logger *zap.Logger) (*nats.Conn, error) {
	conn, err := nats.Connect(servers,
		nats.Name(clientName),
		nats.MaxReconnects(defaultMaxReconnects),
		nats.ReconnectWait(defaultReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(conn *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", conn.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return conn, nil
}
