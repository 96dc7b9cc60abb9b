// Package paymentwebhook decodes payment gateway callbacks and routes them
// to the payment handlers.
package paymentwebhook

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/angelmondragon/stockledger/pkg/db/models"
	pkgerrors "github.com/angelmondragon/stockledger/pkg/errors"
	"github.com/angelmondragon/stockledger/pkg/logger"
)

const (
	EventPaymentSucceeded = "payment.succeeded"
	EventPaymentFailed    = "payment.failed"
)

// Event is the gateway callback body.
type Event struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	PaymentID string `json:"payment_id"`
}

type paymentHandler interface {
	HandlePaymentSucceeded(ctx context.Context, paymentID string) (*models.Order, error)
	HandlePaymentFailed(ctx context.Context, paymentID string) (*models.Order, error)
}

type Service struct {
	payments paymentHandler
	logg     *logger.Logger
}

func NewService(payments paymentHandler, logg *logger.Logger) (*Service, error) {
	if payments == nil {
		return nil, fmt.Errorf("payment handler required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Service{payments: payments, logg: logg}, nil
}

// Decode parses and validates a callback body.
func Decode(body []byte) (Event, error) {
	var event Event
	if err := json.Unmarshal(body, &event); err != nil {
		return Event{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode payment event")
	}
	event.ID = strings.TrimSpace(event.ID)
	event.Type = strings.TrimSpace(event.Type)
	event.PaymentID = strings.TrimSpace(event.PaymentID)
	if event.ID == "" {
		return Event{}, pkgerrors.New(pkgerrors.CodeValidation, "event id is required")
	}
	if event.Type == "" {
		return Event{}, pkgerrors.New(pkgerrors.CodeValidation, "event type is required")
	}
	return event, nil
}

// HandleEvent applies event. Unknown types are acknowledged and ignored.
func (s *Service) HandleEvent(ctx context.Context, event Event) error {
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"event":            "webhook.payment",
		"gateway_event_id": event.ID,
		"gateway_type":     event.Type,
		"payment_id":       event.PaymentID,
	})

	var err error
	switch event.Type {
	case EventPaymentSucceeded:
		_, err = s.payments.HandlePaymentSucceeded(ctx, event.PaymentID)
	case EventPaymentFailed:
		_, err = s.payments.HandlePaymentFailed(ctx, event.PaymentID)
	default:
		s.logg.Info(logCtx, "payment event type ignored")
		return nil
	}
	if err != nil {
		return err
	}
	s.logg.Info(logCtx, "payment event applied")
	return nil
}
