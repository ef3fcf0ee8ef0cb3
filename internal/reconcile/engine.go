package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"gorm.io/gorm"

	"github.com/solarstore/shop/internal/ledger"
	"github.com/solarstore/shop/internal/logging"
	"github.com/solarstore/shop/internal/models"
	"github.com/solarstore/shop/internal/mykafka"
	"github.com/solarstore/shop/internal/stripe"
)

// Audit event tags, one per confirmation source.
const (
	EventSessionCreated    = "session_created"
	EventPaymentConfirmed  = "payment_confirmed"
	EventCheckoutCompleted = "webhook_checkout_completed"
	EventIntentSucceeded   = "webhook_payment_intent_succeeded"
	EventChargeFailed      = "webhook_charge_failed"
	EventPaymentCanceled   = "payment_canceled"
)

// Engine merges externally reported payment outcomes into the Order/Payment
// records exactly once per real-world outcome. Confirmations can arrive from
// the redirect path and several webhook event types in any order and any
// number of times; the status guard inside a transaction makes the paid/stock
// side effects fire at most once.
type Engine struct {
	DB       *gorm.DB
	Gateway  stripe.Gateway
	Producer *mykafka.Producer
}

// ConfirmFromRedirect asks the gateway for the session's current state and,
// when the provider reports it paid, applies the success transition. A
// gateway failure is surfaced to the caller with local state untouched; a
// later retry or webhook delivery finishes the job.
func (e *Engine) ConfirmFromRedirect(ctx context.Context, order *models.Order) (*models.Payment, error) {
	var payment models.Payment
	if err := e.DB.WithContext(ctx).Where("order_id = ?", order.ID).First(&payment).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	if payment.SessionID == "" {
		return &payment, nil
	}

	session, err := e.Gateway.RetrieveSession(ctx, payment.SessionID)
	if err != nil {
		return &payment, err
	}

	if session.PaymentStatus == "paid" {
		details := models.JSONMap{"session": session.ID}
		if err := e.confirm(ctx, &payment, EventPaymentConfirmed, details, session.Raw, session.PaymentIntentID); err != nil {
			return &payment, err
		}
	}

	if err := e.DB.WithContext(ctx).First(&payment, payment.ID).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

// HandleCheckoutCompleted processes a checkout.session.completed delivery,
// keyed by session id with the order id metadata as fallback. A lookup miss
// is not an error: the delivery may race ahead of the session-creation write.
func (e *Engine) HandleCheckoutCompleted(ctx context.Context, obj stripe.CheckoutSessionObject, raw models.JSONMap) error {
	var payment models.Payment
	err := e.DB.WithContext(ctx).Where("session_id = ?", obj.ID).First(&payment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) && obj.Metadata.OrderID != "" {
		if orderID, convErr := strconv.ParseUint(obj.Metadata.OrderID, 10, 64); convErr == nil {
			err = e.DB.WithContext(ctx).Where("order_id = ?", uint(orderID)).First(&payment).Error
		}
	}
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return err
	}

	details := models.JSONMap{"session_id": obj.ID}
	return e.confirm(ctx, &payment, EventCheckoutCompleted, details, raw, obj.PaymentIntent)
}

// HandleIntentSucceeded processes a payment_intent.succeeded delivery, keyed
// by the intent id. The intent id may not be populated yet, so a miss is a
// no-op. An empty id is also a miss: payments created before the provider
// assigns an intent store "", and matching on that would pick up an
// unrelated row.
func (e *Engine) HandleIntentSucceeded(ctx context.Context, obj stripe.PaymentIntentObject, raw models.JSONMap) error {
	if obj.ID == "" {
		return nil
	}

	var payment models.Payment
	if err := e.DB.WithContext(ctx).Where("payment_intent_id = ?", obj.ID).First(&payment).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return err
	}

	details := models.JSONMap{"payment_intent_id": obj.ID}
	return e.confirm(ctx, &payment, EventIntentSucceeded, details, raw, "")
}

// HandleChargeFailed marks the payment failed and logs the charge context.
// No stock or order mutation happens, so repeat deliveries are harmless.
func (e *Engine) HandleChargeFailed(ctx context.Context, obj stripe.ChargeObject, raw models.JSONMap) error {
	if obj.PaymentIntent == "" {
		return nil
	}

	var payment models.Payment
	if err := e.DB.WithContext(ctx).Where("payment_intent_id = ?", obj.PaymentIntent).First(&payment).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return err
	}

	details := models.JSONMap{
		"charge_id":       obj.ID,
		"failure_message": obj.FailureMessage,
	}
	return e.overwrite(ctx, &payment, models.PaymentStatusFailed, EventChargeFailed, details)
}

// Cancel marks the order's payment canceled. Triggered by the customer
// returning through the cancel redirect.
func (e *Engine) Cancel(ctx context.Context, order *models.Order) (*models.Payment, error) {
	var payment models.Payment
	if err := e.DB.WithContext(ctx).Where("order_id = ?", order.ID).First(&payment).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	if err := e.overwrite(ctx, &payment, models.PaymentStatusCanceled, EventPaymentCanceled, models.JSONMap{}); err != nil {
		return &payment, err
	}

	if err := e.DB.WithContext(ctx).First(&payment, payment.ID).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

// confirm applies the guarded success transition as one transaction: flip the
// status, stamp paid_at, store the raw provider payload, mark the order paid,
// decrement stock and append the audit log. The conditional UPDATE is the
// guard: exactly one concurrent caller sees RowsAffected == 1, every other
// delivery only appends its audit entry.
func (e *Engine) confirm(ctx context.Context, payment *models.Payment, eventType string, details, raw models.JSONMap, intentID string) error {
	applied := false

	txErr := e.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]interface{}{
			"status":  models.PaymentStatusSucceeded,
			"paid_at": time.Now(),
		}
		if raw != nil {
			updates["provider_response"] = raw
		}
		if intentID != "" && payment.PaymentIntentID == "" {
			updates["payment_intent_id"] = intentID
		}

		res := tx.Model(&models.Payment{}).
			Where("id = ? AND status <> ?", payment.ID, models.PaymentStatusSucceeded).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}

		if res.RowsAffected == 0 {
			// Duplicate delivery: record that the event arrived, touch
			// nothing else.
			return tx.Create(&models.PaymentLog{
				PaymentID: payment.ID,
				EventType: eventType,
				Details:   details,
			}).Error
		}
		applied = true

		if err := tx.Model(&models.Order{}).
			Where("id = ?", payment.OrderID).
			Update("paid", true).Error; err != nil {
			return err
		}

		if err := ledger.DecrementStock(tx, payment.OrderID); err != nil {
			return err
		}

		return tx.Create(&models.PaymentLog{
			PaymentID: payment.ID,
			EventType: eventType,
			Details:   details,
		}).Error
	})
	if txErr != nil {
		return fmt.Errorf("reconcile: confirm payment %d: %w", payment.ID, txErr)
	}

	if applied {
		e.publish(ctx, payment, map[string]any{
			"type":       "payment_succeeded",
			"paymentID":  payment.ID,
			"orderID":    payment.OrderID,
			"event_type": eventType,
		})
	}

	return nil
}

// overwrite moves the payment into failed or canceled and appends the audit
// entry. Succeeded stays succeeded: a late failure signal never claws back a
// confirmed payment.
func (e *Engine) overwrite(ctx context.Context, payment *models.Payment, status, eventType string, details models.JSONMap) error {
	txErr := e.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Payment{}).
			Where("id = ? AND status <> ?", payment.ID, models.PaymentStatusSucceeded).
			Update("status", status).Error; err != nil {
			return err
		}

		return tx.Create(&models.PaymentLog{
			PaymentID: payment.ID,
			EventType: eventType,
			Details:   details,
		}).Error
	})
	if txErr != nil {
		return fmt.Errorf("reconcile: %s payment %d: %w", status, payment.ID, txErr)
	}

	e.publish(ctx, payment, map[string]any{
		"type":      "payment_" + status,
		"paymentID": payment.ID,
		"orderID":   payment.OrderID,
	})

	return nil
}

func (e *Engine) publish(ctx context.Context, payment *models.Payment, event map[string]any) {
	if e.Producer == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := e.Producer.PublishEvent(pubCtx, "payment_events", fmt.Sprint(payment.OrderID), event); err != nil {
		// Events are best effort; reconciliation already committed.
		logging.FromContext(ctx).Warn("kafka publish failed", "error", err)
	}
}
