package payment

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"github.com/solarstore/shop/internal/handlers/cart"
	"github.com/solarstore/shop/internal/ledger"
	"github.com/solarstore/shop/internal/models"
	"github.com/solarstore/shop/internal/mykafka"
	"github.com/solarstore/shop/internal/reconcile"
	"github.com/solarstore/shop/internal/stripe"
)

type PaymentHandler struct {
	DB            *gorm.DB
	Gateway       stripe.Gateway
	Engine        *reconcile.Engine
	Producer      *mykafka.Producer
	SiteURL       string
	WebhookSecret []byte
}

// CreateSession turns the current cart into an Order with a pending Payment
// and a provider checkout session, all in one transaction. A gateway failure
// rolls the order back; nothing partial survives.
func (h *PaymentHandler) CreateSession(c echo.Context) error {
	userID, role, err := cart.CurrentUser(c)
	if err != nil {
		return err
	}
	if role != models.RoleCustomer {
		return c.JSON(http.StatusForbidden, map[string]string{"error": "only customers can make payments"})
	}

	var user models.User
	if err := h.DB.First(&user, userID).Error; err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	snapshot, _, err := cart.Snapshot(h.DB, userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if len(snapshot) == 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "empty cart"})
	}

	lineItems := make([]ledger.LineItem, 0, len(snapshot))
	for _, it := range snapshot {
		lineItems = append(lineItems, ledger.LineItem{Product: it.Product, Quantity: it.Quantity})
	}

	var (
		order   *models.Order
		session *stripe.Session
	)

	txErr := h.DB.Transaction(func(tx *gorm.DB) error {
		var err error
		order, _, err = ledger.CreateOrder(tx, userID, lineItems)
		if err != nil {
			return err
		}

		params := stripe.CreateSessionParams{
			OrderID:       order.ID,
			UserID:        userID,
			CustomerEmail: user.Email,
			SuccessURL:    fmt.Sprintf("%s/payments/success/%d/", h.SiteURL, order.ID),
			CancelURL:     fmt.Sprintf("%s/payments/cancel/%d/", h.SiteURL, order.ID),
		}
		for _, it := range snapshot {
			params.LineItems = append(params.LineItems, stripe.LineItem{
				Name:        it.Product.Name,
				Description: it.Product.Description,
				UnitAmount:  int64(math.Round(it.Product.Price * 100)),
				Currency:    "BRL",
				Quantity:    it.Quantity,
			})
		}

		session, err = h.Gateway.CreateSession(c.Request().Context(), params)
		if err != nil {
			return err
		}

		payment := models.Payment{
			OrderID:         order.ID,
			SessionID:       session.ID,
			PaymentIntentID: session.PaymentIntentID,
			Status:          models.PaymentStatusPending,
			PaymentMethod:   "card",
			Amount:          order.Total,
			Currency:        "BRL",
			CustomerEmail:   user.Email,
			CustomerName:    user.Username,
		}
		if err := tx.Create(&payment).Error; err != nil {
			return err
		}

		if err := tx.Create(&models.PaymentLog{
			PaymentID: payment.ID,
			EventType: reconcile.EventSessionCreated,
			Details: models.JSONMap{
				"session_id": session.ID,
				"url":        session.URL,
			},
		}).Error; err != nil {
			return err
		}

		return cart.Clear(tx, userID)
	})

	if txErr != nil {
		var stockErr *ledger.InsufficientStockError
		switch {
		case errors.As(txErr, &stockErr):
			return c.JSON(http.StatusBadRequest, map[string]string{"error": stockErr.Error()})
		case errors.Is(txErr, ledger.ErrEmptyOrder):
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "empty cart"})
		case errors.Is(txErr, stripe.ErrGatewayUnavailable):
			return c.JSON(http.StatusBadGateway, map[string]string{"error": "payment gateway unavailable"})
		default:
			return echo.NewHTTPError(http.StatusInternalServerError, txErr.Error())
		}
	}

	h.publish(c, map[string]any{
		"type":      "checkout_session_created",
		"userID":    userID,
		"orderID":   order.ID,
		"sessionID": session.ID,
	})

	return c.JSON(http.StatusOK, map[string]string{
		"sessionId":   session.ID,
		"redirectUrl": session.URL,
	})
}

// Success is the redirect target after the customer pays. It polls the
// gateway for the session state and lets the reconciliation engine apply the
// outcome, then renders whatever the records say now.
func (h *PaymentHandler) Success(c echo.Context) error {
	order, err := h.ownedOrder(c)
	if err != nil {
		return err
	}

	payment, err := h.Engine.ConfirmFromRedirect(c.Request().Context(), order)
	if err != nil {
		if errors.Is(err, stripe.ErrGatewayUnavailable) {
			return c.JSON(http.StatusOK, map[string]any{
				"order":   order,
				"payment": payment,
				"warning": "could not verify payment status, contact support",
			})
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	if err := h.DB.First(order, order.ID).Error; err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, map[string]any{
		"order":   order,
		"payment": payment,
	})
}

// Cancel is the redirect target when the customer abandons the checkout.
func (h *PaymentHandler) Cancel(c echo.Context) error {
	order, err := h.ownedOrder(c)
	if err != nil {
		return err
	}

	payment, err := h.Engine.Cancel(c.Request().Context(), order)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, map[string]any{
		"order":   order,
		"payment": payment,
		"message": "payment canceled, the purchase was not completed",
	})
}

// ownedOrder loads the order from the path parameter and enforces that the
// requesting user owns it. Non-owners get a denial that leaks nothing about
// the order.
func (h *PaymentHandler) ownedOrder(c echo.Context) (*models.Order, error) {
	userID, _, err := cart.CurrentUser(c)
	if err != nil {
		return nil, err
	}

	orderID, err := strconv.Atoi(c.Param("order_id"))
	if err != nil || orderID <= 0 {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid order id")
	}

	var order models.Order
	if err := h.DB.First(&order, orderID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, echo.NewHTTPError(http.StatusForbidden, "access denied")
		}
		return nil, echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	if order.UserID != userID {
		return nil, echo.NewHTTPError(http.StatusForbidden, "access denied")
	}

	return &order, nil
}

func (h *PaymentHandler) publish(c echo.Context, event map[string]any) {
	if h.Producer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	if err := h.Producer.PublishEvent(ctx, "payment_events", fmt.Sprint(event["orderID"]), event); err != nil {
		c.Logger().Errorf("Kafka publish error: %v", err)
	}
}
