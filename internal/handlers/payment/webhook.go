package payment

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/solarstore/shop/internal/models"
	"github.com/solarstore/shop/internal/stripe"
)

// Webhook receives provider deliveries. The signature is verified before the
// event type is even looked at; a bad signature or body changes no state.
// Once an event is dispatched the endpoint acknowledges with 200 even when
// the payment lookup misses, so the provider stops redelivering.
func (h *PaymentHandler) Webhook(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "unreadable payload"})
	}

	sig := c.Request().Header.Get("Stripe-Signature")
	event, err := stripe.VerifyWebhook(body, sig, h.WebhookSecret)
	if err != nil {
		if errors.Is(err, stripe.ErrMalformedPayload) {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		}
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid signature"})
	}

	var raw models.JSONMap
	if len(event.Data.Object) > 0 {
		if err := json.Unmarshal(event.Data.Object, &raw); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		}
	}

	ctx := c.Request().Context()

	switch event.Type {
	case stripe.EventCheckoutSessionCompleted:
		var obj stripe.CheckoutSessionObject
		if err := json.Unmarshal(event.Data.Object, &obj); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		}
		if err := h.Engine.HandleCheckoutCompleted(ctx, obj, raw); err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}

	case stripe.EventPaymentIntentSucceeded:
		var obj stripe.PaymentIntentObject
		if err := json.Unmarshal(event.Data.Object, &obj); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		}
		if err := h.Engine.HandleIntentSucceeded(ctx, obj, raw); err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}

	case stripe.EventChargeFailed:
		var obj stripe.ChargeObject
		if err := json.Unmarshal(event.Data.Object, &obj); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		}
		if err := h.Engine.HandleChargeFailed(ctx, obj, raw); err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}

	return c.JSON(http.StatusOK, map[string]string{"status": "success"})
}
