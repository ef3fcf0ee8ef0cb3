package stripe_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/solarstore/shop/internal/stripe"
)

var webhookSecret = []byte("whsec_test_secret")

func TestVerifyWebhook(t *testing.T) {
	payload := []byte(`{"id":"evt_1","type":"checkout.session.completed","data":{"object":{"id":"cs_1"}}}`)
	header := stripe.SignPayload(payload, webhookSecret, time.Now())

	event, err := stripe.VerifyWebhook(payload, header, webhookSecret)
	require.NoError(t, err)
	require.Equal(t, "evt_1", event.ID)
	require.Equal(t, stripe.EventCheckoutSessionCompleted, event.Type)
	require.JSONEq(t, `{"id":"cs_1"}`, string(event.Data.Object))
}

func TestVerifyWebhookTamperedPayload(t *testing.T) {
	payload := []byte(`{"id":"evt_1","type":"charge.failed"}`)
	header := stripe.SignPayload(payload, webhookSecret, time.Now())

	tampered := []byte(`{"id":"evt_2","type":"charge.failed"}`)
	_, err := stripe.VerifyWebhook(tampered, header, webhookSecret)
	require.ErrorIs(t, err, stripe.ErrInvalidSignature)
}

func TestVerifyWebhookWrongSecret(t *testing.T) {
	payload := []byte(`{"id":"evt_1","type":"charge.failed"}`)
	header := stripe.SignPayload(payload, []byte("whsec_other"), time.Now())

	_, err := stripe.VerifyWebhook(payload, header, webhookSecret)
	require.ErrorIs(t, err, stripe.ErrInvalidSignature)
}

func TestVerifyWebhookBadHeader(t *testing.T) {
	payload := []byte(`{"id":"evt_1","type":"charge.failed"}`)

	for _, header := range []string{
		"",
		"v1=deadbeef",
		"t=notanumber,v1=deadbeef",
		"t=1700000000",
	} {
		_, err := stripe.VerifyWebhook(payload, header, webhookSecret)
		require.ErrorIs(t, err, stripe.ErrInvalidSignature, "header %q", header)
	}
}

func TestVerifyWebhookStaleTimestamp(t *testing.T) {
	payload := []byte(`{"id":"evt_1","type":"charge.failed"}`)
	header := stripe.SignPayload(payload, webhookSecret, time.Now().Add(-10*time.Minute))

	_, err := stripe.VerifyWebhook(payload, header, webhookSecret)
	require.ErrorIs(t, err, stripe.ErrInvalidSignature)
}

func TestVerifyWebhookMalformedPayload(t *testing.T) {
	for _, payload := range [][]byte{
		[]byte(`not json`),
		[]byte(`{"id":"evt_1"}`),
	} {
		header := stripe.SignPayload(payload, webhookSecret, time.Now())
		_, err := stripe.VerifyWebhook(payload, header, webhookSecret)
		require.ErrorIs(t, err, stripe.ErrMalformedPayload)
	}
}
