package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"frame-fulfillment/fulfillment"
	"frame-fulfillment/notify"
	"frame-fulfillment/prodigi"
	"frame-fulfillment/registry"
)

type fakeProvider struct {
	createOrder func(prodigi.CreateOrderRequest) (*prodigi.Order, error)
	getOrder    func(string) (*prodigi.Order, error)
	createCalls []prodigi.CreateOrderRequest
}

func (f *fakeProvider) CreateOrder(_ context.Context, req prodigi.CreateOrderRequest) (*prodigi.Order, error) {
	f.createCalls = append(f.createCalls, req)
	return f.createOrder(req)
}

func (f *fakeProvider) GetOrder(_ context.Context, id string) (*prodigi.Order, error) {
	return f.getOrder(id)
}

type fakeDispatcher struct {
	messages []notify.Message
	err      error
}

func (f *fakeDispatcher) Dispatch(_ context.Context, msg notify.Message) error {
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, msg)
	return nil
}

func newSet(provider *fakeProvider, dispatcher *fakeDispatcher) (Set, *fulfillment.Memory) {
	fulfillments := fulfillment.NewMemory()
	return Set{
		Provider:     provider,
		Fulfillments: fulfillments,
		Notifier:     dispatcher,
	}, fulfillments
}

func TestOrderCreation_Success(t *testing.T) {
	provider := &fakeProvider{
		createOrder: func(req prodigi.CreateOrderRequest) (*prodigi.Order, error) {
			return &prodigi.Order{ID: "prov-42", Status: "InProgress"}, nil
		},
	}
	set, fulfillments := newSet(provider, &fakeDispatcher{})

	payload := []byte(`{"items":[{"sku":"frame-a4-oak","copies":1,"asset_url":"https://cdn/a.png"}],
		"ship_to":{"name":"J. Doe","line1":"1 Main St","city":"Leeds","postal_code":"LS1","country_code":"GB"}}`)

	result, err := set.OrderCreation(context.Background(), "order-1", payload)
	require.NoError(t, err)
	assert.JSONEq(t, `{"provider_order_id":"prov-42","status":"InProgress"}`, string(result))

	require.Len(t, provider.createCalls, 1)
	assert.Equal(t, "order-order-1", provider.createCalls[0].IdempotencyKey)
	assert.Equal(t, "order-1", provider.createCalls[0].Reference)

	record, err := fulfillments.Get(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, "prov-42", record.ProviderOrderID)
	assert.Equal(t, "InProgress", record.Status)
	require.NotNil(t, record.SubmittedAt)
}

func TestOrderCreation_MalformedPayloadIsPermanent(t *testing.T) {
	set, _ := newSet(&fakeProvider{}, &fakeDispatcher{})

	_, err := set.OrderCreation(context.Background(), "order-1", []byte(`{not json`))
	require.Error(t, err)
	assert.True(t, registry.IsPermanent(err))

	_, err = set.OrderCreation(context.Background(), "order-1", []byte(`{"items":[]}`))
	require.Error(t, err)
	assert.True(t, registry.IsPermanent(err))
}

func TestOrderCreation_ProviderErrorClassification(t *testing.T) {
	validPayload := []byte(`{"items":[{"sku":"frame-a4","copies":1,"asset_url":"u"}],"ship_to":{}}`)

	t.Run("5xx is retryable", func(t *testing.T) {
		provider := &fakeProvider{
			createOrder: func(prodigi.CreateOrderRequest) (*prodigi.Order, error) {
				return nil, &prodigi.StatusError{Code: 503, Body: "maintenance"}
			},
		}
		set, _ := newSet(provider, &fakeDispatcher{})

		_, err := set.OrderCreation(context.Background(), "order-1", validPayload)
		require.Error(t, err)
		assert.False(t, registry.IsPermanent(err))
	})

	t.Run("422 is permanent", func(t *testing.T) {
		provider := &fakeProvider{
			createOrder: func(prodigi.CreateOrderRequest) (*prodigi.Order, error) {
				return nil, &prodigi.StatusError{Code: 422, Body: "unknown sku"}
			},
		}
		set, _ := newSet(provider, &fakeDispatcher{})

		_, err := set.OrderCreation(context.Background(), "order-1", validPayload)
		require.Error(t, err)
		assert.True(t, registry.IsPermanent(err))
	})

	t.Run("network error is retryable", func(t *testing.T) {
		provider := &fakeProvider{
			createOrder: func(prodigi.CreateOrderRequest) (*prodigi.Order, error) {
				return nil, errors.New("dial tcp: connection refused")
			},
		}
		set, _ := newSet(provider, &fakeDispatcher{})

		_, err := set.OrderCreation(context.Background(), "order-1", validPayload)
		require.Error(t, err)
		assert.False(t, registry.IsPermanent(err))
	})
}

func TestStatusRefresh_MirrorsProviderState(t *testing.T) {
	provider := &fakeProvider{
		getOrder: func(id string) (*prodigi.Order, error) {
			assert.Equal(t, "prov-42", id)
			return &prodigi.Order{ID: id, Status: "Shipped", TrackingURL: "https://track/1", Carrier: "DPD"}, nil
		},
	}
	set, fulfillments := newSet(provider, &fakeDispatcher{})
	require.NoError(t, fulfillments.SetProviderOrder(context.Background(), "order-1", "prov-42", "InProgress", time.Now().UTC()))

	result, err := set.StatusRefresh(context.Background(), "order-1", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"Shipped","tracking_url":"https://track/1"}`, string(result))

	record, err := fulfillments.Get(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, "Shipped", record.Status)
	assert.Equal(t, "https://track/1", record.TrackingURL)
	assert.Equal(t, "DPD", record.Carrier)
}

func TestStatusRefresh_NotSubmittedYetIsTransient(t *testing.T) {
	set, fulfillments := newSet(&fakeProvider{}, &fakeDispatcher{})
	require.NoError(t, fulfillments.SetPayment(context.Background(), "order-1", "paid", "pay-1"))

	_, err := set.StatusRefresh(context.Background(), "order-1", nil)
	require.Error(t, err)
	assert.False(t, registry.IsPermanent(err), "submission may still be in flight")
}

func TestPaymentWebhook(t *testing.T) {
	set, fulfillments := newSet(&fakeProvider{}, &fakeDispatcher{})

	result, err := set.PaymentWebhook(context.Background(), "order-1",
		[]byte(`{"event":"payment.succeeded","payment_ref":"pay-77"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"payment_status":"paid"}`, string(result))

	record, err := fulfillments.Get(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, "paid", record.PaymentStatus)
	assert.Equal(t, "pay-77", record.PaymentRef)

	// Reapplying the same event is harmless.
	_, err = set.PaymentWebhook(context.Background(), "order-1",
		[]byte(`{"event":"payment.succeeded","payment_ref":"pay-77"}`))
	require.NoError(t, err)

	_, err = set.PaymentWebhook(context.Background(), "order-1", []byte(`{"event":"payment.exploded"}`))
	require.Error(t, err)
	assert.True(t, registry.IsPermanent(err))

	_, err = set.PaymentWebhook(context.Background(), "order-1", []byte(`"garbage"`))
	require.Error(t, err)
	assert.True(t, registry.IsPermanent(err))
}

func TestNotificationSend(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	set, _ := newSet(&fakeProvider{}, dispatcher)

	result, err := set.NotificationSend(context.Background(), "order-1",
		[]byte(`{"kind":"order_shipped","subject":"Your print shipped","body":"On its way."}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"queued":true}`, string(result))

	require.Len(t, dispatcher.messages, 1)
	assert.Equal(t, "order-1", dispatcher.messages[0].OrderID)
	assert.Equal(t, "order_shipped", dispatcher.messages[0].Kind)

	_, err = set.NotificationSend(context.Background(), "order-1", []byte(`{}`))
	require.Error(t, err)
	assert.True(t, registry.IsPermanent(err))

	dispatcher.err = errors.New("redis down")
	_, err = set.NotificationSend(context.Background(), "order-1", []byte(`{"kind":"order_shipped"}`))
	require.Error(t, err)
	assert.False(t, registry.IsPermanent(err))
}

func TestRegisterAll(t *testing.T) {
	set, _ := newSet(&fakeProvider{}, &fakeDispatcher{})
	r := registry.New()
	set.RegisterAll(r)

	assert.Len(t, r.Types(), 4)
}
