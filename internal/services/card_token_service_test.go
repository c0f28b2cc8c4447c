package services

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chargeup/payment-engine/internal/models"
	"github.com/chargeup/payment-engine/pkg/paymob"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cardTokenFixture struct {
	records     *memCardTokens
	instruments *memInstruments
	orders      *memOrders
	service     *CardTokenService
}

func newCardTokenFixture(users memUsers) *cardTokenFixture {
	f := &cardTokenFixture{
		records:     newMemCardTokens(),
		instruments: &memInstruments{},
		orders:      newMemOrders(),
	}
	f.service = NewCardTokenService(f.records, f.instruments, f.orders, users, quietLogger())
	return f
}

func tokenFields() paymob.Fields {
	return paymob.Fields{
		"type":                  "TOKEN",
		"obj.id":                "31",
		"obj.token":             "tok_abc",
		"obj.masked_pan":        "xxxx-xxxx-xxxx-2346",
		"obj.card_subtype":      "MasterCard",
		"obj.order_id":          "9001",
		"obj.merchant_id":       "1234",
		"obj.merchant_order_id": "uid:42|ord:abc123",
		"obj.expiry":            "12/29",
	}
}

func TestCardToken_SavesInstrumentForCompositeMerchantOrder(t *testing.T) {
	f := newCardTokenFixture(nil)

	out, err := f.service.Handle(context.Background(), tokenFields(), "{}", true)
	require.NoError(t, err)

	assert.Equal(t, models.CardTokenSaved, out.Status)
	assert.False(t, out.Replayed)
	require.NotNil(t, out.InstrumentID)

	inst, err := f.instruments.GetByUserAndToken(context.Background(), "42", "tok_abc")
	require.NoError(t, err)
	require.NotNil(t, inst)
	assert.Equal(t, "2346", *inst.Last4)
	assert.Equal(t, "MasterCard", *inst.Brand)
	assert.Equal(t, 12, *inst.ExpiryMonth)
	assert.Equal(t, 2029, *inst.ExpiryYear)
	assert.True(t, inst.IsDefault)

	record, _ := f.records.GetByWebhookID(context.Background(), "txn:31")
	require.NotNil(t, record)
	assert.Equal(t, models.CardTokenSaved, record.Status)
	assert.NotNil(t, record.ProcessedAt)
}

func TestCardToken_ConcurrentDeliveriesSaveOnce(t *testing.T) {
	f := newCardTokenFixture(nil)

	var wg sync.WaitGroup
	outcomes := make([]*CardTokenOutcome, 8)
	for i := range outcomes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := f.service.Handle(context.Background(), tokenFields(), "{}", true)
			if assert.NoError(t, err) {
				outcomes[i] = out
			}
		}(i)
	}
	wg.Wait()

	saved := 0
	for _, out := range outcomes {
		require.NotNil(t, out)
		if !out.Replayed && out.Status == models.CardTokenSaved {
			saved++
		}
	}
	assert.Equal(t, 1, saved)
	assert.Equal(t, 1, f.instruments.count())
}

func TestCardToken_ReplayReturnsStoredOutcome(t *testing.T) {
	f := newCardTokenFixture(nil)
	ctx := context.Background()

	first, err := f.service.Handle(ctx, tokenFields(), "{}", true)
	require.NoError(t, err)

	again, err := f.service.Handle(ctx, tokenFields(), "{}", true)
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.Equal(t, models.CardTokenSaved, again.Status)
	assert.Equal(t, first.InstrumentID, again.InstrumentID)
}

func TestCardToken_SameCardFromNewEventIsDuplicate(t *testing.T) {
	f := newCardTokenFixture(nil)
	ctx := context.Background()

	_, err := f.service.Handle(ctx, tokenFields(), "{}", true)
	require.NoError(t, err)

	fields := tokenFields()
	fields["obj.id"] = "32"
	out, err := f.service.Handle(ctx, fields, "{}", true)
	require.NoError(t, err)
	assert.Equal(t, models.CardTokenDuplicate, out.Status)
	assert.False(t, out.Replayed)
	assert.Equal(t, 1, f.instruments.count())
}

func TestCardToken_Failures(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(f paymob.Fields)
		verified bool
		want     models.CardTokenStatus
	}{
		{"unverified", func(f paymob.Fields) {}, false, models.CardTokenFailedHmac},
		{"no token", func(f paymob.Fields) { delete(f, "obj.token") }, true, models.CardTokenFailedNoToken},
		{"no user", func(f paymob.Fields) {
			delete(f, "obj.merchant_order_id")
			delete(f, "obj.order_id")
		}, true, models.CardTokenFailedNoUser},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newCardTokenFixture(nil)
			fields := tokenFields()
			tt.mutate(fields)

			out, err := f.service.Handle(context.Background(), fields, "{}", tt.verified)
			require.NoError(t, err)
			assert.Equal(t, tt.want, out.Status)
			assert.Zero(t, f.instruments.count())

			record, _ := f.records.GetByWebhookID(context.Background(), out.WebhookID)
			require.NotNil(t, record)
			assert.Equal(t, tt.want, record.Status)
			assert.NotNil(t, record.FailureReason)
		})
	}
}

func TestCardToken_UserResolution(t *testing.T) {
	t.Run("metadata", func(t *testing.T) {
		f := newCardTokenFixture(nil)
		fields := tokenFields()
		fields["obj.metadata.user_id"] = "meta-user"

		_, err := f.service.Handle(context.Background(), fields, "{}", true)
		require.NoError(t, err)
		inst, _ := f.instruments.GetByUserAndToken(context.Background(), "meta-user", "tok_abc")
		assert.NotNil(t, inst)
	})

	t.Run("bound order", func(t *testing.T) {
		f := newCardTokenFixture(nil)
		boundOrder(f.orders, "m-1", 9001)
		fields := tokenFields()
		delete(fields, "obj.merchant_order_id")

		_, err := f.service.Handle(context.Background(), fields, "{}", true)
		require.NoError(t, err)
		inst, _ := f.instruments.GetByUserAndToken(context.Background(), "user-1", "tok_abc")
		assert.NotNil(t, inst)
	})

	t.Run("email", func(t *testing.T) {
		f := newCardTokenFixture(memUsers{"payer@example.com": "email-user"})
		fields := tokenFields()
		delete(fields, "obj.merchant_order_id")
		delete(fields, "obj.order_id")
		fields["obj.email"] = "payer@example.com"

		_, err := f.service.Handle(context.Background(), fields, "{}", true)
		require.NoError(t, err)
		inst, _ := f.instruments.GetByUserAndToken(context.Background(), "email-user", "tok_abc")
		assert.NotNil(t, inst)
	})
}

func TestCardToken_WebhookID(t *testing.T) {
	service := NewCardTokenService(nil, nil, nil, nil, quietLogger())
	service.now = func() time.Time { return time.Date(2026, 3, 1, 10, 15, 0, 0, time.UTC) }

	assert.Equal(t, "txn:31", service.WebhookID(paymob.Fields{"obj.transaction_id": "31", "obj.order_id": "9"}))
	assert.Equal(t, "ord:9", service.WebhookID(paymob.Fields{"obj.order_id": "9", "obj.token": "t"}))

	hashed := service.WebhookID(paymob.Fields{"obj.token": "t"})
	assert.True(t, strings.HasPrefix(hashed, "tok:"))
	assert.Len(t, hashed, len("tok:")+32)

	// Same token in the same hour maps to the same id
	service.now = func() time.Time { return time.Date(2026, 3, 1, 10, 55, 0, 0, time.UTC) }
	assert.Equal(t, hashed, service.WebhookID(paymob.Fields{"obj.token": "t"}))

	assert.True(t, strings.HasPrefix(service.WebhookID(paymob.Fields{}), "rnd:"))
}

func TestExtractCardDetails(t *testing.T) {
	tests := []struct {
		name      string
		fields    paymob.Fields
		wantLast4 string
		wantMonth int
		wantYear  int
	}{
		{"direct fields", paymob.Fields{"obj.last4": "1111", "obj.expiry_month": "3", "obj.expiry_year": "2030"}, "1111", 3, 2030},
		{"masked pan", paymob.Fields{"obj.masked_pan": "512345xxxxxx2346", "obj.expiry": "07-28"}, "2346", 7, 2028},
		{"four digit year", paymob.Fields{"obj.masked_pan": "2346", "obj.expiry": "7/2031"}, "2346", 7, 2031},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := ExtractCardDetails(tt.fields)
			require.NotNil(t, d.Last4)
			assert.Equal(t, tt.wantLast4, *d.Last4)
			require.NotNil(t, d.ExpiryMonth)
			assert.Equal(t, tt.wantMonth, *d.ExpiryMonth)
			require.NotNil(t, d.ExpiryYear)
			assert.Equal(t, tt.wantYear, *d.ExpiryYear)
		})
	}
}

func TestExtractCardDetails_OutOfRangeDropped(t *testing.T) {
	d := ExtractCardDetails(paymob.Fields{"obj.expiry_month": "13", "obj.expiry_year": "1999", "obj.masked_pan": "12"})
	assert.Nil(t, d.ExpiryMonth)
	assert.Nil(t, d.ExpiryYear)
	assert.Nil(t, d.Last4)
	assert.Nil(t, d.Brand)
}
