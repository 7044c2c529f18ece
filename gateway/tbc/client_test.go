package tbc_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/tollgate/gateway"
	"github.com/xraph/tollgate/gateway/tbc"
	"github.com/xraph/tollgate/types"
)

type fakeTPay struct {
	tokenCalls atomic.Int32
	lastCreate map[string]any
	create     http.HandlerFunc
	details    http.HandlerFunc
	tokenFail  bool
	// tokenDelay stalls the first token request.
	tokenDelay time.Duration
}

func (f *fakeTPay) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/tpay/access-token", func(w http.ResponseWriter, r *http.Request) {
		calls := f.tokenCalls.Add(1)
		assert.Equal(t, "key-1", r.Header.Get("apikey"))
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "client-1", r.PostForm.Get("client_id"))
		assert.Equal(t, "secret-1", r.PostForm.Get("client_secret"))
		if f.tokenDelay > 0 && calls == 1 {
			select {
			case <-time.After(f.tokenDelay):
			case <-r.Context().Done():
				return
			}
		}
		if f.tokenFail {
			http.Error(w, `{"error":"invalid_client"}`, http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok-1","token_type":"Bearer","expires_in":86400}`))
	})
	mux.HandleFunc("POST /v1/tpay/payments", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		assert.Equal(t, "key-1", r.Header.Get("apikey"))
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		f.lastCreate = body
		if f.create != nil {
			f.create(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"payId":"pay-42","status":"Created","links":[{"uri":"https://pay.example/approve/pay-42","method":"REDIRECT","rel":"approval_url"}]}`))
	})
	mux.HandleFunc("GET /v1/tpay/payments/{id}", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		if f.details != nil {
			f.details(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"payId":"` + r.PathValue("id") + `","status":"Succeeded","amount":20}`))
	})
	return mux
}

func newClient(t *testing.T, f *fakeTPay) *tbc.Client {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)

	c, err := tbc.New(tbc.Config{
		BaseURL:      srv.URL,
		APIKey:       "key-1",
		ClientID:     "client-1",
		ClientSecret: "secret-1",
	}, tbc.WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	return c
}

func TestNewRequiresCredentials(t *testing.T) {
	_, err := tbc.New(tbc.Config{ClientID: "a", ClientSecret: "b"})
	assert.Error(t, err)
	_, err = tbc.New(tbc.Config{APIKey: "k", ClientSecret: "b"})
	assert.Error(t, err)
	_, err = tbc.New(tbc.Config{APIKey: "k", ClientID: "a"})
	assert.Error(t, err)
}

func TestCreatePayment(t *testing.T) {
	f := &fakeTPay{}
	c := newClient(t, f)

	res, err := c.CreatePayment(context.Background(), gateway.CreatePaymentRequest{
		Amount:            types.Lari(20),
		ReturnURL:         "https://app.example/cabinet/subscription?checkout=return&intent=pi_1",
		CallbackURL:       "https://api.example/billing/tbc/callback",
		MerchantPaymentID: "pi_1",
		Description:       "Subscription PAYG_5_5 for tenant with a very long name",
		UserIPAddress:     "203.0.113.7",
	})
	require.NoError(t, err)
	assert.Equal(t, "pay-42", res.ExternalID)
	assert.Equal(t, "Created", res.Status)
	assert.Equal(t, "https://pay.example/approve/pay-42", res.ApprovalURL)

	amount, ok := f.lastCreate["amount"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "GEL", amount["currency"])
	assert.InDelta(t, 20.0, amount["total"], 0.001)
	assert.InDelta(t, 20.0, amount["subTotal"], 0.001)
	assert.InDelta(t, 0.0, amount["tax"], 0.001)
	assert.Equal(t, false, f.lastCreate["preAuth"])
	assert.Equal(t, "KA", f.lastCreate["language"])
	assert.Equal(t, "pi_1", f.lastCreate["merchantPaymentId"])
	assert.Equal(t, "203.0.113.7", f.lastCreate["userIpAddress"])
	assert.Len(t, f.lastCreate["description"], 30)
}

func TestCreatePaymentMissingApprovalURL(t *testing.T) {
	f := &fakeTPay{
		create: func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"payId":"pay-1","status":"Created","links":[]}`))
		},
	}
	c := newClient(t, f)

	_, err := c.CreatePayment(context.Background(), gateway.CreatePaymentRequest{Amount: types.Lari(20)})
	assert.ErrorIs(t, err, gateway.ErrBadResponse)
}

func TestServerErrorIsUnavailable(t *testing.T) {
	f := &fakeTPay{
		details: func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		},
	}
	c := newClient(t, f)

	_, err := c.GetPaymentStatus(context.Background(), "pay-1")
	assert.ErrorIs(t, err, gateway.ErrUnavailable)
}

func TestClientErrorIsBadResponse(t *testing.T) {
	f := &fakeTPay{
		details: func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		},
	}
	c := newClient(t, f)

	_, err := c.GetPaymentStatus(context.Background(), "pay-1")
	assert.ErrorIs(t, err, gateway.ErrBadResponse)
}

func TestRejectedCredentials(t *testing.T) {
	f := &fakeTPay{tokenFail: true}
	c := newClient(t, f)

	_, err := c.GetPaymentStatus(context.Background(), "pay-1")
	assert.ErrorIs(t, err, gateway.ErrBadResponse)
}

func TestGetPaymentStatusCachesToken(t *testing.T) {
	f := &fakeTPay{}
	c := newClient(t, f)

	for range 3 {
		st, err := c.GetPaymentStatus(context.Background(), "pay-7")
		require.NoError(t, err)
		assert.Equal(t, "pay-7", st.ExternalID)
		assert.Equal(t, "Succeeded", st.Status)
		assert.Contains(t, string(st.Raw), `"amount":20`)
	}
	assert.Equal(t, int32(1), f.tokenCalls.Load())
}

func TestGetPaymentStatusDefaultsUnknown(t *testing.T) {
	f := &fakeTPay{
		details: func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{}`))
		},
	}
	c := newClient(t, f)

	st, err := c.GetPaymentStatus(context.Background(), "pay-9")
	require.NoError(t, err)
	assert.Equal(t, "pay-9", st.ExternalID)
	assert.Equal(t, "Unknown", st.Status)
}

func TestTokenRequestHonoursCallerDeadline(t *testing.T) {
	f := &fakeTPay{tokenDelay: 2 * time.Second}
	c := newClient(t, f)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := c.GetPaymentStatus(ctx, "pay-1")
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.ErrorIs(t, err, gateway.ErrUnavailable)
	assert.Less(t, elapsed, time.Second, "token fetch outlived the caller deadline")

	// A later call with time to spare fetches the token normally.
	st, err := c.GetPaymentStatus(context.Background(), "pay-1")
	require.NoError(t, err)
	assert.Equal(t, "Succeeded", st.Status)
}
