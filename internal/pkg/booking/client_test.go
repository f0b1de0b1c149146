package booking

import (
	"Rendezvous/internal/api/config"
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(config.BookingConfig{BaseURL: srv.URL, Timeout: 1, RetryCount: 2})
}

func TestGetParticipants_OK(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/internal/bookings/bk-1/participants", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"customerId":"cust","providerId":"prov","active":true}`))
	})

	p, err := c.GetParticipants(context.Background(), "bk-1")
	require.NoError(t, err)
	assert.Equal(t, "bk-1", p.BookingID)
	assert.Equal(t, "cust", p.CustomerID)
	assert.Equal(t, "prov", p.ProviderID)
	assert.True(t, p.Active)
}

func TestGetParticipants_NotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := c.GetParticipants(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrBookingNotFound)
}

func TestGetParticipants_RetriesServerErrors(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"customerId":"cust","providerId":"prov","active":false}`))
	})

	p, err := c.GetParticipants(context.Background(), "bk-2")
	require.NoError(t, err)
	assert.False(t, p.Active)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestGetParticipants_Unavailable(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := c.GetParticipants(context.Background(), "bk-3")
	assert.ErrorIs(t, err, ErrUnavailable)
}
