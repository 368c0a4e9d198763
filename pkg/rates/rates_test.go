package rates

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFixed(t *testing.T) {
	p := Fixed{Rate: decimal.RequireFromString("2500")}
	rate, err := p.LedgerPerNative(context.Background())
	require.NoError(t, err)
	assert.True(t, rate.Equal(decimal.NewFromInt(2500)))
}

func newTestHTTPProvider(srv *httptest.Server, apiKey string) *HTTPProvider {
	return &HTTPProvider{
		BaseURL: srv.URL,
		APIKey:  apiKey,
		client:  &http.Client{Timeout: 2 * time.Second},
	}
}

func TestHTTPProvider_FetchesRate(t *testing.T) {
	var gotPath, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		fmt.Fprint(w, `{"ledger_per_native":"2500.5"}`)
	}))
	defer srv.Close()

	p := newTestHTTPProvider(srv, "key123")
	rate, err := p.LedgerPerNative(context.Background())
	require.NoError(t, err)
	assert.True(t, rate.Equal(decimal.RequireFromString("2500.5")))
	assert.Equal(t, "/v1/rates", gotPath)
	assert.Equal(t, "Bearer key123", gotAuth)
}

func TestHTTPProvider_Non200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	p := newTestHTTPProvider(srv, "")
	_, err := p.LedgerPerNative(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestHTTPProvider_RejectsNonPositive(t *testing.T) {
	for _, raw := range []string{"0", "-3"} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprintf(w, `{"ledger_per_native":%q}`, raw)
		}))
		p := newTestHTTPProvider(srv, "")
		_, err := p.LedgerPerNative(context.Background())
		assert.Error(t, err, "rate %s must be rejected", raw)
		srv.Close()
	}
}

func TestHTTPProvider_Garbage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"ledger_per_native":"not-a-number"}`)
	}))
	defer srv.Close()

	p := newTestHTTPProvider(srv, "")
	_, err := p.LedgerPerNative(context.Background())
	assert.Error(t, err)
}
