package invoice

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestCIFCandidates(t *testing.T) {
	cases := map[string][]string{
		"RO1234567":  {"RO1234567", "1234567"},
		"1234567":    {"RO1234567", "1234567"},
		" ro 123 ":   {"RO123", "123"},
		"":           {""},
	}
	for raw, want := range cases {
		require.Equal(t, want, CIFCandidates(raw), raw)
	}
}

type fakeProvider struct {
	tokenCalls  int64
	createCalls int64
	// behavior per path
	mux *http.ServeMux
	srv *httptest.Server
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()
	p := &fakeProvider{mux: http.NewServeMux()}
	p.mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&p.tokenCalls, 1)
		require.NoError(t, r.ParseForm())
		require.Equal(t, "client_credentials", r.PostFormValue("grant_type"))
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "tok-1", "expires_in": 3600})
	})
	p.srv = httptest.NewServer(p.mux)
	t.Cleanup(p.srv.Close)
	return p
}

func (p *fakeProvider) client() *Client {
	return &Client{
		BaseURL:      p.srv.URL,
		ClientID:     "id",
		ClientSecret: "secret",
		Endpoints:    []string{"/api/v2/invoices", "/api/invoices/create"},
		Series:       "PRY",
		VATRate:      decimal.NewFromInt(19),
		Cache:        &TokenCache{},
	}
}

func testRequest() Request {
	return Request{
		CIF:        "1234567",
		ClientName: "Ion Popescu",
		IssueDate:  time.Date(2024, 5, 20, 0, 0, 0, 0, time.UTC),
		Lines:      []Line{{Name: "Flyers", Quantity: 2, UnitPrice: decimal.NewFromInt(50), VATRate: decimal.NewFromInt(19)}},
	}
}

func TestCreateInvoiceFallsThroughEndpoints(t *testing.T) {
	p := newFakeProvider(t)
	// First candidate path was renamed provider-side; second works.
	p.mux.HandleFunc("/api/v2/invoices", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	p.mux.HandleFunc("/api/invoices/create", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&p.createCalls, 1)
		require.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		var payload struct {
			CIF        string `json:"cif"`
			SeriesName string `json:"seriesName"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		require.Equal(t, "PRY", payload.SeriesName)
		_ = json.NewEncoder(w).Encode(map[string]string{"link": "https://provider.example/doc/42"})
	})

	link, err := p.client().CreateInvoice(context.Background(), testRequest())
	require.NoError(t, err)
	require.Equal(t, "https://provider.example/doc/42", link)
}

func TestCreateInvoiceRetriesAlternateCIF(t *testing.T) {
	p := newFakeProvider(t)
	p.mux.HandleFunc("/api/v2/invoices", func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			CIF string `json:"cif"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		// Provider only accepts the bare numeric form.
		if payload.CIF == "1234567" {
			_ = json.NewEncoder(w).Encode(map[string]string{"link": "https://provider.example/doc/7"})
			return
		}
		w.WriteHeader(http.StatusUnprocessableEntity)
	})

	link, err := p.client().CreateInvoice(context.Background(), testRequest())
	require.NoError(t, err)
	require.Equal(t, "https://provider.example/doc/7", link)
}

func TestCreateInvoiceProviderError(t *testing.T) {
	p := newFakeProvider(t)
	p.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := p.client().CreateInvoice(context.Background(), testRequest())
	require.ErrorIs(t, err, ErrProvider)
}

func TestAccessTokenIsCached(t *testing.T) {
	p := newFakeProvider(t)
	p.mux.HandleFunc("/api/v2/invoices", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"link": "https://provider.example/doc/1"})
	})
	c := p.client()
	ctx := context.Background()

	_, err := c.CreateInvoice(ctx, testRequest())
	require.NoError(t, err)
	_, err = c.CreateInvoice(ctx, testRequest())
	require.NoError(t, err)
	require.EqualValues(t, 1, atomic.LoadInt64(&p.tokenCalls))
}

func TestAccessTokenWithoutInjectedCache(t *testing.T) {
	p := newFakeProvider(t)
	p.mux.HandleFunc("/api/v2/invoices", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"link": "https://provider.example/doc/3"})
	})
	c := p.client()
	c.Cache = nil
	ctx := context.Background()

	// The zero-value client lazily creates its cache instead of panicking.
	_, err := c.CreateInvoice(ctx, testRequest())
	require.NoError(t, err)
	_, err = c.CreateInvoice(ctx, testRequest())
	require.NoError(t, err)
	require.EqualValues(t, 1, atomic.LoadInt64(&p.tokenCalls))
}

func TestTokenCacheExpiry(t *testing.T) {
	now := time.Now()
	cache := &TokenCache{Now: func() time.Time { return now }}

	_, ok := cache.Get()
	require.False(t, ok)

	cache.Set("tok", time.Minute)
	got, ok := cache.Get()
	require.True(t, ok)
	require.Equal(t, "tok", got)

	cache.Now = func() time.Time { return now.Add(2 * time.Minute) }
	_, ok = cache.Get()
	require.False(t, ok)
}
