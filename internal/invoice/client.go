// Package invoice talks to the external invoicing provider. The provider
// has renamed its create endpoint across versions, so the client walks an
// ordered list of candidate paths and stops at the first response that
// carries a usable document link.
package invoice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// ErrProvider marks an invoicing failure after every candidate endpoint
// and tax-id form was exhausted.
var ErrProvider = errors.New("invoice provider error")

// ---------------------------------------------------------------------------
// Access-token cache
// ---------------------------------------------------------------------------

// TokenCache holds a single time-bound access token. Concurrent reads are
// cheap; a redundant refresh under contention is harmless, merely wasteful.
type TokenCache struct {
	mu      sync.RWMutex
	token   string
	expires time.Time
	Now     func() time.Time
}

func (c *TokenCache) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c *TokenCache) Get() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.token == "" || c.now().After(c.expires) {
		return "", false
	}
	return c.token, true
}

func (c *TokenCache) Set(token string, ttl time.Duration) {
	c.mu.Lock()
	c.token = token
	c.expires = c.now().Add(ttl)
	c.mu.Unlock()
}

// ---------------------------------------------------------------------------
// Client
// ---------------------------------------------------------------------------

type Client struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	// Endpoints are candidate create-invoice paths, tried in order.
	Endpoints []string
	Series    string
	VATRate   decimal.Decimal
	Cache     *TokenCache
	HTTPC     *http.Client
}

func (c *Client) httpc() *http.Client {
	if c.HTTPC != nil {
		return c.HTTPC
	}
	return http.DefaultClient
}

func (c *Client) cache() *TokenCache {
	if c.Cache == nil {
		c.Cache = &TokenCache{}
	}
	return c.Cache
}

type Line struct {
	Name      string          `json:"name"`
	Quantity  int64           `json:"quantity"`
	UnitPrice decimal.Decimal `json:"price"`
	VATRate   decimal.Decimal `json:"vatRate"`
}

type Request struct {
	CIF           string
	ClientName    string
	ClientAddress string
	IssueDate     time.Time
	Lines         []Line
}

// ---------------------------------------------------------------------------
// OAuth token exchange
// ---------------------------------------------------------------------------

func (c *Client) AccessToken(ctx context.Context) (string, error) {
	if tok, ok := c.cache().Get(); ok {
		return tok, nil
	}

	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {c.ClientID},
		"client_secret": {c.ClientSecret},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/oauth/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpc().Do(req)
	if err != nil {
		return "", fmt.Errorf("token exchange: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token exchange status %d: %w", resp.StatusCode, ErrProvider)
	}

	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.AccessToken == "" {
		return "", fmt.Errorf("token exchange response: %w", ErrProvider)
	}

	ttl := time.Duration(body.ExpiresIn) * time.Second
	if ttl > time.Minute {
		ttl -= 30 * time.Second
	}
	c.cache().Set(body.AccessToken, ttl)
	return body.AccessToken, nil
}

// ---------------------------------------------------------------------------
// Tax-id normalization
// ---------------------------------------------------------------------------

// CIFCandidates computes both tax-id forms up front: the country-prefixed
// form first, then the bare numeric form as the retry alternate.
func CIFCandidates(raw string) []string {
	s := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(raw), " ", ""))
	if s == "" {
		return []string{""}
	}
	bare := strings.TrimLeftFunc(s, func(r rune) bool { return r >= 'A' && r <= 'Z' })
	prefixed := s
	if bare == s {
		prefixed = "RO" + s
	}
	if bare == prefixed {
		return []string{prefixed}
	}
	return []string{prefixed, bare}
}

// ---------------------------------------------------------------------------
// Create invoice
// ---------------------------------------------------------------------------

type createPayload struct {
	CIF        string `json:"cif"`
	Client     client `json:"client"`
	IssueDate  string `json:"issueDate"`
	SeriesName string `json:"seriesName"`
	Products   []Line `json:"products"`
}

type client struct {
	Name    string `json:"name"`
	CIF     string `json:"cif,omitempty"`
	Address string `json:"address,omitempty"`
}

// CreateInvoice returns the provider's document link. Every candidate
// endpoint is tried with the prefixed tax id and then the bare alternate;
// the first body that parses with a non-empty link wins.
func (c *Client) CreateInvoice(ctx context.Context, inv Request) (string, error) {
	tok, err := c.AccessToken(ctx)
	if err != nil {
		return "", err
	}

	cifs := CIFCandidates(inv.CIF)
	var lastErr error
	for _, endpoint := range c.Endpoints {
		for _, cif := range cifs {
			link, err := c.tryCreate(ctx, endpoint, tok, inv, cif)
			if err == nil && link != "" {
				return link, nil
			}
			if err != nil {
				lastErr = err
			}
		}
	}
	if lastErr == nil {
		lastErr = errors.New("no endpoint returned a document link")
	}
	return "", fmt.Errorf("create invoice: %v: %w", lastErr, ErrProvider)
}

func (c *Client) tryCreate(ctx context.Context, endpoint, tok string, inv Request, cif string) (string, error) {
	payload := createPayload{
		CIF:        cif,
		Client:     client{Name: inv.ClientName, CIF: cif, Address: inv.ClientAddress},
		IssueDate:  inv.IssueDate.Format("2006-01-02"),
		SeriesName: c.Series,
		Products:   inv.Lines,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+endpoint, strings.NewReader(string(body)))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+tok)

	resp, err := c.httpc().Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("endpoint %s status %d", endpoint, resp.StatusCode)
	}

	var parsed struct {
		Link string `json:"link"`
		URL  string `json:"url"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("endpoint %s unparseable body", endpoint)
	}
	if parsed.Link != "" {
		return parsed.Link, nil
	}
	return parsed.URL, nil
}
