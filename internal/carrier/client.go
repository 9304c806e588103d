// Package carrier wraps the shipping provider's HTTP API: shipment
// validation, creation, label printing and tracking links.
//
// CreateShipment is not idempotent at the provider; calling it twice makes
// two real shipments. The workflow engine is the only caller allowed to
// decide whether a create happens.
package carrier

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"
)

var ErrProvider = errors.New("carrier provider error")

// ValidationError carries the carrier's rejection reason; it routes the
// workflow back to the edit step rather than failing it.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "shipment rejected: " + e.Reason
}

// ---------------------------------------------------------------------------
// Types
// ---------------------------------------------------------------------------

type Party struct {
	ClientID   string `json:"client_id,omitempty"`
	Name       string `json:"name,omitempty"`
	Phone      string `json:"phone,omitempty"`
	Email      string `json:"email,omitempty"`
	County     string `json:"county,omitempty"`
	City       string `json:"city,omitempty"`
	Street     string `json:"street,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
}

type ShipmentSpec struct {
	Sender         Party           `json:"sender"`
	Recipient      Party           `json:"recipient"`
	Content        string          `json:"content"`
	WeightKg       float64         `json:"weight_kg"`
	ParcelCount    int             `json:"parcel_count"`
	ServiceID      int             `json:"service_id"`
	CashOnDelivery decimal.Decimal `json:"cash_on_delivery"`
	Reference      string          `json:"reference,omitempty"`
}

type Parcel struct {
	ID string `json:"id"`
}

type Created struct {
	ID      string   `json:"id"`
	Parcels []Parcel `json:"parcels"`
}

type PrintRequest struct {
	PaperSize string   `json:"paperSize"`
	Parcels   []Parcel `json:"parcels"`
	Format    string   `json:"format"`
}

// ---------------------------------------------------------------------------
// Client
// ---------------------------------------------------------------------------

type Client struct {
	BaseURL string
	APIKey  string
	// TrackBase is the public tracking page prefix; the AWB is appended.
	TrackBase string
	HTTPC     *http.Client
}

func (c *Client) httpc() *http.Client {
	if c.HTTPC != nil {
		return c.HTTPC
	}
	return http.DefaultClient
}

func (c *Client) post(ctx context.Context, path string, payload, out any) (int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, strings.NewReader(string(body)))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.httpc().Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s: %v: %w", path, err, ErrProvider)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("%s: %v: %w", path, err, ErrProvider)
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return resp.StatusCode, fmt.Errorf("%s: unparseable body: %w", path, ErrProvider)
		}
	}
	return resp.StatusCode, nil
}

// ValidateShipment asks the carrier to dry-run the spec. A rejection comes
// back as *ValidationError; anything else non-2xx is a provider error.
func (c *Client) ValidateShipment(ctx context.Context, spec ShipmentSpec) error {
	var body struct {
		Valid  bool   `json:"valid"`
		Reason string `json:"reason"`
	}
	status, err := c.post(ctx, "/shipments/validate", spec, &body)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("validate status %d: %w", status, ErrProvider)
	}
	if !body.Valid {
		return &ValidationError{Reason: body.Reason}
	}
	return nil
}

func (c *Client) CreateShipment(ctx context.Context, spec ShipmentSpec) (Created, error) {
	var created Created
	status, err := c.post(ctx, "/shipments", spec, &created)
	if err != nil {
		return Created{}, err
	}
	if status < 200 || status >= 300 || created.ID == "" {
		return Created{}, fmt.Errorf("create shipment status %d: %w", status, ErrProvider)
	}
	return created, nil
}

// PrintExtended renders the label for the given parcels and returns the
// decoded document bytes.
func (c *Client) PrintExtended(ctx context.Context, req PrintRequest) ([]byte, error) {
	if req.PaperSize == "" {
		req.PaperSize = "A6"
	}
	if req.Format == "" {
		req.Format = "pdf"
	}
	var body struct {
		Base64 string `json:"base64"`
	}
	status, err := c.post(ctx, "/shipments/print", req, &body)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK || body.Base64 == "" {
		return nil, fmt.Errorf("print status %d: %w", status, ErrProvider)
	}
	label, err := base64.StdEncoding.DecodeString(body.Base64)
	if err != nil {
		return nil, fmt.Errorf("print label decode: %w", ErrProvider)
	}
	return label, nil
}

func (c *Client) TrackingURL(awb string) string {
	return c.TrackBase + url.QueryEscape(awb)
}
