// Package token signs and verifies the capability payloads that drive the
// shipment workflow. A token is its own session: nothing about it is stored
// server-side, and verification is a pure function of the token bytes and
// the server secret.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ddobroiu/prynt-sub001/internal/order"
)

// ErrInvalidToken is returned for every verification failure: bad
// signature, truncated token, unknown action, expired envelope. Callers
// render the same generic page regardless of cause.
var ErrInvalidToken = errors.New("invalid token")

// ---------------------------------------------------------------------------
// Actions
// ---------------------------------------------------------------------------

// ShipmentDetails is the field set every action carries: the shipping
// address and the payment facts as they were at signing time. Service and
// sender ids are carrier routing hints and may be overridden per request
// without re-signing.
type ShipmentDetails struct {
	Address        order.Address     `json:"address"`
	PaymentType    order.PaymentType `json:"payment_type"`
	TotalAmount    decimal.Decimal   `json:"total_amount"`
	ServiceID      int               `json:"service_id,omitempty"`
	SenderClientID string            `json:"sender_client_id,omitempty"`
}

func (d ShipmentDetails) Details() ShipmentDetails { return d }

type Parcel struct {
	ID string `json:"id"`
}

// Action is the tagged union of workflow permissions. Consumers must
// type-switch on the concrete variant; anything else is invalid.
type Action interface {
	Kind() string
	Details() ShipmentDetails
}

// Edit re-renders the shipment form with the embedded values. A previously
// created shipment id, if any, is carried through so the follow-up confirm
// keeps its idempotency guard.
type Edit struct {
	ShipmentDetails
	ShipmentID string   `json:"shipment_id,omitempty"`
	Parcels    []Parcel `json:"parcels,omitempty"`
}

type Validate struct {
	ShipmentDetails
}

type CancelAWB struct {
	ShipmentDetails
}

type EmitAWB struct {
	ShipmentDetails
	ShipmentID string   `json:"shipment_id,omitempty"`
	Parcels    []Parcel `json:"parcels,omitempty"`
}

type ConfirmAWB struct {
	ShipmentDetails
	ShipmentID string   `json:"shipment_id,omitempty"`
	Parcels    []Parcel `json:"parcels,omitempty"`
}

func (Edit) Kind() string       { return "edit" }
func (Validate) Kind() string   { return "validate" }
func (CancelAWB) Kind() string  { return "cancel_awb" }
func (EmitAWB) Kind() string    { return "emit_awb" }
func (ConfirmAWB) Kind() string { return "confirm_awb" }

// ---------------------------------------------------------------------------
// Codec
// ---------------------------------------------------------------------------

type envelope struct {
	Action   string          `json:"action"`
	IssuedAt time.Time       `json:"issued_at"`
	Data     json.RawMessage `json:"data"`
}

// Codec signs action payloads with HMAC-SHA256 over the serialized
// envelope. MaxAge of zero leaves tokens non-expiring; emit/confirm
// hand-offs rely on replay being allowed either way.
type Codec struct {
	Secret []byte
	MaxAge time.Duration
	Now    func() time.Time
}

func (c *Codec) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c *Codec) Sign(a Action) (string, error) {
	data, err := json.Marshal(a)
	if err != nil {
		return "", err
	}
	payload, err := json.Marshal(envelope{Action: a.Kind(), IssuedAt: c.now().UTC(), Data: data})
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(payload) + "." + base64.RawURLEncoding.EncodeToString(c.mac(payload)), nil
}

func (c *Codec) Verify(tok string) (Action, error) {
	parts := strings.SplitN(tok, ".", 2)
	if len(parts) != 2 {
		return nil, ErrInvalidToken
	}
	payload, err := base64.RawURLEncoding.Strict().DecodeString(parts[0])
	if err != nil {
		return nil, ErrInvalidToken
	}
	sig, err := base64.RawURLEncoding.Strict().DecodeString(parts[1])
	if err != nil {
		return nil, ErrInvalidToken
	}
	if !hmac.Equal(sig, c.mac(payload)) {
		return nil, ErrInvalidToken
	}

	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, ErrInvalidToken
	}
	if c.MaxAge > 0 && c.now().Sub(env.IssuedAt) > c.MaxAge {
		return nil, ErrInvalidToken
	}

	var a Action
	switch env.Action {
	case "edit":
		a = &Edit{}
	case "validate":
		a = &Validate{}
	case "cancel_awb":
		a = &CancelAWB{}
	case "emit_awb":
		a = &EmitAWB{}
	case "confirm_awb":
		a = &ConfirmAWB{}
	default:
		return nil, ErrInvalidToken
	}
	if err := json.Unmarshal(env.Data, a); err != nil {
		return nil, ErrInvalidToken
	}
	return deref(a), nil
}

func (c *Codec) mac(payload []byte) []byte {
	h := hmac.New(sha256.New, c.Secret)
	h.Write(payload)
	return h.Sum(nil)
}

func deref(a Action) Action {
	switch v := a.(type) {
	case *Edit:
		return *v
	case *Validate:
		return *v
	case *CancelAWB:
		return *v
	case *EmitAWB:
		return *v
	case *ConfirmAWB:
		return *v
	}
	return a
}
