// Package workflow drives the carrier-shipment state machine. Every
// transition is authorized by a capability token from an admin e-mail
// link; the engine verifies it, performs at most one carrier side effect,
// and re-signs a token for the next step so edited parameters travel
// forward instead of being mutated anywhere.
package workflow

import (
	"context"
	"errors"
	"log"

	"github.com/shopspring/decimal"

	"github.com/ddobroiu/prynt-sub001/internal/carrier"
	"github.com/ddobroiu/prynt-sub001/internal/metrics"
	"github.com/ddobroiu/prynt-sub001/internal/notify"
	"github.com/ddobroiu/prynt-sub001/internal/order"
	"github.com/ddobroiu/prynt-sub001/internal/token"
)

// ---------------------------------------------------------------------------
// Results
// ---------------------------------------------------------------------------

type State string

const (
	StateEditing       State = "editing"
	StateValid         State = "valid"
	StateInvalid       State = "invalid"
	StateCancelled     State = "cancelled"
	StateCreated       State = "created"
	StateNotified      State = "notified"
	StateProviderError State = "provider_error"
)

type Link struct {
	Label string
	Token string
}

// EditForm prefills the editable shipment form. ShipmentID and Parcels
// ride along as hidden values so a confirm re-signed after an edit keeps
// its idempotency guard.
type EditForm struct {
	Address        order.Address
	PaymentType    order.PaymentType
	TotalAmount    decimal.Decimal
	ServiceID      int
	SenderClientID string
	ShipmentID     string
	Parcels        []token.Parcel
}

type StepResult struct {
	State       State
	Message     string
	Next        *Link
	Edit        *EditForm
	ShipmentID  string
	TrackingURL string
}

// ---------------------------------------------------------------------------
// Engine
// ---------------------------------------------------------------------------

// Overrides are the unsigned sid/scid query refinements. They may steer
// carrier routing but never touch the signed amount or address.
type Overrides struct {
	ServiceID      int
	SenderClientID string
}

type Engine struct {
	Carrier *carrier.Client
	Codec   *token.Codec
	Mailer  *notify.Dispatcher

	DefaultServiceID int
	SenderClientID   string
	SenderName       string
	SenderPhone      string
}

// Handle verifies the token and runs one transition. Token verification
// failure is the only error returned; everything recoverable comes back
// as a StepResult.
func (e *Engine) Handle(ctx context.Context, raw string, ov Overrides) (*StepResult, error) {
	act, err := e.Codec.Verify(raw)
	if err != nil {
		metrics.WorkflowTransitions.WithLabelValues("unknown", "auth_error").Inc()
		return nil, err
	}

	d := act.Details()
	if ov.ServiceID != 0 {
		d.ServiceID = ov.ServiceID
	}
	if ov.SenderClientID != "" {
		d.SenderClientID = ov.SenderClientID
	}

	var res *StepResult
	switch a := act.(type) {
	case token.Edit:
		res = &StepResult{State: StateEditing, Edit: e.formFor(d, a.ShipmentID, a.Parcels)}
	case token.Validate:
		res, err = e.validate(ctx, d)
	case token.CancelAWB:
		res = &StepResult{State: StateCancelled, Message: "Shipment flow cancelled. No shipment was created."}
	case token.EmitAWB:
		res, err = e.emit(ctx, d, a.ShipmentID, a.Parcels)
	case token.ConfirmAWB:
		res, err = e.confirm(ctx, d, a.ShipmentID, a.Parcels)
	default:
		metrics.WorkflowTransitions.WithLabelValues("unknown", "auth_error").Inc()
		return nil, token.ErrInvalidToken
	}
	if err != nil {
		metrics.WorkflowTransitions.WithLabelValues(act.Kind(), "error").Inc()
		return nil, err
	}
	metrics.WorkflowTransitions.WithLabelValues(act.Kind(), string(res.State)).Inc()
	return res, nil
}

// SubmitEdit consumes the edited form and re-signs a confirm token
// carrying the new values. Pure data transformation, no carrier call.
func (e *Engine) SubmitEdit(form EditForm) (string, error) {
	return e.Codec.Sign(token.ConfirmAWB{
		ShipmentDetails: token.ShipmentDetails{
			Address:        form.Address,
			PaymentType:    form.PaymentType,
			TotalAmount:    form.TotalAmount,
			ServiceID:      form.ServiceID,
			SenderClientID: form.SenderClientID,
		},
		ShipmentID: form.ShipmentID,
		Parcels:    form.Parcels,
	})
}

// ---------------------------------------------------------------------------
// Transitions
// ---------------------------------------------------------------------------

func (e *Engine) validate(ctx context.Context, d token.ShipmentDetails) (*StepResult, error) {
	if err := e.Carrier.ValidateShipment(ctx, e.specFor(d)); err != nil {
		return e.rejection(d, "", nil, err)
	}
	next, err := e.Codec.Sign(token.ConfirmAWB{ShipmentDetails: d})
	if err != nil {
		return nil, err
	}
	return &StepResult{
		State:   StateValid,
		Message: "Shipment details accepted by the carrier.",
		Next:    &Link{Label: "Confirm and send AWB", Token: next},
	}, nil
}

func (e *Engine) emit(ctx context.Context, d token.ShipmentDetails, shipmentID string, parcels []token.Parcel) (*StepResult, error) {
	// A shipment id in the token means a previous emit already created
	// it; re-clicking the link must not create a second one.
	if shipmentID == "" {
		created, err := e.Carrier.CreateShipment(ctx, e.specFor(d))
		if err != nil {
			return e.rejection(d, "", nil, err)
		}
		shipmentID = created.ID
		parcels = toTokenParcels(created.Parcels)
	}

	next, err := e.Codec.Sign(token.ConfirmAWB{ShipmentDetails: d, ShipmentID: shipmentID, Parcels: parcels})
	if err != nil {
		return nil, err
	}
	return &StepResult{
		State:      StateCreated,
		Message:    "Shipment " + shipmentID + " created. Adjust it in the carrier console if needed, then send it to the customer.",
		Next:       &Link{Label: "Send to customer", Token: next},
		ShipmentID: shipmentID,
	}, nil
}

func (e *Engine) confirm(ctx context.Context, d token.ShipmentDetails, shipmentID string, parcels []token.Parcel) (*StepResult, error) {
	if err := e.Carrier.ValidateShipment(ctx, e.specFor(d)); err != nil {
		return e.rejection(d, shipmentID, parcels, err)
	}

	// Idempotency guard: a shipment id carried in the token means the
	// shipment already exists and creation is skipped.
	if shipmentID == "" {
		created, err := e.Carrier.CreateShipment(ctx, e.specFor(d))
		if err != nil {
			return e.rejection(d, "", nil, err)
		}
		shipmentID = created.ID
		parcels = toTokenParcels(created.Parcels)
	}

	// The customer is only notified with the label attached. A print
	// failure surfaces the retry form; the shipment id rides along so the
	// retry skips creation.
	label, err := e.Carrier.PrintExtended(ctx, carrier.PrintRequest{Parcels: toCarrierParcels(parcels)})
	if err != nil {
		return e.rejection(d, shipmentID, parcels, err)
	}

	tracking := e.Carrier.TrackingURL(shipmentID)
	if e.Mailer != nil {
		if err := e.Mailer.SendAwbEmail(d.Address, shipmentID, tracking, label); err != nil {
			log.Printf("warn: awb e-mail failed for shipment %s: %v", shipmentID, err)
			metrics.Notifications.WithLabelValues("awb", "error").Inc()
		} else {
			metrics.Notifications.WithLabelValues("awb", "ok").Inc()
		}
	}

	return &StepResult{
		State:       StateNotified,
		Message:     "Shipment " + shipmentID + " confirmed and the customer was notified.",
		ShipmentID:  shipmentID,
		TrackingURL: tracking,
	}, nil
}

// rejection maps a carrier failure to the recoverable result shape: a
// validation rejection shows the carrier's reason, a provider outage shows
// a retry form. Both preserve the current field values through an edit
// form so nothing is retyped.
func (e *Engine) rejection(d token.ShipmentDetails, shipmentID string, parcels []token.Parcel, err error) (*StepResult, error) {
	var vErr *carrier.ValidationError
	if errors.As(err, &vErr) {
		return &StepResult{
			State:   StateInvalid,
			Message: "Carrier rejected the shipment: " + vErr.Reason,
			Edit:    e.formFor(d, shipmentID, parcels),
		}, nil
	}
	log.Printf("warn: carrier call failed: %v", err)
	return &StepResult{
		State:   StateProviderError,
		Message: "The carrier could not be reached. Adjust the service or sender below and retry.",
		Edit:    e.formFor(d, shipmentID, parcels),
	}, nil
}

// ---------------------------------------------------------------------------
// Spec assembly
// ---------------------------------------------------------------------------

// specFor derives the carrier spec fresh from the token details at
// transition time. COD is zero for card payments, otherwise the signed
// total, so an edited total is honored without re-reading the ledger.
func (e *Engine) specFor(d token.ShipmentDetails) carrier.ShipmentSpec {
	cod := decimal.Zero
	if d.PaymentType != order.PaymentCard {
		cod = d.TotalAmount
	}
	serviceID := d.ServiceID
	if serviceID == 0 {
		serviceID = e.DefaultServiceID
	}
	senderClientID := d.SenderClientID
	if senderClientID == "" {
		senderClientID = e.SenderClientID
	}
	return carrier.ShipmentSpec{
		Sender: carrier.Party{ClientID: senderClientID, Name: e.SenderName, Phone: e.SenderPhone},
		Recipient: carrier.Party{
			Name:       d.Address.Name,
			Phone:      d.Address.Phone,
			Email:      d.Address.Email,
			County:     d.Address.County,
			City:       d.Address.City,
			Street:     d.Address.Street,
			PostalCode: d.Address.PostalCode,
		},
		Content:        "printed materials",
		WeightKg:       1,
		ParcelCount:    1,
		ServiceID:      serviceID,
		CashOnDelivery: cod,
	}
}

func (e *Engine) formFor(d token.ShipmentDetails, shipmentID string, parcels []token.Parcel) *EditForm {
	return &EditForm{
		Address:        d.Address,
		PaymentType:    d.PaymentType,
		TotalAmount:    d.TotalAmount,
		ServiceID:      d.ServiceID,
		SenderClientID: d.SenderClientID,
		ShipmentID:     shipmentID,
		Parcels:        parcels,
	}
}

func toTokenParcels(in []carrier.Parcel) []token.Parcel {
	out := make([]token.Parcel, len(in))
	for i, p := range in {
		out[i] = token.Parcel{ID: p.ID}
	}
	return out
}

func toCarrierParcels(in []token.Parcel) []carrier.Parcel {
	out := make([]carrier.Parcel, len(in))
	for i, p := range in {
		out[i] = carrier.Parcel{ID: p.ID}
	}
	return out
}
