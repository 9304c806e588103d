// Package orchestrator sequences a checkout into invoice issuance, the
// ledger write and notification dispatch. Every step degrades
// independently: the only hard failures are invalid inputs, and a partial
// result is a valid, expected return shape.
package orchestrator

import (
	"context"
	"fmt"
	"log"

	"github.com/shopspring/decimal"

	"github.com/ddobroiu/prynt-sub001/internal/invoice"
	"github.com/ddobroiu/prynt-sub001/internal/ledger"
	"github.com/ddobroiu/prynt-sub001/internal/metrics"
	"github.com/ddobroiu/prynt-sub001/internal/notify"
	"github.com/ddobroiu/prynt-sub001/internal/order"
	"github.com/ddobroiu/prynt-sub001/internal/token"
)

// ---------------------------------------------------------------------------
// Input / Result
// ---------------------------------------------------------------------------

type Input struct {
	Cart            []order.CartItem
	ShippingFee     decimal.Decimal
	PaymentType     string
	ShippingAddress order.Address
	Billing         order.BillingProfile
	Attribution     map[string]string
	CustomerID      string
}

// Result reports whatever the steps produced; absent fields mean the
// corresponding step degraded, not that the order failed.
type Result struct {
	InvoiceLink *string `json:"invoice_link"`
	OrderNo     *int64  `json:"order_no,omitempty"`
	OrderID     *string `json:"order_id,omitempty"`
}

// ---------------------------------------------------------------------------
// Orchestrator
// ---------------------------------------------------------------------------

type Orchestrator struct {
	Ledger   ledger.Ledger
	Invoices *invoice.Client // nil when invoicing is not configured
	Mailer   *notify.Dispatcher
	Codec    *token.Codec

	// Quick-action links are only embedded when a carrier is configured.
	CarrierConfigured bool
	ServiceID         int
	SenderClientID    string
	BaseURL           string
}

func (f *Orchestrator) FulfillOrder(ctx context.Context, in Input) (Result, error) {
	pay, err := order.ParsePaymentType(in.PaymentType)
	if err != nil {
		return Result{}, err
	}
	items := order.NormalizeItems(in.Cart)
	if len(items) == 0 {
		return Result{}, fmt.Errorf("order has no items")
	}

	o := order.New(items, in.ShippingFee, pay, in.ShippingAddress, in.Billing)
	o.Attribution = in.Attribution
	o.CustomerID = in.CustomerID
	metrics.OrdersPlaced.WithLabelValues(string(pay)).Inc()

	var res Result

	// Invoice auto-issuance is an individual-customer convenience;
	// corporate billing is issued manually by an operator later.
	if f.Invoices != nil && in.Billing.IsIndividual() {
		link, err := f.Invoices.CreateInvoice(ctx, f.invoiceRequest(o))
		if err != nil {
			log.Printf("warn: invoice issuance failed for order %s: %v", o.ID, err)
			metrics.InvoiceIssuance.WithLabelValues("error").Inc()
		} else {
			o.InvoiceLink = link
			res.InvoiceLink = &link
			metrics.InvoiceIssuance.WithLabelValues("ok").Inc()
		}
	}

	stored, err := f.Ledger.AppendOrder(ctx, o)
	if err != nil {
		log.Printf("warn: ledger write failed for order %s, continuing without order number: %v", o.ID, err)
		metrics.LedgerWrites.WithLabelValues("error").Inc()
	} else {
		o = stored
		res.OrderNo = &stored.OrderNo
		res.OrderID = &stored.ID
		metrics.LedgerWrites.WithLabelValues("ok").Inc()
	}

	if f.Mailer != nil {
		actions := f.quickActions(o)
		if err := f.Mailer.SendAdminOrderEmail(o, o.InvoiceLink, actions); err != nil {
			log.Printf("warn: admin order e-mail failed for order %s: %v", o.ID, err)
			metrics.Notifications.WithLabelValues("admin_order", "error").Inc()
		} else {
			metrics.Notifications.WithLabelValues("admin_order", "ok").Inc()
		}
		if err := f.Mailer.SendCustomerOrderConfirmation(o, o.InvoiceLink); err != nil {
			log.Printf("warn: customer confirmation e-mail failed for order %s: %v", o.ID, err)
			metrics.Notifications.WithLabelValues("customer_order", "error").Inc()
		} else {
			metrics.Notifications.WithLabelValues("customer_order", "ok").Inc()
		}
	}

	return res, nil
}

// ---------------------------------------------------------------------------
// Step inputs
// ---------------------------------------------------------------------------

func (f *Orchestrator) invoiceRequest(o order.Order) invoice.Request {
	lines := make([]invoice.Line, 0, len(o.Items)+1)
	vat := decimal.Zero
	if f.Invoices != nil {
		vat = f.Invoices.VATRate
	}
	for _, it := range o.Items {
		lines = append(lines, invoice.Line{
			Name:      it.Name,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
			VATRate:   vat,
		})
	}
	if o.ShippingFee.IsPositive() {
		lines = append(lines, invoice.Line{Name: "Shipping", Quantity: 1, UnitPrice: o.ShippingFee, VATRate: vat})
	}
	return invoice.Request{
		CIF:           o.Billing.CIF,
		ClientName:    o.Billing.Name,
		ClientAddress: o.Billing.Address,
		IssueDate:     o.CreatedAt,
		Lines:         lines,
	}
}

// quickActions signs fresh confirm and edit tokens for the admin mail.
func (f *Orchestrator) quickActions(o order.Order) []notify.QuickAction {
	if !f.CarrierConfigured || f.Codec == nil {
		return nil
	}
	details := token.ShipmentDetails{
		Address:        o.ShippingAddress,
		PaymentType:    o.PaymentType,
		TotalAmount:    o.Total,
		ServiceID:      f.ServiceID,
		SenderClientID: f.SenderClientID,
	}
	var actions []notify.QuickAction
	if tok, err := f.Codec.Sign(token.ConfirmAWB{ShipmentDetails: details}); err == nil {
		actions = append(actions, notify.QuickAction{Label: "Create AWB and notify customer", URL: f.actionURL(tok)})
	} else {
		log.Printf("warn: signing confirm token for order %s: %v", o.ID, err)
	}
	if tok, err := f.Codec.Sign(token.Edit{ShipmentDetails: details}); err == nil {
		actions = append(actions, notify.QuickAction{Label: "Edit shipment details", URL: f.actionURL(tok)})
	} else {
		log.Printf("warn: signing edit token for order %s: %v", o.ID, err)
	}
	return actions
}

func (f *Orchestrator) actionURL(tok string) string {
	return f.BaseURL + "/admin/awb-action?token=" + tok
}
