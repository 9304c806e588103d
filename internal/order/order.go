package order

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Payment type
// ---------------------------------------------------------------------------

type PaymentType string

const (
	PaymentCashOnDelivery PaymentType = "cod"
	PaymentCard           PaymentType = "card"
)

// ParsePaymentType accepts the canonical spellings plus the storefront's
// legacy "Ramburs" value for cash on delivery.
func ParsePaymentType(raw string) (PaymentType, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "cod", "ramburs", "cash_on_delivery", "cashondelivery":
		return PaymentCashOnDelivery, nil
	case "card":
		return PaymentCard, nil
	default:
		return "", fmt.Errorf("unknown payment type %q", raw)
	}
}

// ---------------------------------------------------------------------------
// Entity
// ---------------------------------------------------------------------------

type Address struct {
	Name       string `json:"name"`
	Phone      string `json:"phone,omitempty"`
	Email      string `json:"email,omitempty"`
	County     string `json:"county,omitempty"`
	City       string `json:"city"`
	Street     string `json:"street"`
	PostalCode string `json:"postal_code,omitempty"`
}

const (
	BillingIndividual = "individual"
	BillingCompany    = "company"
)

type BillingProfile struct {
	Kind    string `json:"kind"`
	Name    string `json:"name"`
	CIF     string `json:"cif,omitempty"`
	Address string `json:"address,omitempty"`
}

func (b BillingProfile) IsIndividual() bool {
	return strings.ToLower(strings.TrimSpace(b.Kind)) != BillingCompany
}

type OrderItem struct {
	Name      string          `json:"name"`
	Quantity  int64           `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Total     decimal.Decimal `json:"total"`
}

type Order struct {
	ID              string            `json:"id"`
	OrderNo         int64             `json:"order_no,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	PaymentType     PaymentType       `json:"payment_type"`
	ShippingAddress Address           `json:"shipping_address"`
	Billing         BillingProfile    `json:"billing"`
	Items           []OrderItem       `json:"items"`
	ShippingFee     decimal.Decimal   `json:"shipping_fee"`
	Total           decimal.Decimal   `json:"total"`
	InvoiceLink     string            `json:"invoice_link,omitempty"`
	Attribution     map[string]string `json:"attribution,omitempty"`
	CustomerID      string            `json:"customer_id,omitempty"`
}

// ---------------------------------------------------------------------------
// Build / Validate
// ---------------------------------------------------------------------------

// CartItem is the loose line-item shape submitted at checkout. Unit price
// and line total are both optional; whichever is missing is derived.
type CartItem struct {
	Name      string           `json:"name"`
	Quantity  int64            `json:"quantity"`
	UnitPrice *decimal.Decimal `json:"unit_price,omitempty"`
	Total     *decimal.Decimal `json:"total,omitempty"`
}

// NormalizeItems converts cart lines into order items. A line total given
// without a unit price is kept as-is (discounted/fixed totals are allowed),
// with the unit derived for display.
func NormalizeItems(cart []CartItem) []OrderItem {
	items := make([]OrderItem, 0, len(cart))
	for _, ci := range cart {
		qty := ci.Quantity
		if qty <= 0 {
			qty = 1
		}
		it := OrderItem{Name: strings.TrimSpace(ci.Name), Quantity: qty}
		switch {
		case ci.Total != nil && ci.UnitPrice != nil:
			it.UnitPrice = *ci.UnitPrice
			it.Total = *ci.Total
		case ci.UnitPrice != nil:
			it.UnitPrice = *ci.UnitPrice
			it.Total = ci.UnitPrice.Mul(decimal.NewFromInt(qty))
		case ci.Total != nil:
			it.Total = *ci.Total
			it.UnitPrice = ci.Total.Div(decimal.NewFromInt(qty)).Round(2)
		}
		items = append(items, it)
	}
	return items
}

// New assembles an order with a fresh id and a total computed from the
// items plus the shipping fee. OrderNo stays zero until the ledger
// assigns one.
func New(items []OrderItem, fee decimal.Decimal, pay PaymentType, ship Address, billing BillingProfile) Order {
	total := fee
	for _, it := range items {
		total = total.Add(it.Total)
	}
	return Order{
		ID:              "ord_" + uuid.NewString(),
		CreatedAt:       time.Now().UTC(),
		PaymentType:     pay,
		ShippingAddress: ship,
		Billing:         billing,
		Items:           items,
		ShippingFee:     fee,
		Total:           total,
	}
}

// CheckTotals enforces total == sum(item totals) + shipping fee.
func (o Order) CheckTotals() error {
	sum := o.ShippingFee
	for _, it := range o.Items {
		sum = sum.Add(it.Total)
	}
	if !sum.Equal(o.Total) {
		return errors.New("order total does not match item totals plus shipping fee")
	}
	return nil
}
