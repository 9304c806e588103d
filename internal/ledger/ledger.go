// Package ledger is the durable, append-only store of placed orders.
// Order numbers are human-facing, start at 1000 and strictly increase per
// backend instance. The backend is chosen once at process start; business
// code only sees the interface.
package ledger

import (
	"context"
	"errors"

	"github.com/ddobroiu/prynt-sub001/internal/order"
)

var ErrNotFound = errors.New("order not found")

// FirstOrderNo is the number assigned to the first order ever recorded.
const FirstOrderNo = 1000

type Ledger interface {
	// AppendOrder assigns the next order number, persists the order and
	// returns the stored record. The order's totals invariant is checked
	// before anything is written.
	AppendOrder(ctx context.Context, o order.Order) (order.Order, error)
	// ListOrders returns up to limit orders, newest first.
	ListOrders(ctx context.Context, limit int) ([]order.Order, error)
	GetOrder(ctx context.Context, id string) (order.Order, error)
}
