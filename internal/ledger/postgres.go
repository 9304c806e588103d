package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/ddobroiu/prynt-sub001/internal/order"
)

// ---------------------------------------------------------------------------
// DB / Schema
// ---------------------------------------------------------------------------

// Postgres stores orders in a relational table and delegates order-number
// atomicity to the database.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(60)
	db.SetMaxIdleConns(20)
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	p := &Postgres{db: db}
	if err := p.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return p, nil
}

func (p *Postgres) Close() error { return p.db.Close() }

func (p *Postgres) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS print_orders (
			id TEXT PRIMARY KEY,
			order_no BIGINT NOT NULL UNIQUE,
			created_at TIMESTAMPTZ NOT NULL,
			payment_type TEXT NOT NULL,
			shipping_address_json TEXT NOT NULL,
			billing_json TEXT NOT NULL,
			items_json TEXT NOT NULL,
			shipping_fee NUMERIC(18,2) NOT NULL,
			total NUMERIC(18,2) NOT NULL,
			invoice_link TEXT,
			attribution_json TEXT,
			customer_id TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_print_orders_order_no ON print_orders (order_no DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_print_orders_customer ON print_orders (customer_id)`,
	}
	for _, stmt := range stmts {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Append
// ---------------------------------------------------------------------------

func (p *Postgres) AppendOrder(ctx context.Context, o order.Order) (order.Order, error) {
	if err := o.CheckTotals(); err != nil {
		return order.Order{}, err
	}

	addrJSON, err := json.Marshal(o.ShippingAddress)
	if err != nil {
		return order.Order{}, err
	}
	billingJSON, err := json.Marshal(o.Billing)
	if err != nil {
		return order.Order{}, err
	}
	itemsJSON, err := json.Marshal(o.Items)
	if err != nil {
		return order.Order{}, err
	}
	var attrJSON []byte
	if len(o.Attribution) > 0 {
		if attrJSON, err = json.Marshal(o.Attribution); err != nil {
			return order.Order{}, err
		}
	}

	// The number is allocated inside the INSERT itself. Two concurrent
	// writers can still compute the same max; the UNIQUE constraint turns
	// that into a retriable error instead of a duplicate number.
	q := `INSERT INTO print_orders (id, order_no, created_at, payment_type, shipping_address_json, billing_json, items_json, shipping_fee, total, invoice_link, attribution_json, customer_id)
		VALUES ($1, (SELECT COALESCE(MAX(order_no)+1, $2) FROM print_orders), $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING order_no`
	for attempt := 0; ; attempt++ {
		err = p.db.QueryRowContext(ctx, q,
			o.ID, int64(FirstOrderNo), o.CreatedAt, string(o.PaymentType),
			string(addrJSON), string(billingJSON), string(itemsJSON),
			o.ShippingFee.StringFixed(2), o.Total.StringFixed(2),
			nilIfEmpty(o.InvoiceLink), nilIfEmptyBytes(attrJSON), nilIfEmpty(o.CustomerID),
		).Scan(&o.OrderNo)
		if err == nil {
			return o, nil
		}
		if attempt < 2 && strings.Contains(err.Error(), "duplicate key") {
			continue
		}
		return order.Order{}, err
	}
}

// ---------------------------------------------------------------------------
// Read
// ---------------------------------------------------------------------------

const orderColumns = `id, order_no, created_at, payment_type, shipping_address_json, billing_json, items_json, shipping_fee, total, invoice_link, attribution_json, customer_id`

func (p *Postgres) ListOrders(ctx context.Context, limit int) ([]order.Order, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM print_orders ORDER BY order_no DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := make([]order.Order, 0, limit)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func (p *Postgres) GetOrder(ctx context.Context, id string) (order.Order, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM print_orders WHERE id = $1`, id)
	o, err := scanOrder(row)
	if err == sql.ErrNoRows {
		return order.Order{}, ErrNotFound
	}
	return o, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (order.Order, error) {
	var o order.Order
	var pay, addrJSON, billingJSON, itemsJSON, feeStr, totalStr string
	var invoiceLink, attrJSON, customerID sql.NullString
	err := row.Scan(&o.ID, &o.OrderNo, &o.CreatedAt, &pay, &addrJSON, &billingJSON, &itemsJSON,
		&feeStr, &totalStr, &invoiceLink, &attrJSON, &customerID)
	if err != nil {
		return order.Order{}, err
	}
	o.PaymentType = order.PaymentType(pay)
	if err := json.Unmarshal([]byte(addrJSON), &o.ShippingAddress); err != nil {
		return order.Order{}, err
	}
	if err := json.Unmarshal([]byte(billingJSON), &o.Billing); err != nil {
		return order.Order{}, err
	}
	if err := json.Unmarshal([]byte(itemsJSON), &o.Items); err != nil {
		return order.Order{}, err
	}
	if o.ShippingFee, err = decimal.NewFromString(feeStr); err != nil {
		return order.Order{}, err
	}
	if o.Total, err = decimal.NewFromString(totalStr); err != nil {
		return order.Order{}, err
	}
	o.InvoiceLink = invoiceLink.String
	o.CustomerID = customerID.String
	if attrJSON.Valid && attrJSON.String != "" {
		if err := json.Unmarshal([]byte(attrJSON.String), &o.Attribution); err != nil {
			return order.Order{}, err
		}
	}
	return o, nil
}

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nilIfEmptyBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
