package ledger

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/ddobroiu/prynt-sub001/internal/order"
)

// ---------------------------------------------------------------------------
// Journal backend
// ---------------------------------------------------------------------------

// Journal is the fallback ledger for deployments without a database:
// one JSON object per line, appended newest-last, with a sibling counter
// file holding the next order number as plain text.
//
// The read-then-increment sequence is guarded by an in-process mutex, so a
// single process is safe. Two processes sharing the same directory can
// still race; the postgres backend is the answer for that, not this one.
type Journal struct {
	mu          sync.Mutex
	journalPath string
	counterPath string
}

func NewJournal(dir string) (*Journal, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Journal{
		journalPath: filepath.Join(dir, "orders.jsonl"),
		counterPath: filepath.Join(dir, "orderno.txt"),
	}, nil
}

// ---------------------------------------------------------------------------
// Append
// ---------------------------------------------------------------------------

func (j *Journal) AppendOrder(ctx context.Context, o order.Order) (order.Order, error) {
	if err := o.CheckTotals(); err != nil {
		return order.Order{}, err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	no, err := j.nextOrderNo()
	if err != nil {
		return order.Order{}, err
	}
	o.OrderNo = no

	line, err := json.Marshal(o)
	if err != nil {
		return order.Order{}, err
	}
	f, err := os.OpenFile(j.journalPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return order.Order{}, err
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		_ = f.Close()
		return order.Order{}, err
	}
	if err := f.Close(); err != nil {
		return order.Order{}, err
	}

	if err := os.WriteFile(j.counterPath, []byte(strconv.FormatInt(no+1, 10)), 0o644); err != nil {
		return order.Order{}, err
	}
	return o, nil
}

// nextOrderNo reads the counter file, rebuilding it from a journal scan
// when missing (crash recovery / first run).
func (j *Journal) nextOrderNo() (int64, error) {
	raw, err := os.ReadFile(j.counterPath)
	if err == nil {
		n, perr := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
		if perr != nil {
			return 0, fmt.Errorf("corrupt counter file %s: %w", j.counterPath, perr)
		}
		return n, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return 0, err
	}

	orders, err := j.readAll()
	if err != nil {
		return 0, err
	}
	next := int64(FirstOrderNo)
	for _, o := range orders {
		if o.OrderNo >= next {
			next = o.OrderNo + 1
		}
	}
	return next, nil
}

// ---------------------------------------------------------------------------
// Read
// ---------------------------------------------------------------------------

func (j *Journal) ListOrders(ctx context.Context, limit int) ([]order.Order, error) {
	if limit <= 0 {
		limit = 50
	}
	j.mu.Lock()
	orders, err := j.readAll()
	j.mu.Unlock()
	if err != nil {
		return nil, err
	}

	// Newest appended last; serve newest first.
	out := make([]order.Order, 0, limit)
	for i := len(orders) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, orders[i])
	}
	return out, nil
}

func (j *Journal) GetOrder(ctx context.Context, id string) (order.Order, error) {
	j.mu.Lock()
	orders, err := j.readAll()
	j.mu.Unlock()
	if err != nil {
		return order.Order{}, err
	}
	for _, o := range orders {
		if o.ID == id {
			return o, nil
		}
	}
	return order.Order{}, ErrNotFound
}

func (j *Journal) readAll() ([]order.Order, error) {
	f, err := os.Open(j.journalPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var orders []order.Order
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var o order.Order
		if err := json.Unmarshal([]byte(line), &o); err != nil {
			return nil, fmt.Errorf("corrupt journal line: %w", err)
		}
		orders = append(orders, o)
	}
	return orders, sc.Err()
}
