// Package lots implements the FIFO inventory primitive underlying the
// realized-basis engine: per-key ordered queues of open lots, consumed
// oldest-first.
package lots

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrNegativeQuantity is returned when a caller asks to consume a
// negative quantity.
var ErrNegativeQuantity = errors.New("lots: negative consumption quantity")

// Epsilon is the effectively-zero threshold for quantities.
var Epsilon = decimal.New(1, -12)

// Lot is one chunk of open inventory. UnitBasis is the per-unit cost for
// long lots or the per-unit credit for short lots, with the opening fee
// share already folded in.
type Lot struct {
	OpenedAt    time.Time
	Quantity    decimal.Decimal
	UnitBasis   decimal.Decimal
	Multiplier  int64
	OpenTradeID string
}

// Consumed records one chunk taken off the queue head: a snapshot of the
// source lot plus the quantity taken from it.
type Consumed struct {
	Lot      Lot
	Quantity decimal.Decimal
}

// Queue is the ordered inventory for one pooling key, oldest lot first.
type Queue struct {
	lots []Lot
}

// Push appends a newly opened lot.
func (q *Queue) Push(l Lot) {
	q.lots = append(q.lots, l)
}

// Len returns the number of open lots.
func (q *Queue) Len() int { return len(q.lots) }

// Lots returns the open lots in FIFO order. The slice is shared; callers
// must not mutate it.
func (q *Queue) Lots() []Lot { return q.lots }

// TotalQuantity sums the remaining quantity across all open lots.
func (q *Queue) TotalQuantity() decimal.Decimal {
	total := decimal.Zero
	for i := range q.lots {
		total = total.Add(q.lots[i].Quantity)
	}
	return total
}

// TotalBasis sums quantity times unit basis across all open lots.
func (q *Queue) TotalBasis() decimal.Decimal {
	total := decimal.Zero
	for i := range q.lots {
		total = total.Add(q.lots[i].Quantity.Mul(q.lots[i].UnitBasis))
	}
	return total
}

// Consume takes up to qty from the queue in FIFO order, decrementing the
// head lot and popping it once exhausted. It returns the ordered chunks
// taken and any leftover quantity the inventory could not cover. Lots
// never go negative.
func (q *Queue) Consume(qty decimal.Decimal) ([]Consumed, decimal.Decimal, error) {
	if qty.IsNegative() {
		return nil, decimal.Zero, ErrNegativeQuantity
	}
	var chunks []Consumed
	remaining := qty
	for remaining.GreaterThan(Epsilon) && len(q.lots) > 0 {
		head := &q.lots[0]
		take := decimal.Min(head.Quantity, remaining)
		chunks = append(chunks, Consumed{Lot: *head, Quantity: take})
		head.Quantity = head.Quantity.Sub(take)
		remaining = remaining.Sub(take)
		if head.Quantity.LessThanOrEqual(Epsilon) {
			q.lots = q.lots[1:]
		}
	}
	if remaining.LessThanOrEqual(Epsilon) {
		remaining = decimal.Zero
	}
	return chunks, remaining, nil
}
