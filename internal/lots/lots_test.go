package lots

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func d(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func day(n int) time.Time {
	return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, n)
}

func TestConsume_TakesOldestFirst(t *testing.T) {
	q := &Queue{}
	q.Push(Lot{OpenedAt: day(0), Quantity: d(100), UnitBasis: d(10), OpenTradeID: "a"})
	q.Push(Lot{OpenedAt: day(1), Quantity: d(50), UnitBasis: d(12), OpenTradeID: "b"})

	chunks, leftover, err := q.Consume(d(120))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !leftover.IsZero() {
		t.Fatalf("leftover = %s, want 0", leftover)
	}
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
	if chunks[0].Lot.OpenTradeID != "a" || !chunks[0].Quantity.Equal(d(100)) {
		t.Errorf("first chunk = %s of %s, want 100 of a", chunks[0].Quantity, chunks[0].Lot.OpenTradeID)
	}
	if chunks[1].Lot.OpenTradeID != "b" || !chunks[1].Quantity.Equal(d(20)) {
		t.Errorf("second chunk = %s of %s, want 20 of b", chunks[1].Quantity, chunks[1].Lot.OpenTradeID)
	}
	if q.Len() != 1 || !q.TotalQuantity().Equal(d(30)) {
		t.Errorf("remaining inventory = %s across %d lots, want 30 across 1", q.TotalQuantity(), q.Len())
	}
}

func TestConsume_PartialHeadStaysInPlace(t *testing.T) {
	q := &Queue{}
	q.Push(Lot{OpenedAt: day(0), Quantity: d(10), UnitBasis: d(5)})

	chunks, leftover, err := q.Consume(d(4))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) != 1 || !leftover.IsZero() {
		t.Fatalf("chunks=%d leftover=%s", len(chunks), leftover)
	}
	if !q.Lots()[0].Quantity.Equal(d(6)) {
		t.Errorf("head quantity = %s, want 6", q.Lots()[0].Quantity)
	}
}

func TestConsume_InsufficientInventoryReturnsLeftover(t *testing.T) {
	q := &Queue{}
	q.Push(Lot{OpenedAt: day(0), Quantity: d(3), UnitBasis: d(1)})

	chunks, leftover, err := q.Consume(d(5))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) != 1 || !chunks[0].Quantity.Equal(d(3)) {
		t.Fatalf("chunks = %+v, want one chunk of 3", chunks)
	}
	if !leftover.Equal(d(2)) {
		t.Errorf("leftover = %s, want 2", leftover)
	}
	if q.Len() != 0 {
		t.Errorf("queue length = %d, want 0", q.Len())
	}
}

func TestConsume_NegativeQuantityRejected(t *testing.T) {
	q := &Queue{}
	if _, _, err := q.Consume(d(-1)); err != ErrNegativeQuantity {
		t.Fatalf("err = %v, want ErrNegativeQuantity", err)
	}
}

func TestConsume_ZeroQuantityNoop(t *testing.T) {
	q := &Queue{}
	q.Push(Lot{OpenedAt: day(0), Quantity: d(7), UnitBasis: d(2)})

	chunks, leftover, err := q.Consume(decimal.Zero)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) != 0 || !leftover.IsZero() {
		t.Fatalf("chunks=%d leftover=%s, want no-op", len(chunks), leftover)
	}
	if !q.TotalQuantity().Equal(d(7)) {
		t.Errorf("inventory changed: %s", q.TotalQuantity())
	}
}

func TestConsume_DustBelowEpsilonPopsLot(t *testing.T) {
	q := &Queue{}
	q.Push(Lot{OpenedAt: day(0), Quantity: d(1), UnitBasis: d(2)})

	_, _, err := q.Consume(decimal.NewFromFloat(1).Sub(decimal.New(1, -13)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.Len() != 0 {
		t.Errorf("dust lot survived, length = %d", q.Len())
	}
}

func TestTotalBasis(t *testing.T) {
	q := &Queue{}
	q.Push(Lot{OpenedAt: day(0), Quantity: d(100), UnitBasis: d(10.01)})
	q.Push(Lot{OpenedAt: day(1), Quantity: d(50), UnitBasis: d(12)})
	if got := q.TotalBasis(); !got.Equal(d(1601)) {
		t.Errorf("TotalBasis = %s, want 1601", got)
	}
}
