package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

var fillTime = time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

func newFillOrder(qty int64) *Order {
	return NewOrder("o1", "u1", "BTCUSDT", OrderSideBuy, OrderTypeLimit,
		decimal.NewFromInt(100), decimal.NewFromInt(qty), TimeInForceGTC, fillTime)
}

func TestFillTransitions(t *testing.T) {
	t.Parallel()

	o := newFillOrder(5)

	if err := o.Fill(decimal.NewFromInt(2), fillTime); err != nil {
		t.Fatalf("first fill: %v", err)
	}
	if o.Status != OrderStatusPartiallyFilled || !o.IsWorking {
		t.Errorf("after partial fill: status=%s working=%v", o.Status, o.IsWorking)
	}
	if !o.RemainingQuantity().Equal(decimal.NewFromInt(3)) {
		t.Errorf("remaining = %s, want 3", o.RemainingQuantity())
	}

	if err := o.Fill(decimal.NewFromInt(3), fillTime); err != nil {
		t.Fatalf("final fill: %v", err)
	}
	if o.Status != OrderStatusFilled || o.IsWorking {
		t.Errorf("after full fill: status=%s working=%v", o.Status, o.IsWorking)
	}
	if !o.IsFilled() {
		t.Error("IsFilled must be true")
	}
}

func TestFillOverfillIsInvariantViolation(t *testing.T) {
	t.Parallel()

	o := newFillOrder(5)
	if err := o.Fill(decimal.NewFromInt(6), fillTime); !IsInvariantViolation(err) {
		t.Fatalf("expected invariant violation, got %v", err)
	}
	// 失败的 Fill 不得产生部分效果
	if !o.ExecutedQuantity.IsZero() || o.Status != OrderStatusNew {
		t.Errorf("failed fill mutated order: executed=%s status=%s", o.ExecutedQuantity, o.Status)
	}

	if err := o.Fill(decimal.Zero, fillTime); !IsInvariantViolation(err) {
		t.Errorf("expected invariant violation for zero fill, got %v", err)
	}
}

func TestStatusIsTerminal(t *testing.T) {
	t.Parallel()

	terminal := []OrderStatus{OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected, OrderStatusExpired}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("%s must be terminal", s)
		}
	}
	for _, s := range []OrderStatus{OrderStatusNew, OrderStatusPartiallyFilled} {
		if s.IsTerminal() {
			t.Errorf("%s must not be terminal", s)
		}
	}
}

func TestSymbolValidation(t *testing.T) {
	t.Parallel()

	sym := &Symbol{
		Symbol:   "BTCUSDT",
		TickSize: decimal.RequireFromString("0.01"),
		StepSize: decimal.RequireFromString("0.001"),
		MinPrice: decimal.RequireFromString("1"),
		MaxPrice: decimal.RequireFromString("100000"),
		MinQty:   decimal.RequireFromString("0.001"),
		MaxQty:   decimal.RequireFromString("100"),
		IsActive: true,
	}

	if err := sym.ValidatePrice(decimal.RequireFromString("50000.01")); err != nil {
		t.Errorf("valid price rejected: %v", err)
	}
	if err := sym.ValidatePrice(decimal.RequireFromString("50000.005")); !IsValidation(err) {
		t.Errorf("off-tick price accepted: %v", err)
	}
	if err := sym.ValidatePrice(decimal.RequireFromString("200000")); !IsValidation(err) {
		t.Errorf("out-of-range price accepted: %v", err)
	}
	if err := sym.ValidateQuantity(decimal.RequireFromString("0.5")); err != nil {
		t.Errorf("valid quantity rejected: %v", err)
	}
	if err := sym.ValidateQuantity(decimal.RequireFromString("0.0005")); !IsValidation(err) {
		t.Errorf("off-step quantity accepted: %v", err)
	}
}
