package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	orderdomain "github.com/coinflow/spotexchange/internal/order/domain"
)

var baseTime = time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

func newTestOrder(t *testing.T, id string, side orderdomain.OrderSide, price, qty string, createdAt time.Time) *orderdomain.Order {
	t.Helper()
	p, err := decimal.NewFromString(price)
	if err != nil {
		t.Fatalf("bad price %q: %v", price, err)
	}
	q, err := decimal.NewFromString(qty)
	if err != nil {
		t.Fatalf("bad qty %q: %v", qty, err)
	}
	return orderdomain.NewOrder(id, "user-"+id, "BTCUSDT", side, orderdomain.OrderTypeLimit, p, q, orderdomain.TimeInForceGTC, createdAt)
}

func TestMatchOrdersSingleFullCross(t *testing.T) {
	t.Parallel()

	b1 := newTestOrder(t, "b1", orderdomain.OrderSideBuy, "100", "5", baseTime)
	s1 := newTestOrder(t, "s1", orderdomain.OrderSideSell, "99", "5", baseTime.Add(time.Second))

	result, err := MatchOrders([]*orderdomain.Order{b1}, []*orderdomain.Order{s1}, baseTime.Add(2*time.Second))
	if err != nil {
		t.Fatalf("MatchOrders: %v", err)
	}

	if len(result.Trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(result.Trades))
	}
	trade := result.Trades[0]
	if trade.BuyOrderID != "b1" || trade.SellOrderID != "s1" {
		t.Errorf("wrong counterparties: %s/%s", trade.BuyOrderID, trade.SellOrderID)
	}
	if !trade.Price.Equal(decimal.NewFromInt(99)) {
		t.Errorf("expected execution at resting sell price 99, got %s", trade.Price)
	}
	if !trade.Quantity.Equal(decimal.NewFromInt(5)) {
		t.Errorf("expected qty 5, got %s", trade.Quantity)
	}
	if trade.IsBuyerMaker {
		t.Error("buyer must be taker")
	}

	if b1.Status != orderdomain.OrderStatusFilled || !b1.ExecutedQuantity.Equal(decimal.NewFromInt(5)) {
		t.Errorf("buy order not filled: status=%s executed=%s", b1.Status, b1.ExecutedQuantity)
	}
	if s1.Status != orderdomain.OrderStatusFilled || !s1.ExecutedQuantity.Equal(decimal.NewFromInt(5)) {
		t.Errorf("sell order not filled: status=%s executed=%s", s1.Status, s1.ExecutedQuantity)
	}
	if len(result.TouchedOrders) != 2 {
		t.Errorf("expected 2 touched orders, got %d", len(result.TouchedOrders))
	}
}

func TestMatchOrdersTimePriorityTieBreak(t *testing.T) {
	t.Parallel()

	s1 := newTestOrder(t, "s1", orderdomain.OrderSideSell, "100", "1", baseTime)
	s2 := newTestOrder(t, "s2", orderdomain.OrderSideSell, "100", "1", baseTime.Add(time.Second))
	b1 := newTestOrder(t, "b1", orderdomain.OrderSideBuy, "100", "1", baseTime.Add(2*time.Second))

	// 故意乱序传入，排序必须恢复时间优先
	result, err := MatchOrders([]*orderdomain.Order{b1}, []*orderdomain.Order{s2, s1}, baseTime.Add(3*time.Second))
	if err != nil {
		t.Fatalf("MatchOrders: %v", err)
	}

	if len(result.Trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(result.Trades))
	}
	if result.Trades[0].SellOrderID != "s1" {
		t.Errorf("expected earlier sell s1 to match first, got %s", result.Trades[0].SellOrderID)
	}
	if s2.Status != orderdomain.OrderStatusNew || !s2.ExecutedQuantity.IsZero() {
		t.Errorf("s2 must be untouched: status=%s executed=%s", s2.Status, s2.ExecutedQuantity)
	}
}

func TestMatchOrdersIDTieBreak(t *testing.T) {
	t.Parallel()

	// 相同价格、相同创建时间：ID 升序决定先后
	s1 := newTestOrder(t, "s-aaa", orderdomain.OrderSideSell, "100", "1", baseTime)
	s2 := newTestOrder(t, "s-bbb", orderdomain.OrderSideSell, "100", "1", baseTime)
	b1 := newTestOrder(t, "b1", orderdomain.OrderSideBuy, "100", "1", baseTime)

	result, err := MatchOrders([]*orderdomain.Order{b1}, []*orderdomain.Order{s2, s1}, baseTime)
	if err != nil {
		t.Fatalf("MatchOrders: %v", err)
	}
	if len(result.Trades) != 1 || result.Trades[0].SellOrderID != "s-aaa" {
		t.Fatalf("expected s-aaa to match first, got %+v", result.Trades)
	}
}

func TestMatchOrdersPartialFillCascade(t *testing.T) {
	t.Parallel()

	s1 := newTestOrder(t, "s1", orderdomain.OrderSideSell, "100", "2", baseTime)
	s2 := newTestOrder(t, "s2", orderdomain.OrderSideSell, "101", "3", baseTime.Add(time.Second))
	b1 := newTestOrder(t, "b1", orderdomain.OrderSideBuy, "101", "4", baseTime.Add(2*time.Second))

	result, err := MatchOrders([]*orderdomain.Order{b1}, []*orderdomain.Order{s1, s2}, baseTime.Add(3*time.Second))
	if err != nil {
		t.Fatalf("MatchOrders: %v", err)
	}

	if len(result.Trades) != 2 {
		t.Fatalf("expected 2 trades, got %d", len(result.Trades))
	}
	first, second := result.Trades[0], result.Trades[1]
	if first.SellOrderID != "s1" || !first.Price.Equal(decimal.NewFromInt(100)) || !first.Quantity.Equal(decimal.NewFromInt(2)) {
		t.Errorf("first trade wrong: seller=%s price=%s qty=%s", first.SellOrderID, first.Price, first.Quantity)
	}
	if second.SellOrderID != "s2" || !second.Price.Equal(decimal.NewFromInt(101)) || !second.Quantity.Equal(decimal.NewFromInt(2)) {
		t.Errorf("second trade wrong: seller=%s price=%s qty=%s", second.SellOrderID, second.Price, second.Quantity)
	}

	if b1.Status != orderdomain.OrderStatusFilled || !b1.ExecutedQuantity.Equal(decimal.NewFromInt(4)) {
		t.Errorf("b1: status=%s executed=%s", b1.Status, b1.ExecutedQuantity)
	}
	if s1.Status != orderdomain.OrderStatusFilled {
		t.Errorf("s1 must be FILLED, got %s", s1.Status)
	}
	if s2.Status != orderdomain.OrderStatusPartiallyFilled || !s2.RemainingQuantity().Equal(decimal.NewFromInt(1)) {
		t.Errorf("s2: status=%s remaining=%s", s2.Status, s2.RemainingQuantity())
	}
}

func TestMatchOrdersNonCross(t *testing.T) {
	t.Parallel()

	b1 := newTestOrder(t, "b1", orderdomain.OrderSideBuy, "99", "1", baseTime)
	s1 := newTestOrder(t, "s1", orderdomain.OrderSideSell, "100", "1", baseTime)

	result, err := MatchOrders([]*orderdomain.Order{b1}, []*orderdomain.Order{s1}, baseTime)
	if err != nil {
		t.Fatalf("MatchOrders: %v", err)
	}
	if len(result.Trades) != 0 || len(result.TouchedOrders) != 0 {
		t.Fatalf("expected no activity, got %d trades %d touched", len(result.Trades), len(result.TouchedOrders))
	}
	if b1.Status != orderdomain.OrderStatusNew || s1.Status != orderdomain.OrderStatusNew {
		t.Errorf("orders must be untouched: b1=%s s1=%s", b1.Status, s1.Status)
	}
}

func TestMatchOrdersExactPriceAndQuantity(t *testing.T) {
	t.Parallel()

	b1 := newTestOrder(t, "b1", orderdomain.OrderSideBuy, "100", "3", baseTime)
	s1 := newTestOrder(t, "s1", orderdomain.OrderSideSell, "100", "3", baseTime)

	result, err := MatchOrders([]*orderdomain.Order{b1}, []*orderdomain.Order{s1}, baseTime)
	if err != nil {
		t.Fatalf("MatchOrders: %v", err)
	}
	if len(result.Trades) != 1 {
		t.Fatalf("expected exactly one trade, got %d", len(result.Trades))
	}
	if b1.Status != orderdomain.OrderStatusFilled || s1.Status != orderdomain.OrderStatusFilled {
		t.Errorf("both sides must be FILLED: b1=%s s1=%s", b1.Status, s1.Status)
	}
}

func TestMatchOrdersBuySmallerThanSell(t *testing.T) {
	t.Parallel()

	b1 := newTestOrder(t, "b1", orderdomain.OrderSideBuy, "100", "1", baseTime)
	s1 := newTestOrder(t, "s1", orderdomain.OrderSideSell, "100", "5", baseTime)

	result, err := MatchOrders([]*orderdomain.Order{b1}, []*orderdomain.Order{s1}, baseTime)
	if err != nil {
		t.Fatalf("MatchOrders: %v", err)
	}
	if len(result.Trades) != 1 {
		t.Fatalf("expected one trade, got %d", len(result.Trades))
	}
	if b1.Status != orderdomain.OrderStatusFilled {
		t.Errorf("buy must be FILLED, got %s", b1.Status)
	}
	if s1.Status != orderdomain.OrderStatusPartiallyFilled || !s1.RemainingQuantity().Equal(decimal.NewFromInt(4)) {
		t.Errorf("sell must be PARTIALLY_FILLED with remaining 4: status=%s remaining=%s", s1.Status, s1.RemainingQuantity())
	}
}

func TestMatchOrdersCheapestSellBreaksLoop(t *testing.T) {
	t.Parallel()

	// 最便宜的卖单都高于买价时，直接跳到下一个买单
	b1 := newTestOrder(t, "b1", orderdomain.OrderSideBuy, "95", "1", baseTime)
	b2 := newTestOrder(t, "b2", orderdomain.OrderSideBuy, "101", "1", baseTime)
	s1 := newTestOrder(t, "s1", orderdomain.OrderSideSell, "100", "1", baseTime)
	s2 := newTestOrder(t, "s2", orderdomain.OrderSideSell, "102", "1", baseTime)

	result, err := MatchOrders([]*orderdomain.Order{b1, b2}, []*orderdomain.Order{s1, s2}, baseTime)
	if err != nil {
		t.Fatalf("MatchOrders: %v", err)
	}
	if len(result.Trades) != 1 {
		t.Fatalf("expected one trade, got %d", len(result.Trades))
	}
	trade := result.Trades[0]
	if trade.BuyOrderID != "b2" || trade.SellOrderID != "s1" {
		t.Errorf("expected b2/s1, got %s/%s", trade.BuyOrderID, trade.SellOrderID)
	}
	if b1.Status != orderdomain.OrderStatusNew {
		t.Errorf("b1 must be untouched, got %s", b1.Status)
	}
}

func TestMatchOrdersDeterministicReplay(t *testing.T) {
	t.Parallel()

	build := func() ([]*orderdomain.Order, []*orderdomain.Order) {
		buys := []*orderdomain.Order{
			newTestOrder(t, "b1", orderdomain.OrderSideBuy, "101", "3", baseTime),
			newTestOrder(t, "b2", orderdomain.OrderSideBuy, "100", "2", baseTime.Add(time.Second)),
			newTestOrder(t, "b3", orderdomain.OrderSideBuy, "101", "1", baseTime.Add(2*time.Second)),
		}
		sells := []*orderdomain.Order{
			newTestOrder(t, "s1", orderdomain.OrderSideSell, "100", "2", baseTime),
			newTestOrder(t, "s2", orderdomain.OrderSideSell, "99", "1", baseTime.Add(time.Second)),
			newTestOrder(t, "s3", orderdomain.OrderSideSell, "101", "4", baseTime.Add(2*time.Second)),
		}
		return buys, sells
	}

	now := baseTime.Add(time.Minute)
	buys1, sells1 := build()
	first, err := MatchOrders(buys1, sells1, now)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	buys2, sells2 := build()
	second, err := MatchOrders(buys2, sells2, now)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	if len(first.Trades) != len(second.Trades) {
		t.Fatalf("trade count differs: %d vs %d", len(first.Trades), len(second.Trades))
	}
	for i := range first.Trades {
		a, b := first.Trades[i], second.Trades[i]
		if a.BuyOrderID != b.BuyOrderID || a.SellOrderID != b.SellOrderID ||
			!a.Price.Equal(b.Price) || !a.Quantity.Equal(b.Quantity) {
			t.Errorf("trade %d differs: %+v vs %+v", i, a, b)
		}
	}
}

func TestMatchOrdersQuantityConservation(t *testing.T) {
	t.Parallel()

	buys := []*orderdomain.Order{
		newTestOrder(t, "b1", orderdomain.OrderSideBuy, "102", "5", baseTime),
		newTestOrder(t, "b2", orderdomain.OrderSideBuy, "101", "3", baseTime),
	}
	sells := []*orderdomain.Order{
		newTestOrder(t, "s1", orderdomain.OrderSideSell, "100", "4", baseTime),
		newTestOrder(t, "s2", orderdomain.OrderSideSell, "101", "6", baseTime),
	}

	result, err := MatchOrders(buys, sells, baseTime)
	if err != nil {
		t.Fatalf("MatchOrders: %v", err)
	}

	totalTraded := decimal.Zero
	for _, trade := range result.Trades {
		totalTraded = totalTraded.Add(trade.Quantity)
		// 成交价必须落在 [卖价, 买价] 闭区间
		if trade.Price.GreaterThan(decimal.NewFromInt(102)) || trade.Price.LessThan(decimal.NewFromInt(100)) {
			t.Errorf("execution price %s out of cross range", trade.Price)
		}
	}

	buyExecuted := decimal.Zero
	for _, o := range buys {
		if o.ExecutedQuantity.GreaterThan(o.Quantity) {
			t.Errorf("order %s overfilled: %s > %s", o.OrderID, o.ExecutedQuantity, o.Quantity)
		}
		buyExecuted = buyExecuted.Add(o.ExecutedQuantity)
	}
	sellExecuted := decimal.Zero
	for _, o := range sells {
		if o.ExecutedQuantity.GreaterThan(o.Quantity) {
			t.Errorf("order %s overfilled: %s > %s", o.OrderID, o.ExecutedQuantity, o.Quantity)
		}
		sellExecuted = sellExecuted.Add(o.ExecutedQuantity)
	}

	if !buyExecuted.Equal(totalTraded) || !sellExecuted.Equal(totalTraded) {
		t.Errorf("quantity not conserved: trades=%s buys=%s sells=%s", totalTraded, buyExecuted, sellExecuted)
	}
}
