package domain

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	orderdomain "github.com/coinflow/spotexchange/internal/order/domain"
	"github.com/coinflow/spotexchange/pkg/idgen"
)

// MatchResult 一轮内存撮合的产出
type MatchResult struct {
	// 按生成顺序排列的成交列表
	Trades []*Trade
	// 实际发生变更的订单（成交量/状态已更新）
	TouchedOrders []*orderdomain.Order
}

// SortBuyBook 按 价格降序、创建时间升序、ID 升序 排序买盘。
// 与存储层的排序键一致，重放时保证确定性。
func SortBuyBook(orders []*orderdomain.Order) {
	sort.SliceStable(orders, func(i, j int) bool {
		a, b := orders[i], orders[j]
		if !a.Price.Equal(b.Price) {
			return a.Price.GreaterThan(b.Price)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.OrderID < b.OrderID
	})
}

// SortSellBook 按 价格升序、创建时间升序、ID 升序 排序卖盘
func SortSellBook(orders []*orderdomain.Order) {
	sort.SliceStable(orders, func(i, j int) bool {
		a, b := orders[i], orders[j]
		if !a.Price.Equal(b.Price) {
			return a.Price.LessThan(b.Price)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.OrderID < b.OrderID
	})
}

// MatchOrders 对一个批次快照执行价格-时间优先撮合。
// 入参订单会被就地更新（成交量与状态）；两侧在撮合前重新排序，
// 因此对同一快照的两次执行产出完全相同的成交序列。
//
// 成交价取静止卖单的委托价；买方视为 taker（IsBuyerMaker 恒为 false）。
func MatchOrders(buys, sells []*orderdomain.Order, now time.Time) (*MatchResult, error) {
	SortBuyBook(buys)
	SortSellBook(sells)

	result := &MatchResult{}
	touched := make(map[string]*orderdomain.Order)

	for _, buy := range buys {
		if !buy.RemainingQuantity().IsPositive() {
			continue
		}
		for _, sell := range sells {
			if !sell.RemainingQuantity().IsPositive() {
				continue
			}
			// 卖盘价格升序：最便宜的卖单都高于买价时，后续更贵的也不可能成交
			if buy.Price.LessThan(sell.Price) {
				break
			}

			qty := decimal.Min(buy.RemainingQuantity(), sell.RemainingQuantity())
			trade := &Trade{
				TradeID:      idgen.TradeID(),
				Symbol:       buy.Symbol,
				BuyOrderID:   buy.OrderID,
				SellOrderID:  sell.OrderID,
				BuyUserID:    buy.UserID,
				SellUserID:   sell.UserID,
				Price:        sell.Price,
				Quantity:     qty,
				IsBuyerMaker: false,
				CreatedAt:    now,
			}

			if err := buy.Fill(qty, now); err != nil {
				return nil, err
			}
			if err := sell.Fill(qty, now); err != nil {
				return nil, err
			}

			result.Trades = append(result.Trades, trade)
			touched[buy.OrderID] = buy
			touched[sell.OrderID] = sell

			if !buy.RemainingQuantity().IsPositive() {
				break
			}
		}
	}

	// 保持确定性的回写顺序：先买后卖，各自按盘口顺序
	for _, o := range buys {
		if _, ok := touched[o.OrderID]; ok {
			result.TouchedOrders = append(result.TouchedOrders, o)
		}
	}
	for _, o := range sells {
		if _, ok := touched[o.OrderID]; ok {
			result.TouchedOrders = append(result.TouchedOrders, o)
		}
	}

	return result, nil
}
