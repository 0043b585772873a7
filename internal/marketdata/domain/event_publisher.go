package domain

import "context"

// KlineEvent 对外下发的 K 线快照
type KlineEvent struct {
	Symbol      string `json:"symbol"`
	Interval    string `json:"interval"`
	OpenTime    int64  `json:"open_time"`
	CloseTime   int64  `json:"close_time"`
	Open        string `json:"open"`
	High        string `json:"high"`
	Low         string `json:"low"`
	Close       string `json:"close"`
	Volume      string `json:"volume"`
	QuoteVolume string `json:"quote_volume"`
	TradeCount  int64  `json:"trade_count"`
	// 收盘扫描发布最终快照时为 true
	IsFinal bool `json:"is_final"`
}

// NewKlineEvent 由 K 线构造事件快照
func NewKlineEvent(k *Kline, isFinal bool) KlineEvent {
	return KlineEvent{
		Symbol:      k.Symbol,
		Interval:    string(k.Interval),
		OpenTime:    k.OpenTime.UnixMilli(),
		CloseTime:   k.CloseTime.UnixMilli(),
		Open:        k.Open.String(),
		High:        k.High.String(),
		Low:         k.Low.String(),
		Close:       k.Close.String(),
		Volume:      k.Volume.String(),
		QuoteVolume: k.QuoteVolume.String(),
		TradeCount:  k.TradeCount,
		IsFinal:     isFinal,
	}
}

// EventPublisher K 线更新的下发接口。发布尽力而为，失败不得中断折叠。
type EventPublisher interface {
	PublishKline(ctx context.Context, event KlineEvent) error
}
