package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func mustDecimal(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("bad decimal %q: %v", s, err)
	}
	return d
}

func tick(t *testing.T, id, price, qty string, at time.Time) TradeTick {
	t.Helper()
	return TradeTick{
		TradeID:   id,
		Symbol:    "BTCUSDT",
		Price:     mustDecimal(t, price),
		Quantity:  mustDecimal(t, qty),
		CreatedAt: at,
	}
}

func TestAlignBucket(t *testing.T) {
	t.Parallel()

	// 2025-06-04 为周三
	input := time.Date(2025, 6, 4, 14, 37, 23, 456_000_000, time.UTC)

	tests := []struct {
		interval Interval
		wantOpen time.Time
	}{
		{Interval1m, time.Date(2025, 6, 4, 14, 37, 0, 0, time.UTC)},
		{Interval5m, time.Date(2025, 6, 4, 14, 35, 0, 0, time.UTC)},
		{Interval15m, time.Date(2025, 6, 4, 14, 30, 0, 0, time.UTC)},
		{Interval30m, time.Date(2025, 6, 4, 14, 30, 0, 0, time.UTC)},
		{Interval1h, time.Date(2025, 6, 4, 14, 0, 0, 0, time.UTC)},
		{Interval4h, time.Date(2025, 6, 4, 12, 0, 0, 0, time.UTC)},
		{Interval1d, time.Date(2025, 6, 4, 0, 0, 0, 0, time.UTC)},
		{Interval1w, time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)}, // 最近的周一
	}

	for _, tc := range tests {
		tc := tc
		t.Run(string(tc.interval), func(t *testing.T) {
			t.Parallel()
			open, close := tc.interval.AlignBucket(input)
			if !open.Equal(tc.wantOpen) {
				t.Errorf("open = %s, want %s", open, tc.wantOpen)
			}
			wantClose := tc.wantOpen.Add(tc.interval.Duration() - time.Millisecond)
			if !close.Equal(wantClose) {
				t.Errorf("close = %s, want %s", close, wantClose)
			}
		})
	}
}

func TestAlignBucketWeekOnMondayAndSunday(t *testing.T) {
	t.Parallel()

	monday := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)

	// 周一当天属于本周
	open, _ := Interval1w.AlignBucket(monday.Add(5 * time.Hour))
	if !open.Equal(monday) {
		t.Errorf("monday trade: open = %s, want %s", open, monday)
	}

	// 周日仍属于上一个周一开始的那一周
	sunday := time.Date(2025, 6, 8, 23, 59, 59, 0, time.UTC)
	open, _ = Interval1w.AlignBucket(sunday)
	if !open.Equal(monday) {
		t.Errorf("sunday trade: open = %s, want %s", open, monday)
	}
}

func TestAlignBucketBoundaryFallsIntoNextBucket(t *testing.T) {
	t.Parallel()

	// 恰好落在下一个桶的开盘时刻
	boundary := time.Date(2025, 6, 4, 14, 38, 0, 0, time.UTC)
	open, close := Interval1m.AlignBucket(boundary)
	if !open.Equal(boundary) {
		t.Errorf("boundary trade must open the next bucket: open = %s", open)
	}
	if !close.Equal(boundary.Add(time.Minute - time.Millisecond)) {
		t.Errorf("close = %s", close)
	}

	// 桶内最后一毫秒仍属于当前桶
	lastMs := boundary.Add(-time.Millisecond)
	open, _ = Interval1m.AlignBucket(lastMs)
	if !open.Equal(time.Date(2025, 6, 4, 14, 37, 0, 0, time.UTC)) {
		t.Errorf("last-ms trade: open = %s", open)
	}
}

func TestParseInterval(t *testing.T) {
	t.Parallel()

	for _, iv := range SupportedIntervals {
		got, err := ParseInterval(string(iv))
		if err != nil || got != iv {
			t.Errorf("ParseInterval(%q) = %v, %v", iv, got, err)
		}
	}
	if _, err := ParseInterval("3m"); err == nil {
		t.Error("expected error for unsupported interval")
	}
}

func TestKlineFold(t *testing.T) {
	t.Parallel()

	bucket := time.Date(2025, 6, 4, 14, 37, 0, 0, time.UTC)
	ticks := []TradeTick{
		tick(t, "t1", "10", "1", bucket.Add(time.Second)),
		tick(t, "t2", "12", "2", bucket.Add(2*time.Second)),
		tick(t, "t3", "9", "1", bucket.Add(3*time.Second)),
	}

	k := NewKlineFromTick(Interval1m, ticks[0])
	k.Apply(ticks[1])
	k.Apply(ticks[2])

	if !k.OpenTime.Equal(bucket) {
		t.Errorf("open time = %s, want %s", k.OpenTime, bucket)
	}
	if !k.Open.Equal(mustDecimal(t, "10")) || !k.High.Equal(mustDecimal(t, "12")) ||
		!k.Low.Equal(mustDecimal(t, "9")) || !k.Close.Equal(mustDecimal(t, "9")) {
		t.Errorf("OHLC = %s/%s/%s/%s", k.Open, k.High, k.Low, k.Close)
	}
	if !k.Volume.Equal(mustDecimal(t, "4")) {
		t.Errorf("volume = %s, want 4", k.Volume)
	}
	if !k.QuoteVolume.Equal(mustDecimal(t, "43")) {
		t.Errorf("quote volume = %s, want 43", k.QuoteVolume)
	}
	if k.TradeCount != 3 {
		t.Errorf("trade count = %d, want 3", k.TradeCount)
	}
	if k.Low.GreaterThan(k.Open) || k.Low.GreaterThan(k.Close) || k.High.LessThan(k.Open) || k.High.LessThan(k.Close) {
		t.Error("low <= open, close <= high violated")
	}
}

func TestKlineFoldSplitEquivalence(t *testing.T) {
	t.Parallel()

	bucket := time.Date(2025, 6, 4, 14, 0, 0, 0, time.UTC)
	ticks := []TradeTick{
		tick(t, "t1", "100", "1", bucket),
		tick(t, "t2", "103", "2", bucket.Add(10*time.Second)),
		tick(t, "t3", "98", "0.5", bucket.Add(20*time.Second)),
		tick(t, "t4", "101", "3", bucket.Add(30*time.Second)),
		tick(t, "t5", "99", "1.5", bucket.Add(40*time.Second)),
	}

	foldAll := func(ts []TradeTick) *Kline {
		k := NewKlineFromTick(Interval1h, ts[0])
		for _, tk := range ts[1:] {
			k.Apply(tk)
		}
		return k
	}

	whole := foldAll(ticks)
	for split := 1; split < len(ticks); split++ {
		part := foldAll(ticks[:split])
		for _, tk := range ticks[split:] {
			part.Apply(tk)
		}
		if !part.Open.Equal(whole.Open) || !part.High.Equal(whole.High) ||
			!part.Low.Equal(whole.Low) || !part.Close.Equal(whole.Close) ||
			!part.Volume.Equal(whole.Volume) || !part.QuoteVolume.Equal(whole.QuoteVolume) ||
			part.TradeCount != whole.TradeCount {
			t.Errorf("split at %d diverges: %+v vs %+v", split, part, whole)
		}
	}
}
