package application

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coinflow/spotexchange/internal/marketdata/domain"
	"github.com/coinflow/spotexchange/pkg/metrics"
)

// fakeKlineRepo 内存 K 线仓储
type fakeKlineRepo struct {
	buckets map[string]*domain.Kline
	upserts int
}

func newFakeKlineRepo() *fakeKlineRepo {
	return &fakeKlineRepo{buckets: make(map[string]*domain.Kline)}
}

func bucketKey(symbol string, interval domain.Interval, open time.Time) string {
	return fmt.Sprintf("%s|%s|%d", symbol, interval, open.UnixMilli())
}

func (r *fakeKlineRepo) Upsert(_ context.Context, k *domain.Kline) error {
	copied := *k
	r.buckets[bucketKey(k.Symbol, k.Interval, k.OpenTime)] = &copied
	r.upserts++
	return nil
}

func (r *fakeKlineRepo) Get(_ context.Context, symbol string, interval domain.Interval, open time.Time) (*domain.Kline, error) {
	k, ok := r.buckets[bucketKey(symbol, interval, open)]
	if !ok {
		return nil, nil
	}
	copied := *k
	return &copied, nil
}

func (r *fakeKlineRepo) Range(_ context.Context, symbol string, interval domain.Interval, start, end time.Time, _ int) ([]*domain.Kline, error) {
	var out []*domain.Kline
	for _, k := range r.buckets {
		if k.Symbol == symbol && k.Interval == interval && !k.OpenTime.Before(start) && !k.OpenTime.After(end) {
			copied := *k
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *fakeKlineRepo) Latest(_ context.Context, symbol string, interval domain.Interval, _ int) ([]*domain.Kline, error) {
	var latest *domain.Kline
	for _, k := range r.buckets {
		if k.Symbol != symbol || k.Interval != interval {
			continue
		}
		if latest == nil || k.OpenTime.After(latest.OpenTime) {
			latest = k
		}
	}
	if latest == nil {
		return nil, nil
	}
	copied := *latest
	return []*domain.Kline{&copied}, nil
}

type fakeTradeReader struct {
	ticks []domain.TradeTick
}

func (r *fakeTradeReader) GetTradesByTimeRange(_ context.Context, symbol string, start, end time.Time) ([]domain.TradeTick, error) {
	var out []domain.TradeTick
	for _, tk := range r.ticks {
		if tk.Symbol == symbol && !tk.CreatedAt.Before(start) && !tk.CreatedAt.After(end) {
			out = append(out, tk)
		}
	}
	return out, nil
}

type fakeSymbolLister struct {
	symbols []string
}

func (l *fakeSymbolLister) ListActiveSymbols(context.Context) ([]string, error) {
	return l.symbols, nil
}

type fakeKlinePublisher struct {
	events []domain.KlineEvent
}

func (p *fakeKlinePublisher) PublishKline(_ context.Context, e domain.KlineEvent) error {
	p.events = append(p.events, e)
	return nil
}

func serviceTick(id, price, qty string, at time.Time) domain.TradeTick {
	p, _ := decimal.NewFromString(price)
	q, _ := decimal.NewFromString(qty)
	return domain.TradeTick{TradeID: id, Symbol: "BTCUSDT", Price: p, Quantity: q, CreatedAt: at}
}

func newTestService(repo *fakeKlineRepo, reader *fakeTradeReader, lister *fakeSymbolLister, pub *fakeKlinePublisher) *KlineService {
	return NewKlineService(repo, nil, reader, lister, pub, metrics.New("kline_test"), slog.Default(), true)
}

func TestHandleTradeFoldsAllIntervals(t *testing.T) {
	t.Parallel()

	repo := newFakeKlineRepo()
	pub := &fakeKlinePublisher{}
	service := newTestService(repo, &fakeTradeReader{}, &fakeSymbolLister{}, pub)

	at := time.Date(2025, 6, 4, 14, 37, 30, 0, time.UTC)
	if err := service.HandleTrade(context.Background(), serviceTick("t1", "100", "2", at)); err != nil {
		t.Fatalf("HandleTrade: %v", err)
	}

	if len(repo.buckets) != len(domain.SupportedIntervals) {
		t.Fatalf("expected %d buckets, got %d", len(domain.SupportedIntervals), len(repo.buckets))
	}
	if len(pub.events) != len(domain.SupportedIntervals) {
		t.Fatalf("expected %d published snapshots, got %d", len(domain.SupportedIntervals), len(pub.events))
	}
	for _, e := range pub.events {
		if e.IsFinal {
			t.Errorf("incremental fold must not publish final snapshots: %+v", e)
		}
	}

	// 每个周期的桶都必须对齐且首笔成交即 OHLC
	for _, interval := range domain.SupportedIntervals {
		open, _ := interval.AlignBucket(at)
		k, err := repo.Get(context.Background(), "BTCUSDT", interval, open)
		if err != nil || k == nil {
			t.Fatalf("missing bucket for %s", interval)
		}
		if !k.Open.Equal(k.High) || !k.Open.Equal(k.Low) || !k.Open.Equal(k.Close) {
			t.Errorf("%s: first-trade OHLC must be flat, got %+v", interval, k)
		}
		if k.TradeCount != 1 {
			t.Errorf("%s: trade count = %d", interval, k.TradeCount)
		}
	}
}

func TestHandleTradeIncrementalFold(t *testing.T) {
	t.Parallel()

	repo := newFakeKlineRepo()
	service := newTestService(repo, &fakeTradeReader{}, &fakeSymbolLister{}, &fakeKlinePublisher{})

	base := time.Date(2025, 6, 4, 14, 37, 0, 0, time.UTC)
	ctx := context.Background()
	for i, spec := range []struct{ price, qty string }{{"10", "1"}, {"12", "2"}, {"9", "1"}} {
		tk := serviceTick(fmt.Sprintf("t%d", i+1), spec.price, spec.qty, base.Add(time.Duration(i+1)*time.Second))
		if err := service.HandleTrade(ctx, tk); err != nil {
			t.Fatalf("HandleTrade: %v", err)
		}
	}

	k, err := repo.Get(ctx, "BTCUSDT", domain.Interval1m, base)
	if err != nil || k == nil {
		t.Fatal("missing 1m bucket")
	}
	if k.Open.String() != "10" || k.High.String() != "12" || k.Low.String() != "9" || k.Close.String() != "9" {
		t.Errorf("OHLC = %s/%s/%s/%s", k.Open, k.High, k.Low, k.Close)
	}
	if k.Volume.String() != "4" || k.QuoteVolume.String() != "43" || k.TradeCount != 3 {
		t.Errorf("volume=%s quote=%s count=%d", k.Volume, k.QuoteVolume, k.TradeCount)
	}
}

func TestCloseOutSweep(t *testing.T) {
	t.Parallel()

	repo := newFakeKlineRepo()
	pub := &fakeKlinePublisher{}
	lister := &fakeSymbolLister{symbols: []string{"BTCUSDT", "ETHUSDT"}}
	service := newTestService(repo, &fakeTradeReader{}, lister, pub)

	// 上一个 1m 桶内只有 BTCUSDT 有成交
	prevOpen := time.Date(2025, 6, 4, 14, 36, 0, 0, time.UTC)
	service.HandleTrade(context.Background(), serviceTick("t1", "100", "1", prevOpen.Add(time.Second)))
	pub.events = nil
	upsertsBefore := repo.upserts

	now := prevOpen.Add(time.Minute + 2*time.Second)
	if err := service.CloseOutSweep(context.Background(), domain.Interval1m, now); err != nil {
		t.Fatalf("CloseOutSweep: %v", err)
	}

	if len(pub.events) != 1 {
		t.Fatalf("expected one final snapshot, got %d", len(pub.events))
	}
	if !pub.events[0].IsFinal || pub.events[0].Symbol != "BTCUSDT" {
		t.Errorf("unexpected sweep event: %+v", pub.events[0])
	}
	// 无成交的交易对不得产生写入
	if repo.upserts != upsertsBefore {
		t.Errorf("sweep must not write: upserts %d -> %d", upsertsBefore, repo.upserts)
	}

	// 幂等：重复执行产生同样的发布，且仍不写库
	if err := service.CloseOutSweep(context.Background(), domain.Interval1m, now); err != nil {
		t.Fatalf("second CloseOutSweep: %v", err)
	}
	if len(pub.events) != 2 || repo.upserts != upsertsBefore {
		t.Errorf("sweep not idempotent: events=%d upserts=%d", len(pub.events), repo.upserts)
	}
}

func TestGenerateKline(t *testing.T) {
	t.Parallel()

	open := time.Date(2025, 6, 4, 14, 37, 0, 0, time.UTC)
	reader := &fakeTradeReader{ticks: []domain.TradeTick{
		serviceTick("t1", "10", "1", open.Add(time.Second)),
		serviceTick("t2", "12", "2", open.Add(2*time.Second)),
		serviceTick("t3", "9", "1", open.Add(3*time.Second)),
	}}
	repo := newFakeKlineRepo()
	service := newTestService(repo, reader, &fakeSymbolLister{}, &fakeKlinePublisher{})

	ctx := context.Background()
	end := open.Add(time.Minute - time.Millisecond)

	k, err := service.GenerateKline(ctx, "BTCUSDT", domain.Interval1m, open, end)
	if err != nil {
		t.Fatalf("GenerateKline: %v", err)
	}
	if k == nil || k.Volume.String() != "4" || k.QuoteVolume.String() != "43" || k.TradeCount != 3 {
		t.Errorf("regenerated bucket wrong: %+v", k)
	}

	// 与桶不对齐的窗口拒绝
	if _, err := service.GenerateKline(ctx, "BTCUSDT", domain.Interval1m, open.Add(time.Second), end); err == nil {
		t.Error("expected error for misaligned window")
	}
	// 跨桶的窗口拒绝
	if _, err := service.GenerateKline(ctx, "BTCUSDT", domain.Interval1m, open, open.Add(2*time.Minute)); err == nil {
		t.Error("expected error for window spanning buckets")
	}

	// 窗口内无成交时不产生写入
	emptyOpen := open.Add(10 * time.Minute)
	upsertsBefore := repo.upserts
	k, err = service.GenerateKline(ctx, "BTCUSDT", domain.Interval1m, emptyOpen, emptyOpen.Add(time.Minute-time.Millisecond))
	if err != nil || k != nil {
		t.Errorf("empty window: k=%+v err=%v", k, err)
	}
	if repo.upserts != upsertsBefore {
		t.Error("empty window must not write")
	}
}

func TestGetLatestKlineFallsBackToStore(t *testing.T) {
	t.Parallel()

	repo := newFakeKlineRepo()
	service := newTestService(repo, &fakeTradeReader{}, &fakeSymbolLister{}, &fakeKlinePublisher{})

	at := time.Date(2025, 6, 4, 14, 37, 30, 0, time.UTC)
	service.HandleTrade(context.Background(), serviceTick("t1", "100", "1", at))

	k, err := service.GetLatestKline(context.Background(), "BTCUSDT", domain.Interval1m)
	if err != nil || k == nil {
		t.Fatalf("GetLatestKline: k=%v err=%v", k, err)
	}
	open, _ := domain.Interval1m.AlignBucket(at)
	if !k.OpenTime.Equal(open) {
		t.Errorf("open time = %s, want %s", k.OpenTime, open)
	}

	k, err = service.GetLatestKline(context.Background(), "NOPEUSDT", domain.Interval1m)
	if err != nil || k != nil {
		t.Errorf("missing symbol: k=%v err=%v", k, err)
	}
}
