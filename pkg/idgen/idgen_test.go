package idgen

import (
	"strings"
	"sync"
	"testing"
)

func TestGenIDUnique(t *testing.T) {
	t.Parallel()

	const perWorker = 1000
	const workers = 8

	var mu sync.Mutex
	seen := make(map[int64]struct{}, perWorker*workers)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids := make([]int64, 0, perWorker)
			for i := 0; i < perWorker; i++ {
				ids = append(ids, GenID())
			}
			mu.Lock()
			defer mu.Unlock()
			for _, id := range ids {
				if _, dup := seen[id]; dup {
					t.Errorf("duplicate id %d", id)
				}
				seen[id] = struct{}{}
			}
		}()
	}
	wg.Wait()

	if len(seen) != perWorker*workers {
		t.Errorf("expected %d unique ids, got %d", perWorker*workers, len(seen))
	}
}

func TestGenIDMonotonic(t *testing.T) {
	t.Parallel()

	prev := GenID()
	for i := 0; i < 100; i++ {
		next := GenID()
		if next <= prev {
			t.Fatalf("id not increasing: %d then %d", prev, next)
		}
		prev = next
	}
}

func TestPrefixedIDs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		prefix string
		gen    func() string
	}{
		{"ORD-", OrderID},
		{"TRD-", TradeID},
		{"JOB-", JobID},
	}
	for _, tc := range tests {
		id := tc.gen()
		if !strings.HasPrefix(id, tc.prefix) {
			t.Errorf("id %q missing prefix %q", id, tc.prefix)
		}
		if len(id) <= len(tc.prefix) {
			t.Errorf("id %q has no numeric part", id)
		}
	}
}
