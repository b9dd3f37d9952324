package concurrency

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
)

func TestProcessParallelKeepsOrder(t *testing.T) {
	items := []int{1, 2, 3, 4, 5, 6, 7, 8}
	results, errs := ProcessParallel(context.Background(), items, ParallelOptions{MaxWorkers: 3},
		func(ctx context.Context, i int, v int) (int, error) {
			return v * 10, nil
		})
	if len(errs) != 0 {
		t.Fatalf("errs = %v", errs)
	}
	for i, v := range items {
		if results[i] != v*10 {
			t.Fatalf("results[%d] = %d, want %d", i, results[i], v*10)
		}
	}
}

func TestProcessParallelCollectsErrors(t *testing.T) {
	boom := errors.New("boom")
	items := []int{1, 2, 3}
	results, errs := ProcessParallel(context.Background(), items, DefaultOptions(),
		func(ctx context.Context, i int, v int) (int, error) {
			if v == 2 {
				return 0, boom
			}
			return v, nil
		})
	if len(errs) != 1 || !errors.Is(errs[0], boom) {
		t.Fatalf("errs = %v", errs)
	}
	if results[0] != 1 || results[2] != 3 {
		t.Fatalf("good results clobbered: %v", results)
	}
}

func TestForEachRunsAllItems(t *testing.T) {
	var count int32
	errs := ForEach(context.Background(), make([]struct{}, 20), ParallelOptions{MaxWorkers: 5},
		func(ctx context.Context, i int, _ struct{}) error {
			atomic.AddInt32(&count, 1)
			return nil
		})
	if len(errs) != 0 {
		t.Fatalf("errs = %v", errs)
	}
	if count != 20 {
		t.Fatalf("count = %d, want 20", count)
	}
}

func TestEmptyInput(t *testing.T) {
	results, errs := ProcessParallel(context.Background(), nil, DefaultOptions(),
		func(ctx context.Context, i int, v int) (int, error) { return v, nil })
	if len(results) != 0 || errs != nil {
		t.Fatalf("empty input = (%v, %v)", results, errs)
	}
}
