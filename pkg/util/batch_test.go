package util

import (
	"errors"
	"reflect"
	"testing"
)

func TestEachBatch(t *testing.T) {
	var got [][]int
	err := EachBatch([]int{1, 2, 3, 4, 5}, 2, func(b []int) error {
		got = append(got, b)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := [][]int{{1, 2}, {3, 4}, {5}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestEachBatchStopsOnError(t *testing.T) {
	calls := 0
	boom := errors.New("boom")
	err := EachBatch([]string{"a", "b", "c"}, 1, func([]string) error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) || calls != 1 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}
}

func TestEachBatchEmptyAndUnbounded(t *testing.T) {
	calls := 0
	_ = EachBatch([]int(nil), 10, func([]int) error { calls++; return nil })
	_ = EachBatch([]int{1, 2, 3}, 0, func(b []int) error {
		calls++
		if len(b) != 3 {
			t.Fatalf("size<=0 should yield one batch, got %v", b)
		}
		return nil
	})
	if calls != 1 {
		t.Fatalf("calls=%d", calls)
	}
}
