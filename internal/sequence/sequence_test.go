package sequence

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"
)

func TestRunOrder(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}

	var (
		inFlight int
		order    []int
	)
	err := Run(context.Background(), items, func(_ context.Context, i int) error {
		inFlight++
		if inFlight > 1 {
			t.Fatalf("item %d started while another was in flight", i)
		}
		// give a hypothetical overlapping start a chance to show up
		time.Sleep(time.Millisecond)
		order = append(order, i)
		inFlight--
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(order, items) {
		t.Errorf("order = %v, want %v", order, items)
	}
}

func TestRunStopsOnFirstError(t *testing.T) {
	boom := errors.New("boom")
	var seen []int
	err := Run(context.Background(), []int{1, 2, 3}, func(_ context.Context, i int) error {
		seen = append(seen, i)
		if i == 2 {
			return boom
		}
		return nil
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if !reflect.DeepEqual(seen, []int{1, 2}) {
		t.Errorf("seen = %v, want [1 2]", seen)
	}
}

func TestRunRecoveredFailuresContinue(t *testing.T) {
	var seen []int
	err := Run(context.Background(), []int{1, 2, 3}, func(_ context.Context, i int) error {
		if i == 2 {
			// recovered in place, sequence continues
			return nil
		}
		seen = append(seen, i)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(seen, []int{1, 3}) {
		t.Errorf("seen = %v, want [1 3]", seen)
	}
}

func TestRunHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var seen int
	err := Run(ctx, []int{1, 2, 3}, func(_ context.Context, i int) error {
		seen++
		cancel()
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if seen != 1 {
		t.Errorf("processed %d items after cancel, want 1", seen)
	}
}

func TestCollect(t *testing.T) {
	got, err := Collect(context.Background(), []int{1, 2, 3}, func(_ context.Context, i int) (string, error) {
		return fmt.Sprintf("item-%d", i), nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"item-1", "item-2", "item-3"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Collect = %v, want %v", got, want)
	}
}
