package workerclient

import (
	"sync"
	"testing"
)

func TestSlotPool_AcquireRelease(t *testing.T) {
	pool := NewSlotPool(2)

	if pool.Available() != 2 {
		t.Errorf("got available=%d, want 2", pool.Available())
	}

	if !pool.Acquire() {
		t.Error("first acquire should succeed")
	}
	if !pool.Acquire() {
		t.Error("second acquire should succeed")
	}
	if pool.Acquire() {
		t.Error("third acquire should fail when pool exhausted")
	}

	pool.Release()
	if pool.Available() != 1 {
		t.Errorf("got available=%d, want 1", pool.Available())
	}
}

func TestSlotPool_Concurrent(t *testing.T) {
	pool := NewSlotPool(5)

	var wg sync.WaitGroup
	acquired := make(chan bool, 10)

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			acquired <- pool.Acquire()
		}()
	}

	wg.Wait()
	close(acquired)

	successCount := 0
	for ok := range acquired {
		if ok {
			successCount++
		}
	}

	if successCount != 5 {
		t.Errorf("got %d successful acquires, want 5", successCount)
	}
}

func TestSlotPool_OnSlotsChanged(t *testing.T) {
	pool := NewSlotPool(3)

	var mu sync.Mutex
	notifications := []int{}

	pool.SetOnSlotsChanged(func(available int) {
		mu.Lock()
		notifications = append(notifications, available)
		mu.Unlock()
	})

	pool.Acquire()
	pool.Acquire()
	pool.Release()

	mu.Lock()
	got := notifications
	mu.Unlock()

	want := []int{2, 1, 2}
	if len(got) != len(want) {
		t.Fatalf("got %d notifications, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("notification[%d]: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestSlotPool_FailedAcquireNoCallback(t *testing.T) {
	pool := NewSlotPool(1)

	callCount := 0
	pool.SetOnSlotsChanged(func(available int) {
		callCount++
	})

	pool.Acquire()
	if callCount != 1 {
		t.Errorf("got %d callbacks, want 1", callCount)
	}

	// Exhausted pool: a failed acquire must not notify.
	pool.Acquire()
	if callCount != 1 {
		t.Errorf("failed acquire triggered callback: got %d callbacks, want 1", callCount)
	}
}
