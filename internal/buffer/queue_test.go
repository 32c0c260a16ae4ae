package buffer

import (
	"sync"
	"testing"
)

func TestQueue_PushPop(t *testing.T) {
	q := NewQueue[int](10)

	for i := 0; i < 5; i++ {
		q.Push(i)
	}

	if q.Len() != 5 {
		t.Errorf("Len() = %d, want 5", q.Len())
	}

	for i := 0; i < 5; i++ {
		val, ok := q.Pop()
		if !ok {
			t.Fatalf("Pop() returned false for item %d", i)
		}
		if val != i {
			t.Errorf("popped %d, want %d", val, i)
		}
	}

	if _, ok := q.Pop(); ok {
		t.Error("Pop() on empty queue returned true")
	}
}

func TestQueue_GrowsWhenFull(t *testing.T) {
	q := NewQueue[int](4)

	for i := 0; i < 100; i++ {
		q.Push(i)
	}

	stats := q.Stats()
	if stats.Count != 100 {
		t.Errorf("Count = %d, want 100", stats.Count)
	}
	if stats.ResizeCount < 5 {
		t.Errorf("ResizeCount = %d, expected at least 5 resizes", stats.ResizeCount)
	}

	for i := 0; i < 100; i++ {
		val, ok := q.Pop()
		if !ok {
			t.Fatalf("Pop() returned false for item %d", i)
		}
		if val != i {
			t.Errorf("popped %d, want %d", val, i)
		}
	}
}

func TestQueue_GrowPreservesOrderWhenWrapped(t *testing.T) {
	q := NewQueue[int](4)

	// Move head forward so the ring wraps before it grows
	q.Push(0)
	q.Push(1)
	q.Push(2)
	q.Pop()
	q.Pop()

	for i := 3; i < 10; i++ {
		q.Push(i)
	}

	got := q.Drain()
	want := []int{2, 3, 4, 5, 6, 7, 8, 9}
	if len(got) != len(want) {
		t.Fatalf("Drain() returned %d items, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("item %d = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestQueue_Drain(t *testing.T) {
	q := NewQueue[string](2)

	if got := q.Drain(); got != nil {
		t.Errorf("Drain() on empty queue = %v, want nil", got)
	}

	q.Push("a")
	q.Push("b")
	q.Push("c")

	got := q.Drain()
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Errorf("Drain() = %v, want [a b c]", got)
	}
	if q.Len() != 0 {
		t.Errorf("Len() after Drain = %d, want 0", q.Len())
	}

	// Queue stays usable after a drain
	q.Push("d")
	if val, ok := q.Pop(); !ok || val != "d" {
		t.Errorf("Pop() = %q, %v, want d, true", val, ok)
	}

	stats := q.Stats()
	if stats.TotalPushed != 4 {
		t.Errorf("TotalPushed = %d, want 4", stats.TotalPushed)
	}
	if stats.TotalPopped != 4 {
		t.Errorf("TotalPopped = %d, want 4", stats.TotalPopped)
	}
}

func TestQueue_ConcurrentPush(t *testing.T) {
	q := NewQueue[int](1)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 250; i++ {
				q.Push(i)
			}
		}()
	}
	wg.Wait()

	if q.Len() != 2000 {
		t.Errorf("Len() = %d, want 2000", q.Len())
	}
}
