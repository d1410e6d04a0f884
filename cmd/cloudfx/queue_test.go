package main

import "testing"

func TestQueuePushPopOrder(t *testing.T) {
	q := newPendingQueue(5)

	for _, c := range []string{"a", "b", "c"} {
		if !q.Push(c) {
			t.Fatalf("push %q rejected below capacity", c)
		}
	}

	for _, want := range []string{"a", "b", "c"} {
		got, ok := q.Pop()
		if !ok || got != want {
			t.Fatalf("pop = %q/%v, want %q", got, ok, want)
		}
	}

	if _, ok := q.Pop(); ok {
		t.Error("pop from empty queue returned ok")
	}
}

func TestQueueNeverExceedsCapacity(t *testing.T) {
	q := newPendingQueue(3)

	for i := 0; i < 10; i++ {
		q.Push("cmd")
		if q.Len() > 3 {
			t.Fatalf("queue length %d exceeds capacity 3", q.Len())
		}
	}

	if got := q.Dropped(); got != 7 {
		t.Errorf("dropped = %d, want 7", got)
	}
}

func TestQueueOverflowPreservesExistingItems(t *testing.T) {
	q := newPendingQueue(2)

	q.Push("first")
	q.Push("second")
	if q.Push("third") {
		t.Fatal("push above capacity reported success")
	}

	got1, _ := q.Pop()
	got2, _ := q.Pop()
	if got1 != "first" || got2 != "second" {
		t.Errorf("survivors = %q, %q; want first, second", got1, got2)
	}
}

func TestQueueReusableAfterDrain(t *testing.T) {
	q := newPendingQueue(2)

	q.Push("a")
	q.Pop()
	q.Push("b")
	q.Push("c")

	if q.Len() != 2 {
		t.Errorf("length = %d after refill, want 2", q.Len())
	}
}
