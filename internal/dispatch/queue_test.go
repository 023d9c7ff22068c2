package dispatch

import (
	"errors"
	"sync"
	"testing"
)

func TestQueueDrainsInOrder(t *testing.T) {
	q := New(8, nil)
	var got []int
	for i := 0; i < 5; i++ {
		i := i
		if err := q.Enqueue(func() { got = append(got, i) }); err != nil {
			t.Fatalf("Enqueue %d: %v", i, err)
		}
	}

	if n := q.Drain(); n != 5 {
		t.Errorf("expected 5 tasks run, got %d", n)
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("out of order: %v", got)
		}
	}
	if q.Len() != 0 {
		t.Errorf("expected empty queue, got %d", q.Len())
	}
}

func TestQueueBound(t *testing.T) {
	q := New(2, nil)
	noop := func() {}
	if err := q.Enqueue(noop); err != nil {
		t.Fatal(err)
	}
	if err := q.Enqueue(noop); err != nil {
		t.Fatal(err)
	}
	if err := q.Enqueue(noop); !errors.Is(err, ErrQueueFull) {
		t.Errorf("expected ErrQueueFull, got %v", err)
	}
	if q.Cap() != 2 {
		t.Errorf("expected cap 2, got %d", q.Cap())
	}
}

func TestQueueNilTask(t *testing.T) {
	q := New(1, nil)
	if err := q.Enqueue(nil); !errors.Is(err, ErrNilTask) {
		t.Errorf("expected ErrNilTask, got %v", err)
	}
}

func TestQueueDefaultCapacity(t *testing.T) {
	if q := New(0, nil); q.Cap() != DefaultCapacity {
		t.Errorf("expected %d, got %d", DefaultCapacity, q.Cap())
	}
}

func TestQueueTasksEnqueuedDuringDrainWait(t *testing.T) {
	q := New(4, nil)
	ran := 0
	q.Enqueue(func() {
		ran++
		q.Enqueue(func() { ran++ })
	})

	if n := q.Drain(); n != 1 {
		t.Errorf("expected 1 task in first drain, got %d", n)
	}
	if ran != 1 {
		t.Errorf("expected 1 run, got %d", ran)
	}
	if n := q.Drain(); n != 1 || ran != 2 {
		t.Errorf("expected follow-up task in second drain, n=%d ran=%d", n, ran)
	}
}

func TestQueuePanickingTaskDoesNotStopDrain(t *testing.T) {
	q := New(4, nil)
	ran := false
	q.Enqueue(func() { panic("boom") })
	q.Enqueue(func() { ran = true })

	q.Drain()
	if !ran {
		t.Error("task after panic should still run")
	}
}

func TestQueueConcurrentProducers(t *testing.T) {
	q := New(1000, nil)
	var wg sync.WaitGroup
	for p := 0; p < 10; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				if err := q.Enqueue(func() {}); err != nil {
					t.Errorf("Enqueue: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	if n := q.Drain(); n != 1000 {
		t.Errorf("expected 1000 tasks, got %d", n)
	}
}
