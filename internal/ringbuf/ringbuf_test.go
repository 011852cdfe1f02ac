package ringbuf

import "testing"

func TestRing_BasicPush(t *testing.T) {
	r := New[int](4)

	for i := 1; i <= 3; i++ {
		if _, ev := r.Push(i); ev {
			t.Fatalf("push %d should not evict", i)
		}
	}
	if r.Len() != 3 {
		t.Fatalf("expected len=3, got %d", r.Len())
	}
	if v, ok := r.Last(); !ok || v != 3 {
		t.Fatalf("expected last=3, got %d ok=%v", v, ok)
	}
	if v, ok := r.First(); !ok || v != 1 {
		t.Fatalf("expected first=1, got %d ok=%v", v, ok)
	}
}

func TestRing_EvictsOldest(t *testing.T) {
	r := New[int](3)
	r.Push(1)
	r.Push(2)
	r.Push(3)

	old, ev := r.Push(4)
	if !ev || old != 1 {
		t.Fatalf("expected eviction of 1, got %d evicted=%v", old, ev)
	}
	if r.Len() != 3 {
		t.Fatalf("len should stay at capacity, got %d", r.Len())
	}
	if r.Evicted() != 1 {
		t.Fatalf("expected evicted=1, got %d", r.Evicted())
	}

	got := r.Snapshot()
	want := []int{2, 3, 4}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("snapshot = %v, want %v", got, want)
		}
	}
}

func TestRing_Wraparound(t *testing.T) {
	r := New[int](4)

	for i := 0; i < 23; i++ {
		r.Push(i)
		snap := r.Snapshot()
		if len(snap) != min(i+1, 4) {
			t.Fatalf("push %d: snapshot len %d", i, len(snap))
		}
		// Oldest→newest, contiguous, ending at i.
		for j := range snap {
			if snap[j] != i-len(snap)+1+j {
				t.Fatalf("push %d: snapshot = %v", i, snap)
			}
		}
	}
}

func TestRing_SnapshotIsCopy(t *testing.T) {
	r := New[int](2)
	r.Push(10)
	snap := r.Snapshot()
	snap[0] = 99

	if v, _ := r.First(); v != 10 {
		t.Fatalf("mutating snapshot changed ring: first=%d", v)
	}
}

func TestRing_EmptyAndMinCapacity(t *testing.T) {
	r := New[string](0)
	if r.Cap() != 1 {
		t.Fatalf("expected min cap 1, got %d", r.Cap())
	}
	if _, ok := r.Last(); ok {
		t.Fatal("last on empty ring should be false")
	}
	if len(r.Snapshot()) != 0 {
		t.Fatal("empty snapshot expected")
	}
}
