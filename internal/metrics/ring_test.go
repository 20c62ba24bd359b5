package metrics

import (
	"testing"
	"time"
)

func sampleAt(i int) Sample {
	return Sample{
		Timestamp:   time.Unix(int64(i), 0),
		Category:    CategoryCPU,
		Cycles:      uint64(i),
		Utilization: float64(i),
	}
}

func TestRingLatestEmpty(t *testing.T) {
	r := NewRing(4)
	if _, ok := r.Latest(); ok {
		t.Fatal("Latest on empty ring returned ok=true")
	}
	if r.Len() != 0 {
		t.Errorf("Len = %d, want 0", r.Len())
	}
}

func TestRingPutAndLatest(t *testing.T) {
	r := NewRing(4)
	for i := 1; i <= 3; i++ {
		r.Put(sampleAt(i))
	}

	got, ok := r.Latest()
	if !ok {
		t.Fatal("Latest returned ok=false")
	}
	if got.Cycles != 3 {
		t.Errorf("Latest.Cycles = %d, want 3", got.Cycles)
	}
	if r.Len() != 3 {
		t.Errorf("Len = %d, want 3", r.Len())
	}
}

func TestRingOverwritesOldest(t *testing.T) {
	r := NewRing(4)
	for i := 1; i <= 10; i++ {
		r.Put(sampleAt(i))
	}

	if r.Len() != 4 {
		t.Fatalf("Len = %d, want capacity 4", r.Len())
	}

	snap := r.Snapshot(nil)
	if len(snap) != 4 {
		t.Fatalf("Snapshot length = %d, want 4", len(snap))
	}

	// Oldest entries must be gone; newest must survive.
	want := []uint64{7, 8, 9, 10}
	for i, s := range snap {
		if s.Cycles != want[i] {
			t.Errorf("Snapshot[%d].Cycles = %d, want %d", i, s.Cycles, want[i])
		}
	}

	latest, _ := r.Latest()
	if latest.Cycles != 10 {
		t.Errorf("Latest.Cycles = %d, want 10 (newest never overwritten)", latest.Cycles)
	}
}

func TestRingNeverExceedsCapacity(t *testing.T) {
	r := NewRing(8)
	for i := 0; i < 1000; i++ {
		r.Put(sampleAt(i))
		if r.Len() > r.Cap() {
			t.Fatalf("after %d puts: Len %d exceeds Cap %d", i+1, r.Len(), r.Cap())
		}
	}
}

func TestRingSnapshotOrder(t *testing.T) {
	r := NewRing(3)
	for i := 1; i <= 5; i++ {
		r.Put(sampleAt(i))
	}
	snap := r.Snapshot(make([]Sample, 0, 3))
	for i := 1; i < len(snap); i++ {
		if !snap[i].Timestamp.After(snap[i-1].Timestamp) {
			t.Errorf("Snapshot not in oldest-to-newest order at %d", i)
		}
	}
}
