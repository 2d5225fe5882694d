package risk

import (
	"math"
	"testing"
)

func TestVolWindowEvictsOldest(t *testing.T) {
	w := &volWindow{}
	if _, ok := w.latest(); ok {
		t.Fatal("empty window must report no sample")
	}
	for i := 0; i < volWindowSize+10; i++ {
		w.push(float64(i))
	}
	if w.size() != volWindowSize {
		t.Fatalf("size = %d, want %d", w.size(), volWindowSize)
	}
	last, ok := w.latest()
	if !ok || last != float64(volWindowSize+9) {
		t.Fatalf("latest = %v", last)
	}
	// 剩余样本为 10..109，均值 59.5
	if got := w.mean(); math.Abs(got-59.5) > 1e-9 {
		t.Fatalf("mean = %v, want 59.5", got)
	}
}
