package sim

import (
	"context"
	"testing"
)

func TestRunNIsReproducible(t *testing.T) {
	ctx := context.Background()
	run := func() Summary {
		r, _, err := BuildRunner(ctx, RunnerConfig{Seed: 42})
		if err != nil {
			t.Fatal(err)
		}
		sum, err := r.RunN(ctx, 200)
		if err != nil {
			t.Fatal(err)
		}
		return sum
	}
	a, b := run(), run()
	if a.Signals != b.Signals || a.Accepted != b.Accepted || a.Splits != b.Splits {
		t.Fatalf("same seed diverged: %+v vs %+v", a, b)
	}
}

func TestRunNCountsAreConserved(t *testing.T) {
	ctx := context.Background()
	r, mem, err := BuildRunner(ctx, RunnerConfig{Seed: 7, Symbols: []string{"R_100", "R_50"}})
	if err != nil {
		t.Fatal(err)
	}
	sum, err := r.RunN(ctx, 500)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Signals != 500 {
		t.Fatalf("signals = %d", sum.Signals)
	}
	rejected := 0
	for _, n := range sum.Rejections {
		rejected += n
	}
	if sum.Accepted+rejected != sum.Signals {
		t.Fatalf("accepted %d + rejected %d != %d", sum.Accepted, rejected, sum.Signals)
	}
	if sum.Accepted > 0 {
		pos, _ := mem.Position(ctx, "R_100")
		pos2, _ := mem.Position(ctx, "R_50")
		if pos.IsZero() && pos2.IsZero() {
			t.Fatal("accepted signals must move exposure in the store")
		}
	}
}

func TestRunNRespectsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r, _, err := BuildRunner(ctx, RunnerConfig{Seed: 1})
	if err != nil {
		t.Fatal(err)
	}
	cancel()
	if _, err := r.RunN(ctx, 100); err == nil {
		t.Fatal("cancelled context must stop the run")
	}
}
