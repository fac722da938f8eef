package clock

import (
	"math/rand"
	"testing"
)

func randomClock(r *rand.Rand, nodes []string) VectorClock {
	vc := New()
	for _, n := range nodes {
		if r.Intn(3) == 0 {
			continue
		}
		vc.Set(n, uint64(r.Intn(5)))
	}
	return vc
}

// TestVectorClock_Property_MergeCoversBoth tests that merge(a,b) covers both a and b
func TestVectorClock_Property_MergeCoversBoth(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	nodes := []string{"a", "b", "c", "d"}

	for i := 0; i < 200; i++ {
		a := randomClock(r, nodes)
		b := randomClock(r, nodes)

		merged := a.Copy()
		merged.Merge(b)

		if !merged.Covers(a) || !merged.Covers(b) {
			t.Fatalf("merge(%v, %v) = %v does not cover both inputs", a, b, merged)
		}
	}
}

// TestVectorClock_Property_CompareAntisymmetric tests that swapping operands mirrors the result
func TestVectorClock_Property_CompareAntisymmetric(t *testing.T) {
	r := rand.New(rand.NewSource(11))
	nodes := []string{"a", "b", "c"}
	mirror := map[CompareResult]CompareResult{
		Before:     After,
		After:      Before,
		Equal:      Equal,
		Concurrent: Concurrent,
	}

	for i := 0; i < 200; i++ {
		a := randomClock(r, nodes)
		b := randomClock(r, nodes)

		if got, want := b.Compare(a), mirror[a.Compare(b)]; got != want {
			t.Fatalf("Compare(%v,%v)=%v but Compare(%v,%v)=%v", a, b, a.Compare(b), b, a, got)
		}
	}
}

// TestVectorClock_Property_SumIsLinearExtension tests that happens-before implies a smaller sum
func TestVectorClock_Property_SumIsLinearExtension(t *testing.T) {
	r := rand.New(rand.NewSource(13))
	nodes := []string{"a", "b", "c"}

	for i := 0; i < 500; i++ {
		a := randomClock(r, nodes)
		b := randomClock(r, nodes)

		if a.HappensBefore(b) && a.Sum() >= b.Sum() {
			t.Fatalf("%v happens before %v but sums are %d >= %d", a, b, a.Sum(), b.Sum())
		}
	}
}

// TestVectorClock_Property_KeyMatchesEquality tests that equal clocks share a key and different ones don't
func TestVectorClock_Property_KeyMatchesEquality(t *testing.T) {
	r := rand.New(rand.NewSource(17))
	nodes := []string{"a", "b", "c"}

	for i := 0; i < 500; i++ {
		a := randomClock(r, nodes)
		b := randomClock(r, nodes)

		if a.Equal(b) != (a.Key() == b.Key()) {
			t.Fatalf("Equal(%v,%v)=%v but keys %q and %q", a, b, a.Equal(b), a.Key(), b.Key())
		}
	}
}

// TestVectorClock_Property_Transitivity tests transitivity of Before relation
func TestVectorClock_Property_Transitivity(t *testing.T) {
	vc1 := VectorClock{"n1": 1, "n2": 1}
	vc2 := VectorClock{"n1": 2, "n2": 1}
	vc3 := VectorClock{"n1": 3, "n2": 2}

	if !vc1.HappensBefore(vc2) || !vc2.HappensBefore(vc3) {
		t.Fatal("setup: expected vc1 < vc2 < vc3")
	}
	if !vc1.HappensBefore(vc3) {
		t.Errorf("Transitivity: expected vc1 < vc3, got %v", vc1.Compare(vc3))
	}
}

// TestClock_Property_OwnCounterStrictlyIncreases tests that every tick and witness advances the owner
func TestClock_Property_OwnCounterStrictlyIncreases(t *testing.T) {
	r := rand.New(rand.NewSource(19))
	c := NewClock("self")
	last := uint64(0)

	for i := 0; i < 200; i++ {
		var vc VectorClock
		if r.Intn(2) == 0 {
			vc = c.Tick()
		} else {
			vc = c.Witness(randomClock(r, []string{"self", "x", "y"}))
		}
		if vc.Get("self") <= last {
			t.Fatalf("own counter did not increase: %d -> %d", last, vc.Get("self"))
		}
		last = vc.Get("self")
	}
}
