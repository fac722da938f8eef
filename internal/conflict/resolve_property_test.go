package conflict

import (
	"fmt"
	"math/rand"
	"testing"

	"gamesync/internal/clock"
	"gamesync/internal/game"
)

// TestResolve_Property_StableUnderReordering tests that any permutation of a set yields the same winner
func TestResolve_Property_StableUnderReordering(t *testing.T) {
	r := rand.New(rand.NewSource(3))
	nodes := []string{"A", "B", "C"}

	for round := 0; round < 100; round++ {
		var set []game.Operation
		for i := 0; i < 2+r.Intn(5); i++ {
			vc := clock.New()
			for _, n := range nodes {
				if r.Intn(2) == 0 {
					vc.Set(n, uint64(r.Intn(3)))
				}
			}
			origin := nodes[r.Intn(len(nodes))]
			set = append(set, roll(fmt.Sprintf("op-%d-%d", round, i), origin, vc, t0))
		}

		want, _ := Resolve(set)
		for k := 0; k < 10; k++ {
			shuffled := append([]game.Operation(nil), set...)
			r.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

			got, _ := Resolve(shuffled)
			if got.Winner.ID != want.Winner.ID {
				t.Fatalf("round %d: winner %s after reordering, want %s", round, got.Winner.ID, want.Winner.ID)
			}
			if fmt.Sprint(got.LoserIDs()) != fmt.Sprint(want.LoserIDs()) {
				t.Fatalf("round %d: losers %v after reordering, want %v", round, got.LoserIDs(), want.LoserIDs())
			}
		}
	}
}

// TestLess_Property_StrictTotalOrder tests irreflexivity, asymmetry and totality over distinct operations
func TestLess_Property_StrictTotalOrder(t *testing.T) {
	r := rand.New(rand.NewSource(5))

	for i := 0; i < 500; i++ {
		a := bet(fmt.Sprintf("a%d", r.Intn(3)), "A", clock.VectorClock{"A": uint64(r.Intn(3))}, 1)
		b := bet(fmt.Sprintf("b%d", r.Intn(3)), []string{"A", "B"}[r.Intn(2)], clock.VectorClock{"A": uint64(r.Intn(3))}, 1)

		if Less(a, a) {
			t.Fatalf("Less(%v, %v) must be false", a, a)
		}
		if Less(a, b) && Less(b, a) {
			t.Fatalf("Less is not asymmetric for %v and %v", a, b)
		}
		if !Less(a, b) && !Less(b, a) {
			t.Fatalf("Less is not total for distinct %v and %v", a, b)
		}
	}
}
