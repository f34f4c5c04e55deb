package domain

import (
	"testing"
	"time"
)

func TestAllocationExpired(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	cases := []struct {
		name string
		a    Allocation
		want bool
	}{
		{"hold past ttl", Allocation{Status: StatusHold, HoldExpiresAt: &past}, true},
		{"hold within ttl", Allocation{Status: StatusHold, HoldExpiresAt: &future}, false},
		{"hold without ttl", Allocation{Status: StatusHold}, false},
		{"occupied never expires", Allocation{Status: StatusOccupied, HoldExpiresAt: &past}, false},
		{"available never expires", Allocation{Status: StatusAvailable}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.a.Expired(now); got != tc.want {
				t.Errorf("Expired() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestAllocationHeldBy(t *testing.T) {
	now := time.Now()
	future := now.Add(time.Minute)
	past := now.Add(-time.Minute)
	holder := int64(100)

	a := Allocation{Status: StatusHold, HolderID: &holder, HoldExpiresAt: &future}
	if !a.HeldBy(100, now) {
		t.Error("expected unexpired hold to be held by its holder")
	}
	if a.HeldBy(200, now) {
		t.Error("expected hold not to be held by a different holder")
	}

	expired := Allocation{Status: StatusHold, HolderID: &holder, HoldExpiresAt: &past}
	if expired.HeldBy(100, now) {
		t.Error("expected expired hold not to count as held")
	}

	occupied := Allocation{Status: StatusOccupied, HolderID: &holder}
	if occupied.HeldBy(100, now) {
		t.Error("expected occupied seat not to count as held")
	}
}
