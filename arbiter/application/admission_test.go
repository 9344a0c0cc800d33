package application

import (
	"errors"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"

	"restroom-gateway/arbiter/domain"
)

func newController(t *testing.T, capacity int) *Controller {
	t.Helper()
	c, err := NewController(capacity, "A", "B")
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	return c
}

func checkInvariants(t *testing.T, c *Controller, occ domain.Occupancy) {
	t.Helper()
	a, b := occ.Count("A"), occ.Count("B")
	if a < 0 || a > c.Capacity() || b < 0 || b > c.Capacity() {
		t.Errorf("capacity violated: %s (capacity %d)", occ, c.Capacity())
	}
	if a > 0 && b > 0 {
		t.Errorf("mutual exclusion violated: %s", occ)
	}
}

func TestNewController_Validates(t *testing.T) {
	if _, err := NewController(0, "A", "B"); !errors.Is(err, domain.ErrInvalidCapacity) {
		t.Fatalf("expected ErrInvalidCapacity, got %v", err)
	}
	if _, err := NewController(3, "A", "A"); !errors.Is(err, domain.ErrInvalidGroups) {
		t.Fatalf("expected ErrInvalidGroups, got %v", err)
	}
	if _, err := NewController(3, "", "B"); !errors.Is(err, domain.ErrInvalidGroups) {
		t.Fatalf("expected ErrInvalidGroups, got %v", err)
	}
}

func TestController_GrantsUpToCapacityThenDenies(t *testing.T) {
	c := newController(t, 3)

	for i := 1; i <= 3; i++ {
		v, err := c.TryEnter("A")
		if err != nil {
			t.Fatalf("TryEnter: %v", err)
		}
		if v.Outcome != domain.OutcomeGranted || v.Occupancy.Count("A") != i {
			t.Fatalf("enter %d: got %v %s", i, v.Outcome, v.Occupancy)
		}
	}

	v, _ := c.TryEnter("A")
	if v.Outcome != domain.OutcomeDenied || v.Occupancy.Count("A") != 3 {
		t.Fatalf("expected denied at capacity, got %v %s", v.Outcome, v.Occupancy)
	}
}

func TestController_OtherGroupBlockedWhileOccupied(t *testing.T) {
	c := newController(t, 3)
	_, _ = c.TryEnter("A")

	v, _ := c.TryEnter("B")
	if v.Outcome != domain.OutcomeDenied {
		t.Fatalf("expected B denied while A inside, got %v", v.Outcome)
	}
	if v.Occupancy.Count("A") != 1 || v.Occupancy.Count("B") != 0 {
		t.Fatalf("deny must not change state, got %s", v.Occupancy)
	}

	if v, _ = c.Leave("A"); v.Outcome != domain.OutcomeLeft {
		t.Fatalf("expected left, got %v", v.Outcome)
	}
	if v, _ = c.TryEnter("B"); v.Outcome != domain.OutcomeGranted {
		t.Fatalf("expected B granted once empty, got %v", v.Outcome)
	}
}

func TestController_LeaveWhenEmptyIsRejected(t *testing.T) {
	c := newController(t, 3)

	for i := 0; i < 3; i++ {
		v, err := c.Leave("A")
		if err != nil {
			t.Fatalf("Leave: %v", err)
		}
		if v.Outcome != domain.OutcomeRejected || v.Occupancy.Count("A") != 0 {
			t.Fatalf("expected rejected without going negative, got %v %s", v.Outcome, v.Occupancy)
		}
	}
}

func TestController_UnknownGroupLeavesStateUntouched(t *testing.T) {
	c := newController(t, 3)
	_, _ = c.TryEnter("A")
	before := c.Snapshot()

	if _, err := c.TryEnter("X"); !errors.Is(err, domain.ErrUnknownGroup) {
		t.Fatalf("expected ErrUnknownGroup, got %v", err)
	}
	if _, err := c.Leave("X"); !errors.Is(err, domain.ErrUnknownGroup) {
		t.Fatalf("expected ErrUnknownGroup, got %v", err)
	}
	if after := c.Snapshot(); after.String() != before.String() {
		t.Fatalf("state changed: before %s after %s", before, after)
	}
}

func TestController_LabelsAreExact(t *testing.T) {
	c := newController(t, 1)
	if _, err := c.TryEnter("a"); !errors.Is(err, domain.ErrUnknownGroup) {
		t.Fatalf("labels are case sensitive, got %v", err)
	}
	if g := c.Groups(); g[0] != "A" || g[1] != "B" {
		t.Fatalf("unexpected groups %v", g)
	}
}

func TestController_NoLostUpdateUnderConcurrentEnter(t *testing.T) {
	const (
		capacity = 5
		k        = 3
		n        = 64
	)
	c := newController(t, capacity)
	for i := 0; i < capacity-k; i++ {
		_, _ = c.TryEnter("A")
	}

	var (
		granted, denied atomic.Int32
		wg              sync.WaitGroup
		start           = make(chan struct{})
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			v, err := c.TryEnter("A")
			if err != nil {
				t.Errorf("TryEnter: %v", err)
				return
			}
			switch v.Outcome {
			case domain.OutcomeGranted:
				granted.Add(1)
			case domain.OutcomeDenied:
				denied.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	if granted.Load() != k || denied.Load() != n-k {
		t.Fatalf("expected %d grants / %d denials, got %d / %d", k, n-k, granted.Load(), denied.Load())
	}
	if got := c.Snapshot().Count("A"); got != capacity {
		t.Fatalf("expected A=%d, got %d", capacity, got)
	}
}

func TestController_InvariantsHoldUnderRandomConcurrentLoad(t *testing.T) {
	c := newController(t, 3)

	var wg sync.WaitGroup
	for w := 0; w < 16; w++ {
		wg.Add(1)
		go func(seed uint64) {
			defer wg.Done()
			r := rand.New(rand.NewPCG(seed, seed*31+7))
			inside := map[domain.Group]int{}
			for i := 0; i < 500; i++ {
				g := domain.Group("A")
				if r.IntN(2) == 1 {
					g = "B"
				}
				var v domain.Verdict
				if inside[g] > 0 && r.IntN(2) == 0 {
					v, _ = c.Leave(g)
					if v.Outcome == domain.OutcomeLeft {
						inside[g]--
					}
				} else {
					v, _ = c.TryEnter(g)
					if v.Outcome == domain.OutcomeGranted {
						inside[g]++
					}
				}
				checkInvariants(t, c, v.Occupancy)
			}
			for g, n := range inside {
				for ; n > 0; n-- {
					if v, _ := c.Leave(g); v.Outcome != domain.OutcomeLeft {
						t.Errorf("leave of held slot for %s rejected", g)
					}
				}
			}
		}(uint64(w + 1))
	}
	wg.Wait()

	if occ := c.Snapshot(); occ.Total() != 0 {
		t.Fatalf("expected empty after every holder left, got %s", occ)
	}
}
