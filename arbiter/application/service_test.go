package application

import (
	"testing"

	"restroom-gateway/arbiter/domain"
)

type fakeLimiter struct {
	allow bool
}

func (f fakeLimiter) Allow() bool { return f.allow }

type fakeStore struct {
	lim  domain.Limiter
	keys []domain.Key
}

func (s *fakeStore) Get(k domain.Key) domain.Limiter {
	s.keys = append(s.keys, k)
	return s.lim
}

func TestConnectionGate_AllowsWhenNoStore(t *testing.T) {
	if dec := (ConnectionGate{}).Decide("10.0.0.1"); !dec.Allowed {
		t.Fatalf("expected allowed")
	}
}

func TestConnectionGate_AllowsWhenStoreHasNoLimiter(t *testing.T) {
	gate := ConnectionGate{Store: &fakeStore{}}
	if dec := gate.Decide("10.0.0.1"); !dec.Allowed {
		t.Fatalf("expected allowed")
	}
}

func TestConnectionGate_FollowsLimiter(t *testing.T) {
	store := &fakeStore{lim: fakeLimiter{allow: false}}
	gate := ConnectionGate{Store: store}

	if dec := gate.Decide("10.0.0.1"); dec.Allowed {
		t.Fatalf("expected blocked")
	}
	if len(store.keys) != 1 || store.keys[0] != "10.0.0.1" {
		t.Fatalf("expected lookup by peer key, got %v", store.keys)
	}

	store.lim = fakeLimiter{allow: true}
	if dec := gate.Decide("10.0.0.1"); !dec.Allowed {
		t.Fatalf("expected allowed")
	}
}
