package identity

import (
	"math/rand/v2"
	"net/http"
	"testing"
)

func TestDefaultPoolSize(t *testing.T) {
	if n := NewPool().Len(); n < 5 {
		t.Fatalf("expected at least 5 identities, got %d", n)
	}
}

func TestPickCoversPool(t *testing.T) {
	p := NewPoolWithRand(nil, rand.New(rand.NewPCG(1, 2)))

	seen := make(map[string]bool)
	for i := 0; i < 500; i++ {
		seen[p.Pick().UserAgent] = true
	}
	if len(seen) != p.Len() {
		t.Fatalf("expected all %d identities to be picked, got %d", p.Len(), len(seen))
	}
}

func TestPickOther(t *testing.T) {
	p := NewPoolWithRand(nil, rand.New(rand.NewPCG(3, 4)))
	prev := p.Pick()
	for i := 0; i < 50; i++ {
		if got := p.PickOther(prev); got.UserAgent == prev.UserAgent {
			t.Fatalf("PickOther returned the same user agent")
		}
	}
}

func TestPickOther_SingleIdentity(t *testing.T) {
	only := Identity{UserAgent: "solo", Headers: http.Header{}}
	p := NewPoolWithRand([]Identity{only}, rand.New(rand.NewPCG(1, 1)))
	if got := p.PickOther(only); got.UserAgent != "solo" {
		t.Fatalf("got %q", got.UserAgent)
	}
}

func TestApply(t *testing.T) {
	req, _ := http.NewRequest(http.MethodGet, "https://kufar.by/", nil)
	id := NewPool().Pick()
	id.Apply(req)

	if req.Header.Get("User-Agent") != id.UserAgent {
		t.Fatalf("user agent not applied")
	}
	if req.Header.Get("Accept-Language") == "" {
		t.Fatalf("expected Accept-Language header")
	}
}
