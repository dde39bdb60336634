package identity

import (
	"math/rand/v2"
	"net/http"
	"sync"
)

// Identity is a browser profile: a user agent plus the headers that browser
// would actually send with it.
type Identity struct {
	UserAgent string
	Headers   http.Header
}

// Apply sets the identity's headers on req.
func (id Identity) Apply(req *http.Request) {
	for k, vals := range id.Headers {
		for _, v := range vals {
			req.Header.Set(k, v)
		}
	}
	req.Header.Set("User-Agent", id.UserAgent)
}

// Pool picks identities uniformly at random.
type Pool struct {
	mu         sync.Mutex
	identities []Identity
	rnd        *rand.Rand
}

func NewPool() *Pool {
	return NewPoolWithRand(defaultIdentities(), rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())))
}

// NewPoolWithRand lets tests pin the random source.
func NewPoolWithRand(ids []Identity, rnd *rand.Rand) *Pool {
	if len(ids) == 0 {
		ids = defaultIdentities()
	}
	return &Pool{identities: ids, rnd: rnd}
}

func (p *Pool) Len() int { return len(p.identities) }

func (p *Pool) Pick() Identity {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.identities[p.rnd.IntN(len(p.identities))]
}

// PickOther returns an identity whose user agent differs from prev, used on
// retry after a block.
func (p *Pool) PickOther(prev Identity) Identity {
	p.mu.Lock()
	defer p.mu.Unlock()

	candidates := make([]Identity, 0, len(p.identities))
	for _, id := range p.identities {
		if id.UserAgent != prev.UserAgent {
			candidates = append(candidates, id)
		}
	}
	if len(candidates) == 0 {
		return prev
	}
	return candidates[p.rnd.IntN(len(candidates))]
}

func defaultIdentities() []Identity {
	return []Identity{
		{
			UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/133.0.0.0 Safari/537.36",
			Headers:   chromeHeaders("133", "Windows"),
		},
		{
			UserAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/133.0.0.0 Safari/537.36",
			Headers:   chromeHeaders("133", "macOS"),
		},
		{
			UserAgent: "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/132.0.0.0 Safari/537.36",
			Headers:   chromeHeaders("132", "Linux"),
		},
		{
			UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:135.0) Gecko/20100101 Firefox/135.0",
			Headers:   firefoxHeaders(),
		},
		{
			UserAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:135.0) Gecko/20100101 Firefox/135.0",
			Headers:   firefoxHeaders(),
		},
		{
			UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/133.0.0.0 Safari/537.36 Edg/133.0.0.0",
			Headers:   chromeHeaders("133", "Windows"),
		},
		{
			UserAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/18.3 Safari/605.1.15",
			Headers:   safariHeaders(),
		},
	}
}

func chromeHeaders(version, platform string) http.Header {
	h := http.Header{}
	h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8")
	h.Set("Accept-Language", "ru-RU,ru;q=0.9,be;q=0.8,en;q=0.7")
	h.Set("Accept-Encoding", "gzip, br")
	h.Set("Sec-Ch-Ua", `"Chromium";v="`+version+`", "Not(A:Brand";v="99", "Google Chrome";v="`+version+`"`)
	h.Set("Sec-Ch-Ua-Mobile", "?0")
	h.Set("Sec-Ch-Ua-Platform", `"`+platform+`"`)
	h.Set("Sec-Fetch-Dest", "document")
	h.Set("Sec-Fetch-Mode", "navigate")
	h.Set("Sec-Fetch-Site", "none")
	h.Set("Sec-Fetch-User", "?1")
	h.Set("Upgrade-Insecure-Requests", "1")
	return h
}

func firefoxHeaders() http.Header {
	h := http.Header{}
	h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
	h.Set("Accept-Language", "ru-RU,ru;q=0.8,en-US;q=0.5,en;q=0.3")
	h.Set("Accept-Encoding", "gzip, br")
	h.Set("Sec-Fetch-Dest", "document")
	h.Set("Sec-Fetch-Mode", "navigate")
	h.Set("Sec-Fetch-Site", "none")
	h.Set("Sec-Fetch-User", "?1")
	h.Set("Upgrade-Insecure-Requests", "1")
	return h
}

func safariHeaders() http.Header {
	h := http.Header{}
	h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	h.Set("Accept-Language", "ru-RU,ru;q=0.9")
	h.Set("Accept-Encoding", "gzip, br")
	return h
}
