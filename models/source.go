package models

import (
	"strings"
	"time"
)

type Subscriber struct {
	ID        int64     `json:"id" db:"user_id"`
	ChatID    int64     `json:"chat_id" db:"chat_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// WatchedSource is a subscriber's search URL plus the highest external id
// already reported as new for it. Only the pipeline moves the watermark, and
// only upwards.
type WatchedSource struct {
	ID        int64     `json:"id" db:"id"`
	Owner     int64     `json:"owner" db:"user_id"`
	URL       string    `json:"url" db:"url"`
	Watermark int64     `json:"watermark" db:"last_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// PriceObservation is one append-only ledger row.
type PriceObservation struct {
	ID         int64     `json:"id" db:"id"`
	Owner      int64     `json:"owner" db:"user_id"`
	ExternalID string    `json:"external_id" db:"ad_id"`
	Title      string    `json:"title" db:"title"`
	URL        string    `json:"url" db:"url"`
	Price      int       `json:"price" db:"price"`
	RecordedAt time.Time `json:"recorded_at" db:"recorded_at"`
}

// FilterSpec holds a subscriber's preferences. Nil bounds and an empty keyword
// set are unconstrained.
type FilterSpec struct {
	Owner    int64    `json:"owner" db:"user_id"`
	MinPrice *int     `json:"min_price" db:"min_price"`
	MaxPrice *int     `json:"max_price" db:"max_price"`
	Keywords []string `json:"keywords" db:"keywords"`
}

// Match reports whether a listing passes the price window and, when keywords
// are set, contains at least one of them in its title or description.
func (f *FilterSpec) Match(l *Listing) bool {
	if f == nil {
		return true
	}
	if f.MinPrice != nil && l.Price < *f.MinPrice {
		return false
	}
	if f.MaxPrice != nil && l.Price > *f.MaxPrice {
		return false
	}

	terms := make([]string, 0, len(f.Keywords))
	for _, k := range f.Keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			terms = append(terms, k)
		}
	}
	if len(terms) == 0 {
		return true
	}

	title := strings.ToLower(l.Title)
	desc := strings.ToLower(l.Description)
	for _, k := range terms {
		if strings.Contains(title, k) || strings.Contains(desc, k) {
			return true
		}
	}
	return false
}

// KeywordsString is the comma-joined form used for storage.
func (f *FilterSpec) KeywordsString() string {
	return strings.Join(f.Keywords, ",")
}

// ParseKeywords splits a comma-separated list into an ordered, de-duplicated
// set of trimmed lower-case terms.
func ParseKeywords(raw string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, part := range strings.Split(raw, ",") {
		k := strings.ToLower(strings.TrimSpace(part))
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	return out
}
