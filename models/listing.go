package models

import (
	"strconv"
	"strings"
)

// RiskLevel grades how likely an ad is a scam, derived from its text only.
type RiskLevel int

const (
	RiskNone RiskLevel = iota
	RiskMedium
	RiskHigh
)

func (l RiskLevel) String() string {
	switch l {
	case RiskMedium:
		return "medium"
	case RiskHigh:
		return "high"
	default:
		return "none"
	}
}

// RiskAssessment is computed once per listing and never mutated afterwards.
type RiskAssessment struct {
	Level          RiskLevel `json:"level"`
	MatchedPhrases []string  `json:"matched_phrases"`
}

// Listing is one ad from a search results page. It is rebuilt on every fetch;
// only its price observations are persisted.
type Listing struct {
	ExternalID  string         `json:"external_id"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Price       int            `json:"price"` // whole currency units
	URL         string         `json:"url"`
	Risk        RiskAssessment `json:"risk"`
}

// NumericID parses the site-assigned identifier. Listings whose id is not a
// number can never be "new" under watermark comparison.
func (l *Listing) NumericID() (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(l.ExternalID), 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// PriceDrop reports a listing whose price fell below its last observation.
type PriceDrop struct {
	Listing     Listing `json:"listing"`
	OldPrice    int     `json:"old_price"`
	NewPrice    int     `json:"new_price"`
	DropAmount  int     `json:"drop_amount"`
	DropPercent float64 `json:"drop_percent"` // one decimal place
}
