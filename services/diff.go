package services

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"kufar_watch/models"
)

// PriceLookup is the slice of the store the diff needs.
type PriceLookup interface {
	LastPrice(ctx context.Context, owner int64, externalID string) (int, bool, error)
}

// DiffService compares a fresh batch against the watermark and the price
// ledger. It never writes; the caller commits once messages are built.
type DiffService struct {
	prices PriceLookup
}

func NewDiffService(prices PriceLookup) *DiffService {
	return &DiffService{prices: prices}
}

type DiffResult struct {
	New        []models.Listing
	PriceDrops []models.PriceDrop
	// Watermark is the value the source should move to: the highest new id,
	// or the input watermark when nothing is new.
	Watermark int64
}

// Diff marks a listing new when its numeric id is above watermark. Every
// listing, new or not, is checked for a price drop against its latest
// observation. Repeated ids within the batch are considered once.
func (d *DiffService) Diff(ctx context.Context, owner int64, fresh []models.Listing, watermark int64) (*DiffResult, error) {
	result := &DiffResult{Watermark: watermark}
	seen := make(map[string]bool, len(fresh))

	for _, l := range fresh {
		if seen[l.ExternalID] {
			continue
		}
		seen[l.ExternalID] = true

		if id, ok := l.NumericID(); ok && id > watermark {
			result.New = append(result.New, l)
			if id > result.Watermark {
				result.Watermark = id
			}
		}

		old, ok, err := d.prices.LastPrice(ctx, owner, l.ExternalID)
		if err != nil {
			return nil, fmt.Errorf("last price for %s: %w", l.ExternalID, err)
		}
		if ok && l.Price < old {
			result.PriceDrops = append(result.PriceDrops, NewPriceDrop(l, old))
		}
	}

	return result, nil
}

// NewPriceDrop computes the drop from old to l.Price with the percentage
// rounded half away from zero to one decimal place.
func NewPriceDrop(l models.Listing, old int) models.PriceDrop {
	amount := old - l.Price
	pct := decimal.NewFromInt(int64(amount)).
		Div(decimal.NewFromInt(int64(old))).
		Mul(decimal.NewFromInt(100)).
		Round(1)
	f, _ := pct.Float64()

	return models.PriceDrop{
		Listing:     l,
		OldPrice:    old,
		NewPrice:    l.Price,
		DropAmount:  amount,
		DropPercent: f,
	}
}
