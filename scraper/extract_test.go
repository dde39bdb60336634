package scraper

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"kufar_watch/models"
	"kufar_watch/risk"
)

func loadFixture(t *testing.T, name string) []byte {
	t.Helper()
	path := filepath.Join("testdata", name)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read fixture %s: %v", name, err)
	}
	return data
}

func newTestExtractor() *Extractor {
	return NewExtractor(risk.NewClassifier(risk.DefaultPhrases()))
}

func TestExtract_Structured(t *testing.T) {
	listings, err := newTestExtractor().Extract(loadFixture(t, "search_structured.html"))
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(listings) != 3 {
		t.Fatalf("expected 3 listings (record without id skipped), got %d", len(listings))
	}

	first := listings[0]
	if first.ExternalID != "1001" || first.Title != "Велосипед Stels" || first.Price != 350 {
		t.Errorf("unexpected first listing: %+v", first)
	}
	if first.URL != "https://www.kufar.by/item/1001" {
		t.Errorf("expected embedded ad_link, got %s", first.URL)
	}
	if first.Description != "Отличное состояние" {
		t.Errorf("got description %q", first.Description)
	}
	if first.Risk.Level != models.RiskNone {
		t.Errorf("expected no risk, got %s", first.Risk.Level)
	}

	second := listings[1]
	if second.URL != "https://kufar.by/item/1002" {
		t.Errorf("expected synthesized url, got %s", second.URL)
	}
	if second.Price != 120 {
		t.Errorf("expected numeric price 120, got %d", second.Price)
	}
	if second.Risk.Level != models.RiskHigh || !reflect.DeepEqual(second.Risk.MatchedPhrases, []string{"предоплата"}) {
		t.Errorf("unexpected risk: %+v", second.Risk)
	}

	third := listings[2]
	if third.Price != 0 {
		t.Errorf("null price should be 0, got %d", third.Price)
	}
	want := []string{"срочная продажа", "торг"}
	if third.Risk.Level != models.RiskMedium || !reflect.DeepEqual(third.Risk.MatchedPhrases, want) {
		t.Errorf("params text should feed risk: got %+v", third.Risk)
	}
}

func TestExtract_MalformedDoesNotFallBack(t *testing.T) {
	listings, err := newTestExtractor().Extract(loadFixture(t, "search_malformed.html"))
	if len(listings) != 0 {
		t.Fatalf("expected no listings, got %d", len(listings))
	}
	var extractErr *ExtractError
	if !errors.As(err, &extractErr) {
		t.Fatalf("expected ExtractError, got %v", err)
	}
}

func TestExtract_InvalidJSON(t *testing.T) {
	page := []byte(`<html><script id="__NEXT_DATA__">{"props":</script></html>`)
	_, err := newTestExtractor().Extract(page)
	var extractErr *ExtractError
	if !errors.As(err, &extractErr) {
		t.Fatalf("expected ExtractError, got %v", err)
	}
}

func TestExtract_EmptyAdsIsNotAnError(t *testing.T) {
	page := []byte(`<html><script id="__NEXT_DATA__">{"props":{"pageProps":{"dehydratedState":{"queries":[{"state":{"data":{"ads":[]}}}]}}}}</script></html>`)
	listings, err := newTestExtractor().Extract(page)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(listings) != 0 {
		t.Fatalf("expected empty result, got %d", len(listings))
	}
}

func TestExtract_FallbackCapsAtFiveCards(t *testing.T) {
	listings, err := newTestExtractor().Extract(loadFixture(t, "search_cards.html"))
	if err != nil {
		t.Fatalf("extract: %v", err)
	}

	var ids []string
	for _, l := range listings {
		ids = append(ids, l.ExternalID)
	}
	// Card 203 lacks a price element; 206 and 207 are past the cap.
	want := []string{"201", "202", "204", "205"}
	if !reflect.DeepEqual(ids, want) {
		t.Fatalf("got ids %v, want %v", ids, want)
	}

	if listings[0].Price != 1200 || listings[0].URL != "https://kufar.by/item/201?rank=1" {
		t.Errorf("unexpected first card: %+v", listings[0])
	}
	if listings[1].Price != 0 {
		t.Errorf("unparseable price should be 0, got %d", listings[1].Price)
	}
	if listings[1].Risk.Level != models.RiskHigh {
		t.Errorf("title risk should be classified, got %s", listings[1].Risk.Level)
	}
	if listings[2].Price != 80 || listings[2].URL != "https://www.kufar.by/item/204" {
		t.Errorf("unexpected absolute card: %+v", listings[2])
	}
	for _, l := range listings {
		if l.Description != "" {
			t.Errorf("fallback listings carry no description, got %q", l.Description)
		}
	}
}

func TestParseCardPrice(t *testing.T) {
	cases := map[string]int{
		"1 200 р.":               1200,
		"350р.":                  350,
		"45 BYN":                 45,
		"\u00a0900\u00a0р.\n": 900,
		"Договорная":             0,
		"12.50 р.":               0,
		"":                       0,
	}
	for in, want := range cases {
		if got := parseCardPrice(in); got != want {
			t.Errorf("parseCardPrice(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestIDFromHref(t *testing.T) {
	cases := map[string]string{
		"/item/123":                        "123",
		"/item/123?rank=2":                 "123",
		"https://www.kufar.by/item/456/":   "456",
		"https://cars.kufar.by/vi/789#top": "789",
	}
	for in, want := range cases {
		if got := idFromHref(in); got != want {
			t.Errorf("idFromHref(%q) = %q, want %q", in, got, want)
		}
	}
}
