package scraper

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"kufar_watch/models"
	"kufar_watch/risk"
)

const (
	siteOrigin       = "https://kufar.by"
	defaultCardLimit = 5
)

// Extractor turns a search results page into listings. It prefers the
// embedded __NEXT_DATA__ payload and only scans rendered cards when that
// script tag is missing entirely.
type Extractor struct {
	classifier *risk.Classifier
	cardLimit  int
}

func NewExtractor(classifier *risk.Classifier) *Extractor {
	return &Extractor{classifier: classifier, cardLimit: defaultCardLimit}
}

// Extract returns listings unfiltered. A present but unusable data block
// yields an *ExtractError and no listings; the card scan is not attempted.
func (e *Extractor) Extract(page []byte) ([]models.Listing, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return nil, &ExtractError{Reason: "parse html", Err: err}
	}

	script := doc.Find("script#__NEXT_DATA__").First()
	if script.Length() == 0 {
		return e.extractCards(doc), nil
	}
	return e.extractStructured(script.Text())
}

// Structured payload. Every hop is a pointer so a missing level is
// detectable instead of silently zero.
type nextData struct {
	Props *struct {
		PageProps *struct {
			DehydratedState *struct {
				Queries []struct {
					State *struct {
						Data *struct {
							Ads *[]adRecord `json:"ads"`
						} `json:"data"`
					} `json:"state"`
				} `json:"queries"`
			} `json:"dehydratedState"`
		} `json:"pageProps"`
	} `json:"props"`
}

// ads walks props.pageProps.dehydratedState.queries[0].state.data.ads.
func (n *nextData) ads() ([]adRecord, error) {
	switch {
	case n.Props == nil:
		return nil, fmt.Errorf("missing props")
	case n.Props.PageProps == nil:
		return nil, fmt.Errorf("missing props.pageProps")
	case n.Props.PageProps.DehydratedState == nil:
		return nil, fmt.Errorf("missing dehydratedState")
	case len(n.Props.PageProps.DehydratedState.Queries) == 0:
		return nil, fmt.Errorf("no queries")
	}
	q := n.Props.PageProps.DehydratedState.Queries[0]
	switch {
	case q.State == nil:
		return nil, fmt.Errorf("missing queries[0].state")
	case q.State.Data == nil:
		return nil, fmt.Errorf("missing state.data")
	case q.State.Data.Ads == nil:
		return nil, fmt.Errorf("missing data.ads")
	}
	return *q.State.Data.Ads, nil
}

type adRecord struct {
	AdID    flexString      `json:"ad_id"`
	Subject string          `json:"subject"`
	Body    string          `json:"body"`
	Price   flexInt         `json:"price"`
	Params  json.RawMessage `json:"params"`
	AdLink  string          `json:"ad_link"`
}

// flexString accepts a JSON string or number.
type flexString string

func (s *flexString) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = flexString(v)
		return nil
	}
	if string(b) == "null" {
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*s = flexString(n.String())
	return nil
}

// flexInt accepts a JSON number or numeric string; anything else is 0.
type flexInt int

func (p *flexInt) UnmarshalJSON(b []byte) error {
	raw := strings.Trim(string(b), `"`)
	if raw == "" || raw == "null" {
		return nil
	}
	if i, err := strconv.Atoi(raw); err == nil {
		*p = flexInt(i)
		return nil
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		*p = flexInt(int(f))
	}
	return nil
}

func (e *Extractor) extractStructured(payload string) ([]models.Listing, error) {
	var data nextData
	if err := json.Unmarshal([]byte(payload), &data); err != nil {
		return nil, &ExtractError{Reason: "decode __NEXT_DATA__", Err: err}
	}

	ads, err := data.ads()
	if err != nil {
		return nil, &ExtractError{Reason: "walk __NEXT_DATA__", Err: err}
	}

	listings := make([]models.Listing, 0, len(ads))
	for _, ad := range ads {
		id := strings.TrimSpace(string(ad.AdID))
		if id == "" {
			continue
		}

		link := ad.AdLink
		if link == "" {
			link = siteOrigin + "/item/" + id
		}

		text := strings.Join([]string{ad.Subject, ad.Body, attributeText(ad.Params)}, " ")
		listings = append(listings, models.Listing{
			ExternalID:  id,
			Title:       ad.Subject,
			Description: ad.Body,
			Price:       int(ad.Price),
			URL:         link,
			Risk:        e.classifier.Classify(text),
		})
	}
	return listings, nil
}

// attributeText flattens every string value in the params block.
func attributeText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	var parts []string
	collectStrings(v, &parts)
	return strings.Join(parts, " ")
}

func collectStrings(v any, out *[]string) {
	switch t := v.(type) {
	case string:
		*out = append(*out, t)
	case []any:
		for _, item := range t {
			collectStrings(item, out)
		}
	case map[string]any:
		for _, k := range slices.Sorted(maps.Keys(t)) {
			collectStrings(t[k], out)
		}
	}
}

func (e *Extractor) extractCards(doc *goquery.Document) []models.Listing {
	var listings []models.Listing

	doc.Find(`div[class*="list-item"]`).EachWithBreak(func(i int, card *goquery.Selection) bool {
		if i >= e.cardLimit {
			return false
		}

		link := card.Find(`a[class*="title"]`).First()
		priceEl := card.Find(`div[class*="price"]`).First()
		if link.Length() == 0 || priceEl.Length() == 0 {
			return true
		}
		href, ok := link.Attr("href")
		if !ok || href == "" {
			return true
		}

		title := strings.TrimSpace(link.Text())
		listings = append(listings, models.Listing{
			ExternalID: idFromHref(href),
			Title:      title,
			Price:      parseCardPrice(priceEl.Text()),
			URL:        absoluteURL(href),
			Risk:       e.classifier.Classify(title),
		})
		return true
	})

	return listings
}

func idFromHref(href string) string {
	if i := strings.IndexAny(href, "?#"); i >= 0 {
		href = href[:i]
	}
	href = strings.TrimRight(href, "/")
	if i := strings.LastIndex(href, "/"); i >= 0 {
		return href[i+1:]
	}
	return href
}

func absoluteURL(href string) string {
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	if !strings.HasPrefix(href, "/") {
		href = "/" + href
	}
	return siteOrigin + href
}

// parseCardPrice strips separators and the currency suffix. Whatever is left
// must be all digits, otherwise the price is 0 ("Договорная", "Бесплатно").
func parseCardPrice(text string) int {
	r := strings.NewReplacer(" ", "", "\u00a0", "", "\u202f", "", "\n", "", "\t", "", "р.", "", "BYN", "")
	cleaned := r.Replace(text)
	if cleaned == "" {
		return 0
	}
	for _, c := range cleaned {
		if c < '0' || c > '9' {
			return 0
		}
	}
	v, err := strconv.Atoi(cleaned)
	if err != nil {
		return 0
	}
	return v
}
