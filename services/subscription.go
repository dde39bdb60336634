package services

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"strings"

	"kufar_watch/models"
	"kufar_watch/notify"
	"kufar_watch/storage"
)

type ValidationKind string

const (
	BadURL    ValidationKind = "bad_url"
	BadFilter ValidationKind = "bad_filter"
)

// ValidationError is returned for user input that was rejected. Msg is safe
// to show to the subscriber.
type ValidationError struct {
	Kind ValidationKind
	Msg  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// ManualRunner runs the full pipeline for one subscriber without dispatching.
type ManualRunner interface {
	RunOwner(ctx context.Context, owner int64, trigger models.Trigger) (*models.PassResult, error)
}

// SubscriptionService is the inbound surface used by the dialog layer and
// the CLI.
type SubscriptionService struct {
	store        storage.Store
	runner       ManualRunner
	batcher      *notify.Batcher
	allowedHosts map[string]bool
}

func NewSubscriptionService(store storage.Store, runner ManualRunner, batcher *notify.Batcher, allowedHosts []string) *SubscriptionService {
	hosts := make(map[string]bool, len(allowedHosts))
	for _, h := range allowedHosts {
		hosts[strings.ToLower(strings.TrimSpace(h))] = true
	}
	return &SubscriptionService{
		store:        store,
		runner:       runner,
		batcher:      batcher,
		allowedHosts: hosts,
	}
}

// Register records a subscriber. Registering twice is a no-op.
func (s *SubscriptionService) Register(ctx context.Context, owner, chatID int64) error {
	return s.store.RegisterSubscriber(ctx, owner, chatID)
}

// AddSource validates and stores a search URL with watermark 0. Unknown
// owners are registered with their id as chat id.
func (s *SubscriptionService) AddSource(ctx context.Context, owner int64, rawURL string) (*models.WatchedSource, error) {
	rawURL = strings.TrimSpace(rawURL)
	if err := s.validateURL(rawURL); err != nil {
		return nil, err
	}

	sub, err := s.store.GetSubscriber(ctx, owner)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		if err := s.store.RegisterSubscriber(ctx, owner, owner); err != nil {
			return nil, err
		}
	}

	src, err := s.store.AddSource(ctx, owner, rawURL)
	if err != nil {
		return nil, err
	}
	log.Printf("[info] owner %d: added source %d %s", owner, src.ID, rawURL)
	return src, nil
}

func (s *SubscriptionService) validateURL(rawURL string) error {
	if rawURL == "" {
		return &ValidationError{Kind: BadURL, Msg: "ссылка пустая"}
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return &ValidationError{Kind: BadURL, Msg: "не удалось разобрать ссылку"}
	}
	if u.Scheme != "https" {
		return &ValidationError{Kind: BadURL, Msg: "ссылка должна начинаться с https://"}
	}
	if !s.allowedHosts[strings.ToLower(u.Hostname())] {
		return &ValidationError{Kind: BadURL, Msg: "поддерживаются только ссылки Kufar"}
	}
	return nil
}

// UpdateFilter replaces the owner's filter. Nil bounds and an empty keyword
// string clear the corresponding constraint.
func (s *SubscriptionService) UpdateFilter(ctx context.Context, owner int64, minPrice, maxPrice *int, keywords string) (*models.FilterSpec, error) {
	if minPrice != nil && *minPrice < 0 {
		return nil, &ValidationError{Kind: BadFilter, Msg: "минимальная цена не может быть отрицательной"}
	}
	if maxPrice != nil && *maxPrice < 0 {
		return nil, &ValidationError{Kind: BadFilter, Msg: "максимальная цена не может быть отрицательной"}
	}
	if minPrice != nil && maxPrice != nil && *minPrice > *maxPrice {
		return nil, &ValidationError{Kind: BadFilter, Msg: "минимальная цена больше максимальной"}
	}

	f := &models.FilterSpec{
		Owner:    owner,
		MinPrice: minPrice,
		MaxPrice: maxPrice,
		Keywords: models.ParseKeywords(keywords),
	}
	if err := s.store.UpsertFilter(ctx, f); err != nil {
		return nil, err
	}
	return f, nil
}

func (s *SubscriptionService) ListSources(ctx context.Context, owner int64) ([]models.WatchedSource, error) {
	return s.store.ListSources(ctx, owner)
}

// DeleteAllSources removes every source of owner. Price history and the
// filter are kept.
func (s *SubscriptionService) DeleteAllSources(ctx context.Context, owner int64) (int64, error) {
	n, err := s.store.DeleteAllSources(ctx, owner)
	if err != nil {
		return 0, err
	}
	log.Printf("[info] owner %d: removed %d sources", owner, n)
	return n, nil
}

// TriggerManualPass runs one pass for owner and returns the messages to send.
// When nothing changed it returns a digest of current results instead.
func (s *SubscriptionService) TriggerManualPass(ctx context.Context, owner int64) ([]string, error) {
	sources, err := s.store.ListSources(ctx, owner)
	if err != nil {
		return nil, err
	}
	if len(sources) == 0 {
		return []string{notify.NoSources}, nil
	}

	res, err := s.runner.RunOwner(ctx, owner, models.TriggerManual)
	if err != nil {
		return nil, err
	}
	if len(res.Messages) > 0 {
		return res.Messages, nil
	}
	return []string{s.batcher.FormatDigest(res.Current)}, nil
}
