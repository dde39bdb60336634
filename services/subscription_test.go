package services

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"

	"kufar_watch/models"
	"kufar_watch/notify"
	"kufar_watch/storage"
)

var testHosts = []string{"kufar.by", "www.kufar.by", "cars.kufar.by"}

type fakeRunner struct {
	result *models.PassResult
	err    error
	calls  int
}

func (f *fakeRunner) RunOwner(_ context.Context, owner int64, trigger models.Trigger) (*models.PassResult, error) {
	f.calls++
	if trigger != models.TriggerManual {
		return nil, errors.New("expected manual trigger")
	}
	if f.err != nil {
		return nil, f.err
	}
	res := *f.result
	res.Owner = owner
	return &res, nil
}

func newTestService(t *testing.T, runner ManualRunner) (*SubscriptionService, *storage.SQLiteStore) {
	t.Helper()
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return NewSubscriptionService(store, runner, notify.NewBatcher(3, "BYN"), testHosts), store
}

func intPtr(v int) *int { return &v }

func TestAddSource_Validation(t *testing.T) {
	svc, _ := newTestService(t, &fakeRunner{})
	ctx := context.Background()

	bad := []string{
		"",
		"http://kufar.by/l/minsk",
		"https://example.com/l/minsk",
		"https://evil-kufar.by/l",
		"ftp://kufar.by",
		"::not a url",
	}
	for _, raw := range bad {
		_, err := svc.AddSource(ctx, 1, raw)
		var vErr *ValidationError
		if !errors.As(err, &vErr) || vErr.Kind != BadURL {
			t.Errorf("%q: expected BadURL, got %v", raw, err)
		}
	}

	src, err := svc.AddSource(ctx, 1, "  https://www.kufar.by/l/minsk/velosipedy  ")
	if err != nil {
		t.Fatalf("add valid source: %v", err)
	}
	if src.URL != "https://www.kufar.by/l/minsk/velosipedy" || src.Watermark != 0 {
		t.Fatalf("unexpected source: %+v", src)
	}
	if _, err := svc.AddSource(ctx, 1, "https://cars.kufar.by/l/audi"); err != nil {
		t.Fatalf("cars host should be allowed: %v", err)
	}
}

func TestAddSource_RegistersOwner(t *testing.T) {
	svc, store := newTestService(t, &fakeRunner{})
	ctx := context.Background()

	if _, err := svc.AddSource(ctx, 77, "https://kufar.by/l/minsk"); err != nil {
		t.Fatalf("add: %v", err)
	}
	sub, err := store.GetSubscriber(ctx, 77)
	if err != nil || sub == nil {
		t.Fatalf("owner should be registered, got %v %v", sub, err)
	}
	if sub.ChatID != 77 {
		t.Fatalf("chat id: got %d, want 77", sub.ChatID)
	}

	// An explicit registration keeps its chat id.
	if err := svc.Register(ctx, 78, 5000); err != nil {
		t.Fatalf("register: %v", err)
	}
	svc.AddSource(ctx, 78, "https://kufar.by/l/minsk")
	sub, _ = store.GetSubscriber(ctx, 78)
	if sub.ChatID != 5000 {
		t.Fatalf("chat id overwritten: %d", sub.ChatID)
	}
}

func TestUpdateFilter(t *testing.T) {
	svc, store := newTestService(t, &fakeRunner{})
	ctx := context.Background()

	cases := []struct {
		name     string
		min, max *int
	}{
		{"negative min", intPtr(-1), nil},
		{"negative max", nil, intPtr(-5)},
		{"min above max", intPtr(500), intPtr(100)},
	}
	for _, c := range cases {
		_, err := svc.UpdateFilter(ctx, 1, c.min, c.max, "")
		var vErr *ValidationError
		if !errors.As(err, &vErr) || vErr.Kind != BadFilter {
			t.Errorf("%s: expected BadFilter, got %v", c.name, err)
		}
	}

	if _, err := svc.UpdateFilter(ctx, 1, intPtr(100), intPtr(500), " Велосипед, stels ,велосипед,,"); err != nil {
		t.Fatalf("update: %v", err)
	}
	f, err := store.GetFilter(ctx, 1)
	if err != nil || f == nil {
		t.Fatalf("get filter: %v %v", f, err)
	}
	if *f.MinPrice != 100 || *f.MaxPrice != 500 {
		t.Fatalf("bounds: got %d..%d", *f.MinPrice, *f.MaxPrice)
	}
	if !reflect.DeepEqual(f.Keywords, []string{"велосипед", "stels"}) {
		t.Fatalf("keywords: got %v", f.Keywords)
	}

	// A later update replaces the whole filter.
	if _, err := svc.UpdateFilter(ctx, 1, nil, intPtr(300), ""); err != nil {
		t.Fatalf("update: %v", err)
	}
	f, _ = store.GetFilter(ctx, 1)
	if f.MinPrice != nil || *f.MaxPrice != 300 || len(f.Keywords) != 0 {
		t.Fatalf("filter not replaced: %+v", f)
	}
}

func TestDeleteAllSources(t *testing.T) {
	svc, _ := newTestService(t, &fakeRunner{})
	ctx := context.Background()

	svc.AddSource(ctx, 1, "https://kufar.by/l/a")
	svc.AddSource(ctx, 1, "https://kufar.by/l/b")
	svc.AddSource(ctx, 2, "https://kufar.by/l/c")

	n, err := svc.DeleteAllSources(ctx, 1)
	if err != nil || n != 2 {
		t.Fatalf("delete: n=%d err=%v", n, err)
	}
	left, _ := svc.ListSources(ctx, 1)
	other, _ := svc.ListSources(ctx, 2)
	if len(left) != 0 || len(other) != 1 {
		t.Fatalf("got %d for owner 1, %d for owner 2", len(left), len(other))
	}
}

func TestTriggerManualPass(t *testing.T) {
	ctx := context.Background()

	t.Run("no sources", func(t *testing.T) {
		runner := &fakeRunner{result: &models.PassResult{}}
		svc, _ := newTestService(t, runner)
		msgs, err := svc.TriggerManualPass(ctx, 1)
		if err != nil || len(msgs) != 1 || msgs[0] != notify.NoSources {
			t.Fatalf("got %v %v", msgs, err)
		}
		if runner.calls != 0 {
			t.Fatalf("runner should not be called without sources")
		}
	})

	t.Run("messages returned as is", func(t *testing.T) {
		runner := &fakeRunner{result: &models.PassResult{Messages: []string{"new", "drops"}}}
		svc, _ := newTestService(t, runner)
		svc.AddSource(ctx, 1, "https://kufar.by/l/a")
		msgs, err := svc.TriggerManualPass(ctx, 1)
		if err != nil || !reflect.DeepEqual(msgs, []string{"new", "drops"}) {
			t.Fatalf("got %v %v", msgs, err)
		}
	})

	t.Run("digest when nothing changed", func(t *testing.T) {
		runner := &fakeRunner{result: &models.PassResult{Current: []models.Listing{
			{ExternalID: "1", Title: "Стол", Price: 40, URL: "https://kufar.by/item/1"},
		}}}
		svc, _ := newTestService(t, runner)
		svc.AddSource(ctx, 1, "https://kufar.by/l/a")
		msgs, _ := svc.TriggerManualPass(ctx, 1)
		if len(msgs) != 1 || msgs[0] == notify.NothingFound {
			t.Fatalf("expected digest, got %v", msgs)
		}
	})

	t.Run("nothing found", func(t *testing.T) {
		runner := &fakeRunner{result: &models.PassResult{}}
		svc, _ := newTestService(t, runner)
		svc.AddSource(ctx, 1, "https://kufar.by/l/a")
		msgs, _ := svc.TriggerManualPass(ctx, 1)
		if len(msgs) != 1 || msgs[0] != notify.NothingFound {
			t.Fatalf("got %v", msgs)
		}
	})

	t.Run("runner error", func(t *testing.T) {
		runner := &fakeRunner{err: errors.New("store unavailable")}
		svc, _ := newTestService(t, runner)
		svc.AddSource(ctx, 1, "https://kufar.by/l/a")
		if _, err := svc.TriggerManualPass(ctx, 1); err == nil {
			t.Fatalf("expected error")
		}
	})
}
