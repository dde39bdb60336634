package scraper

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"kufar_watch/models"
	"kufar_watch/notify"
	"kufar_watch/services"
	"kufar_watch/storage"
)

// digestPerSource bounds how many current listings one source contributes
// to an on-demand digest.
const digestPerSource = 3

type PageFetcher interface {
	Fetch(ctx context.Context, rawURL string, minPrice, maxPrice *int) ([]byte, error)
}

type ListingExtractor interface {
	Extract(page []byte) ([]models.Listing, error)
}

type PageArchiver interface {
	ArchivePage(ctx context.Context, runID string, page []byte) (string, error)
}

type Orchestrator struct {
	store       storage.Store
	fetcher     PageFetcher
	extractor   ListingExtractor
	diff        *services.DiffService
	batcher     *notify.Batcher
	sender      *notify.Sender
	archive     PageArchiver
	locks       *storage.KeyLock
	concurrency int
	paused      atomic.Bool
	// set while pass_logs writes are failing; cleared by the next success
	logFailing atomic.Bool
}

func NewOrchestrator(
	store storage.Store,
	fetcher PageFetcher,
	extractor ListingExtractor,
	batcher *notify.Batcher,
	sender *notify.Sender,
) *Orchestrator {
	return &Orchestrator{
		store:       store,
		fetcher:     fetcher,
		extractor:   extractor,
		diff:        services.NewDiffService(store),
		batcher:     batcher,
		sender:      sender,
		locks:       storage.NewKeyLock(),
		concurrency: 1,
	}
}

// SetArchive enables uploading pages whose data block could not be parsed.
func (o *Orchestrator) SetArchive(a PageArchiver) {
	o.archive = a
}

// SetConcurrency sets how many subscribers are processed in parallel.
// Sources of one subscriber always run in order.
func (o *Orchestrator) SetConcurrency(n int) {
	if n < 1 {
		n = 1
	}
	o.concurrency = n
}

// RunAll performs one periodic pass over every subscriber and dispatches
// whatever each one produced. Failures stay scoped to their source.
func (o *Orchestrator) RunAll(ctx context.Context) error {
	if o.paused.Load() {
		log.Println("Pipeline is paused, skipping run")
		return nil
	}

	subs, err := o.store.ListSubscribers(ctx)
	if err != nil {
		return fmt.Errorf("list subscribers: %w", err)
	}

	start := time.Now()
	var g errgroup.Group
	g.SetLimit(o.concurrency)
	for _, sub := range subs {
		g.Go(func() error {
			res, err := o.RunOwner(ctx, sub.ID, models.TriggerPeriodic)
			if err != nil {
				log.Printf("[error] owner %d: %v", sub.ID, err)
				return nil
			}
			if len(res.Messages) > 0 {
				o.sender.Send(ctx, res.ChatID, res.Messages)
			}
			return nil
		})
	}
	g.Wait()

	log.Printf("[info] pass over %d subscribers finished in %s", len(subs), time.Since(start).Round(time.Millisecond))
	return nil
}

// RunOwner runs every watched source of one subscriber and returns the
// messages built for them. Nothing is dispatched here.
func (o *Orchestrator) RunOwner(ctx context.Context, owner int64, trigger models.Trigger) (*models.PassResult, error) {
	res := &models.PassResult{Owner: owner, ChatID: owner}

	sub, err := o.store.GetSubscriber(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("get subscriber: %w", err)
	}
	if sub != nil {
		res.ChatID = sub.ChatID
	}

	filter, err := o.store.GetFilter(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("get filter: %w", err)
	}

	sources, err := o.store.ListSources(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}

	for _, src := range sources {
		out, err := o.runSource(ctx, owner, src.ID, filter, trigger)
		if err != nil {
			res.Errors++
			continue
		}
		res.Messages = append(res.Messages, out.messages...)
		res.Current = append(res.Current, out.current...)
	}

	return res, nil
}

type sourceOutcome struct {
	messages []string
	current  []models.Listing
}

func (o *Orchestrator) runSource(ctx context.Context, owner, sourceID int64, filter *models.FilterSpec, trigger models.Trigger) (*sourceOutcome, error) {
	unlock := o.locks.Lock(owner, sourceID)
	defer unlock()

	// Re-read under the lock so a pass that waited sees the watermark the
	// previous pass committed.
	src, err := o.store.GetSource(ctx, sourceID)
	if err != nil {
		log.Printf("[error] owner %d: source %d: %v", owner, sourceID, err)
		return nil, err
	}
	if src == nil {
		return &sourceOutcome{}, nil
	}

	run := &models.PassRun{
		ID:        uuid.NewString(),
		Owner:     owner,
		SourceID:  sourceID,
		Trigger:   trigger,
		StartedAt: time.Now(),
		Status:    models.RunStatusRunning,
	}
	if err := o.store.CreateRun(ctx, run); err != nil {
		log.Printf("[warn] owner %d: create run record: %v", owner, err)
	}

	out, err := o.processSource(ctx, run, src, filter)

	now := time.Now()
	run.FinishedAt = &now
	if err != nil {
		run.Status = models.RunStatusFailed
		run.Error = err.Error()
	} else {
		run.Status = models.RunStatusCompleted
	}
	if uerr := o.store.UpdateRun(ctx, run); uerr != nil {
		log.Printf("[warn] owner %d: update run record: %v", owner, uerr)
	}

	return out, err
}

func (o *Orchestrator) processSource(ctx context.Context, run *models.PassRun, src *models.WatchedSource, filter *models.FilterSpec) (*sourceOutcome, error) {
	var minPrice, maxPrice *int
	if filter != nil {
		minPrice, maxPrice = filter.MinPrice, filter.MaxPrice
	}

	o.log(ctx, run, models.LogLevelDebug, fmt.Sprintf("fetching %s", src.URL))
	page, err := o.fetcher.Fetch(ctx, src.URL, minPrice, maxPrice)
	if err != nil {
		o.log(ctx, run, models.LogLevelWarn, fmt.Sprintf("fetch failed: %v", err))
		return nil, err
	}

	listings, err := o.extractor.Extract(page)
	if err != nil {
		var extractErr *ExtractError
		if !errors.As(err, &extractErr) {
			o.log(ctx, run, models.LogLevelError, fmt.Sprintf("extract failed: %v", err))
			return nil, err
		}
		o.log(ctx, run, models.LogLevelWarn, fmt.Sprintf("%v; treating as empty", err))
		o.archivePage(ctx, run, page)
		return &sourceOutcome{}, nil
	}

	var matched []models.Listing
	for _, l := range listings {
		if filter.Match(&l) {
			matched = append(matched, l)
		}
	}
	run.ListingsFound = len(matched)

	diff, err := o.diff.Diff(ctx, src.Owner, matched, src.Watermark)
	if err != nil {
		o.log(ctx, run, models.LogLevelError, fmt.Sprintf("diff aborted: %v", err))
		return nil, err
	}
	run.NewCount = len(diff.New)
	run.DropCount = len(diff.PriceDrops)

	messages := o.batcher.Format(diff.New, diff.PriceDrops)

	commit := &models.PassCommit{Owner: src.Owner, SourceID: src.ID}
	if diff.Watermark > src.Watermark {
		commit.Watermark = diff.Watermark
	}
	for _, l := range diff.New {
		commit.Observations = append(commit.Observations, observation(src.Owner, l))
	}
	// Only drops that made it into the message are acknowledged; the rest
	// are found again next pass.
	for _, d := range diff.PriceDrops[:o.batcher.Shown(len(diff.PriceDrops))] {
		commit.Observations = append(commit.Observations, observation(src.Owner, d.Listing))
	}

	if commit.Watermark > 0 || len(commit.Observations) > 0 {
		if err := o.store.CommitPass(ctx, commit); err != nil {
			o.log(ctx, run, models.LogLevelError, fmt.Sprintf("commit failed, dropping %d messages: %v", len(messages), err))
			return nil, err
		}
	}

	o.log(ctx, run, models.LogLevelInfo, fmt.Sprintf("%d listings, %d new, %d price drops, watermark %d",
		len(matched), len(diff.New), len(diff.PriceDrops), max(diff.Watermark, src.Watermark)))

	return &sourceOutcome{
		messages: messages,
		current:  matched[:min(len(matched), digestPerSource)],
	}, nil
}

func observation(owner int64, l models.Listing) models.PriceObservation {
	return models.PriceObservation{
		Owner:      owner,
		ExternalID: l.ExternalID,
		Title:      l.Title,
		URL:        l.URL,
		Price:      l.Price,
		RecordedAt: time.Now().UTC(),
	}
}

func (o *Orchestrator) archivePage(ctx context.Context, run *models.PassRun, page []byte) {
	if o.archive == nil {
		return
	}
	loc, err := o.archive.ArchivePage(ctx, run.ID, page)
	if err != nil {
		o.log(ctx, run, models.LogLevelWarn, fmt.Sprintf("archive page: %v", err))
		return
	}
	o.log(ctx, run, models.LogLevelInfo, fmt.Sprintf("archived page to %s", loc))
}

func (o *Orchestrator) HandleCommand(ctx context.Context, cmd *models.Command) error {
	params, err := cmd.ParseParams()
	if err != nil {
		return err
	}

	switch cmd.Command {
	case models.CmdRunAll:
		return o.RunAll(ctx)
	case models.CmdRunOwner:
		if params.Owner == 0 {
			return fmt.Errorf("run_owner: missing owner")
		}
		res, err := o.RunOwner(ctx, params.Owner, models.TriggerManual)
		if err != nil {
			return err
		}
		o.sender.Send(ctx, res.ChatID, res.Messages)
	case models.CmdPause:
		o.paused.Store(true)
		log.Println("Pipeline paused")
	case models.CmdResume:
		o.paused.Store(false)
		log.Println("Pipeline resumed")
	default:
		return fmt.Errorf("unknown command: %s", cmd.Command)
	}

	return nil
}

func (o *Orchestrator) IsPaused() bool {
	return o.paused.Load()
}

func (o *Orchestrator) log(ctx context.Context, run *models.PassRun, level models.LogLevel, message string) {
	log.Printf("[%s] owner %d source %d: %s", level, run.Owner, run.SourceID, message)
	if err := o.store.Log(ctx, run.ID, level, message, run.Owner); err != nil {
		if !o.logFailing.Swap(true) {
			log.Printf("[warn] owner %d: persist pass log: %v", run.Owner, err)
		}
		return
	}
	o.logFailing.Store(false)
}
