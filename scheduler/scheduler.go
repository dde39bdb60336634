package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"kufar_watch/config"
	"kufar_watch/models"
)

const defaultPollInterval = 2 * time.Second

// Pipeline is the work the scheduler drives.
type Pipeline interface {
	RunAll(ctx context.Context) error
	HandleCommand(ctx context.Context, cmd *models.Command) error
}

type CommandQueue interface {
	GetPendingCommands(ctx context.Context) ([]models.Command, error)
	MarkCommandProcessed(ctx context.Context, id int64) error
}

type Scheduler struct {
	cfg          config.SchedulerConfig
	pipeline     Pipeline
	queue        CommandQueue
	cron         *cron.Cron
	pollInterval time.Duration
	stopCh       chan struct{}
	stopOnce     sync.Once
	wg           sync.WaitGroup
}

func New(cfg config.SchedulerConfig, pipeline Pipeline, queue CommandQueue) *Scheduler {
	return &Scheduler{
		cfg:          cfg,
		pipeline:     pipeline,
		queue:        queue,
		cron:         cron.New(),
		pollInterval: defaultPollInterval,
		stopCh:       make(chan struct{}),
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.wg.Add(1)
	go s.pollCommands(ctx)

	if s.cfg.Cron != "" {
		log.Printf("Starting scheduler with cron: %s", s.cfg.Cron)
		_, err := s.cron.AddFunc(s.cfg.Cron, func() { s.run(ctx) })
		if err != nil {
			return fmt.Errorf("invalid cron expression: %w", err)
		}
		s.cron.Start()
	} else if s.cfg.Interval > 0 {
		log.Printf("Starting scheduler with interval %s, first pass in %s", s.cfg.Interval, s.cfg.FirstRunDelay)
		s.wg.Add(1)
		go s.loop(ctx)
	} else {
		log.Println("No schedule configured, daemon will only respond to commands")
	}

	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	first := time.NewTimer(s.cfg.FirstRunDelay)
	defer first.Stop()
	select {
	case <-first.C:
		s.run(ctx)
	case <-s.stopCh:
		return
	case <-ctx.Done():
		return
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.run(ctx)
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) run(ctx context.Context) {
	if err := s.pipeline.RunAll(ctx); err != nil {
		log.Printf("[error] scheduled run: %v", err)
	}
}

// Stop halts scheduling and waits for the loops to exit. A pass already in
// progress finishes first.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		<-s.cron.Stop().Done()
		close(s.stopCh)
	})
	s.wg.Wait()
}

func (s *Scheduler) pollCommands(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.processCommands(ctx)
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) processCommands(ctx context.Context) {
	cmds, err := s.queue.GetPendingCommands(ctx)
	if err != nil {
		log.Printf("[error] get commands: %v", err)
		return
	}

	for _, cmd := range cmds {
		log.Printf("[info] processing command %d: %s", cmd.ID, cmd.Command)
		if err := s.pipeline.HandleCommand(ctx, &cmd); err != nil {
			log.Printf("[error] command %d: %v", cmd.ID, err)
		}
		if err := s.queue.MarkCommandProcessed(ctx, cmd.ID); err != nil {
			log.Printf("[error] mark command %d processed: %v", cmd.ID, err)
		}
	}
}

func (s *Scheduler) TriggerNow(ctx context.Context) error {
	return s.pipeline.RunAll(ctx)
}
