// Package scheduler periodically drives renewal batches and the trial
// reminder and incomplete expiry sweeps.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/AnuragDani/subscription-billing/internal/config"
	"github.com/AnuragDani/subscription-billing/internal/logger"
	"github.com/AnuragDani/subscription-billing/internal/metrics"
	"github.com/AnuragDani/subscription-billing/internal/models"
	"github.com/AnuragDani/subscription-billing/internal/notify"
	"github.com/AnuragDani/subscription-billing/internal/orchestrator"
	"github.com/AnuragDani/subscription-billing/internal/store"
)

// Renewer performs one renewal attempt
type Renewer interface {
	AttemptRenewal(ctx context.Context, id string) (*orchestrator.Outcome, error)
}

// Lifecycle is the subset of administrative operations the sweeps use
type Lifecycle interface {
	SendTrialReminder(ctx context.Context, id string) (*models.Subscription, error)
	ExpireIncomplete(ctx context.Context, id string) (*models.Subscription, error)
}

// Config controls batch sizing and pacing
type Config struct {
	Enabled             bool
	TickInterval        time.Duration
	BatchSize           int
	Workers             int
	ItemDelay           time.Duration
	TrialReminderWindow time.Duration
	IncompleteExpiry    time.Duration
	RunTimeout          time.Duration
}

// ConfigFromBilling maps the service configuration onto scheduler settings
func ConfigFromBilling(b config.BillingConfig) Config {
	return Config{
		Enabled:             true,
		TickInterval:        b.TickInterval,
		BatchSize:           b.BatchSize,
		Workers:             b.Workers,
		ItemDelay:           b.ItemDelay,
		TrialReminderWindow: time.Duration(b.TrialReminderDays) * 24 * time.Hour,
		IncompleteExpiry:    b.IncompleteExpiry,
		RunTimeout:          30 * time.Minute,
	}
}

// Status is the scheduler state reported to operators
type Status struct {
	Running      bool          `json:"running"`
	LastRun      *time.Time    `json:"last_run,omitempty"`
	NextRun      *time.Time    `json:"next_run,omitempty"`
	LastSummary  *BatchSummary `json:"last_summary,omitempty"`
	TickInterval string        `json:"tick_interval"`
	BatchSize    int           `json:"batch_size"`
	Workers      int           `json:"workers"`
}

// Scheduler runs billing cycles on a ticker
type Scheduler struct {
	store     store.Store
	renewer   Renewer
	lifecycle Lifecycle
	notifier  *notify.Notifier
	metrics   *metrics.Metrics
	log       *logger.Logger
	config    Config
	now       func() time.Time

	// runMu serialises cycles started by the ticker and by TriggerManual
	runMu sync.Mutex

	mu          sync.RWMutex
	running     bool
	stopCh      chan struct{}
	wg          sync.WaitGroup
	lastRun     *time.Time
	nextRun     *time.Time
	lastSummary *BatchSummary
}

type Option func(*Scheduler)

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithLifecycle enables the trial reminder and incomplete expiry sweeps
func WithLifecycle(l Lifecycle) Option {
	return func(s *Scheduler) { s.lifecycle = l }
}

func New(st store.Store, renewer Renewer, notifier *notify.Notifier, log *logger.Logger, cfg Config, opts ...Option) *Scheduler {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Hour
	}
	s := &Scheduler{
		store:    st,
		renewer:  renewer,
		notifier: notifier,
		log:      log,
		config:   cfg,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins the scheduler background processing
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	s.log.Info("starting scheduler",
		"tick_interval", s.config.TickInterval,
		"batch_size", s.config.BatchSize,
		"workers", s.config.Workers)

	s.wg.Add(1)
	go s.run()
}

// Stop waits for the in-flight cycle to finish
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.log.Info("stopping scheduler, waiting for current batch to complete")
	s.wg.Wait()
	s.log.Info("scheduler stopped")
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()
	s.scheduleNext()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			if s.config.Enabled {
				s.tick()
			}
			s.scheduleNext()
		}
	}
}

func (s *Scheduler) scheduleNext() {
	next := s.now().Add(s.config.TickInterval)
	s.mu.Lock()
	s.nextRun = &next
	s.mu.Unlock()
}

func (s *Scheduler) tick() {
	ctx := context.Background()
	if s.config.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.RunTimeout)
		defer cancel()
	}
	if _, err := s.RunCycle(ctx); err != nil {
		s.log.Error("scheduler cycle failed", "error", err)
	}
}

// RunCycle runs the sweeps followed by one renewal batch
func (s *Scheduler) RunCycle(ctx context.Context) (*BatchSummary, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	now := s.now()
	s.mu.Lock()
	s.lastRun = &now
	s.mu.Unlock()

	expired, err := s.RunIncompleteExpiry(ctx)
	if err != nil {
		s.log.Warn("incomplete expiry sweep failed", "error", err)
	}
	reminders, err := s.RunTrialReminders(ctx)
	if err != nil {
		s.log.Warn("trial reminder sweep failed", "error", err)
	}

	summary, err := s.RunRenewalBatch(ctx)
	if err != nil {
		return nil, err
	}
	summary.TrialReminders = reminders
	summary.ExpiredIncomplete = expired

	s.mu.Lock()
	s.lastSummary = summary
	s.mu.Unlock()
	return summary, nil
}

// TriggerManual runs one cycle immediately on the caller's goroutine
func (s *Scheduler) TriggerManual(ctx context.Context) (*BatchSummary, error) {
	s.log.Info("manual scheduler trigger")
	return s.RunCycle(ctx)
}

func (s *Scheduler) Status() *Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return &Status{
		Running:      s.running,
		LastRun:      s.lastRun,
		NextRun:      s.nextRun,
		LastSummary:  s.lastSummary,
		TickInterval: s.config.TickInterval.String(),
		BatchSize:    s.config.BatchSize,
		Workers:      s.config.Workers,
	}
}
