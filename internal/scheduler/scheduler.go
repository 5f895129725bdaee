// Package scheduler drives background reconciliation: one ticker job per
// server account plus a periodic holiday feed refresh. Manual triggers and
// ticker fires for the same account never overlap.
package scheduler

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/sundial-cal/sundial/internal/activity"
	"github.com/sundial-cal/sundial/internal/caldav"
	"github.com/sundial-cal/sundial/internal/holidays"
	"github.com/sundial-cal/sundial/internal/store"
)

const (
	holidayInterval = 6 * time.Hour
	syncTimeout     = 10 * time.Minute // Maximum time for a single sync pass
)

// Outcome classifies one sync pass for the caller driving the schedule.
type Outcome string

const (
	// OutcomeSuccess means at least one calendar synced and none hit a
	// terminal error.
	OutcomeSuccess Outcome = "success"
	// OutcomeRetry means every calendar failed transiently; trying again
	// later may succeed.
	OutcomeRetry Outcome = "retry"
	// OutcomeFailure means a terminal error (bad credentials) that more
	// attempts cannot fix.
	OutcomeFailure Outcome = "failure"
	// OutcomeSkipped means no sync ran: standalone mode, a pass already
	// in flight, or nothing to sync.
	OutcomeSkipped Outcome = "skipped"
)

// RunResult is the outcome of one pass plus the engine's detail report.
type RunResult struct {
	Outcome Outcome            `json:"outcome"`
	Report  *caldav.SyncReport `json:"report,omitempty"`
}

// Job represents a scheduled sync job for one account.
type Job struct {
	accountID string
	interval  time.Duration
	ticker    *time.Ticker
	stopCh    chan struct{}
}

// Scheduler manages background sync jobs.
type Scheduler struct {
	store      *store.Store
	engine     *caldav.Engine
	holidays   *holidays.Manager
	tracker    *activity.Tracker
	interval   time.Duration
	standalone bool

	mu        sync.RWMutex
	jobs      map[string]*Job
	syncLocks map[string]*sync.Mutex // Per-account locks to prevent concurrent syncs
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	started   bool
}

// New creates a new scheduler. An interval of zero means jobs are never
// started and sync runs only through TriggerSync/RunOnce. A nil holiday
// manager disables the feed refresh job.
func New(st *store.Store, engine *caldav.Engine, hol *holidays.Manager, tracker *activity.Tracker, interval time.Duration, standalone bool) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		store:      st,
		engine:     engine,
		holidays:   hol,
		tracker:    tracker,
		interval:   interval,
		standalone: standalone,
		jobs:       make(map[string]*Job),
		syncLocks:  make(map[string]*sync.Mutex),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start loads all server accounts and starts their sync jobs.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	if s.holidays != nil {
		s.wg.Add(1)
		go s.holidayRoutine()
	}

	if s.interval <= 0 || s.standalone {
		log.Println("Scheduler started in manual-only mode")
		return nil
	}

	accounts, err := s.store.ListAccounts()
	if err != nil {
		return err
	}

	count := 0
	for _, account := range accounts {
		if account.IsLocal() {
			continue
		}
		s.AddJob(account.ID)
		count++
	}

	log.Printf("Scheduler started with %d jobs", count)
	return nil
}

// Stop gracefully shuts down all jobs.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()

	s.cancel()

	s.mu.Lock()
	for _, job := range s.jobs {
		close(job.stopCh)
		job.ticker.Stop()
	}
	s.jobs = make(map[string]*Job)
	s.mu.Unlock()

	s.wg.Wait()
	log.Println("Scheduler stopped")
}

// AddJob adds or replaces a sync job for an account. No-op in manual-only
// or standalone mode.
func (s *Scheduler) AddJob(accountID string) {
	if s.interval <= 0 || s.standalone {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, exists := s.jobs[accountID]; exists {
		close(existing.stopCh)
		existing.ticker.Stop()
	}

	job := &Job{
		accountID: accountID,
		interval:  s.interval,
		ticker:    time.NewTicker(s.interval),
		stopCh:    make(chan struct{}),
	}
	s.jobs[accountID] = job

	s.wg.Add(1)
	go s.runJob(job)

	log.Printf("Added sync job for account %s with interval %v", accountID, s.interval)
}

// RemoveJob removes a sync job.
func (s *Scheduler) RemoveJob(accountID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job, exists := s.jobs[accountID]; exists {
		close(job.stopCh)
		job.ticker.Stop()
		delete(s.jobs, accountID)
		log.Printf("Removed sync job for account %s", accountID)
	}
}

// TriggerSync manually triggers an asynchronous sync for an account.
func (s *Scheduler) TriggerSync(accountID string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.RunOnce(s.ctx, accountID)
	}()
}

// GetJobCount returns the number of active jobs.
func (s *Scheduler) GetJobCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

// runJob runs the sync job loop.
func (s *Scheduler) runJob(job *Job) {
	defer s.wg.Done()

	// Run immediately on start
	s.RunOnce(s.ctx, job.accountID)

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-job.stopCh:
			return
		case <-job.ticker.C:
			s.RunOnce(s.ctx, job.accountID)
		}
	}
}

// getSyncLock returns the mutex for an account, creating one if needed.
func (s *Scheduler) getSyncLock(accountID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	if lock, exists := s.syncLocks[accountID]; exists {
		return lock
	}
	lock := &sync.Mutex{}
	s.syncLocks[accountID] = lock
	return lock
}

// RunOnce runs one sync pass for an account and classifies the result.
// A pass already in flight for the same account is not duplicated.
func (s *Scheduler) RunOnce(ctx context.Context, accountID string) RunResult {
	if s.standalone {
		return RunResult{Outcome: OutcomeSkipped}
	}

	lock := s.getSyncLock(accountID)
	if !lock.TryLock() {
		log.Printf("Skipping sync for account %s - another sync is already in progress", accountID)
		return RunResult{Outcome: OutcomeSkipped}
	}
	defer lock.Unlock()

	ctx, cancel := context.WithTimeout(ctx, syncTimeout)
	defer cancel()

	if s.tracker != nil {
		s.tracker.Start(accountID)
	}
	report := s.engine.SyncAccount(ctx, accountID)
	outcome := classify(report)
	if s.tracker != nil {
		s.tracker.Finish(accountID, string(outcome), report)
	}

	for _, skip := range report.DiscoverySkips {
		log.Printf("Discovery skipped for account %s: %s", skip.AccountID, skip.Reason)
	}
	for _, res := range report.Results {
		if res.Success {
			log.Printf("Sync completed for %s: %d added, %d updated, %d deleted, %d pushed (attempts: %d)",
				res.CalendarName, res.Added, res.Updated, res.Deleted, res.Pushed, res.Attempts)
		} else {
			log.Printf("Sync failed for %s after %d attempts: %v", res.CalendarName, res.Attempts, res.Err)
		}
	}

	return RunResult{Outcome: outcome, Report: report}
}

// RunAll runs one pass over every server account, sequentially. The worst
// single outcome wins: failure over retry over success.
func (s *Scheduler) RunAll(ctx context.Context) RunResult {
	if s.standalone {
		return RunResult{Outcome: OutcomeSkipped}
	}

	accounts, err := s.store.ListAccounts()
	if err != nil {
		log.Printf("Failed to list accounts: %v", err)
		return RunResult{Outcome: OutcomeRetry}
	}

	combined := &caldav.SyncReport{}
	outcome := OutcomeSkipped
	for _, account := range accounts {
		if account.IsLocal() {
			continue
		}
		res := s.RunOnce(ctx, account.ID)
		if res.Report != nil {
			combined.Results = append(combined.Results, res.Report.Results...)
			combined.DiscoverySkips = append(combined.DiscoverySkips, res.Report.DiscoverySkips...)
		}
		outcome = worse(outcome, res.Outcome)
	}
	return RunResult{Outcome: outcome, Report: combined}
}

func classify(report *caldav.SyncReport) Outcome {
	if report.AuthFailed() {
		return OutcomeFailure
	}
	if len(report.Results) == 0 {
		return OutcomeSkipped
	}
	if report.AllFailed() {
		return OutcomeRetry
	}
	return OutcomeSuccess
}

var severity = map[Outcome]int{
	OutcomeSkipped: 0,
	OutcomeSuccess: 1,
	OutcomeRetry:   2,
	OutcomeFailure: 3,
}

func worse(a, b Outcome) Outcome {
	if severity[b] > severity[a] {
		return b
	}
	return a
}

// holidayRoutine refreshes subscription feeds on startup and periodically.
func (s *Scheduler) holidayRoutine() {
	defer s.wg.Done()

	s.holidays.RefreshAll(s.ctx)

	ticker := time.NewTicker(holidayInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.holidays.RefreshAll(s.ctx)
		}
	}
}
