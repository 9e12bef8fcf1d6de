// Package scheduler runs background maintenance. It never starts a calendar
// sync; syncs only happen when a user asks for one.
package scheduler

import (
	"context"
	"log"
	"sync"
	"time"
)

const (
	cleanupInterval  = 24 * time.Hour
	logRetentionDays = 30
	cleanupTimeout   = time.Minute
)

// LogStore is the storage the maintenance jobs need.
type LogStore interface {
	CleanOldSyncLogs(ctx context.Context, olderThan time.Time) (int64, error)
}

// Scheduler manages background maintenance jobs.
type Scheduler struct {
	store    LogStore
	interval time.Duration
	now      func() time.Time

	mu      sync.Mutex
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
}

// New creates a new scheduler.
func New(store LogStore) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		store:    store,
		interval: cleanupInterval,
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start runs one cleanup immediately and then on every interval.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.cleanupRoutine()

	log.Printf("Scheduler started, pruning sync logs older than %d days every %v", logRetentionDays, s.interval)
}

// Stop gracefully shuts down the background jobs.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	log.Println("Scheduler stopped")
}

// cleanupRoutine runs periodic cleanup of old sync logs.
func (s *Scheduler) cleanupRoutine() {
	defer s.wg.Done()

	s.cleanupOldLogs()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.cleanupOldLogs()
		}
	}
}

// cleanupOldLogs deletes sync logs older than retention period.
func (s *Scheduler) cleanupOldLogs() {
	ctx, cancel := context.WithTimeout(s.ctx, cleanupTimeout)
	defer cancel()

	cutoff := s.now().AddDate(0, 0, -logRetentionDays)
	deleted, err := s.store.CleanOldSyncLogs(ctx, cutoff)
	if err != nil {
		log.Printf("Failed to clean old sync logs: %v", err)
		return
	}
	if deleted > 0 {
		log.Printf("Cleaned %d old sync logs", deleted)
	}
}
