// Package cron wakes the agent on a schedule. Due jobs are published as
// synthetic InboundMessages, so a reminder flows through the exact same
// turn pipeline as a user message and the reply lands in the job's
// channel and chat.
package cron

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"minibot/internal/domain"
)

const defaultPollInterval = 15 * time.Second

// Service polls the job store and fires due jobs. One-shot jobs are
// deleted after firing; interval jobs are rescheduled.
type Service struct {
	store  domain.Store
	bus    domain.MessageBus
	logger *slog.Logger
	poll   time.Duration

	mu  sync.Mutex
	now func() time.Time
}

func NewService(store domain.Store, bus domain.MessageBus, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		bus:    bus,
		logger: logger,
		poll:   defaultPollInterval,
		now:    time.Now,
	}
}

// Start runs the scheduler loop until ctx is cancelled.
func (s *Service) Start(ctx context.Context) {
	s.logger.Info("cron service started", "poll", s.poll)

	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("cron service stopped")
			return
		case <-ticker.C:
			s.runDue(ctx)
		}
	}
}

// runDue fires every job whose NextRun has passed.
func (s *Service) runDue(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs, err := s.store.ListCronJobs(ctx)
	if err != nil {
		s.logger.Warn("failed to list cron jobs", "error", err)
		return
	}

	now := s.now()
	for _, job := range jobs {
		if job.NextRun.After(now) {
			continue
		}
		s.fire(ctx, job, now)
	}
}

func (s *Service) fire(ctx context.Context, job domain.CronJob, now time.Time) {
	s.logger.Info("cron job due", "id", job.ID, "channel", job.Channel)

	err := s.bus.PublishInbound(ctx, domain.InboundMessage{
		Channel:    job.Channel,
		ChatID:     job.ChatID,
		SenderID:   "cron",
		Content:    job.Message,
		Metadata:   map[string]string{"cron_job_id": job.ID},
		ReceivedAt: now,
	})
	if err != nil {
		// Leave NextRun untouched so the job retries next poll.
		s.logger.Warn("failed to publish cron message", "id", job.ID, "error", err)
		return
	}

	if job.IntervalSeconds <= 0 {
		if err := s.store.DeleteCronJob(ctx, job.ID); err != nil {
			s.logger.Warn("failed to delete one-shot cron job", "id", job.ID, "error", err)
		}
		return
	}

	job.NextRun = now.Add(time.Duration(job.IntervalSeconds) * time.Second)
	if err := s.store.SaveCronJob(ctx, job); err != nil {
		s.logger.Warn("failed to reschedule cron job", "id", job.ID, "error", err)
	}
}
