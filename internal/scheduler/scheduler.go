// Package scheduler triggers skill runs on a cron schedule and at startup.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"agentrelay/internal/domain"
)

// Task is one channel's skill trigger.
type Task struct {
	Channel     string // channel name or ID, as configured
	Schedule    string // standard 5-field cron spec or descriptor such as @hourly; empty for none
	InitOnStart bool
}

// Resolver maps a configured channel reference to a channel.
type Resolver interface {
	ResolveChannel(ctx context.Context, nearChannelID, ref string) (*domain.ChannelInfo, error)
}

// Target receives skill runs.
type Target interface {
	EnqueueSkill(channelID, channelName string) bool
}

// Config configures the scheduler.
type Config struct {
	Tasks    []Task
	Resolver Resolver
	Target   Target
	Logger   *slog.Logger
}

// Scheduler owns a cron instance with one entry per scheduled task.
type Scheduler struct {
	tasks    []Task
	resolver Resolver
	target   Target
	logger   *slog.Logger
	cron     *cron.Cron

	mu  sync.Mutex
	ctx context.Context
}

// New parses every schedule and registers it. A bad spec is an error.
func New(cfg Config) (*Scheduler, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		tasks:    cfg.Tasks,
		resolver: cfg.Resolver,
		target:   cfg.Target,
		logger:   logger,
		cron:     cron.New(),
		ctx:      context.Background(),
	}
	for _, task := range cfg.Tasks {
		if task.Schedule == "" {
			continue
		}
		if _, err := s.cron.AddFunc(task.Schedule, func() { s.trigger(s.runContext(), task, "schedule") }); err != nil {
			return nil, fmt.Errorf("schedule for %s: %w", task.Channel, err)
		}
		logger.Info("skill scheduled", "channel", task.Channel, "schedule", task.Schedule)
	}
	return s, nil
}

// Scheduled returns the number of cron entries.
func (s *Scheduler) Scheduled() int {
	return len(s.cron.Entries())
}

// Run fires the startup tasks, then runs the cron loop until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	for _, task := range s.tasks {
		if task.InitOnStart {
			s.trigger(ctx, task, "startup")
		}
	}

	s.cron.Start()
	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
	return nil
}

func (s *Scheduler) runContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

func (s *Scheduler) trigger(ctx context.Context, task Task, reason string) {
	info, err := s.resolver.ResolveChannel(ctx, "", task.Channel)
	if err != nil {
		s.logger.Warn("skill channel not found", "channel", task.Channel, "reason", reason, "err", err)
		return
	}
	if !s.target.EnqueueSkill(info.ID, info.Name) {
		s.logger.Warn("skill run rejected", "channel", task.Channel, "reason", reason)
		return
	}
	s.logger.Info("skill run queued", "channel", task.Channel, "reason", reason)
}
