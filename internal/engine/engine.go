// Package engine runs the per-channel relay between chat events and the agent.
//
// Each channel owns a FIFO queue served by at most one worker goroutine, so
// work for one channel is strictly sequential while channels proceed in
// parallel. A unit of work is one agent turn plus any feedback turns its
// history or exec directives request, bounded by a feedback depth and a total
// turn count.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"agentrelay/internal/domain"
	"agentrelay/internal/metrics"
)

const (
	DefaultMaxFeedbackDepth = 5
	DefaultMaxIterations    = 20

	processingErrorReply = "Error processing your request."
)

// ChannelProfile is the configuration of one relayed channel. Name matches
// either the channel name or its ID.
type ChannelProfile struct {
	Name       string
	Skill      string
	WorkDir    string
	LogChannel string // skill-mode text output target; empty logs only
}

// Downloader fetches inbound attachments to local files.
type Downloader interface {
	Download(ctx context.Context, attachments []domain.Attachment) ([]string, error)
	Cleanup(paths []string)
}

// SystemPrompter supplies the system prompt for new agent sessions.
type SystemPrompter interface {
	SystemPrompt() (string, error)
}

// ChannelResolver maps a channel reference to a channel.
type ChannelResolver interface {
	ResolveChannel(ctx context.Context, nearChannelID, ref string) (*domain.ChannelInfo, error)
}

// Config holds the engine's collaborators and bounds.
type Config struct {
	Runner     domain.AgentRunner
	Executor   domain.DirectiveExecutor
	Store      domain.SessionStore
	Downloader Downloader      // optional: attachment URLs are passed through when nil
	Prompts    SystemPrompter  // optional
	Resolver   ChannelResolver // optional: needed for skill-mode log channels
	Metrics    *metrics.Relay  // optional
	Logger     *slog.Logger

	OperatorID string
	Profiles   []ChannelProfile

	// MaxFeedbackDepth bounds nested history/exec feedback turns. Zero allows
	// none; negative selects the default.
	MaxFeedbackDepth int
	// MaxIterations bounds agent turns per unit of work.
	MaxIterations int
}

// Engine owns the channel queues and the channel → session token table.
type Engine struct {
	runner     domain.AgentRunner
	executor   domain.DirectiveExecutor
	downloader Downloader
	prompts    SystemPrompter
	resolver   ChannelResolver
	metrics    *metrics.Relay
	logger     *slog.Logger

	operatorID string
	profiles   []ChannelProfile
	maxDepth   int
	maxIters   int

	sessions *sessionTable

	mu      sync.Mutex
	queues  map[string]*channelQueue
	ctx     context.Context
	running bool
	workers sync.WaitGroup
}

type channelQueue struct {
	items  []workItem
	active bool
}

type itemKind int

const (
	itemMessage itemKind = iota
	itemReaction
	itemSkill
)

func (k itemKind) String() string {
	switch k {
	case itemMessage:
		return "message"
	case itemReaction:
		return "reaction"
	case itemSkill:
		return "skill"
	}
	return "unknown"
}

type workItem struct {
	kind      itemKind
	channelID string
	profile   ChannelProfile
	message   *domain.MessageEvent
	reaction  *domain.ReactionEvent
}

// New validates cfg and creates an engine. Call Start before enqueueing.
func New(cfg Config) (*Engine, error) {
	var errs []error
	if cfg.Runner == nil {
		errs = append(errs, errors.New("runner is required"))
	}
	if cfg.Executor == nil {
		errs = append(errs, errors.New("executor is required"))
	}
	if cfg.Store == nil {
		errs = append(errs, errors.New("session store is required"))
	}
	if cfg.OperatorID == "" {
		errs = append(errs, errors.New("operator id is required"))
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("engine config: %w", errors.Join(errs...))
	}

	if cfg.MaxFeedbackDepth < 0 {
		cfg.MaxFeedbackDepth = DefaultMaxFeedbackDepth
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewRelay(nil)
	}

	return &Engine{
		runner:     cfg.Runner,
		executor:   cfg.Executor,
		downloader: cfg.Downloader,
		prompts:    cfg.Prompts,
		resolver:   cfg.Resolver,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
		operatorID: cfg.OperatorID,
		profiles:   append([]ChannelProfile(nil), cfg.Profiles...),
		maxDepth:   cfg.MaxFeedbackDepth,
		maxIters:   cfg.MaxIterations,
		sessions:   newSessionTable(cfg.Store, cfg.Logger),
		queues:     make(map[string]*channelQueue),
		ctx:        context.Background(),
	}, nil
}

// Start loads persisted session tokens and begins accepting work. Workers run
// under ctx.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.sessions.load(ctx); err != nil {
		return err
	}
	e.mu.Lock()
	e.ctx = ctx
	e.running = true
	e.mu.Unlock()
	e.logger.Info("engine started", "channels", len(e.profiles), "max_feedback_depth", e.maxDepth, "max_iterations", e.maxIters)
	return nil
}

// Stop rejects new work and waits for the workers to drain their queues.
func (e *Engine) Stop() {
	e.mu.Lock()
	e.running = false
	e.mu.Unlock()
	e.workers.Wait()
	e.logger.Info("engine stopped")
}

// Run starts the engine and stops it once ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	e.Stop()
	return nil
}

// Profile returns the profile configured for a channel, matched by name or ID.
func (e *Engine) Profile(channelID, channelName string) (ChannelProfile, bool) {
	for _, p := range e.profiles {
		if p.Name == channelName || p.Name == channelID {
			return p, true
		}
	}
	return ChannelProfile{}, false
}

// EnqueueMessage queues a message from the operator in a configured channel.
// It reports whether the message was accepted.
func (e *Engine) EnqueueMessage(ev domain.MessageEvent) bool {
	if ev.AuthorID != e.operatorID {
		return false
	}
	profile, ok := e.Profile(ev.ChannelID, ev.ChannelName)
	if !ok {
		return false
	}
	return e.enqueue(workItem{kind: itemMessage, channelID: ev.ChannelID, profile: profile, message: &ev})
}

// EnqueueReaction queues a reaction added by the operator in a configured channel.
func (e *Engine) EnqueueReaction(ev domain.ReactionEvent) bool {
	if ev.UserID != e.operatorID {
		return false
	}
	profile, ok := e.Profile(ev.ChannelID, ev.ChannelName)
	if !ok {
		return false
	}
	return e.enqueue(workItem{kind: itemReaction, channelID: ev.ChannelID, profile: profile, reaction: &ev})
}

// EnqueueSkill queues a skill run for a configured channel that declares a skill.
func (e *Engine) EnqueueSkill(channelID, channelName string) bool {
	profile, ok := e.Profile(channelID, channelName)
	if !ok || profile.Skill == "" {
		return false
	}
	return e.enqueue(workItem{kind: itemSkill, channelID: channelID, profile: profile})
}

// ResetSession forgets the channel's agent session so the next turn starts fresh.
func (e *Engine) ResetSession(ctx context.Context, channelID string) error {
	return e.sessions.clear(ctx, channelID)
}

// SessionID returns the stored session token for a channel.
func (e *Engine) SessionID(channelID string) string {
	return e.sessions.get(channelID)
}

func (e *Engine) enqueue(item workItem) bool {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		e.logger.Warn("engine not running, dropping work", "channel", item.channelID, "kind", item.kind)
		return false
	}
	q, ok := e.queues[item.channelID]
	if !ok {
		q = &channelQueue{}
		e.queues[item.channelID] = q
	}
	q.items = append(q.items, item)
	spawn := !q.active
	if spawn {
		q.active = true
		e.workers.Add(1)
	}
	ctx := e.ctx
	e.mu.Unlock()

	e.logger.Debug("work queued", "channel", item.profile.Name, "kind", item.kind, "spawn_worker", spawn)
	if spawn {
		go e.work(ctx, item.channelID)
	}
	return true
}

// work drains one channel's queue. The empty check and the active flag reset
// happen under the same lock as enqueue, so no item is stranded.
func (e *Engine) work(ctx context.Context, channelID string) {
	defer e.workers.Done()
	e.metrics.ActiveWorkers.Inc()
	defer e.metrics.ActiveWorkers.Dec()

	for {
		e.mu.Lock()
		q := e.queues[channelID]
		if len(q.items) == 0 {
			q.active = false
			delete(e.queues, channelID)
			e.mu.Unlock()
			return
		}
		item := q.items[0]
		q.items[0] = workItem{}
		q.items = q.items[1:]
		e.mu.Unlock()

		e.metrics.WorkItems.Inc()
		if err := e.safeProcess(ctx, item); err != nil {
			e.metrics.ProcessingErrors.Inc()
			e.logger.Error("processing error", "channel", item.profile.Name, "kind", item.kind, "err", err)
			if sendErr := e.executor.Send(ctx, channelID, processingErrorReply); sendErr != nil {
				e.logger.Warn("failed to report processing error", "channel", item.profile.Name, "err", sendErr)
			}
		}
	}
}

func (e *Engine) safeProcess(ctx context.Context, item workItem) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return e.process(ctx, item)
}

func (e *Engine) process(ctx context.Context, item workItem) error {
	var prompt string
	switch item.kind {
	case itemMessage:
		msg := item.message
		attachments := make([]string, 0, len(msg.Attachments))
		if len(msg.Attachments) > 0 {
			if e.downloader != nil {
				paths, err := e.downloader.Download(ctx, msg.Attachments)
				if err != nil {
					return fmt.Errorf("download attachments: %w", err)
				}
				defer e.downloader.Cleanup(paths)
				attachments = paths
			} else {
				for _, a := range msg.Attachments {
					attachments = append(attachments, a.URL)
				}
			}
		}
		prompt = BuildMessagePrompt(PromptInput{
			ID:          msg.ID,
			Skill:       item.profile.Skill,
			Content:     msg.Content,
			ChannelID:   item.channelID,
			Attachments: attachments,
		})
	case itemReaction:
		r := item.reaction
		prompt = BuildMessagePrompt(PromptInput{
			ID:        r.MessageID,
			Skill:     item.profile.Skill,
			Content:   r.MessageContent,
			ChannelID: item.channelID,
			Reactions: []string{r.Emoji},
		})
	case itemSkill:
		prompt = BuildMessagePrompt(PromptInput{Skill: item.profile.Skill, ChannelID: item.channelID})
	}

	return e.runUnit(ctx, item, prompt)
}
