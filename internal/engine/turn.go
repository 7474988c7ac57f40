package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"agentrelay/internal/domain"
	"agentrelay/internal/protocol"
)

// turnOutcome reports how a turn ended.
type turnOutcome struct {
	feedback    string
	hasFeedback bool
	aborted     bool
}

// runUnit runs the first turn for an item and then every feedback turn it
// requests, one at a time, until no feedback is requested or a bound is hit.
func (e *Engine) runUnit(ctx context.Context, item workItem, prompt string) error {
	textTarget := e.textTarget(ctx, item)

	for depth, turns := 0, 0; ; depth++ {
		if turns >= e.maxIters {
			e.metrics.BoundExceeded.Inc()
			e.logger.Error("iteration bound exceeded", "channel", item.profile.Name, "turns", turns, "max_iterations", e.maxIters)
			return nil
		}
		turns++

		outcome, err := e.runTurn(ctx, item, textTarget, prompt, depth)
		if err != nil {
			return err
		}
		if outcome.aborted {
			e.metrics.BoundExceeded.Inc()
			e.logger.Error("feedback depth exceeded", "channel", item.profile.Name, "depth", depth, "max_feedback_depth", e.maxDepth)
			return nil
		}
		if !outcome.hasFeedback {
			return nil
		}
		prompt = outcome.feedback
	}
}

// textTarget is where buffered text output goes: the working channel, or in
// skill mode the profile's log channel (empty meaning log only).
func (e *Engine) textTarget(ctx context.Context, item workItem) string {
	if item.kind != itemSkill {
		return item.channelID
	}
	ref := item.profile.LogChannel
	if ref == "" {
		return ""
	}
	if e.resolver == nil {
		e.logger.Warn("no channel resolver, skill output goes to the log", "channel", item.profile.Name)
		return ""
	}
	info, err := e.resolver.ResolveChannel(ctx, item.channelID, ref)
	if err != nil {
		e.logger.Warn("log channel not found, skill output goes to the log", "channel", item.profile.Name, "log_channel", ref, "err", err)
		return ""
	}
	return info.ID
}

// runTurn streams one agent turn and dispatches its directives.
func (e *Engine) runTurn(ctx context.Context, item workItem, textTarget, prompt string, depth int) (turnOutcome, error) {
	e.metrics.AgentTurns.Inc()
	if depth > 0 {
		e.metrics.FeedbackTurns.Inc()
	}
	start := time.Now()
	defer func() { e.metrics.TurnLatency.Observe(time.Since(start).Seconds()) }()

	gen := e.sessions.generation(item.channelID)
	req := domain.AgentRequest{
		Prompt:    prompt,
		SessionID: e.sessions.get(item.channelID),
		WorkDir:   item.profile.WorkDir,
	}
	if req.SessionID == "" && e.prompts != nil {
		sp, err := e.prompts.SystemPrompt()
		if err != nil {
			e.logger.Warn("system prompt unavailable", "err", err)
		}
		req.SystemPrompt = sp
	}
	e.logger.Info("agent turn", "channel", item.profile.Name, "kind", item.kind, "depth", depth, "resume", req.SessionID != "")

	events := make(chan domain.AgentEvent)
	errCh := make(chan error, 1)
	go func() { errCh <- e.runner.Stream(ctx, req, events) }()
	defer func() {
		// Let the runner finish before the worker reports the panic.
		if r := recover(); r != nil {
			for range events {
			}
			<-errCh
			panic(r)
		}
	}()

	d := &dispatcher{
		e:          e,
		channelID:  item.channelID,
		textTarget: textTarget,
		skill:      item.profile.Skill,
		name:       item.profile.Name,
		depth:      depth,
	}
	for ev := range events {
		e.sessions.update(ctx, item.channelID, ev.SessionID, gen)
		switch ev.Type {
		case domain.AgentResult:
			if ev.IsError {
				e.logger.Warn("agent turn ended with error", "channel", item.profile.Name, "subtype", ev.Subtype)
			}
		case domain.AgentAssistant:
			// After a feedback directive the rest of the stream is drained
			// so the session token is still recorded.
			if d.stopped || strings.TrimSpace(ev.Text) == "" {
				continue
			}
			d.dispatch(ctx, protocol.Parse(ev.Text))
		}
	}
	if err := <-errCh; err != nil {
		return turnOutcome{}, fmt.Errorf("agent turn: %w", err)
	}
	return d.outcome, nil
}

// dispatcher applies one turn's directives in order, buffering plain output
// until something forces a flush.
type dispatcher struct {
	e          *Engine
	channelID  string
	textTarget string
	skill      string
	name       string
	depth      int

	pending domain.PendingOutput
	stopped bool
	outcome turnOutcome
}

func (d *dispatcher) dispatch(ctx context.Context, directives []protocol.Directive) {
	for _, dir := range directives {
		if d.stopped {
			break
		}
		d.e.metrics.Directive(dir.Kind())
		d.e.logger.Debug("directive", "channel", d.name, "kind", dir.Kind())

		switch v := dir.(type) {
		case protocol.Text:
			d.pending.TextLines = append(d.pending.TextLines, v.Content)
		case protocol.Media:
			d.pending.MediaFiles = append(d.pending.MediaFiles, v.FilePath)
		case protocol.Reactions:
			d.pending.Reactions = append(d.pending.Reactions, v.Emojis...)
		case protocol.Nop:
		case protocol.Reaction:
			d.flush(ctx)
			d.check("reaction", d.e.executor.React(ctx, d.channelID, v.MessageID, v.Emoji, v.Remove))
		case protocol.Delete:
			d.flush(ctx)
			d.check("delete", d.e.executor.Delete(ctx, d.channelID, v.MessageID))
		case protocol.Send:
			d.flush(ctx)
			d.check("send", d.e.executor.Send(ctx, d.channelID, v.Message))
		case protocol.SendTo:
			d.flush(ctx)
			d.check("sendto", d.e.executor.SendTo(ctx, d.channelID, v.Channel, v.Message))
		case protocol.History:
			d.flush(ctx)
			d.feedback(func() string {
				return d.e.executor.History(ctx, d.channelID, domain.HistoryQuery{
					Count:     v.Count,
					ChannelID: v.ChannelID,
					Offset:    v.Offset,
				})
			})
		case protocol.Exec:
			d.flush(ctx)
			d.feedback(func() string { return d.exec(ctx, v.MessageID) })
		default:
			d.e.logger.Warn("unhandled directive", "kind", dir.Kind())
		}
	}
	d.flush(ctx)
}

// feedback stops dispatch for this turn and, unless the depth bound is
// reached, produces the prompt for the next turn.
func (d *dispatcher) feedback(produce func() string) {
	d.stopped = true
	if d.depth >= d.e.maxDepth {
		d.outcome.aborted = true
		return
	}
	d.outcome.feedback = produce()
	d.outcome.hasFeedback = true
}

func (d *dispatcher) exec(ctx context.Context, messageID string) string {
	res, err := d.e.executor.Exec(ctx, d.channelID, messageID)
	if errors.Is(err, domain.ErrNotFound) {
		d.e.logger.Warn("exec target not found", "channel", d.name, "message", messageID)
		return fmt.Sprintf("--- exec error: message %s not found ---", messageID)
	}
	if err != nil {
		d.e.logger.Warn("exec failed", "channel", d.name, "message", messageID, "err", err)
		return fmt.Sprintf("--- exec error: %v ---", err)
	}
	return BuildMessagePrompt(PromptInput{
		ID:          res.ID,
		Skill:       d.skill,
		Content:     res.Content,
		ChannelID:   res.ChannelID,
		Attachments: res.Attachments,
	})
}

func (d *dispatcher) flush(ctx context.Context) {
	if d.pending.Empty() {
		return
	}
	out := d.pending
	d.pending = domain.PendingOutput{}
	d.check("flush", d.e.executor.Flush(ctx, d.textTarget, out))
}

func (d *dispatcher) check(op string, err error) {
	if err != nil {
		d.e.logger.Warn("directive failed", "channel", d.name, "op", op, "err", err)
	}
}
