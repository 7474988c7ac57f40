package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Relay holds the metrics the engine reports.
type Relay struct {
	reg *Registry

	WorkItems        *Counter
	AgentTurns       *Counter
	FeedbackTurns    *Counter
	BoundExceeded    *Counter
	ProcessingErrors *Counter
	ActiveWorkers    *Gauge
	TurnLatency      *Histogram
}

// NewRelay registers the relay metrics in reg. A nil reg gets a private registry.
func NewRelay(reg *Registry) *Relay {
	if reg == nil {
		reg = NewRegistry()
	}
	return &Relay{
		reg:              reg,
		WorkItems:        reg.Counter("agentrelay_work_items_total", "Work items processed", ""),
		AgentTurns:       reg.Counter("agentrelay_agent_turns_total", "Agent turns run", ""),
		FeedbackTurns:    reg.Counter("agentrelay_feedback_turns_total", "Agent turns started from history or exec feedback", ""),
		BoundExceeded:    reg.Counter("agentrelay_bound_exceeded_total", "Units of work aborted by the depth or iteration bound", ""),
		ProcessingErrors: reg.Counter("agentrelay_processing_errors_total", "Work items that failed", ""),
		ActiveWorkers:    reg.Gauge("agentrelay_active_workers", "Channels with a running worker", ""),
		TurnLatency: reg.Histogram("agentrelay_turn_latency_seconds", "Agent turn latency in seconds", "",
			[]float64{1, 5, 15, 30, 60, 120, 300, 600}),
	}
}

// Directive counts one dispatched directive of the given kind.
func (m *Relay) Directive(kind string) {
	m.reg.Counter("agentrelay_directives_total", "Directives dispatched by kind", fmt.Sprintf("kind=%q", kind)).Inc()
}

// Registry returns the underlying registry.
func (m *Relay) Registry() *Registry { return m.reg }

// Serve exposes reg at addr/metrics until ctx is cancelled.
func Serve(ctx context.Context, addr string, reg *Registry, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", reg.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics server started", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown metrics server: %w", err)
		}
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	}
}
