package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/Delinahwakio/fantooo-dispatch/internal/chats"
	"github.com/Delinahwakio/fantooo-dispatch/internal/observability/metrics"
	"github.com/Delinahwakio/fantooo-dispatch/pkg/logging"
)

// TickStats tallies one processor tick by outcome.
type TickStats struct {
	Processed int `json:"processed"`
	Assigned  int `json:"assigned"`
	Failed    int `json:"failed"`
	Escalated int `json:"escalated"`
}

// Processor drains the top of the queue on a fixed cadence. It holds no
// state between ticks beyond what lives in the queue.
type Processor struct {
	engine  *Engine
	queue   Queue
	metrics *metrics.DispatchMetrics
	logger  *logging.Logger
}

// NewProcessor creates a queue processor over the engine and its queue.
func NewProcessor(engine *Engine, queue Queue, m *metrics.DispatchMetrics, logger *logging.Logger) *Processor {
	if engine == nil {
		panic("dispatch: engine cannot be nil")
	}
	if queue == nil {
		panic("dispatch: queue cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Processor{engine: engine, queue: queue, metrics: m, logger: logger}
}

// Tick pulls up to maxAssignments entries in priority order and attempts
// each. Infrastructure errors stop the tick early; the caller backs off and
// retries on the next tick rather than spinning.
func (p *Processor) Tick(ctx context.Context, maxAssignments int) (TickStats, error) {
	start := time.Now()
	defer func() {
		p.metrics.ObserveTick(time.Since(start).Seconds())
	}()

	var stats TickStats

	entries, err := p.queue.PeekTop(ctx, maxAssignments)
	if err != nil {
		return stats, err
	}

	for _, entry := range entries {
		stats.Processed++
		res, err := p.engine.Assign(ctx, entry.ChatID)
		if err != nil {
			switch {
			case errors.Is(err, ErrNotQueued):
				// Raced away between peek and assign; nothing to do.
				stats.Processed--
			case errors.Is(err, chats.ErrNotFound), errors.Is(err, ErrInvalidChatState):
				stats.Failed++
				p.logger.Warn("dropping unassignable queue entry", "error", err, "chat_id", entry.ChatID)
				if removeErr := p.queue.Remove(ctx, entry.ChatID); removeErr != nil {
					p.logger.Error("failed to drop queue entry", "error", removeErr, "chat_id", entry.ChatID)
				}
			default:
				// Infrastructure failure: stop and let the next tick retry.
				stats.Failed++
				p.updateDepthGauge(ctx)
				return stats, err
			}
			continue
		}

		switch {
		case res.Success:
			stats.Assigned++
		case res.Escalated:
			stats.Escalated++
		default:
			stats.Failed++
		}
	}

	p.updateDepthGauge(ctx)

	if stats.Processed > 0 {
		p.logger.Info("queue tick complete",
			"processed", stats.Processed,
			"assigned", stats.Assigned,
			"failed", stats.Failed,
			"escalated", stats.Escalated,
		)
	}
	return stats, nil
}

func (p *Processor) updateDepthGauge(ctx context.Context) {
	if p.metrics == nil {
		return
	}
	qs, err := p.queue.Stats(ctx)
	if err != nil {
		p.logger.Warn("failed to read queue stats", "error", err)
		return
	}
	for priority, depth := range qs.ByPriority {
		p.metrics.SetQueueDepth(string(priority), depth)
	}
}
