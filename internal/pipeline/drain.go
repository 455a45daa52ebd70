package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/wolfman30/support-copilot/internal/inbox"
)

// DrainReport summarizes one pass over the offline queue.
type DrainReport struct {
	Skipped    bool   `json:"skipped"`
	Reason     string `json:"reason,omitempty"`
	Attempted  int    `json:"attempted"`
	Drafted    int    `json:"drafted"`
	Requeued   int    `json:"requeued"`
	Superseded int    `json:"superseded"`
	Remaining  int    `json:"remaining"`
}

// HealthSource reports upstream health. *HealthChecker implements it.
type HealthSource interface {
	Check(ctx context.Context) Health
}

// Drain reprocesses queued threads oldest first. A message is cleared from
// the queue only after its rerun produced a draft; a failed rerun leaves it
// queued with its retry count incremented. Nothing is attempted while health
// is offline.
func (p *Pipeline) Drain(ctx context.Context, health Health) (DrainReport, error) {
	var report DrainReport
	if health.Offline() {
		report.Skipped = true
		report.Reason = health.Reason()
		p.metrics.ObserveDrain("skipped")
		return p.finishDrain(ctx, report), nil
	}

	for item, err := range p.queue.Drainable(ctx) {
		if err != nil {
			return p.finishDrain(ctx, report), fmt.Errorf("pipeline: drain: %w", err)
		}
		if err := p.drainThread(ctx, item, health, &report); err != nil {
			return p.finishDrain(ctx, report), err
		}
		if ctx.Err() != nil {
			break
		}
	}
	return p.finishDrain(ctx, report), nil
}

// drainThread reruns the messages of one thread oldest first, each with the
// tone it was queued with, so every draft sees the earlier ones in its
// history. It stops at the first message that is queued again.
func (p *Pipeline) drainThread(ctx context.Context, item inbox.QueuedItem, health Health, report *DrainReport) error {
	messages := item.Messages()
	for i, pm := range messages {
		report.Attempted++
		outcome, err := p.Process(ctx, pm.Message, health, RequestTone(pm.Tone))
		if err != nil {
			p.metrics.ObserveDrain("error")
			return err
		}
		if outcome.Stage == StageQueued {
			report.Requeued++
			p.metrics.ObserveDrain("requeued")
			return nil
		}

		report.Drafted++
		p.metrics.ObserveDrain("drafted")
		settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.enqueueTimeout)
		removed, err := p.queue.Settle(settleCtx, pm.Message.ThreadID, pm.Message.ID)
		cancel()
		if err != nil {
			return fmt.Errorf("pipeline: drain: %w", err)
		}
		if i == len(messages)-1 && !removed {
			report.Superseded++
			p.logger.WithThread(pm.Message.ThreadID).Info("newer message queued during drain; keeping it",
				"drafted_message_id", pm.Message.ID)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
	return nil
}

func (p *Pipeline) finishDrain(ctx context.Context, report DrainReport) DrainReport {
	qctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.enqueueTimeout)
	defer cancel()
	if n, err := p.queue.Len(qctx); err == nil {
		report.Remaining = n
		p.metrics.SetQueueDepth(n)
	}
	if report.Attempted > 0 || report.Skipped {
		p.logger.Info("offline queue drained",
			"skipped", report.Skipped,
			"attempted", report.Attempted,
			"drafted", report.Drafted,
			"requeued", report.Requeued,
			"remaining", report.Remaining,
		)
	}
	return report
}

// DrainEvery checks health and drains the offline queue on every tick until
// ctx is done.
func (p *Pipeline) DrainEvery(ctx context.Context, interval time.Duration, health HealthSource) {
	if interval <= 0 || health == nil {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if _, err := p.Drain(ctx, health.Check(ctx)); err != nil && ctx.Err() == nil {
			p.logger.Error("offline queue drain failed", "error", err)
		}
	}
}
