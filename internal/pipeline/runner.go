package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-marketplace/kestrel/internal/domain"
)

// pullBackoff is the pause after a failed pull before trying again.
const pullBackoff = time.Second

// Runner owns the pull loops against the upstream event stream. Each worker
// pulls one bounded batch at a time, drives it through the orchestrator and
// acknowledges only after every record reached a terminal state.
type Runner struct {
	stream domain.EventStream
	orch   *Orchestrator
	cfg    domain.PipelineConfig
	log    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRunner creates a runner over the given stream and orchestrator.
func NewRunner(stream domain.EventStream, orch *Orchestrator, cfg domain.PipelineConfig, log *slog.Logger) *Runner {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.MaxBatch < 1 {
		cfg.MaxBatch = 100
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = 2 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		stream: stream,
		orch:   orch,
		cfg:    cfg,
		log:    log,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start launches the pull workers.
func (r *Runner) Start() {
	for i := 0; i < r.cfg.Workers; i++ {
		r.wg.Add(1)
		go r.run(i)
	}
	r.log.Info("pipeline workers started",
		"workers", r.cfg.Workers,
		"max_batch", r.cfg.MaxBatch,
		"max_wait", r.cfg.MaxWait)
}

// Stop cancels the workers and waits for in-flight batches to drain. A batch
// cut short by cancellation is not acknowledged and will be redelivered.
func (r *Runner) Stop() {
	r.cancel()
	r.wg.Wait()
	r.log.Info("pipeline workers stopped")
}

func (r *Runner) run(id int) {
	defer r.wg.Done()
	log := r.log.With("worker", id)

	for {
		if r.ctx.Err() != nil {
			return
		}

		records, err := r.stream.Pull(r.ctx, r.cfg.MaxBatch, r.cfg.MaxWait)
		if err != nil {
			if r.ctx.Err() != nil {
				return
			}
			log.Warn("stream pull failed", "error", err)
			select {
			case <-r.ctx.Done():
				return
			case <-time.After(pullBackoff):
			}
			continue
		}
		if len(records) == 0 {
			continue
		}

		res := r.orch.ProcessBatch(r.ctx, r.decode(records))
		if r.ctx.Err() != nil {
			// Shutdown mid-batch: leave offsets untouched so the remainder
			// is redelivered.
			return
		}

		if err := r.stream.Ack(r.ctx, records[len(records)-1]); err != nil {
			log.Warn("stream ack failed", "error", err)
		}

		log.Debug("batch complete",
			"records", len(records),
			"processed", res.Processed,
			"rejected", res.Rejected,
			"failed", res.Failed)
	}
}

// decode turns stream records into raw events. Undecodable records become
// empty raw events carrying only the stream identity; the validator rejects
// them and they surface on the data-quality channel instead of vanishing.
func (r *Runner) decode(records []domain.StreamRecord) []domain.RawEvent {
	events := make([]domain.RawEvent, 0, len(records))
	for _, rec := range records {
		var raw domain.RawEvent
		if err := json.Unmarshal(rec.Data, &raw); err != nil {
			r.log.Warn("undecodable stream record",
				"record_id", rec.ID,
				"error", err)
			raw = domain.RawEvent{}
		}
		if raw.SourceID == "" {
			raw.SourceID = rec.ID
		}
		events = append(events, raw)
	}
	return events
}
