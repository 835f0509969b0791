package pipeline

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/tmercier/fieldmend/internal/queue"
)

// Worker consumes ingested records from the mend_records stream and runs
// each through the pipeline.
type Worker struct {
	pipeline *Pipeline
	queue    *queue.Queue
	consumer string
	log      zerolog.Logger
}

// NewWorker creates a Worker with a named consumer identity.
func NewWorker(p *Pipeline, q *queue.Queue, consumer string, log zerolog.Logger) *Worker {
	return &Worker{pipeline: p, queue: q, consumer: consumer, log: log}
}

// Run consumes records until ctx is canceled. Records that fail to
// decode are acked and dropped; processing failures leave the message
// pending for redelivery.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.queue.EnsureStreams(ctx); err != nil {
		return err
	}
	w.log.Info().Str("consumer", w.consumer).Msg("worker started")

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		msg, msgID, err := w.queue.ReadRecord(ctx, w.consumer)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return ctx.Err()
			}
			if msgID != "" {
				// Undecodable payload; acking avoids a poison loop.
				w.log.Error().Err(err).Str("msg", msgID).Msg("dropping malformed record")
				w.queue.AckRecord(ctx, msgID)
				continue
			}
			w.log.Warn().Err(err).Msg("read record failed")
			continue
		}

		if _, err := w.pipeline.ProcessRecord(ctx, msg.DatasetID, msg.RecordID, msg.Fields); err != nil {
			w.log.Error().Err(err).Str("record", msg.RecordID).Msg("record processing failed")
			continue
		}
		if err := w.queue.AckRecord(ctx, msgID); err != nil {
			w.log.Warn().Err(err).Str("msg", msgID).Msg("ack failed")
		}
	}
}
