package correct

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Batching defaults for long-running consumers.
const (
	DefaultMaxBatch   = 16
	DefaultFlushAfter = 50 * time.Millisecond
)

// Batcher groups pending text-suggestion requests into one strategy call
// per batch. Each caller blocks on a future resolved when its batch
// completes, which bounds tail latency under load: a request waits at
// most flushAfter before inference starts.
type Batcher struct {
	suggester  TextSuggester
	maxBatch   int
	flushAfter time.Duration
	requests   chan batchRequest
	done       chan struct{}
	log        zerolog.Logger
}

type batchRequest struct {
	req   SuggestRequest
	reply chan batchReply
}

type batchReply struct {
	suggestion Suggestion
	err        error
}

// NewBatcher creates a batcher; Run must be started before Suggest is
// called.
func NewBatcher(s TextSuggester, maxBatch int, flushAfter time.Duration, log zerolog.Logger) *Batcher {
	if maxBatch < 1 {
		maxBatch = 1
	}
	return &Batcher{
		suggester:  s,
		maxBatch:   maxBatch,
		flushAfter: flushAfter,
		requests:   make(chan batchRequest),
		done:       make(chan struct{}),
		log:        log,
	}
}

// Run accumulates requests until the batch is full or the flush timer
// fires, then issues one SuggestBatch call and resolves every waiter.
// It returns when ctx is canceled.
func (b *Batcher) Run(ctx context.Context) {
	defer close(b.done)

	var pending []batchRequest
	var timer *time.Timer
	var timeout <-chan time.Time

	flush := func() {
		if len(pending) == 0 {
			return
		}
		batch := pending
		pending = nil
		timeout = nil
		b.dispatch(ctx, batch)
	}

	for {
		select {
		case <-ctx.Done():
			// Fail pending waiters rather than leaving them blocked.
			for _, r := range pending {
				r.reply <- batchReply{err: ctx.Err()}
			}
			return

		case r := <-b.requests:
			pending = append(pending, r)
			if len(pending) >= b.maxBatch {
				if timer != nil {
					timer.Stop()
				}
				flush()
				continue
			}
			if len(pending) == 1 {
				timer = time.NewTimer(b.flushAfter)
				timeout = timer.C
			}

		case <-timeout:
			flush()
		}
	}
}

func (b *Batcher) dispatch(ctx context.Context, batch []batchRequest) {
	reqs := make([]SuggestRequest, len(batch))
	for i, r := range batch {
		reqs[i] = r.req
	}

	suggestions, err := b.suggester.SuggestBatch(ctx, reqs)
	if err != nil || len(suggestions) != len(batch) {
		if err == nil {
			err = context.Canceled
		}
		b.log.Warn().Err(err).Int("batch", len(batch)).Msg("suggestion batch failed")
		for _, r := range batch {
			r.reply <- batchReply{err: err}
		}
		return
	}

	for i, r := range batch {
		r.reply <- batchReply{suggestion: suggestions[i]}
	}
}

// Suggest enqueues one request and blocks until its batch resolves or
// ctx is canceled.
func (b *Batcher) Suggest(ctx context.Context, req SuggestRequest) (Suggestion, error) {
	reply := make(chan batchReply, 1)
	select {
	case b.requests <- batchRequest{req: req, reply: reply}:
	case <-ctx.Done():
		return Suggestion{}, ctx.Err()
	case <-b.done:
		return Suggestion{}, context.Canceled
	}

	select {
	case r := <-reply:
		return r.suggestion, r.err
	case <-ctx.Done():
		return Suggestion{}, ctx.Err()
	}
}
