package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/otel/codes"

	"github.com/pottery-backend/pottery/internal/logger"
)

// Ensure Blocking implements Worker interface.
var _ Worker = (*Blocking)(nil)

var errRetry = errors.New("job asked to be retried")

// Worker for command line tools: Schedule returns once the whole chain has run.
type Blocking struct {
	env     *Env
	backoff func() retry.Backoff

	mu       sync.Mutex
	inFlight map[*entry]struct{}
}

func NewBlocking(env *Env, opts Options) *Blocking {
	delay := max(opts.RetryDelay, time.Millisecond)
	return &Blocking{
		env: env,
		backoff: func() retry.Backoff {
			b := retry.NewConstant(delay)
			if opts.MaxRetries > 0 {
				b = retry.WithMaxRetries(uint64(opts.MaxRetries), b)
			}
			return b
		},
		inFlight: make(map[*entry]struct{}),
	}
}

func (b *Blocking) Schedule(ctx context.Context, chain Chain) error {
	ctx, span := tracer.Start(ctx, "Blocking.Schedule")
	defer span.End()

	if len(chain.Jobs) == 0 {
		span.RecordError(ErrEmptyChain)
		span.SetStatus(codes.Error, "refusing to schedule empty chain")
		return ErrEmptyChain
	}

	e := &entry{
		ctx:         ctx,
		chain:       chain,
		id:          uuid.New(),
		scheduledAt: time.Now(),
		state:       JobStateRunning,
	}

	b.mu.Lock()
	b.inFlight[e] = struct{}{}
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.inFlight, e)
		b.mu.Unlock()
	}()

	for {
		b.mu.Lock()
		job, ok := e.next()
		b.mu.Unlock()
		if !ok {
			break
		}

		outcome := b.runWithRetries(ctx, e, job)

		b.mu.Lock()
		if outcome == OutcomeOK {
			e.advance()
		} else {
			e.fail()
		}
		b.mu.Unlock()
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "ran chain")
	return nil
}

func (b *Blocking) runWithRetries(ctx context.Context, e *entry, job Job) Outcome {
	var outcome Outcome
	err := retry.Do(ctx, b.backoff(), func(ctx context.Context) error {
		outcome = job.run(ctx, b.env)
		if outcome != OutcomeRetry {
			return nil
		}

		b.mu.Lock()
		e.retries++
		b.mu.Unlock()
		return retry.RetryableError(errRetry)
	})
	if err != nil {
		logger.Logger.WarnContext(ctx, "job did not complete", "job", job.Description(), "error", err)
		if errors.Is(err, errRetry) {
			err = ErrRetriesExhausted
		}
		job.abandon(ctx, err)
		return OutcomeFailed
	}
	return outcome
}

func (b *Blocking) ListQueue() []JobStatus {
	b.mu.Lock()
	defer b.mu.Unlock()

	statuses := make([]JobStatus, 0, len(b.inFlight))
	for e := range b.inFlight {
		statuses = append(statuses, e.status())
	}
	return statuses
}

// Chains always run on the caller's goroutine
func (b *Blocking) Resize(n int) error {
	if n < 1 {
		return ErrInvalidSize
	}
	return nil
}

func (b *Blocking) Threads() int {
	return 1
}
