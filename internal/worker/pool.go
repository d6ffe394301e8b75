package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/pottery-backend/pottery/internal/logger"
)

const name = "github.com/pottery-backend/pottery/internal/worker"

var (
	tracer = otel.Tracer(name)
	meter  = otel.Meter(name)
)

var (
	ErrStopped     = errors.New("worker has been shut down")
	ErrEmptyChain  = errors.New("chain has no jobs")
	ErrInvalidSize = errors.New("thread count must be at least 1")
)

// Ensure Pool implements Worker interface.
var _ Worker = (*Pool)(nil)

type Options struct {
	Threads int
	// Retries allowed per job before it counts as failed, 0 allows any number
	MaxRetries int
	// Time a retried job waits before it is queued again
	RetryDelay time.Duration
}

type entry struct {
	ctx         context.Context
	chain       Chain
	id          uuid.UUID
	scheduledAt time.Time
	state       JobState
	position    int
	retries     int
	failed      bool
}

// Next job to run, false once the chain and its continuation are finished
func (e *entry) next() (Job, bool) {
	if e.position < len(e.chain.Jobs) {
		return e.chain.Jobs[e.position], true
	}
	if e.position == len(e.chain.Jobs) && e.chain.Continuation != nil &&
		(!e.failed || e.chain.Policy == ContinueAlways) {
		return *e.chain.Continuation, true
	}
	return Job{}, false
}

func (e *entry) advance() {
	e.position++
	e.retries = 0
}

func (e *entry) fail() {
	if e.position < len(e.chain.Jobs) {
		e.failed = true
		e.position = len(e.chain.Jobs)
	} else {
		e.position++
	}
	e.retries = 0
}

func (e *entry) status() JobStatus {
	s := JobStatus{
		ScheduledAt: e.scheduledAt,
		ID:          e.id.String(),
		State:       e.state,
		Position:    e.position,
		Length:      len(e.chain.Jobs),
		Retries:     e.retries,
	}
	if job, ok := e.next(); ok {
		s.Description = job.Description()
	}
	return s
}

// One FIFO queue drained by a resizable set of goroutines. A chain is driven by one goroutine at a
// time; a retried job goes to the back of the queue and may resume on another goroutine.
type Pool struct {
	env  *Env
	cond *sync.Cond
	// every chain not yet finished, in schedule order
	live  []*entry
	ready []*entry

	jobs   metric.Int64Counter
	queued metric.Int64UpDownCounter

	wg         sync.WaitGroup
	mu         sync.Mutex
	target     int
	running    int
	maxRetries int
	retryDelay time.Duration
	closed     bool
}

func NewPool(env *Env, opts Options) (*Pool, error) {
	jobs, err := meter.Int64Counter(
		"pottery.worker.jobs",
		metric.WithDescription("jobs executed by outcome"),
	)
	if err != nil {
		return nil, err
	}
	queued, err := meter.Int64UpDownCounter(
		"pottery.worker.queue",
		metric.WithDescription("chains scheduled and not yet finished"),
	)
	if err != nil {
		return nil, err
	}

	p := &Pool{
		env:        env,
		jobs:       jobs,
		queued:     queued,
		maxRetries: opts.MaxRetries,
		retryDelay: opts.RetryDelay,
	}
	p.cond = sync.NewCond(&p.mu)

	if err := p.Resize(max(opts.Threads, 1)); err != nil {
		return nil, err
	}

	return p, nil
}

func (p *Pool) Schedule(ctx context.Context, chain Chain) error {
	ctx, span := tracer.Start(ctx, "Pool.Schedule", trace.WithAttributes(
		attribute.Int("jobs", len(chain.Jobs)),
	))
	defer span.End()

	if len(chain.Jobs) == 0 {
		span.RecordError(ErrEmptyChain)
		span.SetStatus(codes.Error, "refusing to schedule empty chain")
		return ErrEmptyChain
	}

	e := &entry{
		ctx:         context.WithoutCancel(ctx),
		chain:       chain,
		id:          uuid.New(),
		scheduledAt: time.Now(),
		state:       JobStateQueued,
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		span.RecordError(ErrStopped)
		span.SetStatus(codes.Error, "worker is shut down")
		return ErrStopped
	}
	p.live = append(p.live, e)
	p.ready = append(p.ready, e)
	p.cond.Signal()
	p.mu.Unlock()

	p.queued.Add(ctx, 1)

	span.AddEvent("enqueued", trace.WithAttributes(attribute.String("entry", e.id.String())))
	span.RecordError(nil)
	span.SetStatus(codes.Ok, "scheduled chain")
	return nil
}

func (p *Pool) ListQueue() []JobStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	statuses := make([]JobStatus, 0, len(p.live))
	for _, e := range p.live {
		statuses = append(statuses, e.status())
	}
	return statuses
}

// Goroutines above the new size exit after finishing the chain they are driving
func (p *Pool) Resize(n int) error {
	if n < 1 {
		return ErrInvalidSize
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrStopped
	}

	p.target = n
	for p.running < p.target {
		p.running++
		p.wg.Add(1)
		go p.loop()
	}
	p.cond.Broadcast()

	logger.Logger.Info("resized worker pool", "threads", n)
	return nil
}

func (p *Pool) Threads() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.target
}

// Stops accepting work and waits for running chains. Chains still queued are dropped; their
// owners recover them on the next start.
func (p *Pool) Shutdown(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "Pool.Shutdown")
	defer span.End()

	p.mu.Lock()
	p.closed = true
	abandoned := p.ready
	p.ready = nil
	p.cond.Broadcast()
	p.mu.Unlock()

	if len(abandoned) > 0 {
		logger.Logger.WarnContext(ctx, "dropping queued chains on shutdown", "count", len(abandoned))
	}
	for _, e := range abandoned {
		p.finish(e)
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		span.AddEvent("hit_timeout")
		span.RecordError(ctx.Err())
		span.SetStatus(codes.Error, "error shutting down in time")
		return errors.New("error shutting down worker pool in time")
	case <-done:
		span.RecordError(nil)
		span.SetStatus(codes.Ok, "worker pool stopped")
		return nil
	}
}

func (p *Pool) loop() {
	defer p.wg.Done()

	for {
		p.mu.Lock()
		for len(p.ready) == 0 && !p.closed && p.running <= p.target {
			p.cond.Wait()
		}
		if p.closed || p.running > p.target {
			p.running--
			p.mu.Unlock()
			return
		}
		e := p.ready[0]
		p.ready[0] = nil
		p.ready = p.ready[1:]
		e.state = JobStateRunning
		p.mu.Unlock()

		p.drive(e)
	}
}

// Runs jobs of e until the chain ends or a job asks to be retried
func (p *Pool) drive(e *entry) {
	for {
		job, ok := e.next()
		if !ok {
			p.finish(e)
			return
		}

		outcome := p.execute(e.ctx, job)
		p.jobs.Add(e.ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome.String())))

		exhausted := false
		p.mu.Lock()
		switch outcome {
		case OutcomeOK:
			e.advance()
		case OutcomeFailed:
			e.fail()
		case OutcomeRetry:
			if p.maxRetries > 0 && e.retries >= p.maxRetries {
				logger.Logger.WarnContext(
					e.ctx,
					"job exhausted its retries",
					"job", job.Description(),
					"retries", e.retries,
				)
				e.fail()
				exhausted = true
				break
			}
			e.retries++
			p.mu.Unlock()
			p.requeue(e)
			return
		}
		p.mu.Unlock()

		if exhausted {
			job.abandon(e.ctx, ErrRetriesExhausted)
		}
	}
}

func (p *Pool) execute(ctx context.Context, job Job) Outcome {
	ctx, span := tracer.Start(ctx, "Pool.execute", trace.WithAttributes(
		attribute.String("job", job.Description()),
	))
	defer span.End()

	outcome := job.run(ctx, p.env)

	span.SetAttributes(attribute.String("outcome", outcome.String()))
	if outcome == OutcomeFailed {
		span.SetStatus(codes.Error, "job failed")
		return outcome
	}
	span.SetStatus(codes.Ok, "job ran")
	return outcome
}

func (p *Pool) requeue(e *entry) {
	push := func() {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			logger.Logger.WarnContext(e.ctx, "dropping retried chain after shutdown", "entry", e.id.String())
			p.finish(e)
			return
		}
		e.state = JobStateQueued
		p.ready = append(p.ready, e)
		p.cond.Signal()
		p.mu.Unlock()
	}

	if p.retryDelay <= 0 {
		push()
		return
	}

	p.mu.Lock()
	e.state = JobStateRetryWait
	p.mu.Unlock()
	time.AfterFunc(p.retryDelay, push)
}

func (p *Pool) finish(e *entry) {
	p.mu.Lock()
	for i, l := range p.live {
		if l == e {
			p.live = append(p.live[:i], p.live[i+1:]...)
			break
		}
	}
	p.mu.Unlock()

	p.queued.Add(e.ctx, -1)
}
