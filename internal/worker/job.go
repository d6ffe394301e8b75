package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/pottery-backend/pottery/internal/containers"
	"github.com/pottery-backend/pottery/internal/logger"
	"github.com/pottery-backend/pottery/internal/repo"
	"github.com/pottery-backend/pottery/internal/store"
)

type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeFailed
	// Run the same job again later, after other queued work
	OutcomeRetry
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeFailed:
		return "failed"
	case OutcomeRetry:
		return "retry"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Collaborators shared by every job the worker runs
type Env struct {
	Containers containers.Manager
	Store      store.Store
	Repos      *repo.Factory
}

// Names one step of a pipeline
type Stage string

// A Pipeline owns the state its jobs operate on and dispatches on the stage itself.
type Pipeline interface {
	RunStage(ctx context.Context, env *Env, stage Stage) Outcome
	// Must not block on the stage running
	DescribeStage(stage Stage) string
}

type Job struct {
	Stage    Stage
	Pipeline Pipeline
}

// Implemented by pipelines that record their own failures. Abandon is called when a stage ended as
// FAILED without the stage deciding so: it panicked or ran out of retries.
type Abandoner interface {
	Abandon(ctx context.Context, stage Stage, err error)
}

var (
	ErrPanicked         = errors.New("job panicked")
	ErrRetriesExhausted = errors.New("job exhausted its retries")
)

func (j Job) abandon(ctx context.Context, err error) {
	if a, ok := j.Pipeline.(Abandoner); ok {
		a.Abandon(ctx, j.Stage, err)
	}
}

func (j Job) Description() string {
	return j.Pipeline.DescribeStage(j.Stage)
}

// A panicking job counts as failed so the chain always terminates
func (j Job) run(ctx context.Context, env *Env) (outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			logger.Logger.ErrorContext(
				ctx,
				"job panicked",
				"job", j.Description(),
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
			outcome = OutcomeFailed
			j.abandon(ctx, fmt.Errorf("%w: %v", ErrPanicked, r))
		}
	}()

	return j.Pipeline.RunStage(ctx, env, j.Stage)
}

const funcStage Stage = "func"

type funcPipeline struct {
	description string
	fn          func(context.Context, *Env) Outcome
}

func (f *funcPipeline) RunStage(ctx context.Context, env *Env, _ Stage) Outcome {
	return f.fn(ctx, env)
}

func (f *funcPipeline) DescribeStage(Stage) string {
	return f.description
}

// Wraps a single function as a job, mostly for continuations
func Func(description string, fn func(context.Context, *Env) Outcome) Job {
	return Job{Stage: funcStage, Pipeline: &funcPipeline{description: description, fn: fn}}
}

type ContinuationPolicy int

const (
	// Continuation only runs when every job in the chain returned OK
	ContinueOnSuccess ContinuationPolicy = iota
	// Continuation also runs after a job failed
	ContinueAlways
)

type Chain struct {
	Jobs         []Job
	Continuation *Job
	Policy       ContinuationPolicy
}

type JobState string

const (
	JobStateQueued    JobState = "QUEUED"
	JobStateRunning   JobState = "RUNNING"
	JobStateRetryWait JobState = "RETRY_WAIT"
)

// Snapshot of one scheduled chain
type JobStatus struct {
	ScheduledAt time.Time `json:"scheduled_at"`
	ID          string    `json:"id"`
	Description string    `json:"description"`
	State       JobState  `json:"state"`
	// Index of the current job, len(jobs) while the continuation runs
	Position int `json:"position"`
	Length   int `json:"length"`
	Retries  int `json:"retries"`
}

//go:generate mockgen -destination ./mock/mock.go -package mock . Worker,Pipeline

type Worker interface {
	Schedule(ctx context.Context, chain Chain) error
	ListQueue() []JobStatus
	Resize(n int) error
	Threads() int
}
