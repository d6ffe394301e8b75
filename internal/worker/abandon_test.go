package worker_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pottery-backend/pottery/internal/worker"
)

type abandoning struct {
	*scripted
	abandoned map[worker.Stage]error
	mu        sync.Mutex
}

func newAbandoning() *abandoning {
	return &abandoning{scripted: newScripted(), abandoned: map[worker.Stage]error{}}
}

func (a *abandoning) Abandon(_ context.Context, stage worker.Stage, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.abandoned[stage] = err
}

func (a *abandoning) Abandoned(stage worker.Stage) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.abandoned[stage]
}

func (a *abandoning) chain(stages ...worker.Stage) worker.Chain {
	jobs := make([]worker.Job, 0, len(stages))
	for _, st := range stages {
		jobs = append(jobs, worker.Job{Stage: st, Pipeline: a})
	}
	return worker.Chain{Jobs: jobs, Policy: worker.ContinueOnSuccess}
}

func TestAbandon(t *testing.T) {
	t.Run("PoolRetriesExhausted", func(t *testing.T) {
		pool := newPool(t, worker.Options{Threads: 1, MaxRetries: 1})
		a := newAbandoning()
		a.script["compile"] = []worker.Outcome{worker.OutcomeRetry, worker.OutcomeRetry}

		require.NoError(t, pool.Schedule(context.Background(), a.chain("compile", "run")))
		waitIdle(t, pool)

		require.ErrorIs(t, a.Abandoned("compile"), worker.ErrRetriesExhausted)
		assert.Equal(t, []worker.Stage{"compile", "compile"}, a.Calls())
	})

	t.Run("Panic", func(t *testing.T) {
		pool := newPool(t, worker.Options{Threads: 1})
		a := newAbandoning()
		a.script["run"] = []worker.Outcome{worker.Outcome(-1)}

		require.NoError(t, pool.Schedule(context.Background(), a.chain("compile", "run")))
		waitIdle(t, pool)

		require.ErrorIs(t, a.Abandoned("run"), worker.ErrPanicked)
		assert.NoError(t, a.Abandoned("compile"))
	})

	t.Run("BlockingRetriesExhausted", func(t *testing.T) {
		b := worker.NewBlocking(&worker.Env{}, worker.Options{MaxRetries: 1, RetryDelay: time.Millisecond})
		a := newAbandoning()
		a.script["compile"] = []worker.Outcome{worker.OutcomeRetry, worker.OutcomeRetry}

		require.NoError(t, b.Schedule(context.Background(), a.chain("compile")))

		require.ErrorIs(t, a.Abandoned("compile"), worker.ErrRetriesExhausted)
	})

	t.Run("StageFailureIsNotAbandoned", func(t *testing.T) {
		b := worker.NewBlocking(&worker.Env{}, worker.Options{})
		a := newAbandoning()
		a.script["compile"] = []worker.Outcome{worker.OutcomeFailed}

		require.NoError(t, b.Schedule(context.Background(), a.chain("compile")))

		assert.NoError(t, a.Abandoned("compile"))
	})
}
