package worker_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/pottery-backend/pottery/internal/worker"
	mockworker "github.com/pottery-backend/pottery/internal/worker/mock"
)

// Pipeline that records every stage it runs and replays scripted outcomes
type scripted struct {
	hooks   map[worker.Stage]func(call int)
	script  map[worker.Stage][]worker.Outcome
	calls   []worker.Stage
	counted map[worker.Stage]int
	mu      sync.Mutex
}

func newScripted() *scripted {
	return &scripted{
		hooks:   map[worker.Stage]func(int){},
		script:  map[worker.Stage][]worker.Outcome{},
		counted: map[worker.Stage]int{},
	}
}

func (s *scripted) RunStage(_ context.Context, _ *worker.Env, stage worker.Stage) worker.Outcome {
	s.mu.Lock()
	s.calls = append(s.calls, stage)
	call := s.counted[stage]
	s.counted[stage]++
	outcome := worker.OutcomeOK
	if queue := s.script[stage]; len(queue) > 0 {
		outcome = queue[0]
		s.script[stage] = queue[1:]
	}
	hook := s.hooks[stage]
	s.mu.Unlock()

	if hook != nil {
		hook(call)
	}
	if outcome == worker.Outcome(-1) {
		panic("scripted panic")
	}
	return outcome
}

func (s *scripted) DescribeStage(stage worker.Stage) string {
	return "stage " + string(stage)
}

func (s *scripted) Calls() []worker.Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]worker.Stage(nil), s.calls...)
}

func (s *scripted) chain(policy worker.ContinuationPolicy, stages ...worker.Stage) worker.Chain {
	jobs := make([]worker.Job, 0, len(stages))
	for _, st := range stages {
		jobs = append(jobs, worker.Job{Stage: st, Pipeline: s})
	}
	return worker.Chain{
		Jobs:         jobs,
		Continuation: &worker.Job{Stage: "continuation", Pipeline: s},
		Policy:       policy,
	}
}

func newPool(t *testing.T, opts worker.Options) *worker.Pool {
	t.Helper()
	pool, err := worker.NewPool(&worker.Env{}, opts)
	require.NoError(t, err, "failed to create pool")
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, pool.Shutdown(ctx), "pool did not shut down")
	})
	return pool
}

func waitIdle(t *testing.T, w worker.Worker) {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(w.ListQueue()) == 0
	}, 5*time.Second, 5*time.Millisecond, "queue never drained")
}

func TestPoolRetry(t *testing.T) {
	t.Run("RetriedUntilOK", func(t *testing.T) {
		pool := newPool(t, worker.Options{Threads: 2})
		s := newScripted()
		s.script["compile"] = []worker.Outcome{
			worker.OutcomeRetry,
			worker.OutcomeRetry,
			worker.OutcomeRetry,
		}

		require.NoError(t, pool.Schedule(context.Background(), s.chain(worker.ContinueOnSuccess, "compile", "run")))
		waitIdle(t, pool)

		assert.Equal(
			t,
			[]worker.Stage{"compile", "compile", "compile", "compile", "run", "continuation"},
			s.Calls(),
			"stages ran out of order",
		)
	})

	t.Run("RetryGoesToBackOfQueue", func(t *testing.T) {
		pool := newPool(t, worker.Options{Threads: 1})
		s := newScripted()
		gate := make(chan struct{})
		s.hooks["a"] = func(call int) {
			if call == 0 {
				<-gate
			}
		}
		s.script["a"] = []worker.Outcome{worker.OutcomeRetry}

		first := worker.Chain{Jobs: []worker.Job{{Stage: "a", Pipeline: s}}}
		second := worker.Chain{Jobs: []worker.Job{{Stage: "b", Pipeline: s}}}

		require.NoError(t, pool.Schedule(context.Background(), first))
		require.Eventually(t, func() bool {
			return len(s.Calls()) == 1
		}, 5*time.Second, time.Millisecond)
		require.NoError(t, pool.Schedule(context.Background(), second))
		close(gate)

		waitIdle(t, pool)
		assert.Equal(t, []worker.Stage{"a", "b", "a"}, s.Calls(), "retried job should run after queued work")
	})

	t.Run("RetriesExhausted", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		pipeline := mockworker.NewMockPipeline(ctrl)
		pipeline.EXPECT().DescribeStage(gomock.Any()).Return("flaky").AnyTimes()
		pipeline.EXPECT().
			RunStage(gomock.Any(), gomock.Any(), worker.Stage("flaky")).
			Return(worker.OutcomeRetry).
			Times(3)

		pool := newPool(t, worker.Options{Threads: 1, MaxRetries: 2, RetryDelay: time.Millisecond})

		done := make(chan struct{})
		cont := worker.Func("finish", func(context.Context, *worker.Env) worker.Outcome {
			close(done)
			return worker.OutcomeOK
		})
		err := pool.Schedule(context.Background(), worker.Chain{
			Jobs:         []worker.Job{{Stage: "flaky", Pipeline: pipeline}},
			Continuation: &cont,
			Policy:       worker.ContinueAlways,
		})
		require.NoError(t, err)

		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("continuation never ran")
		}
		waitIdle(t, pool)
	})
}

func TestPoolFailure(t *testing.T) {
	t.Run("ContinueOnSuccess", func(t *testing.T) {
		pool := newPool(t, worker.Options{Threads: 1})
		s := newScripted()
		s.script["compile"] = []worker.Outcome{worker.OutcomeFailed}

		require.NoError(t, pool.Schedule(context.Background(), s.chain(worker.ContinueOnSuccess, "compile", "run")))
		waitIdle(t, pool)

		assert.Equal(t, []worker.Stage{"compile"}, s.Calls(), "failure should abort the chain")
	})

	t.Run("ContinueAlways", func(t *testing.T) {
		pool := newPool(t, worker.Options{Threads: 1})
		s := newScripted()
		s.script["compile"] = []worker.Outcome{worker.OutcomeFailed}

		require.NoError(t, pool.Schedule(context.Background(), s.chain(worker.ContinueAlways, "compile", "run")))
		waitIdle(t, pool)

		assert.Equal(t, []worker.Stage{"compile", "continuation"}, s.Calls(), "continuation should run after failure")
	})

	t.Run("PanicCountsAsFailed", func(t *testing.T) {
		pool := newPool(t, worker.Options{Threads: 1})
		s := newScripted()
		s.script["compile"] = []worker.Outcome{worker.Outcome(-1)}

		require.NoError(t, pool.Schedule(context.Background(), s.chain(worker.ContinueAlways, "compile", "run")))
		waitIdle(t, pool)

		assert.Equal(t, []worker.Stage{"compile", "continuation"}, s.Calls())
	})
}

func TestPoolListQueue(t *testing.T) {
	pool := newPool(t, worker.Options{Threads: 1})
	s := newScripted()
	release := make(chan struct{})
	started := make(chan struct{})
	s.hooks["slow"] = func(int) {
		close(started)
		<-release
	}

	require.NoError(t, pool.Schedule(context.Background(), s.chain(worker.ContinueOnSuccess, "slow")))
	require.NoError(t, pool.Schedule(context.Background(), s.chain(worker.ContinueOnSuccess, "fast")))
	<-started

	queue := pool.ListQueue()
	require.Len(t, queue, 2, "both chains should be listed")
	assert.Equal(t, worker.JobStateRunning, queue[0].State)
	assert.Equal(t, "stage slow", queue[0].Description)
	assert.Equal(t, worker.JobStateQueued, queue[1].State)
	assert.Equal(t, "stage fast", queue[1].Description)
	assert.Equal(t, 1, queue[1].Length)

	close(release)
	waitIdle(t, pool)
}

func TestPoolResize(t *testing.T) {
	t.Run("KeepsWork", func(t *testing.T) {
		pool := newPool(t, worker.Options{Threads: 1})
		s := newScripted()
		release := make(chan struct{})
		s.hooks["s0"] = func(int) { <-release }

		for i := range 10 {
			stage := worker.Stage(fmt.Sprintf("s%d", i))
			require.NoError(t, pool.Schedule(context.Background(), s.chain(worker.ContinueOnSuccess, stage)))
		}

		require.NoError(t, pool.Resize(4))
		assert.Equal(t, 4, pool.Threads())
		require.NoError(t, pool.Resize(2))
		assert.Equal(t, 2, pool.Threads())
		close(release)

		waitIdle(t, pool)
		assert.Len(t, s.Calls(), 20, "every job and continuation should run once")
	})

	t.Run("Invalid", func(t *testing.T) {
		pool := newPool(t, worker.Options{Threads: 1})
		require.ErrorIs(t, pool.Resize(0), worker.ErrInvalidSize)
		assert.Equal(t, 1, pool.Threads())
	})
}

func TestPoolSchedule(t *testing.T) {
	t.Run("EmptyChain", func(t *testing.T) {
		pool := newPool(t, worker.Options{Threads: 1})
		require.ErrorIs(t, pool.Schedule(context.Background(), worker.Chain{}), worker.ErrEmptyChain)
	})

	t.Run("AfterShutdown", func(t *testing.T) {
		pool, err := worker.NewPool(&worker.Env{}, worker.Options{Threads: 1})
		require.NoError(t, err)
		require.NoError(t, pool.Shutdown(context.Background()))

		s := newScripted()
		err = pool.Schedule(context.Background(), s.chain(worker.ContinueOnSuccess, "a"))
		require.ErrorIs(t, err, worker.ErrStopped)
	})

	t.Run("CallerContextCancelled", func(t *testing.T) {
		pool := newPool(t, worker.Options{Threads: 1})
		s := newScripted()
		ran := make(chan error, 1)
		cont := worker.Func("check context", func(ctx context.Context, _ *worker.Env) worker.Outcome {
			ran <- ctx.Err()
			return worker.OutcomeOK
		})
		chain := s.chain(worker.ContinueOnSuccess, "a")
		chain.Continuation = &cont

		ctx, cancel := context.WithCancel(context.Background())
		require.NoError(t, pool.Schedule(ctx, chain))
		cancel()

		select {
		case err := <-ran:
			assert.NoError(t, err, "jobs should not inherit the caller's cancellation")
		case <-time.After(5 * time.Second):
			t.Fatal("continuation never ran")
		}
	})
}

func TestPoolShutdown(t *testing.T) {
	t.Run("RetryAfterShutdown", func(t *testing.T) {
		pool := newPool(t, worker.Options{Threads: 1, RetryDelay: 50 * time.Millisecond})
		s := newScripted()
		s.script["compile"] = []worker.Outcome{worker.OutcomeRetry}

		require.NoError(t, pool.Schedule(context.Background(), s.chain(worker.ContinueOnSuccess, "compile")))
		require.Eventually(t, func() bool {
			queue := pool.ListQueue()
			return len(queue) == 1 && queue[0].State == worker.JobStateRetryWait
		}, 5*time.Second, time.Millisecond, "chain never waited for its retry")

		require.NoError(t, pool.Shutdown(context.Background()))
		waitIdle(t, pool)
		assert.Equal(t, []worker.Stage{"compile"}, s.Calls(), "retry should not run after shutdown")
	})

	t.Run("QueuedChainsDropped", func(t *testing.T) {
		pool := newPool(t, worker.Options{Threads: 1})
		s := newScripted()
		gate := make(chan struct{})
		started := make(chan struct{})
		s.hooks["slow"] = func(int) {
			close(started)
			<-gate
		}

		require.NoError(t, pool.Schedule(context.Background(), s.chain(worker.ContinueOnSuccess, "slow")))
		require.NoError(t, pool.Schedule(context.Background(), s.chain(worker.ContinueOnSuccess, "fast")))
		<-started

		stopped := make(chan error, 1)
		go func() {
			stopped <- pool.Shutdown(context.Background())
		}()

		require.Eventually(t, func() bool {
			queue := pool.ListQueue()
			return len(queue) == 1 && queue[0].Description == "stage slow"
		}, 5*time.Second, time.Millisecond, "dropped chain still listed")

		close(gate)
		require.NoError(t, <-stopped)
		waitIdle(t, pool)
		assert.NotContains(t, s.Calls(), worker.Stage("fast"))
	})
}
