package task

import (
	"sync"
	"time"

	"github.com/pottery-backend/pottery/internal/types"
)

// State of one build attempt. Every field is guarded by mu.
type BuilderInfo struct {
	updatedAt             time.Time
	cause                 error
	harness               *types.HarnessResponse
	validator             *types.ValidatorResponse
	revision              string
	commit                string
	status                types.BuildStatus
	testCompileOutput     string
	solutionCompileOutput string
	mu                    sync.Mutex
}

type BuilderSnapshot struct {
	UpdatedAt             time.Time                `json:"updated_at"`
	HarnessResponse       *types.HarnessResponse   `json:"harness_response,omitempty"`
	ValidatorResponse     *types.ValidatorResponse `json:"validator_response,omitempty"`
	Revision              string                   `json:"revision"`
	Commit                string                   `json:"commit,omitempty"`
	Status                types.BuildStatus        `json:"status"`
	Exception             string                   `json:"exception,omitempty"`
	TestCompileOutput     string                   `json:"test_compile_output,omitempty"`
	SolutionCompileOutput string                   `json:"solution_compile_output,omitempty"`
}

func newBuilderInfo(revision string, status types.BuildStatus) *BuilderInfo {
	return &BuilderInfo{revision: revision, status: status, updatedAt: time.Now()}
}

func (i *BuilderInfo) Snapshot() BuilderSnapshot {
	i.mu.Lock()
	defer i.mu.Unlock()

	s := BuilderSnapshot{
		UpdatedAt:             i.updatedAt,
		HarnessResponse:       i.harness,
		ValidatorResponse:     i.validator,
		Revision:              i.revision,
		Commit:                i.commit,
		Status:                i.status,
		TestCompileOutput:     i.testCompileOutput,
		SolutionCompileOutput: i.solutionCompileOutput,
	}
	if i.cause != nil {
		s.Exception = i.cause.Error()
	}
	return s
}

func (i *BuilderInfo) Status() types.BuildStatus {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.status
}

func (i *BuilderInfo) Cause() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.cause
}

// Moves a replaceable build to SCHEDULED and clears the previous attempt. Must hold mu.
func (i *BuilderInfo) reserveLocked() bool {
	if !i.status.Replaceable() {
		return false
	}
	i.status = types.BuildStatusScheduled
	i.cause = nil
	i.commit = ""
	i.testCompileOutput = ""
	i.solutionCompileOutput = ""
	i.harness = nil
	i.validator = nil
	i.updatedAt = time.Now()
	return true
}

func (i *BuilderInfo) setStatus(status types.BuildStatus) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.status = status
	i.updatedAt = time.Now()
}

func (i *BuilderInfo) fail(err error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.status = types.BuildStatusFailure
	i.cause = err
	i.updatedAt = time.Now()
}

func (i *BuilderInfo) update(fn func(*BuilderInfo)) {
	i.mu.Lock()
	defer i.mu.Unlock()
	fn(i)
	i.updatedAt = time.Now()
}
