package submission

import (
	"time"

	"github.com/pottery-backend/pottery/internal/models"
	"github.com/pottery-backend/pottery/internal/types"
)

// Durations of stages that never ran
const notRun time.Duration = -time.Millisecond

// Results of a grading attempt gathered one stage at a time. Owned by the pipeline, which the
// worker drives from one goroutine at a time.
type accumulator struct {
	createdAt         time.Time
	harness           *types.HarnessResponse
	validator         *types.ValidatorResponse
	repoID            string
	tag               string
	compilationOutput string
	summary           string
	status            types.SubmissionStatus
	compilationTime   time.Duration
	harnessTime       time.Duration
	validatorTime     time.Duration
	waitTime          time.Duration
}

func newAccumulator(s *models.Submission) *accumulator {
	return &accumulator{
		createdAt:       s.CreatedAt,
		repoID:          s.RepoID,
		tag:             s.Tag,
		status:          s.Status,
		compilationTime: notRun,
		harnessTime:     notRun,
		validatorTime:   notRun,
	}
}

func (a *accumulator) setCompilation(output string, ok bool, elapsed time.Duration) {
	a.compilationOutput = output
	a.compilationTime = elapsed
	a.status = types.SubmissionStatusCompilationFailed
	if ok {
		a.status = types.SubmissionStatusCompilationComplete
	}
}

func (a *accumulator) setHarness(h types.HarnessResponse, elapsed time.Duration) {
	a.harness = &h
	a.harnessTime = elapsed
	a.summary = h.Message
	a.status = types.SubmissionStatusHarnessFailed
	if h.Completed {
		a.status = types.SubmissionStatusHarnessComplete
	}
}

func (a *accumulator) setValidator(v types.ValidatorResponse, elapsed time.Duration) {
	a.validator = &v
	a.validatorTime = elapsed
	a.summary = v.Message
	a.status = types.SubmissionStatusValidatorFailed
	if v.Completed {
		a.status = types.SubmissionStatusValidatorComplete
	}
}

// Moves to the terminal status the current one resolves to
func (a *accumulator) complete() {
	a.status = a.status.Recovered()
}

// Immutable record of the attempt so far. Harness parts are joined to validator interpretations by
// measurement id here and nowhere else.
func (a *accumulator) Build() *models.Submission {
	var steps []types.TestStep
	if a.harness != nil {
		var interpretations map[string]types.Interpretation
		if a.validator != nil {
			interpretations = make(map[string]types.Interpretation, len(a.validator.Interpretations))
			for _, i := range a.validator.Interpretations {
				interpretations[i.ID] = i
			}
		}
		steps = make([]types.TestStep, 0, len(a.harness.TestParts))
		for _, part := range a.harness.TestParts {
			steps = append(steps, types.NewTestStep(part, interpretations))
		}
	}

	return &models.Submission{
		CreatedAt:         a.createdAt,
		RepoID:            a.repoID,
		Tag:               a.tag,
		Status:            a.status,
		CompilationOutput: a.compilationOutput,
		SummaryMessage:    a.summary,
		TestSteps:         steps,
		CompilationTimeMs: a.compilationTime.Milliseconds(),
		HarnessTimeMs:     a.harnessTime.Milliseconds(),
		ValidatorTimeMs:   a.validatorTime.Milliseconds(),
		WaitTimeMs:        a.waitTime.Milliseconds(),
	}
}
