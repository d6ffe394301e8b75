package audit

import (
	"bytes"
	"errors"
	"os"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pottery-backend/pottery/internal/models"
	"github.com/pottery-backend/pottery/internal/types"
)

func capture(t *testing.T, fn func()) string {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() { SetOutput(os.Stdout) })

	fn()
	return buf.String()
}

func TestLogSubmissionScheduled(t *testing.T) {
	got := capture(t, func() {
		LogSubmissionScheduled("task", "repo", "online-1", "copy")
	})

	expect := regexp.MustCompile(
		`{"event":{"tag":"online-1","copy_id":"copy"},"task_id":"task","repo_id":"repo","log_context":"audit","version":"\d\.\d\.\d","disposition":"neutral","event_type":"submission_scheduled","timestamp":\d+}`,
	)
	assert.Regexp(t, expect, got)
}

func TestLogSubmissionGraded(t *testing.T) {
	tests := []struct {
		status      types.SubmissionStatus
		disposition Disposition
	}{
		{types.SubmissionStatusComplete, DispositionGood},
		{types.SubmissionStatusCompilationFailed, DispositionBad},
		{types.SubmissionStatusHarnessFailed, DispositionBad},
		{types.SubmissionStatusValidatorFailed, DispositionBad},
		{types.SubmissionStatusHarnessRunning, DispositionNeutral},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			got := capture(t, func() {
				LogSubmissionGraded("task", &models.Submission{
					RepoID:         "repo",
					Tag:            "online-2",
					Status:         tt.status,
					SummaryMessage: "done",
					TestSteps:      []types.TestStep{{}, {}},
					WaitTimeMs:     12,
				})
			})

			expect := regexp.MustCompile(
				`{"event":{"tag":"online-2","status":"` + string(tt.status) +
					`","summary":"done","test_steps":2,"wait_time_ms":12},"task_id":"task","repo_id":"repo","log_context":"audit","version":"\d\.\d\.\d","disposition":"` +
					string(tt.disposition) + `","event_type":"submission_graded","timestamp":\d+}`,
			)
			assert.Regexp(t, expect, got)
		})
	}
}

func TestLogSubmissionRecovered(t *testing.T) {
	got := capture(t, func() {
		LogSubmissionRecovered(
			"repo",
			"online-3",
			types.SubmissionStatusHarnessRunning,
			types.SubmissionStatusHarnessFailed,
		)
	})

	expect := regexp.MustCompile(
		`{"event":{"tag":"online-3","from":"HARNESS_RUNNING","to":"HARNESS_FAILED"},"task_id":null,"repo_id":"repo","log_context":"audit","version":"\d\.\d\.\d","disposition":"bad","event_type":"submission_recovered","timestamp":\d+}`,
	)
	assert.Regexp(t, expect, got)
}

func TestLogTaskBuilt(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		got := capture(t, func() {
			LogTaskBuilt("task", "copy", "abc123", types.BuildStatusSuccess, nil)
		})

		expect := regexp.MustCompile(
			`{"event":{"copy_id":"copy","revision":"abc123","status":"SUCCESS","error":null},"task_id":"task","repo_id":null,"log_context":"audit","version":"\d\.\d\.\d","disposition":"good","event_type":"task_built","timestamp":\d+}`,
		)
		assert.Regexp(t, expect, got)
	})

	t.Run("Failure", func(t *testing.T) {
		got := capture(t, func() {
			LogTaskBuilt("task", "copy", "abc123", types.BuildStatusFailure, errors.New("harness broke"))
		})

		expect := regexp.MustCompile(
			`{"event":{"copy_id":"copy","revision":"abc123","status":"FAILURE","error":"harness broke"},"task_id":"task","repo_id":null,"log_context":"audit","version":"\d\.\d\.\d","disposition":"bad","event_type":"task_built","timestamp":\d+}`,
		)
		assert.Regexp(t, expect, got)
	})
}

func TestLogFileArchived(t *testing.T) {
	got := capture(t, func() {
		LogFileArchived("task", "repo", "bucket", "object", "deadbeef", EntitySubmission, "online-1")
	})

	expect := regexp.MustCompile(
		`{"event":{"bucket_name":"bucket","object_name":"object","sha256":"deadbeef","entity":"submission","entity_id":"online-1"},"task_id":"task","repo_id":"repo","log_context":"audit","version":"\d\.\d\.\d","disposition":"neutral","event_type":"file_archived","timestamp":\d+}`,
	)
	assert.Regexp(t, expect, got)
}

func TestSingleLinePerEvent(t *testing.T) {
	got := capture(t, func() {
		LogSubmissionScheduled("task", "repo", "online-1", "copy")
		LogSubmissionScheduled("task", "repo", "online-2", "copy")
	})

	assert.Equal(t, 2, bytes.Count([]byte(got), []byte("\n")))
}
