package types

type SubmissionStatus string

const (
	SubmissionStatusPending SubmissionStatus = "PENDING" // Admitted, waiting for a worker

	SubmissionStatusCompilationRunning  SubmissionStatus = "COMPILATION_RUNNING"
	SubmissionStatusCompilationFailed   SubmissionStatus = "COMPILATION_FAILED"
	SubmissionStatusCompilationComplete SubmissionStatus = "COMPILATION_COMPLETE"

	SubmissionStatusHarnessRunning  SubmissionStatus = "HARNESS_RUNNING"
	SubmissionStatusHarnessFailed   SubmissionStatus = "HARNESS_FAILED"
	SubmissionStatusHarnessComplete SubmissionStatus = "HARNESS_COMPLETE"

	SubmissionStatusValidatorRunning  SubmissionStatus = "VALIDATOR_RUNNING"
	SubmissionStatusValidatorFailed   SubmissionStatus = "VALIDATOR_FAILED"
	SubmissionStatusValidatorComplete SubmissionStatus = "VALIDATOR_COMPLETE"

	SubmissionStatusComplete SubmissionStatus = "complete" // Every stage ran, results are final
)

// Statuses a submission can never leave
func (s SubmissionStatus) Terminal() bool {
	switch s {
	case SubmissionStatusCompilationFailed,
		SubmissionStatusHarnessFailed,
		SubmissionStatusValidatorFailed,
		SubmissionStatusComplete:
		return true
	case SubmissionStatusPending,
		SubmissionStatusCompilationRunning,
		SubmissionStatusCompilationComplete,
		SubmissionStatusHarnessRunning,
		SubmissionStatusHarnessComplete,
		SubmissionStatusValidatorRunning,
		SubmissionStatusValidatorComplete:
		return false
	}
	return false
}

// Nearest terminal status reachable from s. Interrupted stages resolve to that stage's failure and a
// finished validator resolves to complete.
func (s SubmissionStatus) Recovered() SubmissionStatus {
	switch s {
	case SubmissionStatusPending, SubmissionStatusCompilationRunning:
		return SubmissionStatusCompilationFailed
	case SubmissionStatusCompilationComplete, SubmissionStatusHarnessRunning:
		return SubmissionStatusHarnessFailed
	case SubmissionStatusHarnessComplete, SubmissionStatusValidatorRunning:
		return SubmissionStatusValidatorFailed
	case SubmissionStatusCompilationFailed,
		SubmissionStatusHarnessFailed,
		SubmissionStatusValidatorFailed,
		SubmissionStatusValidatorComplete,
		SubmissionStatusComplete:
		return SubmissionStatusComplete
	}
	return SubmissionStatusComplete
}

// Every status that is not terminal, used to find work interrupted by a restart
func NonTerminalSubmissionStatuses() []SubmissionStatus {
	return []SubmissionStatus{
		SubmissionStatusPending,
		SubmissionStatusCompilationRunning,
		SubmissionStatusCompilationComplete,
		SubmissionStatusHarnessRunning,
		SubmissionStatusHarnessComplete,
		SubmissionStatusValidatorRunning,
		SubmissionStatusValidatorComplete,
	}
}
