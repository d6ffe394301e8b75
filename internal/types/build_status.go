package types

type BuildStatus string

const (
	BuildStatusNotStarted        BuildStatus = "NOT_STARTED"
	BuildStatusScheduled         BuildStatus = "SCHEDULED"
	BuildStatusCopyingFiles      BuildStatus = "COPYING_FILES"
	BuildStatusCompilingTest     BuildStatus = "COMPILING_TEST"
	BuildStatusCompilingSolution BuildStatus = "COMPILING_SOLUTION"
	BuildStatusTestingSolution   BuildStatus = "TESTING_SOLUTION"
	BuildStatusSuccess           BuildStatus = "SUCCESS"
	BuildStatusFailure           BuildStatus = "FAILURE"
)

// A build in one of these states may be replaced by a fresh attempt
func (s BuildStatus) Replaceable() bool {
	switch s {
	case BuildStatusNotStarted, BuildStatusSuccess, BuildStatusFailure:
		return true
	case BuildStatusScheduled,
		BuildStatusCopyingFiles,
		BuildStatusCompilingTest,
		BuildStatusCompilingSolution,
		BuildStatusTestingSolution:
		return false
	}
	return false
}

func (s BuildStatus) Terminal() bool {
	return s == BuildStatusSuccess || s == BuildStatusFailure
}
