package types

// Classified outcome of one sandboxed execution
type ExecStatus string

const (
	ExecStatusCompleted     ExecStatus = "COMPLETED"
	ExecStatusFailedUnknown ExecStatus = "FAILED_UNKNOWN"
	ExecStatusFailedDisk    ExecStatus = "FAILED_DISK"
	ExecStatusFailedOOM     ExecStatus = "FAILED_OOM"
	ExecStatusFailedTimeout ExecStatus = "FAILED_TIMEOUT"
)

type (
	ContainerRestrictions struct {
		// Wall clock limit for the whole run
		TimeoutSec int `json:"timeoutSec"              validate:"gte=0"`
		// Largest file the sandboxed process may write
		DiskWriteLimitMegabytes int `json:"diskWriteLimitMegabytes" validate:"gte=0"`
		// Output beyond this many thousand characters is dropped
		OutputLimitKilochars int  `json:"outputLimitKilochars"    validate:"gte=0"`
		RAMLimitMegabytes    int  `json:"ramLimitMegabytes"       validate:"gte=0"`
		NetworkDisabled      bool `json:"networkDisabled"`
	}
)

// Limits applied to code written by students
func CandidateRestrictions() ContainerRestrictions {
	return ContainerRestrictions{
		TimeoutSec:              60,
		DiskWriteLimitMegabytes: 1,
		OutputLimitKilochars:    50,
		RAMLimitMegabytes:       200,
		NetworkDisabled:         true,
	}
}

// Limits applied to code written by task authors
func AuthorRestrictions() ContainerRestrictions {
	return ContainerRestrictions{
		TimeoutSec:              600,
		DiskWriteLimitMegabytes: 50,
		OutputLimitKilochars:    200,
		RAMLimitMegabytes:       1000,
		NetworkDisabled:         false,
	}
}
