package task

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/pottery-backend/pottery/internal/containers"
	"github.com/pottery-backend/pottery/internal/types"
	"github.com/pottery-backend/pottery/internal/validator"
)

// Layout of a task definition, relative to its root
const (
	InfoFile     = "task.json"
	CompileDir   = "compile"
	HarnessDir   = "harness"
	ValidatorDir = "validator"
	SkeletonDir  = "skeleton"
	SolutionDir  = "solution"
	VerifiedFile = ".verified.json"
)

var ErrInvalidSpecification = errors.New("invalid task specification")

type Step string

const (
	StepMetadata        Step = "reading task metadata"
	StepHarnessCompile  Step = "compiling testing code in task"
	StepSolutionCompile Step = "compiling solution when testing task during registration"
	StepHarness         Step = "running harness when testing task during registration"
	StepValidator       Step = "running validator when testing task during registration"
)

// The task definition is broken. Reported in the builder info, never retried.
type InvalidSpecificationError struct {
	Err    error
	Step   Step
	Reason string
	// Raw output of the failing tool, if there was one
	Output string
}

func (e *InvalidSpecificationError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s when %s", e.Reason, e.Step)
	if e.Err != nil {
		fmt.Fprintf(&sb, ": %v", e.Err)
	}
	if e.Output != "" {
		fmt.Fprintf(&sb, ". Response was: %s", e.Output)
	}
	return sb.String()
}

func (e *InvalidSpecificationError) Unwrap() error {
	return e.Err
}

func (e *InvalidSpecificationError) Is(target error) bool {
	return target == ErrInvalidSpecification
}

// Describes why an execution did not complete, naming the exhausted resource if there was one
func execFailure(step Step, status types.ExecStatus, output string) *InvalidSpecificationError {
	reason := "Failed"
	switch status {
	case types.ExecStatusFailedDisk:
		reason = "Insufficient disk quota"
	case types.ExecStatusFailedOOM:
		reason = "Insufficient memory"
	case types.ExecStatusFailedTimeout:
		reason = "Timeout"
	case types.ExecStatusCompleted:
		reason = "Failed to run to completion"
	case types.ExecStatusFailedUnknown:
	}
	return &InvalidSpecificationError{Step: step, Reason: reason, Output: output}
}

func invalidMetadata(err error) *InvalidSpecificationError {
	return &InvalidSpecificationError{Step: StepMetadata, Reason: "Invalid metadata", Err: err}
}

// zero restrictions mean the author did not set them
func orDefault(r, def types.ContainerRestrictions) types.ContainerRestrictions {
	if r == (types.ContainerRestrictions{}) {
		return def
	}
	return r
}

// Reads and validates task.json in dir and checks the scripts every stage needs are present
func LoadInfo(dir string) (*types.TaskInfo, error) {
	data, err := os.ReadFile(filepath.Join(dir, InfoFile))
	if err != nil {
		return nil, invalidMetadata(err)
	}

	var info types.TaskInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, invalidMetadata(fmt.Errorf("failed to parse %s: %w", InfoFile, err))
	}

	v := validator.Create()
	if err := v.Validate(&info); err != nil {
		return nil, invalidMetadata(err)
	}

	criteria := mapset.NewThreadUnsafeSet[string]()
	for _, c := range info.Criteria {
		if !criteria.Add(c) {
			return nil, invalidMetadata(fmt.Errorf("criterion %q listed twice", c))
		}
	}

	info.TaskCompilationRestrictions = orDefault(info.TaskCompilationRestrictions, types.AuthorRestrictions())
	info.CompilationRestrictions = orDefault(info.CompilationRestrictions, types.CandidateRestrictions())
	info.HarnessRestrictions = orDefault(info.HarnessRestrictions, types.CandidateRestrictions())
	info.ValidatorRestrictions = orDefault(info.ValidatorRestrictions, types.AuthorRestrictions())

	for _, script := range []string{
		containers.HarnessCompileScript,
		filepath.Join(CompileDir, containers.SolutionCompileScript),
		filepath.Join(HarnessDir, containers.HarnessScript),
		filepath.Join(ValidatorDir, containers.ValidatorScript),
	} {
		if _, err := os.Stat(filepath.Join(dir, script)); err != nil {
			return nil, invalidMetadata(fmt.Errorf("missing %s: %w", script, err))
		}
	}

	return &info, nil
}

// Criteria named by results that the task does not declare
func unknownCriteria(declared []string, used ...string) []string {
	known := mapset.NewThreadUnsafeSet(declared...)
	unknown := mapset.NewThreadUnsafeSet(used...).Difference(known).ToSlice()
	slices.Sort(unknown)
	return unknown
}
