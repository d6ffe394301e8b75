package types

const (
	TaskTypeAlgorithm = "ALGORITHM"
	TaskTypeDebugging = "DEBUGGING"
	TaskTypeIO        = "IO"
)

type (
	// Contents of task.json at the root of a task definition
	TaskInfo struct {
		TaskID                      string                `json:"taskId"`
		Type                        string                `json:"type"                        validate:"required,oneof=ALGORITHM DEBUGGING IO"`
		Name                        string                `json:"name"                        validate:"required"`
		Criteria                    []string              `json:"criteria"                    validate:"required,min=1,dive,required"`
		Image                       string                `json:"image"                       validate:"required"`
		Difficulty                  string                `json:"difficulty"`
		RecommendedTimeMinutes      int                   `json:"recommendedTimeMinutes"      validate:"gte=0"`
		Language                    string                `json:"language"                    validate:"required"`
		ProblemStatement            string                `json:"problemStatement"`
		TaskCompilationRestrictions ContainerRestrictions `json:"taskCompilationRestrictions"`
		CompilationRestrictions     ContainerRestrictions `json:"compilationRestrictions"`
		HarnessRestrictions         ContainerRestrictions `json:"harnessRestrictions"`
		ValidatorRestrictions       ContainerRestrictions `json:"validatorRestrictions"`
	}
)
