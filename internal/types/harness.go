package types

type InterpretationResult string

const (
	InterpretationPassed  InterpretationResult = "PASSED"
	InterpretationFailed  InterpretationResult = "FAILED"
	InterpretationUnknown InterpretationResult = "UNKNOWN"
)

type (
	// Printed as JSON on stdout by run-harness.sh
	HarnessResponse struct {
		TestParts []HarnessPart `json:"testParts"`
		Message   string        `json:"message,omitempty"`
		// Set by the harness itself once every test part ran
		Completed bool `json:"completed"`
	}

	HarnessPart struct {
		Description  string        `json:"description"`
		Output       []string      `json:"output,omitempty"`
		Measurements []Measurement `json:"measurements,omitempty"`
		ErrorSummary string        `json:"errorSummary,omitempty"`
		StackTrace   string        `json:"stackTrace,omitempty"`
	}

	Measurement struct {
		Criterion   string `json:"criterion"`
		Measurement string `json:"measurement"`
		// Joins this measurement to the validator interpretation with the same id
		ID string `json:"id"`
	}

	// Printed as JSON on stdout by run-validator.sh
	ValidatorResponse struct {
		Completed       bool             `json:"completed"`
		Message         string           `json:"message,omitempty"`
		Interpretations []Interpretation `json:"interpretations"`
		ErrorSummary    string           `json:"errorSummary,omitempty"`
	}

	Interpretation struct {
		Criterion   string               `json:"criterion"`
		ID          string               `json:"id"`
		Result      InterpretationResult `json:"result"`
		Explanation string               `json:"explanation,omitempty"`
	}

	// One harness test part annotated with the validator's verdicts for its measurements
	TestStep struct {
		Description     string               `json:"description"`
		Output          []string             `json:"output,omitempty"`
		Measurements    []Measurement        `json:"measurements,omitempty"`
		Interpretations []Interpretation     `json:"interpretations,omitempty"`
		ErrorSummary    string               `json:"errorSummary,omitempty"`
		Result          InterpretationResult `json:"result"`
	}
)

// Joins a harness part with validator interpretations keyed by measurement id. A step passes only
// when every measurement has a passing interpretation.
func NewTestStep(part HarnessPart, interpretations map[string]Interpretation) TestStep {
	step := TestStep{
		Description:  part.Description,
		Output:       part.Output,
		Measurements: part.Measurements,
		ErrorSummary: part.ErrorSummary,
		Result:       InterpretationUnknown,
	}
	if interpretations == nil {
		return step
	}

	result := InterpretationPassed
	for _, m := range part.Measurements {
		i, ok := interpretations[m.ID]
		if !ok {
			result = InterpretationUnknown
			continue
		}
		step.Interpretations = append(step.Interpretations, i)
		if i.Result == InterpretationFailed {
			result = InterpretationFailed
		} else if i.Result != InterpretationPassed && result == InterpretationPassed {
			result = InterpretationUnknown
		}
	}
	if part.ErrorSummary != "" {
		result = InterpretationFailed
	}
	step.Result = result
	return step
}
