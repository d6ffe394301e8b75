package audit

import (
	"github.com/pottery-backend/pottery/internal/types"
)

var schemaVersion = "0.1.0"
var logContext = "audit"

type Disposition string

const (
	DispositionNeutral Disposition = "neutral"
	DispositionGood    Disposition = "good"
	DispositionBad     Disposition = "bad"
)

type FileArchivedEntity string

const (
	EntitySubmission FileArchivedEntity = "submission"
)

type EventType string

const (
	EvtSubmissionScheduled EventType = "submission_scheduled"
	EvtSubmissionGraded    EventType = "submission_graded"
	EvtSubmissionRecovered EventType = "submission_recovered"
	EvtTaskBuilt           EventType = "task_built"
	EvtFileArchived        EventType = "file_archived"
)

type Message struct {
	TaskID        *string     `json:"task_id"`
	RepoID        *string     `json:"repo_id"`
	LogContext    string      `json:"log_context" validate:"required"`
	SchemaVersion string      `json:"version"     validate:"required"`
	Disposition   Disposition `json:"disposition" validate:"required"`
	Type          EventType   `json:"event_type"  validate:"required"`

	Timestamp int64 `json:"timestamp" validate:"required"`
}

type SubmissionScheduledEvent struct {
	Tag    string `json:"tag"     validate:"required"`
	CopyID string `json:"copy_id" validate:"required"`
}

type SubmissionScheduled struct {
	Event SubmissionScheduledEvent `json:"event" validate:"required"`
	Message
}

type SubmissionGradedEvent struct {
	Tag        string                 `json:"tag"          validate:"required"`
	Status     types.SubmissionStatus `json:"status"       validate:"required"`
	Summary    string                 `json:"summary"`
	TestSteps  int                    `json:"test_steps"`
	WaitTimeMs int64                  `json:"wait_time_ms"`
}

type SubmissionGraded struct {
	Event SubmissionGradedEvent `json:"event" validate:"required"`
	Message
}

type SubmissionRecoveredEvent struct {
	Tag  string                 `json:"tag"  validate:"required"`
	From types.SubmissionStatus `json:"from" validate:"required"`
	To   types.SubmissionStatus `json:"to"   validate:"required"`
}

type SubmissionRecovered struct {
	Event SubmissionRecoveredEvent `json:"event" validate:"required"`
	Message
}

type TaskBuiltEvent struct {
	CopyID   string            `json:"copy_id"  validate:"required"`
	Revision string            `json:"revision" validate:"required"`
	Status   types.BuildStatus `json:"status"   validate:"required"`
	Error    *string           `json:"error"`
}

type TaskBuilt struct {
	Event TaskBuiltEvent `json:"event" validate:"required"`
	Message
}

type FileArchivedEvent struct {
	BucketName string             `json:"bucket_name" validate:"required"`
	ObjectName string             `json:"object_name" validate:"required"`
	SHA256     string             `json:"sha256"      validate:"required"`
	Entity     FileArchivedEntity `json:"entity"      validate:"required"`
	EntityID   string             `json:"entity_id"   validate:"required"` // the tag for submissions
}

type FileArchived struct {
	Event FileArchivedEvent `json:"event" validate:"required"`
	Message
}
