// Package audit writes one JSON line per grading event, separate from the operational log.
package audit

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/pottery-backend/pottery/internal/logger"
	"github.com/pottery-backend/pottery/internal/models"
	"github.com/pottery-backend/pottery/internal/types"
)

var (
	outMu sync.Mutex
	out   io.Writer = os.Stdout
)

// Redirects audit events, which go to stdout by default
func SetOutput(w io.Writer) {
	outMu.Lock()
	defer outMu.Unlock()
	out = w
}

func newMessage(evt EventType, disp Disposition, taskID, repoID *string) Message {
	return Message{
		TaskID:        taskID,
		RepoID:        repoID,
		LogContext:    logContext,
		SchemaVersion: schemaVersion,
		Disposition:   disp,
		Type:          evt,
		Timestamp:     time.Now().UTC().UnixMilli(),
	}
}

func emit(evt EventType, event any) {
	evtStr, err := json.Marshal(event)
	if err != nil {
		logger.Logger.Error("could not serialize audit event", "event_type", evt, "error", err)
		return
	}

	outMu.Lock()
	defer outMu.Unlock()
	fmt.Fprintln(out, string(evtStr))
}

func dispForSubmission(status types.SubmissionStatus) Disposition {
	switch status {
	case types.SubmissionStatusComplete:
		return DispositionGood
	case types.SubmissionStatusCompilationFailed,
		types.SubmissionStatusHarnessFailed,
		types.SubmissionStatusValidatorFailed:
		return DispositionBad
	default:
		return DispositionNeutral
	}
}

func dispForBuild(status types.BuildStatus) Disposition {
	switch status {
	case types.BuildStatusSuccess:
		return DispositionGood
	case types.BuildStatusFailure:
		return DispositionBad
	default:
		return DispositionNeutral
	}
}

func LogSubmissionScheduled(taskID, repoID, tag, copyID string) {
	event := SubmissionScheduled{}
	event.Message = newMessage(EvtSubmissionScheduled, DispositionNeutral, &taskID, &repoID)
	event.Event.Tag = tag
	event.Event.CopyID = copyID

	emit(event.Type, event)
}

// Records the final state of a grading attempt
func LogSubmissionGraded(taskID string, s *models.Submission) {
	event := SubmissionGraded{}
	event.Message = newMessage(EvtSubmissionGraded, dispForSubmission(s.Status), &taskID, &s.RepoID)
	event.Event.Tag = s.Tag
	event.Event.Status = s.Status
	event.Event.Summary = s.SummaryMessage
	event.Event.TestSteps = len(s.TestSteps)
	event.Event.WaitTimeMs = s.WaitTimeMs

	emit(event.Type, event)
}

func LogSubmissionRecovered(repoID, tag string, from, to types.SubmissionStatus) {
	event := SubmissionRecovered{}
	event.Message = newMessage(EvtSubmissionRecovered, dispForSubmission(to), nil, &repoID)
	event.Event.Tag = tag
	event.Event.From = from
	event.Event.To = to

	emit(event.Type, event)
}

// cause is nil for successful builds
func LogTaskBuilt(taskID, copyID, revision string, status types.BuildStatus, cause error) {
	event := TaskBuilt{}
	event.Message = newMessage(EvtTaskBuilt, dispForBuild(status), &taskID, nil)
	event.Event.CopyID = copyID
	event.Event.Revision = revision
	event.Event.Status = status
	if cause != nil {
		msg := cause.Error()
		event.Event.Error = &msg
	}

	emit(event.Type, event)
}

func LogFileArchived(
	taskID string,
	repoID string,
	bucketName string,
	objectName string,
	sha256 string,
	entity FileArchivedEntity,
	entityID string,
) {
	event := FileArchived{}
	event.Message = newMessage(EvtFileArchived, DispositionNeutral, &taskID, &repoID)
	event.Event.BucketName = bucketName
	event.Event.ObjectName = objectName
	event.Event.SHA256 = sha256
	event.Event.Entity = entity
	event.Event.EntityID = entityID

	emit(event.Type, event)
}
