package main

import (
	"net/http"

	"github.com/pottery-backend/pottery/internal/models"
	"github.com/pottery-backend/pottery/internal/task/tasktest"
	"github.com/pottery-backend/pottery/internal/types"
	"github.com/pottery-backend/pottery/internal/worker"
)

func (s *ServerTestSuite) Test_Grading() {
	taskID := s.builtTask()
	info := s.createRepo(taskID, false)
	s.ok(http.MethodPost, "/repos/"+info.ID+"/tags/", "", nil)

	path := "/submissions/" + info.ID + "/online-1/"

	var sub models.Submission
	s.ok(http.MethodPost, path, "", &sub)
	s.Equal(types.SubmissionStatusPending, sub.Status)
	s.Equal(info.ID, sub.RepoID)
	s.Equal("online-1", sub.Tag)

	s.ok(http.MethodGet, path, "", &sub)
	s.Equal(types.SubmissionStatusComplete, sub.Status, sub.SummaryMessage)
	s.Require().Len(sub.TestSteps, 1)
	s.Equal(tasktest.NoopPart, sub.TestSteps[0].Description)
	s.GreaterOrEqual(sub.CompilationTimeMs, int64(0))
	s.GreaterOrEqual(sub.WaitTimeMs, int64(0))

	s.Run("AlreadyScheduled", func() {
		r := s.request(http.MethodPost, path, "")
		s.Equal(http.StatusConflict, r.code, r.body)
		s.Contains(r.body, "already scheduled")
	})

	s.Run("TagNotFound", func() {
		r := s.request(http.MethodPost, "/submissions/"+info.ID+"/online-2/", "")
		s.Equal(http.StatusNotFound, r.code, r.body)
		s.Contains(r.body, "tag not found")
	})

	s.Run("NotGraded", func() {
		r := s.request(http.MethodGet, "/submissions/"+info.ID+"/online-2/", "")
		s.Equal(http.StatusNotFound, r.code, r.body)
	})

	s.Run("UnknownRepo", func() {
		r := s.request(http.MethodPost, "/submissions/no-such-repo/online-1/", "")
		s.Equal(http.StatusNotFound, r.code, r.body)
	})
}

func (s *ServerTestSuite) Test_Worker() {
	var queue struct {
		Queue   []worker.JobStatus `json:"queue"`
		Threads int                `json:"num_threads"`
	}
	s.ok(http.MethodGet, "/worker/", "", &queue)
	s.Empty(queue.Queue)
	s.Equal(1, queue.Threads)

	s.ok(http.MethodPost, "/worker/resize/", `{"num_threads":4}`, &queue)

	r := s.request(http.MethodPost, "/worker/resize/", `{"num_threads":0}`)
	s.Equal(http.StatusBadRequest, r.code, r.body)
	s.Contains(r.body, "num_threads")
}
