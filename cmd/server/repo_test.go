package main

import (
	"net/http"
	"time"

	"github.com/pottery-backend/pottery/internal/repo"
)

func (s *ServerTestSuite) Test_RepoFiles() {
	taskID := s.builtTask()
	info := s.createRepo(taskID, false)
	s.Equal(taskID, info.TaskID)
	s.False(info.UsingTestingVersion)
	s.WithinDuration(time.Now().Add(time.Hour), info.ExpiryDate, time.Minute)

	base := "/repos/" + info.ID

	var tags []string
	s.ok(http.MethodGet, base+"/tags/", "", &tags)
	s.Empty(tags)

	var commit map[string]string
	s.ok(http.MethodPut, base+"/update/src/main.sh", "echo student", &commit)
	s.Len(commit["commit"], 40)

	var tag map[string]string
	s.ok(http.MethodPost, base+"/tags/", "", &tag)
	s.Equal(repo.TagPrefix+"1", tag["tag"])

	s.ok(http.MethodGet, base+"/tags/", "", &tags)
	s.Equal([]string{"online-1"}, tags)

	var files []string
	s.ok(http.MethodGet, base+"/files/online-1/", "", &files)
	s.ElementsMatch([]string{"skeleton.sh", "src/main.sh"}, files)

	r := s.request(http.MethodGet, base+"/file/online-1/src/main.sh", "")
	s.Equal(http.StatusOK, r.code, r.body)
	s.Equal("echo student", r.body)

	r = s.request(http.MethodGet, base+"/file/online-1/skeleton.sh", "")
	s.Equal(http.StatusOK, r.code, r.body)
	s.Contains(r.body, "echo Skeleton")
}

func (s *ServerTestSuite) Test_RepoErrors() {
	taskID := s.builtTask()
	info := s.createRepo(taskID, true)
	base := "/repos/" + info.ID

	s.ok(http.MethodPost, base+"/tags/", "", nil)

	s.Run("UnknownRepo", func() {
		r := s.request(http.MethodGet, "/repos/no-such-repo/tags/", "")
		s.Equal(http.StatusNotFound, r.code, r.body)
	})

	s.Run("MissingFile", func() {
		r := s.request(http.MethodGet, base+"/file/online-1/nope.txt", "")
		s.Equal(http.StatusNotFound, r.code, r.body)
		s.Contains(r.body, "file not found")
	})

	s.Run("MissingTag", func() {
		r := s.request(http.MethodGet, base+"/files/online-7/", "")
		s.Equal(http.StatusNotFound, r.code, r.body)
		s.Contains(r.body, "tag not found")
	})

	s.Run("GitDirectory", func() {
		r := s.request(http.MethodPut, base+"/update/.git/config", "[core]")
		s.Equal(http.StatusBadRequest, r.code, r.body)
	})

	s.Run("UnknownTask", func() {
		r := s.request(http.MethodPost, "/repos/", `{"task_id":"no-such-task"}`)
		s.Equal(http.StatusNotFound, r.code, r.body)
	})

	s.Run("MissingTaskID", func() {
		r := s.request(http.MethodPost, "/repos/", `{}`)
		s.Equal(http.StatusBadRequest, r.code, r.body)
		s.Contains(r.body, "task_id")
	})

	s.Run("TaskNotBuilt", func() {
		id := s.createTask()
		r := s.request(http.MethodPost, "/repos/", `{"task_id":"`+id+`"}`)
		s.Equal(http.StatusConflict, r.code, r.body)
	})
}

func (s *ServerTestSuite) Test_RepoExpired() {
	taskID := s.builtTask()
	var info repo.Info
	expired := time.Now().Add(-time.Minute).UTC().Format(time.RFC3339)
	s.ok(http.MethodPost, "/repos/", `{"task_id":"`+taskID+`","expiry_date":"`+expired+`"}`, &info)

	r := s.request(http.MethodPut, "/repos/"+info.ID+"/update/main.sh", "echo late")
	s.Equal(http.StatusForbidden, r.code, r.body)

	r = s.request(http.MethodPost, "/repos/"+info.ID+"/tags/", "")
	s.Equal(http.StatusForbidden, r.code, r.body)

	var tags []string
	s.ok(http.MethodGet, "/repos/"+info.ID+"/tags/", "", &tags)
	s.Empty(tags, "reads still work after expiry")
}
