package main

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pottery-backend/pottery/internal/task"
	"github.com/pottery-backend/pottery/internal/types"
)

func (s *ServerTestSuite) Test_TaskLifecycle() {
	id := s.createTask()

	var status task.Status
	s.ok(http.MethodGet, "/tasks/"+id+"/", "", &status)
	s.Equal(id, status.ID)
	s.Nil(status.TestingInfo, "nothing has been built yet")

	var info task.BuilderSnapshot
	s.ok(http.MethodPost, "/tasks/"+id+"/testing/", "", &info)
	s.Equal(types.BuildStatusSuccess, info.Status, info.Exception)
	s.Len(info.Commit, 40)

	s.ok(http.MethodPost, "/tasks/"+id+"/register/", `{"revision":"HEAD"}`, &info)
	s.Equal(types.BuildStatusSuccess, info.Status, info.Exception)

	s.ok(http.MethodGet, "/tasks/"+id+"/", "", &status)
	s.Require().NotNil(status.TestingInfo)
	s.Require().NotNil(status.RegisteredInfo)
	s.Equal("Empty task", status.RegisteredInfo.Name)
	s.Equal(info.Commit, status.RegisteredRevision)

	var list []task.Status
	s.ok(http.MethodGet, "/tasks/", "", &list)
	s.Require().Len(list, 1)
	s.Equal(id, list[0].ID)
}

func (s *ServerTestSuite) Test_TaskErrors() {
	id := s.createTask()

	tests := []struct {
		name           string
		method         string
		path           string
		body           string
		bodyTester     func(t *testing.T, body map[string]any)
		expectedStatus int
	}{
		{
			name:           "UnknownTask",
			method:         http.MethodGet,
			path:           "/tasks/no-such-task/",
			expectedStatus: http.StatusNotFound,
			bodyTester:     notFoundBodyTester,
		},
		{
			name:           "UnknownRevision",
			method:         http.MethodPost,
			path:           "/tasks/" + id + "/register/",
			body:           `{"revision":"deadbeef"}`,
			expectedStatus: http.StatusNotFound,
			bodyTester: func(t *testing.T, body map[string]any) {
				assert.Contains(t, body["message"], "revision not found")
			},
		},
		{
			name:           "InvalidRevision",
			method:         http.MethodPost,
			path:           "/tasks/" + id + "/register/",
			body:           `{"revision":"main..HEAD"}`,
			expectedStatus: http.StatusBadRequest,
			bodyTester: func(t *testing.T, body map[string]any) {
				assertErrorBodyWithFields(t, body)
				assert.Contains(t, body["fields"].(map[string]any)["revision"], "revision")
			},
		},
		{
			name:           "MissingRevision",
			method:         http.MethodPost,
			path:           "/tasks/" + id + "/register/",
			body:           `{}`,
			expectedStatus: http.StatusBadRequest,
			bodyTester:     assertErrorBodyWithFields,
		},
		{
			name:           "MalformedBody",
			method:         http.MethodPost,
			path:           "/tasks/" + id + "/register/",
			body:           `{"revision":`,
			expectedStatus: http.StatusBadRequest,
			bodyTester: func(t *testing.T, body map[string]any) {
				assert.Contains(t, body["message"], "failed to parse request data")
			},
		},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			r := s.request(tt.method, tt.path, tt.body)
			s.Equal(tt.expectedStatus, r.code, r.body)

			var body map[string]any
			require.NoError(s.T(), json.Unmarshal([]byte(r.body), &body), r.body)
			tt.bodyTester(s.T(), body)
		})
	}
}

func (s *ServerTestSuite) Test_RetireTask() {
	id := s.builtTask()

	var status task.Status
	s.ok(http.MethodPost, "/tasks/"+id+"/retire/", "", &status)
	s.True(status.Retired)

	r := s.request(http.MethodPost, "/tasks/"+id+"/register/", `{"revision":"HEAD"}`)
	s.Equal(http.StatusConflict, r.code, r.body)
	s.Contains(r.body, "task is retired")

	r = s.request(http.MethodPost, "/repos/", `{"task_id":"`+id+`"}`)
	s.Equal(http.StatusConflict, r.code, r.body)

	s.ok(http.MethodPost, "/tasks/"+id+"/retire/", `{"retired":false}`, &status)
	s.False(status.Retired)
	s.createRepo(id, false)
}
