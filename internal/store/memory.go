package store

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/pottery-backend/pottery/internal/models"
	"github.com/pottery-backend/pottery/internal/types"
)

// Ensure MemoryStore implements Store interface.
var _ Store = (*MemoryStore)(nil)

type submissionKey struct {
	repoID string
	tag    string
}

// Keeps every row in process memory. Rows are copied in and out so callers never share state with
// the store.
type MemoryStore struct {
	submissions *xsync.MapOf[submissionKey, models.Submission]
	tasks       *xsync.MapOf[string, models.Task]
	repos       *xsync.MapOf[string, models.Repo]
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		submissions: xsync.NewMapOf[submissionKey, models.Submission](),
		tasks:       xsync.NewMapOf[string, models.Task](),
		repos:       xsync.NewMapOf[string, models.Repo](),
	}
}

func cloneSubmission(s models.Submission) models.Submission {
	s.TestSteps = slices.Clone(s.TestSteps)
	return s
}

func (m *MemoryStore) CreateSubmission(_ context.Context, s *models.Submission) error {
	now := time.Now()
	s.CreatedAt, s.UpdatedAt = now, now

	_, loaded := m.submissions.LoadOrStore(submissionKey{s.RepoID, s.Tag}, cloneSubmission(*s))
	if loaded {
		return ErrExists
	}
	return nil
}

func (m *MemoryStore) UpdateSubmission(_ context.Context, s *models.Submission) error {
	found := false
	m.submissions.Compute(
		submissionKey{s.RepoID, s.Tag},
		func(old models.Submission, loaded bool) (models.Submission, bool) {
			if !loaded {
				return old, true
			}
			found = true
			s.CreatedAt = old.CreatedAt
			s.UpdatedAt = time.Now()
			return cloneSubmission(*s), false
		},
	)
	if !found {
		return ErrNotFound
	}
	return nil
}

func (m *MemoryStore) GetSubmission(_ context.Context, repoID, tag string) (*models.Submission, error) {
	s, ok := m.submissions.Load(submissionKey{repoID, tag})
	if !ok {
		return nil, ErrNotFound
	}
	s = cloneSubmission(s)
	return &s, nil
}

func (m *MemoryStore) ListSubmissions(
	_ context.Context,
	statuses ...types.SubmissionStatus,
) ([]models.Submission, error) {
	var out []models.Submission
	m.submissions.Range(func(_ submissionKey, s models.Submission) bool {
		if slices.Contains(statuses, s.Status) {
			out = append(out, cloneSubmission(s))
		}
		return true
	})
	slices.SortFunc(out, func(a, b models.Submission) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out, nil
}

func (m *MemoryStore) SaveTask(_ context.Context, t *models.Task) error {
	now := time.Now()
	t.UpdatedAt = now
	m.tasks.Compute(t.ID, func(old models.Task, loaded bool) (models.Task, bool) {
		if loaded {
			t.CreatedAt = old.CreatedAt
		} else {
			t.CreatedAt = now
		}
		return *t, false
	})
	return nil
}

func (m *MemoryStore) GetTask(_ context.Context, id string) (*models.Task, error) {
	t, ok := m.tasks.Load(id)
	if !ok {
		return nil, ErrNotFound
	}
	return &t, nil
}

func (m *MemoryStore) ListTasks(_ context.Context) ([]models.Task, error) {
	var out []models.Task
	m.tasks.Range(func(_ string, t models.Task) bool {
		out = append(out, t)
		return true
	})
	slices.SortFunc(out, func(a, b models.Task) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

func (m *MemoryStore) CreateRepo(_ context.Context, r *models.Repo) error {
	r.CreatedAt = time.Now()
	if _, loaded := m.repos.LoadOrStore(r.ID, *r); loaded {
		return ErrExists
	}
	return nil
}

func (m *MemoryStore) GetRepo(_ context.Context, id string) (*models.Repo, error) {
	r, ok := m.repos.Load(id)
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}
