// Package repo manages student repositories: git repositories seeded from a task's skeleton that
// candidates edit and tag for grading.
package repo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	cp "github.com/otiai10/copy"
	"github.com/puzpuzpuz/xsync/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/pottery-backend/pottery/internal/logger"
	"github.com/pottery-backend/pottery/internal/models"
	"github.com/pottery-backend/pottery/internal/store"
	"github.com/pottery-backend/pottery/internal/vcs"
)

const name = "github.com/pottery-backend/pottery/internal/repo"

var tracer = otel.Tracer(name)

// Tags created for grading are named TagPrefix followed by a counter starting at 1
const TagPrefix = "online-"

var (
	ErrRepoNotFound = errors.New("repository not found")
	ErrExpired      = errors.New("repository has expired")
	ErrTagNotFound  = errors.New("tag not found")
)

type CreateOptions struct {
	ExpiryDate          time.Time
	TaskID              string
	UsingTestingVersion bool
	// Cloned instead of seeding from the skeleton when set
	Remote              string
}

// Opens and creates repositories under one directory and hands out one mutex per repository
type Factory struct {
	store  store.Store
	locks  *xsync.MapOf[string, *sync.Mutex]
	author vcs.Signature
	dir    string
}

func NewFactory(st store.Store, reposDir string, author vcs.Signature) *Factory {
	return &Factory{
		store:  st,
		locks:  xsync.NewMapOf[string, *sync.Mutex](),
		author: author,
		dir:    reposDir,
	}
}

// The mutex serialising writes and grading admission for repoID
func (f *Factory) Lock(repoID string) *sync.Mutex {
	mu, _ := f.locks.LoadOrStore(repoID, &sync.Mutex{})
	return mu
}

func (f *Factory) open(row *models.Repo) *Repo {
	return &Repo{
		row:    *row,
		dir:    filepath.Join(f.dir, row.ID),
		author: f.author,
		mu:     f.Lock(row.ID),
	}
}

// Creates a repository for a task. skeletonDir holds the files a candidate starts from.
func (f *Factory) Create(ctx context.Context, opts CreateOptions, skeletonDir string) (*Repo, error) {
	ctx, span := tracer.Start(ctx, "Factory.Create", trace.WithAttributes(
		attribute.String("task_id", opts.TaskID),
		attribute.Bool("using_testing_version", opts.UsingTestingVersion),
	))
	defer span.End()

	row := &models.Repo{
		ID:                  uuid.NewString(),
		TaskID:              opts.TaskID,
		Remote:              opts.Remote,
		ExpiryDate:          opts.ExpiryDate,
		UsingTestingVersion: opts.UsingTestingVersion,
	}
	span.SetAttributes(attribute.String("repo_id", row.ID))
	r := f.open(row)

	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create repos directory")
		return nil, err
	}

	if err := r.seed(ctx, skeletonDir); err != nil {
		_ = os.RemoveAll(r.dir)
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to seed repository")
		return nil, fmt.Errorf("failed to create repository for task %s: %w", opts.TaskID, err)
	}

	if err := f.store.CreateRepo(ctx, row); err != nil {
		_ = os.RemoveAll(r.dir)
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to persist repository")
		return nil, err
	}
	r.row = *row

	logger.Logger.InfoContext(ctx, "created repository", "repo_id", row.ID, "task_id", row.TaskID)

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "created repository")
	return r, nil
}

func (f *Factory) Get(ctx context.Context, id string) (*Repo, error) {
	ctx, span := tracer.Start(ctx, "Factory.Get", trace.WithAttributes(attribute.String("repo_id", id)))
	defer span.End()

	row, err := f.store.GetRepo(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		err = fmt.Errorf("%w: %s", ErrRepoNotFound, id)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get repository")
		return nil, err
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "got repository")
	return f.open(row), nil
}

type Repo struct {
	mu     *sync.Mutex
	author vcs.Signature
	dir    string
	row    models.Repo
}

type Info struct {
	ExpiryDate          time.Time `json:"expiry_date"`
	ID                  string    `json:"repo_id"`
	TaskID              string    `json:"task_id"`
	Remote              string    `json:"remote,omitempty"`
	UsingTestingVersion bool      `json:"using_testing_version"`
}

func (r *Repo) ID() string {
	return r.row.ID
}

func (r *Repo) TaskID() string {
	return r.row.TaskID
}

func (r *Repo) UsingTestingVersion() bool {
	return r.row.UsingTestingVersion
}

func (r *Repo) Dir() string {
	return r.dir
}

func (r *Repo) Info() Info {
	return Info{
		ExpiryDate:          r.row.ExpiryDate,
		ID:                  r.row.ID,
		TaskID:              r.row.TaskID,
		Remote:              r.row.Remote,
		UsingTestingVersion: r.row.UsingTestingVersion,
	}
}

func (r *Repo) seed(ctx context.Context, skeletonDir string) error {
	if r.row.Remote != "" {
		return vcs.Clone(ctx, r.row.Remote, r.dir)
	}
	if _, err := vcs.Init(ctx, r.dir, r.author); err != nil {
		return err
	}
	if skeletonDir == "" {
		return nil
	}
	if err := cp.Copy(skeletonDir, r.dir, cp.Options{
		Skip: func(_ os.FileInfo, src, _ string) (bool, error) {
			return filepath.Base(src) == ".git", nil
		},
	}); err != nil {
		return fmt.Errorf("failed to copy skeleton: %w", err)
	}
	_, err := vcs.CommitAll(ctx, r.dir, "Copy skeleton", r.author)
	return err
}

func (r *Repo) checkWritable() error {
	if r.row.Expired(time.Now()) {
		return fmt.Errorf("%w: %s expired at %s", ErrExpired, r.row.ID, r.row.ExpiryDate.Format(time.RFC3339))
	}
	return nil
}

func (r *Repo) ListFiles(ctx context.Context, tag string) ([]string, error) {
	return vcs.ListFiles(ctx, r.dir, tag)
}

func (r *Repo) ReadFile(ctx context.Context, tag string, path string) ([]byte, error) {
	return vcs.ReadFile(ctx, r.dir, tag, path)
}

// Writes contents to path in the working tree and commits it. Returns the new commit.
func (r *Repo) UpdateFile(ctx context.Context, path string, contents []byte) (string, error) {
	ctx, span := tracer.Start(ctx, "Repo.UpdateFile", trace.WithAttributes(
		attribute.String("repo_id", r.row.ID),
		attribute.String("file", path),
	))
	defer span.End()

	if err := r.checkWritable(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "repository is read only")
		return "", err
	}
	clean := filepath.Clean(filepath.FromSlash(path))
	if !filepath.IsLocal(clean) || strings.Split(filepath.ToSlash(clean), "/")[0] == ".git" {
		err := fmt.Errorf("%w: %s", vcs.ErrUnsafePath, path)
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid path")
		return "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	target := filepath.Join(r.dir, clean)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create parent directory")
		return "", err
	}
	// keep the mode of an existing file so scripts stay executable
	perm := os.FileMode(0o644)
	if fi, err := os.Stat(target); err == nil {
		perm = fi.Mode().Perm()
	}
	if err := os.WriteFile(target, contents, perm); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to write file")
		return "", err
	}

	sha, err := vcs.CommitAll(ctx, r.dir, "Update "+filepath.ToSlash(clean), r.author)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to commit file")
		return "", err
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "updated file")
	return sha, nil
}

func tagNumber(tag string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimPrefix(tag, TagPrefix))
	if err != nil || !strings.HasPrefix(tag, TagPrefix) || n < 1 {
		return 0, false
	}
	return n, true
}

// Tags HEAD as the next online-N
func (r *Repo) CreateNewTag(ctx context.Context) (string, error) {
	ctx, span := tracer.Start(ctx, "Repo.CreateNewTag", trace.WithAttributes(
		attribute.String("repo_id", r.row.ID),
	))
	defer span.End()

	if err := r.checkWritable(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "repository is read only")
		return "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	tags, err := vcs.ListTags(ctx, r.dir)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list tags")
		return "", err
	}
	last := 0
	for _, tag := range tags {
		if n, ok := tagNumber(tag); ok {
			last = max(last, n)
		}
	}

	tag := TagPrefix + strconv.Itoa(last+1)
	if err := vcs.CreateTag(ctx, r.dir, tag, "HEAD"); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create tag")
		return "", err
	}
	span.SetAttributes(attribute.String("tag", tag))

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "created tag")
	return tag, nil
}

func (r *Repo) ListTags(ctx context.Context) ([]string, error) {
	return vcs.ListTags(ctx, r.dir)
}

func (r *Repo) TagExists(ctx context.Context, tag string) (bool, error) {
	return vcs.TagExists(ctx, r.dir, tag)
}

// Writes the tree at tag into target, which must not exist
func (r *Repo) MaterializeTag(ctx context.Context, tag string, target string) error {
	ctx, span := tracer.Start(ctx, "Repo.MaterializeTag", trace.WithAttributes(
		attribute.String("repo_id", r.row.ID),
		attribute.String("tag", tag),
	))
	defer span.End()

	exists, err := vcs.TagExists(ctx, r.dir, tag)
	if err == nil && !exists {
		err = fmt.Errorf("%w: %s in %s", ErrTagNotFound, tag, r.row.ID)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to find tag")
		return err
	}

	if _, err := vcs.Materialize(ctx, r.dir, tag, target); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to materialize tag")
		return err
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "materialized tag")
	return nil
}
