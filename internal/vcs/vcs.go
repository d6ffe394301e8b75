// Package vcs wraps the git operations task definitions and student repositories need. Everything
// goes through go-git so no git binary is required on the host.
package vcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/pottery-backend/pottery/internal/vcs")

var (
	ErrRevisionNotFound = errors.New("revision not found")
	ErrFileNotFound     = errors.New("file not found")
	ErrTagExists        = errors.New("tag already exists")
	ErrUnsafePath       = errors.New("path escapes the repository")
)

type Signature struct {
	Name  string
	Email string
}

func (s Signature) at(t time.Time) *object.Signature {
	return &object.Signature{Name: s.Name, Email: s.Email, When: t}
}

// Creates an empty repository with an initial commit so HEAD always resolves
func Init(ctx context.Context, dir string, author Signature) (string, error) {
	ctx, span := tracer.Start(ctx, "Init", trace.WithAttributes(attribute.String("dir", dir)))
	defer span.End()

	if _, err := git.PlainInit(dir, false); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to init repository")
		return "", err
	}

	sha, err := CommitAll(ctx, dir, "Initial commit", author)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create initial commit")
		return "", err
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "initialised repository")
	return sha, nil
}

func Clone(ctx context.Context, remote string, dir string) error {
	ctx, span := tracer.Start(ctx, "Clone", trace.WithAttributes(
		attribute.String("repo.url", remote),
		attribute.String("repo.path", dir),
	))
	defer span.End()

	_, err := git.PlainCloneContext(ctx, dir, false, &git.CloneOptions{URL: remote})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "error cloning repo")
		return err
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "cloned repo")
	return nil
}

// Fast-forwards the checked out branch from origin. Up to date is not an error.
func Pull(ctx context.Context, dir string) error {
	ctx, span := tracer.Start(ctx, "Pull", trace.WithAttributes(attribute.String("repo.path", dir)))
	defer span.End()

	repo, err := git.PlainOpen(dir)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to open repo")
		return err
	}
	wt, err := repo.Worktree()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to open worktree")
		return err
	}

	err = wt.PullContext(ctx, &git.PullOptions{RemoteName: git.DefaultRemoteName})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to pull")
		return err
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "pulled")
	return nil
}

func resolve(repo *git.Repository, revision string) (*object.Commit, error) {
	hash, err := repo.ResolveRevision(plumbing.Revision(revision))
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) || errors.Is(err, plumbing.ErrObjectNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrRevisionNotFound, revision)
		}
		return nil, err
	}
	commit, err := repo.CommitObject(*hash)
	if err != nil {
		if errors.Is(err, plumbing.ErrObjectNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrRevisionNotFound, revision)
		}
		return nil, err
	}
	return commit, nil
}

// Full commit hash of revision
func Resolve(ctx context.Context, dir string, revision string) (string, error) {
	_, span := tracer.Start(ctx, "Resolve", trace.WithAttributes(
		attribute.String("repo.path", dir),
		attribute.String("revision", revision),
	))
	defer span.End()

	repo, err := git.PlainOpen(dir)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to open repo")
		return "", err
	}
	commit, err := resolve(repo, revision)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to resolve revision")
		return "", err
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "resolved revision")
	return commit.Hash.String(), nil
}

// Writes the tree at revision into target, which must not exist yet. Missing parents of target are
// created. Returns the resolved commit.
func Materialize(ctx context.Context, dir string, revision string, target string) (string, error) {
	ctx, span := tracer.Start(ctx, "Materialize", trace.WithAttributes(
		attribute.String("repo.path", dir),
		attribute.String("revision", revision),
		attribute.String("target", target),
	))
	defer span.End()

	repo, err := git.PlainOpen(dir)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to open repo")
		return "", err
	}
	commit, err := resolve(repo, revision)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to resolve revision")
		return "", err
	}
	tree, err := commit.Tree()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to read tree")
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create target parent")
		return "", err
	}
	if err := os.Mkdir(target, 0o755); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create target")
		return "", err
	}

	count := 0
	err = tree.Files().ForEach(func(f *object.File) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		count++
		return writeFile(target, f)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to write files")
		return "", err
	}

	span.AddEvent("materialized", trace.WithAttributes(attribute.Int("files", count)))
	span.RecordError(nil)
	span.SetStatus(codes.Ok, "materialized revision")
	return commit.Hash.String(), nil
}

func writeFile(root string, f *object.File) error {
	if !filepath.IsLocal(f.Name) {
		return fmt.Errorf("%w: %s", ErrUnsafePath, f.Name)
	}
	dst := filepath.Join(root, filepath.FromSlash(f.Name))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	if f.Mode == filemode.Symlink {
		linkTarget, err := f.Contents()
		if err != nil {
			return err
		}
		return os.Symlink(linkTarget, dst)
	}

	perm := os.FileMode(0o644)
	if f.Mode == filemode.Executable {
		perm = 0o755
	}

	r, err := f.Reader()
	if err != nil {
		return err
	}
	defer r.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_EXCL, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// Stages every change in the worktree and commits it. Empty commits are allowed.
func CommitAll(ctx context.Context, dir string, message string, author Signature) (string, error) {
	_, span := tracer.Start(ctx, "CommitAll", trace.WithAttributes(attribute.String("repo.path", dir)))
	defer span.End()

	repo, err := git.PlainOpen(dir)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to open repo")
		return "", err
	}
	wt, err := repo.Worktree()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to open worktree")
		return "", err
	}
	if err := wt.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to stage changes")
		return "", err
	}

	hash, err := wt.Commit(message, &git.CommitOptions{
		Author:            author.at(time.Now()),
		AllowEmptyCommits: true,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to commit")
		return "", err
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "committed")
	return hash.String(), nil
}

// Paths of every file at revision, sorted
func ListFiles(ctx context.Context, dir string, revision string) ([]string, error) {
	_, span := tracer.Start(ctx, "ListFiles", trace.WithAttributes(
		attribute.String("repo.path", dir),
		attribute.String("revision", revision),
	))
	defer span.End()

	repo, err := git.PlainOpen(dir)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to open repo")
		return nil, err
	}
	commit, err := resolve(repo, revision)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to resolve revision")
		return nil, err
	}
	tree, err := commit.Tree()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to read tree")
		return nil, err
	}

	files := []string{}
	err = tree.Files().ForEach(func(f *object.File) error {
		files = append(files, f.Name)
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list files")
		return nil, err
	}
	sort.Strings(files)

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "listed files")
	return files, nil
}

func ReadFile(ctx context.Context, dir string, revision string, name string) ([]byte, error) {
	_, span := tracer.Start(ctx, "ReadFile", trace.WithAttributes(
		attribute.String("repo.path", dir),
		attribute.String("revision", revision),
		attribute.String("file", name),
	))
	defer span.End()

	repo, err := git.PlainOpen(dir)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to open repo")
		return nil, err
	}
	commit, err := resolve(repo, revision)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to resolve revision")
		return nil, err
	}
	f, err := commit.File(name)
	if err != nil {
		if errors.Is(err, object.ErrFileNotFound) || errors.Is(err, object.ErrDirectoryNotFound) {
			err = fmt.Errorf("%w: %s", ErrFileNotFound, name)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to find file")
		return nil, err
	}
	contents, err := f.Contents()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to read file")
		return nil, err
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "read file")
	return []byte(contents), nil
}

// Lightweight tag pointing at revision
func CreateTag(ctx context.Context, dir string, name string, revision string) error {
	_, span := tracer.Start(ctx, "CreateTag", trace.WithAttributes(
		attribute.String("repo.path", dir),
		attribute.String("tag", name),
	))
	defer span.End()

	repo, err := git.PlainOpen(dir)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to open repo")
		return err
	}
	commit, err := resolve(repo, revision)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to resolve revision")
		return err
	}
	if _, err := repo.CreateTag(name, commit.Hash, nil); err != nil {
		if errors.Is(err, git.ErrTagExists) {
			err = fmt.Errorf("%w: %s", ErrTagExists, name)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create tag")
		return err
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "created tag")
	return nil
}

// Names of every tag, sorted
func ListTags(ctx context.Context, dir string) ([]string, error) {
	_, span := tracer.Start(ctx, "ListTags", trace.WithAttributes(attribute.String("repo.path", dir)))
	defer span.End()

	repo, err := git.PlainOpen(dir)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to open repo")
		return nil, err
	}
	iter, err := repo.Tags()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list tags")
		return nil, err
	}

	tags := []string{}
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		tags = append(tags, ref.Name().Short())
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to iterate tags")
		return nil, err
	}
	sort.Strings(tags)

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "listed tags")
	return tags, nil
}

func TagExists(ctx context.Context, dir string, name string) (bool, error) {
	_, span := tracer.Start(ctx, "TagExists", trace.WithAttributes(
		attribute.String("repo.path", dir),
		attribute.String("tag", name),
	))
	defer span.End()

	repo, err := git.PlainOpen(dir)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to open repo")
		return false, err
	}
	_, err = repo.Tag(name)
	if errors.Is(err, git.ErrTagNotFound) {
		span.RecordError(nil)
		span.SetStatus(codes.Ok, "tag missing")
		return false, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to look up tag")
		return false, err
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "tag present")
	return true, nil
}
