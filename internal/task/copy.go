package task

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/pottery-backend/pottery/internal/logger"
	"github.com/pottery-backend/pottery/internal/types"
)

var ErrCopyNotFound = errors.New("task copy not found")

// What the reference solution produced while the copy was verified
type Verification struct {
	TestCompileOutput     string                  `json:"test_compile_output"`
	SolutionCompileOutput string                  `json:"solution_compile_output"`
	Harness               types.HarnessResponse   `json:"harness"`
	Validator             types.ValidatorResponse `json:"validator"`
}

// A verified task definition materialized at one commit. Never modified after it is published.
type Copy struct {
	Info         types.TaskInfo
	Verification Verification
	ID           string
	TaskID       string
	Commit       string
	Dir          string

	mu         sync.Mutex
	users      int
	superseded bool
}

func (c *Copy) SolutionDir() string  { return filepath.Join(c.Dir, SolutionDir) }
func (c *Copy) CompileDir() string   { return filepath.Join(c.Dir, CompileDir) }
func (c *Copy) HarnessDir() string   { return filepath.Join(c.Dir, HarnessDir) }
func (c *Copy) ValidatorDir() string { return filepath.Join(c.Dir, ValidatorDir) }
func (c *Copy) SkeletonDir() string  { return filepath.Join(c.Dir, SkeletonDir) }

// Marks the copy as in use. Its directory outlives a newer build until release is called.
func (c *Copy) acquire() (release func()) {
	c.mu.Lock()
	c.users++
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			c.users--
			remove := c.superseded && c.users == 0
			c.mu.Unlock()
			if remove {
				c.remove()
			}
		})
	}
}

// Called once a newer copy took this one's slot. The directory is removed when the last user
// releases it.
func (c *Copy) supersede() {
	c.mu.Lock()
	c.superseded = true
	remove := c.users == 0
	c.mu.Unlock()
	if remove {
		c.remove()
	}
}

func (c *Copy) remove() {
	if err := os.RemoveAll(c.Dir); err != nil {
		logger.Logger.Warn("failed to remove superseded task copy",
			"task_id", c.TaskID, "copy_id", c.ID, "error", err)
		return
	}
	logger.Logger.Info("removed superseded task copy", "task_id", c.TaskID, "copy_id", c.ID)
}

type verifiedRecord struct {
	Verification
	Commit string `json:"commit"`
}

func (c *Copy) writeVerified() error {
	data, err := json.MarshalIndent(verifiedRecord{Verification: c.Verification, Commit: c.Commit}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(c.Dir, VerifiedFile), data, 0o644)
}

// Reopens a copy a previous build left in dir
func LoadCopy(id, taskID, dir string) (*Copy, error) {
	data, err := os.ReadFile(filepath.Join(dir, VerifiedFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: copy %s of task %s", ErrCopyNotFound, id, taskID)
	}
	if err != nil {
		return nil, err
	}

	var record verifiedRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to parse %s of copy %s: %w", VerifiedFile, id, err)
	}

	info, err := LoadInfo(dir)
	if err != nil {
		return nil, err
	}

	return &Copy{
		ID:           id,
		TaskID:       taskID,
		Commit:       record.Commit,
		Dir:          dir,
		Info:         *info,
		Verification: record.Verification,
	}, nil
}
