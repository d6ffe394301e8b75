// Package tasktest builds task definitions for tests.
package tasktest

import (
	"context"
	"maps"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pottery-backend/pottery/internal/vcs"
)

const NoopPart = "A no-op task"

var Author = vcs.Signature{Name: "tester", Email: "tester@localhost"}

// Files of a task whose harness always reports one passing part
func NoopFiles() map[string]string {
	return map[string]string{
		"task.json": `{
  "type": "ALGORITHM",
  "name": "Empty task",
  "criteria": ["correctness"],
  "image": "pottery/bash",
  "difficulty": "easy",
  "recommendedTimeMinutes": 5,
  "language": "bash",
  "problemStatement": "Do nothing",
  "taskCompilationRestrictions": {"timeoutSec": 30, "diskWriteLimitMegabytes": 5, "outputLimitKilochars": 50, "ramLimitMegabytes": 2000},
  "compilationRestrictions": {"timeoutSec": 30, "diskWriteLimitMegabytes": 5, "outputLimitKilochars": 50, "ramLimitMegabytes": 2000},
  "harnessRestrictions": {"timeoutSec": 30, "diskWriteLimitMegabytes": 5, "outputLimitKilochars": 50, "ramLimitMegabytes": 2000},
  "validatorRestrictions": {"timeoutSec": 30, "diskWriteLimitMegabytes": 5, "outputLimitKilochars": 50, "ramLimitMegabytes": 2000}
}`,
		"compile-test.sh":             "#!/bin/bash\necho Compiling tests\n",
		"compile/compile-solution.sh": "#!/bin/bash\necho Compiling solution in \"$1\"\n",
		"harness/run-harness.sh":      "#!/bin/bash\ncat <<'EOF'\n" + noopHarness + "\nEOF\n",
		"validator/run-validator.sh":  "#!/bin/bash\ncat <<'EOF'\n" + noopValidator + "\nEOF\n",
		"skeleton/skeleton.sh":        "#!/bin/bash\necho Skeleton\n",
		"solution/skeleton.sh":        "#!/bin/bash\necho Solution\n",
	}
}

const noopHarness = `{"testParts":[{"description":"` + NoopPart + `","output":["Doing nothing"],` +
	`"measurements":[{"criterion":"correctness","measurement":"true","id":"noop"}]}],"completed":true}`

const noopValidator = `{"completed":true,"interpretations":[{"criterion":"correctness","id":"noop","result":"PASSED"}]}`

// Writes files into dir, marking shell scripts executable
func WriteFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, contents := range files {
		p := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		perm := os.FileMode(0o644)
		if filepath.Ext(name) == ".sh" {
			perm = 0o755
		}
		require.NoError(t, os.WriteFile(p, []byte(contents), perm))
	}
}

// Creates a definition repository holding the no-op task with overrides applied on top. An empty
// override value deletes the file.
func NewDefinition(t *testing.T, overrides map[string]string) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "definition")
	_, err := vcs.Init(context.Background(), dir, Author)
	require.NoError(t, err, "failed to init definition")

	Commit(t, dir, overrides)
	return dir
}

// Commits the no-op task with overrides over whatever dir holds
func Commit(t *testing.T, dir string, overrides map[string]string) string {
	t.Helper()
	files := NoopFiles()
	maps.Copy(files, overrides)
	for name, contents := range overrides {
		if contents == "" {
			delete(files, name)
			_ = os.Remove(filepath.Join(dir, name))
		}
	}
	WriteFiles(t, dir, files)

	sha, err := vcs.CommitAll(context.Background(), dir, "update task", Author)
	require.NoError(t, err, "failed to commit definition")
	return sha
}
