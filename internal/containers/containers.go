package containers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"

	"github.com/pottery-backend/pottery/internal/types"
)

var tracer = otel.Tracer("github.com/pottery-backend/pottery/internal/containers")

// The execution engine could not be reached. Callers should retry later.
var ErrUnavailable = errors.New("container engine unavailable")

// Mount points inside the sandbox
const (
	TaskMount      = "/task"
	CodeMount      = "/code"
	CompileMount   = "/compile"
	HarnessMount   = "/harness"
	ValidatorMount = "/validator"
	InputMount     = "/input"
)

// Entry points a task copy provides, relative to their directory
const (
	HarnessCompileScript  = "compile-test.sh"
	SolutionCompileScript = "compile-solution.sh"
	HarnessScript         = "run-harness.sh"
	ValidatorScript       = "run-validator.sh"
	HarnessInputFile      = "harness.json"
)

type Result[T any] struct {
	Response      T
	Status        types.ExecStatus
	RawResponse   string
	ExecutionTime time.Duration
	// RawResponse was cut at the output limit
	Truncated bool
}

//go:generate mockgen -destination ./mock/mock.go -package mock . Manager

type Manager interface {
	// Runs compile-test.sh of a task copy with the copy mounted writable
	ExecHarnessCompile(
		ctx context.Context,
		taskDir, image string,
		r types.ContainerRestrictions,
	) (Result[string], error)
	// Runs compile-solution.sh from compileDir against the code in codeDir
	ExecSolutionCompile(
		ctx context.Context,
		codeDir, compileDir, image string,
		r types.ContainerRestrictions,
	) (Result[string], error)
	ExecHarness(
		ctx context.Context,
		codeDir, harnessDir, image string,
		r types.ContainerRestrictions,
	) (Result[types.HarnessResponse], error)
	ExecValidator(
		ctx context.Context,
		validatorDir string,
		harness types.HarnessResponse,
		image string,
		r types.ContainerRestrictions,
	) (Result[types.ValidatorResponse], error)
}

// What the engine reported about a finished process
type exit struct {
	stdout    []byte
	stderr    []byte
	elapsed   time.Duration
	code      int
	timedOut  bool
	oomKilled bool
	truncated bool
}

const sigxfszExit = 128 + 25

var diskMarkers = []string{
	"No space left on device",
	"Disk quota exceeded",
	"File size limit exceeded",
}

func classify(e exit) types.ExecStatus {
	if e.timedOut {
		return types.ExecStatusFailedTimeout
	}
	if e.oomKilled || e.code == 137 {
		return types.ExecStatusFailedOOM
	}
	if e.code == sigxfszExit {
		return types.ExecStatusFailedDisk
	}
	if e.code != 0 {
		for _, marker := range diskMarkers {
			if bytes.Contains(e.stderr, []byte(marker)) || bytes.Contains(e.stdout, []byte(marker)) {
				return types.ExecStatusFailedDisk
			}
		}
		return types.ExecStatusFailedUnknown
	}
	return types.ExecStatusCompleted
}

func raw(e exit) string {
	var b strings.Builder
	b.Write(e.stdout)
	if len(e.stdout) > 0 && len(e.stderr) > 0 && !bytes.HasSuffix(e.stdout, []byte("\n")) {
		b.WriteByte('\n')
	}
	b.Write(e.stderr)
	return strings.ToValidUTF8(b.String(), string(utf8.RuneError))
}

func textResult(e exit) Result[string] {
	out := raw(e)
	return Result[string]{
		Response:      out,
		Status:        classify(e),
		RawResponse:   out,
		ExecutionTime: e.elapsed,
		Truncated:     e.truncated,
	}
}

// Stdout must be a single JSON document when the process completed
func jsonResult[T any](e exit) Result[T] {
	res := Result[T]{
		Status:        classify(e),
		RawResponse:   raw(e),
		ExecutionTime: e.elapsed,
		Truncated:     e.truncated,
	}
	if res.Status != types.ExecStatusCompleted {
		return res
	}
	if err := json.Unmarshal(bytes.TrimSpace(e.stdout), &res.Response); err != nil {
		res.Status = types.ExecStatusFailedUnknown
		res.RawResponse += "\ninvalid response: " + err.Error()
	}
	return res
}

func outputLimit(r types.ContainerRestrictions) int {
	if r.OutputLimitKilochars <= 0 {
		return -1
	}
	return r.OutputLimitKilochars * 1000
}

func timeout(r types.ContainerRestrictions) time.Duration {
	if r.TimeoutSec <= 0 {
		return 0
	}
	return time.Duration(r.TimeoutSec) * time.Second
}

// Collects stdout and stderr under one output budget. Writes past the budget are dropped but report
// success so the producer is never blocked.
type capture struct {
	mu        sync.Mutex
	stdout    bytes.Buffer
	stderr    bytes.Buffer
	remaining int
	truncated bool
}

func newCapture(limit int) *capture {
	return &capture{remaining: limit}
}

func (c *capture) write(dst *bytes.Buffer, p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.remaining < 0 {
		return dst.Write(p)
	}
	n := len(p)
	if n > c.remaining {
		c.truncated = true
		p = p[:c.remaining]
	}
	c.remaining -= len(p)
	dst.Write(p)
	return n, nil
}

type captureStream struct {
	c   *capture
	dst *bytes.Buffer
}

func (s captureStream) Write(p []byte) (int, error) {
	return s.c.write(s.dst, p)
}

func (c *capture) Stdout() io.Writer {
	return captureStream{c: c, dst: &c.stdout}
}

func (c *capture) Stderr() io.Writer {
	return captureStream{c: c, dst: &c.stderr}
}
