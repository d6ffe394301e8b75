package containers

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/pottery-backend/pottery/internal/command"
	"github.com/pottery-backend/pottery/internal/types"
)

// Ensure LocalManager implements Manager interface.
var _ Manager = (*LocalManager)(nil)

// Runs stage scripts directly on the host. The image is ignored, disk and memory limits are applied
// with ulimit and the network is never isolated. Meant for development and tests.
type LocalManager struct {
	executor command.Executor
}

func NewLocalManager(executor command.Executor) *LocalManager {
	return &LocalManager{executor: executor}
}

// bash wrapper applying the ulimits of r before running script with args
func limited(r types.ContainerRestrictions, script string, args ...string) *command.Command {
	prelude := ""
	if r.DiskWriteLimitMegabytes > 0 {
		// 1024 byte blocks
		prelude += "ulimit -f " + strconv.Itoa(r.DiskWriteLimitMegabytes*1024) + "; "
	}
	if r.RAMLimitMegabytes > 0 {
		prelude += "ulimit -v " + strconv.Itoa(r.RAMLimitMegabytes*1024) + "; "
	}
	cmdArgs := append([]string{"-c", prelude + `bash "$0" "$@"`, script}, args...)
	return command.New("bash", cmdArgs...)
}

func (l *LocalManager) exec(
	ctx context.Context,
	cmd *command.Command,
	r types.ContainerRestrictions,
) (exit, error) {
	ctx, span := tracer.Start(ctx, "LocalManager.exec", trace.WithAttributes(
		attribute.StringSlice("args", cmd.Args),
	))
	defer span.End()

	runCtx, cancel := ctx, context.CancelFunc(func() {})
	if limit := timeout(r); limit > 0 {
		runCtx, cancel = context.WithTimeout(ctx, limit)
	}
	defer cancel()

	out := newCapture(outputLimit(r))
	cmd.Stdout = out.Stdout()
	cmd.Stderr = out.Stderr()

	res, err := l.executor.Execute(runCtx, cmd)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to execute script")
		return exit{}, err
	}
	if ctx.Err() != nil {
		span.RecordError(ctx.Err())
		span.SetStatus(codes.Error, "cancelled while executing script")
		return exit{}, ctx.Err()
	}

	e := exit{
		stdout:    out.stdout.Bytes(),
		stderr:    out.stderr.Bytes(),
		elapsed:   res.Duration,
		code:      res.ExitCode,
		timedOut:  errors.Is(runCtx.Err(), context.DeadlineExceeded),
		truncated: out.truncated,
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "executed script")
	return e, nil
}

func (l *LocalManager) ExecHarnessCompile(
	ctx context.Context,
	taskDir, _ string,
	r types.ContainerRestrictions,
) (Result[string], error) {
	cmd := limited(r, filepath.Join(taskDir, HarnessCompileScript), taskDir).InDir(taskDir)
	e, err := l.exec(ctx, cmd, r)
	if err != nil {
		return Result[string]{}, err
	}
	return textResult(e), nil
}

func (l *LocalManager) ExecSolutionCompile(
	ctx context.Context,
	codeDir, compileDir, _ string,
	r types.ContainerRestrictions,
) (Result[string], error) {
	cmd := limited(r, filepath.Join(compileDir, SolutionCompileScript), codeDir).InDir(codeDir)
	e, err := l.exec(ctx, cmd, r)
	if err != nil {
		return Result[string]{}, err
	}
	return textResult(e), nil
}

func (l *LocalManager) ExecHarness(
	ctx context.Context,
	codeDir, harnessDir, _ string,
	r types.ContainerRestrictions,
) (Result[types.HarnessResponse], error) {
	cmd := limited(r, filepath.Join(harnessDir, HarnessScript), codeDir, harnessDir).InDir(harnessDir)
	e, err := l.exec(ctx, cmd, r)
	if err != nil {
		return Result[types.HarnessResponse]{}, err
	}
	return jsonResult[types.HarnessResponse](e), nil
}

func (l *LocalManager) ExecValidator(
	ctx context.Context,
	validatorDir string,
	harness types.HarnessResponse,
	_ string,
	r types.ContainerRestrictions,
) (Result[types.ValidatorResponse], error) {
	inputDir, err := writeHarnessInput(harness)
	if err != nil {
		return Result[types.ValidatorResponse]{}, err
	}
	defer os.RemoveAll(inputDir)

	input := filepath.Join(inputDir, HarnessInputFile)
	cmd := limited(r, filepath.Join(validatorDir, ValidatorScript), input).InDir(validatorDir)
	e, err := l.exec(ctx, cmd, r)
	if err != nil {
		return Result[types.ValidatorResponse]{}, fmt.Errorf("failed to run validator: %w", err)
	}
	return jsonResult[types.ValidatorResponse](e), nil
}
