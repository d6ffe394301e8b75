package command

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/pottery-backend/pottery/internal/logger"
)

// Ensure ShellExecutor implements Executor interface.
var _ Executor = (*ShellExecutor)(nil)

// Grace period for pipes after the process group is killed
const waitDelay = time.Second

// Runs commands as subprocesses. Each command gets its own process group which is killed as a whole
// when ctx is done, so scripts cannot leave children behind.
type ShellExecutor struct{}

func NewShellExecutor() *ShellExecutor {
	return &ShellExecutor{}
}

// Uses w when set, otherwise collects into a fresh buffer
func sink(w io.Writer) (io.Writer, *bytes.Buffer) {
	if w != nil {
		return w, nil
	}
	buf := new(bytes.Buffer)
	return buf, buf
}

func collected(buf *bytes.Buffer) []byte {
	if buf == nil {
		return nil
	}
	return buf.Bytes()
}

func (*ShellExecutor) Execute(ctx context.Context, command *Command) (*Result, error) {
	ctx, span := tracer.Start(ctx, "ShellExecutor.Execute", trace.WithAttributes(
		attribute.StringSlice("argv", command.Argv()),
		attribute.String("dir", command.Dir),
	))
	defer span.End()

	stdout, stdoutBuf := sink(command.Stdout)
	stderr, stderrBuf := sink(command.Stderr)

	//nolint:gosec // G204: scripts come from task definitions, never from request input
	cmd := exec.CommandContext(ctx, command.Program, command.Args...)
	cmd.Dir = command.Dir
	cmd.Stdin = command.Stdin
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	if len(command.Env) > 0 {
		cmd.Env = append(os.Environ(), command.Env...)
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = waitDelay

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	var ee *exec.ExitError
	switch {
	case err == nil, errors.As(err, &ee):
	case errors.Is(err, exec.ErrWaitDelay):
		span.AddEvent("pipes outlived the process")
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to start command")
		return nil, err
	}

	exitCode := cmd.ProcessState.ExitCode()
	logger.Logger.DebugContext(ctx, "command exited",
		"program", command.Program, "exit_code", exitCode, "duration", elapsed)
	span.SetAttributes(
		attribute.Int("exit_code", exitCode),
		attribute.Int64("duration_ms", elapsed.Milliseconds()),
	)

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "executed command")
	return &Result{
		Cmd:      command.Argv(),
		Stdout:   collected(stdoutBuf),
		Stderr:   collected(stderrBuf),
		Duration: elapsed,
		ExitCode: exitCode,
	}, nil
}
