// Package command runs host processes for the local stage runner.
package command

import (
	"context"
	"io"
	"time"

	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("github.com/pottery-backend/pottery/internal/command")

type Result struct {
	Cmd []string
	// Empty when the command had its own writer for the stream
	Stdout   []byte
	Stderr   []byte
	Duration time.Duration
	// -1 when the process was killed by a signal or the context
	ExitCode int
}

type Command struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	Program string
	Dir     string
	Args    []string
	// Appended to the environment of the server process
	Env []string
}

func New(program string, args ...string) *Command {
	return &Command{
		Program: program,
		Args:    args,
	}
}

func (c *Command) InDir(dir string) *Command {
	c.Dir = dir
	return c
}

func (c *Command) Argv() []string {
	return append([]string{c.Program}, c.Args...)
}

//go:generate mockgen -destination ./mock/mock.go -package mock . Executor

type Executor interface {
	Execute(ctx context.Context, cmd *Command) (*Result, error)
}
