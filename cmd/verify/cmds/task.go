package cmds

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/pottery-backend/pottery/internal/command"
	"github.com/pottery-backend/pottery/internal/containers"
	"github.com/pottery-backend/pottery/internal/logger"
	"github.com/pottery-backend/pottery/internal/task"
	"github.com/pottery-backend/pottery/internal/types"
	"github.com/pottery-backend/pottery/internal/vcs"
	"github.com/pottery-backend/pottery/internal/worker"
	workererrors "github.com/pottery-backend/pottery/internal/worker_errors"
)

var (
	taskRevision   string
	taskEngine     string
	taskCPUs       float64
	taskPullImages bool
	taskKeepCopy   bool
)

var taskCmd = &cobra.Command{
	Use:   "task <definition-dir>",
	Short: "Build a task definition and check its solution passes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, span := tracer.Start(cmd.Context(), "taskCmd")
		defer span.End()

		span.SetAttributes(
			attribute.String("definition", args[0]),
			attribute.String("revision", taskRevision),
			attribute.String("engine", taskEngine),
		)

		mgr, err := manager()
		if err != nil {
			err = workererrors.ExitErrorWrap(types.ExitErrored, err)
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to create container manager")
			return err
		}

		workDir, err := os.MkdirTemp("", "pottery-verify-")
		if err != nil {
			err = workererrors.ExitErrorWrap(types.ExitErrored, err)
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to create work directory")
			return err
		}
		if taskKeepCopy {
			logger.Logger.InfoContext(ctx, "keeping task copy", "dir", workDir)
		} else {
			defer os.RemoveAll(workDir)
		}

		err = verifyTask(ctx, cmd.OutOrStdout(), mgr, args[0], taskRevision, workDir)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "task did not verify")
			return err
		}

		span.RecordError(nil)
		span.SetStatus(codes.Ok, "task verified")
		return nil
	},
}

func manager() (containers.Manager, error) {
	switch taskEngine {
	case "local":
		return containers.NewLocalManager(command.NewShellExecutor()), nil
	case "docker":
		cli, err := containers.NewDockerClient()
		if err != nil {
			return nil, fmt.Errorf("failed to create docker client: %w", err)
		}
		return containers.NewDockerManager(cli, containers.DockerOptions{
			CPUs:       taskCPUs,
			PullImages: taskPullImages,
		}), nil
	}
	return nil, fmt.Errorf("unknown engine %q, expected docker or local", taskEngine)
}

// Builds definitionDir at revision under workDir and writes the builder info to out as JSON
func verifyTask(
	ctx context.Context,
	out io.Writer,
	mgr containers.Manager,
	definitionDir string,
	revision string,
	workDir string,
) error {
	definitionDir, err := filepath.Abs(definitionDir)
	if err != nil {
		return workererrors.ExitErrorWrap(types.ExitErrored, err)
	}
	commit, err := vcs.Resolve(ctx, definitionDir, revision)
	if err != nil {
		return workererrors.ExitErrorWrap(types.ExitErrored, err)
	}

	copyID := uuid.NewString()
	b := task.NewBuilder(
		filepath.Base(definitionDir),
		copyID,
		commit,
		definitionDir,
		filepath.Join(workDir, copyID),
	)

	logger.Logger.InfoContext(ctx, "verifying task", "definition", definitionDir, "commit", commit)

	w := worker.NewBlocking(&worker.Env{Containers: mgr}, worker.Options{})
	if _, err := b.Schedule(ctx, w, nil); err != nil {
		return workererrors.ExitErrorWrap(types.ExitErrored, err)
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(b.Info()); err != nil {
		return workererrors.ExitErrorWrap(types.ExitErrored, err)
	}

	if b.Status() != types.BuildStatusSuccess {
		return workererrors.ExitErrorWrap(types.ExitVerificationFailed, b.Cause())
	}
	return nil
}

func init() {
	taskCmd.Flags().StringVar(&taskRevision, "revision", task.PlaceholderRevision, "revision of the definition to build")
	taskCmd.Flags().StringVar(&taskEngine, "engine", "docker", "where stages run, docker or local")
	taskCmd.Flags().Float64Var(&taskCPUs, "cpus", 1, "CPUs available to each container")
	taskCmd.Flags().BoolVar(&taskPullImages, "pull", true, "pull missing images")
	taskCmd.Flags().BoolVar(&taskKeepCopy, "keep", false, "keep the built copy for inspection")

	rootCmd.AddCommand(taskCmd)
}
