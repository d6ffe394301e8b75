package containers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"time"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/pottery-backend/pottery/internal/logger"
	"github.com/pottery-backend/pottery/internal/types"
)

// Ensure DockerManager implements Manager interface.
var _ Manager = (*DockerManager)(nil)

//go:generate mockgen -destination ./mock/docker.go -package mock . DockerAPI

// Subset of the docker engine client used to run one sandboxed process
type DockerAPI interface {
	ContainerCreate(
		ctx context.Context,
		config *container.Config,
		hostConfig *container.HostConfig,
		networkingConfig *network.NetworkingConfig,
		platform *ocispec.Platform,
		containerName string,
	) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerWait(
		ctx context.Context,
		containerID string,
		condition container.WaitCondition,
	) (<-chan container.WaitResponse, <-chan error)
	ContainerKill(ctx context.Context, containerID, signal string) error
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ImagePull(ctx context.Context, ref string, options image.PullOptions) (io.ReadCloser, error)
}

type DockerOptions struct {
	// CPUs available to each container, 0 leaves the engine default
	CPUs float64
	// Pull images missing from the engine instead of failing the stage
	PullImages bool
}

type DockerManager struct {
	api  DockerAPI
	opts DockerOptions
}

func NewDockerClient() (*client.Client, error) {
	return client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
}

func NewDockerManager(api DockerAPI, opts DockerOptions) *DockerManager {
	return &DockerManager{api: api, opts: opts}
}

type mount struct {
	host      string
	container string
	readOnly  bool
}

type invocation struct {
	image        string
	cmd          []string
	workdir      string
	mounts       []mount
	restrictions types.ContainerRestrictions
}

func (d *DockerManager) ExecHarnessCompile(
	ctx context.Context,
	taskDir, image string,
	r types.ContainerRestrictions,
) (Result[string], error) {
	ctx, span := tracer.Start(ctx, "DockerManager.ExecHarnessCompile", trace.WithAttributes(
		attribute.String("image", image),
	))
	defer span.End()

	e, err := d.run(ctx, invocation{
		image:        image,
		cmd:          []string{"bash", path.Join(TaskMount, HarnessCompileScript), TaskMount},
		workdir:      TaskMount,
		mounts:       []mount{{host: taskDir, container: TaskMount}},
		restrictions: r,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to run harness compilation")
		return Result[string]{}, err
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "ran harness compilation")
	return textResult(e), nil
}

func (d *DockerManager) ExecSolutionCompile(
	ctx context.Context,
	codeDir, compileDir, image string,
	r types.ContainerRestrictions,
) (Result[string], error) {
	ctx, span := tracer.Start(ctx, "DockerManager.ExecSolutionCompile", trace.WithAttributes(
		attribute.String("image", image),
	))
	defer span.End()

	e, err := d.run(ctx, invocation{
		image:   image,
		cmd:     []string{"bash", path.Join(CompileMount, SolutionCompileScript), CodeMount},
		workdir: CodeMount,
		mounts: []mount{
			{host: codeDir, container: CodeMount},
			{host: compileDir, container: CompileMount, readOnly: true},
		},
		restrictions: r,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to run solution compilation")
		return Result[string]{}, err
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "ran solution compilation")
	return textResult(e), nil
}

func (d *DockerManager) ExecHarness(
	ctx context.Context,
	codeDir, harnessDir, image string,
	r types.ContainerRestrictions,
) (Result[types.HarnessResponse], error) {
	ctx, span := tracer.Start(ctx, "DockerManager.ExecHarness", trace.WithAttributes(
		attribute.String("image", image),
	))
	defer span.End()

	e, err := d.run(ctx, invocation{
		image:   image,
		cmd:     []string{"bash", path.Join(HarnessMount, HarnessScript), CodeMount, HarnessMount},
		workdir: HarnessMount,
		mounts: []mount{
			{host: codeDir, container: CodeMount},
			{host: harnessDir, container: HarnessMount, readOnly: true},
		},
		restrictions: r,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to run harness")
		return Result[types.HarnessResponse]{}, err
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "ran harness")
	return jsonResult[types.HarnessResponse](e), nil
}

func (d *DockerManager) ExecValidator(
	ctx context.Context,
	validatorDir string,
	harness types.HarnessResponse,
	image string,
	r types.ContainerRestrictions,
) (Result[types.ValidatorResponse], error) {
	ctx, span := tracer.Start(ctx, "DockerManager.ExecValidator", trace.WithAttributes(
		attribute.String("image", image),
	))
	defer span.End()

	inputDir, err := writeHarnessInput(harness)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to write validator input")
		return Result[types.ValidatorResponse]{}, err
	}
	defer os.RemoveAll(inputDir)

	e, err := d.run(ctx, invocation{
		image: image,
		cmd: []string{
			"bash",
			path.Join(ValidatorMount, ValidatorScript),
			path.Join(InputMount, HarnessInputFile),
		},
		workdir: ValidatorMount,
		mounts: []mount{
			{host: validatorDir, container: ValidatorMount, readOnly: true},
			{host: inputDir, container: InputMount, readOnly: true},
		},
		restrictions: r,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to run validator")
		return Result[types.ValidatorResponse]{}, err
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "ran validator")
	return jsonResult[types.ValidatorResponse](e), nil
}

// Harness output handed to the validator as a file in a fresh directory
func writeHarnessInput(harness types.HarnessResponse) (string, error) {
	body, err := json.Marshal(harness)
	if err != nil {
		return "", fmt.Errorf("failed to encode harness response: %w", err)
	}
	dir, err := os.MkdirTemp("", "pottery-validator-")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(dir, HarnessInputFile), body, 0o644); err != nil {
		os.RemoveAll(dir)
		return "", err
	}
	return dir, nil
}

func engineError(err error) error {
	if client.IsErrConnectionFailed(err) {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return err
}

func (d *DockerManager) containerConfig(inv invocation) (*container.Config, *container.HostConfig, error) {
	binds := make([]string, 0, len(inv.mounts))
	for _, m := range inv.mounts {
		host, err := filepath.Abs(m.host)
		if err != nil {
			return nil, nil, err
		}
		bind := host + ":" + m.container
		if m.readOnly {
			bind += ":ro"
		}
		binds = append(binds, bind)
	}

	r := inv.restrictions
	hostConfig := &container.HostConfig{Binds: binds}
	if r.RAMLimitMegabytes > 0 {
		memory := int64(r.RAMLimitMegabytes) * 1024 * 1024
		hostConfig.Resources.Memory = memory
		hostConfig.Resources.MemorySwap = memory
	}
	if d.opts.CPUs > 0 {
		hostConfig.Resources.NanoCPUs = int64(d.opts.CPUs * 1e9)
	}
	if r.DiskWriteLimitMegabytes > 0 {
		fsize := int64(r.DiskWriteLimitMegabytes) * 1024 * 1024
		hostConfig.Resources.Ulimits = []*container.Ulimit{{Name: "fsize", Soft: fsize, Hard: fsize}}
	}
	if r.NetworkDisabled {
		hostConfig.NetworkMode = container.NetworkMode(network.NetworkNone)
	}

	return &container.Config{
		Image:           inv.image,
		Cmd:             inv.cmd,
		WorkingDir:      inv.workdir,
		Tty:             false,
		NetworkDisabled: r.NetworkDisabled,
	}, hostConfig, nil
}

func (d *DockerManager) create(ctx context.Context, inv invocation) (string, error) {
	cfg, hostConfig, err := d.containerConfig(inv)
	if err != nil {
		return "", err
	}

	resp, err := d.api.ContainerCreate(ctx, cfg, hostConfig, &network.NetworkingConfig{}, nil, "")
	if err != nil && cerrdefs.IsNotFound(err) && d.opts.PullImages {
		logger.Logger.InfoContext(ctx, "pulling missing image", "image", inv.image)
		if err := d.pull(ctx, inv.image); err != nil {
			return "", err
		}
		resp, err = d.api.ContainerCreate(ctx, cfg, hostConfig, &network.NetworkingConfig{}, nil, "")
	}
	if err != nil {
		return "", engineError(err)
	}

	for _, w := range resp.Warnings {
		logger.Logger.WarnContext(ctx, "container created with warning", "warning", w)
	}
	return resp.ID, nil
}

func (d *DockerManager) pull(ctx context.Context, ref string) error {
	rc, err := d.api.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return engineError(err)
	}
	defer rc.Close()

	// the pull only finishes once its progress stream is drained
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return fmt.Errorf("failed to pull %s: %w", ref, err)
	}
	return nil
}

func (d *DockerManager) run(ctx context.Context, inv invocation) (exit, error) {
	ctx, span := tracer.Start(ctx, "DockerManager.run", trace.WithAttributes(
		attribute.StringSlice("cmd", inv.cmd),
	))
	defer span.End()

	id, err := d.create(ctx, inv)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create container")
		return exit{}, err
	}
	span.AddEvent("created", trace.WithAttributes(attribute.String("container", id)))

	defer func() {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if err := d.api.ContainerRemove(rctx, id, container.RemoveOptions{Force: true}); err != nil {
			logger.Logger.WarnContext(ctx, "failed to remove container", "container", id, "error", err)
		}
	}()

	start := time.Now()
	if err := d.api.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		err = engineError(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to start container")
		return exit{}, err
	}

	timedOut, err := d.wait(ctx, id, timeout(inv.restrictions))
	elapsed := time.Since(start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed waiting for container")
		return exit{}, err
	}

	inspect, err := d.api.ContainerInspect(ctx, id)
	if err != nil {
		err = engineError(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to inspect container")
		return exit{}, err
	}

	out := newCapture(outputLimit(inv.restrictions))
	logs, err := d.api.ContainerLogs(ctx, id, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		err = engineError(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to read container logs")
		return exit{}, err
	}
	defer logs.Close()
	if _, err := stdcopy.StdCopy(out.Stdout(), out.Stderr(), logs); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to demultiplex container logs")
		return exit{}, err
	}

	e := exit{
		stdout:    out.stdout.Bytes(),
		stderr:    out.stderr.Bytes(),
		elapsed:   elapsed,
		timedOut:  timedOut,
		truncated: out.truncated,
	}
	if inspect.ContainerJSONBase != nil && inspect.State != nil {
		e.code = inspect.State.ExitCode
		e.oomKilled = inspect.State.OOMKilled
	}

	span.AddEvent("finished", trace.WithAttributes(
		attribute.Int("exitCode", e.code),
		attribute.Bool("timedOut", e.timedOut),
		attribute.Bool("oomKilled", e.oomKilled),
	))
	span.RecordError(nil)
	span.SetStatus(codes.Ok, "container finished")
	return e, nil
}

// Blocks until the container stops. Kills it once limit passes and reports the timeout.
func (d *DockerManager) wait(ctx context.Context, id string, limit time.Duration) (bool, error) {
	waitCtx, cancel := ctx, context.CancelFunc(func() {})
	if limit > 0 {
		waitCtx, cancel = context.WithTimeout(ctx, limit)
	}
	defer cancel()

	statusCh, errCh := d.api.ContainerWait(waitCtx, id, container.WaitConditionNotRunning)
	select {
	case status := <-statusCh:
		if status.Error != nil && status.Error.Message != "" {
			logger.Logger.WarnContext(ctx, "container wait reported error", "error", status.Error.Message)
		}
		return false, nil
	case err := <-errCh:
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		if !errors.Is(err, context.DeadlineExceeded) {
			return false, engineError(err)
		}
	}

	kctx, kcancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer kcancel()
	if err := d.api.ContainerKill(kctx, id, "KILL"); err != nil && !cerrdefs.IsNotFound(err) &&
		!cerrdefs.IsConflict(err) {
		return true, engineError(err)
	}

	statusCh, errCh = d.api.ContainerWait(kctx, id, container.WaitConditionNotRunning)
	select {
	case <-statusCh:
	case err := <-errCh:
		return true, engineError(err)
	}
	return true, nil
}
