package docker

import (
	"context"
	"io"

	"fleetguard/internal/models"
)

// Runtime is the slice of the container runtime API the fleet controller
// depends on. Client implements it against the Docker engine; dockertest
// provides an in-memory version.
type Runtime interface {
	Ping(ctx context.Context) error
	Info(ctx context.Context) (models.RuntimeInfo, error)

	ListContainers(ctx context.Context, opts ListOptions) ([]models.ContainerSummary, error)
	InspectContainer(ctx context.Context, id string) (models.Container, error)
	Stats(ctx context.Context, id string) (Stats, error)

	StartContainer(ctx context.Context, id string) error
	StopContainer(ctx context.Context, id string, timeoutSec int) error
	RestartContainer(ctx context.Context, id string, timeoutSec int) error
	PauseContainer(ctx context.Context, id string) error
	UnpauseContainer(ctx context.Context, id string) error
	KillContainer(ctx context.Context, id, signal string) error
	RemoveContainer(ctx context.Context, id string, opts RemoveOptions) error

	Exec(ctx context.Context, id string, cmd []string) (ExecResult, error)

	ListVolumes(ctx context.Context) ([]models.Volume, error)
	VolumeUsage(ctx context.Context) ([]models.VolumeUsage, error)
	RemoveVolume(ctx context.Context, name string) error

	CreateHelper(ctx context.Context, spec HelperSpec) (string, error)
	CopyFromContainer(ctx context.Context, id, srcPath string) (io.ReadCloser, error)
}

type ListOptions struct {
	All      bool
	WithSize bool
}

type RemoveOptions struct {
	Force         bool
	RemoveVolumes bool
}

// ExecResult holds the demultiplexed output of a one-shot exec.
type ExecResult struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// HelperSpec describes a short-lived utility container. The image is pulled
// when missing; the container is created but not started.
type HelperSpec struct {
	Name   string
	Image  string
	Cmd    []string
	Binds  []string
	Labels map[string]string
}
