// Package provider abstracts where and how lab commands execute: directly
// on the local host or on a remote host over SSH.
package provider

import (
	"context"

	"github.com/iammrherb/labdabbler/pkg/types"
)

// Provider executes shell commands and moves files against one execution
// target. Implementations never leak raw transport errors: a command that
// cannot run at all still yields a CommandResult with ExitCode 1 and the
// error text in Stderr, alongside a *errors.TransportError for callers
// that need the distinction.
type Provider interface {
	// Name returns the configured provider name
	Name() string

	// Type returns the provider variant tag
	Type() types.ProviderType

	// ExecuteCommand runs a command on the target. A non-nil error means
	// the transport failed, not that the command exited non-zero; the
	// returned result is always non-nil.
	ExecuteCommand(ctx context.Context, command []string, workdir string) (*types.CommandResult, error)

	// UploadFile copies a local file to a path on the target
	UploadFile(ctx context.Context, localPath, remotePath string) error

	// DownloadFile copies a file from the target to a local path
	DownloadFile(ctx context.Context, remotePath, localPath string) error

	// CheckHealth probes docker and containerlab availability on the
	// target. Health is derived, never cached, and never returns an error.
	CheckHealth(ctx context.Context) *types.ProviderHealth

	// Close releases any live connection. Idempotent and safe to call
	// when never connected.
	Close() error
}

// checkTool runs a version probe through the provider and reports whether
// it exited zero. All failures, transport included, read as unavailable.
func checkTool(ctx context.Context, p Provider, command []string) bool {
	result, err := p.ExecuteCommand(ctx, command, "")
	if err != nil {
		return false
	}
	return result.ExitCode == 0
}

// checkDocker probes the docker CLI on the provider's target.
func checkDocker(ctx context.Context, p Provider) bool {
	return checkTool(ctx, p, []string{"docker", "version", "--format", "json"})
}

// checkContainerlab probes the containerlab CLI on the provider's target.
func checkContainerlab(ctx context.Context, p Provider) bool {
	return checkTool(ctx, p, []string{"containerlab", "version"})
}

// deriveHealth assembles the uniform health record shared by all variants.
func deriveHealth(ctx context.Context, p Provider) *types.ProviderHealth {
	health := &types.ProviderHealth{
		DockerAvailable:       checkDocker(ctx, p),
		ContainerlabAvailable: checkContainerlab(ctx, p),
	}
	health.Healthy = health.DockerAvailable && health.ContainerlabAvailable
	return health
}
