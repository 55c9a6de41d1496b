package provider

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	laberrors "github.com/iammrherb/labdabbler/pkg/errors"
	"github.com/iammrherb/labdabbler/pkg/logging"
	"github.com/iammrherb/labdabbler/pkg/types"
)

// LocalProvider executes commands as direct child processes of the host.
// Upload and download degenerate to same-filesystem copies.
type LocalProvider struct {
	config *types.ProviderConfig
	logger *logging.Logger
}

// NewLocalProvider creates a provider bound to the local host.
func NewLocalProvider(config *types.ProviderConfig) *LocalProvider {
	return &LocalProvider{
		config: config,
		logger: logging.WithComponent("provider.local").WithField("provider", config.Name),
	}
}

// Name returns the configured provider name
func (p *LocalProvider) Name() string {
	return p.config.Name
}

// Type returns the provider variant tag
func (p *LocalProvider) Type() types.ProviderType {
	return types.ProviderTypeLocal
}

// ExecuteCommand spawns the command as a child process, with workdir passed
// straight through as the working directory.
func (p *LocalProvider) ExecuteCommand(ctx context.Context, command []string, workdir string) (*types.CommandResult, error) {
	if len(command) == 0 {
		err := &laberrors.TransportError{Op: "execute", Provider: p.config.Name, Cause: fmt.Errorf("empty command")}
		return &types.CommandResult{ExitCode: 1, Stderr: err.Error()}, err
	}

	cmd := exec.CommandContext(ctx, command[0], command[1:]...)
	cmd.Dir = workdir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// The command ran and exited non-zero: a valid result.
			return &types.CommandResult{
				ExitCode: exitErr.ExitCode(),
				Stdout:   stdout.String(),
				Stderr:   stderr.String(),
			}, nil
		}

		// Spawn failure (missing executable, bad workdir, cancelled context).
		terr := &laberrors.TransportError{Op: "execute", Provider: p.config.Name, Cause: err}
		p.logger.WithError(err).Warn("command spawn failed: %v", command)
		return &types.CommandResult{ExitCode: 1, Stdout: stdout.String(), Stderr: terr.Error()}, terr
	}

	return &types.CommandResult{
		ExitCode: 0,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}, nil
}

// UploadFile copies localPath to remotePath on the same filesystem.
func (p *LocalProvider) UploadFile(ctx context.Context, localPath, remotePath string) error {
	if err := copyFile(localPath, remotePath); err != nil {
		p.logger.WithError(err).Warn("file copy failed: %s -> %s", localPath, remotePath)
		return &laberrors.TransportError{Op: "upload", Provider: p.config.Name, Cause: err}
	}
	return nil
}

// DownloadFile is the inverse copy.
func (p *LocalProvider) DownloadFile(ctx context.Context, remotePath, localPath string) error {
	if err := copyFile(remotePath, localPath); err != nil {
		p.logger.WithError(err).Warn("file copy failed: %s -> %s", remotePath, localPath)
		return &laberrors.TransportError{Op: "download", Provider: p.config.Name, Cause: err}
	}
	return nil
}

// CheckHealth probes docker and containerlab on the local host.
func (p *LocalProvider) CheckHealth(ctx context.Context) *types.ProviderHealth {
	return deriveHealth(ctx, p)
}

// Close is a no-op: the local provider holds no connection state.
func (p *LocalProvider) Close() error {
	return nil
}

// copyFile copies src to dst, creating parent directories as needed.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if dir := filepath.Dir(dst); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	out, err := os.Create(dst)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}

	return out.Close()
}
