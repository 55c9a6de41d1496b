package provider

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	laberrors "github.com/iammrherb/labdabbler/pkg/errors"
	"github.com/iammrherb/labdabbler/pkg/logging"
	"github.com/iammrherb/labdabbler/pkg/types"
)

const defaultSSHPort = 22

// SSHProvider executes commands on a remote host over SSH and transfers
// files over SFTP. The connection is established lazily on first use and
// reused until Close; the lazy-connect path is mutex-guarded so concurrent
// first users cannot double-connect.
type SSHProvider struct {
	config         *types.ProviderConfig
	connectTimeout time.Duration
	logger         *logging.Logger

	mu     sync.Mutex
	client *ssh.Client
}

// NewSSHProvider creates a provider bound to a remote host. The connection
// is not opened here.
func NewSSHProvider(config *types.ProviderConfig, connectTimeout time.Duration) (*SSHProvider, error) {
	if config.Host == "" {
		return nil, fmt.Errorf("ssh provider %q: host is required", config.Name)
	}
	if config.Username == "" {
		return nil, fmt.Errorf("ssh provider %q: username is required", config.Name)
	}
	if config.Password == "" && config.PrivateKeyPath == "" {
		return nil, fmt.Errorf("ssh provider %q: one of password or private_key_path is required", config.Name)
	}
	if connectTimeout <= 0 {
		connectTimeout = 10 * time.Second
	}

	return &SSHProvider{
		config:         config,
		connectTimeout: connectTimeout,
		logger:         logging.WithComponent("provider.ssh").WithField("provider", config.Name),
	}, nil
}

// Name returns the configured provider name
func (p *SSHProvider) Name() string {
	return p.config.Name
}

// Type returns the provider variant tag
func (p *SSHProvider) Type() types.ProviderType {
	return types.ProviderTypeSSH
}

// connection returns the memoized SSH client, dialing on first use.
func (p *SSHProvider) connection() (*ssh.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client != nil {
		return p.client, nil
	}

	clientConfig, err := p.clientConfig()
	if err != nil {
		return nil, err
	}

	port := p.config.Port
	if port == 0 {
		port = defaultSSHPort
	}
	addr := net.JoinHostPort(p.config.Host, fmt.Sprint(port))

	client, err := ssh.Dial("tcp", addr, clientConfig)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	p.logger.Info("connected to %s", addr)
	p.client = client
	return client, nil
}

// clientConfig builds the SSH auth configuration. Private-key auth takes
// precedence when both a key path and a password are configured.
func (p *SSHProvider) clientConfig() (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod

	if p.config.PrivateKeyPath != "" {
		key, err := os.ReadFile(p.config.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("read private key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	} else {
		auth = append(auth, ssh.Password(p.config.Password))
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey() //nolint:gosec // opt-in via known_hosts_file
	if p.config.KnownHostsFile != "" {
		cb, err := knownhosts.New(p.config.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("load known hosts: %w", err)
		}
		hostKeyCallback = cb
	}

	return &ssh.ClientConfig{
		User:            p.config.Username,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         p.connectTimeout,
	}, nil
}

// ExecuteCommand joins the argument list into a single shell command,
// optionally prefixed with a workdir change, and runs it non-interactively
// over a fresh session on the shared connection.
func (p *SSHProvider) ExecuteCommand(ctx context.Context, command []string, workdir string) (*types.CommandResult, error) {
	if len(command) == 0 {
		err := &laberrors.TransportError{Op: "execute", Provider: p.config.Name, Cause: fmt.Errorf("empty command")}
		return &types.CommandResult{ExitCode: 1, Stderr: err.Error()}, err
	}

	client, err := p.connection()
	if err != nil {
		return p.transportFailure("execute", err)
	}

	session, err := client.NewSession()
	if err != nil {
		return p.transportFailure("execute", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	cmdline := buildShellCommand(command, workdir)

	// Honor context cancellation: ssh sessions have no native deadline.
	done := make(chan error, 1)
	go func() {
		done <- session.Run(cmdline)
	}()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		return p.transportFailure("execute", ctx.Err())
	case err = <-done:
	}

	if err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			return &types.CommandResult{
				ExitCode: exitErr.ExitStatus(),
				Stdout:   stdout.String(),
				Stderr:   stderr.String(),
			}, nil
		}

		var missingErr *ssh.ExitMissingError
		if errors.As(err, &missingErr) {
			// No exit status came back; treat as failure rather than
			// risking a false positive on a transport hiccup.
			return &types.CommandResult{
				ExitCode: 1,
				Stdout:   stdout.String(),
				Stderr:   "command finished without an exit status",
			}, nil
		}

		return p.transportFailure("execute", err)
	}

	return &types.CommandResult{
		ExitCode: 0,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}, nil
}

// transportFailure logs and converts a transport error into the uniform
// command failure shape.
func (p *SSHProvider) transportFailure(op string, cause error) (*types.CommandResult, error) {
	terr := &laberrors.TransportError{Op: op, Provider: p.config.Name, Cause: cause}
	p.logger.WithError(cause).Warn("ssh %s failed", op)
	return &types.CommandResult{ExitCode: 1, Stderr: terr.Error()}, terr
}

// UploadFile copies a local file to the remote host over a per-call SFTP
// sub-session on the shared connection.
func (p *SSHProvider) UploadFile(ctx context.Context, localPath, remotePath string) error {
	client, err := p.connection()
	if err != nil {
		return &laberrors.TransportError{Op: "upload", Provider: p.config.Name, Cause: err}
	}

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		return &laberrors.TransportError{Op: "upload", Provider: p.config.Name, Cause: err}
	}
	defer sftpClient.Close()

	src, err := os.Open(localPath)
	if err != nil {
		return &laberrors.TransportError{Op: "upload", Provider: p.config.Name, Cause: err}
	}
	defer src.Close()

	if dir := path.Dir(remotePath); dir != "" && dir != "." {
		if err := sftpClient.MkdirAll(dir); err != nil {
			return &laberrors.TransportError{Op: "upload", Provider: p.config.Name, Cause: err}
		}
	}

	dst, err := sftpClient.Create(remotePath)
	if err != nil {
		return &laberrors.TransportError{Op: "upload", Provider: p.config.Name, Cause: err}
	}

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return &laberrors.TransportError{Op: "upload", Provider: p.config.Name, Cause: err}
	}

	if err := dst.Close(); err != nil {
		return &laberrors.TransportError{Op: "upload", Provider: p.config.Name, Cause: err}
	}

	p.logger.Debug("uploaded %s to %s", localPath, remotePath)
	return nil
}

// DownloadFile copies a remote file to the local host.
func (p *SSHProvider) DownloadFile(ctx context.Context, remotePath, localPath string) error {
	client, err := p.connection()
	if err != nil {
		return &laberrors.TransportError{Op: "download", Provider: p.config.Name, Cause: err}
	}

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		return &laberrors.TransportError{Op: "download", Provider: p.config.Name, Cause: err}
	}
	defer sftpClient.Close()

	src, err := sftpClient.Open(remotePath)
	if err != nil {
		return &laberrors.TransportError{Op: "download", Provider: p.config.Name, Cause: err}
	}
	defer src.Close()

	if err := copyFromReader(src, localPath); err != nil {
		return &laberrors.TransportError{Op: "download", Provider: p.config.Name, Cause: err}
	}

	p.logger.Debug("downloaded %s to %s", remotePath, localPath)
	return nil
}

// CheckHealth probes docker and containerlab on the remote host. A
// connection failure reads as unhealthy with the error attached.
func (p *SSHProvider) CheckHealth(ctx context.Context) *types.ProviderHealth {
	if _, err := p.connection(); err != nil {
		return &types.ProviderHealth{Healthy: false, Error: err.Error()}
	}
	return deriveHealth(ctx, p)
}

// Close tears down the connection. Idempotent; a later call re-dials.
func (p *SSHProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client == nil {
		return nil
	}

	err := p.client.Close()
	p.client = nil
	if err != nil {
		return fmt.Errorf("close ssh connection: %w", err)
	}
	p.logger.Info("connection closed")
	return nil
}

// buildShellCommand quotes each argument and joins them into one command
// line, prefixing a cd when a workdir is given.
func buildShellCommand(command []string, workdir string) string {
	quoted := make([]string, len(command))
	for i, arg := range command {
		quoted[i] = shellQuote(arg)
	}
	cmdline := strings.Join(quoted, " ")
	if workdir != "" {
		cmdline = fmt.Sprintf("cd %s && %s", shellQuote(workdir), cmdline)
	}
	return cmdline
}

// shellQuote single-quotes an argument for POSIX shells.
func shellQuote(arg string) string {
	if arg == "" {
		return "''"
	}
	if !strings.ContainsAny(arg, " \t\n\"'\\$&|;<>()*?[]#~`!{}") {
		return arg
	}
	return "'" + strings.ReplaceAll(arg, "'", `'\''`) + "'"
}

// copyFromReader writes the reader's content to a local file.
func copyFromReader(src io.Reader, dst string) error {
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
