package testutil

import (
	"context"
	"sync"

	laberrors "github.com/iammrherb/labdabbler/pkg/errors"
	"github.com/iammrherb/labdabbler/pkg/types"
)

// MockProvider is a scriptable runtime provider for tests. Commands are
// matched against scripted results by their first argument; unmatched
// commands succeed with empty output. Set the error fields to inject
// transport failures on specific operations.
type MockProvider struct {
	ProviderName string
	ProviderType types.ProviderType

	// Results maps a command's leading argument to a scripted result
	Results map[string]*types.CommandResult

	// ExecuteErr, when set, makes every ExecuteCommand a transport failure
	ExecuteErr error
	// UploadErr and DownloadErr inject file transfer failures
	UploadErr   error
	DownloadErr error
	// Health overrides the health verdict; nil means fully healthy
	Health *types.ProviderHealth

	mu         sync.Mutex
	executed   [][]string
	uploads    [][2]string
	downloads  [][2]string
	closeCount int
}

// NewMockProvider returns a healthy local mock with no scripted results.
func NewMockProvider(name string) *MockProvider {
	return &MockProvider{
		ProviderName: name,
		ProviderType: types.ProviderTypeLocal,
		Results:      make(map[string]*types.CommandResult),
	}
}

func (m *MockProvider) Name() string {
	return m.ProviderName
}

func (m *MockProvider) Type() types.ProviderType {
	return m.ProviderType
}

func (m *MockProvider) ExecuteCommand(ctx context.Context, command []string, workdir string) (*types.CommandResult, error) {
	m.mu.Lock()
	m.executed = append(m.executed, command)
	m.mu.Unlock()

	if m.ExecuteErr != nil {
		terr := &laberrors.TransportError{Op: "execute", Provider: m.ProviderName, Cause: m.ExecuteErr}
		return &types.CommandResult{ExitCode: 1, Stderr: terr.Error()}, terr
	}

	if len(command) > 0 {
		if result, ok := m.Results[command[0]]; ok {
			resultCopy := *result
			return &resultCopy, nil
		}
	}
	return &types.CommandResult{ExitCode: 0}, nil
}

func (m *MockProvider) UploadFile(ctx context.Context, localPath, remotePath string) error {
	m.mu.Lock()
	m.uploads = append(m.uploads, [2]string{localPath, remotePath})
	m.mu.Unlock()

	if m.UploadErr != nil {
		return &laberrors.TransportError{Op: "upload", Provider: m.ProviderName, Cause: m.UploadErr}
	}
	return nil
}

func (m *MockProvider) DownloadFile(ctx context.Context, remotePath, localPath string) error {
	m.mu.Lock()
	m.downloads = append(m.downloads, [2]string{remotePath, localPath})
	m.mu.Unlock()

	if m.DownloadErr != nil {
		return &laberrors.TransportError{Op: "download", Provider: m.ProviderName, Cause: m.DownloadErr}
	}
	return nil
}

func (m *MockProvider) CheckHealth(ctx context.Context) *types.ProviderHealth {
	if m.Health != nil {
		healthCopy := *m.Health
		return &healthCopy
	}
	return &types.ProviderHealth{
		Healthy:               true,
		DockerAvailable:       true,
		ContainerlabAvailable: true,
	}
}

func (m *MockProvider) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeCount++
	return nil
}

// ExecutedCommands returns every command passed to ExecuteCommand.
func (m *MockProvider) ExecutedCommands() [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]string, len(m.executed))
	copy(out, m.executed)
	return out
}

// Uploads returns every (local, remote) pair passed to UploadFile.
func (m *MockProvider) Uploads() [][2]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][2]string, len(m.uploads))
	copy(out, m.uploads)
	return out
}

// CloseCount reports how many times Close was called.
func (m *MockProvider) CloseCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeCount
}

// ScriptCommand registers a scripted result for commands whose first
// argument matches name.
func (m *MockProvider) ScriptCommand(name string, exitCode int, stdout, stderr string) {
	m.Results[name] = &types.CommandResult{ExitCode: exitCode, Stdout: stdout, Stderr: stderr}
}

// FailCommand scripts a non-zero exit for commands whose first argument
// matches name.
func (m *MockProvider) FailCommand(name, stderr string) {
	m.ScriptCommand(name, 1, "", stderr)
}
