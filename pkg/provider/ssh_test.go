package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	laberrors "github.com/iammrherb/labdabbler/pkg/errors"
	"github.com/iammrherb/labdabbler/pkg/types"
)

func TestNewSSHProviderValidation(t *testing.T) {
	cases := []struct {
		name string
		cfg  *types.ProviderConfig
	}{
		{"missing host", &types.ProviderConfig{Name: "a", Type: types.ProviderTypeSSH, Username: "u", Password: "p"}},
		{"missing username", &types.ProviderConfig{Name: "b", Type: types.ProviderTypeSSH, Host: "h", Password: "p"}},
		{"missing auth", &types.ProviderConfig{Name: "c", Type: types.ProviderTypeSSH, Host: "h", Username: "u"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewSSHProvider(tc.cfg, time.Second); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestSSHExecuteUnreachableHost(t *testing.T) {
	p, err := NewSSHProvider(&types.ProviderConfig{
		Name:     "dead",
		Type:     types.ProviderTypeSSH,
		Host:     "127.0.0.1",
		Port:     1, // nothing listens here
		Username: "clab",
		Password: "secret",
	}, 500*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}

	result, err := p.ExecuteCommand(context.Background(), []string{"containerlab", "version"}, "")
	var terr *laberrors.TransportError
	if !errors.As(err, &terr) {
		t.Fatalf("expected TransportError, got %v", err)
	}
	if result == nil || result.ExitCode != 1 {
		t.Fatalf("expected uniform failure result, got %+v", result)
	}
	if result.Stderr == "" {
		t.Error("expected error text in stderr")
	}
}

func TestSSHHealthReportsConnectionFailure(t *testing.T) {
	p, err := NewSSHProvider(&types.ProviderConfig{
		Name:     "dead",
		Type:     types.ProviderTypeSSH,
		Host:     "127.0.0.1",
		Port:     1,
		Username: "clab",
		Password: "secret",
	}, 500*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}

	health := p.CheckHealth(context.Background())
	if health.Healthy {
		t.Error("expected unhealthy verdict for unreachable host")
	}
	if health.Error == "" {
		t.Error("expected connection error to be reported")
	}
}

func TestSSHCloseIdempotent(t *testing.T) {
	p, err := NewSSHProvider(&types.ProviderConfig{
		Name:     "idle",
		Type:     types.ProviderTypeSSH,
		Host:     "example.com",
		Username: "clab",
		Password: "secret",
	}, time.Second)
	if err != nil {
		t.Fatal(err)
	}

	// Never connected; both closes are no-ops.
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestBuildShellCommand(t *testing.T) {
	cases := []struct {
		command []string
		workdir string
		want    string
	}{
		{[]string{"containerlab", "version"}, "", "containerlab version"},
		{[]string{"containerlab", "deploy", "-t", "lab.clab.yml"}, "", "containerlab deploy -t lab.clab.yml"},
		{[]string{"ls"}, "/tmp/labs", "cd /tmp/labs && ls"},
		{[]string{"echo", "hello world"}, "", `echo 'hello world'`},
		{[]string{"echo", "it's"}, "", `echo 'it'\''s'`},
		{[]string{"cat", ""}, "", "cat ''"},
		{[]string{"ls"}, "/tmp/my labs", `cd '/tmp/my labs' && ls`},
	}
	for _, tc := range cases {
		if got := buildShellCommand(tc.command, tc.workdir); got != tc.want {
			t.Errorf("buildShellCommand(%v, %q) = %q, want %q", tc.command, tc.workdir, got, tc.want)
		}
	}
}
