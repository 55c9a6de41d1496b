// Package errors provides error types for labdabbler
package errors

import (
	"errors"
	"fmt"
)

// Configuration errors. Always terminal, never retried.
var (
	ErrProviderNotFound  = errors.New("provider not found")
	ErrNoDefaultProvider = errors.New("no default provider configured")
	ErrDuplicateProvider = errors.New("provider already exists")
	ErrRemoveDefault     = errors.New("cannot remove the default provider")
)

// Resolution and lifecycle errors.
var (
	ErrLabNotFound         = errors.New("lab not found")
	ErrLabFileNotFound     = errors.New("lab file not found")
	ErrOriginalFileMissing = errors.New("original topology file no longer exists")
	ErrToolUnavailable     = errors.New("containerlab not available on provider")
)

// ToolError reports a non-zero exit from an external tool invocation.
// The tool ran; it just failed.
type ToolError struct {
	Command  string
	ExitCode int
	Stdout   string
	Stderr   string
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s exited with code %d: %s", e.Command, e.ExitCode, e.Stderr)
}

// TransportError reports that a provider could not reach its execution
// target at all: spawn failure, unreachable host, broken transfer.
type TransportError struct {
	Op       string
	Provider string
	Cause    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s failed on provider %s: %v", e.Op, e.Provider, e.Cause)
}

func (e *TransportError) Unwrap() error {
	return e.Cause
}
