// Package types contains shared types for labdabbler
package types

import (
	"time"
)

// Response represents a generic API response
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Error   string      `json:"error,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// ProviderType identifies a runtime provider implementation.
// The set of valid values is closed: local and ssh.
type ProviderType string

const (
	ProviderTypeLocal ProviderType = "local"
	ProviderTypeSSH   ProviderType = "ssh"
)

// ProviderConfig is the persisted descriptor of one execution target.
type ProviderConfig struct {
	Name    string       `json:"name"`
	Type    ProviderType `json:"type"`
	Enabled bool         `json:"enabled"`

	// SSH-specific fields
	Host           string `json:"host,omitempty"`
	Port           int    `json:"port,omitempty"`
	Username       string `json:"username,omitempty"`
	Password       string `json:"password,omitempty"`
	PrivateKeyPath string `json:"private_key_path,omitempty"`
	KnownHostsFile string `json:"known_hosts_file,omitempty"`
}

// ProviderSummary is the list-providers view of a configured provider.
type ProviderSummary struct {
	Name      string       `json:"name"`
	Type      ProviderType `json:"type"`
	IsDefault bool         `json:"is_default"`
	Enabled   bool         `json:"enabled"`
	Host      string       `json:"host,omitempty"`
}

// ProviderHealth reports the tool availability of one provider.
// Healthy is exactly DockerAvailable && ContainerlabAvailable.
type ProviderHealth struct {
	Healthy               bool   `json:"healthy"`
	DockerAvailable       bool   `json:"docker_available"`
	ContainerlabAvailable bool   `json:"containerlab_available"`
	Error                 string `json:"error,omitempty"`
}

// CommandResult holds the outcome of a command executed through a provider.
// A non-zero exit code is a valid, expected result; transport failures are
// folded into ExitCode=1 with the error text in Stderr.
type CommandResult struct {
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
}

// LabStatus is the free-text lifecycle status of a lab. The authoritative
// status comes from re-querying containerlab, not from the stored record.
type LabStatus string

const (
	LabStatusRunning LabStatus = "running"
	LabStatusStopped LabStatus = "stopped"
	LabStatusUnknown LabStatus = "unknown"
)

// Lab is one active-lab registry record, created only on successful deploy.
type Lab struct {
	ID           string              `json:"id"`
	Name         string              `json:"name"`
	OriginalFile string              `json:"original_file"`
	Provider     string              `json:"provider"`
	Status       LabStatus           `json:"status"`
	CreatedAt    time.Time           `json:"created_at"`
	Config       *TopologyDefinition `json:"config,omitempty"`
}

// LabInfo is the status/list view of a lab, merging the registry record
// with a live status query.
type LabInfo struct {
	Found     bool      `json:"found"`
	LabID     string    `json:"lab_id,omitempty"`
	Name      string    `json:"name,omitempty"`
	Provider  string    `json:"provider,omitempty"`
	Status    LabStatus `json:"status,omitempty"`
	NodeCount int       `json:"node_count"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// LaunchResult is returned to the caller on a successful launch.
type LaunchResult struct {
	LabID    string `json:"lab_id"`
	Name     string `json:"name"`
	Provider string `json:"provider"`
	File     string `json:"file"`
	Stdout   string `json:"stdout,omitempty"`
}

// StopResult is returned by stop. DestroyError is populated when the
// destroy command failed but the registry entry was removed anyway.
type StopResult struct {
	LabID        string `json:"lab_id"`
	Name         string `json:"name"`
	DestroyError string `json:"destroy_error,omitempty"`
}

// TopologyDefinition is a parsed containerlab topology file.
type TopologyDefinition struct {
	Name     string                 `yaml:"name" json:"name"`
	Prefix   *string                `yaml:"prefix,omitempty" json:"prefix,omitempty"`
	Mgmt     map[string]interface{} `yaml:"mgmt,omitempty" json:"mgmt,omitempty"`
	Topology TopologyBody           `yaml:"topology" json:"topology"`
}

// TopologyBody holds the nodes and links of a topology definition.
type TopologyBody struct {
	Defaults *TopologyNode           `yaml:"defaults,omitempty" json:"defaults,omitempty"`
	Kinds    map[string]TopologyNode `yaml:"kinds,omitempty" json:"kinds,omitempty"`
	Nodes    map[string]TopologyNode `yaml:"nodes" json:"nodes"`
	Links    []TopologyLink          `yaml:"links,omitempty" json:"links,omitempty"`
}

// TopologyNode describes one emulated device.
type TopologyNode struct {
	Kind          string            `yaml:"kind,omitempty" json:"kind,omitempty"`
	Image         string            `yaml:"image,omitempty" json:"image,omitempty"`
	Type          string            `yaml:"type,omitempty" json:"type,omitempty"`
	Group         string            `yaml:"group,omitempty" json:"group,omitempty"`
	StartupConfig string            `yaml:"startup-config,omitempty" json:"startup_config,omitempty"`
	Env           map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
	Binds         []string          `yaml:"binds,omitempty" json:"binds,omitempty"`
	Ports         []string          `yaml:"ports,omitempty" json:"ports,omitempty"`
}

// TopologyLink connects two node endpoints ("node:interface").
type TopologyLink struct {
	Endpoints []string `yaml:"endpoints" json:"endpoints"`
}

// NodeCount returns the number of nodes in the definition.
func (d *TopologyDefinition) NodeCount() int {
	if d == nil {
		return 0
	}
	return len(d.Topology.Nodes)
}

// CatalogImage describes one container image usable as a lab node.
type CatalogImage struct {
	Name    string   `json:"name"`
	Kind    string   `json:"kind,omitempty"`
	Vendor  string   `json:"vendor,omitempty"`
	Tags    []string `json:"tags,omitempty"`
	Source  string   `json:"source"` // "builtin" or "docker"
	Size    int64    `json:"size,omitempty"`
	Present bool     `json:"present"`
}

// TopologyFile describes a topology definition discovered by the scanner.
type TopologyFile struct {
	Path       string    `json:"path"`
	Name       string    `json:"name"`
	Repository string    `json:"repository,omitempty"`
	NodeCount  int       `json:"node_count"`
	ModTime    time.Time `json:"mod_time"`
}

// Event is one lifecycle event, retained for a bounded period.
type Event struct {
	ID        string            `json:"id"`
	Type      EventType         `json:"type"`
	LabID     string            `json:"lab_id,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Data      map[string]string `json:"data,omitempty"`
}

// EventType represents types of events
type EventType string

const (
	EventTypeLabLaunched      EventType = "lab.launched"
	EventTypeLabLaunchFailed  EventType = "lab.launch_failed"
	EventTypeLabStopped       EventType = "lab.stopped"
	EventTypeLabDestroyFailed EventType = "lab.destroy_failed"
)
