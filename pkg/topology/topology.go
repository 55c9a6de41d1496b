package topology

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/iammrherb/labdabbler/pkg/types"
)

// suffixes recognized as containerlab topology file extensions, tried in
// order so the compound forms win over the plain ones.
var topologySuffixes = []string{".clab.yml", ".clab.yaml", ".yml", ".yaml"}

// Parse decodes a containerlab topology document. Empty input and
// non-mapping top-level documents are rejected before decoding so the
// caller gets a clear parse error instead of a zero-valued definition.
func Parse(data []byte) (*types.TopologyDefinition, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, fmt.Errorf("topology file is empty")
	}

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("failed to parse topology: %w", err)
	}
	if len(root.Content) == 0 || root.Content[0].Kind != yaml.MappingNode {
		return nil, fmt.Errorf("topology document must be a mapping")
	}

	var def types.TopologyDefinition
	if err := root.Decode(&def); err != nil {
		return nil, fmt.Errorf("failed to parse topology: %w", err)
	}
	return &def, nil
}

// ParseFile reads and decodes a topology file from disk.
func ParseFile(path string) (*types.TopologyDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read topology file: %w", err)
	}
	return Parse(data)
}

// DeriveName produces a lab name from a topology file path. The topology
// extension is stripped; the compound .clab forms are recognized so
// "srl-lab.clab.yml" yields "srl-lab", not "srl-lab.clab".
func DeriveName(path string) string {
	base := filepath.Base(path)
	for _, suffix := range topologySuffixes {
		if strings.HasSuffix(base, suffix) {
			return strings.TrimSuffix(base, suffix)
		}
	}
	return base
}

// IsURL reports whether the source string is an http(s) URL rather than a
// filesystem path.
func IsURL(source string) bool {
	u, err := url.Parse(source)
	if err != nil {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

// Fetch downloads a topology file from a URL into destDir and returns the
// local path. The filename is taken from the URL path so name derivation
// works the same for fetched and local files.
func Fetch(ctx context.Context, rawURL, destDir string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid topology URL: %w", err)
	}

	name := filepath.Base(u.Path)
	if name == "" || name == "." || name == "/" {
		name = "topology.clab.yml"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build topology request: %w", err)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch topology: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to fetch topology: unexpected status %d", resp.StatusCode)
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create download directory: %w", err)
	}

	localPath := filepath.Join(destDir, name)
	out, err := os.Create(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to create topology file: %w", err)
	}

	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		os.Remove(localPath)
		return "", fmt.Errorf("failed to write topology file: %w", err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("failed to write topology file: %w", err)
	}

	return localPath, nil
}
