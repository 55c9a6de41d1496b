package catalog

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"golang.org/x/sync/errgroup"

	"github.com/iammrherb/labdabbler/pkg/logging"
	"github.com/iammrherb/labdabbler/pkg/types"
)

// builtinImages is the curated set of network OS images known to work as
// containerlab nodes. Presence is filled in from the local Docker daemon.
var builtinImages = []types.CatalogImage{
	{Name: "ghcr.io/nokia/srlinux:latest", Kind: "nokia_srlinux", Vendor: "Nokia", Tags: []string{"srlinux", "sr-linux"}},
	{Name: "ceos:latest", Kind: "arista_ceos", Vendor: "Arista", Tags: []string{"ceos", "eos"}},
	{Name: "crpd:latest", Kind: "juniper_crpd", Vendor: "Juniper", Tags: []string{"crpd", "junos"}},
	{Name: "xrd-control-plane:latest", Kind: "cisco_xrd", Vendor: "Cisco", Tags: []string{"xrd", "ios-xr"}},
	{Name: "docker-sonic-vs:latest", Kind: "sonic-vs", Vendor: "SONiC", Tags: []string{"sonic"}},
	{Name: "networkop/cx:latest", Kind: "cumulus_cvx", Vendor: "NVIDIA", Tags: []string{"cumulus"}},
	{Name: "frrouting/frr:latest", Kind: "frr", Vendor: "FRRouting", Tags: []string{"frr", "routing"}},
	{Name: "ghcr.io/open-traffic-generator/ixia-c-one:latest", Kind: "keysight_ixia-c", Vendor: "Keysight", Tags: []string{"traffic-generator"}},
	{Name: "vrnetlab/vr-routeros:latest", Kind: "mikrotik_ros", Vendor: "MikroTik", Tags: []string{"routeros"}},
	{Name: "alpine:latest", Kind: "linux", Vendor: "Linux", Tags: []string{"host", "endpoint"}},
}

// DockerClient is the slice of the Docker API the catalog needs.
type DockerClient interface {
	ImageList(ctx context.Context, options image.ListOptions) ([]image.Summary, error)
}

// Service serves the image catalog, merging the builtin table with
// whatever the local Docker daemon holds. Results are cached for a TTL so
// list calls do not hammer the daemon.
type Service struct {
	docker DockerClient
	ttl    time.Duration
	logger *logging.Logger

	mu        sync.RWMutex
	cached    []types.CatalogImage
	fetchedAt time.Time
}

// NewService builds a catalog backed by the ambient Docker daemon. The
// daemon being unreachable is not fatal; the catalog then serves the
// builtin table with nothing marked present.
func NewService(ttl time.Duration) *Service {
	s := &Service{
		ttl:    ttl,
		logger: logging.WithComponent("catalog"),
	}

	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		s.logger.WithError(err).Warn("docker client unavailable, serving builtin catalog only")
	} else {
		s.docker = cli
	}
	return s
}

// NewServiceWithClient builds a catalog over an explicit Docker client.
func NewServiceWithClient(docker DockerClient, ttl time.Duration) *Service {
	return &Service{
		docker: docker,
		ttl:    ttl,
		logger: logging.WithComponent("catalog"),
	}
}

// Images returns the merged catalog, refreshing the cache when stale.
func (s *Service) Images(ctx context.Context) ([]types.CatalogImage, error) {
	s.mu.RLock()
	if s.cached != nil && time.Since(s.fetchedAt) < s.ttl {
		images := make([]types.CatalogImage, len(s.cached))
		copy(images, s.cached)
		s.mu.RUnlock()
		return images, nil
	}
	s.mu.RUnlock()

	return s.refresh(ctx)
}

// Search returns catalog entries whose name, kind, vendor or tags contain
// the query, case-insensitively.
func (s *Service) Search(ctx context.Context, query string) ([]types.CatalogImage, error) {
	images, err := s.Images(ctx)
	if err != nil {
		return nil, err
	}

	query = strings.ToLower(query)
	var matched []types.CatalogImage
	for _, img := range images {
		if imageMatches(&img, query) {
			matched = append(matched, img)
		}
	}
	return matched, nil
}

func imageMatches(img *types.CatalogImage, query string) bool {
	if query == "" {
		return true
	}
	if strings.Contains(strings.ToLower(img.Name), query) ||
		strings.Contains(strings.ToLower(img.Kind), query) ||
		strings.Contains(strings.ToLower(img.Vendor), query) {
		return true
	}
	for _, tag := range img.Tags {
		if strings.Contains(strings.ToLower(tag), query) {
			return true
		}
	}
	return false
}

// refresh rebuilds the cache, querying the daemon concurrently with
// assembling the builtin table.
func (s *Service) refresh(ctx context.Context) ([]types.CatalogImage, error) {
	var local map[string]int64
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if s.docker == nil {
			return nil
		}
		summaries, err := s.docker.ImageList(gctx, image.ListOptions{})
		if err != nil {
			// A flapping daemon degrades the catalog, it does not
			// break it.
			s.logger.WithError(err).Warn("docker image list failed")
			return nil
		}
		local = make(map[string]int64, len(summaries))
		for _, summary := range summaries {
			for _, tag := range summary.RepoTags {
				local[tag] = summary.Size
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to refresh catalog: %w", err)
	}

	merged := make([]types.CatalogImage, 0, len(builtinImages)+len(local))
	seen := make(map[string]bool, len(builtinImages))
	for _, img := range builtinImages {
		img.Source = "builtin"
		if size, ok := local[img.Name]; ok {
			img.Present = true
			img.Size = size
		}
		seen[img.Name] = true
		merged = append(merged, img)
	}
	for tag, size := range local {
		if seen[tag] || tag == "<none>:<none>" {
			continue
		}
		merged = append(merged, types.CatalogImage{
			Name:    tag,
			Source:  "docker",
			Size:    size,
			Present: true,
		})
	}

	sort.Slice(merged, func(i, j int) bool { return merged[i].Name < merged[j].Name })

	s.mu.Lock()
	s.cached = merged
	s.fetchedAt = time.Now()
	s.mu.Unlock()

	images := make([]types.CatalogImage, len(merged))
	copy(images, merged)
	return images, nil
}
