package scanner

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/iammrherb/labdabbler/pkg/logging"
	"github.com/iammrherb/labdabbler/pkg/topology"
	"github.com/iammrherb/labdabbler/pkg/types"
)

// maxParseConcurrency bounds how many topology files are parsed at once
// during a directory scan.
const maxParseConcurrency = 8

// Scanner discovers containerlab topology files on the local filesystem
// and in public GitHub repositories.
type Scanner struct {
	roots       []string
	githubToken string
	githubAPI   string
	httpClient  *http.Client
	// GitHub's code search allows 10 requests per minute unauthenticated.
	githubLimiter *rate.Limiter
	logger        *logging.Logger
}

// New builds a scanner over the given root directories. githubToken may be
// empty; searches then run against the anonymous rate limit.
func New(roots []string, githubToken string) *Scanner {
	return &Scanner{
		roots:         roots,
		githubToken:   githubToken,
		githubAPI:     "https://api.github.com",
		httpClient:    &http.Client{Timeout: 15 * time.Second},
		githubLimiter: rate.NewLimiter(rate.Every(6*time.Second), 1),
		logger:        logging.WithComponent("scanner"),
	}
}

// ScanLocal walks the configured roots and returns every topology file
// found, with node counts from a bounded concurrent parse. Unreadable
// subtrees are skipped, not fatal.
func (s *Scanner) ScanLocal(ctx context.Context) ([]*types.TopologyFile, error) {
	var paths []string
	for _, root := range s.roots {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				s.logger.WithError(err).Debug("skipping %s", path)
				return nil
			}
			if d.IsDir() {
				if d.Name() == ".git" || d.Name() == "node_modules" {
					return filepath.SkipDir
				}
				return nil
			}
			if isTopologyFile(path) {
				paths = append(paths, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", root, err)
		}
	}

	var (
		mu    sync.Mutex
		found []*types.TopologyFile
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParseConcurrency)

	for _, path := range paths {
		path := path
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			info, err := os.Stat(path)
			if err != nil {
				return nil
			}

			tf := &types.TopologyFile{
				Path:    path,
				Name:    topology.DeriveName(path),
				ModTime: info.ModTime(),
			}
			if def, err := topology.ParseFile(path); err == nil {
				tf.NodeCount = def.NodeCount()
			}

			mu.Lock()
			found = append(found, tf)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return found, nil
}

func isTopologyFile(path string) bool {
	return strings.HasSuffix(path, ".clab.yml") || strings.HasSuffix(path, ".clab.yaml")
}

// githubSearchResponse is the slice of the code search payload we read.
type githubSearchResponse struct {
	TotalCount int `json:"total_count"`
	Items      []struct {
		Name       string `json:"name"`
		Path       string `json:"path"`
		HTMLURL    string `json:"html_url"`
		Repository struct {
			FullName string `json:"full_name"`
		} `json:"repository"`
	} `json:"items"`
}

// SearchGitHub queries GitHub code search for containerlab topology files
// matching the query. Transient failures are retried with backoff.
func (s *Scanner) SearchGitHub(ctx context.Context, query string, limit int) ([]*types.TopologyFile, error) {
	if limit <= 0 || limit > 100 {
		limit = 30
	}

	q := url.Values{}
	q.Set("q", fmt.Sprintf("%s extension:yml filename:clab", query))
	q.Set("per_page", fmt.Sprint(limit))
	searchURL := s.githubAPI + "/search/code?" + q.Encode()

	var resp githubSearchResponse
	backoff := time.Second
	for attempt := 0; attempt < 3; attempt++ {
		if err := s.githubLimiter.Wait(ctx); err != nil {
			return nil, err
		}

		retryable, err := s.doSearch(ctx, searchURL, &resp)
		if err == nil {
			break
		}
		if !retryable || attempt == 2 {
			return nil, err
		}

		s.logger.WithError(err).Warn("github search failed, retrying")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	files := make([]*types.TopologyFile, 0, len(resp.Items))
	for _, item := range resp.Items {
		files = append(files, &types.TopologyFile{
			Path:       item.HTMLURL,
			Name:       topology.DeriveName(item.Name),
			Repository: item.Repository.FullName,
		})
	}
	return files, nil
}

// doSearch performs one search request. The bool reports whether the
// failure is worth retrying.
func (s *Scanner) doSearch(ctx context.Context, searchURL string, out *githubSearchResponse) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if s.githubToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.githubToken)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return true, fmt.Errorf("github search request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests:
		return true, fmt.Errorf("github rate limited (status %d)", resp.StatusCode)
	case resp.StatusCode >= 500:
		return true, fmt.Errorf("github search failed with status %d", resp.StatusCode)
	default:
		return false, fmt.Errorf("github search failed with status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, fmt.Errorf("failed to decode github response: %w", err)
	}
	return false, nil
}
