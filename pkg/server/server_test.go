package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/docker/docker/api/types/image"

	"github.com/iammrherb/labdabbler/pkg/catalog"
	"github.com/iammrherb/labdabbler/pkg/config"
	laberrors "github.com/iammrherb/labdabbler/pkg/errors"
	"github.com/iammrherb/labdabbler/pkg/launcher"
	"github.com/iammrherb/labdabbler/pkg/provider"
	"github.com/iammrherb/labdabbler/pkg/state"
	"github.com/iammrherb/labdabbler/pkg/testutil"
	"github.com/iammrherb/labdabbler/pkg/types"
)

const serverTopology = `name: api-test
topology:
  nodes:
    r1:
      kind: frr
`

type stubSource struct {
	p *testutil.MockProvider
}

func (s *stubSource) GetProvider(name string) (provider.Provider, error) {
	if name != "" && name != s.p.ProviderName {
		return nil, fmt.Errorf("provider %q: %w", name, laberrors.ErrProviderNotFound)
	}
	return s.p, nil
}

type stubScanner struct {
	local  []*types.TopologyFile
	remote []*types.TopologyFile
}

func (s *stubScanner) ScanLocal(ctx context.Context) ([]*types.TopologyFile, error) {
	return s.local, nil
}

func (s *stubScanner) SearchGitHub(ctx context.Context, query string, limit int) ([]*types.TopologyFile, error) {
	return s.remote, nil
}

type fakeDocker struct{}

func (fakeDocker) ImageList(ctx context.Context, options image.ListOptions) ([]image.Summary, error) {
	return nil, nil
}

func newTestServer(t *testing.T) (*Server, *testutil.MockProvider, state.Store) {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Security.Authentication.Enabled = false
	cfg.Security.RateLimit.Enabled = false

	mock := testutil.NewMockProvider("local")
	store := state.NewMemoryStore()
	svc := launcher.NewService(&stubSource{p: mock}, store, t.TempDir(), "/tmp/labdabbler", nil)

	factory, err := provider.NewFactory(filepath.Join(t.TempDir(), "providers.json"), time.Second)
	if err != nil {
		t.Fatal(err)
	}

	srv := New(Options{
		Config:   cfg,
		Launcher: svc,
		Factory:  factory,
		Store:    store,
		Catalog:  catalog.NewServiceWithClient(fakeDocker{}, time.Minute),
		Scanner: &stubScanner{
			local: []*types.TopologyFile{{Path: "/labs/a.clab.yml", Name: "a", NodeCount: 2}},
		},
	})
	return srv, mock, store
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body interface{}) (*httptest.ResponseRecorder, *types.Response) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	var resp types.Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("response not JSON (%d): %s", rec.Code, rec.Body.String())
	}
	return rec, &resp
}

func writeServerTopology(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "api-test.clab.yml")
	if err := os.WriteFile(path, []byte(serverTopology), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestHealthEndpoints(t *testing.T) {
	srv, _, _ := newTestServer(t)
	handler := srv.Handler()

	rec, resp := doJSON(t, handler, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK || !resp.Success {
		t.Errorf("healthz failed: %d %+v", rec.Code, resp)
	}

	rec, resp = doJSON(t, handler, http.MethodGet, "/readyz", nil)
	if rec.Code != http.StatusOK || !resp.Success {
		t.Errorf("readyz failed: %d %+v", rec.Code, resp)
	}
}

func TestLabLifecycleOverAPI(t *testing.T) {
	srv, _, _ := newTestServer(t)
	handler := srv.Handler()
	file := writeServerTopology(t)

	// Launch.
	rec, resp := doJSON(t, handler, http.MethodPost, "/api/v1/labs", map[string]string{"source": file})
	if rec.Code != http.StatusCreated {
		t.Fatalf("launch failed: %d %+v", rec.Code, resp)
	}
	var launched types.LaunchResult
	remarshal(t, resp.Data, &launched)
	if launched.Name != "api-test" {
		t.Errorf("unexpected launch result: %+v", launched)
	}

	// List.
	rec, resp = doJSON(t, handler, http.MethodGet, "/api/v1/labs", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list failed: %d", rec.Code)
	}
	var infos []types.LabInfo
	remarshal(t, resp.Data, &infos)
	if len(infos) != 1 || infos[0].LabID != launched.LabID {
		t.Errorf("unexpected list: %+v", infos)
	}

	// Status.
	rec, resp = doJSON(t, handler, http.MethodGet, "/api/v1/labs/"+launched.LabID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status failed: %d %+v", rec.Code, resp)
	}

	// Stop.
	rec, resp = doJSON(t, handler, http.MethodDelete, "/api/v1/labs/"+launched.LabID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("stop failed: %d %+v", rec.Code, resp)
	}

	// Status of a stopped lab reports not found.
	rec, _ = doJSON(t, handler, http.MethodGet, "/api/v1/labs/"+launched.LabID, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 after stop, got %d", rec.Code)
	}
}

func TestLaunchValidation(t *testing.T) {
	srv, _, _ := newTestServer(t)
	handler := srv.Handler()

	rec, _ := doJSON(t, handler, http.MethodPost, "/api/v1/labs", map[string]string{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing source should be 400, got %d", rec.Code)
	}

	rec, _ = doJSON(t, handler, http.MethodPost, "/api/v1/labs", map[string]string{"source": "/nope.clab.yml"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing file should be 404, got %d", rec.Code)
	}
}

func TestProviderEndpoints(t *testing.T) {
	srv, _, _ := newTestServer(t)
	handler := srv.Handler()

	add := map[string]interface{}{
		"name":     "edge",
		"type":     "ssh",
		"host":     "edge.example.com",
		"username": "clab",
		"password": "secret",
	}
	rec, _ := doJSON(t, handler, http.MethodPost, "/api/v1/providers", add)
	if rec.Code != http.StatusCreated {
		t.Fatalf("add provider failed: %d", rec.Code)
	}

	rec, _ = doJSON(t, handler, http.MethodPost, "/api/v1/providers", add)
	if rec.Code != http.StatusConflict {
		t.Errorf("duplicate add should be 409, got %d", rec.Code)
	}

	rec, resp := doJSON(t, handler, http.MethodGet, "/api/v1/providers", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list providers failed: %d", rec.Code)
	}
	var summaries []types.ProviderSummary
	remarshal(t, resp.Data, &summaries)
	if len(summaries) != 2 {
		t.Fatalf("expected 2 providers, got %d", len(summaries))
	}

	// Removing the default is rejected.
	rec, _ = doJSON(t, handler, http.MethodDelete, "/api/v1/providers/local", nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("removing default should be 409, got %d", rec.Code)
	}

	rec, _ = doJSON(t, handler, http.MethodPut, "/api/v1/providers/edge/default", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("set default failed: %d", rec.Code)
	}
	rec, _ = doJSON(t, handler, http.MethodDelete, "/api/v1/providers/local", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("remove after repointing default failed: %d", rec.Code)
	}

	rec, _ = doJSON(t, handler, http.MethodDelete, "/api/v1/providers/ghost", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown provider should be 404, got %d", rec.Code)
	}
}

func TestCatalogEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)
	handler := srv.Handler()

	rec, resp := doJSON(t, handler, http.MethodGet, "/api/v1/catalog/images?q=nokia", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("catalog failed: %d", rec.Code)
	}
	var images []types.CatalogImage
	remarshal(t, resp.Data, &images)
	if len(images) != 1 {
		t.Errorf("expected 1 nokia image, got %d", len(images))
	}
}

func TestTopologyEndpoints(t *testing.T) {
	srv, _, _ := newTestServer(t)
	handler := srv.Handler()

	rec, resp := doJSON(t, handler, http.MethodGet, "/api/v1/topologies", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("scan failed: %d", rec.Code)
	}
	var files []types.TopologyFile
	remarshal(t, resp.Data, &files)
	if len(files) != 1 || files[0].Name != "a" {
		t.Errorf("unexpected scan result: %+v", files)
	}

	rec, _ = doJSON(t, handler, http.MethodGet, "/api/v1/topologies/search", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("search without q should be 400, got %d", rec.Code)
	}

	tmpl := map[string]interface{}{"name": "demo", "kind": "frr", "node_count": 2}
	rec, resp = doJSON(t, handler, http.MethodPost, "/api/v1/topologies/template", tmpl)
	if rec.Code != http.StatusOK {
		t.Fatalf("template failed: %d %+v", rec.Code, resp)
	}
	var def types.TopologyDefinition
	remarshal(t, resp.Data, &def)
	if def.NodeCount() != 2 {
		t.Errorf("unexpected template: %+v", def)
	}
}

func TestAuthProtectsAPI(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Security.Authentication.Enabled = true
	cfg.Security.Authentication.JWTConfig.SecretKey = "test-secret"
	cfg.Security.RateLimit.Enabled = false

	mock := testutil.NewMockProvider("local")
	store := state.NewMemoryStore()
	svc := launcher.NewService(&stubSource{p: mock}, store, t.TempDir(), "/tmp/labdabbler", nil)
	factory, err := provider.NewFactory(filepath.Join(t.TempDir(), "providers.json"), time.Second)
	if err != nil {
		t.Fatal(err)
	}

	srv := New(Options{Config: cfg, Launcher: svc, Factory: factory, Store: store})

	rec, _ := doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/labs", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without a token, got %d", rec.Code)
	}
}

// remarshal converts the generic Data field into a concrete type.
func remarshal(t *testing.T, data interface{}, out interface{}) {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		t.Fatal(err)
	}
}
