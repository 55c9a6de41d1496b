package topology

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestParse(t *testing.T) {
	def, err := Parse([]byte(`name: frr-pair
topology:
  nodes:
    r1:
      kind: frr
      image: frrouting/frr:latest
    r2:
      kind: frr
      image: frrouting/frr:latest
  links:
    - endpoints: ["r1:eth1", "r2:eth1"]
`))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if def.Name != "frr-pair" {
		t.Errorf("expected name frr-pair, got %q", def.Name)
	}
	if def.NodeCount() != 2 {
		t.Errorf("expected 2 nodes, got %d", def.NodeCount())
	}
	if len(def.Topology.Links) != 1 {
		t.Errorf("expected 1 link, got %d", len(def.Topology.Links))
	}
}

func TestParseRejectsEmptyInput(t *testing.T) {
	for _, input := range []string{"", "   ", "\n\n"} {
		if _, err := Parse([]byte(input)); err == nil {
			t.Errorf("input %q should be rejected", input)
		}
	}
}

func TestParseRejectsNonMapping(t *testing.T) {
	for _, input := range []string{"- a\n- b\n", "just a string\n", "42\n"} {
		if _, err := Parse([]byte(input)); err == nil {
			t.Errorf("input %q should be rejected", input)
		}
	}
}

func TestDeriveName(t *testing.T) {
	cases := []struct {
		path string
		want string
	}{
		{"srl-lab.clab.yml", "srl-lab"},
		{"srl-lab.clab.yaml", "srl-lab"},
		{"srl-lab.yml", "srl-lab"},
		{"srl-lab.yaml", "srl-lab"},
		{"/labs/nested/core.clab.yml", "core"},
		{"plainname", "plainname"},
		{"double.clab.clab.yml", "double.clab"},
	}
	for _, tc := range cases {
		if got := DeriveName(tc.path); got != tc.want {
			t.Errorf("DeriveName(%q) = %q, want %q", tc.path, got, tc.want)
		}
	}
}

func TestIsURL(t *testing.T) {
	if !IsURL("https://example.com/lab.clab.yml") {
		t.Error("https URL not recognized")
	}
	if !IsURL("http://example.com/lab.clab.yml") {
		t.Error("http URL not recognized")
	}
	if IsURL("/labs/lab.clab.yml") {
		t.Error("absolute path misread as URL")
	}
	if IsURL("lab.clab.yml") {
		t.Error("relative path misread as URL")
	}
}

func TestFetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "name: fetched\ntopology:\n  nodes: {}\n")
	}))
	defer server.Close()

	dir := t.TempDir()
	path, err := Fetch(context.Background(), server.URL+"/labs/fetched.clab.yml", dir)
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if filepath.Base(path) != "fetched.clab.yml" {
		t.Errorf("expected filename from URL, got %q", path)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("downloaded file missing: %v", err)
	}
}

func TestFetchNonOKStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	if _, err := Fetch(context.Background(), server.URL+"/missing.clab.yml", t.TempDir()); err == nil {
		t.Fatal("expected error on 404")
	}
}

func TestGenerateTemplate(t *testing.T) {
	def, err := GenerateTemplate("demo", "nokia_srlinux", 3)
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if def.Name != "demo" {
		t.Errorf("expected name demo, got %q", def.Name)
	}
	if def.NodeCount() != 3 {
		t.Errorf("expected 3 nodes, got %d", def.NodeCount())
	}
	if len(def.Topology.Links) != 2 {
		t.Errorf("expected a chain of 2 links, got %d", len(def.Topology.Links))
	}

	if _, err := GenerateTemplate("demo", "cisco_iosxe_not_a_kind", 2); err == nil {
		t.Error("unsupported kind should be rejected")
	}
	if _, err := GenerateTemplate("", "frr", 2); err == nil {
		t.Error("empty name should be rejected")
	}
}
