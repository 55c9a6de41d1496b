package catalog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/docker/docker/api/types/image"
)

type fakeDocker struct {
	summaries []image.Summary
	err       error
	calls     int
}

func (f *fakeDocker) ImageList(ctx context.Context, options image.ListOptions) ([]image.Summary, error) {
	f.calls++
	return f.summaries, f.err
}

func TestImagesMergesDaemonWithBuiltins(t *testing.T) {
	docker := &fakeDocker{
		summaries: []image.Summary{
			{RepoTags: []string{"frrouting/frr:latest"}, Size: 120_000_000},
			{RepoTags: []string{"myorg/custom-router:v2"}, Size: 50_000_000},
		},
	}
	svc := NewServiceWithClient(docker, time.Minute)

	images, err := svc.Images(context.Background())
	if err != nil {
		t.Fatalf("images failed: %v", err)
	}

	byName := make(map[string]int)
	for i, img := range images {
		byName[img.Name] = i
	}

	frr := images[byName["frrouting/frr:latest"]]
	if !frr.Present || frr.Source != "builtin" || frr.Size != 120_000_000 {
		t.Errorf("builtin image not merged with daemon state: %+v", frr)
	}

	custom := images[byName["myorg/custom-router:v2"]]
	if custom.Source != "docker" || !custom.Present {
		t.Errorf("daemon-only image not included: %+v", custom)
	}

	if srl := images[byName["ghcr.io/nokia/srlinux:latest"]]; srl.Present {
		t.Errorf("image absent from daemon must not be marked present: %+v", srl)
	}
}

func TestImagesCachesWithinTTL(t *testing.T) {
	docker := &fakeDocker{}
	svc := NewServiceWithClient(docker, time.Minute)

	ctx := context.Background()
	if _, err := svc.Images(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Images(ctx); err != nil {
		t.Fatal(err)
	}
	if docker.calls != 1 {
		t.Errorf("expected a single daemon query within the TTL, got %d", docker.calls)
	}
}

func TestImagesDegradesWhenDaemonFails(t *testing.T) {
	docker := &fakeDocker{err: errors.New("cannot connect to the Docker daemon")}
	svc := NewServiceWithClient(docker, time.Minute)

	images, err := svc.Images(context.Background())
	if err != nil {
		t.Fatalf("a broken daemon must not break the catalog: %v", err)
	}
	if len(images) != len(builtinImages) {
		t.Errorf("expected the builtin table, got %d images", len(images))
	}
	for _, img := range images {
		if img.Present {
			t.Errorf("nothing should be present without a daemon: %+v", img)
		}
	}
}

func TestSearch(t *testing.T) {
	svc := NewServiceWithClient(&fakeDocker{}, time.Minute)
	ctx := context.Background()

	matches, err := svc.Search(ctx, "nokia")
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 || matches[0].Kind != "nokia_srlinux" {
		t.Errorf("unexpected matches for nokia: %+v", matches)
	}

	matches, err = svc.Search(ctx, "routing")
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) == 0 {
		t.Error("tag search returned nothing")
	}

	all, err := svc.Search(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != len(builtinImages) {
		t.Errorf("empty query should match everything, got %d", len(all))
	}
}
