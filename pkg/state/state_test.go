package state

import (
	"context"
	"errors"
	"testing"
	"time"

	laberrors "github.com/iammrherb/labdabbler/pkg/errors"
	"github.com/iammrherb/labdabbler/pkg/types"
)

// storeFactories builds each Store backend against a fresh location so the
// same behavioral suite runs over both.
var storeFactories = map[string]func(t *testing.T) Store{
	"memory": func(t *testing.T) Store {
		return NewMemoryStore()
	},
	"badger": func(t *testing.T) Store {
		s, err := NewBadgerStore(t.TempDir())
		if err != nil {
			t.Fatalf("failed to open badger store: %v", err)
		}
		return s
	},
}

func sampleLab(id string) *types.Lab {
	return &types.Lab{
		ID:           id,
		Name:         "srl-test",
		OriginalFile: "/labs/srl-test.clab.yml",
		Provider:     "local",
		Status:       types.LabStatusRunning,
		CreatedAt:    time.Now().UTC(),
		Config: &types.TopologyDefinition{
			Name: "srl-test",
			Topology: types.TopologyBody{
				Nodes: map[string]types.TopologyNode{
					"srl1": {Kind: "nokia_srlinux"},
				},
			},
		},
	}
}

func TestStoreLabLifecycle(t *testing.T) {
	for name, build := range storeFactories {
		t.Run(name, func(t *testing.T) {
			store := build(t)
			defer store.Close()
			ctx := context.Background()

			if err := store.Initialize(ctx); err != nil {
				t.Fatalf("initialize failed: %v", err)
			}

			lab := sampleLab("abc12345")
			if err := store.CreateLab(ctx, lab); err != nil {
				t.Fatalf("create failed: %v", err)
			}

			got, err := store.GetLab(ctx, "abc12345")
			if err != nil {
				t.Fatalf("get failed: %v", err)
			}
			if got.Name != "srl-test" || got.Provider != "local" {
				t.Errorf("unexpected lab record: %+v", got)
			}
			if got.Config.NodeCount() != 1 {
				t.Errorf("config not round-tripped: %+v", got.Config)
			}

			got.Status = types.LabStatusStopped
			if err := store.UpdateLab(ctx, got); err != nil {
				t.Fatalf("update failed: %v", err)
			}
			updated, err := store.GetLab(ctx, "abc12345")
			if err != nil {
				t.Fatal(err)
			}
			if updated.Status != types.LabStatusStopped {
				t.Errorf("update not visible, status %q", updated.Status)
			}

			if err := store.DeleteLab(ctx, "abc12345"); err != nil {
				t.Fatalf("delete failed: %v", err)
			}
			if _, err := store.GetLab(ctx, "abc12345"); !errors.Is(err, laberrors.ErrLabNotFound) {
				t.Fatalf("expected ErrLabNotFound after delete, got %v", err)
			}

			// Deleting an absent lab is not an error.
			if err := store.DeleteLab(ctx, "abc12345"); err != nil {
				t.Errorf("repeat delete should be a no-op: %v", err)
			}
		})
	}
}

func TestStoreListOrdering(t *testing.T) {
	for name, build := range storeFactories {
		t.Run(name, func(t *testing.T) {
			store := build(t)
			defer store.Close()
			ctx := context.Background()

			base := time.Now().UTC()
			for i, id := range []string{"third000", "first000", "second00"} {
				lab := sampleLab(id)
				switch i {
				case 0:
					lab.CreatedAt = base.Add(2 * time.Second)
				case 1:
					lab.CreatedAt = base
				case 2:
					lab.CreatedAt = base.Add(time.Second)
				}
				if err := store.CreateLab(ctx, lab); err != nil {
					t.Fatal(err)
				}
			}

			labs, err := store.ListLabs(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if len(labs) != 3 {
				t.Fatalf("expected 3 labs, got %d", len(labs))
			}
			want := []string{"first000", "second00", "third000"}
			for i, lab := range labs {
				if lab.ID != want[i] {
					t.Errorf("position %d: expected %s, got %s", i, want[i], lab.ID)
				}
			}
		})
	}
}

func TestStoreUpdateUnknownLab(t *testing.T) {
	for name, build := range storeFactories {
		t.Run(name, func(t *testing.T) {
			store := build(t)
			defer store.Close()

			err := store.UpdateLab(context.Background(), sampleLab("ghost000"))
			if !errors.Is(err, laberrors.ErrLabNotFound) {
				t.Fatalf("expected ErrLabNotFound, got %v", err)
			}
		})
	}
}

func TestStoreEvents(t *testing.T) {
	for name, build := range storeFactories {
		t.Run(name, func(t *testing.T) {
			store := build(t)
			defer store.Close()
			ctx := context.Background()

			base := time.Now().UTC()
			for i := 0; i < 5; i++ {
				ev := &types.Event{
					ID:        string(rune('a' + i)),
					Type:      types.EventTypeLabLaunched,
					LabID:     "abc12345",
					Timestamp: base.Add(time.Duration(i) * time.Second),
				}
				if err := store.RecordEvent(ctx, ev); err != nil {
					t.Fatal(err)
				}
			}

			events, err := store.GetEvents(ctx, "abc12345", 3)
			if err != nil {
				t.Fatal(err)
			}
			if len(events) != 3 {
				t.Fatalf("expected limit of 3, got %d", len(events))
			}
			// Newest first.
			if !events[0].Timestamp.After(events[1].Timestamp) {
				t.Error("events not ordered newest first")
			}

			other, err := store.GetEvents(ctx, "different", 10)
			if err != nil {
				t.Fatal(err)
			}
			if len(other) != 0 {
				t.Errorf("expected no events for unrelated lab, got %d", len(other))
			}
		})
	}
}

func TestStoreClosedRejectsOperations(t *testing.T) {
	for name, build := range storeFactories {
		t.Run(name, func(t *testing.T) {
			store := build(t)
			if err := store.Close(); err != nil {
				t.Fatal(err)
			}
			// Close again to confirm idempotency.
			if err := store.Close(); err != nil {
				t.Fatalf("second close failed: %v", err)
			}

			if err := store.CreateLab(context.Background(), sampleLab("x")); err == nil {
				t.Error("closed store must reject writes")
			}
			if err := store.HealthCheck(context.Background()); err == nil {
				t.Error("closed store must fail health checks")
			}
		})
	}
}

func TestBadgerStorePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := NewBadgerStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.CreateLab(ctx, sampleLab("persist1")); err != nil {
		t.Fatal(err)
	}
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := NewBadgerStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()

	lab, err := reopened.GetLab(ctx, "persist1")
	if err != nil {
		t.Fatalf("lab did not survive reopen: %v", err)
	}
	if lab.Name != "srl-test" {
		t.Errorf("unexpected lab after reopen: %+v", lab)
	}
}
