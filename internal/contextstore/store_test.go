package contextstore

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/aviv90/tasker-server-sub013/pkg/models"
)

type failingBackend struct{}

func (failingBackend) Get(ctx context.Context, chatID string) (*models.ContextState, error) {
	return nil, errors.New("disk on fire")
}

func (failingBackend) Put(ctx context.Context, chatID string, state *models.ContextState) error {
	return errors.New("disk on fire")
}

func TestMergePrefersCurrentRequest(t *testing.T) {
	base := models.NewContextState("c")
	base.PreviousToolResults["weather"] = json.RawMessage(`{"temp":30}`)
	base.GeneratedAssets[models.AssetImage] = "https://img.example/new.png"

	persisted := models.NewContextState("c")
	persisted.PreviousToolResults["weather"] = json.RawMessage(`{"temp":12}`)
	persisted.PreviousToolResults["search"] = json.RawMessage(`{"hits":3}`)
	persisted.GeneratedAssets[models.AssetImage] = "https://img.example/old.png"
	persisted.GeneratedAssets[models.AssetAudio] = "https://audio.example/old.mp3"

	merged := Merge(base, persisted)

	if string(merged.PreviousToolResults["weather"]) != `{"temp":30}` {
		t.Error("current request's result must win on conflict")
	}
	if string(merged.PreviousToolResults["search"]) != `{"hits":3}` {
		t.Error("persisted-only results must be filled in")
	}
	if merged.GeneratedAssets[models.AssetImage] != "https://img.example/new.png" {
		t.Error("current request's asset must win on conflict")
	}
	if merged.GeneratedAssets[models.AssetAudio] != "https://audio.example/old.mp3" {
		t.Error("persisted-only assets must be filled in")
	}
}

func TestManagerLoadDisabledMemory(t *testing.T) {
	store := NewMemoryStore()
	persisted := models.NewContextState("c")
	persisted.PreviousToolResults["weather"] = json.RawMessage(`{"temp":12}`)
	if err := store.Put(context.Background(), "c", persisted); err != nil {
		t.Fatal(err)
	}

	manager := NewManager(store, nil)
	base := models.NewContextState("c")
	state := manager.Load(context.Background(), "c", base, false)

	if state != base {
		t.Error("disabled memory must return base unchanged")
	}
	if len(state.PreviousToolResults) != 0 {
		t.Error("disabled memory must not merge persisted results")
	}
}

func TestManagerRoundTrip(t *testing.T) {
	manager := NewManager(NewMemoryStore(), nil)
	ctx := context.Background()

	state := models.NewContextState("c")
	state.RecordCall("paint", json.RawMessage(`{"subject":"cat"}`), &models.ToolResult{
		Content: "done",
		Payload: json.RawMessage(`{"image_url":"https://img.example/cat.png"}`),
	})
	state.RecordAsset(models.AssetImage, "https://img.example/cat.png")

	if err := manager.Save(ctx, "c", state, true); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded := manager.Load(ctx, "c", models.NewContextState("c"), true)
	if string(loaded.PreviousToolResults["paint"]) != `{"image_url":"https://img.example/cat.png"}` {
		t.Errorf("loaded results = %v", loaded.PreviousToolResults)
	}
	if loaded.GeneratedAssets[models.AssetImage] != "https://img.example/cat.png" {
		t.Errorf("loaded assets = %v", loaded.GeneratedAssets)
	}
	if len(loaded.ToolCalls) != 0 {
		t.Error("per-request audit trail must not leak across requests")
	}
}

func TestManagerLoadFailureDegradesToBase(t *testing.T) {
	manager := NewManager(failingBackend{}, nil)

	base := models.NewContextState("c")
	state := manager.Load(context.Background(), "c", base, true)
	if state != base {
		t.Error("load failure must degrade to the base state")
	}
}

func TestManagerSaveDisabledMemoryIsNoop(t *testing.T) {
	manager := NewManager(failingBackend{}, nil)
	if err := manager.Save(context.Background(), "c", models.NewContextState("c"), false); err != nil {
		t.Errorf("disabled-memory save must be a no-op, got %v", err)
	}
}

func TestManagerSerializesSavesPerChat(t *testing.T) {
	manager := NewManager(NewMemoryStore(), nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			state := models.NewContextState("c")
			state.RecordCall("t", nil, &models.ToolResult{Content: "x"})
			if err := manager.Save(ctx, "c", state, true); err != nil {
				t.Errorf("Save: %v", err)
			}
		}()
	}
	wg.Wait()

	loaded := manager.Load(ctx, "c", models.NewContextState("c"), true)
	if _, ok := loaded.PreviousToolResults["t"]; !ok {
		t.Error("expected a persisted result after concurrent saves")
	}
}

func TestMemoryStorePreferences(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	prefs, err := store.Preferences(ctx, "c")
	if err != nil || prefs != "" {
		t.Fatalf("empty preferences: %q, %v", prefs, err)
	}

	if err := store.SetPreferences(ctx, "c", "answer tersely"); err != nil {
		t.Fatal(err)
	}
	prefs, _ = store.Preferences(ctx, "c")
	if prefs != "answer tersely" {
		t.Errorf("Preferences = %q", prefs)
	}

	if err := store.SetPreferences(ctx, "c", ""); err != nil {
		t.Fatal(err)
	}
	prefs, _ = store.Preferences(ctx, "c")
	if prefs != "" {
		t.Error("empty content must clear preferences")
	}
}
