package offsets

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("built-in table invalid: %v", err)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "offsets.json")
	doc := `{
  "version": "0.9.1",
  "module_base": {"game_object_manager": "0x1D30000"},
  "unity_component": {"to_game_object": ["0x10", "0x38"]},
  "manager": {"game_mode": 524}
}`
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		t.Fatal(err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	want := Default()
	want.Version = "0.9.1"
	want.ModuleBase.GameObjectManager = 0x1D30000
	want.UnityComponent.ToGameObject = []uint64{0x10, 0x38}
	want.Manager.GameMode = 524
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Load mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "offsets.json")
	doc := `{"unity_class": {"name": ["0x0", "0x48"]}, "blorf_game_play": {"card_marking": "DK"}}`
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		t.Fatal(err)
	}
	_, err := Load(path)
	if !errors.Is(err, ErrInvalidTable) {
		t.Fatalf("err = %v, want ErrInvalidTable", err)
	}
}

func TestLoadBadHex(t *testing.T) {
	path := filepath.Join(t.TempDir(), "offsets.json")
	if err := os.WriteFile(path, []byte(`{"manager": {"players": "0xZZ"}}`), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for a malformed offset")
	}
}

func TestWatcherReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "offsets.json")
	if err := os.WriteFile(path, []byte(`{"version": "v1"}`), 0644); err != nil {
		t.Fatal(err)
	}
	first, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	holder := NewHolder(first)

	w, err := NewWatcher(path, holder)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	w.debounce = 10 * time.Millisecond
	reloaded := make(chan string, 4)
	w.OnReload(func(t *Table) { reloaded <- t.Version })
	w.Start()
	defer w.Stop()

	if err := os.WriteFile(path, []byte(`{"version": "v2"}`), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case v := <-reloaded:
		if v != "v2" {
			t.Errorf("reloaded version = %q, want v2", v)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload after write")
	}
	if got := holder.Current().Version; got != "v2" {
		t.Errorf("holder version = %q, want v2", got)
	}
	if first.Version != "v1" {
		t.Error("reload mutated a table already handed out")
	}

	if err := w.Stop(); err != nil {
		t.Errorf("Stop: %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}
}
