package manifest

import (
	"os"
	"path/filepath"
	"testing"
)

func TestManifestDigestsAreDeterministic(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.csv")
	b := filepath.Join(dir, "b.csv")
	if err := os.WriteFile(a, []byte("link_id,count\n1,2\n"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(b, []byte("link_id,count\n1,2\n"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	m := New("test")
	if err := m.AddInput(a); err != nil {
		t.Fatalf("AddInput: %v", err)
	}
	if err := m.AddInput(b); err != nil {
		t.Fatalf("AddInput: %v", err)
	}

	if m.Inputs[0].Digest != m.Inputs[1].Digest {
		t.Error("identical content must produce identical digests")
	}
	if m.Inputs[0].Bytes != 18 {
		t.Errorf("Bytes = %d, want 18", m.Inputs[0].Bytes)
	}
	if len(m.Inputs[0].Digest) != 64 {
		t.Errorf("digest length = %d, want 64 hex chars", len(m.Inputs[0].Digest))
	}
}

func TestManifestSaveLoad(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "in.csv")
	if err := os.WriteFile(input, []byte("data\n"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	m := New("flowdiag report")
	if err := m.AddInput(input); err != nil {
		t.Fatalf("AddInput: %v", err)
	}
	if m.RunID == "" {
		t.Fatal("RunID must be set")
	}

	path := filepath.Join(dir, "manifest.json")
	if err := m.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.RunID != m.RunID || got.Tool != m.Tool {
		t.Errorf("loaded %+v, want %+v", got, m)
	}
	if len(got.Inputs) != 1 || got.Inputs[0].Digest != m.Inputs[0].Digest {
		t.Errorf("inputs = %+v", got.Inputs)
	}

	// The temp file used for the atomic write must be gone.
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file left behind")
	}
}

func TestAddInputMissingFile(t *testing.T) {
	m := New("test")
	if err := m.AddInput(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Error("AddInput should fail for a missing file")
	}
}
