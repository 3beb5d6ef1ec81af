// Package manifest records the provenance of one diagnostic run: which
// inputs produced which outputs, with content digests so stale artifacts
// can be detected.
package manifest

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

// Artifact describes one file touched by a run.
type Artifact struct {
	Path   string `json:"path"`
	Bytes  int64  `json:"bytes"`
	Digest string `json:"digest"` // blake2b-256, hex
}

// Manifest is the provenance record of one run.
type Manifest struct {
	RunID     string     `json:"run_id"`
	Tool      string     `json:"tool"`
	CreatedAt time.Time  `json:"created_at"`
	Inputs    []Artifact `json:"inputs"`
	Outputs   []Artifact `json:"outputs"`
}

// New starts a manifest for the named tool invocation.
func New(tool string) *Manifest {
	return &Manifest{
		RunID:     uuid.NewString(),
		Tool:      tool,
		CreatedAt: time.Now().UTC(),
	}
}

// AddInput digests path and records it as a run input.
func (m *Manifest) AddInput(path string) error {
	a, err := describe(path)
	if err != nil {
		return err
	}
	m.Inputs = append(m.Inputs, a)
	return nil
}

// AddOutput digests path and records it as a run output.
func (m *Manifest) AddOutput(path string) error {
	a, err := describe(path)
	if err != nil {
		return err
	}
	m.Outputs = append(m.Outputs, a)
	return nil
}

func describe(path string) (Artifact, error) {
	f, err := os.Open(path)
	if err != nil {
		return Artifact{}, fmt.Errorf("manifest: %w", err)
	}
	defer f.Close()

	h, err := blake2b.New256(nil)
	if err != nil {
		return Artifact{}, fmt.Errorf("manifest: %w", err)
	}
	n, err := io.Copy(h, f)
	if err != nil {
		return Artifact{}, fmt.Errorf("manifest: %w", err)
	}

	return Artifact{
		Path:   path,
		Bytes:  n,
		Digest: hex.EncodeToString(h.Sum(nil)),
	}, nil
}

// Save writes the manifest as indented JSON. The write goes through a
// temp file and rename so a crash never leaves a truncated manifest.
func (m *Manifest) Save(path string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("manifest: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("manifest: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("manifest: %w", err)
	}
	return nil
}

// Load reads a manifest saved by Save.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("manifest: %w", err)
	}
	return &m, nil
}
